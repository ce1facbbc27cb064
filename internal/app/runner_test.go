package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount = "0x00000000000000000000000000000000000000aa"
	gaugeAddr   = "0x1111111111111111111111111111111111111111"
	lpToken     = "0x2222222222222222222222222222222222222222"
)

const gaugeOverlay = `
protocols:
  - name: gauge
    resources:
      - chain: sonic
        name: wS-USDC.e
        kind: gauge
        address: "` + gaugeAddr + `"
        token: "` + lpToken + `"
        symbol: wS-USDC.e-LP
        decimals: 18
`

// isolate points config, cache and registry lookups at a temp dir so tests never
// see the developer's own files.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	overlay := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(overlay, []byte(gaugeOverlay), 0o600))
	t.Setenv("ADAPTERS_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("ADAPTERS_REGISTRY", overlay)
	t.Setenv("ADAPTERS_PROTOCOLS", "")
	// Failed actions are logged at warn; keep stderr to the envelope alone.
	t.Setenv("ADAPTERS_LOG_LEVEL", "error")
	return dir
}

func selector(signature string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(signature))[:4])
	return out
}

type stubReader struct {
	mu     sync.Mutex
	values map[[4]byte]*big.Int
}

func (r *stubReader) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sel [4]byte
	copy(sel[:], msg.Data[:4])
	v, ok := r.values[sel]
	if !ok {
		return nil, errors.New("unexpected call")
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

func (r *stubReader) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

type recordingSubmitter struct {
	requests []execution.SubmitRequest
}

func (s *recordingSubmitter) Submit(_ context.Context, req execution.SubmitRequest) (execution.SubmissionResult, error) {
	s.requests = append(s.requests, req)
	result := execution.SubmissionResult{}
	for _, step := range req.Action.Steps {
		result.Steps = append(result.Steps, execution.StepResult{
			StepID: step.StepID,
			Ok:     &execution.StepOK{Message: "tx 0xabc confirmed", Hash: "0xabc"},
		})
	}
	return result, nil
}

func newTestRunner(balance, allowance *big.Int) (*Runner, *bytes.Buffer, *bytes.Buffer, *recordingSubmitter) {
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	r.chains = chain.StaticProvider{R: &stubReader{values: map[[4]byte]*big.Int{
		selector("balanceOf(address)"):         balance,
		selector("allowance(address,address)"): allowance,
	}}}
	sub := &recordingSubmitter{}
	r.submitter = sub
	return r, &stdout, &stderr, sub
}

func decodeEnvelope(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env), "output=%s", string(raw))
	return env
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("adapters gauge stake"); got != "gauge stake" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("Aave, gauge ,")
	if len(items) != 2 || items[0] != "aave" || items[1] != "gauge" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestNormalizeRunError(t *testing.T) {
	assert.Nil(t, normalizeRunError(nil))
	assert.Equal(t, "usage_error", errorType(normalizeRunError(errors.New(`unknown flag: --nope`))))
	assert.Equal(t, "internal_error", errorType(normalizeRunError(errors.New("disk on fire"))))
}

func TestRunnerProtocolsList(t *testing.T) {
	isolate(t)
	r, stdout, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"protocols", "list", "--results-only"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var items []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item["name"].(string))
	}
	assert.ElementsMatch(t, []string{"aave", "erc4626", "gauge", "liquid-staking", "uniswap-v3"}, names)
}

func TestRunnerProtocolsListHonorsProtocolAllowlist(t *testing.T) {
	isolate(t)
	r, stdout, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"protocols", "list", "--results-only", "--enable-protocols", "gauge"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var items []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "gauge", items[0]["name"])
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	r, _, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"chains", "list", "--enable-commands", "actions list", "--results-only"})
	require.Equal(t, 16, code, "stderr=%s", stderr.String())

	env := decodeEnvelope(t, stderr.Bytes())
	assert.Equal(t, false, env["success"])
	errBody := env["error"].(map[string]any)
	assert.Equal(t, "command_blocked", errBody["type"])
	assert.Equal(t, "input_validation", errBody["kind"])
}

func TestRunnerVerbStakesThroughSubmitter(t *testing.T) {
	isolate(t)
	ten := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	r, stdout, stderr, sub := newTestRunner(ten, big.NewInt(0))
	code := r.Run([]string{
		"gauge", "stake",
		"--chain", "sonic",
		"--account", testAccount,
		"--resource", "wS-USDC.e",
		"--amount", "1.5",
		"--results-only",
	})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
	require.Len(t, sub.requests, 1)
	steps := sub.requests[0].Action.Steps
	require.Len(t, steps, 2)
	assert.Equal(t, execution.StepTypeApproval, steps[0].Type)
	assert.True(t, strings.EqualFold(lpToken, steps[0].Target))
	assert.True(t, strings.EqualFold(gaugeAddr, steps[1].Target))

	var outcome map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &outcome))
	assert.Equal(t, true, outcome["ok"])
	assert.Equal(t, "Successfully staked 1.5 wS-USDC.e-LP on Sonic. tx 0xabc confirmed", outcome["message"])
	assert.Contains(t, stderr.String(), "Submitting 2 transaction(s) to gauge stake 1.5 wS-USDC.e-LP on Sonic")
	assert.Equal(t, "Approve 1.5 wS-USDC.e-LP for gauge", steps[0].Description)
}

func TestRunnerVerbPlainOutputIsTheMessage(t *testing.T) {
	isolate(t)
	ten := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	r, stdout, stderr, _ := newTestRunner(ten, ten)
	code := r.Run([]string{
		"gauge", "stake", "--plain",
		"--chain", "sonic",
		"--account", testAccount,
		"--resource", "wS-USDC.e",
		"--amount", "2",
	})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
	assert.Equal(t, "Successfully staked 2 wS-USDC.e-LP on Sonic. tx 0xabc confirmed\n", stdout.String())
}

func TestRunnerVerbInsufficientBalance(t *testing.T) {
	isolate(t)
	r, stdout, stderr, sub := newTestRunner(big.NewInt(1), big.NewInt(0))
	code := r.Run([]string{
		"gauge", "stake",
		"--chain", "sonic",
		"--account", testAccount,
		"--resource", "wS-USDC.e",
		"--amount", "1",
	})
	require.Equal(t, 17, code, "stderr=%s", stderr.String())
	assert.Empty(t, stdout.String())
	assert.Empty(t, sub.requests)

	errBody := decodeEnvelope(t, stderr.Bytes())["error"].(map[string]any)
	assert.Equal(t, "insufficient_resource", errBody["kind"])
	msg, _ := errBody["message"].(string)
	assert.Contains(t, msg, "insufficient balance")
	assert.Contains(t, msg, "requested 1 wS-USDC.e-LP")
	assert.Contains(t, msg, "available 0.000000000000000001 wS-USDC.e-LP")
}

func TestRunnerVerbRejectsInvalidInput(t *testing.T) {
	cases := map[string][]string{
		"bad amount":     {"--chain", "sonic", "--account", testAccount, "--resource", "wS-USDC.e", "--amount", "1.2.3"},
		"unknown chain":  {"--chain", "atlantis", "--account", testAccount, "--resource", "wS-USDC.e", "--amount", "1"},
		"wrong chain":    {"--chain", "ethereum", "--account", testAccount, "--resource", "wS-USDC.e", "--amount", "1"},
		"bad account":    {"--chain", "sonic", "--account", "0x1234", "--resource", "wS-USDC.e", "--amount", "1"},
		"no resource":    {"--chain", "sonic", "--account", testAccount, "--resource", "nope", "--amount", "1"},
		"missing amount": {"--chain", "sonic", "--account", testAccount, "--resource", "wS-USDC.e"},
	}
	for name, flags := range cases {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			r, _, stderr, sub := newTestRunner(big.NewInt(0), big.NewInt(0))
			code := r.Run(append([]string{"gauge", "stake"}, flags...))
			assert.Equal(t, 2, code, "stderr=%s", stderr.String())
			assert.Empty(t, sub.requests)
			errBody := decodeEnvelope(t, stderr.Bytes())["error"].(map[string]any)
			assert.Equal(t, "input_validation", errBody["kind"])
		})
	}
}

func TestRunnerVerbBlockedByProtocolAllowlist(t *testing.T) {
	isolate(t)
	r, _, stderr, sub := newTestRunner(big.NewInt(0), big.NewInt(0))
	code := r.Run([]string{
		"gauge", "stake", "--enable-protocols", "aave",
		"--chain", "sonic", "--account", testAccount, "--resource", "wS-USDC.e", "--amount", "1",
	})
	assert.Equal(t, 16, code, "stderr=%s", stderr.String())
	assert.Empty(t, sub.requests)
}

func TestRunnerSwapRejectsBadDeadline(t *testing.T) {
	isolate(t)
	r, _, stderr, _ := newTestRunner(big.NewInt(0), big.NewInt(0))
	code := r.Run([]string{
		"uniswap-v3", "swap",
		"--chain", "ethereum", "--account", testAccount, "--resource", "USDC-WETH", "--amount", "1",
		"--deadline", "tomorrow",
	})
	assert.Equal(t, 2, code, "stderr=%s", stderr.String())
}

func TestRunnerSwapFlagsOnlyOnSwapVerbs(t *testing.T) {
	isolate(t)
	r, _, stderr, sub := newTestRunner(big.NewInt(0), big.NewInt(0))
	code := r.Run([]string{
		"aave", "supply",
		"--chain", "ethereum", "--account", testAccount, "--resource", "USDC", "--amount", "1",
		"--slippage-bps", "100",
	})
	assert.Equal(t, 2, code, "stderr=%s", stderr.String())
	assert.Contains(t, stderr.String(), "unknown flag")
	assert.Empty(t, sub.requests)
}

func TestRunnerResourcesList(t *testing.T) {
	isolate(t)
	r, stdout, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"resources", "list", "--protocol", "gauge", "--chain", "sonic", "--results-only"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var items []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "wS-USDC.e", items[0]["name"])

	r, _, stderr, _ = newTestRunner(nil, nil)
	code = r.Run([]string{"resources", "list", "--protocol", "gauge", "--chain", "ethereum"})
	assert.Equal(t, 13, code, "stderr=%s", stderr.String())
}

func TestRunnerChainsList(t *testing.T) {
	isolate(t)
	r, stdout, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"chains", "list", "--results-only"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var items []id.Chain
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
	assert.Len(t, items, len(id.KnownChains()))
}

func TestRunnerSchemaIncludesVerbCommands(t *testing.T) {
	isolate(t)
	r, stdout, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"schema", "aave", "borrow", "--results-only"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var s map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &s))
	assert.Equal(t, "adapters aave borrow", s["path"])
	required := map[string]bool{}
	for _, raw := range s["flags"].([]any) {
		flag := raw.(map[string]any)
		if flag["required"] == true {
			required[flag["name"].(string)] = true
		}
	}
	assert.Equal(t, map[string]bool{"chain": true, "resource": true, "amount": true}, required)
}

func TestRunnerSchemaTools(t *testing.T) {
	isolate(t)
	r, stdout, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"schema", "--tools", "--results-only", "--enable-protocols", "gauge,aave"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var tools []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &tools))
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool["name"].(string))
	}
	assert.ElementsMatch(t, []string{
		"aave_supply", "aave_withdraw", "aave_borrow", "aave_repay",
		"gauge_stake", "gauge_unstake",
	}, names)
}

func TestRunnerActionsListAndStatus(t *testing.T) {
	dir := isolate(t)
	dataDir := filepath.Join(dir, "cache", "adapters")
	store, err := execution.OpenStore(filepath.Join(dataDir, "actions.db"), filepath.Join(dataDir, "actions.lock"))
	require.NoError(t, err)
	action := execution.NewAction("act_test1", "gauge_stake", "eip155:146", execution.Constraints{Simulate: true})
	action.Protocol = "gauge"
	action.Status = execution.ActionStatusCompleted
	require.NoError(t, store.Save(action))
	require.NoError(t, store.Close())

	r, stdout, stderr, _ := newTestRunner(nil, nil)
	code := r.Run([]string{"actions", "list", "--status", "completed", "--results-only"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
	var items []execution.Action
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "act_test1", items[0].ActionID)

	r, stdout, stderr, _ = newTestRunner(nil, nil)
	code = r.Run([]string{"actions", "status", "--action-id", "act_test1", "--select", "status,protocol", "--results-only"})
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
	var selected map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &selected))
	assert.Equal(t, map[string]any{"status": "completed", "protocol": "gauge"}, selected)

	r, _, stderr, _ = newTestRunner(nil, nil)
	code = r.Run([]string{"actions", "status", "--action-id", "act_missing"})
	assert.Equal(t, 2, code, "stderr=%s", stderr.String())
}

func TestRunnerVersion(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run([]string{"version", "--long"})
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "adapters "))
}
