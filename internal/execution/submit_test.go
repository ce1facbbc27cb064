package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/execution/signer"
	"github.com/ggonzalez94/defi-adapters/internal/httpx"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const submitTestKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type jsonRPCRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func newSubmitRPCServer(t *testing.T, handle func(method string) (result string, rpcErr string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := string(req.ID)
		if id == "" {
			id = "1"
		}
		w.Header().Set("Content-Type", "application/json")
		result, rpcErr := handle(req.Method)
		if rpcErr != "" {
			_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":%s}`, id, rpcErr)
			return
		}
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`, id, result)
	}))
}

func testSubmitAction() *Action {
	action := NewAction("act_submit", "deposit", "eip155:1", Constraints{Simulate: true})
	action.InputAmount = "100"
	action.Steps = []ActionStep{
		{StepID: "deposit", Type: StepTypeDeposit, Status: StepStatusPending, ChainID: "eip155:1", Target: "0x00000000000000000000000000000000000000cd", Data: "0x01", Value: "0"},
	}
	return &action
}

func mustSigner(t *testing.T) *signer.LocalSigner {
	t.Helper()
	s, err := signer.NewLocalSigner(signer.KeyConfig{PrivateKeyHex: submitTestKey})
	require.NoError(t, err)
	return s
}

func TestLocalSubmitterRejectsSignerMismatch(t *testing.T) {
	sub := &LocalSubmitter{Signer: mustSigner(t)}
	_, err := sub.Submit(context.Background(), SubmitRequest{
		Chain:   id.Chain{EVMChainID: 1},
		Account: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Action:  testSubmitAction(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match account")
}

func TestLocalSubmitterTransportFailureIsError(t *testing.T) {
	srv := newSubmitRPCServer(t, func(method string) (string, string) {
		return "", `{"code":-32603,"message":"upstream unavailable"}`
	})
	defer srv.Close()

	s := mustSigner(t)
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "actions.db"), filepath.Join(dir, "actions.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger, _ := logtest.NewNullLogger()
	sub := &LocalSubmitter{Signer: s, Store: store, RPC: registry.RPCEndpoints{1: srv.URL}, Options: DefaultExecuteOptions(), Logger: logger}
	action := testSubmitAction()
	result, err := sub.Submit(context.Background(), SubmitRequest{Chain: id.Chain{EVMChainID: 1}, Account: s.Address(), Action: action})
	require.Error(t, err)
	assert.Equal(t, clierr.KindExternalCall, clierr.KindOf(err))
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Failed())

	saved, err := store.Get(action.ActionID)
	require.NoError(t, err)
	assert.Equal(t, ActionStatusFailed, saved.Status)
	assert.Equal(t, srv.URL, saved.Steps[0].RPCURL)
}

func TestLocalSubmitterSimulationRevertIsDeclinedStep(t *testing.T) {
	revert := "0x" + common.Bytes2Hex(revertWith(t, "vault paused"))
	srv := newSubmitRPCServer(t, func(method string) (string, string) {
		switch method {
		case "eth_chainId":
			return "0x1", ""
		case "eth_call":
			return "", fmt.Sprintf(`{"code":3,"message":"execution reverted","data":%q}`, revert)
		default:
			return "", `{"code":-32601,"message":"unexpected method"}`
		}
	})
	defer srv.Close()

	s := mustSigner(t)
	sub := &LocalSubmitter{Signer: s, RPC: registry.RPCEndpoints{1: srv.URL}, Options: DefaultExecuteOptions()}
	result, err := sub.Submit(context.Background(), SubmitRequest{Chain: id.Chain{EVMChainID: 1}, Account: s.Address(), Action: testSubmitAction()})
	require.NoError(t, err)
	last, ok := result.Last()
	require.True(t, ok)
	require.NotNil(t, last.Err)
	assert.Contains(t, last.Err.Reason, "vault paused")
	assert.False(t, result.IsMultisig)
}

func TestMultisigSubmitterProposesBatch(t *testing.T) {
	safe := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	var got proposalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/proposals", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"proposal_id":"prop-1","safe_tx_hash":"0xfeed","url":"https://safe.example/tx/0xfeed"}`))
	}))
	defer srv.Close()

	action := testSubmitAction()
	action.Steps = append([]ActionStep{{StepID: "approve", Type: StepTypeApproval, Target: "0x00000000000000000000000000000000000000ee", Data: "0x095ea7b3", Value: "0"}}, action.Steps...)
	sub := &MultisigSubmitter{ServiceURL: srv.URL + "/", APIKey: "secret", Client: httpx.New(time.Second, 0)}
	result, err := sub.Submit(context.Background(), SubmitRequest{Chain: id.Chain{Name: "Ethereum", EVMChainID: 1}, Account: safe, Action: action})
	require.NoError(t, err)

	assert.True(t, result.IsMultisig)
	require.Len(t, got.Transactions, 2)
	assert.Equal(t, "0x00000000000000000000000000000000000000ee", got.Transactions[0].To)
	assert.Equal(t, int64(1), got.ChainID)
	last, ok := result.Last()
	require.True(t, ok)
	assert.Contains(t, last.Message(), "0xfeed")
	assert.Equal(t, ActionStatusProposed, action.Status)
	assert.Equal(t, "prop-1", action.Metadata["proposal_id"])
}

func TestMultisigSubmitterServiceRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"proposer is not an owner"}`))
	}))
	defer srv.Close()

	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sub := &MultisigSubmitter{ServiceURL: srv.URL, Client: httpx.New(time.Second, 0)}
	result, err := sub.Submit(context.Background(), SubmitRequest{Chain: id.Chain{EVMChainID: 1}, Account: account, Action: testSubmitAction()})
	require.NoError(t, err)
	last, ok := result.Last()
	require.True(t, ok)
	require.True(t, last.Failed())
	assert.Contains(t, last.Err.Reason, "proposer is not an owner")
}

func TestMultisigSubmitterRejectsForeignSafe(t *testing.T) {
	sub := &MultisigSubmitter{ServiceURL: "http://127.0.0.1:1", Safe: common.HexToAddress("0x01"), Client: httpx.New(time.Second, 0)}
	_, err := sub.Submit(context.Background(), SubmitRequest{Account: common.HexToAddress("0x02"), Action: testSubmitAction()})
	require.Error(t, err)
	assert.Equal(t, clierr.KindInputValidation, clierr.KindOf(err))
}
