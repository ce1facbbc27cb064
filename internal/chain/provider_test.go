package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

var testERC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

func newChainRPCServer(t *testing.T, token *big.Int, native string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "eth_call":
			encoded, err := testERC20.Methods["balanceOf"].Outputs.Pack(token)
			if err != nil {
				t.Errorf("pack balance response: %v", err)
				return
			}
			writeRPCResult(w, req.ID, "0x"+hex.EncodeToString(encoded))
		case "eth_getBalance":
			writeRPCResult(w, req.ID, native)
		default:
			writeRPCError(w, req.ID, -32601, fmt.Sprintf("method not supported in test: %s", req.Method))
		}
	}))
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`, rawID(id), result)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q}}`, rawID(id), code, message)
}

func rawID(id json.RawMessage) string {
	if len(id) == 0 {
		return "1"
	}
	return string(id)
}

func TestRPCProviderReadsBalances(t *testing.T) {
	srv := newChainRPCServer(t, big.NewInt(1_500_000), "0xde0b6b3a7640000", nil)
	defer srv.Close()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	provider := NewRPCProvider(registry.RPCEndpoints{1: srv.URL}, 0, 0, logger)
	defer provider.Close()

	ethereum, err := id.ParseKnownChain("ethereum")
	require.NoError(t, err)
	reader, err := provider.Reader(context.Background(), ethereum)
	require.NoError(t, err)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	balance, err := ERC20Balance(context.Background(), reader, token, owner)
	require.NoError(t, err)
	assert.Equal(t, "1500000", balance.String())

	native, err := NativeBalance(context.Background(), reader, owner)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", native.String())

	again, err := provider.Reader(context.Background(), ethereum)
	require.NoError(t, err)
	assert.Same(t, reader, again)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "connected chain rpc", hook.LastEntry().Message)
}

func TestRPCProviderMissingEndpointIsInputError(t *testing.T) {
	provider := NewRPCProvider(registry.RPCEndpoints{}, 0, 0, nil)
	_, err := provider.Reader(context.Background(), id.Chain{Slug: "evm-999999", EVMChainID: 999999})
	require.Error(t, err)
	assert.Equal(t, clierr.KindInputValidation, clierr.KindOf(err))
}

func TestCallErrorsAreExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeRPCError(w, req.ID, -32000, "execution reverted")
	}))
	defer srv.Close()

	provider := NewRPCProvider(registry.RPCEndpoints{8453: srv.URL}, 0, 0, nil)
	defer provider.Close()
	base, err := id.ParseKnownChain("base")
	require.NoError(t, err)
	reader, err := provider.Reader(context.Background(), base)
	require.NoError(t, err)

	_, err = ERC20Allowance(context.Background(), reader, common.Address{1}, common.Address{2}, common.Address{3})
	require.Error(t, err)
	assert.Equal(t, clierr.KindExternalCall, clierr.KindOf(err))
	assert.Contains(t, err.Error(), "read allowance")
}

func TestLimitedReaderHonorsCancelledContext(t *testing.T) {
	var calls int32
	srv := newChainRPCServer(t, big.NewInt(1), "0x1", &calls)
	defer srv.Close()

	provider := NewRPCProvider(registry.RPCEndpoints{1: srv.URL}, 0.001, 1, nil)
	defer provider.Close()
	ethereum, err := id.ParseKnownChain("ethereum")
	require.NoError(t, err)
	reader, err := provider.Reader(context.Background(), ethereum)
	require.NoError(t, err)

	_, err = NativeBalance(context.Background(), reader, common.Address{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NativeBalance(ctx, reader, common.Address{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStaticProviderWithoutReader(t *testing.T) {
	_, err := StaticProvider{}.Reader(context.Background(), id.Chain{})
	require.Error(t, err)
}
