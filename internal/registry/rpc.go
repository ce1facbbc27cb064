package registry

import (
	"fmt"
	"strings"
)

var defaultRPCByChainID = map[int64]string{
	1:      "https://eth.llamarpc.com",
	10:     "https://mainnet.optimism.io",
	56:     "https://bsc-dataseed.binance.org",
	100:    "https://rpc.gnosischain.com",
	137:    "https://polygon-rpc.com",
	146:    "https://rpc.soniclabs.com",
	8453:   "https://mainnet.base.org",
	42161:  "https://arb1.arbitrum.io/rpc",
	43114:  "https://api.avax.network/ext/bc/C/rpc",
	59144:  "https://rpc.linea.build",
	80094:  "https://rpc.berachain.com",
	167000: "https://rpc.mainnet.taiko.xyz",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// RPCEndpoints holds per-chain RPC overrides keyed by EVM chain id.
type RPCEndpoints map[int64]string

// Resolve prefers an override and falls back to the public default for the chain.
func (e RPCEndpoints) Resolve(chainID int64) (string, error) {
	return ResolveRPCURL(e[chainID], chainID)
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; set rpc.%d in config or --rpc-url", chainID, chainID)
}
