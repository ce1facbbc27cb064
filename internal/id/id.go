package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
)

var eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)

type Chain struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	CAIP2        string `json:"caip2"`
	EVMChainID   int64  `json:"chain_id"`
	NativeSymbol string `json:"native_symbol"`
}

// Known reports whether the chain came from the static chain table rather than
// being synthesized from a bare numeric id.
func (c Chain) Known() bool {
	_, ok := chainByID[c.EVMChainID]
	return ok && c.Slug != "" && !strings.HasPrefix(c.Slug, "evm-")
}

var chains = []Chain{
	{Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	{Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH"},
	{Name: "BSC", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56, NativeSymbol: "BNB"},
	{Name: "Gnosis", Slug: "gnosis", CAIP2: "eip155:100", EVMChainID: 100, NativeSymbol: "XDAI"},
	{Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, NativeSymbol: "POL"},
	{Name: "Sonic", Slug: "sonic", CAIP2: "eip155:146", EVMChainID: 146, NativeSymbol: "S"},
	{Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH"},
	{Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, NativeSymbol: "ETH"},
	{Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114, NativeSymbol: "AVAX"},
	{Name: "Linea", Slug: "linea", CAIP2: "eip155:59144", EVMChainID: 59144, NativeSymbol: "ETH"},
	{Name: "Berachain", Slug: "berachain", CAIP2: "eip155:80094", EVMChainID: 80094, NativeSymbol: "BERA"},
	{Name: "Taiko", Slug: "taiko", CAIP2: "eip155:167000", EVMChainID: 167000, NativeSymbol: "ETH"},
}

var chainAliases = map[string]string{
	"mainnet":       "ethereum",
	"eth":           "ethereum",
	"arb":           "arbitrum",
	"op":            "optimism",
	"matic":         "polygon",
	"avax":          "avalanche",
	"bnb":           "bsc",
	"xdai":          "gnosis",
	"sonic-mainnet": "sonic",
}

var chainBySlug = func() map[string]Chain {
	out := make(map[string]Chain, len(chains)+len(chainAliases))
	for _, c := range chains {
		out[c.Slug] = c
	}
	for alias, slug := range chainAliases {
		out[alias] = out[slug]
	}
	return out
}()

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chains))
	for _, c := range chains {
		out[c.EVMChainID] = c
	}
	return out
}()

// ParseChain accepts a slug, alias, CAIP-2 id or numeric chain id. Unknown numeric
// ids are returned as synthetic evm-<n> chains.
func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		parts := strings.Split(norm, ":")
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		return chainForID(id), nil
	}

	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		return chainForID(id), nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ParseKnownChain is ParseChain restricted to the static chain table.
func ParseKnownChain(input string) (Chain, error) {
	chain, err := ParseChain(input)
	if err != nil {
		return Chain{}, err
	}
	if !chain.Known() {
		return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown chain: %s", strings.TrimSpace(input)))
	}
	return chain, nil
}

// KnownChains returns the static chain table ordered by chain id.
func KnownChains() []Chain {
	out := make([]Chain, len(chains))
	copy(out, chains)
	sort.Slice(out, func(i, j int) bool { return out[i].EVMChainID < out[j].EVMChainID })
	return out
}

func chainForID(id int64) Chain {
	if known, ok := chainByID[id]; ok {
		return known
	}
	return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: fmt.Sprintf("eip155:%d", id), EVMChainID: id}
}
