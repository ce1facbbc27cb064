package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Resource is one protocol-specific target on one chain: a lending market, a vault,
// a gauge, a staking pool or a swap pair.
type Resource struct {
	Protocol string            `yaml:"-" json:"protocol"`
	Chain    string            `yaml:"chain" json:"chain"`
	Name     string            `yaml:"name" json:"name"`
	Kind     string            `yaml:"kind" json:"kind"`
	Address  string            `yaml:"address" json:"address"`
	Token    string            `yaml:"token,omitempty" json:"token,omitempty"`
	Symbol   string            `yaml:"symbol" json:"symbol"`
	Decimals int               `yaml:"decimals" json:"decimals"`
	Aux      map[string]string `yaml:"aux,omitempty" json:"aux,omitempty"`
}

// Target is the contract the primary action calls.
func (r Resource) Target() common.Address {
	return common.HexToAddress(r.Address)
}

// TokenAddress is the token spent or accounted by the action. Native resources return false.
func (r Resource) TokenAddress() (common.Address, bool) {
	if strings.TrimSpace(r.Token) == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(r.Token), true
}

func (r Resource) AuxAddress(key string) (common.Address, bool) {
	v := strings.TrimSpace(r.Aux[key])
	if v == "" || !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func (r Resource) AuxInt(key string) (int64, bool) {
	v := strings.TrimSpace(r.Aux[key])
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type Protocol struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Chains      []string   `yaml:"chains" json:"chains"`
	Resources   []Resource `yaml:"resources,omitempty" json:"-"`
}

type catalogFile struct {
	Protocols []Protocol `yaml:"protocols"`
}

type protocolEntry struct {
	info      Protocol
	chains    map[int64]id.Chain
	resources map[int64][]Resource
}

// Registry is the immutable protocol catalog. Lookups never guess: an unknown
// protocol, chain or resource is reported as not found.
type Registry struct {
	protocols map[string]*protocolEntry
	order     []string
}

// Default returns the embedded catalog.
func Default() (*Registry, error) {
	return Parse(defaultCatalog)
}

// Load returns the embedded catalog merged with an optional overlay file. Overlay
// resources replace embedded ones with the same protocol, chain and name.
func Load(overlayPath string) (*Registry, error) {
	base, err := parseCatalog(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}
	if strings.TrimSpace(overlayPath) != "" {
		buf, err := os.ReadFile(overlayPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("registry overlay not found: %s", overlayPath)
			}
			return nil, fmt.Errorf("read registry overlay: %w", err)
		}
		overlay, err := parseCatalog(buf)
		if err != nil {
			return nil, fmt.Errorf("parse registry overlay: %w", err)
		}
		base = mergeCatalogs(base, overlay)
	}
	return build(base)
}

// Parse builds a registry from catalog YAML.
func Parse(buf []byte) (*Registry, error) {
	cat, err := parseCatalog(buf)
	if err != nil {
		return nil, err
	}
	return build(cat)
}

func parseCatalog(buf []byte) (catalogFile, error) {
	var cat catalogFile
	if err := yaml.Unmarshal(buf, &cat); err != nil {
		return catalogFile{}, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return cat, nil
}

func mergeCatalogs(base, overlay catalogFile) catalogFile {
	index := make(map[string]int, len(base.Protocols))
	for i, p := range base.Protocols {
		index[normalizeKey(p.Name)] = i
	}
	for _, p := range overlay.Protocols {
		i, ok := index[normalizeKey(p.Name)]
		if !ok {
			index[normalizeKey(p.Name)] = len(base.Protocols)
			base.Protocols = append(base.Protocols, p)
			continue
		}
		merged := base.Protocols[i]
		if strings.TrimSpace(p.Description) != "" {
			merged.Description = p.Description
		}
		merged.Chains = append(append([]string{}, merged.Chains...), p.Chains...)
		resources := make([]Resource, 0, len(merged.Resources)+len(p.Resources))
		for _, existing := range merged.Resources {
			if !containsResource(p.Resources, existing) {
				resources = append(resources, existing)
			}
		}
		merged.Resources = append(resources, p.Resources...)
		base.Protocols[i] = merged
	}
	return base
}

func containsResource(items []Resource, target Resource) bool {
	for _, item := range items {
		if normalizeKey(item.Chain) == normalizeKey(target.Chain) && normalizeKey(item.Name) == normalizeKey(target.Name) {
			return true
		}
	}
	return false
}

func build(cat catalogFile) (*Registry, error) {
	reg := &Registry{protocols: make(map[string]*protocolEntry, len(cat.Protocols))}
	for _, p := range cat.Protocols {
		name := normalizeKey(p.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog protocol is missing a name")
		}
		if _, dup := reg.protocols[name]; dup {
			return nil, fmt.Errorf("duplicate catalog protocol %q", p.Name)
		}
		entry := &protocolEntry{
			info:      Protocol{Name: name, Description: strings.TrimSpace(p.Description)},
			chains:    map[int64]id.Chain{},
			resources: map[int64][]Resource{},
		}
		for _, raw := range p.Chains {
			chain, err := id.ParseKnownChain(raw)
			if err != nil {
				return nil, fmt.Errorf("protocol %s: %w", name, err)
			}
			if _, dup := entry.chains[chain.EVMChainID]; dup {
				continue
			}
			entry.chains[chain.EVMChainID] = chain
			entry.info.Chains = append(entry.info.Chains, chain.Slug)
		}
		for _, res := range p.Resources {
			normalized, chain, err := validateResource(name, res)
			if err != nil {
				return nil, err
			}
			if _, ok := entry.chains[chain.EVMChainID]; !ok {
				return nil, fmt.Errorf("protocol %s: resource %s is on %s which is not in the protocol chain set", name, res.Name, chain.Slug)
			}
			for _, existing := range entry.resources[chain.EVMChainID] {
				if strings.EqualFold(existing.Name, normalized.Name) {
					return nil, fmt.Errorf("protocol %s: duplicate resource %s on %s", name, res.Name, chain.Slug)
				}
			}
			entry.resources[chain.EVMChainID] = append(entry.resources[chain.EVMChainID], normalized)
		}
		reg.protocols[name] = entry
		reg.order = append(reg.order, name)
	}
	sort.Strings(reg.order)
	return reg, nil
}

func validateResource(protocol string, res Resource) (Resource, id.Chain, error) {
	chain, err := id.ParseKnownChain(res.Chain)
	if err != nil {
		return Resource{}, id.Chain{}, fmt.Errorf("protocol %s resource %s: %w", protocol, res.Name, err)
	}
	if strings.TrimSpace(res.Name) == "" {
		return Resource{}, id.Chain{}, fmt.Errorf("protocol %s: resource on %s is missing a name", protocol, chain.Slug)
	}
	if !common.IsHexAddress(res.Address) {
		return Resource{}, id.Chain{}, fmt.Errorf("protocol %s resource %s: invalid address %q", protocol, res.Name, res.Address)
	}
	if strings.TrimSpace(res.Token) != "" && !common.IsHexAddress(res.Token) {
		return Resource{}, id.Chain{}, fmt.Errorf("protocol %s resource %s: invalid token address %q", protocol, res.Name, res.Token)
	}
	if res.Decimals < 0 || res.Decimals > id.MaxDecimals {
		return Resource{}, id.Chain{}, fmt.Errorf("protocol %s resource %s: decimals out of range: %d", protocol, res.Name, res.Decimals)
	}
	for key, value := range res.Aux {
		if strings.HasPrefix(strings.TrimSpace(value), "0x") && !common.IsHexAddress(value) {
			return Resource{}, id.Chain{}, fmt.Errorf("protocol %s resource %s: invalid aux address %s=%q", protocol, res.Name, key, value)
		}
	}
	out := res
	out.Protocol = protocol
	out.Chain = chain.Slug
	out.Name = strings.TrimSpace(res.Name)
	out.Kind = strings.ToLower(strings.TrimSpace(res.Kind))
	out.Address = common.HexToAddress(res.Address).Hex()
	if strings.TrimSpace(res.Token) != "" {
		out.Token = common.HexToAddress(res.Token).Hex()
	}
	return out, chain, nil
}

// SupportsChain reports whether protocol is deployed on chain.
func (r *Registry) SupportsChain(protocol string, chain id.Chain) bool {
	entry, ok := r.protocols[normalizeKey(protocol)]
	if !ok {
		return false
	}
	_, ok = entry.chains[chain.EVMChainID]
	return ok
}

// Resource resolves a resource by name, symbol or contract address. Symbol and
// address lookups must match exactly one resource on the chain.
func (r *Registry) Resource(protocol string, chain id.Chain, name string) (Resource, bool) {
	entry, ok := r.protocols[normalizeKey(protocol)]
	if !ok {
		return Resource{}, false
	}
	key := strings.TrimSpace(name)
	if key == "" {
		return Resource{}, false
	}
	candidates := entry.resources[chain.EVMChainID]
	for _, res := range candidates {
		if strings.EqualFold(res.Name, key) {
			return res, true
		}
	}
	if common.IsHexAddress(key) {
		return uniqueResource(candidates, func(res Resource) bool {
			return strings.EqualFold(res.Address, key) || strings.EqualFold(res.Token, key)
		})
	}
	return uniqueResource(candidates, func(res Resource) bool {
		return strings.EqualFold(res.Symbol, key)
	})
}

// uniqueResource returns the single candidate matching pred. Ambiguous matches
// resolve to nothing; several Aave markets share one pool address.
func uniqueResource(candidates []Resource, pred func(Resource) bool) (Resource, bool) {
	var match Resource
	found := 0
	for _, res := range candidates {
		if pred(res) {
			match = res
			found++
		}
	}
	return match, found == 1
}

func (r *Registry) Protocol(name string) (Protocol, bool) {
	entry, ok := r.protocols[normalizeKey(name)]
	if !ok {
		return Protocol{}, false
	}
	return entry.info, true
}

// Protocols returns catalog protocols sorted by name.
func (r *Registry) Protocols() []Protocol {
	out := make([]Protocol, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.protocols[name].info)
	}
	return out
}

// Resources lists resources of protocol, optionally filtered to one chain.
func (r *Registry) Resources(protocol string, chain *id.Chain) []Resource {
	entry, ok := r.protocols[normalizeKey(protocol)]
	if !ok {
		return nil
	}
	out := []Resource{}
	if chain != nil {
		return append(out, entry.resources[chain.EVMChainID]...)
	}
	ids := make([]int64, 0, len(entry.resources))
	for chainID := range entry.resources {
		ids = append(ids, chainID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, chainID := range ids {
		out = append(out, entry.resources[chainID]...)
	}
	return out
}

func normalizeKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
