// Package actionbuilder maps protocol names to the planners the executor runs.
package actionbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/execution/planner"
)

type Catalog struct {
	protocols map[string]adapter.Protocol
}

// New indexes protocols by lowercase name. Registering the same name twice panics.
func New(protocols ...adapter.Protocol) *Catalog {
	c := &Catalog{protocols: make(map[string]adapter.Protocol, len(protocols))}
	for _, p := range protocols {
		name := normalize(p.Name())
		if _, dup := c.protocols[name]; dup {
			panic(fmt.Sprintf("actionbuilder: duplicate protocol %q", name))
		}
		c.protocols[name] = p
	}
	return c
}

// Default returns every built-in planner.
func Default() *Catalog {
	return New(
		planner.Aave{},
		planner.Vault{},
		planner.Gauge{},
		planner.LiquidStaking{},
		planner.UniswapV3{},
	)
}

func (c *Catalog) Lookup(name string) (adapter.Protocol, bool) {
	p, ok := c.protocols[normalize(name)]
	return p, ok
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.protocols))
	for name := range c.protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Protocols returns planners sorted by name.
func (c *Catalog) Protocols() []adapter.Protocol {
	names := c.Names()
	out := make([]adapter.Protocol, 0, len(names))
	for _, name := range names {
		out = append(out, c.protocols[name])
	}
	return out
}

// Restrict keeps only the named protocols. An empty allowlist keeps everything.
func (c *Catalog) Restrict(allowed []string) *Catalog {
	if len(allowed) == 0 {
		return c
	}
	keep := make([]adapter.Protocol, 0, len(allowed))
	seen := map[string]bool{}
	for _, name := range allowed {
		p, ok := c.Lookup(name)
		if !ok || seen[normalize(name)] {
			continue
		}
		seen[normalize(name)] = true
		keep = append(keep, p)
	}
	return New(keep...)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
