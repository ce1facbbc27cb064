package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
)

// ToolSchema describes one protocol verb as a function an agent host can call.
// Parameters is a JSON Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

type ToolProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
}

const (
	addressPattern = `^0x[0-9a-fA-F]{40}$`
	amountPattern  = `^[0-9]+(\.[0-9]+)?$`
)

// Tools returns one schema per protocol verb, named "<protocol>_<verb>". Chain and
// resource enums come from the registry so a tool never advertises something the
// executor would reject.
func Tools(protocols []adapter.Protocol, reg *registry.Registry) []ToolSchema {
	var out []ToolSchema
	for _, p := range protocols {
		info, ok := reg.Protocol(p.Name())
		if !ok {
			continue
		}
		resources := resourceNames(reg.Resources(p.Name(), nil))
		for _, verb := range p.Verbs() {
			props := map[string]ToolProperty{
				"chain": {
					Type:        "string",
					Description: "Chain to act on",
					Enum:        append([]string(nil), info.Chains...),
				},
				"account": {
					Type:        "string",
					Description: "Address of the acting account",
					Pattern:     addressPattern,
				},
				"resource": {
					Type:        "string",
					Description: fmt.Sprintf("Registry %s name", strings.ReplaceAll(verb.ResourceKind, "_", " ")),
					Enum:        resources,
				},
				"amount": {
					Type:        "string",
					Description: "Human-readable decimal amount, e.g. \"1.5\"",
					Pattern:     amountPattern,
				},
				"recipient": {
					Type:        "string",
					Description: "Optional receiving address; defaults to the account",
					Pattern:     addressPattern,
				},
			}
			if verb.Swap {
				props["slippage_bps"] = ToolProperty{Type: "integer", Description: "Maximum slippage in basis points (default 50)"}
				props["deadline"] = ToolProperty{Type: "string", Description: "Optional RFC 3339 deadline for the swap"}
			}
			out = append(out, ToolSchema{
				Name:        strings.ReplaceAll(p.Name(), "-", "_") + "_" + verb.Name,
				Description: fmt.Sprintf("%s: %s", p.Description(), verb.Description),
				Parameters: ToolParameters{
					Type:       "object",
					Properties: props,
					Required:   []string{"chain", "account", "resource", "amount"},
				},
			})
		}
	}
	return out
}

func resourceNames(resources []registry.Resource) []string {
	seen := map[string]bool{}
	names := make([]string, 0, len(resources))
	for _, r := range resources {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		names = append(names, r.Name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}
	return names
}
