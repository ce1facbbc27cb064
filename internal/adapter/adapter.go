// Package adapter runs one protocol action end to end: it validates the request,
// observes on-chain state, guards the amount, builds the approval and action steps,
// submits them and reports a tagged result.
package adapter

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
)

// Request describes one user intent, e.g. "stake 10 of the wS-USDC.e gauge on sonic".
type Request struct {
	Protocol    string    `json:"protocol"`
	Verb        string    `json:"verb"`
	Chain       string    `json:"chain"`
	Account     string    `json:"account"`
	Resource    string    `json:"resource"`
	Amount      string    `json:"amount"`
	Recipient   string    `json:"recipient,omitempty"`
	SlippageBps int64     `json:"slippage_bps,omitempty"`
	Deadline    time.Time `json:"deadline,omitempty"`
}

// Result is the only thing Execute returns. Callers branch on OK, never on Message.
type Result struct {
	OK       bool        `json:"ok"`
	Message  string      `json:"message"`
	Kind     clierr.Kind `json:"kind,omitempty"`
	ActionID string      `json:"action_id,omitempty"`
}

type Verb struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ResourceKind string `json:"resource_kind"`
	Payable      bool   `json:"payable,omitempty"`
	// Swap verbs take slippage and deadline parameters.
	Swap         bool   `json:"swap,omitempty"`
}

// Protocol turns a validated intent into a Plan. Plan must not perform I/O; every
// chain read it needs is expressed as a Ceiling or Read closure.
type Protocol interface {
	Name() string
	Description() string
	Verbs() []Verb
	Plan(in PlanInput) (Plan, error)
}

// Catalog resolves protocol names to planners.
type Catalog interface {
	Lookup(name string) (Protocol, bool)
}

type PlanInput struct {
	Verb        string
	Chain       id.Chain
	Account     common.Address
	Recipient   common.Address
	Resource    registry.Resource
	Amount      *big.Int
	SlippageBps int64
	Deadline    time.Time
}

// Spend declares that the primary step pulls Token from the account via Spender.
type Spend struct {
	Token   common.Address
	Spender common.Address
}

type CeilingKind int

const (
	// CeilingLimit is a protocol-side cap such as max deposit or borrow capacity.
	CeilingLimit CeilingKind = iota
	// CeilingBalance is something the account holds, such as a staked or supplied balance.
	CeilingBalance
)

// Fetch reads one value from chain state in the resource's base units.
type Fetch func(ctx context.Context, r chain.Reader) (*big.Int, error)

type Ceiling struct {
	Name  string
	Label string
	Kind  CeilingKind
	Fetch Fetch
}

type Read struct {
	Name  string
	Fetch Fetch
}

// Observed holds every value read before encoding, keyed by ceiling or read name.
type Observed map[string]*big.Int

func (o Observed) Value(name string) (*big.Int, bool) {
	v, ok := o[name]
	return v, ok && v != nil
}

const (
	ObservedBalance   = "balance"
	ObservedAllowance = "allowance"
)

type Plan struct {
	IntentType  string
	StepType    execution.StepType
	Target      common.Address
	Spend       *Spend
	Payable     bool
	Ceilings    []Ceiling
	Reads       []Read
	Encode      func(obs Observed) ([]byte, error)
	Past        string
	Description string
	Metadata    map[string]any
}
