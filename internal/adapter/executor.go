package adapter

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/notify"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxSlippageBps = 10_000

type Config struct {
	Registry  *registry.Registry
	Protocols Catalog
	Chains    chain.Provider
	Submitter execution.Submitter
	Notifier  notify.Notifier
	Logger    *logrus.Logger
}

type Executor struct {
	registry  *registry.Registry
	protocols Catalog
	chains    chain.Provider
	submitter execution.Submitter
	notifier  notify.Notifier
	logger    *logrus.Logger
}

func New(cfg Config) *Executor {
	e := &Executor{
		registry:  cfg.Registry,
		protocols: cfg.Protocols,
		chains:    cfg.Chains,
		submitter: cfg.Submitter,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	return e
}

// validated is a request after every local precondition passed.
type validated struct {
	protocol  Protocol
	verb      string
	chain     id.Chain
	account   common.Address
	recipient common.Address
	resource  registry.Resource
	amount    *big.Int
}

// Execute never panics and never returns an error; every failure is a Result with OK false.
func (e *Executor) Execute(ctx context.Context, req Request) (res Result) {
	log := e.logger.WithFields(logrus.Fields{
		"protocol": req.Protocol,
		"verb":     req.Verb,
		"chain":    req.Chain,
		"resource": req.Resource,
	})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("action panicked: %v", r)
			err := clierr.New(clierr.CodeInternal, fmt.Sprintf("internal error: %v", r))
			res = Result{OK: false, Message: err.Error(), Kind: clierr.KindOf(err), ActionID: res.ActionID}
		}
	}()

	message, actionID, err := e.execute(ctx, req, &res)
	if err != nil {
		kind := clierr.KindOf(err)
		log.WithError(err).WithField("kind", kind).Warn("action failed")
		return Result{OK: false, Message: err.Error(), Kind: kind, ActionID: actionID}
	}
	log.WithField("action_id", actionID).Info("action submitted")
	return Result{OK: true, Message: message, ActionID: actionID}
}

func (e *Executor) execute(ctx context.Context, req Request, partial *Result) (string, string, error) {
	v, err := e.validate(req)
	if err != nil {
		return "", "", err
	}
	plan, err := v.protocol.Plan(PlanInput{
		Verb:        v.verb,
		Chain:       v.chain,
		Account:     v.account,
		Recipient:   v.recipient,
		Resource:    v.resource,
		Amount:      new(big.Int).Set(v.amount),
		SlippageBps: req.SlippageBps,
		Deadline:    req.Deadline,
	})
	if err != nil {
		return "", "", asKind(err, clierr.CodeActionPlan, "plan action")
	}
	if plan.Encode == nil {
		return "", "", clierr.New(clierr.CodeInternal, fmt.Sprintf("%s %s plan has no encoder", v.protocol.Name(), v.verb))
	}

	reader, err := e.chains.Reader(ctx, v.chain)
	if err != nil {
		return "", "", asKind(err, clierr.CodeUnavailable, "connect chain")
	}
	obs, err := observe(ctx, reader, v, plan)
	if err != nil {
		return "", "", err
	}
	if err := guard(v, plan, obs); err != nil {
		return "", "", err
	}

	action, err := buildAction(v, plan, obs, req)
	if err != nil {
		return "", "", err
	}
	partial.ActionID = action.ActionID

	symbol := v.resource.Symbol
	display := id.FormatAmount(v.amount, v.resource.Decimals)
	e.notifier.Notify(ctx, fmt.Sprintf("Submitting %d transaction(s) to %s %s %s %s on %s", len(action.Steps), v.protocol.Name(), v.verb, display, symbol, v.chain.Name))

	result, err := e.submitter.Submit(ctx, execution.SubmitRequest{Chain: v.chain, Account: v.account, Action: &action})
	if err != nil {
		return "", action.ActionID, asKind(err, clierr.CodeUnavailable, "submit transactions")
	}
	last, ok := result.Last()
	if !ok {
		return "", action.ActionID, clierr.New(clierr.CodeRejected, "submission returned no step results")
	}
	if last.Failed() {
		return "", action.ActionID, rejection(result, last)
	}
	if result.IsMultisig {
		return last.Message(), action.ActionID, nil
	}
	return fmt.Sprintf("Successfully %s %s %s on %s. %s", plan.Past, display, symbol, v.chain.Name, last.Message()), action.ActionID, nil
}

func (e *Executor) validate(req Request) (validated, error) {
	account := strings.TrimSpace(req.Account)
	if account == "" {
		return validated{}, clierr.New(clierr.CodeUsage, "account is required")
	}
	if !common.IsHexAddress(account) {
		return validated{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("account %q is not a valid EVM address", account))
	}
	chainID, err := id.ParseKnownChain(req.Chain)
	if err != nil {
		return validated{}, err
	}

	name := strings.ToLower(strings.TrimSpace(req.Protocol))
	protocol, ok := e.protocols.Lookup(name)
	if !ok {
		return validated{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unknown protocol %q", req.Protocol))
	}
	verb := strings.ToLower(strings.TrimSpace(req.Verb))
	if !hasVerb(protocol, verb) {
		return validated{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s does not support %q", protocol.Name(), req.Verb))
	}
	if !e.registry.SupportsChain(protocol.Name(), chainID) {
		return validated{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s is not supported on %s", protocol.Name(), chainID.Name))
	}

	if err := id.CheckDecimal(req.Amount); err != nil {
		return validated{}, err
	}
	resource, ok := e.registry.Resource(protocol.Name(), chainID, req.Resource)
	if !ok {
		return validated{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown %s resource %q on %s", protocol.Name(), req.Resource, chainID.Name))
	}
	amount, err := id.ParseAmount(req.Amount, resource.Decimals)
	if err != nil {
		return validated{}, err
	}

	recipient := common.HexToAddress(account)
	if r := strings.TrimSpace(req.Recipient); r != "" {
		if !common.IsHexAddress(r) {
			return validated{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("recipient %q is not a valid EVM address", r))
		}
		recipient = common.HexToAddress(r)
	}
	if req.SlippageBps < 0 || req.SlippageBps >= maxSlippageBps {
		return validated{}, clierr.New(clierr.CodeUsage, "slippage must be between 0 and 9999 bps")
	}
	if !req.Deadline.IsZero() && !req.Deadline.After(time.Now()) {
		return validated{}, clierr.New(clierr.CodeUsage, "deadline must be in the future")
	}

	return validated{
		protocol:  protocol,
		verb:      verb,
		chain:     chainID,
		account:   common.HexToAddress(account),
		recipient: recipient,
		resource:  resource,
		amount:    amount,
	}, nil
}

func hasVerb(p Protocol, verb string) bool {
	for _, v := range p.Verbs() {
		if v.Name == verb {
			return true
		}
	}
	return false
}

// observe issues every read the plan needs concurrently and fails on the first error.
func observe(ctx context.Context, reader chain.Reader, v validated, plan Plan) (Observed, error) {
	var (
		mu  sync.Mutex
		obs = Observed{}
	)
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(name, what string, f Fetch) {
		g.Go(func() error {
			value, err := f(gctx, reader)
			if err != nil {
				return asKind(err, clierr.CodeUnavailable, "read "+what)
			}
			if value == nil {
				return clierr.New(clierr.CodeUnavailable, "read "+what+": empty value")
			}
			mu.Lock()
			obs[name] = value
			mu.Unlock()
			return nil
		})
	}

	for _, c := range plan.Ceilings {
		fetch(c.Name, c.Label, c.Fetch)
	}
	for _, r := range plan.Reads {
		fetch(r.Name, r.Name, r.Fetch)
	}
	switch {
	case plan.Spend != nil:
		spend := *plan.Spend
		fetch(ObservedBalance, "balance", func(ctx context.Context, r chain.Reader) (*big.Int, error) {
			return chain.ERC20Balance(ctx, r, spend.Token, v.account)
		})
		fetch(ObservedAllowance, "allowance", func(ctx context.Context, r chain.Reader) (*big.Int, error) {
			return chain.ERC20Allowance(ctx, r, spend.Token, v.account, spend.Spender)
		})
	case plan.Payable:
		fetch(ObservedBalance, "native balance", func(ctx context.Context, r chain.Reader) (*big.Int, error) {
			return chain.NativeBalance(ctx, r, v.account)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return obs, nil
}

// guard compares the amount against limit ceilings, then balance ceilings, then the
// account's own balance of what it spends.
func guard(v validated, plan Plan, obs Observed) error {
	check := func(label string, available *big.Int) error {
		if v.amount.Cmp(available) <= 0 {
			return nil
		}
		return clierr.New(clierr.CodeInsufficient, fmt.Sprintf(
			"insufficient %s: requested %s %s, available %s %s",
			label,
			id.FormatAmount(v.amount, v.resource.Decimals), v.resource.Symbol,
			id.FormatAmount(available, v.resource.Decimals), v.resource.Symbol,
		))
	}
	for _, kind := range []CeilingKind{CeilingLimit, CeilingBalance} {
		for _, c := range plan.Ceilings {
			if c.Kind != kind {
				continue
			}
			if err := check(c.Label, obs[c.Name]); err != nil {
				return err
			}
		}
	}
	if balance, ok := obs.Value(ObservedBalance); ok {
		return check("balance", balance)
	}
	return nil
}

func buildAction(v validated, plan Plan, obs Observed, req Request) (execution.Action, error) {
	constraints := execution.Constraints{SlippageBps: req.SlippageBps}
	if !req.Deadline.IsZero() {
		constraints.Deadline = req.Deadline.UTC().Format(time.RFC3339)
	}
	action := execution.NewAction(execution.NewActionID(), plan.IntentType, v.chain.CAIP2, constraints)
	action.Protocol = v.protocol.Name()
	action.Resource = v.resource.Name
	action.FromAddress = v.account.Hex()
	action.ToAddress = v.recipient.Hex()
	action.InputAmount = v.amount.String()
	action.Metadata = map[string]any{
		"verb":     v.verb,
		"symbol":   v.resource.Symbol,
		"decimals": v.resource.Decimals,
	}
	for k, val := range plan.Metadata {
		action.Metadata[k] = val
	}

	if plan.Spend != nil {
		allowance, _ := obs.Value(ObservedAllowance)
		if allowance == nil || allowance.Cmp(v.amount) < 0 {
			step, err := execution.BuildApprovalStep(v.chain.CAIP2, plan.Spend.Token, plan.Spend.Spender, v.amount,
				fmt.Sprintf("Approve %s %s for %s", id.FormatAmount(v.amount, v.resource.Decimals), v.resource.Symbol, v.protocol.Name()))
			if err != nil {
				return execution.Action{}, err
			}
			action.Steps = append(action.Steps, step)
		}
	}

	data, err := plan.Encode(obs)
	if err != nil {
		return execution.Action{}, asKind(err, clierr.CodeActionPlan, "encode "+v.verb)
	}
	var value *big.Int
	if plan.Payable {
		value = v.amount
	}
	description := plan.Description
	if description == "" {
		description = fmt.Sprintf("%s %s %s", v.verb, id.FormatAmount(v.amount, v.resource.Decimals), v.resource.Symbol)
	}
	action.Steps = append(action.Steps, execution.BuildCallStep(
		fmt.Sprintf("%s-%s", v.protocol.Name(), v.verb), plan.StepType, v.chain.CAIP2, plan.Target, data, value, description,
	))
	return action, nil
}

// rejection reports a declined step together with any steps that already went through,
// since those are not rolled back.
func rejection(result execution.SubmissionResult, failed execution.StepResult) error {
	done := make([]string, 0, len(result.Steps))
	for _, step := range result.Steps {
		if step.Ok != nil {
			done = append(done, step.StepID)
		}
	}
	msg := fmt.Sprintf("transaction %s was rejected: %s", failed.StepID, failed.Err.Reason)
	if len(done) > 0 {
		msg += fmt.Sprintf(" (already completed: %s)", strings.Join(done, ", "))
	}
	return clierr.New(clierr.CodeRejected, msg)
}

// asKind keeps typed errors as they are and classifies untyped ones with code.
func asKind(err error, code clierr.Code, msg string) error {
	if _, ok := clierr.As(err); ok {
		return err
	}
	return clierr.Wrap(code, msg, err)
}
