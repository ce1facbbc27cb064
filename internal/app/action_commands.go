package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	"github.com/ggonzalez94/defi-adapters/internal/config"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
	execsigner "github.com/ggonzalez94/defi-adapters/internal/execution/signer"
	"github.com/ggonzalez94/defi-adapters/internal/httpx"
	"github.com/ggonzalez94/defi-adapters/internal/model"
	"github.com/ggonzalez94/defi-adapters/internal/notify"
	"github.com/ggonzalez94/defi-adapters/internal/policy"
	"github.com/ggonzalez94/defi-adapters/internal/version"
	"github.com/spf13/cobra"
)

// verbArgs holds the flags of one "<protocol> <verb>" command.
type verbArgs struct {
	chain       string
	account     string
	resource    string
	amount      string
	recipient   string
	slippageBps int64
	deadline    string

	submitter          string
	signerSource       string
	privateKey         string
	safe               string
	multisigURL        string
	simulate           bool
	gasMultiplier      float64
	maxFeeGwei         string
	maxPriorityFeeGwei string
	allowMaxApproval   bool
}

func (s *runtimeState) newProtocolCommand(p adapter.Protocol) *cobra.Command {
	root := &cobra.Command{
		Use:   p.Name(),
		Short: p.Description(),
	}
	for _, verb := range p.Verbs() {
		root.AddCommand(s.newVerbCommand(p.Name(), verb))
	}
	return root
}

func (s *runtimeState) newVerbCommand(protocol string, verb adapter.Verb) *cobra.Command {
	var args verbArgs
	cmd := &cobra.Command{
		Use:     verb.Name,
		Short:   verb.Description,
		Example: fmt.Sprintf("%s %s %s --chain <chain> --resource <%s> --amount 1.5", version.CLIName, protocol, verb.Name, verb.ResourceKind),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runVerb(cmd, protocol, verb.Name, args)
		},
	}
	cmd.Flags().StringVar(&args.chain, "chain", "", "Chain identifier (slug, alias, id or CAIP-2)")
	cmd.Flags().StringVar(&args.account, "account", "", "Acting account (defaults to the signer or the configured Safe)")
	cmd.Flags().StringVar(&args.resource, "resource", "", fmt.Sprintf("Registry %s (name, symbol or address)", strings.ReplaceAll(verb.ResourceKind, "_", " ")))
	cmd.Flags().StringVar(&args.amount, "amount", "", "Decimal amount, e.g. 1.5")
	cmd.Flags().StringVar(&args.recipient, "recipient", "", "Receiving address (defaults to --account)")
	if verb.Swap {
		cmd.Flags().Int64Var(&args.slippageBps, "slippage-bps", 0, "Maximum slippage in basis points (0 uses the default)")
		cmd.Flags().StringVar(&args.deadline, "deadline", "", "Optional RFC 3339 deadline")
	}
	cmd.Flags().StringVar(&args.submitter, "submitter", "", "Submission path (local|multisig)")
	cmd.Flags().StringVar(&args.signerSource, "key-source", string(execsigner.SourceAuto), "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&args.privateKey, "private-key", "", "Private key hex override for local signer (less safe)")
	cmd.Flags().StringVar(&args.safe, "safe", "", "Safe address for multisig submission")
	cmd.Flags().StringVar(&args.multisigURL, "multisig-url", "", "Safe proposal service URL")
	cmd.Flags().BoolVar(&args.simulate, "simulate", true, "Run preflight simulation before submission")
	cmd.Flags().Float64Var(&args.gasMultiplier, "gas-multiplier", 1.2, "Gas estimate safety multiplier")
	cmd.Flags().StringVar(&args.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&args.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	cmd.Flags().BoolVar(&args.allowMaxApproval, "allow-max-approval", false, "Allow approval amounts greater than the action amount")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) runVerb(cmd *cobra.Command, protocol, verb string, args verbArgs) error {
	if err := policy.CheckProtocolAllowed(s.settings.EnableProtocols, protocol); err != nil {
		return err
	}
	req := adapter.Request{
		Protocol:    protocol,
		Verb:        verb,
		Chain:       args.chain,
		Account:     strings.TrimSpace(args.account),
		Resource:    args.resource,
		Amount:      args.amount,
		Recipient:   strings.TrimSpace(args.recipient),
		SlippageBps: args.slippageBps,
	}
	if strings.TrimSpace(args.deadline) != "" {
		deadline, err := time.Parse(time.RFC3339, strings.TrimSpace(args.deadline))
		if err != nil {
			return clierr.Wrap(clierr.CodeUsage, "parse --deadline", err)
		}
		req.Deadline = deadline
	}

	opts := s.executeOptions(cmd, args)
	submitter, account, err := s.buildSubmitter(args, opts)
	if err != nil {
		return err
	}
	if req.Account == "" {
		req.Account = account
	}
	chains, err := s.chainProvider()
	if err != nil {
		return err
	}
	if closer, ok := chains.(*chain.RPCProvider); ok {
		defer closer.Close()
	}

	executor := adapter.New(adapter.Config{
		Registry:  s.registry,
		Protocols: s.catalog,
		Chains:    chains,
		Submitter: submitter,
		Notifier:  notify.Multi{notify.NewWriterNotifier(s.runner.stderr), notify.NewLogNotifier(s.logger)},
		Logger:    s.logger,
	})

	// Reads share the request timeout; each submitted step gets its own receipt budget.
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout+2*opts.StepTimeout)
	defer cancel()
	res := executor.Execute(ctx, req)

	if !res.OK {
		if res.ActionID != "" {
			s.lastWarnings = append(s.lastWarnings, "action recorded as "+res.ActionID)
		}
		return clierr.New(clierr.CodeForKind(res.Kind), res.Message)
	}
	outcome := model.ActionOutcome{
		OK:       true,
		Message:  res.Message,
		ActionID: res.ActionID,
		Protocol: protocol,
		Verb:     verb,
		Chain:    args.chain,
		Resource: args.resource,
		Amount:   args.amount,
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), outcome, nil)
}

// executeOptions layers explicitly set flags over the configured execution defaults.
func (s *runtimeState) executeOptions(cmd *cobra.Command, args verbArgs) execution.ExecuteOptions {
	cfg := s.settings.Execution
	opts := execution.ExecuteOptions{
		Simulate:           cfg.Simulate,
		PollInterval:       cfg.PollInterval,
		StepTimeout:        cfg.StepTimeout,
		GasMultiplier:      cfg.GasMultiplier,
		MaxFeeGwei:         cfg.MaxFeeGwei,
		MaxPriorityFeeGwei: cfg.MaxPriorityFeeGwei,
		AllowMaxApproval:   args.allowMaxApproval,
		Logger:             s.logger,
	}
	flags := cmd.Flags()
	if flags.Changed("simulate") {
		opts.Simulate = args.simulate
	}
	if flags.Changed("gas-multiplier") {
		opts.GasMultiplier = args.gasMultiplier
	}
	if flags.Changed("max-fee-gwei") {
		opts.MaxFeeGwei = args.maxFeeGwei
	}
	if flags.Changed("max-priority-fee-gwei") {
		opts.MaxPriorityFeeGwei = args.maxPriorityFeeGwei
	}
	defaults := execution.DefaultExecuteOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaults.StepTimeout
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = defaults.GasMultiplier
	}
	return opts
}

// buildSubmitter returns the submitter for this run and the account it acts for,
// which becomes the default --account.
func (s *runtimeState) buildSubmitter(args verbArgs, opts execution.ExecuteOptions) (execution.Submitter, string, error) {
	if s.runner.submitter != nil {
		return s.runner.submitter, "", nil
	}
	if err := s.ensureActionStore(); err != nil {
		return nil, "", err
	}
	mode := s.settings.Submitter
	if v := strings.ToLower(strings.TrimSpace(args.submitter)); v != "" {
		mode = v
	}

	switch mode {
	case config.SubmitterLocal:
		txSigner, err := execsigner.NewLocalSignerFromInputs(args.signerSource, args.privateKey)
		if err != nil {
			return nil, "", clierr.Wrap(clierr.CodeSigner, "load signer", err)
		}
		endpoints, err := s.settings.RPCEndpoints()
		if err != nil {
			return nil, "", clierr.Wrap(clierr.CodeUsage, "resolve rpc overrides", err)
		}
		return &execution.LocalSubmitter{
			Signer:  txSigner,
			Store:   s.actionStore,
			RPC:     endpoints,
			Options: opts,
			Logger:  s.logger,
		}, txSigner.Address().Hex(), nil
	case config.SubmitterMultisig:
		safeArg := firstNonEmpty(args.safe, s.settings.Multisig.Safe)
		if safeArg != "" && !common.IsHexAddress(safeArg) {
			return nil, "", clierr.New(clierr.CodeUsage, "invalid safe address: "+safeArg)
		}
		serviceURL := firstNonEmpty(args.multisigURL, s.settings.Multisig.ServiceURL)
		if serviceURL == "" {
			return nil, "", clierr.New(clierr.CodeUsage, "multisig submission requires --multisig-url or ADAPTERS_MULTISIG_URL")
		}
		client := httpx.New(s.settings.Timeout, s.settings.Retries,
			httpx.WithLogger(s.logger),
			httpx.WithUserAgent(version.CLIName+"/"+version.CLIVersion),
		)
		submitter := &execution.MultisigSubmitter{
			ServiceURL: serviceURL,
			APIKey:     s.settings.Multisig.APIKey,
			Client:     client,
			Store:      s.actionStore,
			Logger:     s.logger,
		}
		if safeArg == "" {
			return submitter, "", nil
		}
		submitter.Safe = common.HexToAddress(safeArg)
		return submitter, submitter.Safe.Hex(), nil
	default:
		return nil, "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported submitter %q", mode))
	}
}

func (s *runtimeState) chainProvider() (chain.Provider, error) {
	if s.runner.chains != nil {
		return s.runner.chains, nil
	}
	endpoints, err := s.settings.RPCEndpoints()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc overrides", err)
	}
	return chain.NewRPCProvider(endpoints, s.settings.RPCRate, s.settings.RPCBurst, s.logger), nil
}

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Inspect recorded actions"}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded actions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			items, err := s.actionStore.List(strings.ToLower(strings.TrimSpace(status)), limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list actions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status (planned|running|completed|proposed|failed)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum actions to return")

	var actionID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show one recorded action with its steps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actionID = strings.TrimSpace(actionID)
			if actionID == "" {
				return clierr.New(clierr.CodeUsage, "--action-id is required")
			}
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			action, err := s.actionStore.Get(actionID)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load action", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil)
		},
	}
	statusCmd.Flags().StringVar(&actionID, "action-id", "", "Action identifier")

	root.AddCommand(listCmd)
	root.AddCommand(statusCmd)
	return root
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
