package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/execution/signer"
	"github.com/ggonzalez94/defi-adapters/internal/httpx"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
	"github.com/sirupsen/logrus"
)

// SubmitRequest scopes one ordered batch to a chain and acting account.
type SubmitRequest struct {
	Chain   id.Chain
	Account common.Address
	Action  *Action
}

// StepResult is exactly one of Ok or Err.
type StepResult struct {
	StepID string   `json:"step_id"`
	Ok     *StepOK  `json:"ok,omitempty"`
	Err    *StepErr `json:"err,omitempty"`
}

type StepOK struct {
	Message string `json:"message"`
	Hash    string `json:"hash,omitempty"`
}

type StepErr struct {
	Reason string `json:"reason"`
}

func (r StepResult) Failed() bool { return r.Err != nil }

// Message is the raw text of the step whichever way it went.
func (r StepResult) Message() string {
	if r.Err != nil {
		return r.Err.Reason
	}
	if r.Ok != nil {
		return r.Ok.Message
	}
	return ""
}

type SubmissionResult struct {
	Steps      []StepResult `json:"steps"`
	IsMultisig bool         `json:"is_multisig"`
}

// Last returns the result of the final step, which speaks for the primary action.
func (r SubmissionResult) Last() (StepResult, bool) {
	if len(r.Steps) == 0 {
		return StepResult{}, false
	}
	return r.Steps[len(r.Steps)-1], true
}

// Submitter applies a batch in order. A returned error means the submission never
// produced a result (transport or configuration). Steps that were attempted and
// declined are reported as Err entries in the result instead.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmissionResult, error)
}

// LocalSubmitter signs and broadcasts each step with a local key, one transaction at a
// time, and stops after the first failed step.
type LocalSubmitter struct {
	Signer  signer.Signer
	Store   ActionStore
	RPC     registry.RPCEndpoints
	Options ExecuteOptions
	Logger  *logrus.Logger
}

func (s *LocalSubmitter) Submit(ctx context.Context, req SubmitRequest) (SubmissionResult, error) {
	if req.Action == nil || len(req.Action.Steps) == 0 {
		return SubmissionResult{}, clierr.New(clierr.CodeInternal, "empty batch")
	}
	if s.Signer == nil {
		return SubmissionResult{}, clierr.New(clierr.CodeSigner, "no signer configured for local submission")
	}
	if s.Signer.Address() != req.Account {
		return SubmissionResult{}, clierr.New(clierr.CodeSigner, fmt.Sprintf("configured signer %s does not match account %s", s.Signer.Address().Hex(), req.Account.Hex()))
	}
	rpcURL, err := s.RPC.Resolve(req.Chain.EVMChainID)
	if err != nil {
		return SubmissionResult{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	for i := range req.Action.Steps {
		if strings.TrimSpace(req.Action.Steps[i].RPCURL) == "" {
			req.Action.Steps[i].RPCURL = rpcURL
		}
	}
	opts := s.Options
	if opts.Logger == nil {
		opts.Logger = s.Logger
	}

	execErr := ExecuteAction(ctx, s.Store, req.Action, s.Signer, opts)
	result := SubmissionResult{Steps: make([]StepResult, 0, len(req.Action.Steps))}
	for _, step := range req.Action.Steps {
		switch step.Status {
		case StepStatusConfirmed:
			result.Steps = append(result.Steps, StepResult{
				StepID: step.StepID,
				Ok:     &StepOK{Message: fmt.Sprintf("Transaction hash: %s", step.TxHash), Hash: step.TxHash},
			})
		case StepStatusFailed:
			result.Steps = append(result.Steps, StepResult{StepID: step.StepID, Err: &StepErr{Reason: step.Error}})
		}
		if step.Status != StepStatusConfirmed {
			break
		}
	}
	if execErr == nil {
		return result, nil
	}
	if declined(execErr) && len(result.Steps) > 0 {
		return result, nil
	}
	return result, execErr
}

// declined reports failures where the chain or policy refused a step, as opposed to
// failures reaching the chain at all.
func declined(err error) bool {
	typed, ok := clierr.As(err)
	if !ok {
		return false
	}
	switch typed.Code {
	case clierr.CodeRejected, clierr.CodeActionSim, clierr.CodeActionPlan, clierr.CodeActionTimeout:
		return true
	default:
		return false
	}
}

// MultisigSubmitter proposes the whole batch to a Safe proposal service. Nothing is
// executed on chain; the proposal awaits the other owners' confirmations.
type MultisigSubmitter struct {
	ServiceURL string
	Safe       common.Address
	APIKey     string
	Client     *httpx.Client
	Store      ActionStore
	Logger     *logrus.Logger
}

type proposalTransaction struct {
	To        string `json:"to"`
	Data      string `json:"data"`
	Value     string `json:"value"`
	Operation int    `json:"operation"`
}

type proposalRequest struct {
	ChainID      int64                 `json:"chain_id"`
	Safe         string                `json:"safe"`
	ActionID     string                `json:"action_id"`
	Description  string                `json:"description,omitempty"`
	Transactions []proposalTransaction `json:"transactions"`
}

type proposalResponse struct {
	ProposalID string `json:"proposal_id"`
	SafeTxHash string `json:"safe_tx_hash"`
	URL        string `json:"url"`
}

func (s *MultisigSubmitter) Submit(ctx context.Context, req SubmitRequest) (SubmissionResult, error) {
	if req.Action == nil || len(req.Action.Steps) == 0 {
		return SubmissionResult{}, clierr.New(clierr.CodeInternal, "empty batch")
	}
	if strings.TrimSpace(s.ServiceURL) == "" || s.Client == nil {
		return SubmissionResult{}, clierr.New(clierr.CodeUsage, "multisig submission requires a proposal service url")
	}
	safe := s.Safe
	if safe == (common.Address{}) {
		safe = req.Account
	}
	if safe != req.Account {
		return SubmissionResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("account %s is not the configured safe %s", req.Account.Hex(), safe.Hex()))
	}

	body := proposalRequest{
		ChainID:      req.Chain.EVMChainID,
		Safe:         safe.Hex(),
		ActionID:     req.Action.ActionID,
		Description:  req.Action.IntentType,
		Transactions: make([]proposalTransaction, 0, len(req.Action.Steps)),
	}
	for _, step := range req.Action.Steps {
		body.Transactions = append(body.Transactions, proposalTransaction{To: step.Target, Data: step.Data, Value: step.Value})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SubmissionResult{}, clierr.Wrap(clierr.CodeInternal, "marshal proposal", err)
	}
	headers := map[string]string{}
	if strings.TrimSpace(s.APIKey) != "" {
		headers["Authorization"] = "Bearer " + strings.TrimSpace(s.APIKey)
	}

	var resp proposalResponse
	endpoint := strings.TrimRight(s.ServiceURL, "/") + "/v1/proposals"
	if _, err := httpx.DoBodyJSON(ctx, s.Client, http.MethodPost, endpoint, payload, headers, &resp); err != nil {
		if clierr.KindOf(err) == clierr.KindSubmissionRejected {
			return SubmissionResult{
				IsMultisig: true,
				Steps:      []StepResult{{StepID: req.Action.Steps[len(req.Action.Steps)-1].StepID, Err: &StepErr{Reason: err.Error()}}},
			}, nil
		}
		return SubmissionResult{}, err
	}

	message := fmt.Sprintf("Proposed %d transaction(s) to Safe %s on %s as %s; awaiting owner confirmations.", len(body.Transactions), safe.Hex(), req.Chain.Name, resp.SafeTxHash)
	if strings.TrimSpace(resp.URL) != "" {
		message += " Review at " + resp.URL
	}
	result := SubmissionResult{IsMultisig: true, Steps: make([]StepResult, 0, len(req.Action.Steps))}
	for i := range req.Action.Steps {
		step := &req.Action.Steps[i]
		step.Status = StepStatusProposed
		step.TxHash = resp.SafeTxHash
		result.Steps = append(result.Steps, StepResult{StepID: step.StepID, Ok: &StepOK{Message: message, Hash: resp.SafeTxHash}})
	}
	req.Action.Status = ActionStatusProposed
	req.Action.FromAddress = safe.Hex()
	if req.Action.Metadata == nil {
		req.Action.Metadata = map[string]any{}
	}
	req.Action.Metadata["proposal_id"] = resp.ProposalID
	req.Action.Touch()
	if s.Store != nil {
		if err := s.Store.Save(*req.Action); err != nil && s.Logger != nil {
			s.Logger.WithError(err).WithField("action_id", req.Action.ActionID).Warn("failed to persist proposed action")
		}
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"action_id": req.Action.ActionID, "proposal_id": resp.ProposalID, "safe": safe.Hex()}).Info("multisig proposal created")
	}
	return result, nil
}
