// Package proxy contains the core domain logic for the MCP proxy.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/intent"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/session"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
	"github.com/Sentinel-Gate/Sentinelgate/pkg/mcp"
)

// Error types for policy evaluation failures.
var ErrPolicyDenied = errors.New("policy denied")

// ErrMissingSession indicates a tool call was received without session context.
var ErrMissingSession = errors.New("missing session context")

// PolicyDenyError wraps a policy denial with structured information.
// It includes rule details and human-readable guidance for resolving the denial.
type PolicyDenyError struct {
	RuleID   string
	RuleName string
	Reason   string
	HelpURL  string
	HelpText string
}

// Error implements the error interface.
func (e *PolicyDenyError) Error() string {
	return fmt.Sprintf("policy denied: %s", e.Reason)
}

// Unwrap returns ErrPolicyDenied so errors.Is(err, ErrPolicyDenied) works.
func (e *PolicyDenyError) Unwrap() error {
	return ErrPolicyDenied
}

// PolicyInterceptor evaluates tool calls against Design Boundary policies
// via the semantic Enforcement Engine (spec.md §4.7 "Streaming Enforcement
// Proxy"). It wraps another MessageInterceptor (e.g., PassthroughInterceptor).
type PolicyInterceptor struct {
	policyEngine policy.PolicyEngine
	vocab        *vocabulary.Registry
	encoder      *semantic.Encoder
	sessions     *session.SessionService
	next         MessageInterceptor
	logger       *slog.Logger
}

// NewPolicyInterceptor creates a new PolicyInterceptor. vocab may be nil, in
// which case tool-name inference falls back to the vocabulary package's
// conservative defaults. encoder and sessions may both be nil, in which
// case drift tracking and call history are skipped entirely (the
// interceptor still enforces via policyEngine either way).
func NewPolicyInterceptor(
	engine policy.PolicyEngine,
	next MessageInterceptor,
	logger *slog.Logger,
	vocab *vocabulary.Registry,
	encoder *semantic.Encoder,
	sessions *session.SessionService,
) *PolicyInterceptor {
	return &PolicyInterceptor{
		policyEngine: engine,
		vocab:        vocab,
		encoder:      encoder,
		sessions:     sessions,
		next:         next,
		logger:       logger,
	}
}

// Intercept evaluates tool calls against policies before passing to next interceptor.
// Returns error to BLOCK message propagation - ProxyService MUST check error
// and send JSON-RPC error response back to client instead of forwarding.
func (p *PolicyInterceptor) Intercept(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	// Non-tool-call messages pass through without policy check
	if !msg.IsToolCall() {
		return p.next.Intercept(ctx, msg)
	}

	// Defensive: session should be set by AuthInterceptor
	if msg.Session == nil {
		p.logger.Warn("tool call without session context")
		return nil, ErrMissingSession
	}

	ev, err := p.buildIntentEvent(msg)
	if err != nil {
		p.logger.Warn("failed to build intent event",
			"error", err,
			"session_id", msg.Session.ID,
		)
		return nil, fmt.Errorf("invalid tool call params: %w", err)
	}

	// Evaluate against the enforcement engine
	decision, err := p.policyEngine.EvaluateIntent(ctx, ev)
	if err != nil {
		p.logger.Error("policy evaluation failed",
			"error", err,
			"tool", ev.ToolName,
			"session_id", msg.Session.ID,
		)
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	p.trackDrift(ctx, msg.Session.ID, ev)
	p.recordCall(ctx, msg.Session.ID, ev.ID, ev.Action, decision.Allowed)

	// Check decision
	if !decision.Allowed {
		p.logger.Info("tool call denied by policy",
			"tool", ev.ToolName,
			"rule_id", decision.RuleID,
			"rule_name", decision.RuleName,
			"reason", decision.Reason,
			"session_id", msg.Session.ID,
			"identity_id", msg.Session.IdentityID,
		)
		return nil, &PolicyDenyError{
			RuleID:   decision.RuleID,
			RuleName: decision.RuleName,
			Reason:   decision.Reason,
			HelpURL:  decision.HelpURL,
			HelpText: decision.HelpText,
		}
	}

	// Store decision in context for downstream interceptors (ApprovalInterceptor)
	ctx = policy.WithDecision(ctx, &decision)

	p.logger.Debug("tool call allowed by policy",
		"tool", ev.ToolName,
		"rule_id", decision.RuleID,
		"session_id", msg.Session.ID,
	)

	return p.next.Intercept(ctx, msg)
}

// trackDrift initialises the session baseline on the first enforceable
// intent and updates cumulative drift on every subsequent one (spec.md
// §4.5). Side effect only: failures are logged by the session package
// itself and never affect the decision already made.
func (p *PolicyInterceptor) trackDrift(ctx context.Context, sessionID string, ev *intent.Event) {
	if p.sessions == nil || p.encoder == nil {
		return
	}
	intentVec, err := p.encoder.EncodeIntent(ctx, ev)
	if err != nil {
		p.logger.Warn("failed to encode intent for drift tracking", "error", err, "session_id", sessionID)
		return
	}
	vec := [session.IntentVectorDim]float32(intentVec)
	if err := p.sessions.InitialiseBaseline(ctx, sessionID, vec); err != nil {
		p.logger.Warn("failed to initialise session baseline", "error", err, "session_id", sessionID)
		return
	}
	p.sessions.UpdateDrift(ctx, sessionID, vec)
}

func (p *PolicyInterceptor) recordCall(ctx context.Context, sessionID, requestID, action string, allowed bool) {
	if p.sessions == nil {
		return
	}
	if err := p.sessions.RecordCall(ctx, sessionID, requestID, action, allowed); err != nil {
		p.logger.Warn("failed to record call history", "error", err, "session_id", sessionID)
	}
}

// toolCallParams represents the JSON-RPC params for a tools/call request.
type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// buildIntentEvent extracts tool call context from an MCP message and maps
// it onto a canonical Intent Event (spec.md §4.1 canonicalisation), using
// the vocabulary registry to infer action/resource type from the tool name
// when the caller hasn't supplied them explicitly via arguments.
func (p *PolicyInterceptor) buildIntentEvent(msg *mcp.Message) (*intent.Event, error) {
	req := msg.Request()
	if req == nil || req.Params == nil {
		return nil, errors.New("missing request params")
	}

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, fmt.Errorf("failed to parse params: %w", err)
	}

	if params.Name == "" {
		return nil, errors.New("missing tool name")
	}

	action := vocabulary.DefaultKeywordAction
	resourceType := vocabulary.DefaultKeywordResourceType
	if p.vocab != nil {
		action = p.vocab.InferActionFromToolName(params.Name)
		resourceType = p.vocab.InferResourceTypeFromToolName(params.Name)
	}

	actorType := vocabulary.ActorUser
	if len(msg.Session.Roles) == 0 {
		actorType = vocabulary.ActorService
	}

	pii := false
	ev := intent.New(
		msg.Session.IdentityID,
		intent.Actor{ID: msg.Session.IdentityID, Type: actorType},
		action,
		intent.Resource{Type: resourceType, Name: resourceNameFromArgs(params.Arguments)},
		intent.Data{PII: &pii, Volume: vocabulary.VolumeSingle},
		intent.Risk{Authn: vocabulary.AuthnRequired},
		msg.Timestamp,
	)
	ev.ToolName = params.Name
	ev.ToolParams = params.Arguments
	return &ev, nil
}

// resourceNameFromArgs best-effort extracts a "path" or "name" argument as
// the resource name, matching original_source's argument-sniffing heuristic
// for free-form tool calls with no structured resource field.
func resourceNameFromArgs(args map[string]any) string {
	for _, key := range []string{"path", "name", "resource", "file", "key"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Compile-time check that PolicyInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*PolicyInterceptor)(nil)
