package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/intent"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/session"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
)

// PolicyActionInterceptor evaluates CanonicalActions against Design Boundary
// policies. It is the natively migrated version of proxy.PolicyInterceptor --
// it operates directly on CanonicalAction instead of going through
// LegacyAdapter, building a real Intent Event from the action's own fields
// and calling EvaluateIntent rather than the synthetic-intent Evaluate
// adapter. It proves the CANON-10 migration path: each interceptor can be
// individually rewritten to use CanonicalAction fields directly.
type PolicyActionInterceptor struct {
	policyEngine policy.PolicyEngine
	vocab        *vocabulary.Registry
	encoder      *semantic.Encoder
	sessions     *session.SessionService
	next         ActionInterceptor
	logger       *slog.Logger
}

// Compile-time check that PolicyActionInterceptor implements ActionInterceptor.
var _ ActionInterceptor = (*PolicyActionInterceptor)(nil)

// NewPolicyActionInterceptor creates a new PolicyActionInterceptor. vocab may
// be nil, in which case tool-name inference falls back to the vocabulary
// package's conservative defaults. encoder and sessions may both be nil, in
// which case drift tracking and call history are skipped entirely (the
// interceptor still enforces via policyEngine either way).
func NewPolicyActionInterceptor(
	engine policy.PolicyEngine,
	next ActionInterceptor,
	logger *slog.Logger,
	vocab *vocabulary.Registry,
	encoder *semantic.Encoder,
	sessions *session.SessionService,
) *PolicyActionInterceptor {
	return &PolicyActionInterceptor{
		policyEngine: engine,
		vocab:        vocab,
		encoder:      encoder,
		sessions:     sessions,
		next:         next,
		logger:       logger,
	}
}

// Intercept evaluates tool calls and HTTP requests against policies before passing
// to the next interceptor. Other action types pass through without policy evaluation.
func (p *PolicyActionInterceptor) Intercept(ctx context.Context, a *CanonicalAction) (*CanonicalAction, error) {
	// Only evaluate tool calls and HTTP requests (incl. WebSocket upgrades)
	if a.Type != ActionToolCall && a.Type != ActionHTTPRequest {
		return p.next.Intercept(ctx, a)
	}

	// Identity check: session must be set by AuthInterceptor upstream
	if a.Identity.SessionID == "" {
		p.logger.Warn("action without session context", "type", a.Type)
		return nil, proxy.ErrMissingSession
	}

	ev := p.buildIntentEvent(a)

	decision, err := p.policyEngine.EvaluateIntent(ctx, ev)
	if err != nil {
		p.logger.Error("policy evaluation failed",
			"error", err,
			"tool", a.Name,
			"session_id", a.Identity.SessionID,
		)
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	p.trackDrift(ctx, a.Identity.SessionID, ev)
	p.recordCall(ctx, a.Identity.SessionID, ev.ID, ev.Action, decision.Allowed)

	// Check decision
	if !decision.Allowed && !decision.RequiresApproval {
		p.logger.Info("tool call denied by policy",
			"tool", a.Name,
			"rule_id", decision.RuleID,
			"reason", decision.Reason,
			"session_id", a.Identity.SessionID,
			"identity_id", a.Identity.ID,
		)
		return nil, fmt.Errorf("%w: %s", proxy.ErrPolicyDenied, decision.Reason)
	}

	// Store decision in context for downstream interceptors (ApprovalInterceptor)
	ctx = policy.WithDecision(ctx, &decision)

	// Log decision
	if decision.RequiresApproval {
		p.logger.Info("tool call requires approval",
			"tool", a.Name,
			"rule_id", decision.RuleID,
			"session_id", a.Identity.SessionID,
			"timeout", decision.ApprovalTimeout,
		)
	} else {
		p.logger.Debug("tool call allowed by policy",
			"tool", a.Name,
			"rule_id", decision.RuleID,
			"session_id", a.Identity.SessionID,
		)
	}

	return p.next.Intercept(ctx, a)
}

// buildIntentEvent maps a CanonicalAction onto a canonical Intent Event,
// using the vocabulary registry to infer action/resource type from the
// action name, mirroring proxy.PolicyInterceptor.buildIntentEvent adapted to
// CanonicalAction's already-normalized fields.
func (p *PolicyActionInterceptor) buildIntentEvent(a *CanonicalAction) *intent.Event {
	actionVerb := vocabulary.DefaultKeywordAction
	resourceType := vocabulary.DefaultKeywordResourceType
	if p.vocab != nil {
		actionVerb = p.vocab.InferActionFromToolName(a.Name)
		resourceType = p.vocab.InferResourceTypeFromToolName(a.Name)
	}

	actorType := vocabulary.ActorUser
	if len(a.Identity.Roles) == 0 {
		actorType = vocabulary.ActorService
	}

	resourceName := resourceNameFromAction(a)

	pii := false
	ev := intent.New(
		a.Identity.ID,
		intent.Actor{ID: a.Identity.ID, Type: actorType},
		actionVerb,
		intent.Resource{Type: resourceType, Name: resourceName},
		intent.Data{PII: &pii, Volume: vocabulary.VolumeSingle},
		intent.Risk{Authn: vocabulary.AuthnRequired},
		a.RequestTime,
	)
	ev.ToolName = a.Name
	ev.ToolParams = a.Arguments
	return &ev
}

// resourceNameFromAction best-effort extracts a resource name from whichever
// of the CanonicalAction's WHAT/WHERE fields is populated: tool/HTTP
// arguments first (matching original_source's argument-sniffing heuristic),
// falling back to the destination path for HTTP requests with no args.
func resourceNameFromAction(a *CanonicalAction) string {
	for _, key := range []string{"path", "name", "resource", "file", "key"} {
		if v, ok := a.Arguments[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return a.Destination.Path
}

// trackDrift initialises the session baseline on the first enforceable
// intent and updates cumulative drift on every subsequent one. Side effect
// only: failures are logged by the session package itself and never affect
// the decision already made.
func (p *PolicyActionInterceptor) trackDrift(ctx context.Context, sessionID string, ev *intent.Event) {
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

func (p *PolicyActionInterceptor) recordCall(ctx context.Context, sessionID, requestID, actionName string, allowed bool) {
	if p.sessions == nil {
		return
	}
	if err := p.sessions.RecordCall(ctx, sessionID, requestID, actionName, allowed); err != nil {
		p.logger.Warn("failed to record call history", "error", err, "session_id", sessionID)
	}
}
