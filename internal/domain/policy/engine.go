package policy

import (
	"context"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/intent"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
)

// PolicyEngine evaluates intents against installed Design Boundaries.
// It is implemented by internal/domain/enforcement.Engine, and by
// internal/service.PolicyService, which delegates to an embedded Engine.
type PolicyEngine interface {
	// Evaluate evaluates a tool call against loaded policies, using the
	// legacy EvaluationContext shape for call sites that have not been
	// migrated to construct an intent.Event directly.
	Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error)
	// EvaluateIntent evaluates an already-constructed Intent Event directly,
	// the entry point used by the streaming proxy (C6).
	EvaluateIntent(ctx context.Context, ev *intent.Event) (Decision, error)
}

// PolicyStore persists and retrieves Design Boundaries (C3).
type PolicyStore interface {
	// GetAllPolicies returns all active policies.
	GetAllPolicies(ctx context.Context) ([]Policy, error)
	// GetPolicy returns a policy by ID.
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	// SavePolicy creates or updates a policy; the already-existing
	// created_at is preserved on update, updated_at is refreshed
	// (spec.md §4.3 "install").
	SavePolicy(ctx context.Context, p *Policy) error
	// DeletePolicy removes a policy by ID; idempotent.
	DeletePolicy(ctx context.Context, id string) error
	// GetPolicyWithRules is kept for interface-name continuity with the
	// teacher; Rule is retired, so this is equivalent to GetPolicy.
	GetPolicyWithRules(ctx context.Context, id string) (*Policy, error)
}

// AnchorStore is the anchor-tensor sibling of PolicyStore (spec.md §4.3):
// the encoded Rule Vector for each installed policy, and the consistent
// snapshot the enforcement engine reads.
type AnchorStore interface {
	// PutAnchors stores the encoded RuleVector for (tenantID, policyID).
	PutAnchors(ctx context.Context, tenantID, policyID string, rv semantic.RuleVector) error
	// GetAnchors retrieves the encoded RuleVector for (tenantID, policyID).
	GetAnchors(ctx context.Context, tenantID, policyID string) (semantic.RuleVector, bool, error)
	// DeleteAnchors removes the anchor payload; idempotent.
	DeleteAnchors(ctx context.Context, tenantID, policyID string) error
	// ActivePolicies returns the consistent (policy, anchors) snapshot used
	// by the enforcement engine: no reader ever observes a policy whose
	// anchor payload is absent or partially written (spec.md §4.3).
	ActivePolicies(ctx context.Context, tenantID string) ([]ActiveBoundary, error)
}

// ActiveBoundary pairs an installed policy with its encoded anchors.
type ActiveBoundary struct {
	Policy  Policy
	Anchors semantic.RuleVector
}
