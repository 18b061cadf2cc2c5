// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/enforcement"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/intent"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
)

// PolicyStoreWithAnchors is the persistence seam PolicyService needs: Design
// Boundary CRUD plus the anchor-tensor cache the enforcement engine reads.
// internal/adapter/outbound/memory.MemoryPolicyStore and
// internal/adapter/outbound/sqlite.PolicyStore both satisfy it.
type PolicyStoreWithAnchors interface {
	policy.PolicyStore
	policy.AnchorStore
}

// PolicyService is a thin CRUD/install/seed wrapper around
// internal/domain/enforcement.Engine: it owns the policy.PolicyEngine
// evaluation path by embedding an Engine, and adds the install-time step the
// engine itself never performs — assembling and encoding a policy's anchor
// texts from its Constraints (spec.md §4.2/§4.3 "install") — plus the admin
// CRUD and demo-tenant seeding surface the teacher's PolicyService exposed.
//
// This supersedes the teacher's CEL-condition/glob-ToolMatch evaluator: that
// machinery evaluated EvaluationContext against compiled RBAC rules directly,
// duplicating what enforcement.Engine now does against installed Design
// Boundaries. Evaluate/EvaluateIntent here are pure delegation.
type PolicyService struct {
	engine  *enforcement.Engine
	store   PolicyStoreWithAnchors
	encoder *semantic.Encoder
	logger  *slog.Logger
}

// NewPolicyService builds a PolicyService. store backs both policy CRUD and
// the anchor cache the embedded enforcement.Engine reads; encoder turns a
// policy's Constraints into anchor vectors at install time.
func NewPolicyService(store PolicyStoreWithAnchors, encoder *semantic.Encoder, opts enforcement.Options, logger *slog.Logger) *PolicyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyService{
		engine:  enforcement.New(store, encoder, opts),
		store:   store,
		encoder: encoder,
		logger:  logger,
	}
}

// Evaluate satisfies policy.PolicyEngine via the embedded Engine.
func (s *PolicyService) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	return s.engine.Evaluate(ctx, evalCtx)
}

// EvaluateIntent satisfies policy.PolicyEngine via the embedded Engine; this
// is the entry point the streaming proxy (C6) uses directly.
func (s *PolicyService) EvaluateIntent(ctx context.Context, ev *intent.Event) (policy.Decision, error) {
	return s.engine.EvaluateIntent(ctx, ev)
}

// InvalidateCache drops the embedded engine's cached decisions. Call this
// after any out-of-band policy mutation (admin CRUD) so a stale cached
// decision for a previously-seen intent doesn't survive the change.
func (s *PolicyService) InvalidateCache() {
	s.engine.InvalidateCache()
}

// GetAllPolicies returns every active policy across tenants.
func (s *PolicyService) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	return s.store.GetAllPolicies(ctx)
}

// GetPolicy returns a policy by ID.
func (s *PolicyService) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	return s.store.GetPolicy(ctx, id)
}

// DeletePolicy removes a policy and its anchor payload; idempotent. Both
// memory.MemoryPolicyStore and sqlite.PolicyStore already remove the anchor
// row as part of DeletePolicy, so no separate DeleteAnchors call is needed
// here.
func (s *PolicyService) DeletePolicy(ctx context.Context, id string) error {
	return s.store.DeletePolicy(ctx, id)
}

// InstallPolicy persists p and (re)computes its anchor tensor from its
// Constraints (spec.md §4.3 "install"). If p.ID is empty a new one is
// generated. Call this instead of store.SavePolicy directly whenever a
// policy's Constraints may have changed — SavePolicy alone leaves a stale or
// absent anchor payload, which ActivePolicies treats as "not installed"
// (spec.md §4.3 consistency guarantee) rather than an error.
func (s *PolicyService) InstallPolicy(ctx context.Context, p *policy.Policy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	anchorTexts := enforcement.AssembleBoundaryAnchors(p)
	rv, err := s.encoder.EncodeRuleVector(ctx, anchorTexts)
	if err != nil {
		return fmt.Errorf("policy service: encode anchors for %q: %w", p.ID, err)
	}

	if err := s.store.SavePolicy(ctx, p); err != nil {
		return fmt.Errorf("policy service: save policy %q: %w", p.ID, err)
	}
	if err := s.store.PutAnchors(ctx, p.TenantID, p.ID, rv); err != nil {
		return fmt.Errorf("policy service: put anchors for %q: %w", p.ID, err)
	}
	return nil
}

// DefaultTenantID is the tenant SeedDefaultPolicies installs demo boundaries
// under when the caller does not otherwise have a tenant (single-tenant OSS
// deployments, local dev, integration tests).
const DefaultTenantID = "default"

// DefaultPolicies returns the built-in demo Design Boundaries, grounded on
// original_source/scripts/seed_policies_v2.py's 13-policy seed set. Each
// seed's free-form op/target/risk_anchor natural-language match fields are
// re-expressed here as structured Constraints against the closed canonical
// vocabulary (spec.md §3) rather than carried over verbatim, since this
// system's anchor texts are assembled from Constraints by
// enforcement.AssembleBoundaryAnchors, not supplied as raw strings.
func DefaultPolicies(tenantID string) []*policy.Policy {
	pii := true
	noPII := false
	driftThreshold := 0.3

	return []*policy.Policy{
		{
			TenantID:    tenantID,
			Name:        "Allow Production Credential Access - Authorized Pipelines Only",
			Status:      policy.StatusActive,
			Effect:      policy.EffectAllow,
			Type:        policy.KindMandatory,
			Priority:    0,
			Aggregation: policy.AggregationWeightedAvg,
			Thresholds:  policy.SliceScores{0.33, 0.16, 0.44, 0.15},
			Weights:     policy.SliceScores{1.0, 1.0, 1.6, 1.0},
			Constraints: policy.Constraints{
				Action:   policy.ActionConstraint{Actions: []string{vocabulary.ActionRead}, ActorTypes: []string{vocabulary.ActorService, vocabulary.ActorAgent}},
				Resource: policy.ResourceConstraint{Types: []string{vocabulary.ResourceAPI}, Names: []string{"production-secrets-manager"}},
				Data:     policy.DataConstraint{Sensitivity: []string{vocabulary.SensitivityInternal}, PII: &noPII},
				Risk:     policy.RiskConstraint{Authn: vocabulary.AuthnRequired},
			},
			Notes: "Denied by default. Allowed only when session context confirms deployment or rotation authorization.",
		},
		{
			TenantID:    tenantID,
			Name:        "Allow PII Query - Approved Analytics Access",
			Status:      policy.StatusActive,
			Effect:      policy.EffectAllow,
			Type:        policy.KindMandatory,
			Priority:    10,
			Aggregation: policy.AggregationMin,
			Thresholds:  policy.SliceScores{0.8, 0.8, 0.8, 0.8},
			Weights:     policy.DefaultWeights(),
			Constraints: policy.Constraints{
				Action:   policy.ActionConstraint{Actions: []string{vocabulary.ActionRead}, ActorTypes: []string{vocabulary.ActorService}},
				Resource: policy.ResourceConstraint{Types: []string{vocabulary.ResourceDatabase}, Names: []string{"users-table"}},
				Data:     policy.DataConstraint{Sensitivity: []string{vocabulary.SensitivityInternal}, PII: &pii},
				Risk:     policy.RiskConstraint{Authn: vocabulary.AuthnRequired},
			},
			Notes: "Denied by default. Allowed when analyst has active data access approval for analytics.",
		},
		{
			TenantID:    tenantID,
			Name:        "Allow Bulk Export - Approved ETL Pipeline",
			Status:      policy.StatusDisabled,
			Effect:      policy.EffectAllow,
			Type:        policy.KindMandatory,
			Priority:    30,
			Aggregation: policy.AggregationMin,
			Thresholds:  policy.SliceScores{0.8, 0.8, 0.8, 0.8},
			Weights:     policy.DefaultWeights(),
			Constraints: policy.Constraints{
				Action:   policy.ActionConstraint{Actions: []string{vocabulary.ActionExport}, ActorTypes: []string{vocabulary.ActorService}},
				Resource: policy.ResourceConstraint{Types: []string{vocabulary.ResourceDatabase}, Names: []string{"customer-database"}},
				Data:     policy.DataConstraint{Sensitivity: []string{vocabulary.SensitivityInternal}, Volume: vocabulary.VolumeBulk},
				Risk:     policy.RiskConstraint{Authn: vocabulary.AuthnRequired},
			},
			DriftThreshold: &driftThreshold,
			Notes:          "Denied by default. Allowed when export is confirmed as part of a known approved pipeline.",
		},
		{
			TenantID:    tenantID,
			Name:        "Block File Encryption on Production File Systems",
			Status:      policy.StatusActive,
			Effect:      policy.EffectDeny,
			Type:        policy.KindMandatory,
			Priority:    1000,
			Aggregation: policy.AggregationMin,
			Thresholds:  policy.SliceScores{0.78, 0.78, 0.78, 0.8},
			Weights:     policy.DefaultWeights(),
			Constraints: policy.Constraints{
				Action:   policy.ActionConstraint{Actions: []string{vocabulary.ActionWrite, vocabulary.ActionDelete}, ActorTypes: []string{vocabulary.ActorAgent, vocabulary.ActorService, vocabulary.ActorLLM}},
				Resource: policy.ResourceConstraint{Types: []string{vocabulary.ResourceFile}},
				Data:     policy.DataConstraint{Sensitivity: []string{vocabulary.SensitivityInternal}, Volume: vocabulary.VolumeBulk},
				Risk:     policy.RiskConstraint{Authn: vocabulary.AuthnNotRequired},
			},
			Notes: "Hard block - any agent-initiated bulk file encryption is ransomware-class behavior.",
		},
		{
			TenantID:    tenantID,
			Name:        "Deny Shadow Copy or Backup Deletion",
			Status:      policy.StatusActive,
			Effect:      policy.EffectDeny,
			Type:        policy.KindMandatory,
			Priority:    1001,
			Aggregation: policy.AggregationMin,
			Thresholds:  policy.SliceScores{0.78, 0.78, 0.8, 0.8},
			Weights:     policy.DefaultWeights(),
			Constraints: policy.Constraints{
				Action:   policy.ActionConstraint{Actions: []string{vocabulary.ActionDelete}, ActorTypes: []string{vocabulary.ActorAgent, vocabulary.ActorService, vocabulary.ActorLLM}},
				Resource: policy.ResourceConstraint{Types: []string{vocabulary.ResourceFile}, Names: []string{"shadow-copy", "backup-volume"}},
				Data:     policy.DataConstraint{Sensitivity: []string{vocabulary.SensitivityInternal}},
				Risk:     policy.RiskConstraint{Authn: vocabulary.AuthnNotRequired},
			},
			Notes: "Shadow copy deletion is a canonical ransomware pre-encryption step. Always block.",
		},
		{
			TenantID:    tenantID,
			Name:        "Allow OSINT Collection - Authorized Threat Hunt",
			Status:      policy.StatusActive,
			Effect:      policy.EffectAllow,
			Type:        policy.KindMandatory,
			Priority:    40,
			Aggregation: policy.AggregationMin,
			Thresholds:  policy.SliceScores{0.8, 0.78, 0.8, 0.8},
			Weights:     policy.DefaultWeights(),
			Constraints: policy.Constraints{
				Action:   policy.ActionConstraint{Actions: []string{vocabulary.ActionRead}, ActorTypes: []string{vocabulary.ActorAgent}},
				Resource: policy.ResourceConstraint{Types: []string{vocabulary.ResourceAPI}},
				Data:     policy.DataConstraint{Sensitivity: []string{vocabulary.SensitivityPublic}, PII: &noPII},
				Risk:     policy.RiskConstraint{Authn: vocabulary.AuthnRequired},
			},
			DriftThreshold: &driftThreshold,
			Notes:          "Denied by default. Allowed when OSINT scope is confirmed as part of an authorized threat hunt.",
		},
	}
}

// SeedDefaultPolicies installs DefaultPolicies under tenantID if and only if
// no policies exist for that tenant (idempotent, mirrors the teacher's
// SeedDefaultPolicy contract). Each install goes through InstallPolicy so
// every seeded policy also gets a matching anchor payload — unlike the
// teacher's SaveRule loop, there is no separate per-rule persistence step.
func SeedDefaultPolicies(ctx context.Context, svc *PolicyService, tenantID string) error {
	existing, err := svc.store.ActivePolicies(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("policy service: check existing policies: %w", err)
	}
	if len(existing) > 0 {
		svc.logger.Debug("policies exist, skipping seed", "tenant_id", tenantID, "count", len(existing))
		return nil
	}

	defaults := DefaultPolicies(tenantID)
	for _, p := range defaults {
		if err := svc.InstallPolicy(ctx, p); err != nil {
			return fmt.Errorf("policy service: seed policy %q: %w", p.Name, err)
		}
	}
	svc.logger.Info("seeded default policies", "tenant_id", tenantID, "count", len(defaults))
	return nil
}

// Compile-time interface verification.
var _ policy.PolicyEngine = (*PolicyService)(nil)
