package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
)

// ErrPolicyNotFound is returned when a lookup targets an unknown policy id.
var ErrPolicyNotFound = errors.New("policy not found")

// MemoryPolicyStore implements policy.PolicyStore and policy.AnchorStore
// with in-memory maps. This is the fast path the enforcement engine actually
// reads (spec.md §4.3) and the only policy store cmd/start.go wires in; its
// contents do not survive a restart. The sqlite adapter is a separate,
// durable implementation that can repopulate it via sqlite.PolicyStore.Populate.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*policy.Policy          // policy id -> Policy
	anchors  map[string]semantic.RuleVector     // policy id -> anchors
	byTenant map[string]map[string]struct{}     // tenant id -> set of policy ids
}

// NewPolicyStore creates a new in-memory policy store.
func NewPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		policies: make(map[string]*policy.Policy),
		anchors:  make(map[string]semantic.RuleVector),
		byTenant: make(map[string]map[string]struct{}),
	}
}

// GetAllPolicies returns all active policies across all tenants.
func (s *MemoryPolicyStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if p.Status == policy.StatusActive {
			result = append(result, *copyPolicy(p))
		}
	}
	return result, nil
}

// GetPolicy returns a policy by ID.
func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

// GetPolicyWithRules is equivalent to GetPolicy; Rule is retired from the
// Design Boundary model.
func (s *MemoryPolicyStore) GetPolicyWithRules(ctx context.Context, id string) (*policy.Policy, error) {
	return s.GetPolicy(ctx, id)
}

// SavePolicy creates or updates a policy. On update, CreatedAt is preserved
// from the existing row and UpdatedAt is refreshed, per spec.md §4.3
// "install".
func (s *MemoryPolicyStore) SavePolicy(ctx context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if existing, ok := s.policies[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.policies[p.ID] = copyPolicy(p)
	if s.byTenant[p.TenantID] == nil {
		s.byTenant[p.TenantID] = make(map[string]struct{})
	}
	s.byTenant[p.TenantID][p.ID] = struct{}{}
	return nil
}

// DeletePolicy removes a policy row and its anchor payload atomically;
// idempotent.
func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if ok {
		delete(s.byTenant[p.TenantID], id)
	}
	delete(s.policies, id)
	delete(s.anchors, id)
	return nil
}

// PutAnchors stores the encoded RuleVector for a policy. Call alongside
// SavePolicy under the same lock discipline so no reader ever observes a
// policy with a missing anchor payload (spec.md §4.3).
func (s *MemoryPolicyStore) PutAnchors(ctx context.Context, tenantID, policyID string, rv semantic.RuleVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[policyID] = rv
	return nil
}

// GetAnchors retrieves the encoded RuleVector for a policy.
func (s *MemoryPolicyStore) GetAnchors(ctx context.Context, tenantID, policyID string) (semantic.RuleVector, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rv, ok := s.anchors[policyID]
	return rv, ok, nil
}

// DeleteAnchors removes a policy's anchor payload; idempotent.
func (s *MemoryPolicyStore) DeleteAnchors(ctx context.Context, tenantID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.anchors, policyID)
	return nil
}

// ActivePolicies returns the consistent (policy, anchors) snapshot for a
// tenant used by the enforcement engine. A policy without a matching anchor
// payload is skipped rather than returned half-populated.
func (s *MemoryPolicyStore) ActivePolicies(ctx context.Context, tenantID string) ([]policy.ActiveBoundary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTenant[tenantID]
	result := make([]policy.ActiveBoundary, 0, len(ids))
	for id := range ids {
		p, ok := s.policies[id]
		if !ok || p.Status != policy.StatusActive {
			continue
		}
		anchors, ok := s.anchors[id]
		if !ok {
			continue
		}
		result = append(result, policy.ActiveBoundary{Policy: *copyPolicy(p), Anchors: anchors})
	}
	return result, nil
}

// AddPolicy adds a policy directly (for testing/seeding), bypassing
// timestamp bookkeeping.
func (s *MemoryPolicyStore) AddPolicy(p *policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = copyPolicy(p)
	if s.byTenant[p.TenantID] == nil {
		s.byTenant[p.TenantID] = make(map[string]struct{})
	}
	s.byTenant[p.TenantID][p.ID] = struct{}{}
}

func copyPolicy(p *policy.Policy) *policy.Policy {
	cp := *p
	cp.Thresholds = p.Thresholds
	cp.Weights = p.Weights
	cp.Constraints = p.Constraints
	if p.GlobalThreshold != nil {
		v := *p.GlobalThreshold
		cp.GlobalThreshold = &v
	}
	if p.DriftThreshold != nil {
		v := *p.DriftThreshold
		cp.DriftThreshold = &v
	}
	if p.Modification != nil {
		m := *p.Modification
		cp.Modification = &m
	}
	return &cp
}

// Compile-time interface verification.
var (
	_ policy.PolicyStore  = (*MemoryPolicyStore)(nil)
	_ policy.AnchorStore  = (*MemoryPolicyStore)(nil)
)
