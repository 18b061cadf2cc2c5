package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

// ErrDefaultPolicyDelete is returned when attempting to delete a seeded
// default policy.
var ErrDefaultPolicyDelete = errors.New("cannot delete a default policy")

// ErrPolicyNotFound is returned when a policy is not found.
var ErrPolicyNotFound = errors.New("policy not found")

// defaultPolicyNames protects the demo Design Boundaries installed by
// SeedDefaultPolicies from accidental deletion through the admin API.
var defaultPolicyNames = func() map[string]bool {
	names := make(map[string]bool)
	for _, p := range DefaultPolicies(DefaultTenantID) {
		names[p.Name] = true
	}
	return names
}()

// PolicyAdminService provides CRUD operations on Design Boundaries with
// default-policy protection and cache invalidation on every mutation.
//
// Design Boundaries are stored by the PolicyService's underlying
// PolicyStoreWithAnchors (cmd/start.go wires the in-memory store; the sqlite
// store satisfies the same interface) rather than the flat state.json
// PolicyEntry format the teacher used for its
// glob/CEL rules — that format has no room for Constraints, Thresholds, or
// an anchor payload, so it is not extended here. See LoadPoliciesFromState.
type PolicyAdminService struct {
	store         policy.PolicyStore
	policyService *PolicyService
	logger        *slog.Logger
}

// NewPolicyAdminService creates a new PolicyAdminService.
func NewPolicyAdminService(
	store policy.PolicyStore,
	stateStore *state.FileStateStore,
	policyService *PolicyService,
	logger *slog.Logger,
) *PolicyAdminService {
	_ = stateStore // kept for constructor-shape continuity with cmd/start.go; unused, see LoadPoliciesFromState.
	return &PolicyAdminService{
		store:         store,
		policyService: policyService,
		logger:        logger,
	}
}

// List returns all policies from the store.
func (s *PolicyAdminService) List(ctx context.Context) ([]policy.Policy, error) {
	return s.store.GetAllPolicies(ctx)
}

// Get returns a single policy by ID. Returns ErrPolicyNotFound if absent.
func (s *PolicyAdminService) Get(ctx context.Context, id string) (*policy.Policy, error) {
	p, err := s.store.GetPolicyWithRules(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrPolicyNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	if p == nil {
		return nil, ErrPolicyNotFound
	}
	return p, nil
}

// Create installs a new policy: assembles and encodes its anchor tensor,
// persists it, and invalidates the engine's decision cache.
func (s *PolicyAdminService) Create(ctx context.Context, p *policy.Policy) (*policy.Policy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if p.TenantID == "" {
		p.TenantID = DefaultTenantID
	}
	if p.Status == "" {
		p.Status = policy.StatusActive
	}

	if err := s.policyService.InstallPolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("install policy: %w", err)
	}
	s.policyService.InvalidateCache()

	s.logger.Info("policy created", "id", p.ID, "name", p.Name)
	return s.store.GetPolicy(ctx, p.ID)
}

// Update replaces an existing policy's Constraints/Thresholds/etc, preserving
// its ID and CreatedAt, and re-encodes its anchor tensor. Returns
// ErrPolicyNotFound if the policy does not exist.
func (s *PolicyAdminService) Update(ctx context.Context, id string, p *policy.Policy) (*policy.Policy, error) {
	existing, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrPolicyNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get existing policy: %w", err)
	}
	if existing == nil {
		return nil, ErrPolicyNotFound
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}

	p.ID = id
	p.TenantID = existing.TenantID
	p.CreatedAt = existing.CreatedAt
	if p.Status == "" {
		p.Status = existing.Status
	}

	if err := s.policyService.InstallPolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("install policy: %w", err)
	}
	s.policyService.InvalidateCache()

	s.logger.Info("policy updated", "id", id, "name", p.Name)
	return s.store.GetPolicy(ctx, id)
}

// Delete removes a policy by ID. Seeded default policies cannot be deleted.
// Returns ErrPolicyNotFound if the policy does not exist.
func (s *PolicyAdminService) Delete(ctx context.Context, id string) error {
	existing, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrPolicyNotFound) {
			return ErrPolicyNotFound
		}
		return fmt.Errorf("get policy: %w", err)
	}
	if existing == nil {
		return ErrPolicyNotFound
	}

	if defaultPolicyNames[existing.Name] {
		return ErrDefaultPolicyDelete
	}

	if err := s.policyService.DeletePolicy(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	s.policyService.InvalidateCache()

	s.logger.Info("policy deleted", "id", id)
	return nil
}

// LoadPoliciesFromState is a no-op under the Design Boundary model: the
// teacher's state.json PolicyEntry format is a flat glob-pattern/CEL-condition
// rule list with no field for Constraints, per-slice Thresholds/Weights, or
// an anchor payload, so there is nothing in it to translate into a Policy.
// It only logs how many legacy entries it ignores. cmd/start.go calls no
// sqlite.PolicyStore.Populate; the boundaries present at startup are the ones
// SeedDefaultPolicies installs.
func (s *PolicyAdminService) LoadPoliciesFromState(ctx context.Context, appState *state.AppState) error {
	if len(appState.Policies) == 0 {
		return nil
	}
	s.logger.Debug("ignoring legacy state.json policy entries, they are not translated into Design Boundaries", "count", len(appState.Policies))
	return nil
}
