package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
)

func newTestPolicyStore(t *testing.T) *PolicyStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinelgate.db")
	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPolicyStore(db)
}

func testPolicy(id, tenantID string) *policy.Policy {
	threshold := 0.5
	return &policy.Policy{
		ID:          id,
		TenantID:    tenantID,
		Name:        "Allow Authorized Pipelines",
		Status:      policy.StatusActive,
		Effect:      policy.EffectAllow,
		Type:        policy.KindMandatory,
		Priority:    10,
		Aggregation: policy.AggregationWeightedAvg,
		Thresholds:  policy.SliceScores{0.3, 0.2, 0.4, 0.15},
		Weights:     policy.DefaultWeights(),
		Constraints: policy.Constraints{
			Action:   policy.ActionConstraint{Actions: []string{"read"}},
			Resource: policy.ResourceConstraint{Types: []string{"database"}},
		},
		Scope:          policy.Scope{Domains: []string{"prod"}},
		DriftThreshold: &threshold,
		Notes:          "seeded for test",
	}
}

func TestPolicyStore_SaveAndGetPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestPolicyStore(t)

	p := testPolicy("policy-1", "tenant-a")
	if err := store.SavePolicy(ctx, p); err != nil {
		t.Fatalf("SavePolicy() error: %v", err)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("SavePolicy() did not stamp timestamps")
	}

	got, err := store.GetPolicy(ctx, "policy-1")
	if err != nil {
		t.Fatalf("GetPolicy() error: %v", err)
	}
	if got.Name != p.Name || got.TenantID != p.TenantID {
		t.Errorf("GetPolicy() = %+v, want matching %+v", got, p)
	}
	if got.Thresholds != p.Thresholds {
		t.Errorf("GetPolicy() thresholds = %v, want %v", got.Thresholds, p.Thresholds)
	}
	if got.DriftThreshold == nil || *got.DriftThreshold != *p.DriftThreshold {
		t.Errorf("GetPolicy() drift threshold = %v, want %v", got.DriftThreshold, p.DriftThreshold)
	}
	if len(got.Scope.Domains) != 1 || got.Scope.Domains[0] != "prod" {
		t.Errorf("GetPolicy() scope = %+v, want domains [prod]", got.Scope)
	}
}

func TestPolicyStore_SavePolicy_PreservesCreatedAtOnUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestPolicyStore(t)

	p := testPolicy("policy-1", "tenant-a")
	if err := store.SavePolicy(ctx, p); err != nil {
		t.Fatalf("SavePolicy() error: %v", err)
	}
	firstCreatedAt := p.CreatedAt

	update := testPolicy("policy-1", "tenant-a")
	update.Name = "Renamed"
	if err := store.SavePolicy(ctx, update); err != nil {
		t.Fatalf("SavePolicy() update error: %v", err)
	}
	if !update.CreatedAt.Equal(firstCreatedAt) {
		t.Errorf("SavePolicy() update changed CreatedAt: got %v, want %v", update.CreatedAt, firstCreatedAt)
	}

	got, err := store.GetPolicy(ctx, "policy-1")
	if err != nil {
		t.Fatalf("GetPolicy() error: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("GetPolicy() after update = %q, want %q", got.Name, "Renamed")
	}
}

func TestPolicyStore_GetPolicy_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestPolicyStore(t)

	if _, err := store.GetPolicy(context.Background(), "missing"); err != ErrPolicyNotFound {
		t.Errorf("GetPolicy() error = %v, want ErrPolicyNotFound", err)
	}
}

func TestPolicyStore_DeletePolicy_RemovesAnchorsToo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestPolicyStore(t)

	p := testPolicy("policy-1", "tenant-a")
	if err := store.SavePolicy(ctx, p); err != nil {
		t.Fatalf("SavePolicy() error: %v", err)
	}
	if err := store.PutAnchors(ctx, "tenant-a", "policy-1", semantic.RuleVector{}); err != nil {
		t.Fatalf("PutAnchors() error: %v", err)
	}

	if err := store.DeletePolicy(ctx, "policy-1"); err != nil {
		t.Fatalf("DeletePolicy() error: %v", err)
	}
	if _, err := store.GetPolicy(ctx, "policy-1"); err != ErrPolicyNotFound {
		t.Errorf("GetPolicy() after delete error = %v, want ErrPolicyNotFound", err)
	}
	if _, ok, err := store.GetAnchors(ctx, "tenant-a", "policy-1"); err != nil || ok {
		t.Errorf("GetAnchors() after delete = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	// Idempotent.
	if err := store.DeletePolicy(ctx, "policy-1"); err != nil {
		t.Errorf("DeletePolicy() second call error: %v", err)
	}
}

func TestPolicyStore_ActivePolicies_SkipsMissingAnchors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestPolicyStore(t)

	withAnchors := testPolicy("policy-with-anchors", "tenant-a")
	withoutAnchors := testPolicy("policy-without-anchors", "tenant-a")
	for _, p := range []*policy.Policy{withAnchors, withoutAnchors} {
		if err := store.SavePolicy(ctx, p); err != nil {
			t.Fatalf("SavePolicy() error: %v", err)
		}
	}
	rv := semantic.RuleVector{}
	rv.Slots[0].Count = 1
	if err := store.PutAnchors(ctx, "tenant-a", "policy-with-anchors", rv); err != nil {
		t.Fatalf("PutAnchors() error: %v", err)
	}

	active, err := store.ActivePolicies(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("ActivePolicies() error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ActivePolicies() returned %d boundaries, want 1", len(active))
	}
	if active[0].Policy.ID != "policy-with-anchors" {
		t.Errorf("ActivePolicies()[0].Policy.ID = %q, want %q", active[0].Policy.ID, "policy-with-anchors")
	}
	if active[0].Anchors.Slots[0].Count != 1 {
		t.Errorf("ActivePolicies()[0].Anchors.Slots[0].Count = %d, want 1", active[0].Anchors.Slots[0].Count)
	}
}

func TestPolicyStore_Populate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestPolicyStore(t)

	p := testPolicy("policy-1", "tenant-a")
	if err := store.SavePolicy(ctx, p); err != nil {
		t.Fatalf("SavePolicy() error: %v", err)
	}
	rv := semantic.RuleVector{}
	rv.Slots[1].Count = 2
	if err := store.PutAnchors(ctx, "tenant-a", "policy-1", rv); err != nil {
		t.Fatalf("PutAnchors() error: %v", err)
	}

	dest := memory.NewPolicyStore()
	if err := store.Populate(ctx, dest); err != nil {
		t.Fatalf("Populate() error: %v", err)
	}

	active, err := dest.ActivePolicies(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("ActivePolicies() on populated store error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ActivePolicies() after Populate() returned %d, want 1", len(active))
	}
	if active[0].Anchors.Slots[1].Count != 2 {
		t.Errorf("Populate() lost anchor payload: Slots[1].Count = %d, want 2", active[0].Anchors.Slots[1].Count)
	}
}
