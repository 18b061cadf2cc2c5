package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
)

// ErrPolicyNotFound mirrors memory.ErrPolicyNotFound for callers that only
// depend on this package.
var ErrPolicyNotFound = errors.New("policy not found")

// PolicyStore implements policy.PolicyStore and policy.AnchorStore against
// a durable sqlite database (spec.md §6). It is the system of record;
// internal/adapter/outbound/memory.MemoryPolicyStore is the fast snapshot
// the Enforcement Engine reads, repopulated from this store at startup via
// Populate.
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore wraps an already-opened *sql.DB (see Open) as a
// policy.PolicyStore/policy.AnchorStore.
func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// GetAllPolicies returns every active policy across all tenants.
func (s *PolicyStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, policy_id, name, status, effect, type, priority,
		       aggregation, global_threshold, thresholds_json, weights_json,
		       constraints_json, scope_json, drift_threshold,
		       modification_json, notes, created_at, updated_at
		FROM policies WHERE status = ?`, string(policy.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite: get all policies: %w", err)
	}
	defer rows.Close()

	var result []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetPolicy returns a policy by id, searching across all tenants (the id is
// globally unique; tenant_id is part of the primary key only so a single
// index serves both point lookups and tenant scans).
func (s *PolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, policy_id, name, status, effect, type, priority,
		       aggregation, global_threshold, thresholds_json, weights_json,
		       constraints_json, scope_json, drift_threshold,
		       modification_json, notes, created_at, updated_at
		FROM policies WHERE policy_id = ?`, id)

	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPolicyWithRules is kept for PolicyStore interface-name continuity;
// Rule is retired from the Design Boundary model, so this equals GetPolicy.
func (s *PolicyStore) GetPolicyWithRules(ctx context.Context, id string) (*policy.Policy, error) {
	return s.GetPolicy(ctx, id)
}

// SavePolicy inserts or updates a policy row, preserving created_at on
// update (spec.md §4.3 "install").
func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.Policy) error {
	now := time.Now().UTC()
	if existing, err := s.GetPolicy(ctx, p.ID); err == nil {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	thresholdsJSON, err := json.Marshal(p.Thresholds)
	if err != nil {
		return fmt.Errorf("sqlite: marshal thresholds: %w", err)
	}
	weightsJSON, err := json.Marshal(p.Weights)
	if err != nil {
		return fmt.Errorf("sqlite: marshal weights: %w", err)
	}
	constraintsJSON, err := json.Marshal(p.Constraints)
	if err != nil {
		return fmt.Errorf("sqlite: marshal constraints: %w", err)
	}
	var scopeJSON, modificationJSON []byte
	if len(p.Scope.Domains) > 0 {
		if scopeJSON, err = json.Marshal(p.Scope); err != nil {
			return fmt.Errorf("sqlite: marshal scope: %w", err)
		}
	}
	if p.Modification != nil {
		if modificationJSON, err = json.Marshal(p.Modification); err != nil {
			return fmt.Errorf("sqlite: marshal modification: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (
			tenant_id, policy_id, name, status, effect, type, priority,
			aggregation, global_threshold, thresholds_json, weights_json,
			constraints_json, scope_json, drift_threshold, modification_json,
			notes, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(tenant_id, policy_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			effect = excluded.effect,
			type = excluded.type,
			priority = excluded.priority,
			aggregation = excluded.aggregation,
			global_threshold = excluded.global_threshold,
			thresholds_json = excluded.thresholds_json,
			weights_json = excluded.weights_json,
			constraints_json = excluded.constraints_json,
			scope_json = excluded.scope_json,
			drift_threshold = excluded.drift_threshold,
			modification_json = excluded.modification_json,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		p.TenantID, p.ID, p.Name, string(p.Status), string(p.Effect), string(p.Type), p.Priority,
		string(p.Aggregation), nullFloat(p.GlobalThreshold), string(thresholdsJSON), string(weightsJSON),
		string(constraintsJSON), nullString(scopeJSON), nullFloat(p.DriftThreshold), nullString(modificationJSON),
		p.Notes, p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save policy %s: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy removes a policy row and its anchor payload; idempotent.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: delete policy %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE policy_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete policy %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM anchor_payloads WHERE policy_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete anchors %s: %w", id, err)
	}
	return tx.Commit()
}

// PutAnchors stores the encoded RuleVector for (tenantID, policyID).
func (s *PolicyStore) PutAnchors(ctx context.Context, tenantID, policyID string, rv semantic.RuleVector) error {
	data, err := json.Marshal(rv)
	if err != nil {
		return fmt.Errorf("sqlite: marshal anchors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anchor_payloads (tenant_id, policy_id, anchors_json, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(tenant_id, policy_id) DO UPDATE SET
			anchors_json = excluded.anchors_json,
			updated_at = excluded.updated_at`,
		tenantID, policyID, string(data), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: put anchors %s: %w", policyID, err)
	}
	return nil
}

// GetAnchors retrieves the encoded RuleVector for (tenantID, policyID).
func (s *PolicyStore) GetAnchors(ctx context.Context, tenantID, policyID string) (semantic.RuleVector, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT anchors_json FROM anchor_payloads WHERE tenant_id = ? AND policy_id = ?`,
		tenantID, policyID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return semantic.RuleVector{}, false, nil
	}
	if err != nil {
		return semantic.RuleVector{}, false, fmt.Errorf("sqlite: get anchors %s: %w", policyID, err)
	}
	var rv semantic.RuleVector
	if err := json.Unmarshal([]byte(data), &rv); err != nil {
		return semantic.RuleVector{}, false, fmt.Errorf("sqlite: unmarshal anchors %s: %w", policyID, err)
	}
	return rv, true, nil
}

// DeleteAnchors removes a policy's anchor payload; idempotent.
func (s *PolicyStore) DeleteAnchors(ctx context.Context, tenantID, policyID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM anchor_payloads WHERE tenant_id = ? AND policy_id = ?`, tenantID, policyID)
	if err != nil {
		return fmt.Errorf("sqlite: delete anchors %s: %w", policyID, err)
	}
	return nil
}

// ActivePolicies returns the consistent (policy, anchors) snapshot for a
// tenant; a policy row without a matching anchor payload is skipped, same
// fail-safe as the in-memory store.
func (s *PolicyStore) ActivePolicies(ctx context.Context, tenantID string) ([]policy.ActiveBoundary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, policy_id, name, status, effect, type, priority,
		       aggregation, global_threshold, thresholds_json, weights_json,
		       constraints_json, scope_json, drift_threshold,
		       modification_json, notes, created_at, updated_at
		FROM policies WHERE tenant_id = ? AND status = ?`, tenantID, string(policy.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite: active policies %s: %w", tenantID, err)
	}
	defer rows.Close()

	var result []policy.ActiveBoundary
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		anchors, ok, err := s.GetAnchors(ctx, tenantID, p.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		result = append(result, policy.ActiveBoundary{Policy: p, Anchors: anchors})
	}
	return result, rows.Err()
}

// Populate repopulates an in-memory snapshot store from durable storage,
// called once at startup before the Enforcement Engine begins serving
// traffic (spec.md §6 "sqlite is the durable source of truth; on startup
// the consistent snapshot is repopulated from it").
func (s *PolicyStore) Populate(ctx context.Context, dest *memory.MemoryPolicyStore) error {
	policies, err := s.GetAllPolicies(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: populate: %w", err)
	}
	for i := range policies {
		p := policies[i]
		dest.AddPolicy(&p)
		anchors, ok, err := s.GetAnchors(ctx, p.TenantID, p.ID)
		if err != nil {
			return fmt.Errorf("sqlite: populate anchors for %s: %w", p.ID, err)
		}
		if ok {
			if err := dest.PutAnchors(ctx, p.TenantID, p.ID, anchors); err != nil {
				return fmt.Errorf("sqlite: populate anchors for %s: %w", p.ID, err)
			}
		}
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (policy.Policy, error) {
	var (
		p                        policy.Policy
		status, effect, kind     string
		aggregation              string
		globalThreshold          sql.NullFloat64
		thresholdsJSON           string
		weightsJSON              string
		constraintsJSON          string
		scopeJSON                sql.NullString
		driftThreshold           sql.NullFloat64
		modificationJSON         sql.NullString
		notes                    sql.NullString
		createdAtUnix, updatedAtUnix int64
	)
	if err := row.Scan(
		&p.TenantID, &p.ID, &p.Name, &status, &effect, &kind, &p.Priority,
		&aggregation, &globalThreshold, &thresholdsJSON, &weightsJSON,
		&constraintsJSON, &scopeJSON, &driftThreshold, &modificationJSON,
		&notes, &createdAtUnix, &updatedAtUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.Policy{}, err
		}
		return policy.Policy{}, fmt.Errorf("sqlite: scan policy: %w", err)
	}

	p.Status = policy.Status(status)
	p.Effect = policy.Effect(effect)
	p.Type = policy.Kind(kind)
	p.Aggregation = policy.Aggregation(aggregation)
	p.Notes = notes.String
	p.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()

	if globalThreshold.Valid {
		v := globalThreshold.Float64
		p.GlobalThreshold = &v
	}
	if driftThreshold.Valid {
		v := driftThreshold.Float64
		p.DriftThreshold = &v
	}
	if err := json.Unmarshal([]byte(thresholdsJSON), &p.Thresholds); err != nil {
		return policy.Policy{}, fmt.Errorf("sqlite: unmarshal thresholds: %w", err)
	}
	if err := json.Unmarshal([]byte(weightsJSON), &p.Weights); err != nil {
		return policy.Policy{}, fmt.Errorf("sqlite: unmarshal weights: %w", err)
	}
	if err := json.Unmarshal([]byte(constraintsJSON), &p.Constraints); err != nil {
		return policy.Policy{}, fmt.Errorf("sqlite: unmarshal constraints: %w", err)
	}
	if scopeJSON.Valid && scopeJSON.String != "" {
		if err := json.Unmarshal([]byte(scopeJSON.String), &p.Scope); err != nil {
			return policy.Policy{}, fmt.Errorf("sqlite: unmarshal scope: %w", err)
		}
	}
	if modificationJSON.Valid && modificationJSON.String != "" {
		var m policy.ModificationSpec
		if err := json.Unmarshal([]byte(modificationJSON.String), &m); err != nil {
			return policy.Policy{}, fmt.Errorf("sqlite: unmarshal modification: %w", err)
		}
		p.Modification = &m
	}
	return p, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Compile-time interface verification.
var (
	_ policy.PolicyStore = (*PolicyStore)(nil)
	_ policy.AnchorStore = (*PolicyStore)(nil)
)
