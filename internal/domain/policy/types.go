// Package policy contains the Design Boundary / Policy domain types used by
// the Policy Store & Anchor Cache and consumed by the Enforcement Engine.
// The type and interface *names* here are the teacher's RBAC vocabulary
// (Policy/Rule/Decision/PolicyEngine/PolicyStore); their *field sets* are
// the semantic Design Boundary model.
package policy

import "time"

// Effect is the verdict a policy contributes when it matches an intent.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Action is the teacher's RBAC-era outcome enum, kept only for the
// human-in-the-loop approval queue (internal/domain/action.
// ApprovalInterceptor), which needs a timeout disposition distinct from
// Effect: "what happens if nobody answers the prompt in time" rather than
// "what a Design Boundary resolved to".
type Action string

const (
	ActionAllow            Action = "allow"
	ActionDeny             Action = "deny"
	ActionApprovalRequired Action = "approval_required"
)

// Kind distinguishes policies whose allow-match is required for an overall
// ALLOW (mandatory) from ones evaluated for evidence only (optional).
type Kind string

const (
	KindMandatory Kind = "mandatory"
	KindOptional  Kind = "optional"
)

// Status is the policy's administrative lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Aggregation selects how a policy's four per-slice similarities combine
// into one local decision (spec.md §4.4 "Local decision per policy").
type Aggregation string

const (
	AggregationMin         Aggregation = "min"
	AggregationWeightedAvg Aggregation = "weighted-avg"
)

// SliceScores holds one float per semantic slice, in vocabulary.Slots order
// (action, resource, data, risk).
type SliceScores [4]float64

// ActionConstraint is the allowed-value set for the action slice.
type ActionConstraint struct {
	Actions    []string `json:"actions"`
	ActorTypes []string `json:"actor_types"`
}

// ResourceConstraint is the allowed-value set for the resource slice.
type ResourceConstraint struct {
	Types     []string `json:"types"`
	Names     []string `json:"names,omitempty"`
	Locations []string `json:"locations,omitempty"`
}

// DataConstraint is the allowed-value set for the data slice. PII is a
// *bool so "unconstrained" is distinguishable from "must be false".
type DataConstraint struct {
	Sensitivity []string `json:"sensitivity"`
	PII         *bool    `json:"pii,omitempty"`
	Volume      string   `json:"volume,omitempty"`
}

// RiskConstraint is the allowed-value set for the risk slice.
type RiskConstraint struct {
	Authn string `json:"authn"`
}

// Scope carries cross-cutting selectors that aren't part of the four
// semantic slices but still gate applicability (DomainRule, spec.md §4.4).
type Scope struct {
	Domains []string `json:"domains,omitempty"`
}

// Constraints is the full allowed-value-set for a policy, one block per
// semantic slice plus the cross-cutting Scope.
type Constraints struct {
	Action   ActionConstraint   `json:"action"`
	Resource ResourceConstraint `json:"resource"`
	Data     DataConstraint     `json:"data"`
	Risk     RiskConstraint     `json:"risk"`
}

// ModificationSpec optionally rewrites tool-call params on an ALLOW verdict:
// a CEL boolean expression (guard) plus a map of param name -> CEL
// expression evaluated to the replacement value, evaluated by the repurposed
// internal/adapter/outbound/cel evaluator.
type ModificationSpec struct {
	Guard      string            `json:"guard,omitempty"`
	ParamExprs map[string]string `json:"param_exprs,omitempty"`
}

// Policy is the Design Boundary entity (spec.md §3): tenant-exclusive,
// shared by C3 (storage) and C4 (evaluation).
type Policy struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	Status Status `json:"status"`
	Effect Effect `json:"effect"`
	Type   Kind   `json:"type"`

	Priority int `json:"priority"`

	// Thresholds and Weights are per-slice (vocabulary.Slots order): each
	// in [0,1], each finite, never mutated after install (spec.md §3
	// invariant iv).
	Thresholds SliceScores `json:"thresholds"`
	Weights    SliceScores `json:"weights"`

	Aggregation     Aggregation `json:"aggregation"`
	GlobalThreshold *float64    `json:"global_threshold,omitempty"`

	Constraints Constraints `json:"constraints"`
	Scope       Scope       `json:"scope,omitempty"`

	DriftThreshold *float64          `json:"drift_threshold,omitempty"`
	Modification   *ModificationSpec `json:"modification,omitempty"`

	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultWeights returns the spec.md default per-slice weight of 1.0.
func DefaultWeights() SliceScores {
	return SliceScores{1, 1, 1, 1}
}

// EvidenceRecord is one policy's contribution to a Comparison Result's audit
// trail (spec.md §3 "Comparison Result"). Immutable once produced.
type EvidenceRecord struct {
	PolicyID        string      `json:"policy_id"`
	PolicyName      string      `json:"policy_name"`
	Effect          Effect      `json:"effect"`
	LocalDecision   bool        `json:"local_decision"`
	SliceSimilarity SliceScores `json:"slice_similarities"`
}

// Decision represents the outcome of an enforcement call. It carries both
// the legacy RBAC-style fields consumed by PolicyDenyError call sites
// (Allowed/Reason/HelpURL/HelpText) and the Comparison Result fields added
// for the semantic pipeline.
type Decision struct {
	// Allowed is true iff decision == ALLOW.
	Allowed bool
	// RuleID/RuleName preserve the teacher's PolicyDenyError surface; for
	// the semantic engine these are populated from the deciding policy (the
	// short-circuited deny, or the mandatory-allow set).
	RuleID   string
	RuleName string
	Reason   string
	HelpURL  string
	HelpText string

	// RequiresApproval/ApprovalTimeout preserve the teacher's human-in-the-loop
	// approval workflow surface (ApprovalInterceptor); the semantic
	// Enforcement Engine never sets these (its deny-first/mandatory-allow
	// pipeline has no "pending" outcome, only ALLOW or BLOCK), but admin
	// tooling can still construct a Decision with them set for the
	// approval-queue machinery kept in internal/domain/action.
	RequiresApproval      bool
	ApprovalTimeout       time.Duration
	ApprovalTimeoutAction Action

	// SliceSimilarities are the top-level 4 per-slice scores (spec.md §3
	// "Comparison Result"): on deny, the short-circuited deny policy's
	// similarities; on allow, the element-wise average of mandatory-allow
	// similarities; on fail-closed block with no deciding policy, zero.
	SliceSimilarities SliceScores
	PoliciesEvaluated int
	Evidence          []EvidenceRecord
	Timestamp         time.Time

	DriftScore     *float64
	ModifiedParams map[string]any
}
