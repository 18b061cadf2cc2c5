// Package intent contains the Intent Event type: the structured description
// of one tool-call or reasoning step that flows from the streaming proxy (C6)
// through the semantic encoder (C2) into the enforcement engine (C4).
package intent

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion pins the wire shape of an Event. New optional fields bump the
// minor version; nothing in this core rejects an unrecognised-but-known
// version, per spec.md §6.
type SchemaVersion string

const (
	SchemaV1_1 SchemaVersion = "v1.1"
	SchemaV1_2 SchemaVersion = "v1.2"
	SchemaV1_3 SchemaVersion = "v1.3"
)

// Actor identifies who or what is attempting the action.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"` // vocabulary.Actor{User,Service,LLM,Agent}
}

// Resource identifies what the action targets.
type Resource struct {
	Type     string `json:"type"`               // vocabulary.Resource{Database,File,API}
	Name     string `json:"name,omitempty"`     // optional
	Location string `json:"location,omitempty"` // optional
}

// Data describes the sensitivity/shape of the data the action touches.
type Data struct {
	Sensitivity []string `json:"sensitivity,omitempty"` // vocabulary.Sensitivity values
	PII         *bool    `json:"pii,omitempty"`         // nil = unknown/unspecified
	Volume      string   `json:"volume,omitempty"`       // vocabulary.Volume{Single,Bulk}
}

// Risk carries the authentication posture under which the action executes.
type Risk struct {
	Authn string `json:"authn"` // vocabulary.Authn{Required,NotRequired}
}

// RateLimitContext optionally carries the caller's observed rate-limit state;
// it has no effect on the decision pipeline itself but is preserved on the
// wire for downstream rate-limiting tooling, matching the teacher's proxy
// interceptor chain ordering (ratelimit runs before policy).
type RateLimitContext struct {
	WindowSeconds int `json:"window_seconds,omitempty"`
	CallsInWindow int `json:"calls_in_window,omitempty"`
}

// Event is the immutable, structured description of one tool-call or
// reasoning step (spec.md §3 "Intent Event"). Construct with New and never
// mutate afterwards; the encoder and canonical serialisation both assume
// this.
type Event struct {
	ID            string        `json:"id"`
	SchemaVersion SchemaVersion `json:"schema_version"`
	TenantID      string        `json:"tenant_id"`
	Timestamp     time.Time     `json:"timestamp"`

	Actor    Actor    `json:"actor"`
	Action   string   `json:"action"`
	Resource Resource `json:"resource"`
	Data     Data     `json:"data"`
	Risk     Risk     `json:"risk"`

	// Layer is a supplemented, optional tag (original_source's layered
	// enforcement tests) carried through on the wire and in evidence but
	// not consumed by the core decision logic.
	Layer string `json:"layer,omitempty"`

	ToolName   string         `json:"tool_name,omitempty"`
	ToolMethod string         `json:"tool_method,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`

	RateLimit *RateLimitContext `json:"rate_limit,omitempty"`
}

// New constructs an Event with a generated id, the current schema version,
// and the supplied timestamp. Callers are expected to have already mapped
// free-form values to canonical vocabulary terms (see vocabulary.Registry).
func New(tenantID string, actor Actor, action string, resource Resource, data Data, risk Risk, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		SchemaVersion: SchemaV1_3,
		TenantID:      tenantID,
		Timestamp:     at,
		Actor:         actor,
		Action:        action,
		Resource:      resource,
		Data:          data,
		Risk:          risk,
	}
}

// FormatToolCall renders "tool_name.tool_method" for slot-text assembly,
// defaulting the method to "unspecified_method" when absent, matching
// original_source's encoding.py _format_tool_call. Returns "" when no tool
// name is set.
func (e Event) FormatToolCall() string {
	if e.ToolName == "" {
		return ""
	}
	method := e.ToolMethod
	if method == "" {
		method = "unspecified_method"
	}
	return e.ToolName + "." + method
}
