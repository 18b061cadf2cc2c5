// Package session manages per-agent session state across MCP tool calls: the
// teacher's identity-backed session (ID/roles/expiry) and the Session &
// Drift Tracker (C5) baseline-vector/cumulative-drift/call-history state
// share one row, matching original_source's single agent_sessions table
// (original_source/management_plane/app/services/session_store.go).
package session

import (
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/auth"
)

// IntentVectorDim is the width of a C2-encoded intent vector (4 slots × 32),
// duplicated here rather than imported from internal/domain/semantic to keep
// this leaf domain package free of a dependency on the encoder.
const IntentVectorDim = 128

// MaxCallHistory bounds the in-memory call history per session
// (spec.md §4.5 "bounded CallHistory"); older entries are dropped FIFO.
const MaxCallHistory = 50

// AbsoluteMaxAge is the hard session age ceiling regardless of activity
// (spec.md §4.5 sweepExpired "OR created_at < now − 24h").
const AbsoluteMaxAge = 24 * time.Hour

// CallRecord is one entry in a session's bounded tool-call history
// (spec.md §4.5 recordCall).
type CallRecord struct {
	RequestID string
	Action    string
	Allowed   bool
	Timestamp time.Time
}

// Session tracks an authenticated agent's context across tool calls,
// including the Session & Drift Tracker state of spec.md §4.5.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string
	// IdentityID references the auth.Identity this session belongs to.
	IdentityID string
	// IdentityName is the human-readable name of the identity.
	IdentityName string
	// Roles are cached from the Identity for fast RBAC lookup.
	Roles []auth.Role
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the session will expire (UTC).
	ExpiresAt time.Time
	// LastAccess is the last time the session was used (UTC).
	LastAccess time.Time

	// HasBaseline is true once BaselineVector has been written; first
	// writer wins, never overwritten afterwards (spec.md §4.5 invariant).
	HasBaseline    bool
	BaselineVector [IntentVectorDim]float32
	// LastVector is overwritten on every updateDrift call.
	LastVector [IntentVectorDim]float32
	// CumulativeDrift is a monotone non-decreasing accumulator of per-call
	// drift (spec.md §4.5 invariant).
	CumulativeDrift float64

	// CallHistory is bounded to MaxCallHistory entries, FIFO-trimmed.
	CallHistory []CallRecord
	CallCount   int
}

// IsExpired reports whether the session has exceeded either its idle
// timeout or the absolute age ceiling (spec.md §4.5 sweepExpired "OR").
func (s *Session) IsExpired() bool {
	now := time.Now().UTC()
	return now.After(s.ExpiresAt) || now.Sub(s.CreatedAt) > AbsoluteMaxAge
}

// Refresh updates LastAccess and extends ExpiresAt by the given duration.
func (s *Session) Refresh(timeout time.Duration) {
	now := time.Now().UTC()
	s.LastAccess = now
	s.ExpiresAt = now.Add(timeout)
}
