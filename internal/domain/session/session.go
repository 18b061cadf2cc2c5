package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/auth"
)

// DefaultTimeout is the default session timeout.
const DefaultTimeout = 30 * time.Minute

// Config holds session service configuration.
type Config struct {
	// Timeout is the session expiration duration. Default: 30 minutes.
	Timeout time.Duration
}

// SessionService manages session lifecycle.
type SessionService struct {
	store   SessionStore
	timeout time.Duration
}

// NewSessionService creates a new SessionService with the given store and config.
func NewSessionService(store SessionStore, cfg Config) *SessionService {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &SessionService{
		store:   store,
		timeout: timeout,
	}
}

// Create generates a new session for an identity.
func (s *SessionService) Create(ctx context.Context, identity *auth.Identity) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &Session{
		ID:           id,
		IdentityID:   identity.ID,
		IdentityName: identity.Name,
		Roles:        identity.Roles,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.timeout),
		LastAccess:   now,
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Get retrieves a session by ID.
// Returns ErrSessionNotFound if the session doesn't exist.
func (s *SessionService) Get(ctx context.Context, id string) (*Session, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Double-check expiration (store might not enforce it)
	if session.IsExpired() {
		// Clean up expired session
		_ = s.store.Delete(ctx, id)
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Refresh extends session expiration and updates last access time.
func (s *SessionService) Refresh(ctx context.Context, id string) error {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if session.IsExpired() {
		_ = s.store.Delete(ctx, id)
		return ErrSessionNotFound
	}

	session.Refresh(s.timeout)

	if err := s.store.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	return nil
}

// Delete terminates a session.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// InitialiseBaseline sets the agent's baseline intent vector iff one is not
// already present (spec.md §4.5 "idempotent; first writer wins"). Used when
// an agent emits its first enforceable intent in a session.
func (s *SessionService) InitialiseBaseline(ctx context.Context, id string, vector [IntentVectorDim]float32) error {
	return s.store.MutateDrift(ctx, id, func(sess *Session) error {
		if sess.HasBaseline {
			return nil
		}
		sess.BaselineVector = vector
		sess.HasBaseline = true
		return nil
	})
}

// UpdateDrift computes the per-call semantic drift of vector against the
// session's baseline, accumulates it, and overwrites the last-seen vector
// (spec.md §4.5 updateDrift). Returns 0 without mutation if no baseline has
// been set yet. A session store error is logged and swallowed: drift is
// advisory, never safety-critical, so enforcement must proceed regardless
// (spec.md §7 "session store error on update").
func (s *SessionService) UpdateDrift(ctx context.Context, id string, vector [IntentVectorDim]float32) float64 {
	var drift float64
	err := s.store.MutateDrift(ctx, id, func(sess *Session) error {
		if !sess.HasBaseline {
			drift = 0
			return nil
		}
		d := 1 - dotProduct(sess.BaselineVector, vector)
		if d < 0 {
			d = 0
		}
		sess.CumulativeDrift += d
		sess.LastVector = vector
		sess.LastAccess = time.Now().UTC()
		drift = d
		return nil
	})
	if err != nil {
		slog.Warn("session: updateDrift store error, proceeding with drift=0", "session_id", id, "error", err)
		return 0
	}
	return drift
}

// RecordCall appends a call record to the session's bounded history and
// advances its call count and last-seen time (spec.md §4.5 recordCall).
func (s *SessionService) RecordCall(ctx context.Context, id, requestID, action string, allowed bool) error {
	return s.store.MutateDrift(ctx, id, func(sess *Session) error {
		sess.CallHistory = append(sess.CallHistory, CallRecord{
			RequestID: requestID,
			Action:    action,
			Allowed:   allowed,
			Timestamp: time.Now().UTC(),
		})
		if len(sess.CallHistory) > MaxCallHistory {
			sess.CallHistory = sess.CallHistory[len(sess.CallHistory)-MaxCallHistory:]
		}
		sess.CallCount++
		sess.LastAccess = time.Now().UTC()
		return nil
	})
}

// CumulativeDrift returns the session's running drift accumulator
// (spec.md §4.5 cumulativeDrift).
func (s *SessionService) CumulativeDrift(ctx context.Context, id string) (float64, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return sess.CumulativeDrift, nil
}

// dotProduct sums the element-wise products of two concatenated per-slot
// unit-normalised intent vectors and divides by the slot count, so the
// result is the mean per-slice cosine similarity between the two intents
// (spec.md §4.5 "their dot product equals the mean of slice cosines").
func dotProduct(a, b [IntentVectorDim]float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum / 4
}

// GenerateSessionID creates a cryptographically random session ID.
// Uses crypto/rand for unpredictability (SESS-05 requirement).
// Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}
