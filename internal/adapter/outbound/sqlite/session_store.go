package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/session"
)

// SessionStore implements session.SessionStore against the durable sqlite
// database (spec.md §6), grounded on original_source's agent_sessions
// table: call history as a JSON array, intent vectors packed as
// little-endian float32 BLOBs, everything in one row per session id
// (inserted by Create, rewritten by Update and MutateDrift).
type SessionStore struct {
	db *sql.DB

	// idLocks serialises MutateDrift per session id, the same discipline as
	// memory.MemorySessionStore (spec.md §4.5 concurrency invariant) — a
	// sqlite transaction alone would not prevent two goroutines in this
	// process from racing a read-modify-write on the same row.
	idLocks sync.Map
}

// NewSessionStore wraps an already-opened *sql.DB (see Open) as a
// session.SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new session row.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	rolesJSON, err := json.Marshal(sess.Roles)
	if err != nil {
		return fmt.Errorf("sqlite: marshal roles: %w", err)
	}
	historyJSON, err := json.Marshal(sess.CallHistory)
	if err != nil {
		return fmt.Errorf("sqlite: marshal call history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, identity_id, identity_name, roles_json, created_at, expires_at,
			last_access, has_baseline, baseline_vector, last_vector,
			cumulative_drift, call_history_json, call_count
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.IdentityID, sess.IdentityName, string(rolesJSON),
		sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(), sess.LastAccess.Unix(),
		boolToInt(sess.HasBaseline), packVector(sess.BaselineVector), packVector(sess.LastVector),
		sess.CumulativeDrift, string(historyJSON), sess.CallCount,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create session %s: %w", sess.ID, err)
	}
	return nil
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.get(ctx, s.db, id)
}

func (s *SessionStore) get(ctx context.Context, q queryer, id string) (*session.Session, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, identity_id, identity_name, roles_json, created_at, expires_at,
		       last_access, has_baseline, baseline_vector, last_vector,
		       cumulative_drift, call_history_json, call_count
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.IsExpired() {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// Update saves changes to an existing session.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	rolesJSON, err := json.Marshal(sess.Roles)
	if err != nil {
		return fmt.Errorf("sqlite: marshal roles: %w", err)
	}
	historyJSON, err := json.Marshal(sess.CallHistory)
	if err != nil {
		return fmt.Errorf("sqlite: marshal call history: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			identity_id = ?, identity_name = ?, roles_json = ?, expires_at = ?,
			last_access = ?, has_baseline = ?, baseline_vector = ?, last_vector = ?,
			cumulative_drift = ?, call_history_json = ?, call_count = ?
		WHERE id = ?`,
		sess.IdentityID, sess.IdentityName, string(rolesJSON), sess.ExpiresAt.Unix(),
		sess.LastAccess.Unix(), boolToInt(sess.HasBaseline), packVector(sess.BaselineVector),
		packVector(sess.LastVector), sess.CumulativeDrift, string(historyJSON), sess.CallCount,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update session %s: %w", sess.ID, err)
	}
	if n == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session row; idempotent.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete session %s: %w", id, err)
	}
	s.idLocks.Delete(id)
	return nil
}

// MutateDrift performs an atomic read-modify-write on the session row,
// serialised per id (spec.md §4.5 concurrency invariant), committed as one
// sqlite transaction.
func (s *SessionStore) MutateDrift(ctx context.Context, id string, fn func(*session.Session) error) error {
	lockAny, _ := s.idLocks.LoadOrStore(id, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: mutate drift %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.get(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}

	rolesJSON, err := json.Marshal(sess.Roles)
	if err != nil {
		return fmt.Errorf("sqlite: marshal roles: %w", err)
	}
	historyJSON, err := json.Marshal(sess.CallHistory)
	if err != nil {
		return fmt.Errorf("sqlite: marshal call history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			roles_json = ?, expires_at = ?, last_access = ?, has_baseline = ?,
			baseline_vector = ?, last_vector = ?, cumulative_drift = ?,
			call_history_json = ?, call_count = ?
		WHERE id = ?`,
		string(rolesJSON), sess.ExpiresAt.Unix(), sess.LastAccess.Unix(), boolToInt(sess.HasBaseline),
		packVector(sess.BaselineVector), packVector(sess.LastVector), sess.CumulativeDrift,
		string(historyJSON), sess.CallCount, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: mutate drift %s: %w", id, err)
	}
	return tx.Commit()
}

// CleanupExpired deletes sessions stale by idle timeout or absolute max age
// (original_source's cleanup_expired), returning the number of rows
// removed.
func (s *SessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE expires_at < ? OR created_at < ?`,
		now.Unix(), now.Add(-session.AbsoluteMaxAge).Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: cleanup expired: %w", err)
	}
	return res.RowsAffected()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess                       session.Session
		rolesJSON, historyJSON     string
		createdAt, expiresAt       int64
		lastAccess                 int64
		hasBaseline                int
		baselineBlob, lastBlob     []byte
	)
	if err := row.Scan(
		&sess.ID, &sess.IdentityID, &sess.IdentityName, &rolesJSON, &createdAt, &expiresAt,
		&lastAccess, &hasBaseline, &baselineBlob, &lastBlob,
		&sess.CumulativeDrift, &historyJSON, &sess.CallCount,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scan session: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sess.LastAccess = time.Unix(lastAccess, 0).UTC()
	sess.HasBaseline = hasBaseline != 0

	if err := json.Unmarshal([]byte(rolesJSON), &sess.Roles); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal roles: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &sess.CallHistory); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal call history: %w", err)
	}
	unpackVector(baselineBlob, &sess.BaselineVector)
	unpackVector(lastBlob, &sess.LastVector)

	return &sess, nil
}

// packVector serialises a 128-float32 intent vector as little-endian bytes,
// matching original_source's "128 x float32 little-endian bytes" BLOB
// layout.
func packVector(v [session.IntentVectorDim]float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(session.IntentVectorDim * 4)
	for _, f := range v {
		_ = binary.Write(buf, binary.LittleEndian, f)
	}
	return buf.Bytes()
}

// unpackVector decodes packVector's BLOB layout back into dst. A nil or
// short blob (no baseline written yet) leaves dst as the zero vector.
func unpackVector(data []byte, dst *[session.IntentVectorDim]float32) {
	if len(data) < session.IntentVectorDim*4 {
		return
	}
	r := bytes.NewReader(data)
	for i := range dst {
		_ = binary.Read(r, binary.LittleEndian, &dst[i])
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ session.SessionStore = (*SessionStore)(nil)
