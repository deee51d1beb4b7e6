package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/haasonsaas/loom/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	thread_id     TEXT PRIMARY KEY,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	state_blob    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

// SQLiteStore persists sessions in a single SQLite file. Writes to the
// same thread id are serialized with per-key mutexes; SQLite handles
// cross-thread isolation.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore opens (and migrates) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *SQLiteStore) lockFor(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[threadID] = l
	}
	return l
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, state *models.AgentState) error {
	if state.ThreadID == "" {
		return fmt.Errorf("state has no thread id")
	}
	l := s.lockFor(state.ThreadID)
	l.Lock()
	defer l.Unlock()

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (thread_id, created_at, updated_at, message_count, state_blob)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			state_blob = excluded.state_blob`,
		state.ThreadID, now, now, len(state.Messages), string(blob))
	if err != nil {
		return fmt.Errorf("save session %s: %w", state.ThreadID, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*models.AgentState, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_blob FROM sessions WHERE thread_id = ?`, threadID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", threadID, err)
	}
	var state models.AgentState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("deserialize session %s: %w", threadID, err)
	}
	return &state, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, created_at, updated_at, message_count
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ThreadID, &r.CreatedAt, &r.UpdatedAt, &r.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	l := s.lockFor(threadID)
	l.Lock()
	defer l.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete session %s: %w", threadID, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
