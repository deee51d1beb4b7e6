// Package sessions persists agent state across process restarts. The
// state blob is opaque JSON; stores index only the bookkeeping columns
// needed for listing. Writes to the same thread id are serialized.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

// ErrNotFound is returned when a thread id has no saved session.
var ErrNotFound = errors.New("session not found")

// Record is one row of session metadata.
type Record struct {
	ThreadID     string    `json:"thread_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store is the session persistence interface.
type Store interface {
	// Save upserts the state for its thread id.
	Save(ctx context.Context, state *models.AgentState) error

	// Load returns the saved state, or ErrNotFound.
	Load(ctx context.Context, threadID string) (*models.AgentState, error)

	// List returns metadata for all saved sessions, newest first.
	List(ctx context.Context) ([]Record, error)

	// Delete removes a session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, threadID string) error

	// Close releases store resources.
	Close() error
}
