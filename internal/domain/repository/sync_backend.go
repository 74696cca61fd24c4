package repository

import (
	"context"

	"turnaround-service/internal/domain/entity"
)

// SyncBackend is the external real-time store. Values are full
// turnaround snapshots keyed by flight key; the backend resolves
// concurrent writes last-writer-wins per key, so revision ordering is
// enforced by the caller, not here.
type SyncBackend interface {
	// Write stores the full snapshot under its flight key.
	Write(ctx context.Context, snap entity.Snapshot) error
	// Delete removes the value for a key.
	Delete(ctx context.Context, key entity.FlightKey) error
	// Watch opens a fresh change feed: the current value of every key
	// first, then live changes, until ctx is cancelled. Each call is an
	// independent subscription; there is no resume-from-cursor.
	Watch(ctx context.Context) (<-chan entity.Snapshot, error)
}
