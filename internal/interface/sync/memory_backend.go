package sync

import (
	"context"
	"errors"
	gosync "sync"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/internal/domain/repository"
)

// ErrBackendUnavailable is returned by a MemoryBackend whose writes
// have been failed via SetFailWrites.
var ErrBackendUnavailable = errors.New("sync backend unavailable")

// MemoryBackend is an in-process SyncBackend with the same contract as
// the mongo backend: last-writer-wins per key, Watch delivers current
// values first then live changes. Used by tests and offline mode.
type MemoryBackend struct {
	mu         gosync.Mutex
	values     map[string]entity.Snapshot
	watchers   map[int]chan entity.Snapshot
	nextWatch  int
	failWrites bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:   make(map[string]entity.Snapshot),
		watchers: make(map[int]chan entity.Snapshot),
	}
}

var _ repository.SyncBackend = (*MemoryBackend)(nil)

// SetFailWrites makes subsequent writes fail, simulating an outage.
func (b *MemoryBackend) SetFailWrites(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = fail
}

// Write stores the full snapshot and broadcasts it to watchers
func (b *MemoryBackend) Write(_ context.Context, snap entity.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return ErrBackendUnavailable
	}
	b.values[snap.FlightKey] = snap
	for _, ch := range b.watchers {
		select {
		case ch <- snap:
		default:
			// Watcher buffer full; the value remains readable on the
			// next Watch, matching the fresh-snapshot reconnect rule.
		}
	}
	return nil
}

// Delete removes the value for a key
func (b *MemoryBackend) Delete(_ context.Context, key entity.FlightKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return ErrBackendUnavailable
	}
	delete(b.values, key.String())
	return nil
}

// Value returns the currently stored snapshot for a key.
func (b *MemoryBackend) Value(key entity.FlightKey) (entity.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.values[key.String()]
	return snap, ok
}

// Inject stores and broadcasts a snapshot without the write guard,
// simulating a concurrent foreign writer.
func (b *MemoryBackend) Inject(snap entity.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[snap.FlightKey] = snap
	for _, ch := range b.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Watch delivers current values then live changes until ctx ends
func (b *MemoryBackend) Watch(ctx context.Context) (<-chan entity.Snapshot, error) {
	feed := make(chan entity.Snapshot, 256)

	b.mu.Lock()
	id := b.nextWatch
	b.nextWatch++
	b.watchers[id] = feed
	initial := make([]entity.Snapshot, 0, len(b.values))
	for _, snap := range b.values {
		initial = append(initial, snap)
	}
	b.mu.Unlock()

	out := make(chan entity.Snapshot)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.watchers, id)
			b.mu.Unlock()
		}()

		for _, snap := range initial {
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case snap := <-feed:
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
