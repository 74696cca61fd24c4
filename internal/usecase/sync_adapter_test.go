package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"turnaround-service/internal/domain/entity"
	syncbackend "turnaround-service/internal/interface/sync"
	"turnaround-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingApplier mimics the coordinator's revision guard: snapshots
// at or below the known revision come back ErrStaleRevision.
type recordingApplier struct {
	mu    sync.Mutex
	known map[string]int64
	snaps []entity.Snapshot
}

func (r *recordingApplier) ApplyExternal(_ context.Context, snap entity.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known == nil {
		r.known = make(map[string]int64)
	}
	if snap.Revision <= r.known[snap.FlightKey] {
		return entity.ErrStaleRevision
	}
	r.known[snap.FlightKey] = snap.Revision
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recordingApplier) applied() []entity.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.Snapshot(nil), r.snaps...)
}

// snapAt is snapFor with an explicit incarnation stamp.
func snapAt(key entity.FlightKey, registeredAt time.Time, revision int64) entity.Snapshot {
	snap := snapFor(key, revision)
	snap.RegisteredAt = registeredAt
	return snap
}

func newTestAdapter(t *testing.T) (*SyncAdapter, *syncbackend.MemoryBackend) {
	t.Helper()
	backend := syncbackend.NewMemoryBackend()
	adapter := NewSyncAdapter(backend, logger.NewNop(), nil, time.Second, time.Millisecond, 10*time.Millisecond)
	return adapter, backend
}

func TestPublishGuardsAgainstOutOfOrderRetry(t *testing.T) {
	adapter, backend := newTestAdapter(t)
	key := testKey("117")
	ctx := context.Background()

	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapFor(key, 2)}))

	// A delayed retry of an earlier revision must not clobber the
	// fresher value.
	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapFor(key, 1)}))

	stored, ok := backend.Value(key)
	require.True(t, ok)
	assert.Equal(t, int64(2), stored.Revision)

	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapFor(key, 3)}))
	stored, _ = backend.Value(key)
	assert.Equal(t, int64(3), stored.Revision)
}

func TestPublishFailureSurfacesSyncError(t *testing.T) {
	adapter, backend := newTestAdapter(t)
	backend.SetFailWrites(true)

	err := adapter.Publish(context.Background(), entity.TurnaroundChanged{Snapshot: snapFor(testKey("117"), 1)})
	var syncErr *entity.SyncError
	require.ErrorAs(t, err, &syncErr)

	// The failed write must not advance the guard: the retry goes out.
	backend.SetFailWrites(false)
	require.NoError(t, adapter.Publish(context.Background(), entity.TurnaroundChanged{Snapshot: snapFor(testKey("117"), 1)}))
	_, ok := backend.Value(testKey("117"))
	assert.True(t, ok)
}

func TestRetireDeletesBackendPath(t *testing.T) {
	adapter, backend := newTestAdapter(t)
	key := testKey("117")
	ctx := context.Background()

	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapFor(key, 1)}))

	final := snapFor(key, 2)
	final.Archived = true
	require.NoError(t, adapter.Retire(ctx, final))

	_, ok := backend.Value(key)
	assert.False(t, ok)
}

func TestRetiredKeyWritesThroughOnNewIncarnation(t *testing.T) {
	adapter, backend := newTestAdapter(t)
	key := testKey("117")
	ctx := context.Background()
	regA := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	regB := regA.Add(time.Minute)

	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapAt(key, regA, 2)}))
	final := snapAt(key, regA, 3)
	final.Archived = true
	require.NoError(t, adapter.Retire(ctx, final))
	_, ok := backend.Value(key)
	require.False(t, ok)

	// The key registered again: revisions restart at 1 and must not be
	// held back by the retired incarnation's mark.
	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapAt(key, regB, 1)}))
	stored, ok := backend.Value(key)
	require.True(t, ok)
	assert.Equal(t, int64(1), stored.Revision)
	assert.True(t, stored.RegisteredAt.Equal(regB))
}

func TestRunFiltersRetiredIncarnationEchoes(t *testing.T) {
	adapter, backend := newTestAdapter(t)
	key := testKey("117")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	regA := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	regB := regA.Add(time.Minute)

	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapAt(key, regA, 2)}))
	final := snapAt(key, regA, 3)
	final.Archived = true
	require.NoError(t, adapter.Retire(ctx, final))

	applier := &recordingApplier{}
	go adapter.Run(ctx, applier)

	// Late echoes of the retired incarnation are self-echoes and never
	// reach the applier; a foreign re-registration does.
	backend.Inject(snapAt(key, regA, 1))
	backend.Inject(snapAt(key, regA, 2))
	backend.Inject(final)
	backend.Inject(snapAt(key, regB, 1))

	require.Eventually(t, func() bool {
		return len(applier.applied()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	applied := applier.applied()
	require.Len(t, applied, 1)
	assert.Equal(t, int64(1), applied[0].Revision)
	assert.True(t, applied[0].RegisteredAt.Equal(regB))
}

func TestRunFiltersSelfEchoAndStale(t *testing.T) {
	adapter, backend := newTestAdapter(t)
	key := testKey("117")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Something this instance already published: the feed's initial
	// replay of it must be discarded as self-echo.
	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapFor(key, 2)}))

	applier := &recordingApplier{}
	go adapter.Run(ctx, applier)

	// A foreign writer moves the flight forward.
	backend.Inject(snapFor(key, 3))

	require.Eventually(t, func() bool {
		return len(applier.applied()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	applied := applier.applied()
	require.Len(t, applied, 1, "self-echo must not reach the applier")
	assert.Equal(t, int64(3), applied[0].Revision)

	// Replays at or below the known revision are dropped.
	backend.Inject(snapFor(key, 3))
	backend.Inject(snapFor(key, 1))
	backend.Inject(snapFor(key, 4))

	require.Eventually(t, func() bool {
		applied := applier.applied()
		return applied[len(applied)-1].Revision == 4
	}, 2*time.Second, 10*time.Millisecond)

	revisions := []int64{}
	for _, snap := range applier.applied() {
		revisions = append(revisions, snap.Revision)
	}
	assert.Equal(t, []int64{3, 4}, revisions)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		adapter.Run(ctx, &recordingApplier{})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRepublishAllRespectsRevisionGuard(t *testing.T) {
	adapter, backend := newTestAdapter(t)
	ctx := context.Background()
	k1, k2 := testKey("101"), testKey("202")

	require.NoError(t, adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snapFor(k1, 5)}))

	err := adapter.RepublishAll(ctx, []entity.Snapshot{snapFor(k1, 3), snapFor(k2, 1)})
	require.NoError(t, err)

	stored, _ := backend.Value(k1)
	assert.Equal(t, int64(5), stored.Revision, "republish must not downgrade")
	stored, ok := backend.Value(k2)
	require.True(t, ok)
	assert.Equal(t, int64(1), stored.Revision)
}
