package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/internal/domain/repository"
	"turnaround-service/pkg/logger"
	"turnaround-service/pkg/metrics"

	"github.com/cenkalti/backoff/v5"
)

// Applier receives foreign snapshots from the sync backend. The
// coordinator implements it.
type Applier interface {
	ApplyExternal(ctx context.Context, snap entity.Snapshot) error
}

// SnapshotSource exposes the current live snapshots; implemented by
// the coordinator. When the watch loop (re)connects, everything the
// source holds is republished through the revision guard so a backend
// that lost state during the outage catches up.
type SnapshotSource interface {
	Snapshots() []entity.Snapshot
}

// SyncAdapter bridges the coordinator to the sync backend: outbound
// publishes guarded against out-of-order retries, inbound snapshots
// filtered for self-echo and stale revisions before they reach the
// coordinator.
type SyncAdapter struct {
	backend        repository.SyncBackend
	logger         logger.Logger
	metrics        *metrics.Metrics
	publishTimeout time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration

	mu          sync.Mutex
	lastWritten map[string]writeMark
}

// writeMark records the newest snapshot successfully written for a
// key. Revisions restart at 1 when a key is archived and registered
// again, so the mark carries the incarnation stamp and revision
// comparisons never cross incarnations.
type writeMark struct {
	registeredAt time.Time
	revision     int64
}

// superseded reports whether the snapshot is at or below what this
// writer already pushed for the same incarnation of its key. A
// snapshot from a different incarnation is never superseded here;
// the coordinator orders incarnations by registration stamp.
func (a *SyncAdapter) superseded(snap entity.Snapshot) (writeMark, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mark, ok := a.lastWritten[snap.FlightKey]
	if !ok || !mark.registeredAt.Equal(snap.RegisteredAt) {
		return writeMark{}, false
	}
	return mark, snap.Revision <= mark.revision
}

// NewSyncAdapter creates a new sync adapter
func NewSyncAdapter(
	backend repository.SyncBackend,
	log logger.Logger,
	m *metrics.Metrics,
	publishTimeout, minBackoff, maxBackoff time.Duration,
) *SyncAdapter {
	if publishTimeout <= 0 {
		publishTimeout = 10 * time.Second
	}
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &SyncAdapter{
		backend:        backend,
		logger:         log,
		metrics:        m,
		publishTimeout: publishTimeout,
		minBackoff:     minBackoff,
		maxBackoff:     maxBackoff,
		lastWritten:    make(map[string]writeMark),
	}
}

// Publish writes the full snapshot to the backend. A snapshot at or
// below the last successfully written revision of the same incarnation
// is a no-op: retries must never push stale state over fresher state.
// A re-registered key carries a new registration stamp and writes
// through regardless of the retired incarnation's revisions.
func (a *SyncAdapter) Publish(ctx context.Context, ev entity.TurnaroundChanged) error {
	snap := ev.Snapshot

	if mark, stale := a.superseded(snap); stale {
		a.logger.Debug("Skipping publish of superseded snapshot",
			"flightKey", snap.FlightKey, "revision", snap.Revision, "lastWritten", mark.revision)
		if a.metrics != nil {
			a.metrics.StaleDiscarded.Inc()
		}
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, a.publishTimeout)
	defer cancel()

	start := time.Now()
	if err := a.backend.Write(wctx, snap); err != nil {
		if a.metrics != nil {
			a.metrics.PublishFailures.Inc()
		}
		return &entity.SyncError{Op: "write", Err: err}
	}
	if a.metrics != nil {
		a.metrics.PublishTime.Observe(time.Since(start).Seconds())
		a.metrics.SnapshotsPublished.Inc()
	}

	a.mu.Lock()
	mark, ok := a.lastWritten[snap.FlightKey]
	if !ok || !mark.registeredAt.Equal(snap.RegisteredAt) || snap.Revision > mark.revision {
		a.lastWritten[snap.FlightKey] = writeMark{registeredAt: snap.RegisteredAt, revision: snap.Revision}
	}
	a.mu.Unlock()
	return nil
}

// Retire publishes the final archived snapshot, then deletes the
// backend path. Remote instances learn of the archive from the
// snapshot, not the delete. The lastWritten mark is kept as a
// tombstone so late echoes of the retired incarnation stay filtered;
// a re-registration of the key stamps a new incarnation and is not
// held back by it.
func (a *SyncAdapter) Retire(ctx context.Context, snap entity.Snapshot) error {
	if err := a.Publish(ctx, entity.TurnaroundChanged{Snapshot: snap}); err != nil {
		return err
	}
	key, err := snap.Key()
	if err != nil {
		return &entity.SyncError{Op: "delete", Err: err}
	}
	dctx, cancel := context.WithTimeout(ctx, a.publishTimeout)
	defer cancel()
	if err := a.backend.Delete(dctx, key); err != nil {
		return &entity.SyncError{Op: "delete", Err: err}
	}
	return nil
}

// RepublishAll pushes every given snapshot through the usual revision
// guard. Used after a backend reconnect.
func (a *SyncAdapter) RepublishAll(ctx context.Context, snaps []entity.Snapshot) error {
	var errs []error
	for _, snap := range snaps {
		if err := a.Publish(ctx, entity.TurnaroundChanged{Snapshot: snap}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run consumes the backend change feed until ctx is cancelled. Each
// (re)connect gets a fresh feed that replays current values in full;
// the revision guards make the replay idempotent. Reconnects back off
// exponentially between attempts.
func (a *SyncAdapter) Run(ctx context.Context, target Applier) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = a.minBackoff
	expo.MaxInterval = a.maxBackoff

	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := a.backend.Watch(ctx)
		if err != nil {
			wait := expo.NextBackOff()
			a.logger.Warn("Sync watch failed, reconnecting", "error", err, "backoff", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		expo.Reset()
		if src, ok := target.(SnapshotSource); ok {
			if err := a.RepublishAll(ctx, src.Snapshots()); err != nil {
				a.logger.Warn("Republish after reconnect incomplete", "error", err)
			}
		}
		a.consume(ctx, stream, target)
		if ctx.Err() == nil {
			a.logger.Warn("Sync feed ended, resubscribing")
		}
	}
}

func (a *SyncAdapter) consume(ctx context.Context, stream <-chan entity.Snapshot, target Applier) {
	for snap := range stream {
		if _, stale := a.superseded(snap); stale {
			// Self-echo or replay of something this writer already
			// published.
			if a.metrics != nil {
				a.metrics.StaleDiscarded.Inc()
			}
			continue
		}

		err := target.ApplyExternal(ctx, snap)
		switch {
		case errors.Is(err, entity.ErrStaleRevision):
			if a.metrics != nil {
				a.metrics.StaleDiscarded.Inc()
			}
			a.logger.Debug("Discarded stale inbound snapshot",
				"flightKey", snap.FlightKey, "revision", snap.Revision)
		case err != nil:
			a.logger.Error("Failed to apply inbound snapshot",
				"flightKey", snap.FlightKey, "revision", snap.Revision, "error", err)
		default:
			if a.metrics != nil {
				a.metrics.ExternalApplied.Inc()
			}
		}
	}
}
