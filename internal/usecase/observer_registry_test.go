package usecase

import (
	"testing"
	"time"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapFor(key entity.FlightKey, revision int64) entity.Snapshot {
	return entity.Snapshot{
		FlightKey: key.String(),
		Airline:   key.Carrier,
		Revision:  revision,
		Readiness: entity.ReadinessPending,
	}
}

func newTestRegistry(t *testing.T, buffer int) *ObserverRegistry {
	t.Helper()
	r := NewObserverRegistry(logger.NewNop(), nil, buffer)
	t.Cleanup(r.Close)
	return r
}

func recv(t *testing.T, sub *Subscription) entity.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed unexpectedly")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return entity.Snapshot{}
	}
}

func TestSubscribeReceivesCurrentStateNotHistory(t *testing.T) {
	r := newTestRegistry(t, 16)
	key := testKey("117")

	// Three mutations happen before anyone subscribes.
	r.Notify(snapFor(key, 1))
	r.Notify(snapFor(key, 2))
	r.Notify(snapFor(key, 3))

	sub := r.Subscribe(Filter{})
	defer r.Unsubscribe(sub.ID)

	got := recv(t, sub)
	assert.Equal(t, int64(3), got.Revision, "initial snapshot must be current state, not a replay")

	select {
	case extra := <-sub.Updates():
		t.Fatalf("unexpected extra snapshot revision %d", extra.Revision)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLiveUpdatesFollowInitialSnapshot(t *testing.T) {
	r := newTestRegistry(t, 16)
	key := testKey("117")
	r.Notify(snapFor(key, 1))

	sub := r.Subscribe(Filter{})
	defer r.Unsubscribe(sub.ID)
	assert.Equal(t, int64(1), recv(t, sub).Revision)

	r.Notify(snapFor(key, 2))
	assert.Equal(t, int64(2), recv(t, sub).Revision)
}

func TestSlowSubscriberSeesMonotonicState(t *testing.T) {
	r := newTestRegistry(t, 1)
	key := testKey("117")

	sub := r.Subscribe(Filter{})
	defer r.Unsubscribe(sub.ID)

	// Burst without reading: intermediate revisions may coalesce away
	// but delivered state must only move forward and end current.
	for rev := int64(1); rev <= 6; rev++ {
		r.Notify(snapFor(key, rev))
	}

	var last int64
	for last != 6 {
		got := recv(t, sub)
		assert.Greater(t, got.Revision, last, "stale snapshot delivered after fresh")
		last = got.Revision
	}
}

func TestUnsubscribeDoesNotAffectOthers(t *testing.T) {
	r := newTestRegistry(t, 16)
	key := testKey("117")

	a := r.Subscribe(Filter{})
	b := r.Subscribe(Filter{})

	r.Unsubscribe(a.ID)

	r.Notify(snapFor(key, 1))
	assert.Equal(t, int64(1), recv(t, b).Revision)

	select {
	case _, ok := <-a.Updates():
		assert.False(t, ok, "unsubscribed stream should close")
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribed stream did not close")
	}
	r.Unsubscribe(b.ID)
}

func TestResubscribeReplaysCurrentSnapshot(t *testing.T) {
	r := newTestRegistry(t, 16)
	key := testKey("117")
	r.Notify(snapFor(key, 4))

	sub := r.Subscribe(Filter{})
	assert.Equal(t, int64(4), recv(t, sub).Revision)
	r.Unsubscribe(sub.ID)

	r.Notify(snapFor(key, 5))

	again := r.Subscribe(Filter{})
	defer r.Unsubscribe(again.ID)
	assert.Equal(t, int64(5), recv(t, again).Revision)
}

func TestArchivedFlightLeavesInitialState(t *testing.T) {
	r := newTestRegistry(t, 16)
	key := testKey("117")
	r.Notify(snapFor(key, 1))

	archived := snapFor(key, 2)
	archived.Archived = true
	r.Notify(archived)

	sub := r.Subscribe(Filter{})
	defer r.Unsubscribe(sub.ID)
	select {
	case snap := <-sub.Updates():
		t.Fatalf("archived flight should not seed new subscribers, got revision %d", snap.Revision)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFilterMatching(t *testing.T) {
	qr := testKey("117")
	ba := entity.NewFlightKey("BA", "560", time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name   string
		filter Filter
		snap   entity.Snapshot
		want   bool
	}{
		{"empty matches all", Filter{}, snapFor(qr, 1), true},
		{"airline match", Filter{Airline: "QR"}, snapFor(qr, 1), true},
		{"airline mismatch", Filter{Airline: "QR"}, snapFor(ba, 1), false},
		{"key match", Filter{FlightKey: &qr}, snapFor(qr, 1), true},
		{"key mismatch", Filter{FlightKey: &qr}, snapFor(ba, 1), false},
		{
			"date range includes",
			Filter{DateFrom: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)},
			snapFor(ba, 1),
			true,
		},
		{
			"date range excludes",
			Filter{DateTo: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)},
			snapFor(ba, 1),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.snap))
		})
	}
}

func TestRegistryFanOutRespectsFilters(t *testing.T) {
	r := newTestRegistry(t, 16)
	qr := testKey("117")
	ba := entity.NewFlightKey("BA", "560", time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC))

	qrOnly := r.Subscribe(Filter{Airline: "QR"})
	defer r.Unsubscribe(qrOnly.ID)
	all := r.Subscribe(Filter{})
	defer r.Unsubscribe(all.ID)

	r.Notify(snapFor(ba, 1))
	r.Notify(snapFor(qr, 1))

	got := recv(t, qrOnly)
	assert.Equal(t, qr.String(), got.FlightKey)

	first := recv(t, all)
	second := recv(t, all)
	assert.ElementsMatch(t,
		[]string{ba.String(), qr.String()},
		[]string{first.FlightKey, second.FlightKey},
	)
}
