package usecase

import (
	"sync"
	"time"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/pkg/logger"
	"turnaround-service/pkg/metrics"

	"github.com/google/uuid"
)

// Filter selects which turnarounds a subscriber sees. Zero-value
// fields match everything.
type Filter struct {
	FlightKey *entity.FlightKey
	Airline   string
	DateFrom  time.Time
	DateTo    time.Time
}

// Matches reports whether a snapshot passes the filter.
func (f Filter) Matches(snap entity.Snapshot) bool {
	if f.FlightKey != nil && snap.FlightKey != f.FlightKey.String() {
		return false
	}
	if f.Airline != "" && snap.Airline != f.Airline {
		return false
	}
	if !f.DateFrom.IsZero() || !f.DateTo.IsZero() {
		key, err := snap.Key()
		if err != nil {
			return false
		}
		date, err := time.Parse("2006-01-02", key.Date)
		if err != nil {
			return false
		}
		if !f.DateFrom.IsZero() && date.Before(f.DateFrom) {
			return false
		}
		if !f.DateTo.IsZero() && date.After(f.DateTo) {
			return false
		}
	}
	return true
}

// Subscription is one observer's view: an initial snapshot of every
// matching turnaround, then live updates in revision order per key.
// When the subscriber lags, superseded snapshots are dropped in favor
// of the newest per key, so delivered state only moves forward.
type Subscription struct {
	ID     string
	filter Filter

	updates chan entity.Snapshot

	mu      sync.Mutex
	pending map[string]entity.Snapshot
	order   []string

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Updates is the subscriber-facing stream. It is closed on
// unsubscribe or registry shutdown.
func (s *Subscription) Updates() <-chan entity.Snapshot {
	return s.updates
}

// enqueue coalesces: a newer snapshot for a key already pending
// replaces it in place; an older one is dropped.
func (s *Subscription) enqueue(snap entity.Snapshot) {
	s.mu.Lock()
	if existing, ok := s.pending[snap.FlightKey]; ok {
		if snap.Supersedes(existing) {
			s.pending[snap.FlightKey] = snap
		}
	} else {
		s.pending[snap.FlightKey] = snap
		s.order = append(s.order, snap.FlightKey)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (entity.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return entity.Snapshot{}, false
	}
	key := s.order[0]
	s.order = s.order[1:]
	snap := s.pending[key]
	delete(s.pending, key)
	return snap, true
}

// pump drains pending snapshots to the updates channel. One goroutine
// per subscription, so a slow subscriber never blocks another.
func (s *Subscription) pump() {
	defer close(s.updates)
	for {
		snap, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.updates <- snap:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// ObserverRegistry fans accepted change events out to read-only
// subscribers. It keeps the latest snapshot per live key so a new
// subscriber starts from current state with no gap before its first
// live update.
type ObserverRegistry struct {
	logger  logger.Logger
	metrics *metrics.Metrics
	buffer  int

	mu     sync.Mutex
	subs   map[string]*Subscription
	latest map[string]entity.Snapshot
	closed bool
}

// NewObserverRegistry creates a new observer registry
func NewObserverRegistry(log logger.Logger, m *metrics.Metrics, buffer int) *ObserverRegistry {
	if buffer <= 0 {
		buffer = 64
	}
	return &ObserverRegistry{
		logger:  log,
		metrics: m,
		buffer:  buffer,
		subs:    make(map[string]*Subscription),
		latest:  make(map[string]entity.Snapshot),
	}
}

// Subscribe registers an observer. The current snapshot of every
// matching turnaround is enqueued before the subscription goes live;
// seeding and Notify are serialized on the registry lock, so there is
// no window where an update is missed.
func (r *ObserverRegistry) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		filter:  filter,
		updates: make(chan entity.Snapshot, r.buffer),
		pending: make(map[string]entity.Snapshot),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.stop()
		close(sub.updates)
		return sub
	}
	for _, snap := range r.latest {
		if filter.Matches(snap) {
			sub.enqueue(snap)
		}
	}
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	go sub.pump()

	if r.metrics != nil {
		r.metrics.ActiveObservers.Inc()
	}
	r.logger.Debug("Observer subscribed", "subscription", sub.ID)
	return sub
}

// Unsubscribe cancels one subscription; others are unaffected.
func (r *ObserverRegistry) Unsubscribe(id string) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	sub.stop()
	if r.metrics != nil {
		r.metrics.ActiveObservers.Dec()
	}
	r.logger.Debug("Observer unsubscribed", "subscription", id)
}

// Notify fans one accepted change out to matching subscribers and
// refreshes the latest-state cache. Archived snapshots are delivered
// once and then leave the cache, so later subscribers no longer see
// the flight.
func (r *ObserverRegistry) Notify(snap entity.Snapshot) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if snap.Archived {
		delete(r.latest, snap.FlightKey)
	} else if snap.Supersedes(r.latest[snap.FlightKey]) {
		r.latest[snap.FlightKey] = snap
	}
	for _, sub := range r.subs {
		if sub.filter.Matches(snap) {
			sub.enqueue(snap)
		}
	}
	r.mu.Unlock()
}

// Close stops every subscription. Used at session teardown.
func (r *ObserverRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
		if r.metrics != nil {
			r.metrics.ActiveObservers.Dec()
		}
	}
}
