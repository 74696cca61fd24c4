package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/internal/domain/repository"
	"turnaround-service/pkg/logger"
	"turnaround-service/pkg/metrics"
)

// Capability is the trust boundary handed down from the upstream auth
// layer: whether the caller is the ground-operations control layer,
// and who they are for audit fields.
type Capability struct {
	Actor   string
	Control bool
}

// flightSlot owns one turnaround. Its mutex serializes all commands
// against the key; different keys never contend.
type flightSlot struct {
	mu    sync.Mutex
	agg   *entity.Turnaround
	rules *entity.RuleSet
}

// Coordinator is the authoritative owner of the key to aggregate
// mapping. It validates the caller capability, applies commands in
// submission order per key, publishes to the sync backend before
// notifying local observers, and rolls back on publish failure.
type Coordinator struct {
	rulesets repository.RuleSetRepository
	airlines repository.AirlineRepository
	archive  repository.ArchiveRepository
	adapter  *SyncAdapter
	registry *ObserverRegistry
	logger   logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	flights map[entity.FlightKey]*flightSlot

	regMu   sync.Mutex
	lastReg time.Time

	rulesMu    sync.Mutex
	rulesCache map[string]*entity.RuleSet
}

// NewCoordinator creates a new coordinator. airlines and archive may
// be nil when display names or archival are not wired (tests).
func NewCoordinator(
	rulesets repository.RuleSetRepository,
	airlines repository.AirlineRepository,
	archive repository.ArchiveRepository,
	adapter *SyncAdapter,
	registry *ObserverRegistry,
	log logger.Logger,
	m *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		rulesets:   rulesets,
		airlines:   airlines,
		archive:    archive,
		adapter:    adapter,
		registry:   registry,
		logger:     log,
		metrics:    m,
		now:        time.Now,
		flights:    make(map[entity.FlightKey]*flightSlot),
		rulesCache: make(map[string]*entity.RuleSet),
	}
}

// Submit validates and applies one control-layer command. The
// returned snapshot is the post-mutation state.
func (c *Coordinator) Submit(ctx context.Context, caller Capability, cmd entity.Command) (entity.Snapshot, error) {
	if !caller.Control {
		c.countRejection(entity.ErrUnauthorized)
		return entity.Snapshot{}, entity.ErrUnauthorized
	}

	switch cmd := cmd.(type) {
	case entity.RegisterFlight:
		return c.register(ctx, cmd)
	case entity.Archive:
		return c.archiveFlight(ctx, cmd)
	default:
		return c.mutate(ctx, cmd)
	}
}

func (c *Coordinator) register(ctx context.Context, cmd entity.RegisterFlight) (entity.Snapshot, error) {
	rules, err := c.ruleset(ctx, cmd.Airline)
	if err != nil {
		c.countRejection(err)
		return entity.Snapshot{}, err
	}

	airlineName := ""
	if c.airlines != nil {
		if airline, err := c.airlines.GetByCode(ctx, cmd.Airline); err == nil {
			airlineName = airline.Name
		} else {
			c.logger.Warn("No display name for airline", "code", cmd.Airline, "error", err)
		}
	}

	agg, err := entity.NewTurnaround(cmd.Flight, airlineName, cmd.Schedule, cmd.Details, rules, c.registrationStamp())
	if err != nil {
		c.countRejection(err)
		return entity.Snapshot{}, err
	}

	slot := &flightSlot{agg: agg, rules: rules}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	c.mu.Lock()
	if _, exists := c.flights[cmd.Flight]; exists {
		c.mu.Unlock()
		c.countRejection(entity.ErrDuplicateFlight)
		return entity.Snapshot{}, entity.ErrDuplicateFlight
	}
	c.flights[cmd.Flight] = slot
	c.mu.Unlock()

	snap := agg.Snapshot()
	if err := c.adapter.Publish(ctx, entity.TurnaroundChanged{Snapshot: snap}); err != nil {
		c.mu.Lock()
		delete(c.flights, cmd.Flight)
		c.mu.Unlock()
		c.logger.Error("Registration publish failed, flight rolled back",
			"flightKey", cmd.Flight, "error", err)
		return entity.Snapshot{}, err
	}

	c.registry.Notify(snap)
	c.countAccepted(cmd)
	if c.metrics != nil {
		c.metrics.ActiveFlights.Inc()
	}
	c.logger.Info("Flight registered", "flightKey", cmd.Flight, "airline", cmd.Airline)
	return snap, nil
}

func (c *Coordinator) mutate(ctx context.Context, cmd entity.Command) (entity.Snapshot, error) {
	slot, ok := c.slot(cmd.Key())
	if !ok {
		c.countRejection(entity.ErrUnknownFlight)
		return entity.Snapshot{}, entity.ErrUnknownFlight
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	// A rolled-back registration or a concurrent archive may have
	// removed the key while we waited on the slot.
	if cur, ok := c.slot(cmd.Key()); !ok || cur != slot {
		c.countRejection(entity.ErrUnknownFlight)
		return entity.Snapshot{}, entity.ErrUnknownFlight
	}

	pre := slot.agg.Snapshot()
	ev, err := slot.agg.Apply(cmd, c.now())
	if err != nil {
		c.countRejection(err)
		return entity.Snapshot{}, err
	}

	if err := c.adapter.Publish(ctx, ev); err != nil {
		restored, rerr := entity.TurnaroundFromSnapshot(pre, slot.rules)
		if rerr != nil {
			// Snapshot came from this aggregate; its key always parses.
			c.logger.Error("Rollback reconstruction failed", "flightKey", pre.FlightKey, "error", rerr)
		} else {
			slot.agg = restored
		}
		c.logger.Warn("Publish failed, command rolled back",
			"flightKey", pre.FlightKey, "command", cmd.Kind(), "error", err)
		return entity.Snapshot{}, err
	}

	c.registry.Notify(ev.Snapshot)
	c.countAccepted(cmd)
	return ev.Snapshot, nil
}

func (c *Coordinator) archiveFlight(ctx context.Context, cmd entity.Archive) (entity.Snapshot, error) {
	slot, ok := c.slot(cmd.Flight)
	if !ok {
		c.countRejection(entity.ErrUnknownFlight)
		return entity.Snapshot{}, entity.ErrUnknownFlight
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if cur, ok := c.slot(cmd.Flight); !ok || cur != slot {
		c.countRejection(entity.ErrUnknownFlight)
		return entity.Snapshot{}, entity.ErrUnknownFlight
	}

	pre := slot.agg.Snapshot()
	ev, err := slot.agg.Apply(cmd, c.now())
	if err != nil {
		c.countRejection(err)
		return entity.Snapshot{}, err
	}

	if err := c.adapter.Retire(ctx, ev.Snapshot); err != nil {
		if restored, rerr := entity.TurnaroundFromSnapshot(pre, slot.rules); rerr == nil {
			slot.agg = restored
		}
		c.logger.Warn("Archive publish failed, rolled back", "flightKey", cmd.Flight, "error", err)
		return entity.Snapshot{}, err
	}

	if c.archive != nil {
		if err := c.archive.Store(ctx, ev.Snapshot); err != nil {
			c.logger.Error("Failed to store archived turnaround", "flightKey", cmd.Flight, "error", err)
		}
	}

	c.mu.Lock()
	delete(c.flights, cmd.Flight)
	c.mu.Unlock()

	c.registry.Notify(ev.Snapshot)
	c.countAccepted(cmd)
	if c.metrics != nil {
		c.metrics.ActiveFlights.Dec()
	}
	c.logger.Info("Flight archived", "flightKey", cmd.Flight)
	return ev.Snapshot, nil
}

// ApplyExternal accepts a foreign snapshot from the sync adapter as a
// trusted fact: no transition re-validation, only ordering guards.
// Incarnations order by registration stamp; within one incarnation,
// snapshots at or below the local revision return ErrStaleRevision.
func (c *Coordinator) ApplyExternal(_ context.Context, snap entity.Snapshot) error {
	key, err := snap.Key()
	if err != nil {
		return err
	}

	for {
		slot, ok := c.slot(key)
		if !ok {
			if snap.Archived {
				// Never knew the flight; nothing to retire.
				return nil
			}
			return c.adoptForeign(key, snap)
		}

		slot.mu.Lock()
		if cur, ok := c.slot(key); !ok || cur != slot {
			// Slot removed while we waited; re-resolve the key.
			slot.mu.Unlock()
			continue
		}
		err := c.applyToSlot(key, slot, snap)
		slot.mu.Unlock()
		return err
	}
}

// applyToSlot applies a foreign snapshot to a live slot. Caller holds
// slot.mu and has verified the slot is still current for the key.
func (c *Coordinator) applyToSlot(key entity.FlightKey, slot *flightSlot, snap entity.Snapshot) error {
	switch {
	case snap.RegisteredAt.Before(slot.agg.RegisteredAt()):
		// Echo of a retired incarnation of the key.
		return entity.ErrStaleRevision
	case snap.RegisteredAt.Equal(slot.agg.RegisteredAt()) && snap.Revision <= slot.agg.Revision():
		return entity.ErrStaleRevision
	}

	replacement, err := entity.TurnaroundFromSnapshot(snap, slot.rules)
	if err != nil {
		return err
	}
	slot.agg = replacement

	if snap.Archived {
		c.mu.Lock()
		delete(c.flights, key)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ActiveFlights.Dec()
		}
	}

	c.registry.Notify(snap)
	c.logger.Debug("Applied external snapshot", "flightKey", snap.FlightKey, "revision", snap.Revision)
	return nil
}

// adoptForeign inserts a flight first seen through the backend,
// registered by another control instance.
func (c *Coordinator) adoptForeign(key entity.FlightKey, snap entity.Snapshot) error {
	var rules *entity.RuleSet
	if c.rulesets != nil {
		if r, err := c.ruleset(context.Background(), snap.Airline); err == nil {
			rules = r
		}
	}

	agg, err := entity.TurnaroundFromSnapshot(snap, rules)
	if err != nil {
		return err
	}
	slot := &flightSlot{agg: agg, rules: rules}

	c.mu.Lock()
	if _, exists := c.flights[key]; exists {
		// Raced with a concurrent insert; retry through the slot path.
		c.mu.Unlock()
		return c.ApplyExternal(context.Background(), snap)
	}
	c.flights[key] = slot
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveFlights.Inc()
	}
	c.registry.Notify(snap)
	c.logger.Info("Adopted foreign flight", "flightKey", snap.FlightKey, "revision", snap.Revision)
	return nil
}

// Snapshot returns the current state of one turnaround.
func (c *Coordinator) Snapshot(key entity.FlightKey) (entity.Snapshot, error) {
	slot, ok := c.slot(key)
	if !ok {
		return entity.Snapshot{}, entity.ErrUnknownFlight
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.agg.Snapshot(), nil
}

// List returns the live turnarounds matching the filter, sorted by
// scheduled arrival then key.
func (c *Coordinator) List(filter Filter) []entity.Snapshot {
	snaps := c.Snapshots()
	out := snaps[:0]
	for _, snap := range snaps {
		if filter.Matches(snap) {
			out = append(out, snap)
		}
	}
	return out
}

// Snapshots returns every live turnaround, sorted by scheduled
// arrival then key. Fed to RepublishAll after reconnects.
func (c *Coordinator) Snapshots() []entity.Snapshot {
	c.mu.RLock()
	slots := make([]*flightSlot, 0, len(c.flights))
	for _, slot := range c.flights {
		slots = append(slots, slot)
	}
	c.mu.RUnlock()

	snaps := make([]entity.Snapshot, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		snaps = append(snaps, slot.agg.Snapshot())
		slot.mu.Unlock()
	}
	sort.Slice(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if !a.Schedule.ScheduledArrival.Equal(b.Schedule.ScheduledArrival) {
			return a.Schedule.ScheduledArrival.Before(b.Schedule.ScheduledArrival)
		}
		return a.FlightKey < b.FlightKey
	})
	return snaps
}

// registrationStamp returns a strictly increasing millisecond stamp,
// so archiving a key and registering it again always yields a
// distinguishable incarnation, even within one clock tick.
func (c *Coordinator) registrationStamp() time.Time {
	now := c.now().UTC().Truncate(time.Millisecond)
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if !now.After(c.lastReg) {
		now = c.lastReg.Add(time.Millisecond)
	}
	c.lastReg = now
	return now
}

func (c *Coordinator) slot(key entity.FlightKey) (*flightSlot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	slot, ok := c.flights[key]
	return slot, ok
}

func (c *Coordinator) ruleset(ctx context.Context, airline string) (*entity.RuleSet, error) {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	if rules, ok := c.rulesCache[airline]; ok {
		return rules, nil
	}
	rules, err := c.rulesets.GetByAirline(ctx, airline)
	if err != nil {
		return nil, err
	}
	c.rulesCache[airline] = rules
	return rules, nil
}

func (c *Coordinator) countAccepted(cmd entity.Command) {
	if c.metrics != nil {
		c.metrics.CommandsAccepted.WithLabelValues(cmd.Kind()).Inc()
	}
}

func (c *Coordinator) countRejection(err error) {
	if c.metrics == nil {
		return
	}
	reason := "internal"
	switch {
	case errors.Is(err, entity.ErrUnauthorized):
		reason = "unauthorized"
	case errors.Is(err, entity.ErrDuplicateFlight):
		reason = "duplicate_flight"
	case errors.Is(err, entity.ErrUnknownFlight):
		reason = "unknown_flight"
	case errors.Is(err, entity.ErrUnknownAirline):
		reason = "unknown_airline"
	case errors.Is(err, entity.ErrUnknownMilestone):
		reason = "unknown_milestone"
	case errors.Is(err, entity.ErrDuplicateMilestone):
		reason = "duplicate_milestone"
	case errors.Is(err, entity.ErrInvalidTransition):
		reason = "invalid_transition"
	case errors.Is(err, entity.ErrPrerequisiteUnmet):
		reason = "prerequisite_unmet"
	}
	c.metrics.CommandsRejected.WithLabelValues(reason).Inc()
}
