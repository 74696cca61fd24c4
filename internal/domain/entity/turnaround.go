package entity

import (
	"fmt"
	"time"
)

// Turnaround is the aggregate root for one flight's ground handling.
// All mutation goes through Apply, which validates against the fixed
// milestone state machine and the airline ruleset, bumps the revision
// and recomputes readiness. A rejected command leaves the aggregate
// untouched.
type Turnaround struct {
	key         FlightKey
	airline     string
	airlineName string
	schedule    Schedule
	details     FlightDetails
	milestones  map[string]*Milestone
	order       []string
	readiness   Readiness
	revision    int64
	// registeredAt stamps the incarnation; see Snapshot.RegisteredAt.
	registeredAt time.Time
	archived     bool
	updatedAt    time.Time
	rules        *RuleSet
}

// NewTurnaround registers a flight: the ruleset's required milestones
// are seeded Pending and the aggregate starts at revision 1. The
// registration stamp is truncated to the millisecond so it survives a
// mongo round trip unchanged and stays comparable with Equal.
func NewTurnaround(key FlightKey, airlineName string, schedule Schedule, details FlightDetails, rules *RuleSet, now time.Time) (*Turnaround, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("register flight: empty flight key")
	}
	if rules == nil {
		return nil, fmt.Errorf("register flight %s: nil ruleset", key)
	}
	t := &Turnaround{
		key:          key,
		airline:      rules.Airline,
		airlineName:  airlineName,
		schedule:     schedule,
		details:      details,
		milestones:   make(map[string]*Milestone, len(rules.Required)),
		order:        make([]string, 0, len(rules.Required)),
		readiness:    ReadinessPending,
		revision:     1,
		registeredAt: now.UTC().Truncate(time.Millisecond),
		updatedAt:    now,
		rules:        rules,
	}
	for _, name := range rules.Required {
		t.milestones[name] = &Milestone{
			Name:      name,
			State:     StatePending,
			Timestamp: now,
			Required:  true,
		}
		t.order = append(t.order, name)
	}
	return t, nil
}

// TurnaroundFromSnapshot rebuilds an aggregate from a full snapshot.
// Used for rollback after a failed publish and for trusted foreign
// snapshots; no transition re-validation happens here. rules may be
// nil for a foreign-created flight whose airline is not configured
// locally; such a turnaround accepts no further local milestone
// commands that need ordering rules.
func TurnaroundFromSnapshot(snap Snapshot, rules *RuleSet) (*Turnaround, error) {
	key, err := snap.Key()
	if err != nil {
		return nil, err
	}
	t := &Turnaround{
		key:          key,
		airline:      snap.Airline,
		airlineName:  snap.AirlineName,
		schedule:     snap.Schedule,
		details:      snap.Details,
		milestones:   make(map[string]*Milestone, len(snap.Milestones)),
		order:        append([]string(nil), snap.MilestoneOrder...),
		readiness:    snap.Readiness,
		revision:     snap.Revision,
		registeredAt: snap.RegisteredAt,
		archived:     snap.Archived,
		updatedAt:    snap.UpdatedAt,
		rules:        rules,
	}
	for name, m := range snap.Milestones {
		copied := m
		t.milestones[name] = &copied
	}
	return t, nil
}

func (t *Turnaround) Key() FlightKey          { return t.key }
func (t *Turnaround) Revision() int64         { return t.revision }
func (t *Turnaround) RegisteredAt() time.Time { return t.registeredAt }
func (t *Turnaround) Archived() bool          { return t.archived }

// Apply validates and applies one command, returning the change event
// with the full post-mutation snapshot. RegisterFlight is handled by
// the coordinator, not here.
func (t *Turnaround) Apply(cmd Command, now time.Time) (TurnaroundChanged, error) {
	if t.archived {
		return TurnaroundChanged{}, fmt.Errorf("%w: %s is archived", ErrUnknownFlight, t.key)
	}
	switch c := cmd.(type) {
	case SetMilestone:
		if err := t.setMilestone(c, now); err != nil {
			return TurnaroundChanged{}, err
		}
	case AddMilestone:
		if err := t.addMilestone(c, now); err != nil {
			return TurnaroundChanged{}, err
		}
	case UpdateSchedule:
		t.mergeSchedule(c.Schedule)
	case UpdateDetails:
		t.details = c.Details
	case Archive:
		t.archived = true
	default:
		return TurnaroundChanged{}, fmt.Errorf("unsupported command %T", cmd)
	}
	t.bump(now)
	return TurnaroundChanged{Snapshot: t.Snapshot()}, nil
}

func (t *Turnaround) setMilestone(c SetMilestone, now time.Time) error {
	m, ok := t.milestones[c.Milestone]
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrUnknownMilestone, c.Milestone, t.key)
	}
	if !CanTransition(m.State, c.State) {
		return fmt.Errorf("%w: %q %s -> %s", ErrInvalidTransition, c.Milestone, m.State, c.State)
	}
	if c.State == StateInProgress || c.State == StateDone {
		for _, p := range t.rules.PrerequisitesOf(c.Milestone) {
			if dep, ok := t.milestones[p]; ok && !dep.State.Complete() {
				return fmt.Errorf("%w: %q requires %q (currently %s)", ErrPrerequisiteUnmet, c.Milestone, p, dep.State)
			}
		}
	}
	m.State = c.State
	m.Timestamp = now
	m.Actor = c.Actor
	m.Note = c.Note
	return nil
}

func (t *Turnaround) addMilestone(c AddMilestone, now time.Time) error {
	if c.Milestone == "" {
		return fmt.Errorf("%w: empty milestone name", ErrUnknownMilestone)
	}
	if _, ok := t.milestones[c.Milestone]; ok {
		return fmt.Errorf("%w: %q on %s", ErrDuplicateMilestone, c.Milestone, t.key)
	}
	t.milestones[c.Milestone] = &Milestone{
		Name:      c.Milestone,
		State:     StatePending,
		Timestamp: now,
		Actor:     c.Actor,
	}
	t.order = append(t.order, c.Milestone)
	return nil
}

// mergeSchedule keeps registered scheduled times unless the command
// carries replacements; estimated/actual pointers replace when set.
func (t *Turnaround) mergeSchedule(s Schedule) {
	if !s.ScheduledArrival.IsZero() {
		t.schedule.ScheduledArrival = s.ScheduledArrival
	}
	if !s.ScheduledDeparture.IsZero() {
		t.schedule.ScheduledDeparture = s.ScheduledDeparture
	}
	if s.EstimatedArrival != nil {
		t.schedule.EstimatedArrival = s.EstimatedArrival
	}
	if s.EstimatedDeparture != nil {
		t.schedule.EstimatedDeparture = s.EstimatedDeparture
	}
	if s.ActualArrival != nil {
		t.schedule.ActualArrival = s.ActualArrival
	}
	if s.ActualDeparture != nil {
		t.schedule.ActualDeparture = s.ActualDeparture
	}
}

func (t *Turnaround) bump(now time.Time) {
	t.revision++
	t.updatedAt = now
	t.recomputeReadiness()
}

// recomputeReadiness derives the summary state: ready iff every
// required milestone is done or skipped.
func (t *Turnaround) recomputeReadiness() {
	ready := true
	started := false
	for _, m := range t.milestones {
		if m.State != StatePending {
			started = true
		}
		if m.Required && !m.State.Complete() {
			ready = false
		}
	}
	switch {
	case ready:
		t.readiness = ReadinessReady
	case started:
		t.readiness = ReadinessInProgress
	default:
		t.readiness = ReadinessPending
	}
}

// Snapshot returns a deep copy of the full aggregate state.
func (t *Turnaround) Snapshot() Snapshot {
	milestones := make(map[string]Milestone, len(t.milestones))
	for name, m := range t.milestones {
		milestones[name] = *m
	}
	var thresholds map[string]int
	if t.rules != nil && len(t.rules.ThresholdMinutes) > 0 {
		thresholds = make(map[string]int, len(t.rules.ThresholdMinutes))
		for name, v := range t.rules.ThresholdMinutes {
			thresholds[name] = v
		}
	}
	return Snapshot{
		FlightKey:      t.key.String(),
		Airline:        t.airline,
		AirlineName:    t.airlineName,
		Schedule:       t.schedule,
		Details:        t.details,
		Milestones:     milestones,
		MilestoneOrder: append([]string(nil), t.order...),
		Thresholds:     thresholds,
		Readiness:      t.readiness,
		Revision:       t.revision,
		RegisteredAt:   t.registeredAt,
		Archived:       t.archived,
		UpdatedAt:      t.updatedAt,
	}
}
