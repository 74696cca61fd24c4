package entity

import "time"

// Schedule holds the movement times of one turnaround. Scheduled times
// are set at registration; estimated and actual times arrive later and
// stay nil until reported.
type Schedule struct {
	ScheduledArrival   time.Time  `bson:"scheduledArrival" json:"scheduledArrival"`
	ScheduledDeparture time.Time  `bson:"scheduledDeparture" json:"scheduledDeparture"`
	EstimatedArrival   *time.Time `bson:"estimatedArrival,omitempty" json:"estimatedArrival,omitempty"`
	EstimatedDeparture *time.Time `bson:"estimatedDeparture,omitempty" json:"estimatedDeparture,omitempty"`
	ActualArrival      *time.Time `bson:"actualArrival,omitempty" json:"actualArrival,omitempty"`
	ActualDeparture    *time.Time `bson:"actualDeparture,omitempty" json:"actualDeparture,omitempty"`
}

// FlightDetails are the coordinator-editable fields of a flight.
type FlightDetails struct {
	Registration string `bson:"registration,omitempty" json:"registration,omitempty"`
	AircraftType string `bson:"aircraftType,omitempty" json:"aircraftType,omitempty"`
	Parking      string `bson:"parking,omitempty" json:"parking,omitempty"`
	Slot         string `bson:"slot,omitempty" json:"slot,omitempty"`
	FlightPlan   string `bson:"flightPlan,omitempty" json:"flightPlan,omitempty"`
}

// Readiness is the derived summary of a turnaround. It is recomputed
// after every accepted mutation and never set directly.
type Readiness string

const (
	ReadinessPending    Readiness = "pending"
	ReadinessInProgress Readiness = "in_progress"
	ReadinessReady      Readiness = "ready"
)

// Snapshot is the full persisted/transmitted state of one turnaround.
// Consumers always receive a complete self-consistent snapshot, never
// a partial patch.
type Snapshot struct {
	FlightKey      string               `bson:"_id" json:"flightKey"`
	Airline        string               `bson:"airline" json:"airline"`
	AirlineName    string               `bson:"airlineName,omitempty" json:"airlineName,omitempty"`
	Schedule       Schedule             `bson:"schedule" json:"schedule"`
	Details        FlightDetails        `bson:"details" json:"details"`
	Milestones     map[string]Milestone `bson:"milestones" json:"milestones"`
	MilestoneOrder []string             `bson:"milestoneOrder" json:"milestoneOrder"`
	Thresholds     map[string]int       `bson:"thresholds,omitempty" json:"thresholds,omitempty"`
	Readiness      Readiness            `bson:"readiness" json:"readiness"`
	Revision       int64                `bson:"revision" json:"revision"`
	// RegisteredAt identifies the incarnation: a key archived and
	// registered again starts a new incarnation with revisions from 1,
	// so revision comparisons are only meaningful within one
	// RegisteredAt value.
	RegisteredAt time.Time `bson:"registeredAt" json:"registeredAt"`
	Archived     bool      `bson:"archived" json:"archived"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Key parses the snapshot's flight key.
func (s Snapshot) Key() (FlightKey, error) {
	return ParseFlightKey(s.FlightKey)
}

// Supersedes reports whether s is strictly newer than other for the
// same key: a later incarnation always wins; within one incarnation
// the higher revision wins.
func (s Snapshot) Supersedes(other Snapshot) bool {
	if !s.RegisteredAt.Equal(other.RegisteredAt) {
		return s.RegisteredAt.After(other.RegisteredAt)
	}
	return s.Revision > other.Revision
}

// TurnaroundChanged is emitted for every accepted mutation, carrying
// the full post-mutation snapshot.
type TurnaroundChanged struct {
	Snapshot Snapshot
}
