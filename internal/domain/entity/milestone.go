package entity

import (
	"fmt"
	"time"
)

// MilestoneState is the fixed state machine every milestone follows.
type MilestoneState string

const (
	StatePending    MilestoneState = "pending"
	StateInProgress MilestoneState = "in_progress"
	StateDone       MilestoneState = "done"
	StateSkipped    MilestoneState = "skipped"
	StateBlocked    MilestoneState = "blocked"
)

// ParseMilestoneState validates a state received over the wire.
func ParseMilestoneState(s string) (MilestoneState, error) {
	switch MilestoneState(s) {
	case StatePending, StateInProgress, StateDone, StateSkipped, StateBlocked:
		return MilestoneState(s), nil
	}
	return "", fmt.Errorf("unknown milestone state %q", s)
}

// Complete reports whether the state satisfies a prerequisite.
func (s MilestoneState) Complete() bool {
	return s == StateDone || s == StateSkipped
}

// transitions holds the reachable target states per current state.
// Pending may jump straight to Done: operators routinely report a
// service only after it finished. Skipped is terminal.
var transitions = map[MilestoneState][]MilestoneState{
	StatePending:    {StateInProgress, StateDone, StateBlocked, StateSkipped},
	StateInProgress: {StateDone, StateBlocked, StateSkipped},
	StateBlocked:    {StatePending, StateSkipped},
	StateDone:       {StateSkipped},
	StateSkipped:    {},
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to MilestoneState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Milestone is one tracked turnaround service or event.
type Milestone struct {
	Name      string         `bson:"name" json:"name"`
	State     MilestoneState `bson:"state" json:"state"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Actor     string         `bson:"actor,omitempty" json:"actor,omitempty"`
	Note      string         `bson:"note,omitempty" json:"note,omitempty"`
	Required  bool           `bson:"required" json:"required"`
}
