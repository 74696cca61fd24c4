package entity

import (
	"errors"
	"fmt"
)

// Rejection reasons for control-layer commands. Local validation
// failures leave the aggregate untouched.
var (
	ErrUnauthorized       = errors.New("caller lacks control capability")
	ErrDuplicateFlight    = errors.New("flight key already registered")
	ErrUnknownFlight      = errors.New("unknown flight key")
	ErrUnknownAirline     = errors.New("no ruleset for airline")
	ErrUnknownMilestone   = errors.New("milestone not part of this turnaround")
	ErrDuplicateMilestone = errors.New("milestone already present")
	ErrInvalidTransition  = errors.New("invalid milestone transition")
	ErrPrerequisiteUnmet  = errors.New("prerequisite milestone not complete")

	// ErrStaleRevision is internal to the sync path: an inbound or
	// outbound snapshot was superseded by a newer revision. It is
	// handled by discard-and-skip and never surfaced to callers.
	ErrStaleRevision = errors.New("stale revision")
)

// SyncError wraps a backend failure during publish. The attempted
// mutation has been rolled back; the command may be retried.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
