package entity

// Command is one control-layer mutation. Commands are validated and
// applied by the coordinator strictly in submission order per key.
type Command interface {
	// Key is the turnaround the command addresses.
	Key() FlightKey
	// Kind names the command for logs and metrics.
	Kind() string
}

// RegisterFlight creates the turnaround for a flight. The ruleset is
// resolved from the airline code at submission time.
type RegisterFlight struct {
	Flight   FlightKey
	Airline  string
	Schedule Schedule
	Details  FlightDetails
}

func (c RegisterFlight) Key() FlightKey { return c.Flight }
func (c RegisterFlight) Kind() string   { return "register_flight" }

// SetMilestone moves one milestone to a new state.
type SetMilestone struct {
	Flight    FlightKey
	Milestone string
	State     MilestoneState
	Actor     string
	Note      string
}

func (c SetMilestone) Key() FlightKey { return c.Flight }
func (c SetMilestone) Kind() string   { return "set_milestone" }

// AddMilestone attaches an optional milestone beyond the required set.
type AddMilestone struct {
	Flight    FlightKey
	Milestone string
	Actor     string
}

func (c AddMilestone) Key() FlightKey { return c.Flight }
func (c AddMilestone) Kind() string   { return "add_milestone" }

// UpdateSchedule replaces the estimated/actual movement times.
type UpdateSchedule struct {
	Flight   FlightKey
	Schedule Schedule
}

func (c UpdateSchedule) Key() FlightKey { return c.Flight }
func (c UpdateSchedule) Kind() string   { return "update_schedule" }

// UpdateDetails replaces the coordinator-editable flight fields
// (registration, aircraft type, parking, slot, flight plan).
type UpdateDetails struct {
	Flight  FlightKey
	Details FlightDetails
}

func (c UpdateDetails) Key() FlightKey { return c.Flight }
func (c UpdateDetails) Kind() string   { return "update_details" }

// Archive retires a departed flight from the live set.
type Archive struct {
	Flight FlightKey
	Actor  string
}

func (c Archive) Key() FlightKey { return c.Flight }
func (c Archive) Kind() string   { return "archive" }
