package entity

import (
	"fmt"
	"strings"
	"time"
)

// FlightKey identifies one flight's turnaround: carrier code, flight
// number and scheduled date of operation. It is the partition key for
// every sync and fan-out operation.
type FlightKey struct {
	Carrier string `bson:"carrier" json:"carrier"`
	Number  string `bson:"number" json:"number"`
	Date    string `bson:"date" json:"date"` // YYYY-MM-DD
}

// NewFlightKey builds a key from its parts. The carrier code is
// upper-cased so QR123 and qr123 address the same turnaround.
func NewFlightKey(carrier, number string, date time.Time) FlightKey {
	return FlightKey{
		Carrier: strings.ToUpper(strings.TrimSpace(carrier)),
		Number:  strings.TrimSpace(number),
		Date:    date.Format("2006-01-02"),
	}
}

// ParseFlightKey parses the canonical "CARRIER:NUMBER:DATE" form used
// as the backend path.
func ParseFlightKey(s string) (FlightKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return FlightKey{}, fmt.Errorf("malformed flight key %q", s)
	}
	if parts[0] == "" || parts[1] == "" {
		return FlightKey{}, fmt.Errorf("malformed flight key %q", s)
	}
	if _, err := time.Parse("2006-01-02", parts[2]); err != nil {
		return FlightKey{}, fmt.Errorf("malformed flight key date %q: %w", parts[2], err)
	}
	return FlightKey{Carrier: strings.ToUpper(parts[0]), Number: parts[1], Date: parts[2]}, nil
}

func (k FlightKey) String() string {
	return k.Carrier + ":" + k.Number + ":" + k.Date
}

func (k FlightKey) IsZero() bool {
	return k.Carrier == "" && k.Number == "" && k.Date == ""
}
