package entity

import (
	"time"

	"gorm.io/gorm"
)

// Airline maps a carrier code to its display name, carried on
// observer snapshots next to the raw code.
type Airline struct {
	ID        uint
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt
}
