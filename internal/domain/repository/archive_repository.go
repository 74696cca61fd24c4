package repository

import (
	"context"

	"turnaround-service/internal/domain/entity"
)

// ArchiveRepository stores the final snapshot of departed flights.
// Archived turnarounds leave the live set and the sync backend; this
// is the only durable record that remains.
type ArchiveRepository interface {
	Store(ctx context.Context, snap entity.Snapshot) error
	FindByKey(ctx context.Context, key entity.FlightKey) (*entity.Snapshot, error)
}
