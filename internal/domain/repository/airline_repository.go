package repository

import (
	"context"

	"turnaround-service/internal/domain/entity"
)

// AirlineRepository resolves carrier codes to airline records.
type AirlineRepository interface {
	GetByCode(ctx context.Context, code string) (*entity.Airline, error)
}
