package repository

import (
	"context"

	"turnaround-service/internal/domain/entity"
)

// RuleSetRepository loads per-airline turnaround configuration. The
// returned ruleset has already passed entity.RuleSet.Validate.
type RuleSetRepository interface {
	GetByAirline(ctx context.Context, code string) (*entity.RuleSet, error)
}
