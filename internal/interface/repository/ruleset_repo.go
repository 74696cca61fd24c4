package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/internal/domain/repository"

	"gorm.io/gorm"
)

// GormRuleSetRepository implements RuleSetRepository over the
// per-airline milestone rule tables.
type GormRuleSetRepository struct {
	db *gorm.DB
}

// NewGormRuleSetRepository creates a new GORM ruleset repository
func NewGormRuleSetRepository(db *gorm.DB) repository.RuleSetRepository {
	return &GormRuleSetRepository{
		db: db,
	}
}

// MilestoneRules GORM model for database mapping. Prerequisites is a
// comma-separated list of milestone names.
type MilestoneRules struct {
	ID               uint           `gorm:"primaryKey"`
	AirlineCode      string         `gorm:"column:airline_code;index"`
	Milestone        string         `gorm:"column:milestone"`
	Required         bool           `gorm:"column:required"`
	Position         int            `gorm:"column:position"`
	Prerequisites    string         `gorm:"column:prerequisites"`
	ThresholdMinutes int            `gorm:"column:threshold_minutes"`
	DeletedAt        gorm.DeletedAt `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName overrides the default table name
func (MilestoneRules) TableName() string {
	return "m_milestone_rules"
}

// GetByAirline loads and validates the ruleset for an airline code.
func (r *GormRuleSetRepository) GetByAirline(ctx context.Context, code string) (*entity.RuleSet, error) {
	var rows []MilestoneRules
	result := r.db.WithContext(ctx).
		Where("airline_code = ?", code).
		Order("position asc").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownAirline, code)
	}

	ruleset := &entity.RuleSet{
		Airline:          code,
		Prerequisites:    make(map[string][]string),
		ThresholdMinutes: make(map[string]int),
	}
	for _, row := range rows {
		if !row.Required {
			// Optional vocabulary entries carry thresholds only;
			// the milestone itself joins a flight via AddMilestone.
			if row.ThresholdMinutes > 0 {
				ruleset.ThresholdMinutes[row.Milestone] = row.ThresholdMinutes
			}
			continue
		}
		ruleset.Required = append(ruleset.Required, row.Milestone)
		if prereqs := splitPrereqs(row.Prerequisites); len(prereqs) > 0 {
			ruleset.Prerequisites[row.Milestone] = prereqs
		}
		if row.ThresholdMinutes > 0 {
			ruleset.ThresholdMinutes[row.Milestone] = row.ThresholdMinutes
		}
	}

	if err := ruleset.Validate(); err != nil {
		return nil, err
	}
	return ruleset, nil
}

func splitPrereqs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
