package stats

import (
	"context"
	"errors"

	"github.com/KeshavSoni17/halo-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCounter stores daily statistics in the daily_statistics table
type GormCounter struct {
	db *gorm.DB
}

// NewGormCounter creates a database-backed counter
func NewGormCounter(db *gorm.DB) *GormCounter {
	return &GormCounter{db: db}
}

// Add upserts the (user, day) row and increments it in a single statement
func (c *GormCounter) Add(ctx context.Context, userID, day string, visits int64, seconds float64) error {
	row := models.DailyStatistic{
		UserID:       userID,
		Day:          day,
		Visits:       visits,
		AudioSeconds: seconds,
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"visits":        gorm.Expr("daily_statistics.visits + ?", visits),
			"audio_seconds": gorm.Expr("daily_statistics.audio_seconds + ?", seconds),
		}),
	}).Create(&row).Error
}

// Get returns the row for (user, day), or zero counters when absent
func (c *GormCounter) Get(ctx context.Context, userID, day string) (*models.DailyStatistic, error) {
	var stat models.DailyStatistic
	err := c.db.WithContext(ctx).Where("user_id = ? AND day = ?", userID, day).First(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.DailyStatistic{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stat, nil
}
