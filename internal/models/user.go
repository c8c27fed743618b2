package models

import (
	"time"
)

// User is a clinician. VisitIDs is the back-reference list maintained by
// visit creation and deletion.
type User struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name              string    `json:"name"`
	Email             string    `gorm:"uniqueIndex" json:"email"`
	Specialty         string    `json:"specialty"`
	DefaultTemplateID string    `gorm:"type:varchar(36)" json:"default_template_id"`
	DefaultLanguage   string    `gorm:"type:varchar(16);default:en" json:"default_language"`
	VisitIDs          []string  `gorm:"serializer:json;type:text" json:"visit_ids"`
	CreatedAt         time.Time `json:"created_at"`
	ModifiedAt        time.Time `gorm:"autoUpdateTime" json:"modified_at"`
}

// Template holds the note-writing instructions a clinician selected
type Template struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID       string    `gorm:"index;type:varchar(36)" json:"user_id"`
	Name         string    `json:"name"`
	Instructions string    `gorm:"type:text" json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `gorm:"autoUpdateTime" json:"modified_at"`
}

// DailyStatistic aggregates one user's activity for one UTC day
type DailyStatistic struct {
	ID           uint    `gorm:"primaryKey" json:"-"`
	UserID       string  `gorm:"type:varchar(36);not null;uniqueIndex:idx_daily_user_day" json:"user_id"`
	Day          string  `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_user_day" json:"day"`
	Visits       int64   `gorm:"not null;default:0" json:"visits"`
	AudioSeconds float64 `gorm:"not null;default:0" json:"audio_seconds"`
}

// DayFormat is the layout of DailyStatistic.Day
const DayFormat = "2006-01-02"

// DayOf returns the UTC day key of t
func DayOf(t time.Time) string {
	return t.UTC().Format(DayFormat)
}
