package models

import (
	"strings"
	"time"
)

// VisitStatus is the lifecycle state of a visit
type VisitStatus string

const (
	StatusNotStarted     VisitStatus = "NOT_STARTED"
	StatusRecording      VisitStatus = "RECORDING"
	StatusPaused         VisitStatus = "PAUSED"
	StatusGeneratingNote VisitStatus = "GENERATING_NOTE"
	StatusFinished       VisitStatus = "FINISHED"
)

// DefaultVisitName is the placeholder name given to new visits
const DefaultVisitName = "New Visit"

// Visit represents one recorded patient encounter
type Visit struct {
	ID                  string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID              string      `gorm:"index;type:varchar(36);not null" json:"user_id"`
	CreatedAt           time.Time   `json:"created_at"`
	ModifiedAt          time.Time   `gorm:"autoUpdateTime" json:"modified_at"`
	TemplateModifiedAt  *time.Time  `json:"template_modified_at"`
	RecordingStartedAt  *time.Time  `json:"recording_started_at"`
	RecordingFinishedAt *time.Time  `json:"recording_finished_at"`
	Status              VisitStatus `gorm:"type:varchar(32);not null;default:NOT_STARTED" json:"status"`
	Name                string      `gorm:"type:text" json:"name"`
	AdditionalContext   string      `gorm:"type:text" json:"additional_context"`
	Transcript          string      `gorm:"type:text" json:"transcript"`
	Note                string      `gorm:"type:text" json:"note"`
	TemplateID          string      `gorm:"type:varchar(36)" json:"template_id"`
	Language            string      `gorm:"type:varchar(16)" json:"language"`
	RecordingDuration   float64     `gorm:"not null;default:0" json:"recording_duration"`
}

// HasPlaceholderName reports whether the visit still needs a name
func (v *Visit) HasPlaceholderName() bool {
	name := strings.TrimSpace(v.Name)
	return name == "" || name == DefaultVisitName
}

// VisitUpdate lists the fields to change; nil fields are left untouched
type VisitUpdate struct {
	Status              *VisitStatus
	Name                *string
	AdditionalContext   *string
	Transcript          *string
	Note                *string
	RecordingStartedAt  *time.Time
	RecordingFinishedAt *time.Time
	TemplateModifiedAt  *time.Time
	RecordingDuration   *float64
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// FormatTranscriptLine renders one finalized utterance as "[HH:MM:SS] text"
func FormatTranscriptLine(at time.Time, text string) string {
	return "[" + at.UTC().Format("15:04:05") + "] " + text
}

// AppendTranscriptLine adds a line to an existing transcript
func AppendTranscriptLine(transcript, line string) string {
	if transcript == "" {
		return line
	}
	return transcript + "\n" + line
}
