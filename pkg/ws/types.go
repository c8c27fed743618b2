package ws

import (
	"encoding/json"
	"time"
)

// Message and event types exchanged over the client WebSocket
const (
	TypeStartRecording  = "start_recording"
	TypePauseRecording  = "pause_recording"
	TypeResumeRecording = "resume_recording"
	TypeFinishRecording = "finish_recording"
	TypeAudioChunk      = "audio_chunk"
	TypeNoteGenerated   = "note_generated"
	TypeError           = "error"
)

// Message is an inbound control message. Data is decoded per type.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is an outbound message
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ControlData is the payload of start, pause, resume and finish.
// RecordingDuration is the client's own measurement in seconds.
type ControlData struct {
	VisitID           string   `json:"visit_id"`
	RecordingDuration *float64 `json:"recording_duration,omitempty"`
}

// AudioChunkData carries base64 encoded audio. VisitID may be omitted once
// the connection has started or resumed a visit.
type AudioChunkData struct {
	Audio   string `json:"audio"`
	VisitID string `json:"visit_id,omitempty"`
}

type StartRecordingData struct {
	VisitID            string     `json:"visit_id"`
	Status             string     `json:"status"`
	RecordingStartedAt *time.Time `json:"recording_started_at"`
}

// StatusData is broadcast on pause and resume
type StatusData struct {
	VisitID string `json:"visit_id"`
	Status  string `json:"status"`
}

type FinishRecordingData struct {
	VisitID             string     `json:"visit_id"`
	Status              string     `json:"status"`
	RecordingFinishedAt *time.Time `json:"recording_finished_at"`
	RecordingDuration   float64    `json:"recording_duration"`
	Transcript          string     `json:"transcript"`
	Name                string     `json:"name"`
	TemplateModifiedAt  *time.Time `json:"template_modified_at"`
}

// NoteGeneratedData carries the running note. TemplateModifiedAt is only set
// on the final event.
type NoteGeneratedData struct {
	VisitID            string     `json:"visit_id"`
	Note               string     `json:"note"`
	Status             string     `json:"status"`
	TemplateModifiedAt *time.Time `json:"template_modified_at,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorEvent builds an error event
func NewErrorEvent(message string) Event {
	return Event{Type: TypeError, Data: ErrorData{Message: message}}
}
