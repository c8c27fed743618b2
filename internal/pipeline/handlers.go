package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/internal/notegen"
	"github.com/KeshavSoni17/halo-backend/internal/transcription"
	wshub "github.com/KeshavSoni17/halo-backend/internal/ws"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/ws"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// defaultInstructions is used when neither the visit nor the user has a
// template
const defaultInstructions = "Write a SOAP note with Subjective, Objective, Assessment and Plan sections."

// Start moves a NOT_STARTED or PAUSED visit to RECORDING and opens its
// transcription session. Starting a visit that is already recording
// re-broadcasts its state and opens nothing.
func (p *Pipeline) Start(ctx context.Context, s *wshub.Session, data ws.ControlData) error {
	return p.record(ctx, s, data, ws.TypeStartRecording)
}

// Resume is Start without resetting recording_started_at
func (p *Pipeline) Resume(ctx context.Context, s *wshub.Session, data ws.ControlData) error {
	return p.record(ctx, s, data, ws.TypeResumeRecording)
}

func (p *Pipeline) record(ctx context.Context, s *wshub.Session, data ws.ControlData, eventType string) error {
	unlock := p.locks.Lock(data.VisitID)
	defer unlock()

	visit, err := p.ownedVisit(ctx, s, data.VisitID)
	if err != nil {
		return err
	}
	log := p.log.WithUserID(s.UserID).WithVisitID(visit.ID)

	switch visit.Status {
	case models.StatusNotStarted, models.StatusPaused:
	case models.StatusRecording:
		if p.transcriber.IsOpen(visit.ID) {
			s.SetVisitID(visit.ID)
			p.broadcastRecording(s, visit, eventType)
			return nil
		}
		// recording without a session, reopen below
	default:
		return errors.NewInvalidStateError("cannot " + verb(eventType) + " a visit in status " + string(visit.Status))
	}

	previous := visit.Status
	now := p.now()

	upd := models.VisitUpdate{Status: models.Ptr(models.StatusRecording)}
	if visit.RecordingStartedAt == nil {
		upd.RecordingStartedAt = &now
	}
	visit, err = p.store.UpdateVisit(ctx, visit.ID, upd)
	if err != nil {
		return err
	}
	if previous == models.StatusNotStarted {
		p.recordVisitStarted(ctx, s.UserID)
	}

	p.beginSegment(visit.ID, s.UserID, now)
	s.SetVisitID(visit.ID)

	opened, err := p.transcriber.Open(ctx, visit.ID, visit.Language, p.appendFinal(visit.ID))
	if err != nil {
		return err
	}
	log.Info("recording", "event", eventType, "from", previous, "session_opened", opened)

	p.broadcastRecording(s, visit, eventType)
	return nil
}

func (p *Pipeline) broadcastRecording(s *wshub.Session, visit *models.Visit, eventType string) {
	var data any = ws.StatusData{VisitID: visit.ID, Status: string(visit.Status)}
	if eventType == ws.TypeStartRecording {
		data = ws.StartRecordingData{
			VisitID:            visit.ID,
			Status:             string(visit.Status),
			RecordingStartedAt: visit.RecordingStartedAt,
		}
	}
	p.hub.ToAllIncludingSender(s.Conn, s.UserID, ws.Event{Type: eventType, Data: data})
}

func verb(eventType string) string {
	return strings.TrimSuffix(eventType, "_recording")
}

// Pause moves a RECORDING visit to PAUSED, then closes its session. Pausing
// a paused visit does nothing.
func (p *Pipeline) Pause(ctx context.Context, s *wshub.Session, data ws.ControlData) error {
	unlock := p.locks.Lock(data.VisitID)
	defer unlock()

	visit, err := p.ownedVisit(ctx, s, data.VisitID)
	if err != nil {
		return err
	}

	switch visit.Status {
	case models.StatusPaused:
		return nil
	case models.StatusRecording:
	default:
		return errors.NewInvalidStateError("cannot pause a visit in status " + string(visit.Status))
	}

	now := p.now()
	before := visit.RecordingDuration
	duration := nextDuration(before, p.endSegment(visit.ID, now), data.RecordingDuration)

	visit, err = p.store.UpdateVisit(ctx, visit.ID, models.VisitUpdate{
		Status:            models.Ptr(models.StatusPaused),
		RecordingDuration: &duration,
	})
	if err != nil {
		return err
	}
	p.recordDurationGrowth(ctx, s.UserID, before, visit.RecordingDuration)

	closeErr := p.transcriber.Close(ctx, visit.ID)

	p.hub.ToAllIncludingSender(s.Conn, s.UserID, ws.Event{
		Type: ws.TypePauseRecording,
		Data: ws.StatusData{VisitID: visit.ID, Status: string(visit.Status)},
	})
	p.log.WithUserID(s.UserID).WithVisitID(visit.ID).Info("recording paused", "duration", visit.RecordingDuration)

	return closeErr
}

// Finish ends recording, names the visit if needed and writes its note. The
// note streams to every connection of the user as it is generated.
func (p *Pipeline) Finish(ctx context.Context, s *wshub.Session, data ws.ControlData) error {
	visit, err := p.stopRecording(ctx, s, data)
	if err != nil {
		return err
	}
	defer p.endGeneration(visit.ID)
	log := p.log.WithUserID(s.UserID).WithVisitID(visit.ID)

	// GENERATING_NOTE rejects every other control event and a second finish
	// while this one runs, so the rest runs without the visit lock

	name := visit.Name
	if visit.HasPlaceholderName() {
		inferred, err := p.generator.InferName(ctx, visit.Transcript, visit.AdditionalContext)
		if err != nil {
			return err
		}
		if inferred != "" {
			name = inferred
		}
	}

	templateAt := p.now()
	visit, err = p.store.UpdateVisit(ctx, visit.ID, models.VisitUpdate{
		Name:               &name,
		TemplateModifiedAt: &templateAt,
	})
	if err != nil {
		return err
	}

	p.hub.ToAllIncludingSender(s.Conn, s.UserID, ws.Event{
		Type: ws.TypeFinishRecording,
		Data: ws.FinishRecordingData{
			VisitID:             visit.ID,
			Status:              string(visit.Status),
			RecordingFinishedAt: visit.RecordingFinishedAt,
			RecordingDuration:   visit.RecordingDuration,
			Transcript:          visit.Transcript,
			Name:                visit.Name,
			TemplateModifiedAt:  visit.TemplateModifiedAt,
		},
	})

	req, err := p.noteRequest(ctx, visit)
	if err != nil {
		return err
	}

	started := time.Now()
	note, generatedAt, err := p.generator.GenerateNote(ctx, req, func(partial string) error {
		p.hub.ToAllIncludingSender(s.Conn, s.UserID, ws.Event{
			Type: ws.TypeNoteGenerated,
			Data: ws.NoteGeneratedData{
				VisitID: visit.ID,
				Note:    partial,
				Status:  string(models.StatusGeneratingNote),
			},
		})
		return nil
	})
	if p.noteDuration != nil {
		p.noteDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(attribute.Bool("success", err == nil)))
	}
	if err != nil {
		return err
	}

	visit, err = p.store.UpdateVisit(ctx, visit.ID, models.VisitUpdate{
		Status:             models.Ptr(models.StatusFinished),
		Note:               &note,
		TemplateModifiedAt: &generatedAt,
	})
	if err != nil {
		return err
	}

	p.hub.ToAllIncludingSender(s.Conn, s.UserID, ws.Event{
		Type: ws.TypeNoteGenerated,
		Data: ws.NoteGeneratedData{
			VisitID:            visit.ID,
			Note:               visit.Note,
			Status:             string(visit.Status),
			TemplateModifiedAt: visit.TemplateModifiedAt,
		},
	})
	log.Info("note generated", "note_length", len(note), "duration", visit.RecordingDuration)
	return nil
}

// stopRecording moves the visit to GENERATING_NOTE and closes its session.
// A visit left in GENERATING_NOTE by a failed finish is returned unchanged so
// generation can run again. The returned visit carries every finalized line
// and is marked as generating until endGeneration.
func (p *Pipeline) stopRecording(ctx context.Context, s *wshub.Session, data ws.ControlData) (*models.Visit, error) {
	unlock := p.locks.Lock(data.VisitID)
	defer unlock()

	visit, err := p.ownedVisit(ctx, s, data.VisitID)
	if err != nil {
		return nil, err
	}

	switch visit.Status {
	case models.StatusRecording, models.StatusPaused:
	case models.StatusGeneratingNote:
		if !p.beginGeneration(visit.ID) {
			return nil, errors.NewInvalidStateError("a note is already being generated for this visit")
		}
		p.log.WithUserID(s.UserID).WithVisitID(visit.ID).Info("retrying note generation")
		return visit, nil
	default:
		return nil, errors.NewInvalidStateError("cannot finish a visit in status " + string(visit.Status))
	}

	now := p.now()
	before := visit.RecordingDuration
	duration := nextDuration(before, p.endSegment(visit.ID, now), data.RecordingDuration)

	visit, err = p.store.UpdateVisit(ctx, visit.ID, models.VisitUpdate{
		Status:              models.Ptr(models.StatusGeneratingNote),
		RecordingFinishedAt: &now,
		RecordingDuration:   &duration,
	})
	if err != nil {
		return nil, err
	}
	p.recordDurationGrowth(ctx, s.UserID, before, visit.RecordingDuration)

	if err := p.transcriber.Close(ctx, visit.ID); err != nil {
		return nil, err
	}

	visit, err = p.store.GetVisit(ctx, visit.ID)
	if err != nil {
		return nil, err
	}
	p.beginGeneration(visit.ID)
	return visit, nil
}

func (p *Pipeline) beginGeneration(visitID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if _, ok := p.generating[visitID]; ok {
		return false
	}
	p.generating[visitID] = struct{}{}
	return true
}

func (p *Pipeline) endGeneration(visitID string) {
	p.activeMu.Lock()
	delete(p.generating, visitID)
	p.activeMu.Unlock()
}

// noteRequest resolves the template and specialty of the visit's owner
func (p *Pipeline) noteRequest(ctx context.Context, visit *models.Visit) (notegen.NoteRequest, error) {
	user, err := p.store.GetUser(ctx, visit.UserID)
	if err != nil {
		return notegen.NoteRequest{}, err
	}

	templateID := visit.TemplateID
	if templateID == "" {
		templateID = user.DefaultTemplateID
	}

	instructions := defaultInstructions
	if templateID != "" {
		tmpl, err := p.store.GetTemplate(ctx, templateID)
		if err != nil {
			return notegen.NoteRequest{}, err
		}
		if strings.TrimSpace(tmpl.Instructions) != "" {
			instructions = tmpl.Instructions
		}
	}

	return notegen.NoteRequest{
		Instructions: instructions,
		Transcript:   visit.Transcript,
		Context:      visit.AdditionalContext,
		Specialty:    user.Specialty,
	}, nil
}

// Audio forwards a base64 chunk to the visit's open session. The visit
// defaults to the one the connection last started or resumed.
func (p *Pipeline) Audio(_ context.Context, s *wshub.Session, data ws.AudioChunkData) error {
	visitID := data.VisitID
	if visitID == "" {
		visitID = s.VisitID()
	}
	if visitID == "" {
		return errors.NewValidationError("visit_id is required")
	}
	if data.Audio == "" {
		return errors.NewValidationError("audio is required")
	}

	audio, err := base64.StdEncoding.DecodeString(data.Audio)
	if err != nil {
		return errors.NewDecodeError("audio is not valid base64", err)
	}

	if owner, ok := p.recordingOwner(visitID); !ok || owner != s.UserID {
		return errors.NewNotOpenError(visitID)
	}
	return p.transcriber.SendAudio(visitID, audio)
}

// appendFinal returns the callback that appends finalized lines to the
// visit's transcript. The transcription manager calls it one result at a
// time per visit, which keeps the read-modify-write below single-writer.
func (p *Pipeline) appendFinal(visitID string) transcription.FinalizeFunc {
	return func(ctx context.Context, r transcription.Result) {
		at := r.Timestamp
		if at.IsZero() {
			at = p.now()
		}
		line := models.FormatTranscriptLine(at, strings.TrimSpace(r.Transcript))

		visit, err := p.store.GetVisit(ctx, visitID)
		if err != nil {
			p.log.WithVisitID(visitID).LogError(err, "failed to load visit for transcript")
			return
		}
		transcript := models.AppendTranscriptLine(visit.Transcript, line)
		if _, err := p.store.UpdateVisit(ctx, visitID, models.VisitUpdate{Transcript: &transcript}); err != nil {
			p.log.WithVisitID(visitID).LogError(err, "failed to append transcript line")
		}
	}
}
