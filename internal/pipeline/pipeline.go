// Package pipeline drives a visit through recording, transcription and note
// generation in response to client control messages.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/internal/notegen"
	"github.com/KeshavSoni17/halo-backend/internal/transcription"
	wshub "github.com/KeshavSoni17/halo-backend/internal/ws"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/ws"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Store is the record store the pipeline reads and mutates
type Store interface {
	GetVisit(ctx context.Context, id string) (*models.Visit, error)
	UpdateVisit(ctx context.Context, id string, upd models.VisitUpdate) (*models.Visit, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
}

// Transcriber holds the live transcription sessions
type Transcriber interface {
	Open(ctx context.Context, visitID, language string, finalize transcription.FinalizeFunc) (bool, error)
	SendAudio(visitID string, audio []byte) error
	IsOpen(visitID string) bool
	Close(ctx context.Context, visitID string) error
}

// NoteGenerator names visits and writes their notes
type NoteGenerator interface {
	InferName(ctx context.Context, transcript, additionalContext string) (string, error)
	GenerateNote(ctx context.Context, req notegen.NoteRequest, onPartial func(note string) error) (string, time.Time, error)
}

// Stats receives the daily statistic events
type Stats interface {
	RecordVisitStarted(ctx context.Context, userID string) error
	RecordAudioSeconds(ctx context.Context, userID string, delta float64) error
}

// Broadcaster fans events out to a user's connections
type Broadcaster interface {
	ToSender(sender wshub.Connection, ev ws.Event)
	ToAllExcludingSender(sender wshub.Connection, userID string, ev ws.Event)
	ToAllIncludingSender(sender wshub.Connection, userID string, ev ws.Event)
}

// activeVisit is a visit with an open RECORDING segment
type activeVisit struct {
	userID string
	since  time.Time
}

// Pipeline is the visit state machine
type Pipeline struct {
	store       Store
	transcriber Transcriber
	generator   NoteGenerator
	stats       Stats
	hub         Broadcaster
	log         *logger.Logger
	tracer      trace.Tracer
	now         func() time.Time

	locks *keyedMutex

	activeMu   sync.Mutex
	active     map[string]activeVisit
	generating map[string]struct{}

	events       metric.Int64Counter
	noteDuration metric.Float64Histogram
}

// New creates a pipeline
func New(store Store, transcriber Transcriber, generator NoteGenerator, stats Stats, hub Broadcaster, log *logger.Logger) *Pipeline {
	meter := otel.Meter("halo/pipeline")
	events, _ := meter.Int64Counter("halo_pipeline_events",
		metric.WithDescription("Control events handled, by type and outcome"))
	noteDuration, _ := meter.Float64Histogram("halo_note_generation_seconds",
		metric.WithDescription("Time spent streaming a note"),
		metric.WithUnit("s"))

	return &Pipeline{
		store:        store,
		transcriber:  transcriber,
		generator:    generator,
		stats:        stats,
		hub:          hub,
		log:          log.WithComponent("pipeline"),
		tracer:       otel.Tracer("halo/pipeline"),
		now:          func() time.Time { return time.Now().UTC() },
		locks:        newKeyedMutex(),
		active:       make(map[string]activeVisit),
		generating:   make(map[string]struct{}),
		events:       events,
		noteDuration: noteDuration,
	}
}

// Dispatch handles one control message. Any error is reported to the sending
// connection only; state already changed is kept.
func (p *Pipeline) Dispatch(ctx context.Context, s *wshub.Session, msg ws.Message) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+msg.Type,
		trace.WithAttributes(attribute.String("user_id", s.UserID)))
	defer span.End()

	err := p.handle(ctx, s, msg)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.GetErrorCode(err))

		appErr := errors.FromError(err)
		log := p.log.WithUserID(s.UserID).WithConnectionID(s.Conn.ID())
		if appErr.Code == errors.CodeInternal {
			log.LogError(err, "control event failed", "type", msg.Type)
		} else {
			log.Warn("control event rejected", "type", msg.Type, "code", appErr.Code, "error", err)
		}
		p.hub.ToSender(s.Conn, ws.NewErrorEvent(errors.GetErrorMessage(appErr)))
	}

	if p.events != nil {
		p.events.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", msg.Type),
			attribute.String("outcome", outcome),
		))
	}
}

func (p *Pipeline) handle(ctx context.Context, s *wshub.Session, msg ws.Message) error {
	switch msg.Type {
	case ws.TypeStartRecording:
		data, err := decodeControl(msg.Data)
		if err != nil {
			return err
		}
		return p.Start(ctx, s, data)
	case ws.TypeResumeRecording:
		data, err := decodeControl(msg.Data)
		if err != nil {
			return err
		}
		return p.Resume(ctx, s, data)
	case ws.TypePauseRecording:
		data, err := decodeControl(msg.Data)
		if err != nil {
			return err
		}
		return p.Pause(ctx, s, data)
	case ws.TypeFinishRecording:
		data, err := decodeControl(msg.Data)
		if err != nil {
			return err
		}
		return p.Finish(ctx, s, data)
	case ws.TypeAudioChunk:
		var data ws.AudioChunkData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				return errors.NewValidationError("invalid audio_chunk data: " + err.Error())
			}
		}
		return p.Audio(ctx, s, data)
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func decodeControl(raw json.RawMessage) (ws.ControlData, error) {
	var data ws.ControlData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return data, errors.NewValidationError("invalid data: " + err.Error())
		}
	}
	if data.VisitID == "" {
		return data, errors.NewValidationError("visit_id is required")
	}
	return data, nil
}

// ownedVisit loads a visit of the session's user. Visits of other users are
// reported as missing.
func (p *Pipeline) ownedVisit(ctx context.Context, s *wshub.Session, visitID string) (*models.Visit, error) {
	visit, err := p.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.UserID != s.UserID {
		return nil, errors.NewNotFoundError("visit", visitID)
	}
	return visit, nil
}

// beginSegment marks the visit as recording from now on
func (p *Pipeline) beginSegment(visitID, userID string, now time.Time) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if _, ok := p.active[visitID]; !ok {
		p.active[visitID] = activeVisit{userID: userID, since: now}
	}
}

// endSegment returns the seconds recorded since the segment began
func (p *Pipeline) endSegment(visitID string, now time.Time) float64 {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	seg, ok := p.active[visitID]
	if !ok {
		return 0
	}
	delete(p.active, visitID)
	if elapsed := now.Sub(seg.since).Seconds(); elapsed > 0 {
		return elapsed
	}
	return 0
}

func (p *Pipeline) recordingOwner(visitID string) (string, bool) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	seg, ok := p.active[visitID]
	return seg.userID, ok
}

// nextDuration adds the segment just ended to the stored duration. A client
// measurement may raise the result but never lower it.
func nextDuration(stored, elapsed float64, reported *float64) float64 {
	next := stored + elapsed
	if reported != nil && *reported > next {
		next = *reported
	}
	return next
}

func (p *Pipeline) recordVisitStarted(ctx context.Context, userID string) {
	if err := p.stats.RecordVisitStarted(ctx, userID); err != nil {
		p.log.WithUserID(userID).LogError(err, "failed to record visit start")
	}
}

func (p *Pipeline) recordDurationGrowth(ctx context.Context, userID string, before, after float64) {
	delta := after - before
	if delta <= 0 {
		return
	}
	if err := p.stats.RecordAudioSeconds(ctx, userID, delta); err != nil {
		p.log.WithUserID(userID).LogError(err, "failed to record audio seconds", "delta", delta)
	}
}

// keyedMutex serializes control handlers per visit
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock locks key and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
