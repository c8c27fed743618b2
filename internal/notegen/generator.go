// Package notegen infers patient names and writes clinical notes with a
// language model.
package notegen

import (
	"context"
	"strings"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CompletionRequest is one prompt sent to a named model
type CompletionRequest struct {
	Model     string
	MaxTokens int
	Prompt    string
}

// Completer is the language-model backend
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Stream(ctx context.Context, req CompletionRequest, onText func(string) error) error
}

// NoteRequest carries the inputs of one note
type NoteRequest struct {
	Instructions string
	Transcript   string
	Context      string
	Specialty    string
}

// Models selects the model and token budget per operation
type Models struct {
	NoteModel     string
	NoteMaxTokens int
	NameModel     string
	NameMaxTokens int
}

// Generator drives name inference and note generation
type Generator struct {
	completer Completer
	models    Models
	log       *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGenerator creates a generator
func NewGenerator(completer Completer, models Models, log *logger.Logger) *Generator {
	return &Generator{
		completer: completer,
		models:    models,
		log:       log.WithComponent("notegen"),
		tracer:    otel.Tracer("halo/notegen"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InferName asks for the patient's name. The reply is used verbatim apart
// from surrounding whitespace.
func (g *Generator) InferName(ctx context.Context, transcript, additionalContext string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "notegen.InferName")
	defer span.End()

	name, err := g.completer.Complete(ctx, CompletionRequest{
		Model:     g.models.NameModel,
		MaxTokens: g.models.NameMaxTokens,
		Prompt:    namePrompt(transcript, additionalContext),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "name inference failed")
		return "", errors.NewUpstreamError("name inference", err)
	}
	return strings.TrimSpace(name), nil
}

// GenerateNote streams a note. onPartial receives the running note after
// every chunk; an error from it aborts generation. The returned time is
// when the stream completed.
func (g *Generator) GenerateNote(ctx context.Context, req NoteRequest, onPartial func(note string) error) (string, time.Time, error) {
	ctx, span := g.tracer.Start(ctx, "notegen.GenerateNote",
		trace.WithAttributes(attribute.String("model", g.models.NoteModel)))
	defer span.End()

	var note strings.Builder
	chunks := 0

	err := g.completer.Stream(ctx, CompletionRequest{
		Model:     g.models.NoteModel,
		MaxTokens: g.models.NoteMaxTokens,
		Prompt:    notePrompt(req),
	}, func(text string) error {
		note.WriteString(text)
		chunks++
		if onPartial == nil {
			return nil
		}
		return onPartial(note.String())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "note generation failed")
		if _, ok := errors.As(err); ok {
			return "", time.Time{}, err
		}
		return "", time.Time{}, errors.NewUpstreamError("note generation", err)
	}

	span.SetAttributes(attribute.Int("chunks", chunks), attribute.Int("note_length", note.Len()))
	return note.String(), g.now(), nil
}
