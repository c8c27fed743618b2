// Package transcription manages one live speech-to-text stream per visit.
package transcription

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"
)

// Result is one transcription update from the upstream service
type Result struct {
	Transcript string
	IsFinal    bool
	Timestamp  time.Time
}

// StreamOptions configures a new stream
type StreamOptions struct {
	Language string
}

// Stream is an open upstream connection. Results is closed once the stream
// has delivered everything it will deliver.
type Stream interface {
	Send(audio []byte) error
	Results() <-chan Result
	Close() error
}

// Streamer opens upstream streams
type Streamer interface {
	Connect(ctx context.Context, opts StreamOptions) (Stream, error)
}

// FinalizeFunc receives finalized results of one visit, one at a time, in
// arrival order
type FinalizeFunc func(ctx context.Context, r Result)

type session struct {
	visitID string
	stream  Stream
	done    chan struct{}
}

// Manager holds at most one session per visit
type Manager struct {
	streamer     Streamer
	log          *logger.Logger
	drainTimeout time.Duration
	baseCtx      context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a manager. Finalize callbacks run under ctx, which
// should live as long as the process.
func NewManager(ctx context.Context, streamer Streamer, drainTimeout time.Duration, log *logger.Logger) *Manager {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &Manager{
		streamer:     streamer,
		log:          log.WithComponent("transcription"),
		drainTimeout: drainTimeout,
		baseCtx:      ctx,
		sessions:     make(map[string]*session),
	}
}

// Open starts a session for visitID unless one is already open. It reports
// whether a new session was created.
func (m *Manager) Open(ctx context.Context, visitID, language string, finalize FinalizeFunc) (bool, error) {
	if m.IsOpen(visitID) {
		return false, nil
	}

	stream, err := m.streamer.Connect(ctx, StreamOptions{Language: language})
	if err != nil {
		return false, errors.NewUpstreamError("transcription", err)
	}

	m.mu.Lock()
	if _, exists := m.sessions[visitID]; exists {
		m.mu.Unlock()
		_ = stream.Close()
		return false, nil
	}
	s := &session{visitID: visitID, stream: stream, done: make(chan struct{})}
	m.sessions[visitID] = s
	m.mu.Unlock()

	go m.consume(s, finalize)

	m.log.WithVisitID(visitID).Info("transcription session opened", "language", language)
	return true, nil
}

// consume is the only goroutine applying results of a session
func (m *Manager) consume(s *session, finalize FinalizeFunc) {
	defer close(s.done)

	for r := range s.stream.Results() {
		if !r.IsFinal || strings.TrimSpace(r.Transcript) == "" {
			continue
		}
		finalize(m.baseCtx, r)
	}

	// upstream ended on its own; forget the session so audio reports NOT_OPEN
	m.mu.Lock()
	if m.sessions[s.visitID] == s {
		delete(m.sessions, s.visitID)
		m.mu.Unlock()
		_ = s.stream.Close()
		m.log.WithVisitID(s.visitID).Warn("transcription stream ended unexpectedly")
		return
	}
	m.mu.Unlock()
}

// SendAudio forwards raw audio to the visit's open session
func (m *Manager) SendAudio(visitID string, audio []byte) error {
	m.mu.Lock()
	s := m.sessions[visitID]
	m.mu.Unlock()

	if s == nil {
		return errors.NewNotOpenError(visitID)
	}
	if err := s.stream.Send(audio); err != nil {
		return errors.NewUpstreamError("transcription", err)
	}
	return nil
}

// IsOpen reports whether visitID has an open session
func (m *Manager) IsOpen(visitID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[visitID]
	return ok
}

// Close ends the visit's session and waits for pending finalized results to
// be applied. Closing a visit without a session is a no-op.
func (m *Manager) Close(ctx context.Context, visitID string) error {
	m.mu.Lock()
	s := m.sessions[visitID]
	delete(m.sessions, visitID)
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	closeErr := s.stream.Close()

	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		m.log.WithVisitID(visitID).Warn("timed out draining transcription results")
	case <-ctx.Done():
		return ctx.Err()
	}

	m.log.WithVisitID(visitID).Info("transcription session closed")

	if closeErr != nil {
		return errors.NewUpstreamError("transcription", closeErr)
	}
	return nil
}

// CloseAll ends every open session
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			m.log.WithVisitID(id).LogError(err, "failed to close transcription session")
		}
	}
}
