package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/internal/notegen"
	"github.com/KeshavSoni17/halo-backend/internal/transcription"
	wshub "github.com/KeshavSoni17/halo-backend/internal/ws"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps visits in memory with the same update rules as the real store
type fakeStore struct {
	mu        sync.Mutex
	visits    map[string]models.Visit
	users     map[string]models.User
	templates map[string]models.Template
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		visits:    make(map[string]models.Visit),
		users:     make(map[string]models.User),
		templates: make(map[string]models.Template),
	}
}

func (f *fakeStore) GetVisit(_ context.Context, id string) (*models.Visit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.visits[id]
	if !ok {
		return nil, errors.NewNotFoundError("visit", id)
	}
	return &v, nil
}

func (f *fakeStore) UpdateVisit(_ context.Context, id string, upd models.VisitUpdate) (*models.Visit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.visits[id]
	if !ok {
		return nil, errors.NewNotFoundError("visit", id)
	}
	if upd.Status != nil {
		v.Status = *upd.Status
	}
	if upd.Name != nil {
		v.Name = *upd.Name
	}
	if upd.AdditionalContext != nil {
		v.AdditionalContext = *upd.AdditionalContext
	}
	if upd.Transcript != nil {
		v.Transcript = *upd.Transcript
	}
	if upd.Note != nil {
		v.Note = *upd.Note
	}
	if upd.RecordingStartedAt != nil {
		v.RecordingStartedAt = upd.RecordingStartedAt
	}
	if upd.RecordingFinishedAt != nil {
		v.RecordingFinishedAt = upd.RecordingFinishedAt
	}
	if upd.TemplateModifiedAt != nil {
		v.TemplateModifiedAt = upd.TemplateModifiedAt
	}
	if upd.RecordingDuration != nil && *upd.RecordingDuration > v.RecordingDuration {
		v.RecordingDuration = *upd.RecordingDuration
	}
	f.visits[id] = v
	return &v, nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, errors.NewNotFoundError("user", id)
	}
	return &u, nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, errors.NewNotFoundError("template", id)
	}
	return &t, nil
}

func (f *fakeStore) visit(t *testing.T, id string) models.Visit {
	t.Helper()
	v, err := f.GetVisit(context.Background(), id)
	require.NoError(t, err)
	return *v
}

type fakeStream struct {
	mu      sync.Mutex
	sent    [][]byte
	results chan transcription.Result
	once    sync.Once
}

func (s *fakeStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, audio)
	return nil
}

func (s *fakeStream) Results() <-chan transcription.Result { return s.results }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.results) })
	return nil
}

func (s *fakeStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeStreamer struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (f *fakeStreamer) Connect(context.Context, transcription.StreamOptions) (transcription.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{results: make(chan transcription.Result, 16)}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeStreamer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeStreamer) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

type fakeGenerator struct {
	mu         sync.Mutex
	nameCalls  int
	name       string
	chunks     []string
	noteErr    error
	lastNote   notegen.NoteRequest
	finishedAt time.Time

	// started and release, when set, hold GenerateNote until the test lets go
	started chan struct{}
	release chan struct{}
}

func (g *fakeGenerator) InferName(context.Context, string, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nameCalls++
	return g.name, nil
}

func (g *fakeGenerator) GenerateNote(_ context.Context, req notegen.NoteRequest, onPartial func(string) error) (string, time.Time, error) {
	g.mu.Lock()
	g.lastNote = req
	noteErr := g.noteErr
	g.mu.Unlock()

	if g.started != nil {
		close(g.started)
		<-g.release
	}

	note := ""
	for _, c := range g.chunks {
		note += c
		if err := onPartial(note); err != nil {
			return "", time.Time{}, err
		}
	}
	if noteErr != nil {
		return "", time.Time{}, noteErr
	}
	return note, g.finishedAt, nil
}

type fakeStats struct {
	mu      sync.Mutex
	started int
	seconds []float64
}

func (s *fakeStats) RecordVisitStarted(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func (s *fakeStats) RecordAudioSeconds(_ context.Context, _ string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta > 0 {
		s.seconds = append(s.seconds, delta)
	}
	return nil
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []ws.Event
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev ws.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) received() []ws.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ws.Event(nil), c.events...)
}

func (c *fakeConn) types() []string {
	var out []string
	for _, ev := range c.received() {
		out = append(out, ev.Type)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	p         *Pipeline
	store     *fakeStore
	streamer  *fakeStreamer
	manager   *transcription.Manager
	generator *fakeGenerator
	stats     *fakeStats
	clock     *clock
	a, b      *fakeConn
	sa, sb    *wshub.Session
}

const (
	userID  = "user-1"
	visitID = "visit-1"
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Discard()

	store := newFakeStore()
	store.templates["tmpl-1"] = models.Template{ID: "tmpl-1", Instructions: "Write a SOAP note."}
	store.users[userID] = models.User{ID: userID, Specialty: "cardiology", DefaultTemplateID: "tmpl-1"}
	store.visits[visitID] = models.Visit{
		ID:       visitID,
		UserID:   userID,
		Status:   models.StatusNotStarted,
		Name:     models.DefaultVisitName,
		Language: "en",
	}

	streamer := &fakeStreamer{}
	manager := transcription.NewManager(context.Background(), streamer, time.Second, log)
	generator := &fakeGenerator{
		name:       "Jane Roe",
		chunks:     []string{"S: chest pain", "\nP: ECG"},
		finishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	stats := &fakeStats{}
	hub := wshub.NewHub(log)

	p := New(store, manager, generator, stats, hub, log)
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	p.now = clk.now

	a := &fakeConn{id: "conn-a"}
	b := &fakeConn{id: "conn-b"}
	hub.Register(userID, a)
	hub.Register(userID, b)

	return &harness{
		p: p, store: store, streamer: streamer, manager: manager,
		generator: generator, stats: stats, clock: clk,
		a: a, b: b,
		sa: wshub.NewSession(a, userID),
		sb: wshub.NewSession(b, userID),
	}
}

func (h *harness) send(s *wshub.Session, typ string, data any) {
	raw, _ := json.Marshal(data)
	h.p.Dispatch(context.Background(), s, ws.Message{Type: typ, Data: raw})
}

func control(id string) ws.ControlData {
	return ws.ControlData{VisitID: id}
}

func errorMessages(c *fakeConn) []string {
	var out []string
	for _, ev := range c.received() {
		if ev.Type == ws.TypeError {
			out = append(out, ev.Data.(ws.ErrorData).Message)
		}
	}
	return out
}

func TestStartOpensSessionAndBroadcasts(t *testing.T) {
	h := newHarness(t)

	h.send(h.sa, ws.TypeStartRecording, control(visitID))

	v := h.store.visit(t, visitID)
	assert.Equal(t, models.StatusRecording, v.Status)
	require.NotNil(t, v.RecordingStartedAt)
	assert.True(t, h.manager.IsOpen(visitID))
	assert.Equal(t, 1, h.streamer.count())
	assert.Equal(t, 1, h.stats.started)

	assert.Equal(t, []string{ws.TypeStartRecording}, h.a.types())
	assert.Equal(t, []string{ws.TypeStartRecording}, h.b.types())

	data := h.b.received()[0].Data.(ws.StartRecordingData)
	assert.Equal(t, visitID, data.VisitID)
	assert.Equal(t, "RECORDING", data.Status)
	assert.Equal(t, visitID, h.sa.VisitID())
}

func TestStartWhileRecordingOpensNothingNew(t *testing.T) {
	h := newHarness(t)

	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sb, ws.TypeStartRecording, control(visitID))

	assert.Equal(t, 1, h.streamer.count())
	assert.Equal(t, 1, h.stats.started)
	assert.Empty(t, errorMessages(h.a))
	assert.Empty(t, errorMessages(h.b))
	assert.Equal(t, []string{ws.TypeStartRecording, ws.TypeStartRecording}, h.a.types())
}

func TestFinalResultsAppendInOrder(t *testing.T) {
	h := newHarness(t)
	h.send(h.sa, ws.TypeStartRecording, control(visitID))

	stream := h.streamer.last()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	stream.results <- transcription.Result{Transcript: "hel", IsFinal: false, Timestamp: base}
	stream.results <- transcription.Result{Transcript: "hello", IsFinal: true, Timestamp: base.Add(1 * time.Second)}
	stream.results <- transcription.Result{Transcript: "world", IsFinal: true, Timestamp: base.Add(2 * time.Second)}
	stream.results <- transcription.Result{Transcript: "done", IsFinal: true, Timestamp: base.Add(3 * time.Second)}

	// pausing closes the session and waits for pending lines
	h.send(h.sa, ws.TypePauseRecording, control(visitID))

	v := h.store.visit(t, visitID)
	assert.Equal(t, "[10:00:01] hello\n[10:00:02] world\n[10:00:03] done", v.Transcript)
	assert.Equal(t, models.StatusPaused, v.Status)
}

func TestFinalResultsStayWithTheirVisit(t *testing.T) {
	h := newHarness(t)
	const otherVisit = "visit-2"
	h.store.visits[otherVisit] = models.Visit{
		ID: otherVisit, UserID: userID, Status: models.StatusNotStarted,
		Name: models.DefaultVisitName, Language: "en",
	}

	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sb, ws.TypeStartRecording, control(otherVisit))
	require.Equal(t, 2, h.streamer.count())

	h.streamer.mu.Lock()
	first, second := h.streamer.streams[0], h.streamer.streams[1]
	h.streamer.mu.Unlock()

	const lines = 10
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for _, stream := range []*fakeStream{first, second} {
		wg.Add(1)
		go func(stream *fakeStream, prefix string) {
			defer wg.Done()
			for i := 0; i < lines; i++ {
				stream.results <- transcription.Result{
					Transcript: fmt.Sprintf("%s %d", prefix, i),
					IsFinal:    true,
					Timestamp:  base.Add(time.Duration(i) * time.Second),
				}
			}
		}(stream, map[*fakeStream]string{first: "one", second: "two"}[stream])
	}
	wg.Wait()

	h.send(h.sa, ws.TypePauseRecording, control(visitID))
	h.send(h.sb, ws.TypePauseRecording, control(otherVisit))

	want := func(prefix string) string {
		var out []string
		for i := 0; i < lines; i++ {
			out = append(out, fmt.Sprintf("[10:00:%02d] %s %d", i, prefix, i))
		}
		return strings.Join(out, "\n")
	}
	assert.Equal(t, want("one"), h.store.visit(t, visitID).Transcript)
	assert.Equal(t, want("two"), h.store.visit(t, otherVisit).Transcript)
}

func TestPauseTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sa, ws.TypePauseRecording, control(visitID))
	h.send(h.sa, ws.TypePauseRecording, control(visitID))

	assert.Empty(t, errorMessages(h.a))
	assert.Equal(t, []string{ws.TypeStartRecording, ws.TypePauseRecording}, h.a.types())
	assert.False(t, h.manager.IsOpen(visitID))
}

func TestResumeKeepsStartTimeAndAccumulatesDuration(t *testing.T) {
	h := newHarness(t)

	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	started := *h.store.visit(t, visitID).RecordingStartedAt

	h.clock.advance(30 * time.Second)
	// a smaller client measurement cannot shrink the duration
	h.send(h.sa, ws.TypePauseRecording, ws.ControlData{VisitID: visitID, RecordingDuration: models.Ptr(10.0)})
	assert.Equal(t, 30.0, h.store.visit(t, visitID).RecordingDuration)

	h.clock.advance(time.Minute)
	h.send(h.sa, ws.TypeResumeRecording, control(visitID))
	v := h.store.visit(t, visitID)
	assert.Equal(t, models.StatusRecording, v.Status)
	assert.True(t, started.Equal(*v.RecordingStartedAt))
	assert.Equal(t, 2, h.streamer.count())
	assert.Equal(t, 1, h.stats.started)

	h.clock.advance(15 * time.Second)
	h.send(h.sa, ws.TypePauseRecording, control(visitID))

	assert.Equal(t, 45.0, h.store.visit(t, visitID).RecordingDuration)
	assert.Equal(t, []float64{30, 15}, h.stats.seconds)
	assert.Contains(t, h.b.types(), ws.TypeResumeRecording)
}

func TestFinishInfersNameAndStreamsNote(t *testing.T) {
	h := newHarness(t)
	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.streamer.last().results <- transcription.Result{
		Transcript: "Hi Jane, what brings you in?", IsFinal: true,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC),
	}
	h.clock.advance(time.Minute)

	h.send(h.sa, ws.TypeFinishRecording, control(visitID))

	assert.Empty(t, errorMessages(h.a))
	assert.Equal(t, 1, h.generator.nameCalls)

	for _, conn := range []*fakeConn{h.a, h.b} {
		events := conn.received()
		require.Len(t, events, 5)
		assert.Equal(t, ws.TypeStartRecording, events[0].Type)

		finish := events[1].Data.(ws.FinishRecordingData)
		assert.Equal(t, ws.TypeFinishRecording, events[1].Type)
		assert.Equal(t, "Jane Roe", finish.Name)
		assert.Equal(t, "GENERATING_NOTE", finish.Status)
		assert.Equal(t, 60.0, finish.RecordingDuration)
		assert.Equal(t, "[10:00:05] Hi Jane, what brings you in?", finish.Transcript)
		assert.NotNil(t, finish.RecordingFinishedAt)

		partial := events[2].Data.(ws.NoteGeneratedData)
		assert.Equal(t, "S: chest pain", partial.Note)
		assert.Equal(t, "GENERATING_NOTE", partial.Status)
		assert.Nil(t, partial.TemplateModifiedAt)

		assert.Equal(t, "S: chest pain\nP: ECG", events[3].Data.(ws.NoteGeneratedData).Note)

		final := events[4].Data.(ws.NoteGeneratedData)
		assert.Equal(t, ws.TypeNoteGenerated, events[4].Type)
		assert.Equal(t, "S: chest pain\nP: ECG", final.Note)
		assert.Equal(t, "FINISHED", final.Status)
		require.NotNil(t, final.TemplateModifiedAt)
		assert.True(t, h.generator.finishedAt.Equal(*final.TemplateModifiedAt))
	}

	v := h.store.visit(t, visitID)
	assert.Equal(t, models.StatusFinished, v.Status)
	assert.Equal(t, "Jane Roe", v.Name)
	assert.Equal(t, "S: chest pain\nP: ECG", v.Note)
	assert.False(t, h.manager.IsOpen(visitID))

	assert.Equal(t, "Write a SOAP note.", h.generator.lastNote.Instructions)
	assert.Equal(t, "cardiology", h.generator.lastNote.Specialty)
}

func TestFinishInfersNameWithEmptyTranscript(t *testing.T) {
	h := newHarness(t)
	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sa, ws.TypeFinishRecording, control(visitID))

	assert.Empty(t, errorMessages(h.a))
	assert.Equal(t, 1, h.generator.nameCalls)

	v := h.store.visit(t, visitID)
	assert.Empty(t, v.Transcript)
	assert.Empty(t, v.AdditionalContext)
	assert.Equal(t, "Jane Roe", v.Name)
}

func TestFinishKeepsGivenName(t *testing.T) {
	h := newHarness(t)
	v := h.store.visits[visitID]
	v.Name = "John Smith"
	h.store.visits[visitID] = v

	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sa, ws.TypeFinishRecording, control(visitID))

	assert.Equal(t, 0, h.generator.nameCalls)
	assert.Equal(t, "John Smith", h.store.visit(t, visitID).Name)
}

func TestFinishFromPaused(t *testing.T) {
	h := newHarness(t)
	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sa, ws.TypePauseRecording, control(visitID))
	h.send(h.sa, ws.TypeFinishRecording, control(visitID))

	assert.Empty(t, errorMessages(h.a))
	assert.Equal(t, models.StatusFinished, h.store.visit(t, visitID).Status)
}

func TestGenerationFailureReachesSenderOnly(t *testing.T) {
	h := newHarness(t)
	h.generator.noteErr = errors.NewUpstreamError("note generation", stderrors.New("overloaded"))

	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sa, ws.TypeFinishRecording, control(visitID))

	require.Len(t, errorMessages(h.a), 1)
	assert.Contains(t, errorMessages(h.a)[0], "overloaded")
	assert.Empty(t, errorMessages(h.b))

	v := h.store.visit(t, visitID)
	assert.Equal(t, models.StatusGeneratingNote, v.Status)
	assert.Empty(t, v.Note)

	// the visit stays where it failed
	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	assert.Len(t, errorMessages(h.a), 2)
}

func TestFinishRetryAfterGenerationFailure(t *testing.T) {
	h := newHarness(t)
	h.generator.noteErr = errors.NewUpstreamError("note generation", stderrors.New("overloaded"))

	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.clock.advance(20 * time.Second)
	h.send(h.sa, ws.TypeFinishRecording, control(visitID))
	require.Len(t, errorMessages(h.a), 1)

	failed := h.store.visit(t, visitID)
	require.NotNil(t, failed.RecordingFinishedAt)
	finishedAt := *failed.RecordingFinishedAt

	h.generator.mu.Lock()
	h.generator.noteErr = nil
	h.generator.mu.Unlock()
	h.clock.advance(time.Minute)
	h.send(h.sa, ws.TypeFinishRecording, control(visitID))

	assert.Len(t, errorMessages(h.a), 1)
	v := h.store.visit(t, visitID)
	assert.Equal(t, models.StatusFinished, v.Status)
	assert.Equal(t, "S: chest pain\nP: ECG", v.Note)
	assert.True(t, finishedAt.Equal(*v.RecordingFinishedAt))
	assert.Equal(t, 20.0, v.RecordingDuration)
	assert.Equal(t, []float64{20}, h.stats.seconds)
	assert.Equal(t, 1, h.streamer.count())
}

func TestSecondFinishWhileGeneratingIsRejected(t *testing.T) {
	h := newHarness(t)
	h.generator.started = make(chan struct{})
	h.generator.release = make(chan struct{})

	h.send(h.sa, ws.TypeStartRecording, control(visitID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.send(h.sa, ws.TypeFinishRecording, control(visitID))
	}()
	<-h.generator.started

	h.send(h.sb, ws.TypeFinishRecording, control(visitID))
	require.Len(t, errorMessages(h.b), 1)
	assert.Contains(t, errorMessages(h.b)[0], "already being generated")

	close(h.generator.release)
	<-done

	assert.Empty(t, errorMessages(h.a))
	assert.Equal(t, models.StatusFinished, h.store.visit(t, visitID).Status)
}

func TestUndecodableAudio(t *testing.T) {
	h := newHarness(t)
	h.send(h.sa, ws.TypeStartRecording, control(visitID))

	h.send(h.sa, ws.TypeAudioChunk, ws.AudioChunkData{Audio: "%%% not base64 %%%"})

	require.Len(t, errorMessages(h.a), 1)
	assert.Empty(t, errorMessages(h.b))
	assert.Equal(t, 0, h.streamer.last().sentCount())
	assert.Equal(t, models.StatusRecording, h.store.visit(t, visitID).Status)
}

func TestAudioForwarding(t *testing.T) {
	h := newHarness(t)

	// nothing open yet
	h.send(h.sa, ws.TypeAudioChunk, ws.AudioChunkData{Audio: "AQID", VisitID: visitID})
	require.Len(t, errorMessages(h.a), 1)

	h.send(h.sa, ws.TypeStartRecording, control(visitID))
	h.send(h.sa, ws.TypeAudioChunk, ws.AudioChunkData{Audio: "AQID"})
	assert.Equal(t, 1, h.streamer.last().sentCount())

	h.send(h.sa, ws.TypeAudioChunk, ws.AudioChunkData{})
	assert.Len(t, errorMessages(h.a), 2)

	h.send(h.sa, ws.TypePauseRecording, control(visitID))
	h.send(h.sa, ws.TypeAudioChunk, ws.AudioChunkData{Audio: "AQID"})
	assert.Len(t, errorMessages(h.a), 3)
}

func TestRejectedEvents(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		data any
	}{
		{"finish before start", ws.TypeFinishRecording, control(visitID)},
		{"pause before start", ws.TypePauseRecording, control(visitID)},
		{"missing visit id", ws.TypeStartRecording, ws.ControlData{}},
		{"unknown visit", ws.TypeStartRecording, control("nope")},
		{"unknown type", "rewind_recording", control(visitID)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send(h.sa, tt.typ, tt.data)

			assert.Len(t, errorMessages(h.a), 1)
			assert.Empty(t, h.b.received())
			assert.Equal(t, models.StatusNotStarted, h.store.visit(t, visitID).Status)
		})
	}
}

func TestOtherUsersVisitIsNotFound(t *testing.T) {
	h := newHarness(t)
	intruder := &fakeConn{id: "conn-x"}

	err := h.p.Start(context.Background(), wshub.NewSession(intruder, "user-2"), control(visitID))
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, 0, h.streamer.count())
}

func TestNextDuration(t *testing.T) {
	assert.Equal(t, 15.0, nextDuration(10, 5, nil))
	assert.Equal(t, 15.0, nextDuration(10, 5, models.Ptr(12.0)))
	assert.Equal(t, 20.0, nextDuration(10, 5, models.Ptr(20.0)))
	assert.Equal(t, 10.0, nextDuration(10, 0, models.Ptr(-3.0)))
}
