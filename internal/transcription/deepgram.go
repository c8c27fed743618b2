package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/resilience"

	"github.com/gorilla/websocket"
)

// DeepgramConfig configures the live transcription client
type DeepgramConfig struct {
	APIKey            string
	URL               string
	Model             string
	KeepAliveInterval time.Duration
	CloseTimeout      time.Duration
}

// Deepgram opens live transcription streams over websocket
type Deepgram struct {
	cfg     DeepgramConfig
	dialer  *websocket.Dialer
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// NewDeepgram creates a Deepgram streamer
func NewDeepgram(cfg DeepgramConfig, breaker *resilience.CircuitBreaker, log *logger.Logger) *Deepgram {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 5 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	return &Deepgram{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		breaker: breaker,
		log:     log.WithComponent("deepgram"),
	}
}

func (d *Deepgram) endpoint(language string) (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	if language != "" {
		q.Set("language", language)
	}
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials a new live stream
func (d *Deepgram) Connect(ctx context.Context, opts StreamOptions) (Stream, error) {
	endpoint, err := d.endpoint(opts.Language)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	var conn *websocket.Conn
	err = d.breaker.Execute(ctx, func(ctx context.Context) error {
		c, resp, dialErr := d.dialer.DialContext(ctx, endpoint, header)
		if dialErr != nil {
			if resp != nil {
				return fmt.Errorf("deepgram handshake failed with status %d: %w", resp.StatusCode, dialErr)
			}
			return fmt.Errorf("deepgram dial: %w", dialErr)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s := &deepgramStream{
		conn:         conn,
		results:      make(chan Result, 64),
		readerDone:   make(chan struct{}),
		stopKeep:     make(chan struct{}),
		closeTimeout: d.cfg.CloseTimeout,
		log:          d.log,
	}
	go s.readLoop()
	go s.keepAlive(d.cfg.KeepAliveInterval)

	return s, nil
}

type deepgramStream struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	results      chan Result
	readerDone   chan struct{}
	stopKeep     chan struct{}
	closeOnce    sync.Once
	closeErr     error
	closeTimeout time.Duration
	log          *logger.Logger
}

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type controlMessage struct {
	Type string `json:"type"`
}

func (s *deepgramStream) Results() <-chan Result {
	return s.results
}

func (s *deepgramStream) Send(audio []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (s *deepgramStream) writeControl(kind string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(controlMessage{Type: kind})
}

func (s *deepgramStream) readLoop() {
	defer close(s.readerDone)
	defer close(s.results)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.log.Debug("deepgram read loop ended", "error", err.Error())
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("undecodable deepgram message", "error", err.Error())
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		s.results <- Result{
			Transcript: msg.Channel.Alternatives[0].Transcript,
			IsFinal:    msg.IsFinal,
			Timestamp:  time.Now().UTC(),
		}
	}
}

func (s *deepgramStream) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.writeControl("KeepAlive"); err != nil {
				return
			}
		case <-s.stopKeep:
			return
		case <-s.readerDone:
			return
		}
	}
}

// Close asks Deepgram to flush, waits for the remaining results and closes
// the connection
func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopKeep)

		if err := s.writeControl("CloseStream"); err != nil {
			s.closeErr = err
		} else {
			select {
			case <-s.readerDone:
			case <-time.After(s.closeTimeout):
				s.log.Warn("deepgram did not finish flushing before timeout")
			}
		}

		if err := s.conn.Close(); err != nil && s.closeErr == nil {
			select {
			case <-s.readerDone:
			default:
				s.closeErr = err
			}
		}
		<-s.readerDone
	})
	return s.closeErr
}
