package notegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/resilience"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Messages API client
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Version string
	Timeout time.Duration
}

// Anthropic calls the Messages API
type Anthropic struct {
	client  anthropic.Client
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// NewAnthropic creates a Messages API client. Retries are left to the
// circuit breaker and the caller.
func NewAnthropic(cfg AnthropicConfig, breaker *resilience.CircuitBreaker, log *logger.Logger) *Anthropic {
	if cfg.Version == "" {
		cfg.Version = "2023-06-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("anthropic-version", cfg.Version),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:  anthropic.NewClient(opts...),
		breaker: breaker,
		log:     log.WithComponent("anthropic"),
	}
}

func messageParams(req CompletionRequest) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
}

// Complete issues a single non-streamed completion and returns its text
func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var text string
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		msg, err := a.client.Messages.New(ctx, messageParams(req))
		if err != nil {
			return fmt.Errorf("anthropic request failed: %w", err)
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
				sb.WriteString(tb.Text)
			}
		}
		if sb.Len() == 0 {
			return fmt.Errorf("anthropic returned no text content")
		}
		text = sb.String()
		return nil
	})
	return text, err
}

// Stream issues a streamed completion and calls onText for every text delta
// in arrival order. An error from onText aborts the stream.
func (a *Anthropic) Stream(ctx context.Context, req CompletionRequest, onText func(string) error) error {
	return a.breaker.Execute(ctx, func(ctx context.Context) error {
		stream := a.client.Messages.NewStreaming(ctx, messageParams(req))
		defer stream.Close()

		stopped := false
		for stream.Next() {
			switch event := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				if err := onText(delta.Text); err != nil {
					return err
				}
			case anthropic.MessageStopEvent:
				stopped = true
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic stream failed: %w", err)
		}
		if !stopped {
			return fmt.Errorf("anthropic stream ended without message_stop")
		}
		return nil
	})
}
