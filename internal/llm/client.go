// Package llm wraps the chat model behind a small completion client: one
// blocking call per request, with timeout, retry, and bounded concurrency.
// Prompt assembly stays with the callers; this package only guards the
// transport.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/semaphore"
)

// ClientConfig tunes the completion client.
type ClientConfig struct {
	// Timeout bounds a single completion call, retries included.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of in-call retries on transient failure.
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelay seeds the exponential retry backoff.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// MaxConcurrent bounds in-flight model calls.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// withDefaults fills unset fields with production defaults.
func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	return c
}

// Client is the completion client shared by enrichment, retrieval, and
// reranking. Safe for concurrent use.
type Client struct {
	chat model.ToolCallingChatModel
	cfg  ClientConfig
	sem  *semaphore.Weighted
	log  *slog.Logger
}

// NewClient wraps a chat model with the transport guards.
func NewClient(chat model.ToolCallingChatModel, cfg ClientConfig, log *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		chat: chat,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:  log,
	}
}

// Complete runs one blocking completion and returns the response text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("llm: acquire slot: %w", err)
	}
	defer c.sem.Release(1)

	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBaseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	var out *schema.Message
	err := backoff.Retry(func() error {
		var callErr error
		out, callErr = c.chat.Generate(ctx, messages)
		if callErr != nil {
			c.log.Debug("llm: generate attempt failed", slog.String("error", callErr.Error()))
		}
		return callErr
	}, policy)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}

	return out.Content, nil
}

// CompleteJSON runs one completion and decodes the JSON response into out,
// tolerating markdown fences around the document.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, out any) error {
	text, err := c.Complete(ctx, system, user)
	if err != nil {
		return err
	}
	return UnmarshalResponse(text, out)
}
