// Package llm wraps the model provider behind a purpose-tagged invoke call
// with per-purpose deadlines, schema-validated JSON output, classified
// errors, and capped exponential retry.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/logging"
)

// Prompt is the system/user pair for one invocation.
type Prompt struct {
	System string
	User   string
}

// Options tweak a single invocation.
type Options struct {
	// Timeout overrides the purpose's configured deadline when positive.
	Timeout time.Duration
	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// Client calls the model provider and validates its JSON replies.
type Client struct {
	provider Provider
	cfg      *config.LLMConfig
}

// NewClient creates an LLM client over the given provider.
func NewClient(provider Provider, cfg *config.LLMConfig) *Client {
	return &Client{provider: provider, cfg: cfg}
}

// Invoke sends a prompt for the given purpose, validates the reply against
// schema, and unmarshals it into out. On abort_timeout or provider_5xx the
// call retries with capped exponential backoff (up to MaxRetries additional
// attempts). schema_invalid and provider_4xx_auth are returned immediately.
func (c *Client) Invoke(ctx context.Context, purpose config.Purpose, prompt Prompt, schema *jsonschema.Schema, out any, opts Options) error {
	timeout, err := c.cfg.TimeoutFor(purpose)
	if err != nil {
		return err
	}
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	log := slog.With("purpose", purpose)
	log.Debug("llm_start", "timeout_ms", timeout.Milliseconds())
	start := time.Now()

	attempt := 0
	operation := func() error {
		attempt++
		err := c.invokeOnce(ctx, purpose, prompt, schema, out, opts, timeout)
		if err == nil {
			return nil
		}
		var lerr *Error
		if errors.As(err, &lerr) && lerr.Retriable() {
			log.Warn("llm_retry", "attempt", attempt, "kind", lerr.Kind, "error", lerr.Err)
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBaseDelay
	bo.MaxInterval = 2 * time.Second
	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx))

	duration := time.Since(start)
	logging.Timed(log, "llm_end", duration, c.cfg.SlowThreshold,
		"attempts", attempt, "ok", err == nil)
	return err
}

// invokeOnce performs a single attempt under the per-attempt deadline.
func (c *Client) invokeOnce(parent context.Context, purpose config.Purpose, prompt Prompt, schema *jsonschema.Schema, out any, opts Options, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	raw, err := c.provider.Complete(ctx, CompletionRequest{
		Model:     c.cfg.Model,
		System:    prompt.System,
		User:      prompt.User,
		MaxTokens: opts.MaxTokens,
	})
	if err != nil {
		return c.classify(purpose, err)
	}

	payload := extractJSON(raw)

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return &Error{Kind: KindSchemaInvalid, Purpose: purpose,
			Err: fmt.Errorf("reply is not JSON: %w", err)}
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return &Error{Kind: KindSchemaInvalid, Purpose: purpose,
				Err: fmt.Errorf("schema validation: %w", err)}
		}
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return &Error{Kind: KindSchemaInvalid, Purpose: purpose,
			Err: fmt.Errorf("decoding reply: %w", err)}
	}
	return nil
}

// classify buckets a transport error into an ErrorKind.
func (c *Client) classify(purpose config.Purpose, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindAbortTimeout, Purpose: purpose, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindAbortTimeout, Purpose: purpose, Err: err}
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.StatusCode >= 500 {
			return &Error{Kind: KindProvider5xx, Purpose: purpose, Err: err}
		}
		return &Error{Kind: KindProviderAuth, Purpose: purpose, Err: err}
	}
	// Unclassified transport failure (connection reset, DNS) is treated as 5xx.
	return &Error{Kind: KindProvider5xx, Purpose: purpose, Err: err}
}

// extractJSON strips markdown code fences models sometimes wrap around
// JSON replies and trims to the outermost object or array.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start > 0 {
		s = s[start:]
	}
	return s
}

// MustCompileSchema compiles a JSON schema literal at package init time.
// Panics on invalid schemas; these are compile-time constants.
func MustCompileSchema(name, schemaJSON string) *jsonschema.Schema {
	sch, err := jsonschema.CompileString(name, schemaJSON)
	if err != nil {
		panic(fmt.Sprintf("invalid schema %s: %v", name, err))
	}
	return sch
}
