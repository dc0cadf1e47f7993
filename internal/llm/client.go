package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config for the capability client. Constructed once per process and
// passed by reference; there is no hidden global configuration.
type Config struct {
	BaseURL      string        // OpenAI-compatible endpoint root, e.g. http://localhost:11434/v1
	APIKey       string        // optional bearer token
	Model        string
	Temperature  float32
	Timeout      time.Duration // per-attempt timeout
	MaxRetries   int           // retries after the first attempt
	RetryBackoff time.Duration // base delay, doubled each retry
}

// Client talks to an OpenAI-compatible chat/completions endpoint in
// JSON mode. It implements Proposer: all failures, including exhausted
// retries, come back as a tagged Result, never as a raised error.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1:latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// per-attempt deadlines come from the context, not the client
		http:   &http.Client{},
		logger: logger,
	}
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Propose sends one system+user exchange and returns the validated
// structured payload. Transport errors and timeouts are retried with
// bounded exponential backoff; a payload that parses but fails schema
// validation is returned as OutcomeMalformed without retrying.
func (c *Client) Propose(ctx context.Context, system, user string, schema *jsonschema.Schema) Result {
	reqID := uuid.New().String()
	start := time.Now()

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	c.logger.Info("llm.propose.start",
		"req_id", reqID,
		"model", c.cfg.Model,
		"system_len", len(system),
		"user_len", len(user),
	)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBackoff * (1 << (attempt - 1))
			c.logger.Warn("llm.propose.retry",
				"req_id", reqID, "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", lastErr)
			select {
			case <-ctx.Done():
				return capabilityError(ctx.Err())
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		raw, status, err := SendJSON(attemptCtx, c.http, endpoint, body, headers, c.logger)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("status %d: %w", status, err)
			continue
		}

		var cc chatCompletion
		if err := json.Unmarshal(raw, &cc); err != nil {
			lastErr = fmt.Errorf("decode completion envelope: %w", err)
			continue
		}
		if len(cc.Choices) == 0 {
			lastErr = fmt.Errorf("no choices in completion response")
			continue
		}

		content := cc.Choices[0].Message.Content
		obj, err := ExtractJSONObject(content)
		if err != nil {
			c.logger.Error("llm.propose.malformed",
				"req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			return malformed(err)
		}
		if schema != nil {
			var v any
			if err := json.Unmarshal(obj, &v); err != nil {
				return malformed(err)
			}
			if err := schema.Validate(v); err != nil {
				c.logger.Error("llm.propose.schema_validation_failed",
					"req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
				return malformed(fmt.Errorf("schema validation failed: %w", err))
			}
		}

		c.logger.Info("llm.propose.ok",
			"req_id", reqID,
			"attempts", attempt+1,
			"payload_bytes", len(obj),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return valid(obj)
	}

	c.logger.Error("llm.propose.exhausted",
		"req_id", reqID,
		"attempts", c.cfg.MaxRetries+1,
		"error", lastErr,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return capabilityError(fmt.Errorf("capability call failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr))
}
