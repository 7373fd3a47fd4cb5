// Package sysclient is the gateway-side HTTP client for system servers. It
// wraps transient failures in retries and shields flapping hosts behind a
// circuit breaker so one dead system cannot stall battle generation.
package sysclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/logger"
)

const (
	connectTimeout = 5 * time.Second
	// DefaultTotalTimeout bounds one generate call end to end, covering
	// queue wait, model warm-up, and every retry.
	DefaultTotalTimeout = 180 * time.Second

	defaultMaxAttempts = 3
	backoffBase        = time.Second
)

// GenerateResult is one generated clip as returned by a system server.
type GenerateResult struct {
	Audio      []byte
	Format     string
	SampleRate int
	Lyrics     string
	Meta       arena.GenerateMetadata
}

type generateWire struct {
	AudioB64   string                 `json:"audio_b64"`
	Format     string                 `json:"format,omitempty"`
	SampleRate int                    `json:"sample_rate"`
	Lyrics     string                 `json:"lyrics,omitempty"`
	Metadata   arena.GenerateMetadata `json:"metadata"`
}

type supportWire struct {
	Support string `json:"support"`
}

// Client talks to a single system server.
type Client struct {
	baseURL     string
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	sleep       func(time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxAttempts overrides how many times retryable failures are attempted.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// New creates a client for the system server at baseURL, for example
// "http://localhost:15319".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				MaxIdleConnsPerHost: 4,
			},
		},
		maxAttempts: defaultMaxAttempts,
		sleep:       time.Sleep,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        baseURL,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("System circuit breaker state changed", logger.Fields{
				"target": name,
				"from":   from.String(),
				"to":     to.String(),
			})
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL reports the system server address this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Generate asks the system server for one clip. Transient failures (busy
// servers, batch timeouts, transport errors) are retried with backoff;
// unsupported prompts and deadline expiry are returned immediately.
func (c *Client) Generate(ctx context.Context, prompt *arena.DetailedPrompt) (*GenerateResult, error) {
	body, err := json.Marshal(prompt)
	if err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("encode prompt: %v", err))
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffBase << (attempt - 2)
			logger.Warn("Retrying system generate", logger.Fields{
				"target":  c.baseURL,
				"attempt": attempt,
				"wait_ms": delay.Milliseconds(),
			})
			c.sleep(delay)
			if err := ctxErr(ctx); err != nil {
				return nil, err
			}
		}

		result, retryable, err := c.generateOnce(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

// generateOnce performs a single POST /generate. The bool reports whether
// the failure is worth retrying.
func (c *Client) generateOnce(ctx context.Context, body []byte) (*GenerateResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, false, arena.NewInternalError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, retryable, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, retryable, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, arena.NewUnreachable(fmt.Sprintf("read system response: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		result, err := decodeGenerate(data)
		return result, false, err
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, true, arena.NewBusy(errDetail(data, "system server busy"))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, true, arena.NewBatchTimeout(errDetail(data, "system batch timed out"))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// A property of the prompt, not of this attempt.
		return nil, false, arena.NewUnsupportedPrompt(errDetail(data, "prompt not supported by system"))
	case resp.StatusCode >= 500:
		return nil, true, arena.NewGenerateFailed(fmt.Sprintf(
			"system server returned %d: %s", resp.StatusCode, errDetail(data, "generation failed")))
	default:
		return nil, false, arena.NewGenerateFailed(fmt.Sprintf(
			"system server rejected request (%d): %s", resp.StatusCode, errDetail(data, "invalid request")))
	}
}

// roundTrip sends the request through the circuit breaker. Only transport
// failures count against the breaker; any HTTP response, whatever its
// status, is a sign the server is alive.
func (c *Client) roundTrip(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.http.Do(req)
	})
	if err == nil {
		return raw.(*http.Response), false, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, false, arena.NewUnreachable("system server circuit open")
	}
	if ctxe := ctxErr(ctx); ctxe != nil {
		return nil, false, ctxe
	}

	// Generate error details reach battle clients while the pair is still
	// anonymous, so the target goes to the log rather than the detail.
	logger.Warn("System transport failure", logger.Fields{
		"target": c.baseURL,
		"error":  err.Error(),
	})
	return nil, true, arena.NewUnreachable("system server unreachable")
}

// Health reports whether the system server is ready to generate.
func (c *Client) Health(ctx context.Context) error {
	return c.health(ctx, false)
}

// Warm asks the server to start preparing its model without submitting a
// request. A server that is still warming is not an error.
func (c *Client) Warm(ctx context.Context) error {
	return c.health(ctx, true)
}

func (c *Client) health(ctx context.Context, warm bool) error {
	url := c.baseURL + "/health"
	if warm {
		url += "?warm=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return arena.NewInternalError(fmt.Sprintf("build request: %v", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxe := ctxErr(ctx); ctxe != nil {
			return ctxe
		}
		return arena.NewUnreachable(fmt.Sprintf("system server unreachable: %v", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		if warm {
			// Warm-up was acknowledged; readiness comes later.
			return nil
		}
		return arena.NewBusy("system server not ready")
	default:
		return arena.NewUnreachable(fmt.Sprintf("system health returned %d", resp.StatusCode))
	}
}

// PromptSupport asks the system server whether it can render the prompt.
func (c *Client) PromptSupport(ctx context.Context, prompt *arena.DetailedPrompt) (arena.PromptSupport, error) {
	body, err := json.Marshal(prompt)
	if err != nil {
		return "", arena.NewInternalError(fmt.Sprintf("encode prompt: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt_support", bytes.NewReader(body))
	if err != nil {
		return "", arena.NewInternalError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxe := ctxErr(ctx); ctxe != nil {
			return "", ctxe
		}
		return "", arena.NewUnreachable(fmt.Sprintf("system server unreachable: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", arena.NewUnreachable(fmt.Sprintf("read system response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", arena.NewUnreachable(fmt.Sprintf("prompt support returned %d", resp.StatusCode))
	}

	var wire supportWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return "", arena.NewGenerateFailed(fmt.Sprintf("malformed support response: %v", err))
	}
	return arena.PromptSupport(wire.Support), nil
}

func decodeGenerate(data []byte) (*GenerateResult, error) {
	var wire generateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, arena.NewGenerateFailed(fmt.Sprintf("malformed generate response: %v", err))
	}

	audio, err := base64.StdEncoding.DecodeString(wire.AudioB64)
	if err != nil {
		return nil, arena.NewGenerateFailed(fmt.Sprintf("decode audio: %v", err))
	}
	if len(audio) == 0 {
		return nil, arena.NewGenerateFailed("system returned empty audio")
	}

	format := wire.Format
	if format == "" {
		format = sniffAudioFormat(audio)
	}

	return &GenerateResult{
		Audio:      audio,
		Format:     format,
		SampleRate: wire.SampleRate,
		Lyrics:     wire.Lyrics,
		Meta:       wire.Metadata,
	}, nil
}

// errDetail pulls the detail string out of a structured error body, falling
// back to the given default when the body is not one of ours.
func errDetail(data []byte, fallback string) string {
	var ae arena.Error
	if err := json.Unmarshal(data, &ae); err == nil && ae.Detail != "" {
		return ae.Detail
	}
	return fallback
}

func ctxErr(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return arena.NewTimeout("system server request timed out")
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return nil
	}
}

func sniffAudioFormat(audio []byte) string {
	if len(audio) >= 4 && bytes.Equal(audio[:4], []byte("RIFF")) {
		return "wav"
	}
	return "mp3"
}
