package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	// HTTP status code threshold for considering a request successful
	successStatusCodeThreshold = http.StatusBadRequest
)

// SentryMetrics handles custom metrics for Sentry
type SentryMetrics struct {
	enabled bool
}

// NewSentryMetrics creates a new Sentry metrics client
func NewSentryMetrics() *SentryMetrics {
	return &SentryMetrics{
		enabled: true, // Always enabled if Sentry is configured
	}
}

// RecordAPIRequest records API request metrics
func (m *SentryMetrics) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	if !m.enabled {
		return
	}

	// Create a span for API request tracking using the request context
	span := sentry.StartSpan(ctx, "api.request")
	defer span.Finish()

	// Set span tags
	span.SetTag("endpoint", endpoint)
	span.SetTag("status_code", fmt.Sprintf("%d", statusCode))
	span.SetTag("success", fmt.Sprintf("%t", statusCode < successStatusCodeThreshold))

	// Set span data
	span.SetData("duration_ms", duration.Milliseconds())
	span.SetData("endpoint", endpoint)
	span.SetData("status_code", statusCode)

	// Set span status based on response
	if statusCode < successStatusCodeThreshold {
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusInternalError
	}

	// Set span description
	span.Description = fmt.Sprintf("API Request: %s", endpoint)
}

// RecordBattle records how long a whole battle took to generate
func (m *SentryMetrics) RecordBattle(ctx context.Context, duration time.Duration, success bool) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "battle.generate")
	defer span.Finish()

	span.SetTag("success", fmt.Sprintf("%t", success))
	span.SetData("duration_ms", duration.Milliseconds())
	span.SetData("success", success)

	if success {
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusInternalError
	}

	span.Description = fmt.Sprintf("Battle Generation: %t", success)
}

// RecordGenerate records one side's generation against a system server
func (m *SentryMetrics) RecordGenerate(ctx context.Context, system string, duration time.Duration, warm bool) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "system.generate")
	defer span.Finish()

	span.SetTag("system", system)
	span.SetTag("model_warm", fmt.Sprintf("%t", warm))
	span.SetData("duration_ms", duration.Milliseconds())

	span.Status = sentry.SpanStatusOK
	span.Description = fmt.Sprintf("System Generate: %s", system)
}

// RecordVote records a vote event by preference
func (m *SentryMetrics) RecordVote(ctx context.Context, preference string) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "battle.vote")
	defer span.Finish()

	span.SetTag("preference", preference)
	span.Status = sentry.SpanStatusOK
	span.Description = fmt.Sprintf("Vote: %s", preference)
}
