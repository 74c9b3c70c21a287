package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the bridge's counters and timers. A nil *Metrics is valid
// and records nothing, so wiring stays optional in tests.
type Metrics struct {
	toolInvocations metric.Int64Counter
	httpDuration    metric.Float64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	reregistrations metric.Int64Counter
	afkTransitions  metric.Int64Counter
}

// NewMetrics creates the instrument set on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("zulip-mcp")

	toolInvocations, err := meter.Int64Counter("tool_invocations_total",
		metric.WithDescription("Tool calls by name and status"))
	if err != nil {
		return nil, err
	}
	httpDuration, err := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("Backend request duration by endpoint and identity"))
	if err != nil {
		return nil, err
	}
	cacheHits, err := meter.Int64Counter("cache_hits_total",
		metric.WithDescription("Response cache hits by scope"))
	if err != nil {
		return nil, err
	}
	cacheMisses, err := meter.Int64Counter("cache_misses_total",
		metric.WithDescription("Response cache misses by scope"))
	if err != nil {
		return nil, err
	}
	reregistrations, err := meter.Int64Counter("listener_reregistrations_total",
		metric.WithDescription("Event queue re-registrations"))
	if err != nil {
		return nil, err
	}
	afkTransitions, err := meter.Int64Counter("afk_transitions_total",
		metric.WithDescription("AFK state transitions by direction"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		toolInvocations: toolInvocations,
		httpDuration:    httpDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		reregistrations: reregistrations,
		afkTransitions:  afkTransitions,
	}, nil
}

// ToolInvocation records one tool call outcome.
func (m *Metrics) ToolInvocation(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.toolInvocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status)))
}

// HTTPRequest records one backend call.
func (m *Metrics) HTTPRequest(ctx context.Context, endpoint, identity string, dur time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.Record(ctx, dur.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("identity", identity)))
}

// CacheAccess records a cache hit or miss.
func (m *Metrics) CacheAccess(ctx context.Context, scope string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("scope", scope))
	if hit {
		m.cacheHits.Add(ctx, 1, attrs)
	} else {
		m.cacheMisses.Add(ctx, 1, attrs)
	}
}

// QueueReregistration records an event queue re-registration.
func (m *Metrics) QueueReregistration(ctx context.Context) {
	if m == nil {
		return
	}
	m.reregistrations.Add(ctx, 1)
}

// AFKTransition records an away/present edge.
func (m *Metrics) AFKTransition(ctx context.Context, away bool) {
	if m == nil {
		return
	}
	direction := "present"
	if away {
		direction = "away"
	}
	m.afkTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction)))
}
