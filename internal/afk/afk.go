// Package afk tracks whether the operator is away from keyboard. The flag
// gates autonomous bot posts: while the operator is present, agents stay
// quiet unless the developer override is set.
package afk

import (
	"context"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/events/bus"
	"github.com/zulipmcp/zulipmcp/internal/store"
	"github.com/zulipmcp/zulipmcp/internal/telemetry"
)

// OverrideEnv lets developers force notifications regardless of AFK state.
const OverrideEnv = "ZULIP_MCP_ALWAYS_NOTIFY"

// Controller is the away/present state machine over the store's singleton
// row.
type Controller struct {
	store   *store.Store
	bus     bus.Bus
	logger  *logger.Logger
	metrics *telemetry.Metrics
}

// New builds the controller. bus may be nil in tests.
func New(st *store.Store, b bus.Bus, log *logger.Logger, metrics *telemetry.Metrics) *Controller {
	return &Controller{store: st, bus: b, logger: log, metrics: metrics}
}

// Enable marks the operator away. hours <= 0 means open-ended; otherwise an
// auto-return is scheduled. Enabling twice keeps one row with the latest
// parameters.
func (c *Controller) Enable(ctx context.Context, hours float64, reason string) (store.AFKState, error) {
	var autoReturn *time.Time
	if hours > 0 {
		t := time.Now().UTC().Add(time.Duration(hours * float64(time.Hour)))
		autoReturn = &t
	}
	if err := c.store.SetAFK(ctx, reason, autoReturn); err != nil {
		return store.AFKState{}, err
	}
	c.metrics.AFKTransition(ctx, true)
	c.publishTransition(ctx, true, reason)
	c.logger.Info("afk enabled",
		zap.String("reason", reason),
		zap.Float64("hours", hours))
	return c.store.AFKState(ctx)
}

// Disable marks the operator present.
func (c *Controller) Disable(ctx context.Context) (store.AFKState, error) {
	if err := c.store.ClearAFK(ctx); err != nil {
		return store.AFKState{}, err
	}
	c.metrics.AFKTransition(ctx, false)
	c.publishTransition(ctx, false, "")
	c.logger.Info("afk disabled")
	return c.store.AFKState(ctx)
}

// Status returns the current row.
func (c *Controller) Status(ctx context.Context) (store.AFKState, error) {
	return c.store.AFKState(ctx)
}

// IsAFK reports the away flag. Read errors count as present so agents fail
// quiet rather than loud.
func (c *Controller) IsAFK(ctx context.Context) bool {
	st, err := c.store.AFKState(ctx)
	if err != nil {
		return false
	}
	return st.IsAFK
}

// ShouldNotify reports whether an autonomous bot post may go out: away, or
// the developer override is truthy.
func (c *Controller) ShouldNotify(ctx context.Context) bool {
	if OverrideActive() {
		return true
	}
	return c.IsAFK(ctx)
}

// OverrideActive reports whether the developer override env var is truthy.
func OverrideActive() bool {
	v := os.Getenv(OverrideEnv)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Tick applies the auto-return check: when auto_return_at has passed while
// away, transition back to present. Called from the controller loop.
func (c *Controller) Tick(ctx context.Context) {
	st, err := c.store.AFKState(ctx)
	if err != nil || !st.IsAFK || st.AutoReturnAt == nil {
		return
	}
	if time.Now().UTC().Before(*st.AutoReturnAt) {
		return
	}
	if _, err := c.Disable(ctx); err != nil {
		c.logger.Warn("afk auto-return failed", zap.Error(err))
		return
	}
	c.logger.Info("afk auto-return", zap.Time("scheduled", *st.AutoReturnAt))
}

func (c *Controller) publishTransition(ctx context.Context, away bool, reason string) {
	if c.bus == nil {
		return
	}
	event := bus.NewEvent("afk_transition", "afk", map[string]any{
		"away":   away,
		"reason": reason,
	})
	if err := c.bus.Publish(ctx, bus.SubjectAFKTransition, event); err != nil {
		c.logger.Warn("failed to publish afk transition", zap.Error(err))
	}
}
