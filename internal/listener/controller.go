package listener

import (
	"context"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/afk"
	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

// Controller ties the listener lifecycle to the AFK flag: away starts the
// worker, present stops it. It also drives the AFK auto-return check.
type Controller struct {
	listener *Listener
	afk      *afk.Controller
	tick     time.Duration
	logger   *logger.Logger
}

// NewController builds the controller with the given tick interval.
func NewController(l *Listener, a *afk.Controller, tick time.Duration, log *logger.Logger) *Controller {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Controller{listener: l, afk: a, tick: tick, logger: log}
}

// Run loops until ctx is cancelled, reconciling listener state with the AFK
// flag on every tick. Blocks; callers run it on its own goroutine.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.afk.Tick(ctx)
			c.reconcile(ctx)
		}
	}
}

func (c *Controller) reconcile(ctx context.Context) {
	away := c.afk.IsAFK(ctx)
	state := c.listener.State()
	switch {
	case away && state == StateStopped:
		c.logger.Info("operator away, starting listener")
		c.listener.Start(ctx)
	case !away && (state == StateRunning || state == StateStarting):
		c.logger.Info("operator present, stopping listener")
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.listener.Stop(stopCtx)
		cancel()
	}
}
