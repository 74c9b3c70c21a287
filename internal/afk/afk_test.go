package afk

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/store"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "afk.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, nil, logger.Default(), nil)
}

func TestEnableDisable(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	assert.False(t, c.IsAFK(ctx))

	st, err := c.Enable(ctx, 0, "focus time")
	require.NoError(t, err)
	assert.True(t, st.IsAFK)
	assert.Equal(t, "focus time", st.Reason)
	assert.Nil(t, st.AutoReturnAt)
	assert.True(t, c.IsAFK(ctx))

	st, err = c.Disable(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsAFK)
}

func TestEnableTwiceKeepsLatest(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Enable(ctx, 1, "first")
	require.NoError(t, err)
	st, err := c.Enable(ctx, 0, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", st.Reason)
	assert.Nil(t, st.AutoReturnAt)
}

func TestAutoReturn(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	// Schedule the return in the past so one tick flips it.
	_, err := c.Enable(ctx, -0.001, "expired")
	require.NoError(t, err)
	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.IsAFK)
	require.Nil(t, st.AutoReturnAt)

	// hours <= 0 means open-ended, so force a past auto-return directly.
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, cStore(c).SetAFK(ctx, "expired", &past))

	c.Tick(ctx)
	assert.False(t, c.IsAFK(ctx))
}

func TestTickLeavesFutureAutoReturn(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Enable(ctx, 2, "meeting")
	require.NoError(t, err)
	c.Tick(ctx)
	assert.True(t, c.IsAFK(ctx))
}

func TestShouldNotifyOverride(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	assert.False(t, c.ShouldNotify(ctx))
	t.Setenv(OverrideEnv, "true")
	assert.True(t, c.ShouldNotify(ctx))
	t.Setenv(OverrideEnv, "0")
	assert.False(t, c.ShouldNotify(ctx))
}

// cStore exposes the controller's store for test fixtures.
func cStore(c *Controller) *store.Store { return c.store }
