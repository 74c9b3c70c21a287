package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.db")
	s, err := Open(path, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.db")
	s, err := Open(path, logger.Default())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening applies no new migrations and must not fail.
	s, err = Open(path, logger.Default())
	require.NoError(t, err)
	defer s.Close()

	var count int
	require.NoError(t, s.reader().Get(&count, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, len(migrations), count)
}

func TestAFKStateLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.AFKState(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsAFK)

	ret := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.SetAFK(ctx, "lunch", &ret))

	st, err = s.AFKState(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsAFK)
	assert.Equal(t, "lunch", st.Reason)
	require.NotNil(t, st.AutoReturnAt)

	// Re-enabling replaces the reason in place.
	require.NoError(t, s.SetAFK(ctx, "meeting", nil))
	st, err = s.AFKState(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsAFK)
	assert.Equal(t, "meeting", st.Reason)
	assert.Nil(t, st.AutoReturnAt)

	require.NoError(t, s.ClearAFK(ctx))
	st, err = s.AFKState(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsAFK)
	assert.Empty(t, st.Reason)

	// Clearing while present is a no-op, not an error.
	require.NoError(t, s.ClearAFK(ctx))
}

func TestRegisterAgentTwiceKeepsOneAgentTwoInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RegisterAgent(ctx, "builder", "claude", `{"v":1}`, "sess-1", "/srv/app", "host-a")
	require.NoError(t, err)

	second, err := s.RegisterAgent(ctx, "builder", "claude", `{"v":2}`, "sess-2", "/srv/app", "host-a")
	require.NoError(t, err)
	assert.NotEqual(t, first.InstanceID, second.InstanceID)

	agents, err := s.Agents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "builder", agents[0].AgentID)
	assert.Equal(t, `{"v":2}`, agents[0].Metadata)

	instances, err := s.AgentInstances(ctx, "builder")
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestRequestTerminalTransitionsAreFinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.CreateInputRequest(ctx, "builder", "deploy to prod?", "release 1.2", `["yes","no"]`)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.Status)

	ok, err := s.AnswerRequest(ctx, req.RequestID, "yes")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second answer, a cancel, and a timeout all bounce off the
	// answered state.
	ok, err = s.AnswerRequest(ctx, req.RequestID, "no")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.CancelRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.TimeoutRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.InputRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, RequestAnswered, got.Status)
	assert.Equal(t, "yes", got.Response)
	assert.NotNil(t, got.RespondedAt)
}

func TestCancelBeatsLateAnswer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.CreateInputRequest(ctx, "builder", "continue?", "", "[]")
	require.NoError(t, err)

	ok, err := s.CancelRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AnswerRequest(ctx, req.RequestID, "late reply")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.InputRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, RequestCancelled, got.Status)
	assert.Empty(t, got.Response)
}

func TestPendingRequestsOrderAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older, err := s.CreateInputRequest(ctx, "builder", "first?", "", "[]")
	require.NoError(t, err)
	newer, err := s.CreateInputRequest(ctx, "builder", "second?", "", "[]")
	require.NoError(t, err)

	pending, err := s.PendingRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.RequestID, pending[0].RequestID)

	recent, found, err := s.RecentPendingRequest(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, newer.RequestID, recent.RequestID)

	// Push both outside the window.
	_, err = s.pool.Writer().Exec(
		`UPDATE input_requests SET created_at = ?`,
		time.Now().UTC().Add(-time.Hour),
	)
	require.NoError(t, err)

	_, found, err = s.RecentPendingRequest(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTaskProgressIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "builder", "compile", "full build")
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Status)

	ok, err := s.UpdateTaskProgress(ctx, task.TaskID, 60)
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale lower report does not move progress backwards.
	ok, err = s.UpdateTaskProgress(ctx, task.TaskID, 40)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Task(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskActive, got.Status)
	assert.Equal(t, 60, got.Progress)
}

func TestCompleteTaskIsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "builder", "compile", "")
	require.NoError(t, err)

	ok, err := s.CompleteTask(ctx, task.TaskID, false, `{"artifact":"app.tar"}`, `{"seconds":42}`)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Task(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)

	// Terminal tasks reject further progress and completion.
	ok, err = s.UpdateTaskProgress(ctx, task.TaskID, 50)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.CompleteTask(ctx, task.TaskID, true, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedTaskKeepsProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "builder", "compile", "")
	require.NoError(t, err)
	_, err = s.UpdateTaskProgress(ctx, task.TaskID, 30)
	require.NoError(t, err)

	ok, err := s.CompleteTask(ctx, task.TaskID, true, "", `{"error":"oom"}`)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Task(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, got.Status)
	assert.Equal(t, 30, got.Progress)
}

func TestTasksFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateTask(ctx, "builder", "compile", "")
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, "reviewer", "review", "")
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, a.TaskID, false, "", "")
	require.NoError(t, err)

	byAgent, err := s.Tasks(ctx, "builder", "")
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, a.TaskID, byAgent[0].TaskID)

	byStatus, err := s.Tasks(ctx, "", TaskPending)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "reviewer", byStatus[0].AgentID)
}

func TestCacheExpiryAndInvalidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCachedPayload(ctx, "streams", "all", `[{"name":"general"}]`))

	payload, ok := s.CachedPayload(ctx, "streams", "all", time.Minute)
	assert.True(t, ok)
	assert.Equal(t, `[{"name":"general"}]`, payload)

	// Age the row past the TTL.
	_, err := s.pool.Writer().Exec(
		`UPDATE response_cache SET fetched_at = ?`,
		time.Now().UTC().Add(-2*time.Minute),
	)
	require.NoError(t, err)
	_, ok = s.CachedPayload(ctx, "streams", "all", time.Minute)
	assert.False(t, ok)

	// A fresh put replaces the stale row.
	require.NoError(t, s.PutCachedPayload(ctx, "streams", "all", `[]`))
	payload, ok = s.CachedPayload(ctx, "streams", "all", time.Minute)
	assert.True(t, ok)
	assert.Equal(t, `[]`, payload)

	require.NoError(t, s.InvalidateCacheScope(ctx, "streams"))
	_, ok = s.CachedPayload(ctx, "streams", "all", time.Minute)
	assert.False(t, ok)
}

func TestWriteEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	s := newTestStore(t)
	require.NoError(t, s.PutCachedPayload(context.Background(), "streams", "all", `[]`))

	names := make([]string, 0)
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "db.put_cached_payload")
}
