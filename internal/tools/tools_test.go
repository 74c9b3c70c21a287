package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/afk"
	"github.com/zulipmcp/zulipmcp/internal/chain"
	"github.com/zulipmcp/zulipmcp/internal/common/config"
	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/events/bus"
	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/resolver"
	"github.com/zulipmcp/zulipmcp/internal/retry"
	"github.com/zulipmcp/zulipmcp/internal/store"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// newTestToolset wires a full toolset against an httptest backend and a
// temp-file store. calls counts every HTTP request the backend receives.
func newTestToolset(t *testing.T, handler http.Handler) (*Toolset, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if handler != nil {
			handler.ServeHTTP(w, r)
			return
		}
		w.Write([]byte(`{"result":"success","msg":""}`))
	}))
	t.Cleanup(srv.Close)

	opts := zulip.DefaultOptions(srv.URL)
	opts.Retry = retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}
	client, err := zulip.New(opts, logger.Default(), nil)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := identity.NewRegistry([]identity.Credentials{
		{Kind: identity.KindUser, Email: "human@example.com", APIKey: "ukey"},
		{Kind: identity.KindBot, Email: "bot@example.com", APIKey: "bkey", Name: "bridge-bot"},
	}, func(ctx context.Context, creds identity.Credentials) error { return nil }, logger.Default())

	b := bus.NewMemoryBus(logger.Default())
	afkCtl := afk.New(st, b, logger.Default(), nil)
	executor := chain.NewExecutor(logger.Default())

	cfg := &config.Config{}
	cfg.Listener.AgentChannel = "agent-bridge"

	return New(st, registry, client, resolver.New(client), afkCtl, executor, b, cfg, logger.Default(), nil), &calls
}

func TestAgentMessageSuppressedWhilePresent(t *testing.T) {
	t.Setenv(afk.OverrideEnv, "0")
	ts, calls := newTestToolset(t, nil)

	out, err := ts.AgentMessage(context.Background(), validate.Args{
		"agent_id": "builder",
		"content":  "tests are green",
	})
	require.NoError(t, err)
	assert.Equal(t, "skipped", out["status"])
	assert.Equal(t, "not afk", out["reason"])
	assert.Equal(t, int32(0), calls.Load(), "suppressed messages must not hit the backend")
}

func TestAgentMessagePostsWhileAFK(t *testing.T) {
	t.Setenv(afk.OverrideEnv, "0")
	ts, calls := newTestToolset(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "bot@example.com", user, "agent posts go out as the bot")
		w.Write([]byte(`{"result":"success","msg":"","id":7}`))
	}))
	ctx := context.Background()

	_, err := ts.afk.Enable(ctx, 0, "overnight run")
	require.NoError(t, err)

	out, err := ts.AgentMessage(ctx, validate.Args{
		"agent_id": "builder",
		"content":  "tests are green",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, int64(7), out["message_id"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestAgentMessageOverrideBeatsPresence(t *testing.T) {
	t.Setenv(afk.OverrideEnv, "true")
	ts, _ := newTestToolset(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","msg":"","id":8}`))
	}))

	out, err := ts.AgentMessage(context.Background(), validate.Args{
		"agent_id": "builder",
		"content":  "forced through",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])
}

func TestBulkOperationsRejectsBothSelectors(t *testing.T) {
	ts, calls := newTestToolset(t, nil)

	_, err := ts.BulkOperations(context.Background(), validate.Args{
		"operation":   "mark_read",
		"message_ids": []any{float64(1), float64(2)},
		"stream":      "general",
	})
	require.Error(t, err)
	te := ToToolError(err)
	assert.Equal(t, validate.CodeMutuallyExclusive, te.Code)
	assert.Equal(t, int32(0), calls.Load())
}

func TestBulkOperationsNeedsSomeSelector(t *testing.T) {
	ts, _ := newTestToolset(t, nil)

	_, err := ts.BulkOperations(context.Background(), validate.Args{"operation": "star"})
	require.Error(t, err)
	assert.Equal(t, validate.CodeMissingParam, ToToolError(err).Code)
}

func TestSearchMessagesHasMore(t *testing.T) {
	makeMessages := func(n int) string {
		var b strings.Builder
		b.WriteString(`{"result":"success","messages":[`)
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"id":%d,"sender_full_name":"A","sender_email":"a@example.com","type":"stream","subject":"t","content":"m","timestamp":1700000000}`, i+1)
		}
		b.WriteString(`]}`)
		return b.String()
	}

	for _, tc := range []struct {
		returned int
		hasMore  bool
	}{
		{returned: 5, hasMore: true},
		{returned: 3, hasMore: false},
	} {
		ts, _ := newTestToolset(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(makeMessages(tc.returned)))
		}))
		out, err := ts.SearchMessages(context.Background(), validate.Args{"num_before": float64(5)})
		require.NoError(t, err)
		assert.Equal(t, tc.hasMore, out["has_more"], "returned=%d", tc.returned)
	}
}

func TestScheduleMessageRejectsPastTimestamp(t *testing.T) {
	ts, calls := newTestToolset(t, nil)

	_, err := ts.ScheduleMessage(context.Background(), validate.Args{
		"stream":     "general",
		"topic":      "later",
		"content":    "hello future",
		"deliver_at": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	require.Error(t, err)
	assert.Equal(t, validate.CodeInvalidParam, ToToolError(err).Code)
	assert.Equal(t, int32(0), calls.Load(), "validation failures must not hit the backend")
}

func TestParseDeliveryTimeRelative(t *testing.T) {
	got, err := parseDeliveryTime(validate.Args{"deliver_at": "+2h"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), got, 5*time.Second)

	_, err = parseDeliveryTime(validate.Args{"deliver_at": "+10s"})
	require.Error(t, err, "less than a minute out is rejected")
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "notes.md", want: "notes.md"},
		{in: "dir/notes.md", wantErr: true},
		{in: "..\\evil.md", wantErr: true},
		{in: "bad\x00name.md", wantErr: true},
		{in: "run.exe", wantErr: true},
		{in: "noextension", wantErr: true},
	}
	for _, tc := range cases {
		got, err := sanitizeFilename(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestUploadFileRejectsEmptyAndMissingContent(t *testing.T) {
	ts, calls := newTestToolset(t, nil)
	ctx := context.Background()

	_, err := ts.UploadFile(ctx, validate.Args{"filename": "notes.md"})
	require.Error(t, err)
	assert.Equal(t, validate.CodeMissingParam, ToToolError(err).Code)

	_, err = ts.UploadFile(ctx, validate.Args{"filename": "notes.md", "content_base64": "!!!"})
	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRequestUserInputFormatsPrompt(t *testing.T) {
	var captured atomic.Value
	ts, _ := newTestToolset(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured.Store(r.Form.Get("content"))
		w.Write([]byte(`{"result":"success","msg":"","id":11}`))
	}))

	out, err := ts.RequestUserInput(context.Background(), validate.Args{
		"agent_id": "builder",
		"question": "Merge to main?",
		"context":  "CI is green",
		"options":  []any{"merge", "hold"},
	})
	require.NoError(t, err)
	requestID, _ := out["request_id"].(string)
	require.NotEmpty(t, requestID)

	content, _ := captured.Load().(string)
	assert.Contains(t, content, "Merge to main?")
	assert.Contains(t, content, "CI is green")
	assert.Contains(t, content, "1. merge")
	assert.Contains(t, content, "2. hold")
	assert.Contains(t, content, requestID)

	// The request is pending and findable by the correlator.
	req, err := ts.store.InputRequest(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, store.RequestPending, req.Status)
}

func TestWaitForResponseTimesOutAndFinalizes(t *testing.T) {
	ts, _ := newTestToolset(t, nil)
	ctx := context.Background()

	req, err := ts.store.CreateInputRequest(ctx, "builder", "pick one", "", "[]")
	require.NoError(t, err)

	start := time.Now()
	_, err = ts.WaitForResponse(ctx, validate.Args{
		"request_id": req.RequestID,
		"timeout":    float64(1),
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The timeout is terminal: a late answer must not land.
	stored, err := ts.store.InputRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, store.RequestTimeout, stored.Status)

	updated, err := ts.store.AnswerRequest(ctx, req.RequestID, "too late")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestWaitForResponseReturnsAnswer(t *testing.T) {
	ts, _ := newTestToolset(t, nil)
	ctx := context.Background()

	req, err := ts.store.CreateInputRequest(ctx, "builder", "pick one", "", "[]")
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		_, _ = ts.store.AnswerRequest(context.Background(), req.RequestID, "merge")
	}()

	out, err := ts.WaitForResponse(ctx, validate.Args{
		"request_id": req.RequestID,
		"timeout":    float64(30),
	})
	require.NoError(t, err)
	assert.Equal(t, "merge", out["response"])
	assert.Equal(t, string(store.RequestAnswered), out["state"])
}

func TestTaskLifecycleThroughTools(t *testing.T) {
	ts, _ := newTestToolset(t, nil)
	ctx := context.Background()

	started, err := ts.StartTask(ctx, validate.Args{"agent_id": "builder", "name": "refactor"})
	require.NoError(t, err)
	taskID := started["task_id"].(string)

	out, err := ts.UpdateTaskProgress(ctx, validate.Args{"task_id": taskID, "progress": float64(60)})
	require.NoError(t, err)
	assert.Equal(t, 60, out["progress"])

	// Progress is monotonic: a stale lower report cannot move it back.
	out, err = ts.UpdateTaskProgress(ctx, validate.Args{"task_id": taskID, "progress": float64(40)})
	require.NoError(t, err)
	assert.Equal(t, 60, out["progress"])

	done, err := ts.CompleteTask(ctx, validate.Args{"task_id": taskID})
	require.NoError(t, err)
	assert.Equal(t, string(store.TaskCompleted), done["status"])

	_, err = ts.UpdateTaskProgress(ctx, validate.Args{"task_id": taskID, "progress": float64(90)})
	require.Error(t, err, "terminal tasks reject progress updates")
}

func TestExecuteChainRunsStepsAndSharesContext(t *testing.T) {
	t.Setenv(afk.OverrideEnv, "0")
	ts, _ := newTestToolset(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","msg":"","id":21,"messages":[]}`))
	}))

	out, err := ts.ExecuteChain(context.Background(), validate.Args{
		"commands": []any{
			map[string]any{
				"type": "send_message",
				"params": map[string]any{
					"stream": "general", "topic": "status", "content": "starting",
				},
			},
			map[string]any{
				"type":      "conditional_action",
				"condition": "last_send_message_id > 0",
				"if_true": map[string]any{
					"type": "send_message",
					"params": map[string]any{
						"stream": "general", "topic": "status",
						"content": "follow-up to {{last_send_message_id}}",
					},
				},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, 2, out["steps_completed"])
	assert.Equal(t, 2, out["steps_total"])
}

func TestExecuteChainHaltsOnError(t *testing.T) {
	ts, _ := newTestToolset(t, nil)

	out, err := ts.ExecuteChain(context.Background(), validate.Args{
		"commands": []any{
			// Missing content fails validation inside the step.
			map[string]any{
				"type":   "send_message",
				"params": map[string]any{"stream": "general", "topic": "x"},
			},
			map[string]any{
				"type":   "send_message",
				"params": map[string]any{"stream": "general", "topic": "x", "content": "never runs"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "partial_success", out["status"])
	assert.Equal(t, 0, out["steps_completed"])
	assert.Equal(t, true, out["halted"])
	assert.NotEmpty(t, out["last_error"])
}

func TestExecuteChainFromYAML(t *testing.T) {
	t.Setenv(afk.OverrideEnv, "0")
	ts, _ := newTestToolset(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","msg":"","id":3,"messages":[]}`))
	}))

	out, err := ts.ExecuteChain(context.Background(), validate.Args{
		"yaml": `
commands:
  - type: send_message
    params:
      stream: general
      topic: status
      content: from yaml
`,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, 1, out["steps_completed"])
}

func TestSwitchIdentityRejectsUnknownKind(t *testing.T) {
	ts, _ := newTestToolset(t, nil)

	_, err := ts.SwitchIdentity(context.Background(), validate.Args{"identity": "superadmin"})
	require.Error(t, err)
	assert.Equal(t, validate.CodeInvalidParam, ToToolError(err).Code)
}

func TestAFKStatusReportsOverride(t *testing.T) {
	t.Setenv(afk.OverrideEnv, "true")
	ts, _ := newTestToolset(t, nil)

	out, err := ts.AFKStatus(context.Background(), validate.Args{})
	require.NoError(t, err)
	assert.Equal(t, false, out["is_afk"])
	assert.Equal(t, true, out["override_active"])
	assert.Equal(t, true, out["notifications_active"])
}

func TestSentimentScore(t *testing.T) {
	assert.Positive(t, sentimentScore("great work, tests are fixed"))
	assert.Negative(t, sentimentScore("the build is broken and failing"))
	assert.Zero(t, sentimentScore("meeting at noon"))
	assert.Zero(t, sentimentScore(""))
}

func TestSendMessageTruncatesOnRuneBoundary(t *testing.T) {
	var posted string
	ts, _ := newTestToolset(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = r.Form.Get("content")
		w.Write([]byte(`{"result":"success","id":11}`))
	}))

	// The euro sign is three bytes; the byte cap lands inside it.
	content := strings.Repeat("a", maxMessageLength-1) + "€€"
	out, err := ts.SendMessage(context.Background(), validate.Args{
		"stream":  "general",
		"topic":   "limits",
		"content": content,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])

	assert.True(t, utf8.ValidString(posted))
	assert.LessOrEqual(t, len(posted), maxMessageLength)
	assert.Equal(t, strings.Repeat("a", maxMessageLength-1), posted)
}
