package zulip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/retry"
)

func testCreds() identity.Credentials {
	return identity.Credentials{Kind: identity.KindUser, Email: "u@example.com", APIKey: "key"}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := DefaultOptions(srv.URL)
	opts.Retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}
	c, err := New(opts, logger.Default(), nil)
	require.NoError(t, err)
	return c, srv
}

func TestSendStreamMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "u@example.com", user)
		assert.Equal(t, "key", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "stream", r.Form.Get("type"))
		assert.Equal(t, "general", r.Form.Get("to"))
		w.Write([]byte(`{"result":"success","msg":"","id":42}`))
	}))

	id, err := c.SendStreamMessage(context.Background(), testCreds(), "general", "hello", "hi there")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"auth", http.StatusUnauthorized, `{"result":"error","msg":"bad key"}`, func(t *testing.T, err error) {
			var e *AuthError
			require.ErrorAs(t, err, &e)
			assert.Equal(t, 401, e.StatusCode)
		}},
		{"not found", http.StatusNotFound, `{"result":"error","msg":"no such message"}`, func(t *testing.T, err error) {
			var e *NotFoundError
			require.ErrorAs(t, err, &e)
		}},
		{"api error", http.StatusBadRequest, `{"result":"error","code":"BAD_REQUEST","msg":"invalid"}`, func(t *testing.T, err error) {
			var e *APIError
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "BAD_REQUEST", e.Code)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			_, err := c.GetMessage(context.Background(), testCreds(), 1)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestRetryOnTransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"result":"error","msg":"upstream"}`))
			return
		}
		w.Write([]byte(`{"result":"success","message":{"id":7,"content":"ok"}}`))
	}))

	msg, err := c.GetMessage(context.Background(), testCreds(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.02")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"result":"error","msg":"slow down"}`))
			return
		}
		w.Write([]byte(`{"result":"success","message":{"id":1}}`))
	}))

	start := time.Now()
	_, err := c.GetMessage(context.Background(), testCreds(), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"result":"error","msg":"nope"}`))
	}))

	_, err := c.GetMessage(context.Background(), testCreds(), 1)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStreamListCached(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":"success","streams":[{"stream_id":1,"name":"general"}]}`))
	}))

	ctx := context.Background()
	opts := StreamListOptions{IncludePublic: true}
	first, err := c.GetStreams(ctx, testCreds(), opts)
	require.NoError(t, err)
	second, err := c.GetStreams(ctx, testCreds(), opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	// Different flags miss the cache.
	_, err = c.GetStreams(ctx, testCreds(), StreamListOptions{IncludeSubscribed: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubscribeInvalidatesStreamCache(t *testing.T) {
	var listCalls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/streams" {
			listCalls.Add(1)
			w.Write([]byte(`{"result":"success","streams":[]}`))
			return
		}
		w.Write([]byte(`{"result":"success","msg":""}`))
	}))

	ctx := context.Background()
	_, err := c.GetStreams(ctx, testCreds(), StreamListOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, testCreds(), []string{"new-stream"}, false))
	_, err = c.GetStreams(ctx, testCreds(), StreamListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), listCalls.Load())
}

func TestQueueExpiredDetection(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"result":"error","code":"BAD_EVENT_QUEUE_ID","msg":"queue gone"}`))
	}))

	_, err := c.GetEvents(context.Background(), testCreds(), "q1", -1, time.Second)
	require.Error(t, err)
	assert.True(t, IsQueueExpired(err))
}

// memPayloadCache is an in-memory PayloadCache standing in for the store.
type memPayloadCache struct {
	mu   sync.Mutex
	rows map[string]memPayloadRow
}

type memPayloadRow struct {
	payload   string
	fetchedAt time.Time
}

func newMemPayloadCache() *memPayloadCache {
	return &memPayloadCache{rows: make(map[string]memPayloadRow)}
}

func (m *memPayloadCache) CachedPayload(ctx context.Context, scope, key string, maxAge time.Duration) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[scope+"|"+key]
	if !ok || time.Since(row.fetchedAt) > maxAge {
		return "", false
	}
	return row.payload, true
}

func (m *memPayloadCache) PutCachedPayload(ctx context.Context, scope, key, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[scope+"|"+key] = memPayloadRow{payload: payload, fetchedAt: time.Now()}
	return nil
}

func (m *memPayloadCache) InvalidateCacheScope(ctx context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.rows {
		if strings.HasPrefix(k, scope+"|") {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *memPayloadCache) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func newTestClientWithPersist(t *testing.T, handler http.Handler, persist PayloadCache) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := DefaultOptions(srv.URL)
	opts.Retry = retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}
	opts.Persist = persist
	c, err := New(opts, logger.Default(), nil)
	require.NoError(t, err)
	return c
}

func TestStreamListWarmAcrossRestart(t *testing.T) {
	persist := newMemPayloadCache()
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":"success","streams":[{"stream_id":1,"name":"general"}]}`))
	})

	ctx := context.Background()
	opts := StreamListOptions{IncludePublic: true}

	first := newTestClientWithPersist(t, handler, persist)
	streams, err := first.GetStreams(ctx, testCreds(), opts)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, persist.size())

	// A second client has a cold memory cache; the durable rows serve it
	// without touching the backend.
	second := newTestClientWithPersist(t, handler, persist)
	warm, err := second.GetStreams(ctx, testCreds(), opts)
	require.NoError(t, err)
	assert.Equal(t, streams, warm)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUserListWarmAcrossRestart(t *testing.T) {
	persist := newMemPayloadCache()
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":"success","members":[{"user_id":9,"email":"u@example.com","full_name":"U"}]}`))
	})

	ctx := context.Background()
	first := newTestClientWithPersist(t, handler, persist)
	users, err := first.GetUsers(ctx, testCreds())
	require.NoError(t, err)
	require.Len(t, users, 1)

	second := newTestClientWithPersist(t, handler, persist)
	warm, err := second.GetUsers(ctx, testCreds())
	require.NoError(t, err)
	assert.Equal(t, users, warm)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubscribeInvalidatesPersistedCache(t *testing.T) {
	persist := newMemPayloadCache()
	c := newTestClientWithPersist(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/streams" {
			w.Write([]byte(`{"result":"success","streams":[]}`))
			return
		}
		w.Write([]byte(`{"result":"success","msg":""}`))
	}), persist)

	ctx := context.Background()
	_, err := c.GetStreams(ctx, testCreds(), StreamListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, persist.size())

	require.NoError(t, c.Subscribe(ctx, testCreds(), []string{"new-stream"}, false))
	assert.Equal(t, 0, persist.size())
}

func TestUndecodablePersistedRowFallsThrough(t *testing.T) {
	persist := newMemPayloadCache()
	require.NoError(t, persist.PutCachedPayload(context.Background(),
		"users", "users:user", "{not json"))

	var calls atomic.Int32
	c := newTestClientWithPersist(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":"success","members":[]}`))
	}), persist)

	_, err := c.GetUsers(context.Background(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
