package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/validate"
)

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "send_message"
	req.Params.Arguments = args
	return req
}

// recordSpans routes the global tracer to an in-memory recorder for the
// duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	return recorder
}

func TestWrapTracesAndEncodesSuccess(t *testing.T) {
	recorder := recordSpans(t)
	s := &Server{logger: logger.Default()}

	handler := s.wrap("send_message", func(ctx context.Context, args validate.Args) (map[string]any, error) {
		content, err := args.RequiredString("content")
		require.NoError(t, err)
		return map[string]any{"status": "success", "echo": content}, nil
	})

	result, err := handler(context.Background(), callRequest(map[string]any{"content": "hi"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, "hi", payload["echo"])

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.send_message", spans[0].Name())
}

func TestWrapRendersStructuredError(t *testing.T) {
	recorder := recordSpans(t)
	s := &Server{logger: logger.Default()}

	handler := s.wrap("send_message", func(ctx context.Context, args validate.Args) (map[string]any, error) {
		return nil, validate.Missing("content")
	})

	result, err := handler(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var envelope struct {
		Status string              `json:"status"`
		Error  *validate.ToolError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &envelope))
	assert.Equal(t, "error", envelope.Status)
	assert.Equal(t, validate.CodeMissingParam, envelope.Error.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.send_message", spans[0].Name())
}
