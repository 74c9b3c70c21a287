// Package mcpserver exposes the tool surface over the MCP stdio transport.
// Stdout carries the JSON-RPC stream, so everything else in the process logs
// to stderr.
package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/telemetry"
	"github.com/zulipmcp/zulipmcp/internal/tools"
	"github.com/zulipmcp/zulipmcp/internal/validate"
)

// Version is stamped at build time.
var Version = "dev"

// Server wraps the MCP stdio server around the toolset.
type Server struct {
	mcp     *server.MCPServer
	toolset *tools.Toolset
	logger  *logger.Logger
	metrics *telemetry.Metrics
	count   int
}

// New builds the server and registers every tool.
func New(ts *tools.Toolset, log *logger.Logger, metrics *telemetry.Metrics) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			"zulip-mcp",
			Version,
			server.WithToolCapabilities(true),
		),
		toolset: ts,
		logger:  log,
		metrics: metrics,
	}
	s.registerTools()
	return s
}

// Serve blocks on the stdio transport until stdin closes or ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcp)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// wrap adapts a toolset handler into the MCP handler shape: null dropping,
// dispatch, structured error envelope, and the invocation metric.
func (s *Server) wrap(name string, h tools.Handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		ctx, span := telemetry.Tracer("zulip-mcp-server").Start(ctx, "tool."+name)
		defer span.End()
		args := validate.NewArgs(req.GetArguments())

		payload, err := h(ctx, args)
		if err != nil {
			te := tools.ToToolError(err)
			span.SetAttributes(attribute.String("tool.status", "error"),
				attribute.String("tool.error_code", te.Code))
			s.metrics.ToolInvocation(ctx, name, "error")
			s.logger.Warn("tool call failed",
				zap.String("tool", name),
				zap.String("code", te.Code),
				zap.Duration("elapsed", time.Since(start)))
			return errorResult(te), nil
		}

		status, _ := payload["status"].(string)
		if status == "" {
			status = "success"
		}
		span.SetAttributes(attribute.String("tool.status", status))
		s.metrics.ToolInvocation(ctx, name, status)
		s.logger.Debug("tool call served",
			zap.String("tool", name),
			zap.String("status", status),
			zap.Duration("elapsed", time.Since(start)))

		encoded, err := json.Marshal(payload)
		if err != nil {
			return errorResult(&validate.ToolError{
				Code:    validate.CodeInternal,
				Message: "encoding tool result: " + err.Error(),
			}), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}

// errorResult renders the structured error envelope as the tool result.
func errorResult(te *validate.ToolError) *mcp.CallToolResult {
	encoded, err := json.Marshal(map[string]any{
		"status": "error",
		"error":  te,
	})
	if err != nil {
		return mcp.NewToolResultError(te.Message)
	}
	return mcp.NewToolResultError(string(encoded))
}
