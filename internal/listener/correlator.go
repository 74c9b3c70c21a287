package listener

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/events/bus"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// requestIDPattern matches UUIDs embedded in message bodies or topic names.
var requestIDPattern = regexp.MustCompile(
	`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// handleMessage correlates one inbound message to a pending request and
// records the answer. Matching tiers: explicit request id in the body, then
// the topic scheme, then the most recent pending request within the
// fallback window. Unmatched messages are dropped silently.
func (l *Listener) handleMessage(ctx context.Context, msg *zulip.Message) {
	if strings.EqualFold(msg.SenderEmail, l.opts.BotEmail) {
		return
	}
	l.publishInbound(ctx, msg)

	if requestID := extractRequestID(msg.Content); requestID != "" {
		l.answer(ctx, requestID, msg, "body")
		return
	}
	if requestID := extractRequestID(msg.Subject); requestID != "" {
		l.answer(ctx, requestID, msg, "topic")
		return
	}

	req, found, err := l.store.RecentPendingRequest(ctx, l.opts.FallbackWindow)
	if err != nil || !found {
		return
	}
	// Fallback matches are inherently ambiguous when several requests are
	// pending; log so operators can audit.
	pending, _ := l.store.PendingRequests(ctx)
	if len(pending) > 1 {
		l.logger.Warn("ambiguous fallback correlation",
			zap.String("request_id", req.RequestID),
			zap.Int("pending", len(pending)))
	}
	l.answer(ctx, req.RequestID, msg, "fallback")
}

// answer applies the terminal transition; the store guard makes it
// at-most-once even when tiers race with timeouts or cancellations.
func (l *Listener) answer(ctx context.Context, requestID string, msg *zulip.Message, tier string) {
	updated, err := l.store.AnswerRequest(ctx, requestID, msg.Content)
	if err != nil {
		l.logger.Error("failed to record answer",
			zap.String("request_id", requestID),
			zap.Error(err))
		return
	}
	if !updated {
		l.logger.Debug("answer arrived for non-pending request",
			zap.String("request_id", requestID))
		return
	}
	l.logger.Info("request answered",
		zap.String("request_id", requestID),
		zap.String("tier", tier),
		zap.String("sender", msg.SenderEmail))
	l.publishRequestUpdate(ctx, requestID)
}

func extractRequestID(text string) string {
	return requestIDPattern.FindString(text)
}

func (l *Listener) publishInbound(ctx context.Context, msg *zulip.Message) {
	if l.bus == nil {
		return
	}
	event := bus.NewEvent("message", "listener", map[string]any{
		"sender":  msg.SenderEmail,
		"topic":   msg.Subject,
		"content": msg.Content,
	})
	_ = l.bus.Publish(ctx, bus.SubjectInboundMessage, event)
}

func (l *Listener) publishRequestUpdate(ctx context.Context, requestID string) {
	if l.bus == nil {
		return
	}
	event := bus.NewEvent("answered", "listener", map[string]any{
		"request_id": requestID,
	})
	_ = l.bus.Publish(ctx, bus.SubjectRequestUpdate, event)
}
