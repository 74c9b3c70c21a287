package tools

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/events/bus"
	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

var allowedEventTypes = []string{
	"message", "subscription", "realm_user", "presence",
	"reaction", "typing", "update_message",
}

// RegisterEvents creates an event queue for the caller.
func (t *Toolset) RegisterEvents(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyStreamEvents)
	if err != nil {
		return nil, err
	}
	types, err := args.StringSlice("event_types")
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		types = []string{"message"}
	}
	for _, et := range types {
		if !containsString(allowedEventTypes, et) {
			return nil, validate.Invalid("event_types",
				"unknown event type "+et,
				"allowed: message, subscription, realm_user, presence, reaction, typing, update_message")
		}
	}
	narrow, err := validate.NarrowFromArgs(args, "")
	if err != nil {
		return nil, err
	}
	queue, err := t.client.RegisterQueue(ctx, creds, types, narrow)
	if err != nil {
		return nil, err
	}
	return success(map[string]any{
		"queue_id":      queue.QueueID,
		"last_event_id": queue.LastEventID,
	}), nil
}

// GetEvents long-polls a queue once.
func (t *Toolset) GetEvents(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyStreamEvents)
	if err != nil {
		return nil, err
	}
	queueID, err := args.RequiredString("queue_id")
	if err != nil {
		return nil, err
	}
	lastEventID, err := args.Int64("last_event_id", -1)
	if err != nil {
		return nil, err
	}
	timeoutSecs, err := args.Int("timeout", 30)
	if err != nil {
		return nil, err
	}

	events, err := t.client.GetEvents(ctx, creds, queueID, lastEventID,
		time.Duration(timeoutSecs)*time.Second)
	if err != nil {
		if zulip.IsQueueExpired(err) {
			return nil, &validate.ToolError{
				Code:    validate.CodeNotFound,
				Message: "event queue expired",
				Recovery: &validate.Recovery{
					Tool: "register_events",
					Hint: "register a fresh queue and poll again",
				},
			}
		}
		return nil, err
	}
	return success(map[string]any{
		"events": projectEvents(events),
		"count":  len(events),
	}), nil
}

// ListenEvents combines register + poll loop until a duration elapses or an
// event count is reached. This intentionally blocks the dispatcher.
func (t *Toolset) ListenEvents(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyStreamEvents)
	if err != nil {
		return nil, err
	}
	durationSecs, err := args.Int("duration", 60)
	if err != nil {
		return nil, err
	}
	if durationSecs <= 0 || durationSecs > 600 {
		return nil, validate.Invalid("duration",
			"must be between 1 and 600 seconds", "example: 120")
	}
	maxEvents, err := args.Int("max_events", 100)
	if err != nil {
		return nil, err
	}
	types, err := args.StringSlice("event_types")
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		types = []string{"message"}
	}
	narrow, err := validate.NarrowFromArgs(args, "")
	if err != nil {
		return nil, err
	}
	fanoutSubject, err := args.String("fanout_subject", "")
	if err != nil {
		return nil, err
	}

	queue, err := t.client.RegisterQueue(ctx, creds, types, narrow)
	if err != nil {
		return nil, err
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = t.client.DeregisterQueue(cleanup, creds, queue.QueueID)
	}()

	deadline := time.Now().Add(time.Duration(durationSecs) * time.Second)
	collected := make([]zulip.Event, 0, maxEvents)
	reregistered := false

	for time.Now().Before(deadline) && len(collected) < maxEvents {
		remaining := time.Until(deadline)
		events, err := t.client.GetEvents(ctx, creds, queue.QueueID, queue.LastEventID, remaining)
		if err != nil {
			if zulip.IsQueueExpired(err) && !reregistered {
				reregistered = true
				queue, err = t.client.RegisterQueue(ctx, creds, types, narrow)
				if err != nil {
					return nil, err
				}
				t.metrics.QueueReregistration(ctx)
				continue
			}
			return nil, err
		}
		for _, event := range events {
			if event.ID > queue.LastEventID {
				queue.LastEventID = event.ID
			}
			collected = append(collected, event)
			if fanoutSubject != "" && t.bus != nil {
				t.fanout(ctx, fanoutSubject, event)
			}
			if len(collected) >= maxEvents {
				break
			}
		}
	}
	return success(map[string]any{
		"events": projectEvents(collected),
		"count":  len(collected),
	}), nil
}

// DeregisterEvents deletes an event queue.
func (t *Toolset) DeregisterEvents(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyStreamEvents)
	if err != nil {
		return nil, err
	}
	queueID, err := args.RequiredString("queue_id")
	if err != nil {
		return nil, err
	}
	if err := t.client.DeregisterQueue(ctx, creds, queueID); err != nil {
		return nil, err
	}
	return success(map[string]any{"queue_id": queueID}), nil
}

func (t *Toolset) fanout(ctx context.Context, subject string, event zulip.Event) {
	data := map[string]any{"type": event.Type, "id": event.ID}
	if event.Message != nil {
		data["sender"] = event.Message.SenderEmail
		data["content"] = event.Message.Content
	}
	if err := t.bus.Publish(ctx, subject, bus.NewEvent(event.Type, "listen_events", data)); err != nil {
		t.logger.Warn("event fanout failed", zap.String("subject", subject), zap.Error(err))
	}
}

func projectEvents(events []zulip.Event) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		entry := map[string]any{"id": e.ID, "type": e.Type}
		if e.Message != nil {
			entry["message"] = map[string]any{
				"id":      e.Message.ID,
				"sender":  e.Message.SenderEmail,
				"stream":  e.Message.StreamName(),
				"topic":   e.Message.Subject,
				"content": e.Message.Content,
			}
		}
		out = append(out, entry)
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
