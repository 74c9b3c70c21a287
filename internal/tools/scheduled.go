package tools

import (
	"context"
	"strings"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// ScheduleMessage queues a delivery on the server so it survives bridge
// restarts.
func (t *Toolset) ScheduleMessage(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyScheduled)
	if err != nil {
		return nil, err
	}
	content, err := args.RequiredString("content")
	if err != nil {
		return nil, err
	}
	deliverAt, err := parseDeliveryTime(args)
	if err != nil {
		return nil, err
	}

	stream, err := args.String("stream", "")
	if err != nil {
		return nil, err
	}
	recipients, err := args.StringSlice("recipients")
	if err != nil {
		return nil, err
	}

	opts := zulip.ScheduleOptions{Content: content, DeliverAt: deliverAt}
	switch {
	case stream != "":
		topic, err := args.RequiredString("topic")
		if err != nil {
			return nil, err
		}
		streamID, err := t.client.GetStreamID(ctx, creds, stream)
		if err != nil {
			return nil, err
		}
		opts.Type = "stream"
		opts.StreamID = streamID
		opts.Topic = topic
	case len(recipients) > 0:
		ids := make([]int64, 0, len(recipients))
		for _, recipient := range recipients {
			user, err := t.resolver.Resolve(ctx, creds, recipient)
			if err != nil {
				return nil, err
			}
			ids = append(ids, user.UserID)
		}
		opts.Type = "private"
		opts.RecipientIDs = ids
	default:
		return nil, validate.Invalid("stream",
			"either stream (with topic) or recipients is required")
	}

	id, err := t.client.CreateScheduledMessage(ctx, creds, opts)
	if err != nil {
		return nil, err
	}
	return success(map[string]any{
		"scheduled_message_id": id,
		"deliver_at":           deliverAt.UTC().Format(time.RFC3339),
	}), nil
}

// parseDeliveryTime accepts RFC3339 timestamps or relative deltas like
// "+2h" / "+30m", and rejects anything not in the future.
func parseDeliveryTime(args validate.Args) (time.Time, error) {
	raw, err := args.RequiredString("deliver_at")
	if err != nil {
		return time.Time{}, err
	}
	raw = strings.TrimSpace(raw)

	var deliverAt time.Time
	if strings.HasPrefix(raw, "+") {
		delta, err := time.ParseDuration(raw[1:])
		if err != nil {
			return time.Time{}, validate.Invalid("deliver_at",
				"not a valid relative delay: "+err.Error(), "example: +2h or +30m")
		}
		deliverAt = time.Now().Add(delta)
	} else {
		deliverAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, validate.Invalid("deliver_at",
				"not RFC3339 or a +delta", "example: 2026-09-01T09:00:00Z or +2h")
		}
	}

	if !deliverAt.After(time.Now().Add(time.Minute)) {
		return time.Time{}, validate.Invalid("deliver_at",
			"must be at least one minute in the future",
			"example: +5m")
	}
	return deliverAt, nil
}

// ListScheduled returns the identity's pending scheduled messages.
func (t *Toolset) ListScheduled(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyScheduled)
	if err != nil {
		return nil, err
	}
	list, err := t.client.ListScheduledMessages(ctx, creds)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(list))
	for _, m := range list {
		out = append(out, map[string]any{
			"scheduled_message_id": m.ID,
			"type":                 m.Type,
			"topic":                m.Topic,
			"content":              m.Content,
			"deliver_at":           time.Unix(m.ScheduledDeliveryUTC, 0).UTC().Format(time.RFC3339),
		})
	}
	return success(map[string]any{"scheduled": out, "count": len(out)}), nil
}

// UpdateScheduled edits a pending scheduled message's content or time.
func (t *Toolset) UpdateScheduled(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyScheduled)
	if err != nil {
		return nil, err
	}
	id, err := args.Int64("scheduled_message_id", 0)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, validate.Missing("scheduled_message_id")
	}
	content, err := args.String("content", "")
	if err != nil {
		return nil, err
	}
	var deliverAt time.Time
	if args.Has("deliver_at") {
		deliverAt, err = parseDeliveryTime(args)
		if err != nil {
			return nil, err
		}
	}
	if content == "" && deliverAt.IsZero() {
		return nil, validate.Invalid("content",
			"at least one of content or deliver_at is required")
	}
	if err := t.client.UpdateScheduledMessage(ctx, creds, id, content, deliverAt); err != nil {
		return nil, err
	}
	return success(map[string]any{"scheduled_message_id": id}), nil
}

// CancelScheduled deletes a pending scheduled message.
func (t *Toolset) CancelScheduled(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyScheduled)
	if err != nil {
		return nil, err
	}
	id, err := args.Int64("scheduled_message_id", 0)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, validate.Missing("scheduled_message_id")
	}
	if err := t.client.DeleteScheduledMessage(ctx, creds, id); err != nil {
		return nil, err
	}
	return success(map[string]any{"scheduled_message_id": id}), nil
}
