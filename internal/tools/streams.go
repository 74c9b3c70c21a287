package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// ManageStreams is the list/create/update/delete/subscribe surface.
func (t *Toolset) ManageStreams(ctx context.Context, args validate.Args) (map[string]any, error) {
	action, err := args.Enum("action", "",
		"list", "create", "update", "delete", "subscribe", "unsubscribe")
	if err != nil {
		return nil, err
	}
	if action == "" {
		return nil, validate.Missing("action")
	}

	switch action {
	case "list":
		creds, err := t.creds(args, identity.FamilyRead)
		if err != nil {
			return nil, err
		}
		includeArchived, err := args.Bool("include_archived", false)
		if err != nil {
			return nil, err
		}
		streams, err := t.client.GetStreams(ctx, creds, zulip.StreamListOptions{
			IncludePublic:     true,
			IncludeSubscribed: true,
			IncludeArchived:   includeArchived,
		})
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(streams))
		for _, s := range streams {
			out = append(out, map[string]any{
				"stream_id":   s.StreamID,
				"name":        s.Name,
				"description": s.Description,
				"invite_only": s.InviteOnly,
			})
		}
		return success(map[string]any{"streams": out, "count": len(out)}), nil

	case "create":
		creds, err := t.creds(args, identity.FamilySubscribe)
		if err != nil {
			return nil, err
		}
		name, err := args.RequiredString("name")
		if err != nil {
			return nil, err
		}
		description, err := args.String("description", "")
		if err != nil {
			return nil, err
		}
		inviteOnly, err := args.Bool("invite_only", false)
		if err != nil {
			return nil, err
		}
		if err := t.client.CreateStream(ctx, creds, zulip.NormalizeStreamName(name), description, inviteOnly); err != nil {
			return nil, err
		}
		return success(map[string]any{"name": name}), nil

	case "update":
		creds, err := t.creds(args, identity.FamilyRealmSettings)
		if err != nil {
			return nil, err
		}
		streamID, err := t.streamIDFromArgs(ctx, creds, args)
		if err != nil {
			return nil, err
		}
		newName, err := args.String("new_name", "")
		if err != nil {
			return nil, err
		}
		description, err := args.String("description", "")
		if err != nil {
			return nil, err
		}
		if err := t.client.UpdateStream(ctx, creds, streamID, newName, description); err != nil {
			return nil, err
		}
		return success(map[string]any{"stream_id": streamID}), nil

	case "delete":
		creds, err := t.creds(args, identity.FamilyRealmSettings)
		if err != nil {
			return nil, err
		}
		streamID, err := t.streamIDFromArgs(ctx, creds, args)
		if err != nil {
			return nil, err
		}
		if err := t.client.DeleteStream(ctx, creds, streamID); err != nil {
			return nil, err
		}
		return success(map[string]any{"stream_id": streamID}), nil

	case "subscribe", "unsubscribe":
		creds, err := t.creds(args, identity.FamilySubscribe)
		if err != nil {
			return nil, err
		}
		names, err := args.StringSlice("streams")
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			if name, nameErr := args.RequiredString("name"); nameErr == nil {
				names = []string{name}
			} else {
				return nil, validate.Missing("streams")
			}
		}
		if action == "subscribe" {
			err = t.client.Subscribe(ctx, creds, names, false)
		} else {
			err = t.client.Unsubscribe(ctx, creds, names)
		}
		if err != nil {
			return nil, err
		}
		return success(map[string]any{"streams": names}), nil
	}
	return nil, validate.Invalid("action", "unhandled action "+action)
}

// streamIDFromArgs resolves stream_id directly or via the stream name.
func (t *Toolset) streamIDFromArgs(ctx context.Context, creds identity.Credentials, args validate.Args) (int64, error) {
	streamID, err := args.Int64("stream_id", 0)
	if err != nil {
		return 0, err
	}
	if streamID != 0 {
		return streamID, nil
	}
	name, err := args.String("stream", "")
	if err != nil {
		return 0, err
	}
	if name == "" {
		return 0, validate.Missing("stream_id")
	}
	return t.client.GetStreamID(ctx, creds, name)
}

// ManageTopics is the per-stream topic surface.
func (t *Toolset) ManageTopics(ctx context.Context, args validate.Args) (map[string]any, error) {
	action, err := args.Enum("action", "",
		"list", "move", "delete", "mark_read", "mute", "unmute")
	if err != nil {
		return nil, err
	}
	if action == "" {
		return nil, validate.Missing("action")
	}

	family := identity.FamilyRead
	if action == "delete" {
		family = identity.FamilyTopicDelete
	}
	creds, err := t.creds(args, family)
	if err != nil {
		return nil, err
	}
	streamID, err := t.streamIDFromArgs(ctx, creds, args)
	if err != nil {
		return nil, err
	}

	switch action {
	case "list":
		topics, err := t.client.GetTopics(ctx, creds, streamID)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(topics))
		for _, topic := range topics {
			out = append(out, map[string]any{
				"name":           topic.Name,
				"max_message_id": topic.MaxID,
			})
		}
		return success(map[string]any{"topics": out, "count": len(out)}), nil

	case "move":
		topic, err := args.RequiredString("topic")
		if err != nil {
			return nil, err
		}
		newTopic, err := args.String("new_topic", "")
		if err != nil {
			return nil, err
		}
		targetStreamID, err := args.Int64("target_stream_id", 0)
		if err != nil {
			return nil, err
		}
		if newTopic == "" && targetStreamID == 0 {
			return nil, validate.Invalid("new_topic",
				"either new_topic or target_stream_id is required for a move")
		}
		propagate, err := args.Enum("propagate_mode", "change_all",
			"change_one", "change_later", "change_all")
		if err != nil {
			return nil, err
		}
		// A topic move rides on editing the newest message in the topic
		// with a propagation mode.
		anchorMsg, err := t.newestInTopic(ctx, creds, streamID, topic)
		if err != nil {
			return nil, err
		}
		if err := t.client.EditMessage(ctx, creds, anchorMsg.ID, zulip.EditOptions{
			Topic:         newTopic,
			StreamID:      targetStreamID,
			PropagateMode: propagate,
		}); err != nil {
			return nil, err
		}
		return success(map[string]any{"topic": topic, "moved_to": newTopic}), nil

	case "delete":
		topic, err := args.RequiredString("topic")
		if err != nil {
			return nil, err
		}
		if err := t.client.DeleteTopic(ctx, creds, streamID, topic); err != nil {
			return nil, err
		}
		return success(map[string]any{"topic": topic}), nil

	case "mark_read":
		topic, err := args.RequiredString("topic")
		if err != nil {
			return nil, err
		}
		if err := t.client.MarkTopicRead(ctx, creds, streamID, topic); err != nil {
			return nil, err
		}
		return success(map[string]any{"topic": topic}), nil

	case "mute", "unmute":
		topic, err := args.RequiredString("topic")
		if err != nil {
			return nil, err
		}
		stream, err := args.RequiredString("stream")
		if err != nil {
			return nil, err
		}
		if err := t.client.MuteTopic(ctx, creds, stream, topic, action == "mute"); err != nil {
			return nil, err
		}
		return success(map[string]any{"topic": topic, "muted": action == "mute"}), nil
	}
	return nil, validate.Invalid("action", "unhandled action "+action)
}

// newestInTopic fetches the newest message of a topic as a move anchor.
func (t *Toolset) newestInTopic(ctx context.Context, creds identity.Credentials, streamID int64, topic string) (*zulip.Message, error) {
	stream, err := t.client.GetStream(ctx, creds, streamID)
	if err != nil {
		return nil, err
	}
	narrow := zulip.NewNarrowBuilder(nil).Stream(stream.Name).Topic(topic).Build()
	result, err := t.client.GetMessages(ctx, creds, zulip.SearchOptions{
		Anchor:    "newest",
		NumBefore: 1,
		Narrow:    narrow,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Messages) == 0 {
		return nil, &zulip.NotFoundError{Resource: "topic", Msg: topic}
	}
	return &result.Messages[0], nil
}

// GetStreamInfo returns one stream with optional inclusions.
func (t *Toolset) GetStreamInfo(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyRead)
	if err != nil {
		return nil, err
	}
	streamID, err := t.streamIDFromArgs(ctx, creds, args)
	if err != nil {
		return nil, err
	}
	stream, err := t.client.GetStream(ctx, creds, streamID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"stream_id":   stream.StreamID,
		"name":        stream.Name,
		"description": stream.Description,
		"invite_only": stream.InviteOnly,
	}

	includeTopics, err := args.Bool("include_topics", false)
	if err != nil {
		return nil, err
	}
	if includeTopics {
		topics, err := t.client.GetTopics(ctx, creds, streamID)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(topics))
		for _, topic := range topics {
			names = append(names, topic.Name)
		}
		payload["topics"] = names
	}

	includeSubscribers, err := args.Bool("include_subscribers", false)
	if err != nil {
		return nil, err
	}
	if includeSubscribers {
		subscribers, err := t.client.GetSubscribers(ctx, creds, streamID)
		if err != nil {
			return nil, err
		}
		payload["subscriber_ids"] = subscribers
		payload["subscriber_count"] = len(subscribers)
	}
	return success(payload), nil
}

// StreamAnalytics computes aggregates over a stream's recent messages.
func (t *Toolset) StreamAnalytics(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySearch)
	if err != nil {
		return nil, err
	}
	stream, err := args.RequiredString("stream")
	if err != nil {
		return nil, err
	}
	lastDays, err := args.Int("last_days", 7)
	if err != nil {
		return nil, err
	}
	bucket, err := args.Enum("bucket", "day", "hour", "day")
	if err != nil {
		return nil, err
	}

	narrow := zulip.NewNarrowBuilder(nil).Stream(stream).LastDays(lastDays).Build()
	result, err := t.client.GetMessages(ctx, creds, zulip.SearchOptions{
		Anchor:    "newest",
		NumBefore: 1000,
		Narrow:    narrow,
	})
	if err != nil {
		return nil, err
	}

	senders := map[string]int{}
	topics := map[string]int{}
	activity := map[string]int{}
	for _, m := range result.Messages {
		senders[m.SenderFullName]++
		topics[m.Subject]++
		ts := time.Unix(m.Timestamp, 0).UTC()
		if bucket == "hour" {
			activity[ts.Format("2006-01-02T15")]++
		} else {
			activity[ts.Format("2006-01-02")]++
		}
	}
	return success(map[string]any{
		"stream":         stream,
		"window_days":    lastDays,
		"message_count":  len(result.Messages),
		"unique_senders": len(senders),
		"topic_count":    len(topics),
		"activity":       activity,
		"by_sender":      senders,
	}), nil
}

// ManageStreamSettings sets the caller's per-stream preferences.
func (t *Toolset) ManageStreamSettings(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySubscribe)
	if err != nil {
		return nil, err
	}
	streamID, err := t.streamIDFromArgs(ctx, creds, args)
	if err != nil {
		return nil, err
	}
	property, err := args.RequiredString("property")
	if err != nil {
		return nil, err
	}
	valid := zulip.ValidSubscriptionProperties()
	ok := false
	for _, p := range valid {
		if p == property {
			ok = true
			break
		}
	}
	if !ok {
		return nil, validate.Invalid("property",
			fmt.Sprintf("%q is not a per-user subscription property", property),
			"allowed: "+fmt.Sprint(valid))
	}
	value, present := args["value"]
	if !present {
		return nil, validate.Missing("value")
	}
	if err := t.client.UpdateSubscriptionSettings(ctx, creds, streamID, property, value); err != nil {
		return nil, err
	}
	return success(map[string]any{
		"stream_id": streamID,
		"property":  property,
	}), nil
}
