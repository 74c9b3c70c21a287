package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// maxMessageLength mirrors the backend's content limit.
const maxMessageLength = 10000

// truncateContent caps content at max bytes without splitting a rune.
func truncateContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// SendMessage posts to a stream topic or a private recipient list.
func (t *Toolset) SendMessage(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySend)
	if err != nil {
		return nil, err
	}
	content, err := args.RequiredString("content")
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	content = truncateContent(content, maxMessageLength)

	stream, err := args.String("stream", "")
	if err != nil {
		return nil, err
	}
	recipients, err := args.StringSlice("recipients")
	if err != nil {
		return nil, err
	}

	var messageID int64
	switch {
	case stream != "":
		topic, err := args.RequiredString("topic")
		if err != nil {
			return nil, err
		}
		messageID, err = t.client.SendStreamMessage(ctx, creds, stream, topic, content)
		if err != nil {
			return nil, err
		}
	case len(recipients) > 0:
		messageID, err = t.client.SendPrivateMessage(ctx, creds, recipients, content)
		if err != nil {
			return nil, err
		}
	default:
		return nil, validate.Invalid("stream",
			"either stream (with topic) or recipients is required",
			`example: {"stream":"general","topic":"hello","content":"hi"}`)
	}
	return success(map[string]any{"message_id": messageID}), nil
}

// SearchMessages fetches messages by narrow, with simple shortcuts and the
// has_more boundary flag.
func (t *Toolset) SearchMessages(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySearch)
	if err != nil {
		return nil, err
	}

	senderEmail, err := t.resolveSender(ctx, creds, args)
	if err != nil {
		return nil, err
	}
	narrow, err := validate.NarrowFromArgs(args, senderEmail)
	if err != nil {
		return nil, err
	}

	anchor, err := anchorFromArgs(args)
	if err != nil {
		return nil, err
	}
	numBefore, err := args.Int("num_before", 25)
	if err != nil {
		return nil, err
	}
	numAfter, err := args.Int("num_after", 0)
	if err != nil {
		return nil, err
	}

	result, err := t.client.GetMessages(ctx, creds, zulip.SearchOptions{
		Anchor:    anchor,
		NumBefore: numBefore,
		NumAfter:  numAfter,
		Narrow:    narrow,
	})
	if err != nil {
		return nil, err
	}

	requested := numBefore + numAfter
	hasMore := requested > 0 && len(result.Messages) >= requested
	return success(map[string]any{
		"messages": summarizeMessages(result.Messages),
		"count":    len(result.Messages),
		"has_more": hasMore,
	}), nil
}

// resolveSender maps the optional sender shortcut through the resolver.
func (t *Toolset) resolveSender(ctx context.Context, creds identity.Credentials, args validate.Args) (string, error) {
	sender, err := args.String("sender", "")
	if err != nil || sender == "" {
		return "", err
	}
	user, err := t.resolver.Resolve(ctx, creds, sender)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

// anchorFromArgs accepts the enum anchors or a message id (int or string).
func anchorFromArgs(args validate.Args) (string, error) {
	if !args.Has("anchor") {
		return "newest", nil
	}
	if id, err := args.Int64("anchor", 0); err == nil {
		return fmt.Sprintf("%d", id), nil
	}
	return args.Enum("anchor", "newest", "newest", "oldest", "first_unread")
}

// EditMessage updates content, topic, or stream placement.
func (t *Toolset) EditMessage(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyEditOwn)
	if err != nil {
		return nil, err
	}
	messageID, err := args.Int64("message_id", 0)
	if err != nil {
		return nil, err
	}
	if messageID == 0 {
		return nil, validate.Missing("message_id")
	}
	content, err := args.String("content", "")
	if err != nil {
		return nil, err
	}
	topic, err := args.String("topic", "")
	if err != nil {
		return nil, err
	}
	streamID, err := args.Int64("stream_id", 0)
	if err != nil {
		return nil, err
	}
	if content == "" && topic == "" && streamID == 0 {
		return nil, validate.Invalid("content",
			"at least one of content, topic, or stream_id is required")
	}
	propagate, err := args.Enum("propagate_mode", "change_one",
		"change_one", "change_later", "change_all")
	if err != nil {
		return nil, err
	}
	notifyOld, err := args.Bool("notify_old_thread", false)
	if err != nil {
		return nil, err
	}
	notifyNew, err := args.Bool("notify_new_thread", true)
	if err != nil {
		return nil, err
	}

	if err := t.client.EditMessage(ctx, creds, messageID, zulip.EditOptions{
		Content:                     content,
		Topic:                       topic,
		StreamID:                    streamID,
		PropagateMode:               propagate,
		SendNotificationToOldThread: notifyOld,
		SendNotificationToNewThread: notifyNew,
	}); err != nil {
		return nil, err
	}
	return success(map[string]any{"message_id": messageID}), nil
}

// BulkOperations applies a flag operation over an id list or a narrow,
// never both.
func (t *Toolset) BulkOperations(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyBulkRead)
	if err != nil {
		return nil, err
	}
	operation, err := args.Enum("operation", "",
		"mark_read", "mark_unread", "star", "unstar", "mark_all_read")
	if err != nil {
		return nil, err
	}
	if operation == "" {
		return nil, validate.Missing("operation")
	}

	messageIDs, err := args.Int64Slice("message_ids")
	if err != nil {
		return nil, err
	}
	hasNarrow := args.Has("narrow") || args.Has("stream") || args.Has("topic")

	if len(messageIDs) > 0 && hasNarrow {
		return nil, &validate.ToolError{
			Code:    validate.CodeMutuallyExclusive,
			Message: "message_ids and narrow selection are mutually exclusive; pass one",
		}
	}

	// mark_all_read inherently means "all"; everything else needs a selection.
	if operation == "mark_all_read" {
		if err := t.client.MarkAllRead(ctx, creds); err != nil {
			return nil, err
		}
		return success(map[string]any{"operation": operation}), nil
	}
	if len(messageIDs) == 0 && !hasNarrow {
		return nil, &validate.ToolError{
			Code:    validate.CodeMissingParam,
			Message: "either message_ids or a narrow selection is required",
		}
	}

	op, flag := flagFor(operation)
	if len(messageIDs) > 0 {
		if err := t.client.UpdateFlags(ctx, creds, messageIDs, op, flag); err != nil {
			return nil, err
		}
		return success(map[string]any{
			"operation": operation,
			"updated":   len(messageIDs),
		}), nil
	}

	narrow, err := validate.NarrowFromArgs(args, "")
	if err != nil {
		return nil, err
	}
	updated, err := t.client.UpdateFlagsForNarrow(ctx, creds, narrow, op, flag)
	if err != nil {
		return nil, err
	}
	return success(map[string]any{
		"operation": operation,
		"updated":   updated,
	}), nil
}

func flagFor(operation string) (op, flag string) {
	switch operation {
	case "mark_read":
		return "add", "read"
	case "mark_unread":
		return "remove", "read"
	case "star":
		return "add", "starred"
	case "unstar":
		return "remove", "starred"
	}
	return "add", "read"
}

// AddReaction attaches an approved emoji to a message.
func (t *Toolset) AddReaction(ctx context.Context, args validate.Args) (map[string]any, error) {
	return t.react(ctx, args, true)
}

// RemoveReaction detaches an emoji from a message.
func (t *Toolset) RemoveReaction(ctx context.Context, args validate.Args) (map[string]any, error) {
	return t.react(ctx, args, false)
}

func (t *Toolset) react(ctx context.Context, args validate.Args, add bool) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyReact)
	if err != nil {
		return nil, err
	}
	messageID, err := args.Int64("message_id", 0)
	if err != nil {
		return nil, err
	}
	if messageID == 0 {
		return nil, validate.Missing("message_id")
	}
	emojiName, err := args.RequiredString("emoji_name")
	if err != nil {
		return nil, err
	}
	if err := validateEmoji(emojiName); err != nil {
		return nil, err
	}
	if add {
		err = t.client.AddReaction(ctx, creds, messageID, emojiName)
	} else {
		err = t.client.RemoveReaction(ctx, creds, messageID, emojiName)
	}
	if err != nil {
		return nil, err
	}
	return success(map[string]any{"message_id": messageID, "emoji_name": emojiName}), nil
}

// GetMessageHistory returns prior content and edit timestamps.
func (t *Toolset) GetMessageHistory(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyRead)
	if err != nil {
		return nil, err
	}
	messageID, err := args.Int64("message_id", 0)
	if err != nil {
		return nil, err
	}
	if messageID == 0 {
		return nil, validate.Missing("message_id")
	}
	history, err := t.client.MessageHistory(ctx, creds, messageID)
	if err != nil {
		return nil, err
	}
	edits := make([]map[string]any, 0, len(history))
	for _, h := range history {
		edits = append(edits, map[string]any{
			"timestamp":    time.Unix(h.Timestamp, 0).UTC().Format(time.RFC3339),
			"prev_content": h.PrevContent,
			"prev_topic":   h.PrevTopic,
			"user_id":      h.UserID,
		})
	}
	return success(map[string]any{
		"message_id": messageID,
		"edits":      edits,
	}), nil
}

// CrossPostMessage reposts a message into other streams with attribution.
func (t *Toolset) CrossPostMessage(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySend)
	if err != nil {
		return nil, err
	}
	messageID, err := args.Int64("message_id", 0)
	if err != nil {
		return nil, err
	}
	if messageID == 0 {
		return nil, validate.Missing("message_id")
	}
	targets, err := args.StringSlice("target_streams")
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, validate.Missing("target_streams")
	}
	topic, err := args.String("topic", "")
	if err != nil {
		return nil, err
	}
	prefix, err := args.String("prefix", "")
	if err != nil {
		return nil, err
	}
	includeLink, err := args.Bool("include_reference", true)
	if err != nil {
		return nil, err
	}

	source, err := t.client.GetMessage(ctx, creds, messageID)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = source.Subject
	}

	posted := make([]map[string]any, 0, len(targets))
	for _, target := range targets {
		content := formatCrossPost(source, prefix, includeLink)
		id, err := t.client.SendStreamMessage(ctx, creds, target, topic, content)
		if err != nil {
			return nil, err
		}
		posted = append(posted, map[string]any{"stream": target, "message_id": id})
	}
	return success(map[string]any{"posted": posted}), nil
}

func formatCrossPost(source *zulip.Message, prefix string, includeLink bool) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Cross-posted from **%s** (by %s):\n\n", source.StreamName(), source.SenderFullName)
	b.WriteString(source.Content)
	if includeLink {
		fmt.Fprintf(&b, "\n\n*(original message id %d)*", source.ID)
	}
	return b.String()
}

// summarizeMessages projects messages to the fields clients care about.
func summarizeMessages(messages []zulip.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"id":        m.ID,
			"sender":    m.SenderFullName,
			"email":     m.SenderEmail,
			"stream":    m.StreamName(),
			"topic":     m.Subject,
			"content":   m.Content,
			"timestamp": time.Unix(m.Timestamp, 0).UTC().Format(time.RFC3339),
		})
	}
	return out
}
