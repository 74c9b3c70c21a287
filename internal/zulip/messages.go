package zulip

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/zulipmcp/zulipmcp/internal/identity"
)

// SendStreamMessage posts to a stream topic and returns the message id.
func (c *Client) SendStreamMessage(ctx context.Context, creds identity.Credentials, stream, topic, content string) (int64, error) {
	params := url.Values{}
	params.Set("type", "stream")
	params.Set("to", stream)
	params.Set("topic", topic)
	params.Set("content", content)
	return c.sendMessage(ctx, creds, params)
}

// SendPrivateMessage posts a direct message to the recipient emails.
func (c *Client) SendPrivateMessage(ctx context.Context, creds identity.Credentials, recipients []string, content string) (int64, error) {
	params := url.Values{}
	params.Set("type", "private")
	params.Set("to", `["`+strings.Join(recipients, `","`)+`"]`)
	params.Set("content", content)
	return c.sendMessage(ctx, creds, params)
}

func (c *Client) sendMessage(ctx context.Context, creds identity.Credentials, params url.Values) (int64, error) {
	body, err := c.call(ctx, creds, http.MethodPost, "/messages", params, nil)
	if err != nil {
		return 0, err
	}
	var result SendResult
	if err := decode(body, "/messages", &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// SearchOptions shapes a message fetch.
type SearchOptions struct {
	// Anchor is "newest", "oldest", "first_unread", or a message id string.
	Anchor    string
	NumBefore int
	NumAfter  int
	Narrow    Narrow
	// ApplyMarkdown requests rendered HTML content when true.
	ApplyMarkdown bool
}

// SearchResult carries the fetched page plus the boundary flags.
type SearchResult struct {
	Messages     []Message `json:"messages"`
	FoundAnchor  bool      `json:"found_anchor"`
	FoundNewest  bool      `json:"found_newest"`
	FoundOldest  bool      `json:"found_oldest"`
}

// GetMessages fetches messages matching the narrow around the anchor.
func (c *Client) GetMessages(ctx context.Context, creds identity.Credentials, opts SearchOptions) (*SearchResult, error) {
	anchor := opts.Anchor
	if anchor == "" {
		anchor = "newest"
	}
	narrowJSON, err := opts.Narrow.JSON()
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("anchor", anchor)
	params.Set("num_before", strconv.Itoa(opts.NumBefore))
	params.Set("num_after", strconv.Itoa(opts.NumAfter))
	params.Set("narrow", narrowJSON)
	params.Set("apply_markdown", strconv.FormatBool(opts.ApplyMarkdown))

	body, err := c.call(ctx, creds, http.MethodGet, "/messages", params, nil)
	if err != nil {
		return nil, err
	}
	var result SearchResult
	if err := decode(body, "/messages", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetMessage fetches a single message by id.
func (c *Client) GetMessage(ctx context.Context, creds identity.Credentials, messageID int64) (*Message, error) {
	path := fmt.Sprintf("/messages/%d", messageID)
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Message Message `json:"message"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return &result.Message, nil
}

// EditOptions shapes a message edit. Zero-valued fields are left untouched.
type EditOptions struct {
	Content string
	Topic   string
	// StreamID moves the message to another stream when non-zero.
	StreamID int64
	// PropagateMode is change_one, change_later, or change_all.
	PropagateMode string
	// Notification flags for topic moves.
	SendNotificationToOldThread bool
	SendNotificationToNewThread bool
}

// EditMessage updates content, topic, or stream of an existing message.
func (c *Client) EditMessage(ctx context.Context, creds identity.Credentials, messageID int64, opts EditOptions) error {
	params := url.Values{}
	if opts.Content != "" {
		params.Set("content", opts.Content)
	}
	if opts.Topic != "" {
		params.Set("topic", opts.Topic)
	}
	if opts.StreamID != 0 {
		params.Set("stream_id", strconv.FormatInt(opts.StreamID, 10))
	}
	if opts.PropagateMode != "" {
		params.Set("propagate_mode", opts.PropagateMode)
	}
	params.Set("send_notification_to_old_thread", strconv.FormatBool(opts.SendNotificationToOldThread))
	params.Set("send_notification_to_new_thread", strconv.FormatBool(opts.SendNotificationToNewThread))

	path := fmt.Sprintf("/messages/%d", messageID)
	_, err := c.call(ctx, creds, http.MethodPatch, path, params, nil)
	return err
}

// DeleteMessage removes a message (requires adequate permissions).
func (c *Client) DeleteMessage(ctx context.Context, creds identity.Credentials, messageID int64) error {
	path := fmt.Sprintf("/messages/%d", messageID)
	_, err := c.call(ctx, creds, http.MethodDelete, path, url.Values{}, nil)
	return err
}

// MessageHistory returns the edit history for a message.
func (c *Client) MessageHistory(ctx context.Context, creds identity.Credentials, messageID int64) ([]MessageEdit, error) {
	path := fmt.Sprintf("/messages/%d/history", messageID)
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		MessageHistory []MessageEdit `json:"message_history"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return result.MessageHistory, nil
}

// UpdateFlags adds or removes a flag (e.g. "read", "starred") on the given
// message ids.
func (c *Client) UpdateFlags(ctx context.Context, creds identity.Credentials, messageIDs []int64, op, flag string) error {
	ids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	params := url.Values{}
	params.Set("messages", "["+strings.Join(ids, ",")+"]")
	params.Set("op", op)
	params.Set("flag", flag)
	_, err := c.call(ctx, creds, http.MethodPost, "/messages/flags", params, nil)
	return err
}

// UpdateFlagsForNarrow applies a flag operation to every message matching
// the narrow. Used by bulk operations with a narrow selection.
func (c *Client) UpdateFlagsForNarrow(ctx context.Context, creds identity.Credentials, narrow Narrow, op, flag string) (int, error) {
	narrowJSON, err := narrow.JSON()
	if err != nil {
		return 0, err
	}
	params := url.Values{}
	params.Set("anchor", "newest")
	params.Set("num_before", "5000")
	params.Set("num_after", "0")
	params.Set("narrow", narrowJSON)
	params.Set("op", op)
	params.Set("flag", flag)
	body, err := c.call(ctx, creds, http.MethodPost, "/messages/flags/narrow", params, nil)
	if err != nil {
		return 0, err
	}
	var result struct {
		UpdatedCount int `json:"updated_count"`
	}
	if err := decode(body, "/messages/flags/narrow", &result); err != nil {
		return 0, err
	}
	return result.UpdatedCount, nil
}

// AddReaction attaches an emoji reaction.
func (c *Client) AddReaction(ctx context.Context, creds identity.Credentials, messageID int64, emojiName string) error {
	params := url.Values{}
	params.Set("emoji_name", emojiName)
	path := fmt.Sprintf("/messages/%d/reactions", messageID)
	_, err := c.call(ctx, creds, http.MethodPost, path, params, nil)
	return err
}

// RemoveReaction detaches an emoji reaction.
func (c *Client) RemoveReaction(ctx context.Context, creds identity.Credentials, messageID int64, emojiName string) error {
	params := url.Values{}
	params.Set("emoji_name", emojiName)
	path := fmt.Sprintf("/messages/%d/reactions", messageID)
	_, err := c.call(ctx, creds, http.MethodDelete, path, params, nil)
	return err
}

// MarkAllRead marks every message as read for the calling identity.
func (c *Client) MarkAllRead(ctx context.Context, creds identity.Credentials) error {
	_, err := c.call(ctx, creds, http.MethodPost, "/mark_all_as_read", url.Values{}, nil)
	return err
}

// MarkStreamRead marks a whole stream read.
func (c *Client) MarkStreamRead(ctx context.Context, creds identity.Credentials, streamID int64) error {
	params := url.Values{}
	params.Set("stream_id", strconv.FormatInt(streamID, 10))
	_, err := c.call(ctx, creds, http.MethodPost, "/mark_stream_as_read", params, nil)
	return err
}

// MarkTopicRead marks one topic read.
func (c *Client) MarkTopicRead(ctx context.Context, creds identity.Credentials, streamID int64, topic string) error {
	params := url.Values{}
	params.Set("stream_id", strconv.FormatInt(streamID, 10))
	params.Set("topic_name", topic)
	_, err := c.call(ctx, creds, http.MethodPost, "/mark_topic_as_read", params, nil)
	return err
}
