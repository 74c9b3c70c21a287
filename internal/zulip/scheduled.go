package zulip

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/identity"
)

// ScheduleOptions shapes a scheduled message.
type ScheduleOptions struct {
	// Type is "stream" or "private".
	Type string
	// To is the stream id for stream messages, or recipient user ids for
	// private messages.
	StreamID     int64
	RecipientIDs []int64
	Topic        string
	Content      string
	DeliverAt    time.Time
}

// CreateScheduledMessage schedules a delivery on the server.
func (c *Client) CreateScheduledMessage(ctx context.Context, creds identity.Credentials, opts ScheduleOptions) (int64, error) {
	params := url.Values{}
	params.Set("type", opts.Type)
	if opts.Type == "stream" {
		params.Set("to", strconv.FormatInt(opts.StreamID, 10))
		params.Set("topic", opts.Topic)
	} else {
		ids := make([]string, len(opts.RecipientIDs))
		for i, id := range opts.RecipientIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		params.Set("to", "["+strings.Join(ids, ",")+"]")
	}
	params.Set("content", opts.Content)
	params.Set("scheduled_delivery_timestamp", strconv.FormatInt(opts.DeliverAt.Unix(), 10))

	body, err := c.call(ctx, creds, http.MethodPost, "/scheduled_messages", params, nil)
	if err != nil {
		return 0, err
	}
	var result struct {
		ScheduledMessageID int64 `json:"scheduled_message_id"`
	}
	if err := decode(body, "/scheduled_messages", &result); err != nil {
		return 0, err
	}
	return result.ScheduledMessageID, nil
}

// ListScheduledMessages returns the identity's pending scheduled messages.
func (c *Client) ListScheduledMessages(ctx context.Context, creds identity.Credentials) ([]ScheduledMessage, error) {
	body, err := c.call(ctx, creds, http.MethodGet, "/scheduled_messages", url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		ScheduledMessages []ScheduledMessage `json:"scheduled_messages"`
	}
	if err := decode(body, "/scheduled_messages", &result); err != nil {
		return nil, err
	}
	return result.ScheduledMessages, nil
}

// UpdateScheduledMessage edits a pending scheduled message. Only non-zero
// fields are sent.
func (c *Client) UpdateScheduledMessage(ctx context.Context, creds identity.Credentials, id int64, content string, deliverAt time.Time) error {
	params := url.Values{}
	if content != "" {
		params.Set("content", content)
	}
	if !deliverAt.IsZero() {
		params.Set("scheduled_delivery_timestamp", strconv.FormatInt(deliverAt.Unix(), 10))
	}
	if len(params) == 0 {
		return nil
	}
	path := fmt.Sprintf("/scheduled_messages/%d", id)
	_, err := c.call(ctx, creds, http.MethodPatch, path, params, nil)
	return err
}

// DeleteScheduledMessage cancels a pending scheduled message.
func (c *Client) DeleteScheduledMessage(ctx context.Context, creds identity.Credentials, id int64) error {
	path := fmt.Sprintf("/scheduled_messages/%d", id)
	_, err := c.call(ctx, creds, http.MethodDelete, path, url.Values{}, nil)
	return err
}
