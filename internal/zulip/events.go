package zulip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/identity"
)

// maxQueueLifespan caps the requested event queue lifetime.
const maxQueueLifespan = 300 * time.Second

// RegisterQueue creates an event queue for the given event types, optionally
// narrowed. The backend expires idle queues; callers must handle
// IsQueueExpired on subsequent polls.
func (c *Client) RegisterQueue(ctx context.Context, creds identity.Credentials, eventTypes []string, narrow Narrow) (*EventQueue, error) {
	encodedTypes, err := json.Marshal(eventTypes)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("event_types", string(encodedTypes))
	if len(narrow) > 0 {
		// The register endpoint takes narrows as [operator, operand] pairs.
		pairs := make([][2]string, 0, len(narrow))
		for _, f := range narrow {
			operand, ok := f.Operand.(string)
			if !ok {
				continue
			}
			pairs = append(pairs, [2]string{f.Operator, operand})
		}
		encoded, err := json.Marshal(pairs)
		if err != nil {
			return nil, err
		}
		params.Set("narrow", string(encoded))
	}
	params.Set("queue_lifespan_secs", strconv.Itoa(int(maxQueueLifespan/time.Second)))

	body, err := c.call(ctx, creds, http.MethodPost, "/register", params, nil)
	if err != nil {
		return nil, err
	}
	var queue EventQueue
	if err := decode(body, "/register", &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// GetEvents long-polls a queue for events past lastEventID. The poll is
// bounded by pollTimeout rather than the client default; retry is disabled
// because the caller owns queue recovery.
func (c *Client) GetEvents(ctx context.Context, creds identity.Credentials, queueID string, lastEventID int64, pollTimeout time.Duration) ([]Event, error) {
	if pollTimeout <= 0 || pollTimeout > 55*time.Second {
		pollTimeout = 55 * time.Second
	}
	params := url.Values{}
	params.Set("queue_id", queueID)
	params.Set("last_event_id", strconv.FormatInt(lastEventID, 10))

	body, err := c.call(ctx, creds, http.MethodGet, "/events", params, &callOpts{
		timeout: pollTimeout + 5*time.Second,
		noRetry: true,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Events []Event `json:"events"`
	}
	if err := decode(body, "/events", &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// DeregisterQueue deletes an event queue.
func (c *Client) DeregisterQueue(ctx context.Context, creds identity.Credentials, queueID string) error {
	params := url.Values{}
	params.Set("queue_id", queueID)
	_, err := c.call(ctx, creds, http.MethodDelete, "/events", params, nil)
	return err
}
