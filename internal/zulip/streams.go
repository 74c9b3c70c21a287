package zulip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/zulipmcp/zulipmcp/internal/identity"
)

// StreamListOptions filters the stream listing.
type StreamListOptions struct {
	IncludePublic     bool
	IncludeSubscribed bool
	IncludeArchived   bool
}

// GetStreams lists streams visible to the identity. Results are cached per
// identity and flag combination, in memory and (when the client has a
// persist backend) durably, so listings stay warm across restarts.
func (c *Client) GetStreams(ctx context.Context, creds identity.Credentials, opts StreamListOptions) ([]Stream, error) {
	cacheKey := fmt.Sprintf("streams:%s:%t:%t:%t",
		creds.Kind, opts.IncludePublic, opts.IncludeSubscribed, opts.IncludeArchived)
	if v, ok := c.cache.get(cacheKey); ok {
		c.metrics.CacheAccess(ctx, "streams", true)
		return v.([]Stream), nil
	}
	var warm []Stream
	if c.persistedGet(ctx, "streams", cacheKey, streamCacheTTL, &warm) {
		c.metrics.CacheAccess(ctx, "streams", true)
		c.cache.put(cacheKey, warm, streamCacheTTL)
		return warm, nil
	}
	c.metrics.CacheAccess(ctx, "streams", false)

	params := url.Values{}
	params.Set("include_public", strconv.FormatBool(opts.IncludePublic))
	params.Set("include_subscribed", strconv.FormatBool(opts.IncludeSubscribed))
	if opts.IncludeArchived {
		params.Set("exclude_archived", "false")
	}
	body, err := c.call(ctx, creds, http.MethodGet, "/streams", params, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Streams []Stream `json:"streams"`
	}
	if err := decode(body, "/streams", &result); err != nil {
		return nil, err
	}
	c.cache.put(cacheKey, result.Streams, streamCacheTTL)
	c.persistedPut(ctx, "streams", cacheKey, result.Streams)
	return result.Streams, nil
}

// GetStreamID resolves a stream name to its id.
func (c *Client) GetStreamID(ctx context.Context, creds identity.Credentials, name string) (int64, error) {
	params := url.Values{}
	params.Set("stream", name)
	body, err := c.call(ctx, creds, http.MethodGet, "/get_stream_id", params, nil)
	if err != nil {
		return 0, err
	}
	var result struct {
		StreamID int64 `json:"stream_id"`
	}
	if err := decode(body, "/get_stream_id", &result); err != nil {
		return 0, err
	}
	return result.StreamID, nil
}

// GetStream fetches one stream by id.
func (c *Client) GetStream(ctx context.Context, creds identity.Credentials, streamID int64) (*Stream, error) {
	path := fmt.Sprintf("/streams/%d", streamID)
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Stream Stream `json:"stream"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return &result.Stream, nil
}

// GetTopics lists recent topics in a stream.
func (c *Client) GetTopics(ctx context.Context, creds identity.Credentials, streamID int64) ([]Topic, error) {
	path := fmt.Sprintf("/users/me/%d/topics", streamID)
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Topics []Topic `json:"topics"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return result.Topics, nil
}

// GetSubscribers lists subscriber user ids of a stream.
func (c *Client) GetSubscribers(ctx context.Context, creds identity.Credentials, streamID int64) ([]int64, error) {
	path := fmt.Sprintf("/streams/%d/members", streamID)
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Subscribers []int64 `json:"subscribers"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return result.Subscribers, nil
}

// Subscribe subscribes the identity to the named streams, creating missing
// ones. Announce is a stream-creation courtesy post.
func (c *Client) Subscribe(ctx context.Context, creds identity.Credentials, streams []string, announce bool) error {
	subs := make([]map[string]string, len(streams))
	for i, s := range streams {
		subs[i] = map[string]string{"name": s}
	}
	encoded, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("subscriptions", string(encoded))
	params.Set("announce", strconv.FormatBool(announce))
	_, err = c.call(ctx, creds, http.MethodPost, "/users/me/subscriptions", params, nil)
	if err == nil {
		c.invalidateListings(ctx, "streams")
	}
	return err
}

// Unsubscribe removes the identity from the named streams.
func (c *Client) Unsubscribe(ctx context.Context, creds identity.Credentials, streams []string) error {
	encoded, err := json.Marshal(streams)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("subscriptions", string(encoded))
	_, err = c.call(ctx, creds, http.MethodDelete, "/users/me/subscriptions", params, nil)
	if err == nil {
		c.invalidateListings(ctx, "streams")
	}
	return err
}

// CreateStream ensures a stream exists by subscribing with the given
// description. Idempotent: subscribing to an existing stream succeeds.
func (c *Client) CreateStream(ctx context.Context, creds identity.Credentials, name, description string, inviteOnly bool) error {
	subs, err := json.Marshal([]map[string]string{{"name": name, "description": description}})
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("subscriptions", string(subs))
	params.Set("invite_only", strconv.FormatBool(inviteOnly))
	_, err = c.call(ctx, creds, http.MethodPost, "/users/me/subscriptions", params, nil)
	if err == nil {
		c.invalidateListings(ctx, "streams")
	}
	return err
}

// UpdateStream patches stream properties. Only non-zero fields are sent.
func (c *Client) UpdateStream(ctx context.Context, creds identity.Credentials, streamID int64, newName, description string) error {
	params := url.Values{}
	if newName != "" {
		params.Set("new_name", newName)
	}
	if description != "" {
		params.Set("description", description)
	}
	if len(params) == 0 {
		return nil
	}
	path := fmt.Sprintf("/streams/%d", streamID)
	_, err := c.call(ctx, creds, http.MethodPatch, path, params, nil)
	if err == nil {
		c.invalidateListings(ctx, "streams")
	}
	return err
}

// DeleteStream archives a stream. Admin capability.
func (c *Client) DeleteStream(ctx context.Context, creds identity.Credentials, streamID int64) error {
	path := fmt.Sprintf("/streams/%d", streamID)
	_, err := c.call(ctx, creds, http.MethodDelete, path, url.Values{}, nil)
	if err == nil {
		c.invalidateListings(ctx, "streams")
	}
	return err
}

// DeleteTopic removes every message in a topic. Admin capability.
func (c *Client) DeleteTopic(ctx context.Context, creds identity.Credentials, streamID int64, topic string) error {
	params := url.Values{}
	params.Set("topic_name", topic)
	path := fmt.Sprintf("/streams/%d/delete_topic", streamID)
	_, err := c.call(ctx, creds, http.MethodPost, path, params, nil)
	return err
}

// MuteTopic mutes or unmutes a topic for the calling identity.
func (c *Client) MuteTopic(ctx context.Context, creds identity.Credentials, stream, topic string, mute bool) error {
	op := "add"
	if !mute {
		op = "remove"
	}
	params := url.Values{}
	params.Set("stream", stream)
	params.Set("topic", topic)
	params.Set("op", op)
	_, err := c.call(ctx, creds, http.MethodPatch, "/users/me/subscriptions/muted_topics", params, nil)
	return err
}

// UpdateSubscriptionSettings sets per-user subscription properties such as
// color or notification toggles. Never touches shared stream state.
func (c *Client) UpdateSubscriptionSettings(ctx context.Context, creds identity.Credentials, streamID int64, property string, value any) error {
	data := []map[string]any{{
		"stream_id": streamID,
		"property":  property,
		"value":     value,
	}}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("subscription_data", string(encoded))
	_, err = c.call(ctx, creds, http.MethodPost, "/users/me/subscriptions/properties", params, nil)
	return err
}

// ValidSubscriptionProperties lists the per-user settings accepted by
// UpdateSubscriptionSettings.
func ValidSubscriptionProperties() []string {
	return []string{
		"color", "is_muted", "pin_to_top",
		"desktop_notifications", "audible_notifications",
		"push_notifications", "email_notifications",
	}
}

// NormalizeStreamName trims whitespace the backend would reject.
func NormalizeStreamName(name string) string {
	return strings.TrimSpace(name)
}
