package zulip

import "encoding/json"

// Message is one chat message as returned by the backend.
type Message struct {
	ID             int64           `json:"id"`
	SenderID       int64           `json:"sender_id"`
	SenderEmail    string          `json:"sender_email"`
	SenderFullName string          `json:"sender_full_name"`
	Type           string          `json:"type"` // "stream" or "private"
	StreamID       int64           `json:"stream_id,omitempty"`
	DisplayRecip   json.RawMessage `json:"display_recipient,omitempty"`
	Subject        string          `json:"subject"` // topic
	Content        string          `json:"content"`
	Timestamp      int64           `json:"timestamp"`
	Reactions      []Reaction      `json:"reactions,omitempty"`
	Flags          []string        `json:"flags,omitempty"`
	LastEditTime   int64           `json:"last_edit_timestamp,omitempty"`
}

// StreamName decodes the display recipient for stream messages.
func (m Message) StreamName() string {
	var name string
	if err := json.Unmarshal(m.DisplayRecip, &name); err == nil {
		return name
	}
	return ""
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	EmojiName string `json:"emoji_name"`
	EmojiCode string `json:"emoji_code,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
}

// MessageEdit is one entry of a message's edit history.
type MessageEdit struct {
	PrevContent string `json:"prev_content,omitempty"`
	PrevTopic   string `json:"prev_topic,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	UserID      int64  `json:"user_id"`
}

// Stream is a channel in the organization.
type Stream struct {
	StreamID    int64  `json:"stream_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	InviteOnly  bool   `json:"invite_only"`
	IsArchived  bool   `json:"is_archived,omitempty"`
	Subscribed  bool   `json:"-"`
}

// Topic is one topic within a stream.
type Topic struct {
	Name  string `json:"name"`
	MaxID int64  `json:"max_id"`
}

// User is an organization member or bot.
type User struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsActive bool   `json:"is_active"`
	IsBot    bool   `json:"is_bot"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Presence is a user's aggregated presence.
type Presence struct {
	Status    string `json:"status"` // active, idle, offline
	Timestamp int64  `json:"timestamp"`
}

// UserGroup is a named member set.
type UserGroup struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Members     []int64 `json:"members"`
}

// EventQueue is a registered server-side long-poll queue.
type EventQueue struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

// Event is one entry from an event queue.
type Event struct {
	ID      int64    `json:"id"`
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	Op      string   `json:"op,omitempty"`
}

// ScheduledMessage is a server-side scheduled delivery.
type ScheduledMessage struct {
	ID                   int64  `json:"scheduled_message_id"`
	Type                 string `json:"type"`
	To                   json.RawMessage `json:"to"`
	Topic                string `json:"topic,omitempty"`
	Content              string `json:"content"`
	ScheduledDeliveryUTC int64  `json:"scheduled_delivery_timestamp"`
}

// Upload is the result of a file upload.
type Upload struct {
	URI string `json:"uri"`
}

// SendResult is the reply to a message send.
type SendResult struct {
	MessageID int64 `json:"id"`
}
