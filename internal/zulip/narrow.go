package zulip

import (
	"encoding/json"
	"fmt"
	"time"
)

// Filter is one narrow triple. Negated is omitted from the wire form when
// false, matching what the backend expects.
type Filter struct {
	Operator string `json:"operator"`
	Operand  any    `json:"operand"`
	Negated  bool   `json:"negated,omitempty"`
}

// Narrow is an ordered filter list.
type Narrow []Filter

// JSON renders the narrow in the backend's wire form.
func (n Narrow) JSON() (string, error) {
	if len(n) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encoding narrow: %w", err)
	}
	return string(b), nil
}

// has reports whether the narrow already constrains the operator.
func (n Narrow) has(operator string) bool {
	for _, f := range n {
		if f.Operator == operator {
			return true
		}
	}
	return false
}

// NarrowBuilder accumulates filters from simple parameters and user-supplied
// narrow lists. User entries keep their order and win over derived entries
// on operator conflict.
type NarrowBuilder struct {
	user    Narrow
	derived Narrow
}

// NewNarrowBuilder starts from the user-supplied narrow list, which may be
// nil.
func NewNarrowBuilder(user Narrow) *NarrowBuilder {
	return &NarrowBuilder{user: user}
}

// Stream constrains to a stream by name unless the user narrow already does.
func (b *NarrowBuilder) Stream(name string) *NarrowBuilder {
	if name != "" {
		b.derive(Filter{Operator: "stream", Operand: name})
	}
	return b
}

// Topic constrains to a topic.
func (b *NarrowBuilder) Topic(topic string) *NarrowBuilder {
	if topic != "" {
		b.derive(Filter{Operator: "topic", Operand: topic})
	}
	return b
}

// Sender constrains to a sender email. The caller resolves fuzzy
// identifiers to an email before building.
func (b *NarrowBuilder) Sender(email string) *NarrowBuilder {
	if email != "" {
		b.derive(Filter{Operator: "sender", Operand: email})
	}
	return b
}

// Text adds a full-text search operand.
func (b *NarrowBuilder) Text(query string) *NarrowBuilder {
	if query != "" {
		b.derived = append(b.derived, Filter{Operator: "search", Operand: query})
	}
	return b
}

// After constrains to messages at or after t. The backend has no native
// time operator, so this rides on a search operand. Resolved at call time.
func (b *NarrowBuilder) After(t time.Time) *NarrowBuilder {
	if !t.IsZero() {
		b.derived = append(b.derived, Filter{
			Operator: "search",
			Operand:  "after:" + t.UTC().Format(time.RFC3339),
		})
	}
	return b
}

// Before constrains to messages at or before t.
func (b *NarrowBuilder) Before(t time.Time) *NarrowBuilder {
	if !t.IsZero() {
		b.derived = append(b.derived, Filter{
			Operator: "search",
			Operand:  "before:" + t.UTC().Format(time.RFC3339),
		})
	}
	return b
}

// LastDays constrains to the trailing n days, resolved against the wall
// clock now, not at validation time.
func (b *NarrowBuilder) LastDays(n int) *NarrowBuilder {
	if n > 0 {
		b.After(time.Now().Add(-time.Duration(n) * 24 * time.Hour))
	}
	return b
}

// derive queues a derived filter unless the user narrow already constrains
// the same operator.
func (b *NarrowBuilder) derive(f Filter) {
	if b.user.has(f.Operator) {
		return
	}
	b.derived = append(b.derived, f)
}

// Build returns user entries in their original order followed by the
// non-conflicting derived entries.
func (b *NarrowBuilder) Build() Narrow {
	out := make(Narrow, 0, len(b.user)+len(b.derived))
	out = append(out, b.user...)
	out = append(out, b.derived...)
	return out
}
