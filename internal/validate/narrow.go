package validate

import (
	"fmt"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// NarrowFromArgs builds the message filter from a tool call, applying the
// documented precedence: explicit narrow entries win over the simple
// stream/topic/sender/time-window shortcuts.
func NarrowFromArgs(a Args, senderEmail string) (zulip.Narrow, error) {
	user, err := explicitNarrow(a)
	if err != nil {
		return nil, err
	}

	stream, err := a.String("stream", "")
	if err != nil {
		return nil, err
	}
	topic, err := a.String("topic", "")
	if err != nil {
		return nil, err
	}
	query, err := a.String("query", "")
	if err != nil {
		return nil, err
	}
	lastDays, err := a.Int("last_days", 0)
	if err != nil {
		return nil, err
	}
	lastHours, err := a.Int("last_hours", 0)
	if err != nil {
		return nil, err
	}

	b := zulip.NewNarrowBuilder(user).
		Stream(stream).
		Topic(topic).
		Sender(senderEmail).
		Text(query)
	if lastDays > 0 {
		b.LastDays(lastDays)
	}
	if lastHours > 0 {
		b.After(time.Now().Add(-time.Duration(lastHours) * time.Hour))
	}
	return b.Build(), nil
}

// explicitNarrow decodes a user-supplied narrow list of
// {operator, operand, negated?} objects.
func explicitNarrow(a Args) (zulip.Narrow, error) {
	v, ok := a["narrow"]
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, Invalid("narrow",
			fmt.Sprintf("expected an array of filter objects, got %T", v),
			`example: [{"operator":"stream","operand":"general"}]`)
	}
	out := make(zulip.Narrow, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, Invalid("narrow", fmt.Sprintf("entry %d is not an object", i),
				`example: {"operator":"stream","operand":"general"}`)
		}
		operator, _ := obj["operator"].(string)
		if operator == "" {
			return nil, Invalid("narrow", fmt.Sprintf("entry %d is missing operator", i))
		}
		operand, present := obj["operand"]
		if !present {
			return nil, Invalid("narrow", fmt.Sprintf("entry %d is missing operand", i))
		}
		negated, _ := obj["negated"].(bool)
		out = append(out, zulip.Filter{Operator: operator, Operand: operand, Negated: negated})
	}
	return out, nil
}
