package tools

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// AdvancedSearch fuses search across messages, users, streams, and topics
// with ranking and optional aggregations.
func (t *Toolset) AdvancedSearch(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySearch)
	if err != nil {
		return nil, err
	}
	query, err := args.RequiredString("query")
	if err != nil {
		return nil, err
	}
	scopes, err := args.StringSlice("scopes")
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{"messages"}
	}
	for _, s := range scopes {
		if !containsString([]string{"messages", "users", "streams", "topics"}, s) {
			return nil, validate.Invalid("scopes", "unknown scope "+s,
				"allowed: messages, users, streams, topics")
		}
	}
	ranking, err := args.Enum("ranking", "relevance", "relevance", "newest", "oldest")
	if err != nil {
		return nil, err
	}
	limit, err := args.Int("limit", 50)
	if err != nil {
		return nil, err
	}
	aggregate, err := args.Enum("aggregate", "", "sender", "topic", "day")
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"query": query}

	if containsString(scopes, "messages") {
		narrow, err := validate.NarrowFromArgs(args, "")
		if err != nil {
			return nil, err
		}
		narrow = append(narrow, zulip.Filter{Operator: "search", Operand: query})
		result, err := t.client.GetMessages(ctx, creds, zulip.SearchOptions{
			Anchor:    "newest",
			NumBefore: limit,
			Narrow:    narrow,
		})
		if err != nil {
			return nil, err
		}
		ranked := rankMessages(result.Messages, query, ranking)
		payload["messages"] = summarizeMessages(ranked)
		if aggregate != "" {
			payload["aggregations"] = aggregateMessages(ranked, aggregate)
		}
	}

	if containsString(scopes, "users") {
		users, err := t.client.GetUsers(ctx, creds)
		if err != nil {
			return nil, err
		}
		matches := make([]map[string]any, 0)
		needle := strings.ToLower(query)
		for _, u := range users {
			if strings.Contains(strings.ToLower(u.FullName), needle) ||
				strings.Contains(strings.ToLower(u.Email), needle) {
				matches = append(matches, projectUser(u))
			}
		}
		payload["users"] = matches
	}

	if containsString(scopes, "streams") || containsString(scopes, "topics") {
		streams, err := t.client.GetStreams(ctx, creds, zulip.StreamListOptions{
			IncludePublic: true, IncludeSubscribed: true,
		})
		if err != nil {
			return nil, err
		}
		needle := strings.ToLower(query)
		if containsString(scopes, "streams") {
			matches := make([]map[string]any, 0)
			for _, s := range streams {
				if strings.Contains(strings.ToLower(s.Name), needle) ||
					strings.Contains(strings.ToLower(s.Description), needle) {
					matches = append(matches, map[string]any{
						"stream_id": s.StreamID,
						"name":      s.Name,
					})
				}
			}
			payload["streams"] = matches
		}
		if containsString(scopes, "topics") {
			matches := make([]map[string]any, 0)
			for _, s := range streams {
				topics, err := t.client.GetTopics(ctx, creds, s.StreamID)
				if err != nil {
					continue
				}
				for _, topic := range topics {
					if strings.Contains(strings.ToLower(topic.Name), needle) {
						matches = append(matches, map[string]any{
							"stream": s.Name,
							"topic":  topic.Name,
						})
					}
				}
			}
			payload["topics"] = matches
		}
	}
	return success(payload), nil
}

// rankMessages orders messages by the requested ranking. Relevance is text
// match score weighted by recency.
func rankMessages(messages []zulip.Message, query, ranking string) []zulip.Message {
	out := make([]zulip.Message, len(messages))
	copy(out, messages)
	switch ranking {
	case "newest":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	case "oldest":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	default:
		now := time.Now().Unix()
		score := func(m zulip.Message) float64 {
			text := strings.ToLower(m.Content)
			matches := float64(strings.Count(text, strings.ToLower(query)))
			ageDays := float64(now-m.Timestamp) / 86400
			recency := math.Exp(-ageDays / 30)
			return matches * recency
		}
		sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
	}
	return out
}

func aggregateMessages(messages []zulip.Message, by string) map[string]int {
	agg := make(map[string]int)
	for _, m := range messages {
		switch by {
		case "sender":
			agg[m.SenderFullName]++
		case "topic":
			agg[m.Subject]++
		case "day":
			agg[time.Unix(m.Timestamp, 0).UTC().Format("2006-01-02")]++
		}
	}
	return agg
}

// Analytics computes one analytic over a message window.
func (t *Toolset) Analytics(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySearch)
	if err != nil {
		return nil, err
	}
	kind, err := args.Enum("type", "",
		"activity", "sentiment", "topics", "participation")
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, validate.Missing("type")
	}
	groupBy, err := args.Enum("group_by", "", "user", "stream", "day", "hour")
	if err != nil {
		return nil, err
	}
	format, err := args.Enum("format", "summary", "summary", "detailed", "chart_data")
	if err != nil {
		return nil, err
	}
	lastDays, err := args.Int("last_days", 7)
	if err != nil {
		return nil, err
	}

	narrow, err := validate.NarrowFromArgs(args, "")
	if err != nil {
		return nil, err
	}
	b := zulip.NewNarrowBuilder(narrow).LastDays(lastDays)
	result, err := t.client.GetMessages(ctx, creds, zulip.SearchOptions{
		Anchor:    "newest",
		NumBefore: 1000,
		Narrow:    b.Build(),
	})
	if err != nil {
		return nil, err
	}
	messages := result.Messages

	payload := map[string]any{
		"type":          kind,
		"window_days":   lastDays,
		"message_count": len(messages),
		"format":        format,
	}

	switch kind {
	case "activity":
		payload["groups"] = groupCounts(messages, groupBy)
	case "sentiment":
		var total float64
		groups := map[string][]float64{}
		for _, m := range messages {
			s := sentimentScore(m.Content)
			total += s
			key := groupKey(m, groupBy)
			groups[key] = append(groups[key], s)
		}
		if len(messages) > 0 {
			payload["average"] = total / float64(len(messages))
		} else {
			payload["average"] = 0.0
		}
		if groupBy != "" {
			averaged := map[string]float64{}
			for k, scores := range groups {
				var sum float64
				for _, s := range scores {
					sum += s
				}
				averaged[k] = sum / float64(len(scores))
			}
			payload["groups"] = averaged
		}
	case "topics":
		counts := map[string]int{}
		for _, m := range messages {
			counts[m.Subject]++
		}
		payload["topics"] = counts
	case "participation":
		senders := map[string]int{}
		for _, m := range messages {
			senders[m.SenderFullName]++
		}
		payload["participants"] = len(senders)
		if format != "summary" {
			payload["by_sender"] = senders
		}
	}
	return success(payload), nil
}

func groupCounts(messages []zulip.Message, groupBy string) map[string]int {
	counts := map[string]int{}
	for _, m := range messages {
		counts[groupKey(m, groupBy)]++
	}
	return counts
}

func groupKey(m zulip.Message, groupBy string) string {
	switch groupBy {
	case "user":
		return m.SenderFullName
	case "stream":
		return m.StreamName()
	case "hour":
		return time.Unix(m.Timestamp, 0).UTC().Format("2006-01-02T15")
	default:
		return time.Unix(m.Timestamp, 0).UTC().Format("2006-01-02")
	}
}

// DailySummary reports per-stream activity over the trailing hours.
func (t *Toolset) DailySummary(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilySearch)
	if err != nil {
		return nil, err
	}
	hours, err := args.Int("hours", 24)
	if err != nil {
		return nil, err
	}
	if hours <= 0 || hours > 24*14 {
		return nil, validate.Invalid("hours", "must be between 1 and 336", "example: 24")
	}

	narrow := zulip.NewNarrowBuilder(nil).After(time.Now().Add(-time.Duration(hours) * time.Hour)).Build()
	result, err := t.client.GetMessages(ctx, creds, zulip.SearchOptions{
		Anchor:    "newest",
		NumBefore: 1000,
		Narrow:    narrow,
	})
	if err != nil {
		return nil, err
	}

	perStream := map[string]map[string]int{}
	for _, m := range result.Messages {
		stream := m.StreamName()
		if stream == "" {
			stream = "(direct messages)"
		}
		if perStream[stream] == nil {
			perStream[stream] = map[string]int{}
		}
		perStream[stream]["messages"]++
	}
	streams := make([]map[string]any, 0, len(perStream))
	for name, counts := range perStream {
		streams = append(streams, map[string]any{
			"stream":   name,
			"messages": counts["messages"],
		})
	}
	sort.Slice(streams, func(i, j int) bool {
		return streams[i]["messages"].(int) > streams[j]["messages"].(int)
	})
	return success(map[string]any{
		"hours":         hours,
		"message_count": len(result.Messages),
		"streams":       streams,
	}), nil
}
