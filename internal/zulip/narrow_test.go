package zulip

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNarrowBuilderUserEntriesFirstInOrder(t *testing.T) {
	user := Narrow{
		{Operator: "stream", Operand: "ops"},
		{Operator: "is", Operand: "unread"},
	}
	n := NewNarrowBuilder(user).
		Stream("engineering"). // conflicts with user stream, dropped
		Topic("deploys").
		Sender("a@example.com").
		Build()

	require.Len(t, n, 4)
	assert.Equal(t, "stream", n[0].Operator)
	assert.Equal(t, "ops", n[0].Operand)
	assert.Equal(t, "is", n[1].Operator)
	assert.Equal(t, "topic", n[2].Operator)
	assert.Equal(t, "sender", n[3].Operator)
}

func TestNarrowBuilderDerivesWhenNoConflict(t *testing.T) {
	n := NewNarrowBuilder(nil).Stream("ops").Topic("alerts").Build()
	require.Len(t, n, 2)
	assert.Equal(t, Filter{Operator: "stream", Operand: "ops"}, n[0])
	assert.Equal(t, Filter{Operator: "topic", Operand: "alerts"}, n[1])
}

func TestNarrowBuilderTimeWindow(t *testing.T) {
	before := time.Now()
	n := NewNarrowBuilder(nil).LastDays(7).Build()
	require.Len(t, n, 1)
	assert.Equal(t, "search", n[0].Operator)

	operand := n[0].Operand.(string)
	require.True(t, strings.HasPrefix(operand, "after:"))
	ts, err := time.Parse(time.RFC3339, strings.TrimPrefix(operand, "after:"))
	require.NoError(t, err)
	// Resolved against the wall clock at build time, 7 days back.
	expected := before.Add(-7 * 24 * time.Hour)
	assert.WithinDuration(t, expected, ts, time.Minute)
}

func TestNarrowJSONOmitsNegatedFalse(t *testing.T) {
	n := Narrow{
		{Operator: "stream", Operand: "ops"},
		{Operator: "sender", Operand: "a@example.com", Negated: true},
	}
	s, err := n.JSON()
	require.NoError(t, err)
	assert.NotContains(t, s, `"operator":"stream","operand":"ops","negated"`)
	assert.Contains(t, s, `"negated":true`)
}

func TestEmptyNarrowJSON(t *testing.T) {
	s, err := Narrow(nil).JSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}
