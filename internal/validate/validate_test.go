package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

func TestNewArgsDropsNulls(t *testing.T) {
	a := NewArgs(map[string]any{
		"stream": "general",
		"topic":  nil,
		"sender": "null",
	})
	assert.True(t, a.Has("stream"))
	assert.False(t, a.Has("topic"))
	assert.False(t, a.Has("sender"))
}

func TestIntCoercionStringAndNumberAgree(t *testing.T) {
	fromNumber := NewArgs(map[string]any{"n": float64(25)})
	fromString := NewArgs(map[string]any{"n": "25"})

	a, err := fromNumber.Int("n", 0)
	require.NoError(t, err)
	b, err := fromString.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestIntRejectsNonNumericString(t *testing.T) {
	a := NewArgs(map[string]any{"n": "twenty"})
	_, err := a.Int("n", 0)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeInvalidParam, te.Code)
	assert.Contains(t, te.Message, `"n"`)
	require.NotEmpty(t, te.Suggestions)
	assert.Contains(t, te.Suggestions[0], "example")
}

func TestIntRejectsFraction(t *testing.T) {
	a := NewArgs(map[string]any{"n": 2.5})
	_, err := a.Int("n", 0)
	assert.Error(t, err)
}

func TestEnumEmitsAllowedSet(t *testing.T) {
	a := NewArgs(map[string]any{"anchor": "middle"})
	_, err := a.Enum("anchor", "newest", "newest", "oldest", "first_unread")
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Suggestions[0], "newest, oldest, first_unread")
}

func TestEnumFallbackWhenAbsent(t *testing.T) {
	a := NewArgs(map[string]any{})
	v, err := a.Enum("anchor", "newest", "newest", "oldest")
	require.NoError(t, err)
	assert.Equal(t, "newest", v)
}

func TestRequiredString(t *testing.T) {
	a := NewArgs(map[string]any{"content": "  "})
	_, err := a.RequiredString("content")
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeMissingParam, te.Code)
}

func TestInt64SliceCoercesElements(t *testing.T) {
	a := NewArgs(map[string]any{"ids": []any{float64(1), "2", float64(3)}})
	ids, err := a.Int64Slice("ids")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestNarrowFromArgsPrecedence(t *testing.T) {
	a := NewArgs(map[string]any{
		"narrow": []any{
			map[string]any{"operator": "stream", "operand": "ops"},
		},
		"stream": "engineering",
		"topic":  "deploys",
	})
	n, err := NarrowFromArgs(a, "")
	require.NoError(t, err)
	// The explicit narrow's stream wins; the shortcut topic still derives.
	require.Len(t, n, 2)
	assert.Equal(t, zulip.Filter{Operator: "stream", Operand: "ops"}, n[0])
	assert.Equal(t, "topic", n[1].Operator)
}

func TestNarrowFromArgsRejectsMalformedEntries(t *testing.T) {
	a := NewArgs(map[string]any{
		"narrow": []any{map[string]any{"operand": "x"}},
	})
	_, err := NarrowFromArgs(a, "")
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "operator")
}
