package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

func TestEvalCondition(t *testing.T) {
	ctx := map[string]any{
		"response": "yes please",
		"search_results": map[string]any{
			"count": float64(3),
		},
		"flag": true,
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`response == "yes please"`, true},
		{`response != "no"`, true},
		{`response contains "yes"`, true},
		{`search_results.count > 2`, true},
		{`search_results.count >= 3`, true},
		{`search_results.count < 3`, false},
		{`flag && search_results.count == 3`, true},
		{`flag || missing`, true},
		{`!flag`, false},
		{`missing.deep.path == "x"`, false},
		{`(search_results.count > 5) || (response contains "please")`, true},
	}
	for _, tc := range cases {
		got, err := EvalCondition(tc.expr, ctx)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalConditionRejectsGarbage(t *testing.T) {
	_, err := EvalCondition(`response ==`, map[string]any{})
	assert.Error(t, err)
	_, err = EvalCondition(`(a == 1`, map[string]any{})
	assert.Error(t, err)
}

func newTestExecutor() *Executor {
	e := NewExecutor(logger.Default())
	e.Register("set", func(ctx context.Context, params, chainCtx map[string]any) (map[string]any, error) {
		return params, nil
	})
	e.Register("fail", func(ctx context.Context, params, chainCtx map[string]any) (map[string]any, error) {
		return nil, errors.New("step exploded")
	})
	return e
}

func TestExecuteMutatesSharedContext(t *testing.T) {
	e := newTestExecutor()
	summary := e.Execute(context.Background(), []Command{
		{Type: "set", Params: map[string]any{"response": "yes"}},
		{Type: "set", Params: map[string]any{"echo": "got {{response}}"}},
	})
	assert.False(t, summary.Halted)
	assert.Equal(t, 2, summary.StepsCompleted)
	assert.Equal(t, "got yes", summary.Context["echo"])
}

func TestExecuteHaltsOnError(t *testing.T) {
	e := newTestExecutor()
	summary := e.Execute(context.Background(), []Command{
		{Type: "set", Params: map[string]any{"a": "1"}},
		{Type: "fail"},
		{Type: "set", Params: map[string]any{"b": "2"}},
	})
	assert.True(t, summary.Halted)
	assert.Equal(t, 1, summary.StepsCompleted)
	assert.Contains(t, summary.LastError, "step exploded")
	assert.NotContains(t, summary.Context, "b")
}

func TestConditionalBranches(t *testing.T) {
	e := newTestExecutor()
	summary := e.Execute(context.Background(), []Command{
		{Type: "set", Params: map[string]any{"response": "approve"}},
		{
			Type:      "conditional_action",
			Condition: `response contains "approve"`,
			IfTrue:    &Command{Type: "set", Params: map[string]any{"taken": "true_branch"}},
			IfFalse:   &Command{Type: "set", Params: map[string]any{"taken": "false_branch"}},
		},
	})
	require.False(t, summary.Halted)
	assert.Equal(t, "true_branch", summary.Context["taken"])
}

func TestConditionalMissingBranchIsNoop(t *testing.T) {
	e := newTestExecutor()
	summary := e.Execute(context.Background(), []Command{
		{
			Type:      "conditional_action",
			Condition: `missing == "x"`,
			IfTrue:    &Command{Type: "set", Params: map[string]any{"taken": "yes"}},
		},
	})
	assert.False(t, summary.Halted)
	assert.NotContains(t, summary.Context, "taken")
}

func TestUnknownCommandType(t *testing.T) {
	e := newTestExecutor()
	summary := e.Execute(context.Background(), []Command{{Type: "rm_rf"}})
	assert.True(t, summary.Halted)
	assert.Contains(t, summary.LastError, "unknown command type")
}

func TestParseYAML(t *testing.T) {
	doc := `
commands:
  - type: send_message
    params:
      stream: general
      content: hello
  - type: conditional_action
    condition: response contains "yes"
    if_true:
      type: send_message
      params:
        content: confirmed
`
	commands, err := ParseYAML(doc)
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, "send_message", commands[0].Type)
	assert.Equal(t, "general", commands[0].Params["stream"])
	require.NotNil(t, commands[1].IfTrue)
	assert.Equal(t, "confirmed", commands[1].IfTrue.Params["content"])
}

func TestParseYAMLTopLevelSequence(t *testing.T) {
	doc := `
- type: search_messages
  params:
    stream: ops
`
	commands, err := ParseYAML(doc)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "search_messages", commands[0].Type)
}

func TestParseYAMLEmpty(t *testing.T) {
	_, err := ParseYAML("{}")
	assert.Error(t, err)
}
