// Package chain executes ordered command lists: small scripted workflows of
// send/search/wait steps with a restricted conditional. A shared context map
// carries results between steps.
package chain

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

// Command is one step descriptor.
type Command struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params" yaml:"params"`
	// Condition and the branches are set for conditional_action steps.
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	IfTrue    *Command `json:"if_true,omitempty" yaml:"if_true,omitempty"`
	IfFalse   *Command `json:"if_false,omitempty" yaml:"if_false,omitempty"`
}

// StepFunc executes one non-conditional step. The returned map is merged
// into the chain context.
type StepFunc func(ctx context.Context, params map[string]any, chainCtx map[string]any) (map[string]any, error)

// Summary reports how a chain run ended.
type Summary struct {
	StepsCompleted int            `json:"steps_completed"`
	StepsTotal     int            `json:"steps_total"`
	Halted         bool           `json:"halted"`
	LastError      string         `json:"last_error,omitempty"`
	Context        map[string]any `json:"context"`
}

// Executor runs command chains against registered step implementations.
type Executor struct {
	steps  map[string]StepFunc
	logger *logger.Logger
}

// NewExecutor builds an executor; steps are registered by the tool layer.
func NewExecutor(log *logger.Logger) *Executor {
	return &Executor{steps: make(map[string]StepFunc), logger: log}
}

// Register binds a command type to its implementation.
func (e *Executor) Register(commandType string, fn StepFunc) {
	e.steps[commandType] = fn
}

// ParseYAML decodes a YAML document holding a command list, either as a
// top-level sequence or under a "commands" key.
func ParseYAML(doc string) ([]Command, error) {
	var direct []Command
	if err := yaml.Unmarshal([]byte(doc), &direct); err == nil && len(direct) > 0 {
		return direct, nil
	}
	var wrapped struct {
		Commands []Command `yaml:"commands"`
	}
	if err := yaml.Unmarshal([]byte(doc), &wrapped); err != nil {
		return nil, fmt.Errorf("parsing chain yaml: %w", err)
	}
	if len(wrapped.Commands) == 0 {
		return nil, fmt.Errorf("chain yaml contains no commands")
	}
	return wrapped.Commands, nil
}

// Execute runs the commands in order, halting on the first error and
// returning the summary either way.
func (e *Executor) Execute(ctx context.Context, commands []Command) Summary {
	chainCtx := make(map[string]any)
	summary := Summary{StepsTotal: len(commands), Context: chainCtx}

	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			summary.Halted = true
			summary.LastError = err.Error()
			return summary
		}
		if err := e.runCommand(ctx, cmd, chainCtx); err != nil {
			e.logger.Warn("chain halted",
				zap.Int("step", i+1),
				zap.String("type", cmd.Type),
				zap.Error(err))
			summary.Halted = true
			summary.LastError = err.Error()
			return summary
		}
		summary.StepsCompleted = i + 1
	}
	return summary
}

func (e *Executor) runCommand(ctx context.Context, cmd Command, chainCtx map[string]any) error {
	if cmd.Type == "conditional_action" {
		return e.runConditional(ctx, cmd, chainCtx)
	}
	fn, ok := e.steps[cmd.Type]
	if !ok {
		return fmt.Errorf("unknown command type %q (supported: %s)",
			cmd.Type, strings.Join(e.supported(), ", "))
	}
	result, err := fn(ctx, interpolate(cmd.Params, chainCtx), chainCtx)
	if err != nil {
		return err
	}
	for k, v := range result {
		chainCtx[k] = v
	}
	return nil
}

func (e *Executor) runConditional(ctx context.Context, cmd Command, chainCtx map[string]any) error {
	if cmd.Condition == "" {
		return fmt.Errorf("conditional_action requires a condition")
	}
	verdict, err := EvalCondition(cmd.Condition, chainCtx)
	if err != nil {
		return err
	}
	branch := cmd.IfFalse
	if verdict {
		branch = cmd.IfTrue
	}
	if branch == nil {
		return nil
	}
	return e.runCommand(ctx, *branch, chainCtx)
}

func (e *Executor) supported() []string {
	out := make([]string, 0, len(e.steps)+1)
	for k := range e.steps {
		out = append(out, k)
	}
	out = append(out, "conditional_action")
	return out
}

// interpolate substitutes {{key.path}} placeholders in string parameters
// with values from the chain context.
func interpolate(params map[string]any, chainCtx map[string]any) map[string]any {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = interpolateString(s, chainCtx)
		} else {
			out[k] = v
		}
	}
	return out
}

func interpolateString(s string, chainCtx map[string]any) string {
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return s
		}
		end += start
		path := strings.TrimSpace(s[start+2 : end])
		s = s[:start] + asString(lookup(chainCtx, path)) + s[end+2:]
	}
}
