// Package validate coerces and checks tool-call arguments before they reach
// handlers, and defines the structured error shape every tool returns.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Recovery points the caller at another tool that can unblock them.
type Recovery struct {
	Tool string `json:"tool"`
	Hint string `json:"hint,omitempty"`
}

// ToolError is the structured error payload surfaced to MCP clients.
type ToolError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
	Recovery    *Recovery `json:"recovery,omitempty"`
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Error codes shared across tools.
const (
	CodeInvalidParam     = "invalid_parameter"
	CodeMissingParam     = "missing_parameter"
	CodeMutuallyExclusive = "mutually_exclusive"
	CodeCapabilityDenied = "capability_denied"
	CodeNotFound         = "not_found"
	CodeAmbiguous        = "ambiguous"
	CodeRateLimited      = "rate_limited"
	CodeTransient        = "transient"
	CodeAuth             = "auth_failed"
	CodeInternal         = "internal"
	CodeUnimplemented    = "capability_unimplemented"
)

// Invalid builds a parameter validation error.
func Invalid(param, message string, suggestions ...string) *ToolError {
	return &ToolError{
		Code:        CodeInvalidParam,
		Message:     fmt.Sprintf("parameter %q: %s", param, message),
		Suggestions: suggestions,
	}
}

// Missing builds a required-parameter error.
func Missing(param string) *ToolError {
	return &ToolError{
		Code:    CodeMissingParam,
		Message: fmt.Sprintf("parameter %q is required", param),
	}
}

// Args is one tool call's argument map after null dropping.
type Args map[string]any

// NewArgs copies the raw arguments, dropping explicit nulls so optional
// fields behave identically whether omitted or nulled by the client.
func NewArgs(raw map[string]any) Args {
	out := make(Args, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && (s == "null" || s == "None") {
			continue
		}
		out[k] = v
	}
	return out
}

// Has reports whether the key survived null dropping.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String returns a string argument, or fallback when absent.
func (a Args) String(key, fallback string) (string, error) {
	v, ok := a[key]
	if !ok {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", Invalid(key, fmt.Sprintf("expected a string, got %T", v), `example: "general"`)
	}
	return s, nil
}

// RequiredString returns a non-empty string argument.
func (a Args) RequiredString(key string) (string, error) {
	if !a.Has(key) {
		return "", Missing(key)
	}
	s, err := a.String(key, "")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", Missing(key)
	}
	return s, nil
}

// Int coerces an integer argument from int, float64, or a numeric string.
// The string "7" and the number 7 behave identically.
func (a Args) Int(key string, fallback int) (int, error) {
	v, ok := a[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, Invalid(key, fmt.Sprintf("expected an integer, got %v", n), "example: 25")
		}
		return int(n), nil
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, Invalid(key, fmt.Sprintf("expected an integer, got %q", n.String()), "example: 25")
		}
		return int(parsed), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, Invalid(key, fmt.Sprintf("expected an integer, got %q", n), "example: 25")
		}
		return parsed, nil
	default:
		return 0, Invalid(key, fmt.Sprintf("expected an integer, got %T", v), "example: 25")
	}
}

// Int64 coerces like Int but for id-sized values.
func (a Args) Int64(key string, fallback int64) (int64, error) {
	v, ok := a[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, Invalid(key, fmt.Sprintf("expected an integer, got %v", n), "example: 123456")
		}
		return int64(n), nil
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, Invalid(key, fmt.Sprintf("expected an integer, got %q", n.String()), "example: 123456")
		}
		return parsed, nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, Invalid(key, fmt.Sprintf("expected an integer, got %q", n), "example: 123456")
		}
		return parsed, nil
	default:
		return 0, Invalid(key, fmt.Sprintf("expected an integer, got %T", v), "example: 123456")
	}
}

// Float coerces a float argument from numbers or numeric strings.
func (a Args) Float(key string, fallback float64) (float64, error) {
	v, ok := a[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, Invalid(key, fmt.Sprintf("expected a number, got %q", n.String()), "example: 2.5")
		}
		return parsed, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, Invalid(key, fmt.Sprintf("expected a number, got %q", n), "example: 2.5")
		}
		return parsed, nil
	default:
		return 0, Invalid(key, fmt.Sprintf("expected a number, got %T", v), "example: 2.5")
	}
}

// Bool returns a boolean argument, accepting booleans and "true"/"false".
func (a Args) Bool(key string, fallback bool) (bool, error) {
	v, ok := a[key]
	if !ok {
		return fallback, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, Invalid(key, fmt.Sprintf("expected a boolean, got %q", b), "example: true")
		}
		return parsed, nil
	default:
		return false, Invalid(key, fmt.Sprintf("expected a boolean, got %T", v), "example: true")
	}
}

// Enum checks string membership against allowed, returning the full set in
// the error.
func (a Args) Enum(key, fallback string, allowed ...string) (string, error) {
	s, err := a.String(key, fallback)
	if err != nil {
		return "", err
	}
	if s == fallback && !a.Has(key) {
		return s, nil
	}
	for _, candidate := range allowed {
		if s == candidate {
			return s, nil
		}
	}
	return "", Invalid(key,
		fmt.Sprintf("%q is not one of the allowed values", s),
		"allowed: "+strings.Join(allowed, ", "))
}

// StringSlice returns a []string argument from a JSON array.
func (a Args) StringSlice(key string) ([]string, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	switch items := v.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, Invalid(key, fmt.Sprintf("expected strings, found %T", item), `example: ["a","b"]`)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, Invalid(key, fmt.Sprintf("expected an array of strings, got %T", v), `example: ["a","b"]`)
	}
}

// Int64Slice returns a []int64 argument, coercing each element like Int64.
func (a Args) Int64Slice(key string) ([]int64, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, Invalid(key, fmt.Sprintf("expected an array of integers, got %T", v), "example: [1,2,3]")
	}
	out := make([]int64, 0, len(items))
	for i, item := range items {
		probe := Args{"item": item}
		n, err := probe.Int64("item", 0)
		if err != nil {
			return nil, Invalid(key, fmt.Sprintf("element %d is not an integer", i), "example: [1,2,3]")
		}
		out = append(out, n)
	}
	return out, nil
}

// Map returns a nested object argument.
func (a Args) Map(key string) (map[string]any, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, Invalid(key, fmt.Sprintf("expected an object, got %T", v), `example: {"k":"v"}`)
	}
	return m, nil
}
