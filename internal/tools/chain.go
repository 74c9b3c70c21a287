package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulipmcp/zulipmcp/internal/chain"
	"github.com/zulipmcp/zulipmcp/internal/store"
	"github.com/zulipmcp/zulipmcp/internal/validate"
)

// registerChainSteps binds the executor's command types to tool handlers.
// Each step reuses the corresponding handler's validation path, so chain
// parameters behave exactly like direct tool calls.
func (t *Toolset) registerChainSteps() {
	t.executor.Register("send_message", t.stepFromHandler(t.SendMessage, "last_send"))
	t.executor.Register("search_messages", t.stepFromHandler(t.SearchMessages, "last_search"))
	t.executor.Register("wait_for_response", t.waitStep)
}

// stepFromHandler adapts a tool handler into a chain step. The handler's
// payload lands in the chain context under resultKey, and its message count
// (when present) under resultKey + "_count" so conditions can branch on it.
func (t *Toolset) stepFromHandler(h Handler, resultKey string) chain.StepFunc {
	return func(ctx context.Context, params map[string]any, chainCtx map[string]any) (map[string]any, error) {
		payload, err := h(ctx, validate.NewArgs(params))
		if err != nil {
			return nil, err
		}
		out := map[string]any{resultKey: payload}
		if count, ok := payload["count"]; ok {
			out[resultKey+"_count"] = count
		}
		if id, ok := payload["message_id"]; ok {
			out[resultKey+"_message_id"] = id
		}
		return out, nil
	}
}

// waitStep blocks the chain until a pending input request resolves.
func (t *Toolset) waitStep(ctx context.Context, params map[string]any, chainCtx map[string]any) (map[string]any, error) {
	args := validate.NewArgs(params)
	requestID, err := args.String("request_id", "")
	if err != nil {
		return nil, err
	}
	if requestID == "" {
		// Default to the request created earlier in this chain, if any.
		if id, ok := chainCtx["request_id"].(string); ok {
			requestID = id
		}
	}
	if requestID == "" {
		return nil, validate.Missing("request_id")
	}
	timeoutSecs, err := args.Int("timeout", defaultWaitSeconds)
	if err != nil {
		return nil, err
	}
	req, err := t.waitForRequest(ctx, requestID, time.Duration(timeoutSecs)*time.Second)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"response":        req.Response,
		"response_status": string(req.Status),
	}, nil
}

// defaultWaitSeconds is how long wait_for_response blocks when the caller
// does not pass a timeout.
const defaultWaitSeconds = 300

// waitForRequest polls the store until the request leaves the pending state
// or the timeout elapses. On timeout the request itself is transitioned to
// timeout so a later human reply cannot resurrect it.
func (t *Toolset) waitForRequest(ctx context.Context, requestID string, timeout time.Duration) (store.InputRequest, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		req, err := t.store.InputRequest(ctx, requestID)
		if err != nil {
			return store.InputRequest{}, &validate.ToolError{
				Code:    validate.CodeNotFound,
				Message: fmt.Sprintf("input request %s not found", requestID),
			}
		}
		if req.Status.Terminal() {
			return req, nil
		}
		if time.Now().After(deadline) {
			if _, err := t.store.TimeoutRequest(ctx, requestID); err != nil {
				t.logger.Warn("timing out input request failed")
			}
			return store.InputRequest{}, &validate.ToolError{
				Code:    validate.CodeTransient,
				Message: fmt.Sprintf("no response to request %s within %s", requestID, timeout),
				Recovery: &validate.Recovery{
					Tool: "wait_for_response",
					Hint: "ask again with request_user_input or extend the timeout",
				},
			}
		}
		select {
		case <-ctx.Done():
			return store.InputRequest{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExecuteChain runs an ordered command list. Commands arrive either as an
// inline array or as a YAML document string.
func (t *Toolset) ExecuteChain(ctx context.Context, args validate.Args) (map[string]any, error) {
	var commands []chain.Command

	switch {
	case args.Has("commands"):
		raw, ok := args["commands"].([]any)
		if !ok {
			return nil, validate.Invalid("commands",
				"expected an array of command objects",
				`example: [{"type":"send_message","params":{...}}]`)
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, validate.Invalid("commands", err.Error())
		}
		if err := json.Unmarshal(encoded, &commands); err != nil {
			return nil, validate.Invalid("commands", err.Error(),
				`each command needs a "type" and optional "params"`)
		}
	case args.Has("yaml"):
		doc, err := args.RequiredString("yaml")
		if err != nil {
			return nil, err
		}
		commands, err = chain.ParseYAML(doc)
		if err != nil {
			return nil, validate.Invalid("yaml", err.Error())
		}
	default:
		return nil, &validate.ToolError{
			Code:    validate.CodeMissingParam,
			Message: `either "commands" (inline array) or "yaml" (document) is required`,
		}
	}

	if len(commands) == 0 {
		return nil, validate.Invalid("commands", "chain contains no commands")
	}
	if len(commands) > maxChainLength {
		return nil, validate.Invalid("commands",
			fmt.Sprintf("chain exceeds %d commands", maxChainLength))
	}

	summary := t.executor.Execute(ctx, commands)

	payload := map[string]any{
		"steps_completed": summary.StepsCompleted,
		"steps_total":     summary.StepsTotal,
		"context":         summary.Context,
	}
	if summary.Halted {
		payload["halted"] = true
		payload["last_error"] = summary.LastError
		return partial("chain halted before completing every step", payload), nil
	}
	return success(payload), nil
}

const maxChainLength = 25
