package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/afk"
	"github.com/zulipmcp/zulipmcp/internal/store"
	"github.com/zulipmcp/zulipmcp/internal/validate"
)

// RegisterAgent records the agent and makes sure its bridge channel exists.
// Re-registering the same agent is always safe.
func (t *Toolset) RegisterAgent(ctx context.Context, args validate.Args) (map[string]any, error) {
	agentID, err := args.RequiredString("agent_id")
	if err != nil {
		return nil, err
	}
	agentType, err := args.String("agent_type", "generic")
	if err != nil {
		return nil, err
	}
	metadataMap, err := args.Map("metadata")
	if err != nil {
		return nil, err
	}
	metadata := "{}"
	if len(metadataMap) > 0 {
		encoded, err := json.Marshal(metadataMap)
		if err != nil {
			return nil, validate.Invalid("metadata", err.Error())
		}
		metadata = string(encoded)
	}
	sessionID, err := args.String("session_id", "")
	if err != nil {
		return nil, err
	}
	projectDir, err := args.String("project_dir", "")
	if err != nil {
		return nil, err
	}
	host, err := args.String("host", "")
	if err != nil {
		return nil, err
	}
	if host == "" {
		host, _ = os.Hostname()
	}

	inst, err := t.store.RegisterAgent(ctx, agentID, agentType, metadata, sessionID, projectDir, host)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"agent_id":    agentID,
		"instance_id": inst.InstanceID,
		"channel":     t.cfg.Listener.AgentChannel,
	}

	// Channel creation needs the bot; without one, registration still stands.
	botCreds, err := t.botCreds()
	if err != nil {
		return partial("agent registered, but no bot credentials to ensure the bridge channel", payload), nil
	}
	if err := t.client.CreateStream(ctx, botCreds, t.cfg.Listener.AgentChannel,
		"Agent-to-human bridge traffic", false); err != nil {
		t.logger.Warn("ensuring agent channel failed",
			zap.String("channel", t.cfg.Listener.AgentChannel),
			zap.Error(err))
		return partial("agent registered, but ensuring the bridge channel failed: "+err.Error(), payload), nil
	}
	return success(payload), nil
}

// AgentMessage posts an autonomous status update. Suppressed while the
// operator is at the keyboard, unless the developer override is set.
func (t *Toolset) AgentMessage(ctx context.Context, args validate.Args) (map[string]any, error) {
	if !t.afk.ShouldNotify(ctx) {
		return skipped("not afk"), nil
	}
	botCreds, err := t.botCreds()
	if err != nil {
		return nil, err
	}
	agentID, err := args.RequiredString("agent_id")
	if err != nil {
		return nil, err
	}
	content, err := args.RequiredString("content")
	if err != nil {
		return nil, err
	}
	topic, err := args.String("topic", agentID)
	if err != nil {
		return nil, err
	}
	messageID, err := t.client.SendStreamMessage(ctx, botCreds, t.cfg.Listener.AgentChannel, topic, content)
	if err != nil {
		return nil, err
	}
	return success(map[string]any{"message_id": messageID}), nil
}

// RequestUserInput posts a formatted question and records the pending
// request for reply correlation. Questions always go out: asking for input
// is an explicit escalation, not ambient noise.
func (t *Toolset) RequestUserInput(ctx context.Context, args validate.Args) (map[string]any, error) {
	botCreds, err := t.botCreds()
	if err != nil {
		return nil, err
	}
	agentID, err := args.RequiredString("agent_id")
	if err != nil {
		return nil, err
	}
	question, err := args.RequiredString("question")
	if err != nil {
		return nil, err
	}
	context_, err := args.String("context", "")
	if err != nil {
		return nil, err
	}
	options, err := args.StringSlice("options")
	if err != nil {
		return nil, err
	}
	optionsJSON := "[]"
	if len(options) > 0 {
		encoded, err := json.Marshal(options)
		if err != nil {
			return nil, validate.Invalid("options", err.Error())
		}
		optionsJSON = string(encoded)
	}

	req, err := t.store.CreateInputRequest(ctx, agentID, question, context_, optionsJSON)
	if err != nil {
		return nil, err
	}

	content := formatInputRequest(agentID, question, context_, options, req.RequestID)
	messageID, err := t.client.SendStreamMessage(ctx, botCreds, t.cfg.Listener.AgentChannel, agentID, content)
	if err != nil {
		// The prompt never went out; a reply can't arrive, so cancel.
		if _, cerr := t.store.CancelRequest(ctx, req.RequestID); cerr != nil {
			t.logger.Warn("cancelling undelivered input request failed", zap.Error(cerr))
		}
		return nil, err
	}
	return success(map[string]any{
		"request_id": req.RequestID,
		"message_id": messageID,
	}), nil
}

// formatInputRequest renders the question so a human can answer by replying
// in the topic. The request id trailer is what the listener correlates on.
func formatInputRequest(agentID, question, context_ string, options []string, requestID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s needs your input**\n\n%s\n", agentID, question)
	if context_ != "" {
		fmt.Fprintf(&b, "\n> %s\n", context_)
	}
	if len(options) > 0 {
		b.WriteString("\nOptions:\n")
		for i, opt := range options {
			fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
		}
		b.WriteString("\nReply with an option number or free text.\n")
	}
	fmt.Fprintf(&b, "\n`request: %s`", requestID)
	return b.String()
}

// WaitForResponse blocks until the request resolves or the timeout passes.
func (t *Toolset) WaitForResponse(ctx context.Context, args validate.Args) (map[string]any, error) {
	requestID, err := args.RequiredString("request_id")
	if err != nil {
		return nil, err
	}
	timeoutSecs, err := args.Int("timeout", defaultWaitSeconds)
	if err != nil {
		return nil, err
	}
	if timeoutSecs <= 0 || timeoutSecs > 3600 {
		return nil, validate.Invalid("timeout", "must be between 1 and 3600 seconds", "example: 300")
	}
	req, err := t.waitForRequest(ctx, requestID, time.Duration(timeoutSecs)*time.Second)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"request_id": req.RequestID,
		"state":      string(req.Status),
		"response":   req.Response,
	}
	if req.RespondedAt != nil {
		payload["responded_at"] = req.RespondedAt.UTC().Format(time.RFC3339)
	}
	return success(payload), nil
}

// CancelInputRequest withdraws a pending question.
func (t *Toolset) CancelInputRequest(ctx context.Context, args validate.Args) (map[string]any, error) {
	requestID, err := args.RequiredString("request_id")
	if err != nil {
		return nil, err
	}
	cancelled, err := t.store.CancelRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return partial("request was already resolved; cancellation had no effect",
			map[string]any{"request_id": requestID}), nil
	}
	return success(map[string]any{"request_id": requestID}), nil
}

// StartTask records a new tracked work item.
func (t *Toolset) StartTask(ctx context.Context, args validate.Args) (map[string]any, error) {
	agentID, err := args.RequiredString("agent_id")
	if err != nil {
		return nil, err
	}
	name, err := args.RequiredString("name")
	if err != nil {
		return nil, err
	}
	description, err := args.String("description", "")
	if err != nil {
		return nil, err
	}
	task, err := t.store.CreateTask(ctx, agentID, name, description)
	if err != nil {
		return nil, err
	}
	return success(map[string]any{
		"task_id":  task.TaskID,
		"status":   string(task.Status),
		"progress": task.Progress,
	}), nil
}

// UpdateTaskProgress moves a task's progress forward. Progress never goes
// backwards, and terminal tasks reject updates.
func (t *Toolset) UpdateTaskProgress(ctx context.Context, args validate.Args) (map[string]any, error) {
	taskID, err := args.RequiredString("task_id")
	if err != nil {
		return nil, err
	}
	progress, err := args.Int("progress", -1)
	if err != nil {
		return nil, err
	}
	if progress < 0 || progress > 100 {
		return nil, validate.Invalid("progress", "must be between 0 and 100", "example: 40")
	}
	updated, err := t.store.UpdateTaskProgress(ctx, taskID, progress)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, &validate.ToolError{
			Code:    validate.CodeInvalidParam,
			Message: fmt.Sprintf("task %s is already completed or failed", taskID),
		}
	}
	task, err := t.store.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return success(map[string]any{
		"task_id":  task.TaskID,
		"status":   string(task.Status),
		"progress": task.Progress,
	}), nil
}

// CompleteTask finishes a task with an outcome, optionally announcing it.
func (t *Toolset) CompleteTask(ctx context.Context, args validate.Args) (map[string]any, error) {
	taskID, err := args.RequiredString("task_id")
	if err != nil {
		return nil, err
	}
	failed, err := args.Bool("failed", false)
	if err != nil {
		return nil, err
	}
	outputs, metrics := "{}", "{}"
	if m, err := args.Map("outputs"); err != nil {
		return nil, err
	} else if len(m) > 0 {
		encoded, _ := json.Marshal(m)
		outputs = string(encoded)
	}
	if m, err := args.Map("metrics"); err != nil {
		return nil, err
	} else if len(m) > 0 {
		encoded, _ := json.Marshal(m)
		metrics = string(encoded)
	}

	updated, err := t.store.CompleteTask(ctx, taskID, failed, outputs, metrics)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, &validate.ToolError{
			Code:    validate.CodeInvalidParam,
			Message: fmt.Sprintf("task %s is already completed or failed", taskID),
		}
	}
	task, err := t.store.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"task_id": task.TaskID,
		"status":  string(task.Status),
	}

	announce, err := args.Bool("announce", false)
	if err != nil {
		return nil, err
	}
	if announce && t.afk.ShouldNotify(ctx) {
		if botCreds, err := t.botCreds(); err == nil {
			verb := "completed"
			if failed {
				verb = "failed"
			}
			content := fmt.Sprintf("Task **%s** %s.", task.Name, verb)
			if id, err := t.client.SendStreamMessage(ctx, botCreds,
				t.cfg.Listener.AgentChannel, task.AgentID, content); err == nil {
				payload["announcement_message_id"] = id
			}
		}
	}
	return success(payload), nil
}

// ListInstances reports registered agents, their instances, and tasks.
func (t *Toolset) ListInstances(ctx context.Context, args validate.Args) (map[string]any, error) {
	agentID, err := args.String("agent_id", "")
	if err != nil {
		return nil, err
	}

	if agentID != "" {
		agent, err := t.store.Agent(ctx, agentID)
		if err != nil {
			return nil, &validate.ToolError{
				Code:    validate.CodeNotFound,
				Message: fmt.Sprintf("agent %s is not registered", agentID),
				Recovery: &validate.Recovery{
					Tool: "register_agent",
					Hint: "register the agent before listing its instances",
				},
			}
		}
		instances, err := t.store.AgentInstances(ctx, agentID)
		if err != nil {
			return nil, err
		}
		tasks, err := t.store.Tasks(ctx, agentID, "")
		if err != nil {
			return nil, err
		}
		return success(map[string]any{
			"agent":     projectAgent(agent),
			"instances": projectInstances(instances),
			"tasks":     projectTasks(tasks),
		}), nil
	}

	agents, err := t.store.Agents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, projectAgent(a))
	}
	return success(map[string]any{"agents": out, "count": len(out)}), nil
}

// EnableAFK marks the operator away, optionally with an auto-return.
func (t *Toolset) EnableAFK(ctx context.Context, args validate.Args) (map[string]any, error) {
	hours, err := args.Float("hours", 0)
	if err != nil {
		return nil, err
	}
	if hours < 0 || hours > 24*7 {
		return nil, validate.Invalid("hours", "must be between 0 and 168", "example: 2.5")
	}
	reason, err := args.String("reason", "")
	if err != nil {
		return nil, err
	}
	st, err := t.afk.Enable(ctx, hours, reason)
	if err != nil {
		return nil, err
	}
	return success(afkPayload(st)), nil
}

// DisableAFK marks the operator present.
func (t *Toolset) DisableAFK(ctx context.Context, args validate.Args) (map[string]any, error) {
	st, err := t.afk.Disable(ctx)
	if err != nil {
		return nil, err
	}
	return success(afkPayload(st)), nil
}

// AFKStatus reports the current away state and whether notifications would
// go out.
func (t *Toolset) AFKStatus(ctx context.Context, args validate.Args) (map[string]any, error) {
	st, err := t.afk.Status(ctx)
	if err != nil {
		return nil, err
	}
	payload := afkPayload(st)
	payload["notifications_active"] = st.IsAFK || afk.OverrideActive()
	payload["override_active"] = afk.OverrideActive()
	return success(payload), nil
}

func afkPayload(st store.AFKState) map[string]any {
	payload := map[string]any{
		"is_afk":     st.IsAFK,
		"reason":     st.Reason,
		"updated_at": st.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if st.AutoReturnAt != nil {
		payload["auto_return_at"] = st.AutoReturnAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func projectAgent(a store.Agent) map[string]any {
	var metadata map[string]any
	_ = json.Unmarshal([]byte(a.Metadata), &metadata)
	return map[string]any{
		"agent_id":   a.AgentID,
		"agent_type": a.AgentType,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339),
		"metadata":   metadata,
	}
}

func projectInstances(list []store.AgentInstance) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, inst := range list {
		out = append(out, map[string]any{
			"instance_id": inst.InstanceID,
			"session_id":  inst.SessionID,
			"project_dir": inst.ProjectDir,
			"host":        inst.Host,
			"started_at":  inst.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func projectTasks(list []store.Task) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, task := range list {
		entry := map[string]any{
			"task_id":    task.TaskID,
			"name":       task.Name,
			"status":     string(task.Status),
			"progress":   task.Progress,
			"started_at": task.StartedAt.UTC().Format(time.RFC3339),
		}
		if task.CompletedAt != nil {
			entry["completed_at"] = task.CompletedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	return out
}
