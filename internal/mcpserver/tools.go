package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/tools"
)

// registerTools declares every tool with its parameter schema and binds it
// to the toolset handler. Descriptions are written for the calling agent:
// they say when to reach for the tool, not how it is implemented.
func (s *Server) registerTools() {
	identityOpt := mcp.WithString("identity",
		mcp.Description("Force a credential bundle: user, bot, or admin. Omit to let the bridge pick."))
	narrowOpts := []mcp.ToolOption{
		mcp.WithString("stream", mcp.Description("Limit to one stream/channel")),
		mcp.WithString("topic", mcp.Description("Limit to one topic (requires stream)")),
		mcp.WithString("sender", mcp.Description("Limit to messages from this user (email or name)")),
		mcp.WithString("query", mcp.Description("Full-text search terms")),
		mcp.WithNumber("last_hours", mcp.Description("Only messages from the trailing N hours")),
		mcp.WithNumber("last_days", mcp.Description("Only messages from the trailing N days")),
	}

	// Messaging.
	s.add(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a stream topic or as a direct message. Provide stream+topic, or recipients."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message body in Zulip markdown; truncated at 10000 characters")),
		mcp.WithString("stream", mcp.Description("Target stream name")),
		mcp.WithString("topic", mcp.Description("Target topic (required with stream)")),
		mcp.WithArray("recipients", mcp.Description("Direct-message recipient emails")),
		identityOpt,
	), s.toolset.SendMessage)

	s.add(mcp.NewTool("search_messages",
		append([]mcp.ToolOption{
			mcp.WithDescription("Fetch messages matching a narrow. has_more in the result signals a truncated page."),
			mcp.WithString("anchor", mcp.Description("newest, oldest, first_unread, or a message id")),
			mcp.WithNumber("num_before", mcp.Description("Messages before the anchor (default 25)")),
			mcp.WithNumber("num_after", mcp.Description("Messages after the anchor (default 0)")),
			identityOpt,
		}, narrowOpts...)...,
	), s.toolset.SearchMessages)

	s.add(mcp.NewTool("edit_message",
		mcp.WithDescription("Edit a message's content, move it to another topic, or move it to another stream."),
		mcp.WithNumber("message_id", mcp.Required(), mcp.Description("The message to edit")),
		mcp.WithString("content", mcp.Description("New content")),
		mcp.WithString("topic", mcp.Description("New topic")),
		mcp.WithNumber("stream_id", mcp.Description("New stream id")),
		mcp.WithString("propagate_mode", mcp.Description("change_one, change_later, or change_all")),
		mcp.WithBoolean("notify_old_thread", mcp.Description("Leave a breadcrumb in the old thread")),
		mcp.WithBoolean("notify_new_thread", mcp.Description("Announce in the new thread")),
		identityOpt,
	), s.toolset.EditMessage)

	s.add(mcp.NewTool("bulk_operations",
		append([]mcp.ToolOption{
			mcp.WithDescription("Apply mark_read, mark_unread, star, unstar, or mark_all_read to a message id list OR a narrow — never both."),
			mcp.WithString("operation", mcp.Required(), mcp.Description("mark_read, mark_unread, star, unstar, or mark_all_read")),
			mcp.WithArray("message_ids", mcp.Description("Explicit message ids")),
			identityOpt,
		}, narrowOpts...)...,
	), s.toolset.BulkOperations)

	s.add(mcp.NewTool("add_reaction",
		mcp.WithDescription("Add an approved emoji reaction to a message."),
		mcp.WithNumber("message_id", mcp.Required(), mcp.Description("The message to react to")),
		mcp.WithString("emoji_name", mcp.Required(), mcp.Description("Emoji name from the approved set, e.g. thumbs_up")),
		identityOpt,
	), s.toolset.AddReaction)

	s.add(mcp.NewTool("remove_reaction",
		mcp.WithDescription("Remove an emoji reaction from a message."),
		mcp.WithNumber("message_id", mcp.Required(), mcp.Description("The message to unreact")),
		mcp.WithString("emoji_name", mcp.Required(), mcp.Description("Emoji name to remove")),
		identityOpt,
	), s.toolset.RemoveReaction)

	s.add(mcp.NewTool("get_message_history",
		mcp.WithDescription("List a message's edit history: prior contents, topics, and timestamps."),
		mcp.WithNumber("message_id", mcp.Required(), mcp.Description("The message to inspect")),
		identityOpt,
	), s.toolset.GetMessageHistory)

	s.add(mcp.NewTool("cross_post_message",
		mcp.WithDescription("Repost an existing message into other streams with attribution."),
		mcp.WithNumber("message_id", mcp.Required(), mcp.Description("Source message")),
		mcp.WithArray("target_streams", mcp.Required(), mcp.Description("Streams to repost into")),
		mcp.WithString("topic", mcp.Description("Topic in the targets; defaults to the source topic")),
		mcp.WithString("prefix", mcp.Description("Optional note prepended to each repost")),
		mcp.WithBoolean("include_reference", mcp.Description("Append the original message id (default true)")),
		identityOpt,
	), s.toolset.CrossPostMessage)

	// Streams and topics.
	s.add(mcp.NewTool("manage_streams",
		mcp.WithDescription("List, create, update, archive, subscribe, or unsubscribe streams."),
		mcp.WithString("action", mcp.Required(), mcp.Description("list, create, update, archive, subscribe, or unsubscribe")),
		mcp.WithString("stream", mcp.Description("Stream name for single-stream actions")),
		mcp.WithNumber("stream_id", mcp.Description("Stream id, alternative to name")),
		mcp.WithString("description", mcp.Description("Description for create/update")),
		mcp.WithString("new_name", mcp.Description("Rename target for update")),
		mcp.WithBoolean("invite_only", mcp.Description("Create as private")),
		mcp.WithArray("streams", mcp.Description("Stream names for subscribe/unsubscribe")),
		mcp.WithBoolean("include_archived", mcp.Description("Include archived streams in listings")),
		identityOpt,
	), s.toolset.ManageStreams)

	s.add(mcp.NewTool("manage_topics",
		mcp.WithDescription("List, move, mute, unmute, mark-read, or delete topics within a stream."),
		mcp.WithString("action", mcp.Required(), mcp.Description("list, move, mute, unmute, mark_read, or delete")),
		mcp.WithString("stream", mcp.Description("Stream name")),
		mcp.WithNumber("stream_id", mcp.Description("Stream id, alternative to name")),
		mcp.WithString("topic", mcp.Description("Topic for single-topic actions")),
		mcp.WithString("target_topic", mcp.Description("New topic name for move")),
		mcp.WithNumber("target_stream_id", mcp.Description("Destination stream for move")),
		identityOpt,
	), s.toolset.ManageTopics)

	s.add(mcp.NewTool("get_stream_info",
		mcp.WithDescription("Fetch one stream's metadata, topics, and subscriber count."),
		mcp.WithString("stream", mcp.Description("Stream name")),
		mcp.WithNumber("stream_id", mcp.Description("Stream id, alternative to name")),
		mcp.WithBoolean("include_topics", mcp.Description("Include recent topics (default true)")),
		mcp.WithBoolean("include_subscribers", mcp.Description("Include subscriber count")),
		identityOpt,
	), s.toolset.GetStreamInfo)

	s.add(mcp.NewTool("stream_analytics",
		mcp.WithDescription("Message volume, top senders, and topic activity for one stream over a window."),
		mcp.WithString("stream", mcp.Description("Stream name")),
		mcp.WithNumber("stream_id", mcp.Description("Stream id, alternative to name")),
		mcp.WithNumber("last_days", mcp.Description("Window in days (default 7)")),
		identityOpt,
	), s.toolset.StreamAnalytics)

	s.add(mcp.NewTool("manage_stream_settings",
		mcp.WithDescription("Read or change per-stream subscription settings such as muting and pinning."),
		mcp.WithString("stream", mcp.Description("Stream name")),
		mcp.WithNumber("stream_id", mcp.Description("Stream id, alternative to name")),
		mcp.WithString("property", mcp.Description("is_muted, pin_to_top, desktop_notifications, push_notifications, email_notifications, or color")),
		mcp.WithString("value", mcp.Description("New value; omit to read current settings")),
		identityOpt,
	), s.toolset.ManageStreamSettings)

	// Events.
	s.add(mcp.NewTool("register_events",
		append([]mcp.ToolOption{
			mcp.WithDescription("Register a server-side event queue for later polling with get_events."),
			mcp.WithArray("event_types", mcp.Description("Event types to receive (default: message)")),
			identityOpt,
		}, narrowOpts...)...,
	), s.toolset.RegisterEvents)

	s.add(mcp.NewTool("get_events",
		mcp.WithDescription("Long-poll a registered event queue once. Expired queues return a recovery pointer to register_events."),
		mcp.WithString("queue_id", mcp.Required(), mcp.Description("Queue from register_events")),
		mcp.WithNumber("last_event_id", mcp.Description("Highest event id already seen (default -1)")),
		mcp.WithNumber("timeout", mcp.Description("Long-poll timeout in seconds (default 30)")),
		identityOpt,
	), s.toolset.GetEvents)

	s.add(mcp.NewTool("listen_events",
		append([]mcp.ToolOption{
			mcp.WithDescription("Register, poll in a loop, and deregister: collect events for a bounded duration. Blocks the call."),
			mcp.WithNumber("duration", mcp.Description("Seconds to listen, 1-600 (default 60)")),
			mcp.WithNumber("max_events", mcp.Description("Stop after this many events (default 100)")),
			mcp.WithArray("event_types", mcp.Description("Event types to receive (default: message)")),
			mcp.WithString("fanout_subject", mcp.Description("Also publish each event on the internal bus under this subject")),
			identityOpt,
		}, narrowOpts...)...,
	), s.toolset.ListenEvents)

	s.add(mcp.NewTool("deregister_events",
		mcp.WithDescription("Delete an event queue created with register_events."),
		mcp.WithString("queue_id", mcp.Required(), mcp.Description("Queue to delete")),
		identityOpt,
	), s.toolset.DeregisterEvents)

	// Users.
	s.add(mcp.NewTool("get_users",
		mcp.WithDescription("List organization members, or resolve one identifier (email, exact, partial, or fuzzy name)."),
		mcp.WithString("identifier", mcp.Description("Email or name to resolve to a single user")),
		mcp.WithBoolean("include_bots", mcp.Description("Include bot accounts in listings (default true)")),
		identityOpt,
	), s.toolset.GetUsers)

	s.add(mcp.NewTool("get_own_user",
		mcp.WithDescription("Return the profile behind the currently selected identity."),
		identityOpt,
	), s.toolset.GetOwnUser)

	s.add(mcp.NewTool("update_presence",
		mcp.WithDescription("Read another user's presence (pass email) or set your own status (pass status)."),
		mcp.WithString("email", mcp.Description("User whose presence to read")),
		mcp.WithString("status", mcp.Description("active or idle, to set your own")),
		identityOpt,
	), s.toolset.UpdatePresence)

	s.add(mcp.NewTool("switch_identity",
		mcp.WithDescription("Activate a different credential bundle (user, bot, or admin) after verifying it."),
		mcp.WithString("identity", mcp.Required(), mcp.Description("user, bot, or admin")),
	), s.toolset.SwitchIdentity)

	s.add(mcp.NewTool("manage_user_groups",
		mcp.WithDescription("List user groups or fetch a group's members."),
		mcp.WithString("action", mcp.Description("list (default), members, create, update, or delete")),
		mcp.WithNumber("group_id", mcp.Description("Group id for members")),
		identityOpt,
	), s.toolset.ManageUserGroups)

	// Search and analytics.
	s.add(mcp.NewTool("advanced_search",
		append([]mcp.ToolOption{
			mcp.WithDescription("Search across messages, users, streams, and topics with ranking and optional aggregations."),
			mcp.WithArray("scopes", mcp.Description("Subset of: messages, users, streams, topics (default: messages)")),
			mcp.WithString("ranking", mcp.Description("relevance (default), newest, or oldest")),
			mcp.WithNumber("limit", mcp.Description("Max messages to return (default 50)")),
			mcp.WithString("aggregate", mcp.Description("Aggregate message hits by sender, topic, or day")),
			identityOpt,
		}, narrowOpts...)...,
	), s.toolset.AdvancedSearch)

	s.add(mcp.NewTool("analytics",
		append([]mcp.ToolOption{
			mcp.WithDescription("Compute activity, sentiment, topics, or participation analytics over a message window."),
			mcp.WithString("type", mcp.Required(), mcp.Description("activity, sentiment, topics, or participation")),
			mcp.WithString("group_by", mcp.Description("user, stream, day, or hour")),
			mcp.WithString("format", mcp.Description("summary (default), detailed, or chart_data")),
			identityOpt,
		}, narrowOpts...)...,
	), s.toolset.Analytics)

	s.add(mcp.NewTool("daily_summary",
		mcp.WithDescription("Per-stream message counts over the trailing hours (default 24)."),
		mcp.WithNumber("hours", mcp.Description("Window in hours, 1-336")),
		identityOpt,
	), s.toolset.DailySummary)

	// Files.
	s.add(mcp.NewTool("upload_file",
		mcp.WithDescription("Upload a file (max 25 MiB, allow-listed extensions) and optionally share the link in a stream."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("File name with extension; path components are stripped")),
		mcp.WithString("content", mcp.Description("Plain-text file content")),
		mcp.WithString("content_base64", mcp.Description("Base64 content for binary files")),
		mcp.WithString("share_stream", mcp.Description("Stream to post the link into")),
		mcp.WithString("share_topic", mcp.Description("Topic for the share message (default: uploads)")),
		mcp.WithString("share_note", mcp.Description("Note above the link")),
		identityOpt,
	), s.toolset.UploadFile)

	s.add(mcp.NewTool("manage_files",
		mcp.WithDescription("Download an upload by its served URI. Listing and deletion have no backend API and report partial_success."),
		mcp.WithString("action", mcp.Required(), mcp.Description("download, list, or delete")),
		mcp.WithString("uri", mcp.Description("Served path, e.g. /user_uploads/...")),
		identityOpt,
	), s.toolset.ManageFiles)

	// Agent bridge.
	s.add(mcp.NewTool("register_agent",
		mcp.WithDescription("Register this agent with the bridge and ensure the agent channel exists. Safe to call repeatedly."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Stable agent identifier")),
		mcp.WithString("agent_type", mcp.Description("Agent flavor, e.g. coder or reviewer")),
		mcp.WithObject("metadata", mcp.Description("Arbitrary metadata stored with the agent")),
		mcp.WithString("session_id", mcp.Description("Session identifier for this run")),
		mcp.WithString("project_dir", mcp.Description("Working directory of this run")),
		mcp.WithString("host", mcp.Description("Host name; defaults to the local hostname")),
	), s.toolset.RegisterAgent)

	s.add(mcp.NewTool("agent_message",
		mcp.WithDescription("Post an autonomous status update to the agent channel. Suppressed (status=skipped) while the operator is present."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Sending agent")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Update text")),
		mcp.WithString("topic", mcp.Description("Topic in the agent channel; defaults to the agent id")),
	), s.toolset.AgentMessage)

	s.add(mcp.NewTool("request_user_input",
		mcp.WithDescription("Ask the human a question via the agent channel and record a pending request. Pair with wait_for_response."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Asking agent")),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question")),
		mcp.WithString("context", mcp.Description("Why the answer is needed")),
		mcp.WithArray("options", mcp.Description("Suggested answers, shown numbered")),
	), s.toolset.RequestUserInput)

	s.add(mcp.NewTool("wait_for_response",
		mcp.WithDescription("Block until a request_user_input question is answered, cancelled, or the timeout passes (then the request times out)."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Request from request_user_input")),
		mcp.WithNumber("timeout", mcp.Description("Seconds to wait, 1-3600 (default 300)")),
	), s.toolset.WaitForResponse)

	s.add(mcp.NewTool("cancel_input_request",
		mcp.WithDescription("Withdraw a pending input request so late replies are ignored."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Request to cancel")),
	), s.toolset.CancelInputRequest)

	s.add(mcp.NewTool("start_task",
		mcp.WithDescription("Record a new tracked task for an agent."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Owning agent")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Short task name")),
		mcp.WithString("description", mcp.Description("What the task does")),
	), s.toolset.StartTask)

	s.add(mcp.NewTool("update_task_progress",
		mcp.WithDescription("Report task progress 0-100. Progress never moves backwards; finished tasks reject updates."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task from start_task")),
		mcp.WithNumber("progress", mcp.Required(), mcp.Description("Percent complete, 0-100")),
	), s.toolset.UpdateTaskProgress)

	s.add(mcp.NewTool("complete_task",
		mcp.WithDescription("Finish a task as completed or failed, with optional outputs, metrics, and an AFK-gated announcement."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task from start_task")),
		mcp.WithBoolean("failed", mcp.Description("Mark the task failed instead of completed")),
		mcp.WithObject("outputs", mcp.Description("Result payload stored with the task")),
		mcp.WithObject("metrics", mcp.Description("Measurements stored with the task")),
		mcp.WithBoolean("announce", mcp.Description("Post a completion message when the operator is away")),
	), s.toolset.CompleteTask)

	s.add(mcp.NewTool("list_instances",
		mcp.WithDescription("List registered agents, or one agent's instances and tasks."),
		mcp.WithString("agent_id", mcp.Description("Limit to one agent")),
	), s.toolset.ListInstances)

	s.add(mcp.NewTool("enable_afk",
		mcp.WithDescription("Mark the operator away so agent notifications go out. Optionally auto-return after N hours."),
		mcp.WithNumber("hours", mcp.Description("Auto-return after this many hours; 0 or omitted means open-ended")),
		mcp.WithString("reason", mcp.Description("Why the operator is away")),
	), s.toolset.EnableAFK)

	s.add(mcp.NewTool("disable_afk",
		mcp.WithDescription("Mark the operator present; autonomous notifications stop."),
	), s.toolset.DisableAFK)

	s.add(mcp.NewTool("afk_status",
		mcp.WithDescription("Report the away state, the auto-return time, and whether notifications would currently go out."),
	), s.toolset.AFKStatus)

	// Scheduling.
	s.add(mcp.NewTool("schedule_message",
		mcp.WithDescription("Schedule a message for future server-side delivery. deliver_at takes RFC3339 or a +delta like +2h."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message body")),
		mcp.WithString("deliver_at", mcp.Required(), mcp.Description("RFC3339 timestamp or +delta; must be in the future")),
		mcp.WithString("stream", mcp.Description("Target stream")),
		mcp.WithString("topic", mcp.Description("Target topic (required with stream)")),
		mcp.WithArray("recipients", mcp.Description("Direct-message recipients instead of a stream")),
		identityOpt,
	), s.toolset.ScheduleMessage)

	s.add(mcp.NewTool("list_scheduled_messages",
		mcp.WithDescription("List this identity's pending scheduled messages."),
		identityOpt,
	), s.toolset.ListScheduled)

	s.add(mcp.NewTool("update_scheduled_message",
		mcp.WithDescription("Change a pending scheduled message's content or delivery time."),
		mcp.WithNumber("scheduled_message_id", mcp.Required(), mcp.Description("From schedule_message or the listing")),
		mcp.WithString("content", mcp.Description("New content")),
		mcp.WithString("deliver_at", mcp.Description("New delivery time, RFC3339 or +delta")),
		identityOpt,
	), s.toolset.UpdateScheduled)

	s.add(mcp.NewTool("cancel_scheduled_message",
		mcp.WithDescription("Cancel a pending scheduled message."),
		mcp.WithNumber("scheduled_message_id", mcp.Required(), mcp.Description("Scheduled message to cancel")),
		identityOpt,
	), s.toolset.CancelScheduled)

	// Chains.
	s.add(mcp.NewTool("execute_chain",
		mcp.WithDescription("Run an ordered command chain of send_message, search_messages, wait_for_response, and conditional_action steps. "+
			"Steps share a context map; string params may reference it with {{key}}. Halts on the first error."),
		mcp.WithArray("commands", mcp.Description("Inline command objects: {type, params, condition?, if_true?, if_false?}")),
		mcp.WithString("yaml", mcp.Description("YAML document with a commands list, instead of the inline array")),
	), s.toolset.ExecuteChain)

	s.logger.Info("registered MCP tools", zap.Int("count", s.count))
}

// add registers one tool through the dispatch wrapper.
func (s *Server) add(tool mcp.Tool, h tools.Handler) {
	s.mcp.AddTool(tool, s.wrap(tool.Name, h))
	s.count++
}
