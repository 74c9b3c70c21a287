package store

import "time"

// RequestStatus is the lifecycle state of an input request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAnswered  RequestStatus = "answered"
	RequestCancelled RequestStatus = "cancelled"
	RequestTimeout   RequestStatus = "timeout"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestAnswered || s == RequestCancelled || s == RequestTimeout
}

// TaskStatus is the lifecycle state of an agent task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// AFKState is the single-row away/present record.
type AFKState struct {
	ID           int        `db:"id"`
	IsAFK        bool       `db:"is_afk"`
	Reason       string     `db:"reason"`
	AutoReturnAt *time.Time `db:"auto_return_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Agent is a registered agent type. Agents are never deleted.
type Agent struct {
	AgentID   string    `db:"agent_id"`
	AgentType string    `db:"agent_type"`
	CreatedAt time.Time `db:"created_at"`
	Metadata  string    `db:"metadata"` // JSON object
}

// AgentInstance is one registration of an agent; historical record only.
type AgentInstance struct {
	InstanceID string    `db:"instance_id"`
	AgentID    string    `db:"agent_id"`
	SessionID  string    `db:"session_id"`
	ProjectDir string    `db:"project_dir"`
	Host       string    `db:"host"`
	StartedAt  time.Time `db:"started_at"`
}

// InputRequest is a pending question awaiting a correlated human reply.
type InputRequest struct {
	RequestID   string        `db:"request_id"`
	AgentID     string        `db:"agent_id"`
	Question    string        `db:"question"`
	Context     string        `db:"context"`
	Options     string        `db:"options"` // JSON array of strings
	Status      RequestStatus `db:"status"`
	CreatedAt   time.Time     `db:"created_at"`
	RespondedAt *time.Time    `db:"responded_at"`
	Response    string        `db:"response"`
}

// Task is an agent work item with monotonic progress.
type Task struct {
	TaskID      string     `db:"task_id"`
	AgentID     string     `db:"agent_id"`
	Name        string     `db:"name"`
	Description string     `db:"description"`
	Status      TaskStatus `db:"status"`
	Progress    int        `db:"progress"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	Outputs     string     `db:"outputs"` // JSON
	Metrics     string     `db:"metrics"` // JSON
}

// CacheEntry is a persisted read-through cache row. Staleness is enforced
// by the caller, not at the SQL level.
type CacheEntry struct {
	Scope     string    `db:"scope"`
	Key       string    `db:"key"`
	Payload   string    `db:"payload"`
	FetchedAt time.Time `db:"fetched_at"`
}
