package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RegisterAgent upserts the agent row and appends a new instance record.
// Registering the same agent ID again never errors: the agent row keeps its
// original created_at while metadata is refreshed, and a fresh instance is
// recorded every time.
func (s *Store) RegisterAgent(ctx context.Context, agentID, agentType, metadata, sessionID, projectDir, host string) (AgentInstance, error) {
	if metadata == "" {
		metadata = "{}"
	}
	now := time.Now().UTC()
	inst := AgentInstance{
		InstanceID: uuid.NewString(),
		AgentID:    agentID,
		SessionID:  sessionID,
		ProjectDir: projectDir,
		Host:       host,
		StartedAt:  now,
	}
	err := s.write(ctx, "register_agent", func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO agents (agent_id, agent_type, created_at, metadata)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (agent_id) DO UPDATE SET
				agent_type = excluded.agent_type,
				metadata = excluded.metadata`,
			agentID, agentType, now, metadata,
		); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO agent_instances (instance_id, agent_id, session_id, project_dir, host, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			inst.InstanceID, inst.AgentID, inst.SessionID, inst.ProjectDir, inst.Host, inst.StartedAt,
		)
		return err
	})
	if err != nil {
		return AgentInstance{}, err
	}
	return inst, nil
}

// Agent returns the agent row by ID.
func (s *Store) Agent(ctx context.Context, agentID string) (Agent, error) {
	var a Agent
	err := s.reader().GetContext(ctx, &a, `SELECT * FROM agents WHERE agent_id = ?`, agentID)
	s.logReadErr("agent", err)
	return a, err
}

// Agents lists all registered agents, oldest first.
func (s *Store) Agents(ctx context.Context) ([]Agent, error) {
	var list []Agent
	err := s.reader().SelectContext(ctx, &list, `SELECT * FROM agents ORDER BY created_at ASC`)
	s.logReadErr("agents", err)
	return list, err
}

// AgentInstances lists instance records for one agent, newest first.
func (s *Store) AgentInstances(ctx context.Context, agentID string) ([]AgentInstance, error) {
	var list []AgentInstance
	err := s.reader().SelectContext(ctx, &list, `
		SELECT * FROM agent_instances WHERE agent_id = ? ORDER BY started_at DESC`,
		agentID,
	)
	s.logReadErr("agent_instances", err)
	return list, err
}
