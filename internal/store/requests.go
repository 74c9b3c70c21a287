package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateInputRequest records a new pending question from an agent.
func (s *Store) CreateInputRequest(ctx context.Context, agentID, question, context_, options string) (InputRequest, error) {
	if options == "" {
		options = "[]"
	}
	req := InputRequest{
		RequestID: uuid.NewString(),
		AgentID:   agentID,
		Question:  question,
		Context:   context_,
		Options:   options,
		Status:    RequestPending,
		CreatedAt: time.Now().UTC(),
	}
	err := s.write(ctx, "create_input_request", func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO input_requests (request_id, agent_id, question, context, options, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			req.RequestID, req.AgentID, req.Question, req.Context, req.Options, req.Status, req.CreatedAt,
		)
		return err
	})
	if err != nil {
		return InputRequest{}, err
	}
	return req, nil
}

// InputRequest returns one request by ID.
func (s *Store) InputRequest(ctx context.Context, requestID string) (InputRequest, error) {
	var req InputRequest
	err := s.reader().GetContext(ctx, &req, `SELECT * FROM input_requests WHERE request_id = ?`, requestID)
	s.logReadErr("input_request", err)
	return req, err
}

// PendingRequests lists all requests still awaiting a reply, oldest first.
func (s *Store) PendingRequests(ctx context.Context) ([]InputRequest, error) {
	var list []InputRequest
	err := s.reader().SelectContext(ctx, &list, `
		SELECT * FROM input_requests WHERE status = 'pending' ORDER BY created_at ASC`)
	s.logReadErr("pending_requests", err)
	return list, err
}

// RecentPendingRequest returns the single most recent pending request created
// within the window, if any. Used as the last-resort reply correlation tier.
func (s *Store) RecentPendingRequest(ctx context.Context, window time.Duration) (InputRequest, bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var list []InputRequest
	err := s.reader().SelectContext(ctx, &list, `
		SELECT * FROM input_requests
		WHERE status = 'pending' AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		cutoff,
	)
	s.logReadErr("recent_pending_request", err)
	if err != nil || len(list) == 0 {
		return InputRequest{}, false, err
	}
	return list[0], true, nil
}

// AnswerRequest transitions a pending request to answered with the reply
// text. Returns false when the request was not pending (already answered,
// cancelled, or timed out) — terminal states are final.
func (s *Store) AnswerRequest(ctx context.Context, requestID, response string) (bool, error) {
	return s.transitionRequest(ctx, "answer_request", requestID, RequestAnswered, response)
}

// CancelRequest transitions a pending request to cancelled. Returns false
// when the request was not pending.
func (s *Store) CancelRequest(ctx context.Context, requestID string) (bool, error) {
	return s.transitionRequest(ctx, "cancel_request", requestID, RequestCancelled, "")
}

// TimeoutRequest transitions a pending request to timeout. Returns false
// when the request was not pending.
func (s *Store) TimeoutRequest(ctx context.Context, requestID string) (bool, error) {
	return s.transitionRequest(ctx, "timeout_request", requestID, RequestTimeout, "")
}

// transitionRequest applies a terminal transition guarded on the pending
// state so a late answer can never overwrite a cancellation or timeout.
func (s *Store) transitionRequest(ctx context.Context, op, requestID string, to RequestStatus, response string) (bool, error) {
	var updated bool
	err := s.write(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(`
			UPDATE input_requests
			SET status = ?, response = ?, responded_at = ?
			WHERE request_id = ? AND status = 'pending'`,
			to, response, time.Now().UTC(), requestID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		return nil
	})
	return updated, err
}
