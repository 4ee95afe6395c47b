package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/models"
)

// PlanStore persists execution plans and their actions. Every status write
// is validated against the forward-only state machines and returns the plan
// hydrated inside the same transaction, so callers always notify from a
// snapshot that matches what the database holds.
type PlanStore struct {
	db *sqlx.DB
}

// NewPlanStore creates a new plan store
func NewPlanStore(client *database.Client) *PlanStore {
	return &PlanStore{db: client.DB()}
}

type planRow struct {
	ID               string     `db:"id"`
	SessionID        string     `db:"session_id"`
	UserQuery        string     `db:"user_query"`
	Summary          string     `db:"summary"`
	Status           string     `db:"status"`
	TotalActions     int        `db:"total_actions"`
	CompletedActions int        `db:"completed_actions"`
	FailedActions    int        `db:"failed_actions"`
	ErrorMessage     *string    `db:"error_message"`
	CreatedAt        time.Time  `db:"created_at"`
	StartedAt        *time.Time `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
}

type actionRow struct {
	ID             string     `db:"id"`
	PlanID         string     `db:"plan_id"`
	Type           string     `db:"type"`
	Name           string     `db:"name"`
	Description    string     `db:"description"`
	ToolName       string     `db:"tool_name"`
	Arguments      []byte     `db:"arguments"`
	DependsOn      []byte     `db:"depends_on"`
	Status         string     `db:"status"`
	ExecutionOrder int        `db:"execution_order"`
	Result         []byte     `db:"result"`
	ErrorMessage   *string    `db:"error_message"`
	CreatedAt      time.Time  `db:"created_at"`
	StartedAt      *time.Time `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

func (r *planRow) toModel() *models.ExecutionPlan {
	p := &models.ExecutionPlan{
		ID:               r.ID,
		SessionID:        r.SessionID,
		UserQuery:        r.UserQuery,
		Summary:          r.Summary,
		Status:           models.PlanStatus(r.Status),
		TotalActions:     r.TotalActions,
		CompletedActions: r.CompletedActions,
		FailedActions:    r.FailedActions,
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}
	if r.ErrorMessage != nil {
		p.ErrorMessage = *r.ErrorMessage
	}
	return p
}

func (r *actionRow) toModel() (*models.PlannedAction, error) {
	a := &models.PlannedAction{
		ID:             r.ID,
		PlanID:         r.PlanID,
		Type:           models.ActionType(r.Type),
		Name:           r.Name,
		Description:    r.Description,
		ToolName:       r.ToolName,
		Status:         models.ActionStatus(r.Status),
		ExecutionOrder: r.ExecutionOrder,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
	if r.ErrorMessage != nil {
		a.ErrorMessage = *r.ErrorMessage
	}
	if len(r.Arguments) > 0 {
		if err := json.Unmarshal(r.Arguments, &a.Arguments); err != nil {
			return nil, fmt.Errorf("failed to decode arguments for action %s: %w", r.ID, err)
		}
	}
	if len(r.DependsOn) > 0 {
		if err := json.Unmarshal(r.DependsOn, &a.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to decode depends_on for action %s: %w", r.ID, err)
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &a.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for action %s: %w", r.ID, err)
		}
	}
	return a, nil
}

// validatePlan checks structural integrity before the plan hits the database.
func validatePlan(plan *models.ExecutionPlan) error {
	if plan == nil {
		return NewValidationError("plan", "plan is required")
	}
	if plan.ID == "" {
		return NewValidationError("plan_id", "plan ID is required")
	}
	if plan.SessionID == "" {
		return NewValidationError("session_id", "session ID is required")
	}
	if !plan.Status.IsValid() {
		return NewValidationError("status", fmt.Sprintf("invalid plan status: %s", plan.Status))
	}
	seen := make(map[string]bool, len(plan.Actions))
	for _, a := range plan.Actions {
		if a.ID == "" {
			return NewValidationError("action_id", "action ID is required")
		}
		if seen[a.ID] {
			return NewValidationError("action_id", fmt.Sprintf("duplicate action ID: %s", a.ID))
		}
		seen[a.ID] = true
		if !a.Type.IsValid() {
			return NewValidationError("type", fmt.Sprintf("invalid action type: %s", a.Type))
		}
		if a.Name == "" {
			return NewValidationError("name", fmt.Sprintf("action %s has no name", a.ID))
		}
		if a.Type == models.ActionTypeToolCall && a.ToolName == "" {
			return NewValidationError("tool_name", fmt.Sprintf("tool_call action %s has no tool name", a.ID))
		}
	}
	for _, a := range plan.Actions {
		for _, dep := range a.DependsOn {
			if !seen[dep] {
				return NewValidationError("depends_on", fmt.Sprintf("action %s depends on unknown action %s", a.ID, dep))
			}
		}
	}
	return nil
}

// CreatePlan persists the plan and all of its actions atomically. The plan
// becomes visible to readers only after the transaction commits.
func (s *PlanStore) CreatePlan(ctx context.Context, plan *models.ExecutionPlan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}

	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusNew
	}
	plan.RecountActions()

	// Use background context with timeout: plan creation must complete even
	// if the caller's context is cancelled mid-write.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(writeCtx, `
		INSERT INTO plans (id, session_id, user_query, summary, status,
			total_actions, completed_actions, failed_actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		plan.ID, plan.SessionID, plan.UserQuery, plan.Summary, string(plan.Status),
		plan.TotalActions, plan.CompletedActions, plan.FailedActions, plan.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("plan %s: %w", plan.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	for _, a := range plan.Actions {
		a.PlanID = plan.ID
		if a.Status == "" {
			a.Status = models.ActionStatusPending
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		args, err := marshalJSONColumn(a.Arguments, "{}")
		if err != nil {
			return fmt.Errorf("failed to encode arguments for action %s: %w", a.ID, err)
		}
		deps, err := marshalJSONColumn(a.DependsOn, "[]")
		if err != nil {
			return fmt.Errorf("failed to encode depends_on for action %s: %w", a.ID, err)
		}
		_, err = tx.ExecContext(writeCtx, `
			INSERT INTO actions (id, plan_id, type, name, description, tool_name,
				arguments, depends_on, status, execution_order, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11)`,
			a.ID, a.PlanID, string(a.Type), a.Name, a.Description, a.ToolName,
			args, deps, string(a.Status), a.ExecutionOrder, a.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("action %s: %w", a.ID, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to insert action %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan creation: %w", err)
	}
	return nil
}

// GetPlan returns the plan with all actions ordered by execution_order.
func (s *PlanStore) GetPlan(ctx context.Context, planID string) (*models.ExecutionPlan, error) {
	if planID == "" {
		return nil, NewValidationError("plan_id", "plan ID is required")
	}
	return s.hydratePlan(ctx, s.db, planID)
}

// queryer covers *sqlx.DB and *sqlx.Tx so hydration works inside and
// outside transactions.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (s *PlanStore) hydratePlan(ctx context.Context, q queryer, planID string) (*models.ExecutionPlan, error) {
	var pr planRow
	err := q.GetContext(ctx, &pr, `
		SELECT id, session_id, user_query, summary, status, total_actions,
			completed_actions, failed_actions, error_message, created_at, started_at, completed_at
		FROM plans WHERE id = $1`, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get plan %s: %w", planID, err)
	}

	var rows []actionRow
	err = q.SelectContext(ctx, &rows, `
		SELECT id, plan_id, type, name, description, tool_name, arguments, depends_on,
			status, execution_order, result, error_message, created_at, started_at, completed_at
		FROM actions WHERE plan_id = $1 ORDER BY execution_order`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to get actions for plan %s: %w", planID, err)
	}

	plan := pr.toModel()
	plan.Actions = make([]*models.PlannedAction, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		plan.Actions = append(plan.Actions, a)
	}
	return plan, nil
}

// ActivePlan returns the most recent non-terminal plan for the session, or
// ErrNotFound when every plan has settled.
func (s *PlanStore) ActivePlan(ctx context.Context, sessionID string) (*models.ExecutionPlan, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	var planID string
	err := s.db.GetContext(ctx, &planID, `
		SELECT id FROM plans
		WHERE session_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`,
		sessionID, string(models.PlanStatusNew), string(models.PlanStatusInProgress))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active plan for session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query active plan: %w", err)
	}
	return s.hydratePlan(ctx, s.db, planID)
}

// LatestPlan returns the most recently created plan for the session
// regardless of status, or ErrNotFound when the session has no plans.
func (s *PlanStore) LatestPlan(ctx context.Context, sessionID string) (*models.ExecutionPlan, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	var planID string
	err := s.db.GetContext(ctx, &planID, `
		SELECT id FROM plans WHERE session_id = $1
		ORDER BY created_at DESC LIMIT 1`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("latest plan for session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query latest plan: %w", err)
	}
	return s.hydratePlan(ctx, s.db, planID)
}

// UpdatePlanStatus transitions the plan and returns it fully hydrated from
// the same transaction. Non-monotonic transitions are rejected. The first
// move to in_progress stamps started_at; terminal states stamp completed_at.
func (s *PlanStore) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) (*models.ExecutionPlan, error) {
	return s.updatePlanStatus(ctx, planID, status, "")
}

// FailPlan marks the plan failed and records a plan-level error message,
// used for deadlocks and startup recovery where no single action is at fault.
func (s *PlanStore) FailPlan(ctx context.Context, planID, errorMessage string) (*models.ExecutionPlan, error) {
	return s.updatePlanStatus(ctx, planID, models.PlanStatusFailed, errorMessage)
}

func (s *PlanStore) updatePlanStatus(ctx context.Context, planID string, status models.PlanStatus, errorMessage string) (*models.ExecutionPlan, error) {
	if planID == "" {
		return nil, NewValidationError("plan_id", "plan ID is required")
	}
	if !status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("invalid plan status: %s", status))
	}

	// Status writes survive caller cancellation: a cancelled turn still has
	// to leave the plan in a consistent terminal state.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(writeCtx, &current, `SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock plan %s: %w", planID, err)
	}

	from := models.PlanStatus(current)
	if from != status && !from.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: plan %s cannot move from %s to %s", ErrInvalidInput, planID, from, status)
	}

	if from != status {
		var errMsg any
		if errorMessage != "" {
			errMsg = errorMessage
		}
		_, err = tx.ExecContext(writeCtx, `
			UPDATE plans SET
				status = $2,
				error_message = COALESCE($3, error_message),
				started_at = CASE WHEN $2 = 'in_progress' THEN COALESCE(started_at, now()) ELSE started_at END,
				completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN COALESCE(completed_at, now()) ELSE completed_at END
			WHERE id = $1`, planID, string(status), errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to update plan %s status: %w", planID, err)
		}
	}

	plan, err := s.hydratePlan(writeCtx, tx, planID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plan status update: %w", err)
	}
	return plan, nil
}

// UpdateActionStatus transitions one action, refreshes the plan counters and
// returns the hydrated plan from the same transaction. Transitions that skip
// or rewind the chain pending → starting → in_progress → terminal are
// rejected with InvalidTransitionError and nothing is written.
func (s *PlanStore) UpdateActionStatus(ctx context.Context, actionID string, status models.ActionStatus, result any, errorMessage string) (*models.ExecutionPlan, error) {
	if actionID == "" {
		return nil, NewValidationError("action_id", "action ID is required")
	}
	if !status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("invalid action status: %s", status))
	}

	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode action result: %w", err)
		}
		resultJSON = string(b)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		PlanID string `db:"plan_id"`
		Status string `db:"status"`
	}
	err = tx.GetContext(writeCtx, &row, `SELECT plan_id, status FROM actions WHERE id = $1 FOR UPDATE`, actionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock action %s: %w", actionID, err)
	}

	from := models.ActionStatus(row.Status)
	if !from.CanTransitionTo(status) {
		return nil, &InvalidTransitionError{ActionID: actionID, From: from, To: status}
	}

	var errMsg any
	if errorMessage != "" {
		errMsg = errorMessage
	}
	_, err = tx.ExecContext(writeCtx, `
		UPDATE actions SET
			status = $2,
			result = COALESCE($3::jsonb, result),
			error_message = COALESCE($4, error_message),
			started_at = CASE WHEN $2 = 'starting' THEN COALESCE(started_at, now()) ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN COALESCE(completed_at, now()) ELSE completed_at END
		WHERE id = $1`, actionID, string(status), resultJSON, errMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to update action %s status: %w", actionID, err)
	}

	_, err = tx.ExecContext(writeCtx, `
		UPDATE plans SET
			completed_actions = (SELECT count(*) FROM actions WHERE plan_id = $1 AND status = 'completed'),
			failed_actions = (SELECT count(*) FROM actions WHERE plan_id = $1 AND status = 'failed')
		WHERE id = $1`, row.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh plan counters: %w", err)
	}

	plan, err := s.hydratePlan(writeCtx, tx, row.PlanID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit action status update: %w", err)
	}
	return plan, nil
}

// CancelRemaining marks every non-terminal action of the plan cancelled and
// moves the plan to cancelled. Used when the client disconnects mid-turn:
// actions that already settled keep their status and results.
func (s *PlanStore) CancelRemaining(ctx context.Context, planID string) (*models.ExecutionPlan, error) {
	if planID == "" {
		return nil, NewValidationError("plan_id", "plan ID is required")
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(writeCtx, &current, `SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock plan %s: %w", planID, err)
	}

	from := models.PlanStatus(current)
	if !from.IsTerminal() {
		_, err = tx.ExecContext(writeCtx, `
			UPDATE actions SET status = 'cancelled', completed_at = now()
			WHERE plan_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, planID)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel remaining actions: %w", err)
		}
		_, err = tx.ExecContext(writeCtx, `
			UPDATE plans SET status = 'cancelled', completed_at = COALESCE(completed_at, now())
			WHERE id = $1`, planID)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel plan %s: %w", planID, err)
		}
	}

	plan, err := s.hydratePlan(writeCtx, tx, planID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plan cancellation: %w", err)
	}
	return plan, nil
}

// RecoverOrphanedPlans performs a one-time startup sweep: every plan left
// new or in_progress by a previous run is marked failed so the next user
// turn starts from a clean slate. Sessions are pinned to one instance, so
// any non-terminal plan found at startup is necessarily orphaned.
func (s *PlanStore) RecoverOrphanedPlans(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET
			status = 'failed',
			error_message = $1,
			completed_at = COALESCE(completed_at, now())
		WHERE status IN ('new', 'in_progress')`, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned plans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recovered plans: %w", err)
	}
	if n > 0 {
		slog.Warn("Recovered orphaned plans from previous run", "count", n, "reason", reason)
	}
	return n, nil
}

// marshalJSONColumn encodes v for a jsonb column, substituting empty for nil.
func marshalJSONColumn(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// isUniqueViolation matches PostgreSQL unique constraint errors (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
