package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/quarryhq/quarry/internal/domain"
	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/port/database"
)

const executionColumns = `id, rule_id, subject_id, trigger_event,
	status, conditions_passed, conditions_result, actions_result,
	error_message, duration_ms, created_at`

func (s *Store) CreateExecution(ctx context.Context, e *rule.Execution) error {
	condResult, actResult, err := marshalExecutionJSON(e)
	if err != nil {
		return err
	}

	triggerEvent := e.TriggerEvent
	if len(triggerEvent) == 0 {
		triggerEvent = json.RawMessage("null")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO automation_executions
		   (rule_id, subject_id, trigger_event, status, conditions_passed,
		    conditions_result, actions_result, error_message, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		e.RuleID, nullIfEmpty(e.SubjectID), []byte(triggerEvent), e.Status,
		e.ConditionsPassed, condResult, actResult, e.ErrorMessage, e.DurationMS)

	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *Store) FinalizeExecution(ctx context.Context, e *rule.Execution) error {
	condResult, actResult, err := marshalExecutionJSON(e)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_executions
		 SET status = $2, conditions_passed = $3, conditions_result = $4,
		     actions_result = $5, error_message = $6, duration_ms = $7,
		     finalized_at = now()
		 WHERE id = $1 AND finalized_at IS NULL`,
		e.ID, e.Status, e.ConditionsPassed, condResult, actResult,
		e.ErrorMessage, e.DurationMS)
	if err != nil {
		return fmt.Errorf("finalize execution %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "already finalized" from "no such execution".
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM automation_executions WHERE id = $1)`, e.ID).Scan(&exists); err != nil {
			return fmt.Errorf("finalize execution %s: %w", e.ID, err)
		}
		if exists {
			return fmt.Errorf("finalize execution %s: %w", e.ID, domain.ErrConflict)
		}
		return fmt.Errorf("finalize execution %s: %w", e.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, f database.ExecutionFilter) ([]rule.Execution, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.RuleID != "" {
		add("rule_id = ?", f.RuleID)
	}
	if f.SubjectID != "" {
		add("subject_id = ?", f.SubjectID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Since != nil {
		add("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		add("created_at < ?", *f.Until)
	}

	query := `SELECT ` + executionColumns + ` FROM automation_executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []rule.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func marshalExecutionJSON(e *rule.Execution) (condResult, actResult []byte, err error) {
	conds := e.ConditionsResult
	if conds == nil {
		conds = []rule.ConditionResult{}
	}
	if condResult, err = json.Marshal(conds); err != nil {
		return nil, nil, fmt.Errorf("marshal conditions result: %w", err)
	}
	acts := e.ActionsResult
	if acts == nil {
		acts = []rule.ActionResult{}
	}
	if actResult, err = json.Marshal(acts); err != nil {
		return nil, nil, fmt.Errorf("marshal actions result: %w", err)
	}
	return condResult, actResult, nil
}

func scanExecution(row scannable) (rule.Execution, error) {
	var (
		e            rule.Execution
		subjectID    *string
		triggerEvent []byte
		condResult   []byte
		actResult    []byte
	)
	err := row.Scan(&e.ID, &e.RuleID, &subjectID, &triggerEvent,
		&e.Status, &e.ConditionsPassed, &condResult, &actResult,
		&e.ErrorMessage, &e.DurationMS, &e.CreatedAt)
	if err != nil {
		return rule.Execution{}, err
	}

	e.SubjectID = derefOrEmpty(subjectID)
	e.TriggerEvent = json.RawMessage(triggerEvent)
	if err := json.Unmarshal(condResult, &e.ConditionsResult); err != nil {
		return rule.Execution{}, fmt.Errorf("unmarshal conditions result: %w", err)
	}
	if err := json.Unmarshal(actResult, &e.ActionsResult); err != nil {
		return rule.Execution{}, fmt.Errorf("unmarshal actions result: %w", err)
	}
	return e, nil
}
