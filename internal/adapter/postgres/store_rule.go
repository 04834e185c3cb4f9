package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quarryhq/quarry/internal/domain/rule"
)

const ruleColumns = `id, organization_id, project_id, name, description,
	trigger_type, trigger_config, conditions, actions,
	is_active, execution_count, last_executed_at,
	created_at, updated_at, deleted_at`

func (s *Store) ListActiveRules(ctx context.Context, orgID string, trigger rule.TriggerType, projectID string) ([]rule.Rule, error) {
	// Org-wide rules (project_id IS NULL) match events from every project.
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+`
		 FROM automation_rules
		 WHERE organization_id = $1 AND trigger_type = $2
		   AND is_active AND deleted_at IS NULL
		   AND (project_id IS NULL OR project_id = $3)
		 ORDER BY created_at`,
		orgID, trigger, nullIfEmpty(projectID))
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	var rules []rule.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, id string) (*rule.Rule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1 AND deleted_at IS NULL`, id)

	r, err := scanRule(row)
	if err != nil {
		return nil, notFoundWrap(err, "get rule %s", id)
	}
	return &r, nil
}

func (s *Store) CreateRule(ctx context.Context, r *rule.Rule) error {
	triggerCfg, conditions, actions, err := marshalRuleJSON(r)
	if err != nil {
		return err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO automation_rules
		   (organization_id, project_id, name, description,
		    trigger_type, trigger_config, conditions, actions, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		r.OrganizationID, nullIfEmpty(r.ProjectID), r.Name, r.Description,
		r.TriggerType, triggerCfg, conditions, actions, r.IsActive)

	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, r *rule.Rule) error {
	triggerCfg, conditions, actions, err := marshalRuleJSON(r)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_rules
		 SET name = $2, description = $3, trigger_type = $4, trigger_config = $5,
		     conditions = $6, actions = $7, is_active = $8, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		r.ID, r.Name, r.Description, r.TriggerType, triggerCfg, conditions, actions, r.IsActive)
	return execExpectOne(tag, err, "update rule %s", r.ID)
}

func (s *Store) SoftDeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_rules SET deleted_at = now(), is_active = false
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	return execExpectOne(tag, err, "delete rule %s", id)
}

func (s *Store) IncrementRuleExecution(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_rules
		 SET execution_count = execution_count + 1, last_executed_at = $2
		 WHERE id = $1`, id, at)
	return execExpectOne(tag, err, "increment rule execution %s", id)
}

func marshalRuleJSON(r *rule.Rule) (triggerCfg, conditions, actions []byte, err error) {
	cfg := r.TriggerConfig
	if cfg == nil {
		cfg = rule.Config{}
	}
	if triggerCfg, err = json.Marshal(cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal trigger config: %w", err)
	}
	conds := r.Conditions
	if conds == nil {
		conds = []rule.ConditionSpec{}
	}
	if conditions, err = json.Marshal(conds); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal conditions: %w", err)
	}
	acts := r.Actions
	if acts == nil {
		acts = []rule.ActionSpec{}
	}
	if actions, err = json.Marshal(acts); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal actions: %w", err)
	}
	return triggerCfg, conditions, actions, nil
}

func scanRule(row scannable) (rule.Rule, error) {
	var (
		r          rule.Rule
		projectID  *string
		triggerCfg []byte
		conditions []byte
		actions    []byte
	)
	err := row.Scan(&r.ID, &r.OrganizationID, &projectID, &r.Name, &r.Description,
		&r.TriggerType, &triggerCfg, &conditions, &actions,
		&r.IsActive, &r.ExecutionCount, &r.LastExecutedAt,
		&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if err != nil {
		return rule.Rule{}, err
	}

	r.ProjectID = derefOrEmpty(projectID)
	if err := json.Unmarshal(triggerCfg, &r.TriggerConfig); err != nil {
		return rule.Rule{}, fmt.Errorf("unmarshal trigger config: %w", err)
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return rule.Rule{}, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return rule.Rule{}, fmt.Errorf("unmarshal actions: %w", err)
	}
	return r, nil
}
