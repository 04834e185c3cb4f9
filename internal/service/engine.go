// Package service wires the domain logic to the ports: the automation
// engine, the event fan-out, the webhook dispatcher, the delivery executor
// and the retry sweeper.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	qotel "github.com/quarryhq/quarry/internal/adapter/otel"
	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/internal/domain/event"
	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/port/actions"
	"github.com/quarryhq/quarry/internal/port/cache"
	"github.com/quarryhq/quarry/internal/port/database"
)

// Engine evaluates automation rules against event envelopes. Every rule
// evaluation leaves an execution record, created in a failed state before
// evaluation starts and finalized exactly once, so a crash mid-pipeline is
// still visible in the audit trail.
type Engine struct {
	store     database.Store
	cache     cache.Cache
	performer actions.Performer
	metrics   *qotel.Metrics
	log       *slog.Logger

	ruleTimeout   time.Duration
	actionTimeout time.Duration
	cacheTTL      time.Duration

	// onExecuted is invoked after each finalized execution; the fan-out uses
	// it to emit automation:executed webhook events.
	onExecuted func(ctx context.Context, r *rule.Rule, e *rule.Execution)
}

// NewEngine creates an Engine with all dependencies.
func NewEngine(store database.Store, c cache.Cache, performer actions.Performer,
	metrics *qotel.Metrics, log *slog.Logger, engineCfg config.Engine, cacheCfg config.Cache) *Engine {
	return &Engine{
		store:         store,
		cache:         c,
		performer:     performer,
		metrics:       metrics,
		log:           log,
		ruleTimeout:   engineCfg.RuleTimeout,
		actionTimeout: engineCfg.ActionTimeout,
		cacheTTL:      cacheCfg.TTL,
	}
}

// SetOnExecuted registers a callback invoked after each finalized execution.
func (e *Engine) SetOnExecuted(fn func(ctx context.Context, r *rule.Rule, ex *rule.Execution)) {
	e.onExecuted = fn
}

// ProcessEnvelope fans an envelope out into its trigger categories and runs
// every matching rule. Rule failures are recorded in execution records and
// never propagate; only infrastructure errors (rule lookup) are returned so
// the queue can redeliver.
func (e *Engine) ProcessEnvelope(ctx context.Context, env *event.Envelope) error {
	ctx, span := qotel.StartDispatchSpan(ctx, env.ID, string(env.Type))
	defer span.End()

	for _, d := range rule.Dispatches(env) {
		rules, err := e.activeRules(ctx, env.OrganizationID, d.Category, env.ProjectID)
		if err != nil {
			return fmt.Errorf("process envelope %s: %w", env.ID, err)
		}

		for i := range rules {
			r := &rules[i]
			if !r.Matches(d) {
				continue
			}
			e.ExecuteRule(ctx, r, d)
		}
	}
	return nil
}

// ExecuteRule runs the full evaluation pipeline for one rule and one
// dispatch: execution record, trigger re-check, conditions, actions,
// finalize. It never panics and never returns an error; every outcome lands
// in the execution record.
func (e *Engine) ExecuteRule(ctx context.Context, r *rule.Rule, d rule.Dispatch) {
	ctx, span := qotel.StartRuleSpan(ctx, r.ID, string(r.TriggerType))
	defer span.End()

	env := d.Envelope
	start := time.Now()

	snapshot, err := json.Marshal(env)
	if err != nil {
		e.log.Error("marshal envelope snapshot", "rule_id", r.ID, "error", err)
		snapshot = nil
	}

	exec := &rule.Execution{
		RuleID:       r.ID,
		SubjectID:    env.SubjectID,
		TriggerEvent: snapshot,
		Status:       rule.ExecutionFailed,
		ErrorMessage: "execution did not complete",
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.log.Error("create execution record", "rule_id", r.ID, "error", err)
		return
	}

	ruleCtx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			exec.MarkFailed(fmt.Sprintf("panic: %v", p), nil, time.Since(start))
			e.finalize(ctx, r, exec)
		}
	}()

	if !rule.MatchTrigger(r.TriggerType, r.TriggerConfig, d) {
		exec.MarkFailed("Rule did not match event", nil, time.Since(start))
		e.finalize(ctx, r, exec)
		return
	}

	evalCtx := &rule.EvalContext{
		Issue:    env.Issue,
		Actor:    env.Actor,
		Envelope: env,
		Changes:  env.Changes,
	}

	passed, condResults := rule.EvaluateConditions(r.Conditions, evalCtx)
	if !passed {
		exec.MarkFailed("Conditions not met", condResults, time.Since(start))
		e.finalize(ctx, r, exec)
		return
	}

	actResults := e.executeActions(ruleCtx, r, evalCtx)

	allOK := true
	for _, res := range actResults {
		if !res.Success {
			allOK = false
			break
		}
	}
	if allOK {
		exec.MarkSuccess(condResults, actResults, time.Since(start))
	} else {
		exec.MarkPartial(condResults, actResults, time.Since(start))
	}

	e.finalize(ctx, r, exec)

	if err := e.store.IncrementRuleExecution(ctx, r.ID, time.Now().UTC()); err != nil {
		e.log.Error("increment rule execution", "rule_id", r.ID, "error", err)
	}
}

// finalize writes the terminal execution state and fires the executed hook.
func (e *Engine) finalize(ctx context.Context, r *rule.Rule, exec *rule.Execution) {
	if err := e.store.FinalizeExecution(ctx, exec); err != nil {
		e.log.Error("finalize execution", "execution_id", exec.ID, "rule_id", exec.RuleID, "error", err)
		return
	}

	e.log.Info("rule executed",
		"rule_id", exec.RuleID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration_ms", exec.DurationMS)

	if e.metrics != nil {
		e.metrics.RulesExecuted.Add(ctx, 1)
		if exec.Status == rule.ExecutionFailed {
			e.metrics.RulesFailed.Add(ctx, 1)
		}
		e.metrics.RuleDuration.Record(ctx, float64(exec.DurationMS)/1000)
	}

	if e.onExecuted != nil {
		e.onExecuted(ctx, r, exec)
	}
}

// activeRules returns the active rules for one org/trigger/project, served
// from the L1 cache when fresh. Staleness is bounded by the cache TTL.
func (e *Engine) activeRules(ctx context.Context, orgID string, trigger rule.TriggerType, projectID string) ([]rule.Rule, error) {
	key := cache.RuleSetKey(orgID, string(trigger), projectID)

	if data, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var rules []rule.Rule
		if err := json.Unmarshal(data, &rules); err == nil {
			return rules, nil
		}
		// Corrupt entry; fall through to the store.
	}

	rules, err := e.store.ListActiveRules(ctx, orgID, trigger, projectID)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}

	if data, err := json.Marshal(rules); err == nil {
		if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
			e.log.Warn("cache rule set", "key", key, "error", err)
		}
	}
	return rules, nil
}
