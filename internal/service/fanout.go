package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quarryhq/quarry/internal/domain/event"
	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/domain/webhook"
	"github.com/quarryhq/quarry/internal/port/messagequeue"
)

// Fanout consumes event envelopes from the bus and feeds both downstream
// consumers: the automation engine and the webhook dispatcher. The two
// branches are isolated; a failure in one never blocks the other, and
// neither ever blocks the domain mutation that produced the event.
type Fanout struct {
	engine     *Engine
	dispatcher *Dispatcher
	queue      messagequeue.Queue
	log        *slog.Logger
}

// NewFanout creates a Fanout and registers the automation:executed bridge on
// the engine.
func NewFanout(engine *Engine, dispatcher *Dispatcher, queue messagequeue.Queue, log *slog.Logger) *Fanout {
	f := &Fanout{
		engine:     engine,
		dispatcher: dispatcher,
		queue:      queue,
		log:        log,
	}
	engine.SetOnExecuted(f.emitAutomationExecuted)
	return f
}

// Start subscribes the fan-out to the issue event subject. The returned
// function cancels the subscription.
func (f *Fanout) Start(ctx context.Context) (func(), error) {
	return f.queue.Subscribe(ctx, messagequeue.SubjectIssueEvents, f.handleEvent)
}

// handleEvent decodes one envelope and runs both consumer branches.
// Branch failures are logged, not returned: redelivering the event would
// re-run the branch that already succeeded, and both branches record their
// own outcomes durably.
func (f *Fanout) handleEvent(ctx context.Context, _ string, data []byte) error {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	if err := f.engine.ProcessEnvelope(ctx, &env); err != nil {
		f.log.Error("automation branch failed", "event_id", env.ID, "error", err)
	}

	if err := f.broadcastEnvelope(ctx, &env); err != nil {
		f.log.Error("webhook branch failed", "event_id", env.ID, "error", err)
	}

	return nil
}

// broadcastEnvelope maps the envelope to its webhook event tags and
// broadcasts each one. An issue_updated envelope additionally emits
// issue:transitioned on a status change and issue:assigned on an assignee
// change, mirroring the trigger synthesis on the automation side.
func (f *Fanout) broadcastEnvelope(ctx context.Context, env *event.Envelope) error {
	var firstErr error
	emit := func(eventType string) {
		err := f.dispatcher.Broadcast(ctx, env.OrganizationID, env.ProjectID, eventType, env.ID, env)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	switch env.Type {
	case event.TypeIssueCreated:
		emit(webhook.EventIssueCreated)
	case event.TypeIssueDeleted:
		emit(webhook.EventIssueDeleted)
	case event.TypeCommentAdded:
		emit(webhook.EventIssueCommented)
	case event.TypeIssueUpdated:
		emit(webhook.EventIssueUpdated)
		if env.FieldChanged("status") {
			emit(webhook.EventIssueTransitioned)
		}
		if env.FieldChanged("assignee") {
			emit(webhook.EventIssueAssigned)
		}
	}
	return firstErr
}

// emitAutomationExecuted broadcasts a webhook event for a finalized rule
// execution. Automation events carry no rule triggers, so this cannot
// recurse into the engine.
func (f *Fanout) emitAutomationExecuted(ctx context.Context, r *rule.Rule, ex *rule.Execution) {
	data := map[string]any{
		"rule_id":      ex.RuleID,
		"rule_name":    r.Name,
		"execution_id": ex.ID,
		"subject_id":   ex.SubjectID,
		"status":       ex.Status,
		"duration_ms":  ex.DurationMS,
	}
	err := f.dispatcher.Broadcast(ctx, r.OrganizationID, r.ProjectID, webhook.EventAutomationExecuted, ex.ID, data)
	if err != nil {
		f.log.Error("broadcast automation:executed", "execution_id", ex.ID, "error", err)
	}
}
