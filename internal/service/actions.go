package service

import (
	"context"
	"fmt"

	"github.com/quarryhq/quarry/internal/domain/rule"
	"github.com/quarryhq/quarry/internal/port/actions"
)

// executeActions runs every action of a rule in order. Actions are
// independent side effects: a failure (or panic) in one is recorded and does
// not stop the siblings. Each action gets its own timeout.
func (e *Engine) executeActions(ctx context.Context, r *rule.Rule, evalCtx *rule.EvalContext) []rule.ActionResult {
	results := make([]rule.ActionResult, 0, len(r.Actions))
	for i, spec := range r.Actions {
		res := rule.ActionResult{Index: i, Type: spec.Type}

		actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
		detail, err := e.performAction(actionCtx, spec, evalCtx)
		cancel()

		if err != nil {
			res.Error = err.Error()
			e.log.Warn("action failed",
				"rule_id", r.ID, "action", spec.Type, "index", i, "error", err)
		} else {
			res.Success = true
			res.Detail = detail
		}
		results = append(results, res)
	}
	return results
}

// performAction dispatches one action through the performer port. Panics are
// converted to errors so a buggy collaborator only fails its own action.
func (e *Engine) performAction(ctx context.Context, spec rule.ActionSpec, evalCtx *rule.EvalContext) (detail map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			detail = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	iss := evalCtx.Issue
	if iss == nil {
		return nil, fmt.Errorf("no issue in context")
	}
	cfg := spec.Config

	switch spec.Type {
	case rule.ActionUpdateField:
		field := cfg.String("field")
		value := cfg["value"]
		if s, ok := value.(string); ok {
			value = rule.ResolveSmartValues(s, evalCtx)
		}
		if err := e.performer.UpdateField(ctx, iss.ID, field, value); err != nil {
			return nil, err
		}
		return map[string]any{"field": field, "value": value}, nil

	case rule.ActionAssignToUser:
		userRef := resolveUserRef(cfg.String("user"), evalCtx)
		if userRef == "" {
			return nil, fmt.Errorf("could not resolve assignee %q", cfg.String("user"))
		}
		name, err := e.performer.AssignIssue(ctx, iss.ID, userRef)
		if err != nil {
			return nil, err
		}
		return map[string]any{"assignee": name}, nil

	case rule.ActionTransitionIssue:
		statusName, err := e.performer.TransitionIssue(ctx, iss.ID, cfg.String("status"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": statusName}, nil

	case rule.ActionAddComment:
		body := rule.ResolveSmartValues(cfg.String("body"), evalCtx)
		authorID := actorID(evalCtx)
		commentID, err := e.performer.AddComment(ctx, iss.ID, authorID, body)
		if err != nil {
			return nil, err
		}
		return map[string]any{"comment_id": commentID}, nil

	case rule.ActionSendNotification:
		message := rule.ResolveSmartValues(cfg.String("message"), evalCtx)
		recipients := resolveRecipients(cfg, evalCtx)
		if len(recipients) == 0 {
			return nil, fmt.Errorf("no resolvable recipients")
		}
		if err := e.performer.SendNotification(ctx, recipients, message); err != nil {
			return nil, err
		}
		return map[string]any{"recipients": len(recipients)}, nil

	case rule.ActionCreateLinkedIssue:
		req := actions.LinkedIssueRequest{
			ProjectID:   iss.ProjectID,
			TypeID:      cfg.String("issue_type"),
			Summary:     rule.ResolveSmartValues(cfg.String("summary"), evalCtx),
			Description: rule.ResolveSmartValues(cfg.String("description"), evalCtx),
			ReporterID:  actorID(evalCtx),
			LinkType:    cfg.String("link_type"),
		}
		if req.LinkType == "" {
			req.LinkType = "relates_to"
		}
		key, err := e.performer.CreateLinkedIssue(ctx, iss.ID, req)
		if err != nil {
			return nil, err
		}
		return map[string]any{"issue_key": key}, nil

	default:
		// Unreachable for validated rules.
		return nil, fmt.Errorf("unknown action type %q", spec.Type)
	}
}

// resolveUserRef maps the assign_to_user sentinels to concrete user IDs.
func resolveUserRef(ref string, evalCtx *rule.EvalContext) string {
	switch ref {
	case "reporter":
		return evalCtx.Issue.ReporterID
	case "currentUser":
		if evalCtx.Actor == nil {
			return ""
		}
		return evalCtx.Actor.ID
	default:
		return ref
	}
}

// resolveRecipients maps recipient sentinels (assignee, reporter,
// currentUser) and literal user IDs to a concrete recipient list.
func resolveRecipients(cfg rule.Config, evalCtx *rule.EvalContext) []string {
	raw, ok := cfg["recipients"].([]any)
	if !ok {
		// Default to the issue assignee, falling back to the reporter.
		if evalCtx.Issue.AssigneeID != "" {
			return []string{evalCtx.Issue.AssigneeID}
		}
		if evalCtx.Issue.ReporterID != "" {
			return []string{evalCtx.Issue.ReporterID}
		}
		return nil
	}

	var out []string
	for _, r := range raw {
		ref, ok := r.(string)
		if !ok {
			continue
		}
		switch ref {
		case "assignee":
			ref = evalCtx.Issue.AssigneeID
		case "reporter":
			ref = evalCtx.Issue.ReporterID
		case "currentUser":
			if evalCtx.Actor == nil {
				ref = ""
			} else {
				ref = evalCtx.Actor.ID
			}
		}
		if ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

// actorID returns the acting user's ID, or an empty string for system events.
func actorID(evalCtx *rule.EvalContext) string {
	if evalCtx.Actor == nil {
		return ""
	}
	return evalCtx.Actor.ID
}
