package rule

import "strings"

// ResolveSmartValues substitutes {{...}} placeholders in action config text
// with values from the evaluation context. Unknown placeholders are left
// untouched.
func ResolveSmartValues(text string, ctx *EvalContext) string {
	iss := ctx.Issue
	if iss == nil || !strings.Contains(text, "{{") {
		return text
	}

	values := map[string]string{
		"issue.key":            iss.Key,
		"issue.summary":        iss.Summary,
		"issue.description":    iss.Description,
		"issue.status":         iss.StatusName,
		"issue.priority":       iss.PriorityName,
		"issue.assignee":       iss.AssigneeName,
		"issue.assignee.email": iss.AssigneeEmail,
		"issue.reporter":       iss.ReporterName,
		"issue.reporter.email": iss.ReporterEmail,
		"project.key":          iss.ProjectKey,
		"project.name":         iss.ProjectName,
	}

	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
