package event

import (
	"reflect"
	"sort"

	"github.com/quarryhq/quarry/internal/domain/issue"
)

// ComputeChanges diffs two issue snapshots and returns the ordered list of
// changed field names plus the old/new pairs. The mutating collaborator calls
// this synchronously with the pre-save and post-save snapshots and passes the
// result into the envelope, so no state is stashed between hooks.
func ComputeChanges(previous, current *issue.Issue) ([]string, map[string]Change) {
	var fields []string
	changes := make(map[string]Change)

	if previous == nil || current == nil {
		return fields, changes
	}

	native := []struct {
		name     string
		old, new string
	}{
		{"status", previous.StatusID, current.StatusID},
		{"assignee", previous.AssigneeID, current.AssigneeID},
		{"priority", previous.PriorityID, current.PriorityID},
		{"summary", previous.Summary, current.Summary},
		{"description", previous.Description, current.Description},
	}
	for _, f := range native {
		if f.old != f.new {
			fields = append(fields, f.name)
			changes[f.name] = Change{Old: f.old, New: f.new}
		}
	}

	// Custom fields: union of keys from both sides, sorted for a stable order.
	keys := make(map[string]struct{}, len(previous.CustomFields)+len(current.CustomFields))
	for k := range previous.CustomFields {
		keys[k] = struct{}{}
	}
	for k := range current.CustomFields {
		keys[k] = struct{}{}
	}
	custom := make([]string, 0, len(keys))
	for k := range keys {
		custom = append(custom, k)
	}
	sort.Strings(custom)

	for _, k := range custom {
		oldVal := previous.CustomFields[k]
		newVal := current.CustomFields[k]
		if !reflect.DeepEqual(oldVal, newVal) {
			fields = append(fields, k)
			changes[k] = Change{Old: oldVal, New: newVal}
		}
	}

	return fields, changes
}
