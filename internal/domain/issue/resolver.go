package issue

// FieldResolver resolves a field name against an issue snapshot. Native
// fields are tried first, then the custom-fields map; conditions depend on
// this order.
type FieldResolver interface {
	// ResolveNative returns the value of a built-in field.
	ResolveNative(name string) (value any, ok bool)
	// ResolveCustom returns the value of a custom field by key.
	ResolveCustom(key string) (value any, ok bool)
}

// Resolve tries native fields first, then custom fields.
func Resolve(r FieldResolver, name string) (any, bool) {
	if v, ok := r.ResolveNative(name); ok {
		return v, true
	}
	return r.ResolveCustom(name)
}

// ResolveNative implements FieldResolver for Issue. Reference fields resolve
// to their ID: rule configs store IDs, not display names.
func (i *Issue) ResolveNative(name string) (any, bool) {
	switch name {
	case "key":
		return i.Key, true
	case "summary":
		return i.Summary, true
	case "description":
		return i.Description, true
	case "status":
		return i.StatusID, true
	case "priority":
		return i.PriorityID, true
	case "issue_type":
		return i.TypeID, true
	case "assignee":
		return i.AssigneeID, true
	case "reporter":
		return i.ReporterID, true
	default:
		return nil, false
	}
}

// ResolveCustom implements FieldResolver for Issue.
func (i *Issue) ResolveCustom(key string) (any, bool) {
	if i.CustomFields == nil {
		return nil, false
	}
	v, ok := i.CustomFields[key]
	return v, ok
}
