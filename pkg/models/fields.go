// pkg/models/fields.go
package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"gorm.io/datatypes"
)

// FieldValues is a flat map of typed snapshot fields (field name → value).
// Values are strings, []string (labels), or nil.
type FieldValues map[string]any

// TrackedFields returns the typed fields the conflict detector compares for a
// given kind. Order is stable so diffs and logs stay deterministic.
func TrackedFields(kind EntityKind) []string {
	switch kind {
	case KindPage:
		return []string{FieldTitle, FieldStatus, FieldBody, FieldLabels, FieldParentID}
	default:
		return []string{FieldTitle, FieldStatus, FieldBody, FieldPriority, FieldAssignee, FieldLabels}
	}
}

// PushableFields returns the subset of tracked fields the pusher may write
// back to the remote service. Issue status is excluded on purpose: the tracker
// only accepts status changes through its transition endpoint.
func PushableFields(kind EntityKind) []string {
	switch kind {
	case KindPage:
		return []string{FieldTitle, FieldBody, FieldLabels}
	default:
		return []string{FieldTitle, FieldBody, FieldPriority, FieldLabels}
	}
}

// IsPushable reports whether field may be pushed for the given kind.
func IsPushable(kind EntityKind, field string) bool {
	for _, f := range PushableFields(kind) {
		if f == field {
			return true
		}
	}
	return false
}

// FieldEqual compares two field values, treating label slices as unordered
// sets and nil as the empty value of either type.
func FieldEqual(a, b any) bool {
	ca, cb := canonField(a), canonField(b)
	switch va := ca.(type) {
	case string:
		vb, ok := cb.(string)
		return ok && va == vb
	case []string:
		vb, ok := cb.([]string)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if va[i] != vb[i] {
				return false
			}
		}
		return true
	default:
		return ca == cb
	}
}

// canonField normalizes a field value for comparison: slices become sorted
// []string, nil and empty collapse to "", everything else is stringified. An
// empty label list and an absent one are the same value.
func canonField(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		if len(t) == 0 {
			return ""
		}
		out := append([]string(nil), t...)
		sort.Strings(out)
		return out
	case []any:
		if len(t) == 0 {
			return ""
		}
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprintf("%v", e))
		}
		sort.Strings(out)
		return out
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Snapshot returns the entity's current typed field values.
func (e *SyncedEntity) Snapshot() FieldValues {
	fv := FieldValues{}
	for _, f := range TrackedFields(e.Kind) {
		fv[f] = e.FieldValue(f)
	}
	return fv
}

// FieldValue returns the current value of one typed field.
func (e *SyncedEntity) FieldValue(field string) any {
	switch field {
	case FieldTitle:
		return e.Title
	case FieldStatus:
		return e.Status
	case FieldBody:
		return e.Body
	case FieldPriority:
		return e.Priority
	case FieldAssignee:
		return e.Assignee
	case FieldLabels:
		return e.LabelList()
	case FieldParentID:
		return e.ParentID
	}
	return nil
}

// SetField writes one typed field. Unknown names are rejected so arbitrary
// payload keys cannot leak into the typed snapshot.
func (e *SyncedEntity) SetField(field string, value any) error {
	switch field {
	case FieldTitle:
		e.Title = asString(value)
	case FieldStatus:
		e.Status = asString(value)
	case FieldBody:
		e.Body = asString(value)
	case FieldPriority:
		e.Priority = asString(value)
	case FieldAssignee:
		e.Assignee = asString(value)
	case FieldLabels:
		e.Labels = mustJSON(toStringSlice(value))
	case FieldParentID:
		e.ParentID = asString(value)
	default:
		return fmt.Errorf("unknown entity field %q", field)
	}
	return nil
}

// LabelList decodes the Labels column into a string slice.
func (e *SyncedEntity) LabelList() []string {
	return decodeStringSlice(e.Labels)
}

// ModifiedFieldList decodes the dirty-field column into a string slice.
func (e *SyncedEntity) ModifiedFieldList() []string {
	return decodeStringSlice(e.LocalModifiedFields)
}

// SetModifiedFieldList encodes and stores the dirty-field set (sorted).
func (e *SyncedEntity) SetModifiedFieldList(fields []string) {
	if len(fields) == 0 {
		e.LocalModifiedFields = nil
		return
	}
	out := append([]string(nil), fields...)
	sort.Strings(out)
	e.LocalModifiedFields = mustJSON(out)
}

// BaseValues decodes the last-synced typed snapshot. Missing base falls back
// to the current values, which makes a never-synced row self-consistent.
func (e *SyncedEntity) BaseValues() FieldValues {
	if len(e.Base) == 0 {
		return e.Snapshot()
	}
	return DecodeFieldValues(e.Base)
}

// DecodeFieldValues parses a stored JSON snapshot into FieldValues.
func DecodeFieldValues(raw datatypes.JSON) FieldValues {
	fv := FieldValues{}
	if len(raw) == 0 {
		return fv
	}
	_ = json.Unmarshal(raw, &fv)
	for k, v := range fv {
		if s, ok := v.([]any); ok {
			fv[k] = toStringSlice(s)
		}
	}
	return fv
}

// EncodeFieldValues serializes FieldValues for a JSON column.
func EncodeFieldValues(fv FieldValues) datatypes.JSON {
	return mustJSON(fv)
}

// StringList coerces a field value into a string slice (labels and target
// lists arrive as []any after a JSON round-trip).
func StringList(v any) []string {
	return toStringSlice(v)
}

func decodeStringSlice(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
