// internal/sync/detector.go
package sync

import (
	"sort"

	"workspace-sync-service/pkg/models"
)

// DetectConflicts runs the three-way comparison for one entity: for every
// locally modified field, the remote's current value is held against the
// common base (the value at last sync). A field conflicts only when the
// remote moved it away from the base AND away from the current local value —
// two sides independently writing the same literal is not a conflict, and a
// field the remote never touched merges nothing and flags nothing.
func DetectConflicts(e *models.SyncedEntity, remoteFields models.FieldValues) []string {
	base := e.BaseValues()
	var conflicting []string
	for _, field := range e.ModifiedFieldList() {
		rv, ok := remoteFields[field]
		if !ok {
			continue
		}
		if models.FieldEqual(rv, base[field]) {
			continue // remote unchanged since base, local edit stands
		}
		if models.FieldEqual(rv, e.FieldValue(field)) {
			continue // both sides converged on the same value
		}
		conflicting = append(conflicting, field)
	}
	sort.Strings(conflicting)
	return conflicting
}
