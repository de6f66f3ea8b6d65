// internal/sync/merge.go
package sync

import (
	"workspace-sync-service/internal/remote"
	"workspace-sync-service/pkg/models"
)

// ApplyRemote writes a remote state into the local row. Frozen fields keep
// their local value and base until their conflict is resolved; dirty fields
// keep their local value while the base follows the remote (the remote side
// is either unchanged or converged there); everything else takes the remote
// value. Sync bookkeeping always advances.
func ApplyRemote(e *models.SyncedEntity, re remote.RemoteEntity, frozen []string) {
	dirty := e.ModifiedFieldList()
	base := e.BaseValues()
	for _, field := range models.TrackedFields(e.Kind) {
		rv, ok := re.Fields[field]
		if !ok {
			continue
		}
		switch {
		case containsStr(frozen, field):
			// keep local value and base until the conflict is resolved
		case containsStr(dirty, field):
			base[field] = rv
		default:
			_ = e.SetField(field, rv)
			base[field] = rv
		}
	}
	e.Base = models.EncodeFieldValues(base)
	e.Raw = re.Raw
	if re.Space != "" {
		e.Space = re.Space
	}
	if re.Version > 0 {
		e.Version = re.Version
	}
	e.RemoteUpdatedAt = re.UpdatedAt
	synced := re.UpdatedAt
	e.LastSyncedAt = &synced
}
