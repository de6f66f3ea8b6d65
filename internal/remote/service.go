// internal/remote/service.go
package remote

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"workspace-sync-service/pkg/models"
)

// RemoteEntity is the service-agnostic view of one remote object: the typed
// snapshot fields plus the untouched payload.
type RemoteEntity struct {
	Kind      models.EntityKind
	ID        string
	Space     string // project key / space key
	Fields    models.FieldValues
	UpdatedAt time.Time // the remote's own modification timestamp
	Version   int       // wiki page version, 0 for issues
	Raw       datatypes.JSON
}

// ListPage is one page of a changed-since listing.
type ListPage struct {
	Entities  []RemoteEntity
	NextToken string // empty when this was the last page
}

// Service is the pull/push surface every remote offers: list changes since a
// watermark (paginated), fetch one entity, update a subset of its fields.
type Service interface {
	Kind() models.EntityKind
	ListUpdatedSince(ctx context.Context, since time.Time, pageToken string, limit int) (*ListPage, error)
	Get(ctx context.Context, id string) (*RemoteEntity, error)
	// UpdateFields writes only the given fields. version carries the local
	// optimistic-concurrency number for services that check it; 0 skips the
	// check. Returns the remote's post-update state.
	UpdateFields(ctx context.Context, id string, fields models.FieldValues, version int) (*RemoteEntity, error)
}
