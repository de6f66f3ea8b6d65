// internal/ops/handlers.go
package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"workspace-sync-service/internal/remote"
	"workspace-sync-service/pkg/models"
)

var (
	// ErrNotRevertible marks operations whose remote effect cannot be undone
	// from a recorded snapshot.
	ErrNotRevertible = errors.New("operation cannot be rolled back")

	// ErrUnknownOperation rejects kind/type pairs no handler is registered for.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrInvalidParams rejects operation requests whose params or targets do
	// not satisfy the handler.
	ErrInvalidParams = errors.New("invalid operation parameters")
)

const (
	archivedTitlePrefix = "[ARCHIVED] "
	archivedLabel       = "archived"
)

// Handler implements one operation type against one entity kind.
type Handler interface {
	// Validate checks the operation params at creation time.
	Validate(params models.FieldValues) error
	// Preview describes the intended change for one target without any
	// remote write.
	Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error)
	// Apply performs the remote change for one target and returns the remote
	// post-state plus the names of the typed fields it changed.
	Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error)
	// Revert undoes a recorded application on the remote side and returns
	// the resulting remote state.
	Revert(ctx context.Context, h *models.HistorySnapshot) (*remote.RemoteEntity, error)
}

// Registry maps kind/type pairs to their handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(tracker *remote.TrackerClient, wiki *remote.WikiClient) *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	if tracker != nil {
		r.register(models.KindIssue, models.OpUpdateField, &issueUpdateField{tracker})
		r.register(models.KindIssue, models.OpTransition, &issueTransition{tracker})
		r.register(models.KindIssue, models.OpLink, &issueLink{tracker})
	}
	if wiki != nil {
		r.register(models.KindPage, models.OpUpdate, &pageUpdate{wiki})
		r.register(models.KindPage, models.OpMerge, &pageMerge{wiki})
		r.register(models.KindPage, models.OpMove, &pageMove{wiki})
		r.register(models.KindPage, models.OpLabel, &pageLabel{wiki})
		r.register(models.KindPage, models.OpArchive, &pageArchive{wiki})
	}
	return r
}

func (r *Registry) register(kind models.EntityKind, opType string, h Handler) {
	r.handlers[string(kind)+"/"+opType] = h
}

func (r *Registry) Lookup(kind models.EntityKind, opType string) (Handler, error) {
	h, ok := r.handlers[string(kind)+"/"+opType]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownOperation, kind, opType)
	}
	return h, nil
}

// Types lists the registered kind/type pairs.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

func stringParam(params models.FieldValues, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// revertFields is the shared rollback path: write the before-state values of
// the changed fields back through the service's field update endpoint.
func revertFields(ctx context.Context, svc remote.Service, h *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	changed := h.ChangedFieldList()
	if len(changed) == 0 {
		return svc.Get(ctx, h.RemoteID)
	}
	before := h.BeforeValues()
	payload := models.FieldValues{}
	for _, f := range changed {
		if v, ok := before[f]; ok {
			payload[f] = v
		}
	}
	return svc.UpdateFields(ctx, h.RemoteID, payload, 0)
}

// --- issue handlers ---

// issueOpFields are the fields the update_field operation may set. Status is
// excluded: it moves through workflow transitions.
var issueOpFields = []string{
	models.FieldTitle,
	models.FieldBody,
	models.FieldPriority,
	models.FieldAssignee,
	models.FieldLabels,
}

type issueUpdateField struct {
	tracker *remote.TrackerClient
}

func (h *issueUpdateField) Validate(params models.FieldValues) error {
	field := stringParam(params, "field")
	if field == "" {
		return errors.New("update_field needs a field name")
	}
	for _, f := range issueOpFields {
		if f == field {
			if _, ok := params["value"]; !ok {
				return errors.New("update_field needs a value")
			}
			return nil
		}
	}
	return fmt.Errorf("field %q cannot be set on issues", field)
}

func (h *issueUpdateField) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	field := stringParam(params, "field")
	return map[string]any{
		"field": field,
		"from":  e.FieldValue(field),
		"to":    params["value"],
	}, nil
}

func (h *issueUpdateField) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	field := stringParam(params, "field")
	post, err := h.tracker.UpdateFields(ctx, e.RemoteID, models.FieldValues{field: params["value"]}, 0)
	if err != nil {
		return nil, nil, err
	}
	return post, []string{field}, nil
}

func (h *issueUpdateField) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	return revertFields(ctx, h.tracker, hs)
}

type issueTransition struct {
	tracker *remote.TrackerClient
}

func (h *issueTransition) Validate(params models.FieldValues) error {
	if stringParam(params, "transition") == "" {
		return errors.New("transition needs a transition or target status name")
	}
	return nil
}

func (h *issueTransition) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	return map[string]any{
		"field":      models.FieldStatus,
		"from":       e.FieldValue(models.FieldStatus),
		"transition": stringParam(params, "transition"),
	}, nil
}

func (h *issueTransition) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	name := stringParam(params, "transition")
	tr, err := h.tracker.TransitionByName(ctx, e.RemoteID, name)
	if err != nil {
		return nil, nil, err
	}
	if err := h.tracker.ApplyTransition(ctx, e.RemoteID, tr.ID); err != nil {
		return nil, nil, err
	}
	post, err := h.tracker.Get(ctx, e.RemoteID)
	if err != nil {
		return nil, nil, err
	}
	return post, []string{models.FieldStatus}, nil
}

// Revert transitions back towards the recorded before-status, provided the
// workflow offers a move whose target matches it.
func (h *issueTransition) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	before, _ := hs.BeforeValues()[models.FieldStatus].(string)
	if before == "" {
		return nil, fmt.Errorf("%w: no recorded status to return to", ErrNotRevertible)
	}
	tr, err := h.tracker.TransitionByName(ctx, hs.RemoteID, before)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRevertible, err)
	}
	if err := h.tracker.ApplyTransition(ctx, hs.RemoteID, tr.ID); err != nil {
		return nil, err
	}
	return h.tracker.Get(ctx, hs.RemoteID)
}

type issueLink struct {
	tracker *remote.TrackerClient
}

func (h *issueLink) Validate(params models.FieldValues) error {
	if stringParam(params, "other_id") == "" {
		return errors.New("link needs an other_id")
	}
	if stringParam(params, "link_type") == "" {
		return errors.New("link needs a link_type")
	}
	return nil
}

func (h *issueLink) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	return map[string]any{
		"link_type": stringParam(params, "link_type"),
		"other_id":  stringParam(params, "other_id"),
	}, nil
}

func (h *issueLink) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	other := stringParam(params, "other_id")
	linkType := stringParam(params, "link_type")
	if err := h.tracker.LinkIssues(ctx, e.RemoteID, other, linkType); err != nil {
		return nil, nil, err
	}
	post, err := h.tracker.Get(ctx, e.RemoteID)
	if err != nil {
		return nil, nil, err
	}
	return post, nil, nil
}

func (h *issueLink) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	return nil, fmt.Errorf("%w: issue links have no snapshot to restore", ErrNotRevertible)
}

// --- page handlers ---

// pageOpFields are the fields the page update operation may set.
var pageOpFields = []string{
	models.FieldTitle,
	models.FieldBody,
	models.FieldLabels,
	models.FieldParentID,
}

type pageUpdate struct {
	wiki *remote.WikiClient
}

func (h *pageUpdate) Validate(params models.FieldValues) error {
	for _, f := range pageOpFields {
		if _, ok := params[f]; ok {
			return nil
		}
	}
	return fmt.Errorf("update needs at least one of %s", strings.Join(pageOpFields, ", "))
}

func (h *pageUpdate) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	changes := map[string]any{}
	for _, f := range pageOpFields {
		if v, ok := params[f]; ok {
			changes[f] = map[string]any{"from": e.FieldValue(f), "to": v}
		}
	}
	return map[string]any{"changes": changes}, nil
}

func (h *pageUpdate) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	payload := models.FieldValues{}
	var changed []string
	for _, f := range pageOpFields {
		if v, ok := params[f]; ok {
			payload[f] = v
			changed = append(changed, f)
		}
	}
	post, err := h.wiki.UpdateFields(ctx, e.RemoteID, payload, 0)
	if err != nil {
		return nil, nil, err
	}
	return post, changed, nil
}

func (h *pageUpdate) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	return revertFields(ctx, h.wiki, hs)
}

// pageMerge appends each target page's body to a destination page, then
// archives the target. The history row covers the archived source, so a
// rollback restores its title and labels; the destination keeps the merged
// body.
type pageMerge struct {
	wiki *remote.WikiClient
}

func (h *pageMerge) Validate(params models.FieldValues) error {
	if stringParam(params, "into") == "" {
		return errors.New("merge needs a destination page id in into")
	}
	return nil
}

func (h *pageMerge) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	return map[string]any{
		"into":   stringParam(params, "into"),
		"action": "append body to destination, then archive",
	}, nil
}

func (h *pageMerge) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	into := stringParam(params, "into")
	if into == e.RemoteID {
		return nil, nil, errors.New("merge destination equals the source page")
	}

	src, err := h.wiki.Get(ctx, e.RemoteID)
	if err != nil {
		return nil, nil, err
	}
	dest, err := h.wiki.Get(ctx, into)
	if err != nil {
		return nil, nil, err
	}

	srcTitle, _ := src.Fields[models.FieldTitle].(string)
	srcBody, _ := src.Fields[models.FieldBody].(string)
	destBody, _ := dest.Fields[models.FieldBody].(string)
	merged := destBody + "<hr /><h2>" + srcTitle + "</h2>" + srcBody
	if _, err := h.wiki.UpdateFields(ctx, into, models.FieldValues{models.FieldBody: merged}, 0); err != nil {
		return nil, nil, fmt.Errorf("append to %s: %w", into, err)
	}

	post, changed, err := archivePage(ctx, h.wiki, src)
	if err != nil {
		return nil, nil, err
	}
	return post, changed, nil
}

func (h *pageMerge) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	return revertFields(ctx, h.wiki, hs)
}

type pageMove struct {
	wiki *remote.WikiClient
}

func (h *pageMove) Validate(params models.FieldValues) error {
	if stringParam(params, models.FieldParentID) == "" {
		return errors.New("move needs a parent_id")
	}
	return nil
}

func (h *pageMove) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	return map[string]any{
		"field": models.FieldParentID,
		"from":  e.FieldValue(models.FieldParentID),
		"to":    stringParam(params, models.FieldParentID),
	}, nil
}

func (h *pageMove) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	parent := stringParam(params, models.FieldParentID)
	post, err := h.wiki.UpdateFields(ctx, e.RemoteID, models.FieldValues{models.FieldParentID: parent}, 0)
	if err != nil {
		return nil, nil, err
	}
	return post, []string{models.FieldParentID}, nil
}

func (h *pageMove) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	return revertFields(ctx, h.wiki, hs)
}

type pageLabel struct {
	wiki *remote.WikiClient
}

func (h *pageLabel) Validate(params models.FieldValues) error {
	if len(models.StringList(params["add"])) == 0 && len(models.StringList(params["remove"])) == 0 {
		return errors.New("label needs labels to add or remove")
	}
	return nil
}

func (h *pageLabel) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	return map[string]any{
		"current": e.LabelList(),
		"add":     models.StringList(params["add"]),
		"remove":  models.StringList(params["remove"]),
	}, nil
}

func (h *pageLabel) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	for _, l := range models.StringList(params["add"]) {
		if err := h.wiki.AddLabel(ctx, e.RemoteID, l); err != nil {
			return nil, nil, err
		}
	}
	for _, l := range models.StringList(params["remove"]) {
		if err := h.wiki.RemoveLabel(ctx, e.RemoteID, l); err != nil {
			return nil, nil, err
		}
	}
	post, err := h.wiki.Get(ctx, e.RemoteID)
	if err != nil {
		return nil, nil, err
	}
	return post, []string{models.FieldLabels}, nil
}

func (h *pageLabel) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	return revertFields(ctx, h.wiki, hs)
}

type pageArchive struct {
	wiki *remote.WikiClient
}

func (h *pageArchive) Validate(params models.FieldValues) error {
	return nil
}

func (h *pageArchive) Preview(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (map[string]any, error) {
	title, _ := e.FieldValue(models.FieldTitle).(string)
	return map[string]any{
		"field": models.FieldTitle,
		"from":  title,
		"to":    archivedTitle(title),
		"label": archivedLabel,
	}, nil
}

func (h *pageArchive) Apply(ctx context.Context, e *models.SyncedEntity, params models.FieldValues) (*remote.RemoteEntity, []string, error) {
	current, err := h.wiki.Get(ctx, e.RemoteID)
	if err != nil {
		return nil, nil, err
	}
	return archivePage(ctx, h.wiki, current)
}

func (h *pageArchive) Revert(ctx context.Context, hs *models.HistorySnapshot) (*remote.RemoteEntity, error) {
	return revertFields(ctx, h.wiki, hs)
}

// archivePage prefixes the title and tags the page so archived content is
// obvious in listings and excludable via CQL.
func archivePage(ctx context.Context, wiki *remote.WikiClient, current *remote.RemoteEntity) (*remote.RemoteEntity, []string, error) {
	title, _ := current.Fields[models.FieldTitle].(string)
	if next := archivedTitle(title); next != title {
		if _, err := wiki.UpdateFields(ctx, current.ID, models.FieldValues{models.FieldTitle: next}, 0); err != nil {
			return nil, nil, err
		}
	}
	if err := wiki.AddLabel(ctx, current.ID, archivedLabel); err != nil {
		return nil, nil, err
	}
	post, err := wiki.Get(ctx, current.ID)
	if err != nil {
		return nil, nil, err
	}
	return post, []string{models.FieldTitle, models.FieldLabels}, nil
}

func archivedTitle(title string) string {
	if strings.HasPrefix(title, archivedTitlePrefix) {
		return title
	}
	return archivedTitlePrefix + title
}
