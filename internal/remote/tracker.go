// internal/remote/tracker.go
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/datatypes"

	"workspace-sync-service/pkg/models"
)

// trackerFields is what every issue fetch asks for: the typed snapshot set
// plus the bookkeeping fields.
var trackerFields = []string{"summary", "description", "status", "priority", "assignee", "labels", "project", "updated"}

// TrackerClient talks to the issue tracker's REST API. Issues list via a JQL
// search ordered by update time so watermark paging stays monotonic.
type TrackerClient struct {
	*Client
	project     string
	transitions *lru.Cache[string, []Transition]
}

func NewTrackerClient(cfg Config, project string) *TrackerClient {
	cache, _ := lru.New[string, []Transition](128)
	return &TrackerClient{
		Client:      NewClient(cfg),
		project:     project,
		transitions: cache,
	}
}

func (t *TrackerClient) Kind() models.EntityKind {
	return models.KindIssue
}

type trackerSearchResponse struct {
	Issues        []json.RawMessage `json:"issues"`
	NextPageToken string            `json:"nextPageToken"`
}

// ListUpdatedSince pages through issues modified at or after since. The JQL
// boundary is inclusive at minute precision, so the boundary entities of the
// previous run reappear and no-op through the idempotent merge.
func (t *TrackerClient) ListUpdatedSince(ctx context.Context, since time.Time, pageToken string, limit int) (*ListPage, error) {
	jql := fmt.Sprintf("project = %s ORDER BY updated ASC", t.project)
	if !since.IsZero() {
		jql = fmt.Sprintf("project = %s AND updated >= %q ORDER BY updated ASC",
			t.project, since.UTC().Format("2006-01-02 15:04"))
	}
	body := map[string]any{
		"jql":        jql,
		"maxResults": limit,
		"fields":     trackerFields,
	}
	if pageToken != "" {
		body["nextPageToken"] = pageToken
	}

	var resp trackerSearchResponse
	if err := t.DoJSON(ctx, "POST", "/rest/api/3/search/jql", nil, body, &resp); err != nil {
		return nil, err
	}

	page := &ListPage{NextToken: resp.NextPageToken}
	for _, raw := range resp.Issues {
		entity, err := parseIssue(raw)
		if err != nil {
			return nil, fmt.Errorf("tracker: parse issue: %w", err)
		}
		page.Entities = append(page.Entities, *entity)
	}
	return page, nil
}

// Get fetches one issue by key.
func (t *TrackerClient) Get(ctx context.Context, id string) (*RemoteEntity, error) {
	q := url.Values{"fields": {strings.Join(trackerFields, ",")}}
	var raw json.RawMessage
	if err := t.DoJSON(ctx, "GET", "/rest/api/3/issue/"+id, q, nil, &raw); err != nil {
		return nil, err
	}
	entity, err := parseIssue(raw)
	if err != nil {
		return nil, fmt.Errorf("tracker: parse issue %s: %w", id, err)
	}
	return entity, nil
}

// UpdateFields pushes only the given fields. Status is rejected here — the
// tracker only moves status through transitions (ApplyTransition).
func (t *TrackerClient) UpdateFields(ctx context.Context, id string, fields models.FieldValues, version int) (*RemoteEntity, error) {
	payload := map[string]any{}
	for name, v := range fields {
		switch name {
		case models.FieldTitle:
			payload["summary"] = v
		case models.FieldBody:
			payload["description"] = descriptionValue(v)
		case models.FieldPriority:
			payload["priority"] = map[string]any{"name": v}
		case models.FieldAssignee:
			payload["assignee"] = map[string]any{"accountId": v}
		case models.FieldLabels:
			payload["labels"] = models.StringList(v)
		default:
			return nil, fmt.Errorf("tracker: field %q cannot be pushed", name)
		}
	}
	if len(payload) == 0 {
		return t.Get(ctx, id)
	}
	if err := t.DoJSON(ctx, "PUT", "/rest/api/3/issue/"+id, nil, map[string]any{"fields": payload}, nil); err != nil {
		return nil, err
	}
	// The update endpoint replies 204; fetch the post-update state so callers
	// get the remote-reported modification time.
	return t.Get(ctx, id)
}

// Transition is one allowed status move for an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

// Transitions lists the moves currently available for an issue, cached in an
// LRU so bulk operations don't refetch per target.
func (t *TrackerClient) Transitions(ctx context.Context, id string) ([]Transition, error) {
	if cached, ok := t.transitions.Get(id); ok {
		return cached, nil
	}
	var resp struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := t.DoJSON(ctx, "GET", "/rest/api/3/issue/"+id+"/transitions", nil, nil, &resp); err != nil {
		return nil, err
	}
	t.transitions.Add(id, resp.Transitions)
	return resp.Transitions, nil
}

// TransitionByName resolves a transition by its name or target status name,
// case-insensitively.
func (t *TrackerClient) TransitionByName(ctx context.Context, id, name string) (*Transition, error) {
	list, err := t.Transitions(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if strings.EqualFold(list[i].Name, name) || strings.EqualFold(list[i].To.Name, name) {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("tracker: no transition %q available for %s", name, id)
}

// ApplyTransition moves an issue's status. The cached transition list is
// dropped because the available moves change with the status.
func (t *TrackerClient) ApplyTransition(ctx context.Context, id, transitionID string) error {
	body := map[string]any{"transition": map[string]any{"id": transitionID}}
	if err := t.DoJSON(ctx, "POST", "/rest/api/3/issue/"+id+"/transitions", nil, body, nil); err != nil {
		return err
	}
	t.transitions.Remove(id)
	return nil
}

// LinkIssues creates a typed link between two issues.
func (t *TrackerClient) LinkIssues(ctx context.Context, inwardID, outwardID, linkType string) error {
	body := map[string]any{
		"type":         map[string]any{"name": linkType},
		"inwardIssue":  map[string]any{"key": inwardID},
		"outwardIssue": map[string]any{"key": outwardID},
	}
	return t.DoJSON(ctx, "POST", "/rest/api/3/issueLink", nil, body, nil)
}

type issuePayload struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      *namedValue     `json:"status"`
		Priority    *namedValue     `json:"priority"`
		Assignee    *accountValue   `json:"assignee"`
		Labels      []string        `json:"labels"`
		Project     *projectValue   `json:"project"`
		Updated     string          `json:"updated"`
	} `json:"fields"`
}

type namedValue struct {
	Name string `json:"name"`
}

type accountValue struct {
	AccountID string `json:"accountId"`
}

type projectValue struct {
	Key string `json:"key"`
}

func parseIssue(raw json.RawMessage) (*RemoteEntity, error) {
	var p issuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fmt.Errorf("issue payload without key")
	}

	fields := models.FieldValues{
		models.FieldTitle:  p.Fields.Summary,
		models.FieldBody:   textish(p.Fields.Description),
		models.FieldLabels: p.Fields.Labels,
	}
	if p.Fields.Status != nil {
		fields[models.FieldStatus] = p.Fields.Status.Name
	}
	if p.Fields.Priority != nil {
		fields[models.FieldPriority] = p.Fields.Priority.Name
	}
	if p.Fields.Assignee != nil {
		fields[models.FieldAssignee] = p.Fields.Assignee.AccountID
	}

	entity := &RemoteEntity{
		Kind:      models.KindIssue,
		ID:        p.Key,
		Fields:    fields,
		UpdatedAt: parseRemoteTime(p.Fields.Updated),
		Raw:       datatypes.JSON(raw),
	}
	if p.Fields.Project != nil {
		entity.Space = p.Fields.Project.Key
	}
	return entity, nil
}

// textish flattens a description payload: plain strings come back verbatim,
// rich-text documents are kept as compact JSON so comparisons stay stable.
func textish(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

// descriptionValue restores a rich-text document for pushing when the stored
// body is serialized JSON, otherwise sends the plain string.
func descriptionValue(v any) any {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var doc any
		if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
			return doc
		}
	}
	return s
}
