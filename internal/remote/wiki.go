// internal/remote/wiki.go
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gorm.io/datatypes"

	"workspace-sync-service/pkg/models"
)

const wikiExpand = "body.storage,version,metadata.labels,ancestors,space"

// WikiClient talks to the wiki's content API. Listing goes through the CQL
// search endpoint ordered by modification time; writes go through the v2 page
// endpoint, which enforces optimistic concurrency via the version number.
type WikiClient struct {
	*Client
	space string
}

func NewWikiClient(cfg Config, space string) *WikiClient {
	return &WikiClient{Client: NewClient(cfg), space: space}
}

func (w *WikiClient) Kind() models.EntityKind {
	return models.KindPage
}

type wikiSearchResponse struct {
	Results []json.RawMessage `json:"results"`
	Start   int               `json:"start"`
	Limit   int               `json:"limit"`
	Size    int               `json:"size"`
}

// ListUpdatedSince pages through pages modified at or after since. The page
// token is the search start offset.
func (w *WikiClient) ListUpdatedSince(ctx context.Context, since time.Time, pageToken string, limit int) (*ListPage, error) {
	cql := fmt.Sprintf("space = %q AND type = page ORDER BY lastmodified ASC", w.space)
	if !since.IsZero() {
		cql = fmt.Sprintf("space = %q AND type = page AND lastmodified >= %q ORDER BY lastmodified ASC",
			w.space, since.UTC().Format("2006-01-02 15:04"))
	}
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, fmt.Errorf("wiki: bad page token %q", pageToken)
		}
		start = n
	}
	q := url.Values{
		"cql":    {cql},
		"expand": {wikiExpand},
		"limit":  {strconv.Itoa(limit)},
		"start":  {strconv.Itoa(start)},
	}

	var resp wikiSearchResponse
	if err := w.DoJSON(ctx, "GET", "/wiki/rest/api/content/search", q, nil, &resp); err != nil {
		return nil, err
	}

	page := &ListPage{}
	for _, raw := range resp.Results {
		entity, err := parsePage(raw)
		if err != nil {
			return nil, fmt.Errorf("wiki: parse page: %w", err)
		}
		page.Entities = append(page.Entities, *entity)
	}
	if resp.Size >= limit && resp.Size > 0 {
		page.NextToken = strconv.Itoa(start + resp.Size)
	}
	return page, nil
}

// Get fetches one page with body, version, labels and ancestors.
func (w *WikiClient) Get(ctx context.Context, id string) (*RemoteEntity, error) {
	q := url.Values{"expand": {wikiExpand}}
	var raw json.RawMessage
	if err := w.DoJSON(ctx, "GET", "/wiki/rest/api/content/"+id, q, nil, &raw); err != nil {
		return nil, err
	}
	entity, err := parsePage(raw)
	if err != nil {
		return nil, fmt.Errorf("wiki: parse page %s: %w", id, err)
	}
	return entity, nil
}

// UpdateFields pushes title/body through the versioned page endpoint and
// reconciles labels through the label endpoints. version is the local page
// version; the write goes up as version+1, so a page someone else saved in
// the meantime comes back as a 409 version conflict.
func (w *WikiClient) UpdateFields(ctx context.Context, id string, fields models.FieldValues, version int) (*RemoteEntity, error) {
	current, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	title := fieldString(current.Fields[models.FieldTitle])
	body := fieldString(current.Fields[models.FieldBody])
	contentChanged := false
	if v, ok := fields[models.FieldTitle]; ok {
		title = fieldString(v)
		contentChanged = true
	}
	if v, ok := fields[models.FieldBody]; ok {
		body = fieldString(v)
		contentChanged = true
	}
	if _, ok := fields[models.FieldParentID]; ok {
		contentChanged = true
	}
	if version <= 0 {
		version = current.Version
	}

	if contentChanged {
		putBody := map[string]any{
			"id":     id,
			"status": "current",
			"title":  title,
			"body": map[string]any{
				"representation": "storage",
				"value":          body,
			},
			"version": map[string]any{"number": version + 1},
		}
		if v, ok := fields[models.FieldParentID]; ok {
			putBody["parentId"] = fieldString(v)
		}
		if err := w.DoJSON(ctx, "PUT", "/wiki/api/v2/pages/"+id, nil, putBody, nil); err != nil {
			return nil, err
		}
	}

	if v, ok := fields[models.FieldLabels]; ok {
		if err := w.reconcileLabels(ctx, id, models.StringList(current.Fields[models.FieldLabels]), models.StringList(v)); err != nil {
			return nil, err
		}
	}

	return w.Get(ctx, id)
}

// AddLabel attaches one label to a page.
func (w *WikiClient) AddLabel(ctx context.Context, id, label string) error {
	body := []map[string]any{{"prefix": "global", "name": label}}
	return w.DoJSON(ctx, "POST", "/wiki/rest/api/content/"+id+"/label", nil, body, nil)
}

// RemoveLabel detaches one label from a page.
func (w *WikiClient) RemoveLabel(ctx context.Context, id, label string) error {
	return w.DoJSON(ctx, "DELETE", "/wiki/rest/api/content/"+id+"/label/"+url.PathEscape(label), nil, nil, nil)
}

func (w *WikiClient) reconcileLabels(ctx context.Context, id string, current, target []string) error {
	have := map[string]bool{}
	for _, l := range current {
		have[l] = true
	}
	want := map[string]bool{}
	for _, l := range target {
		want[l] = true
		if !have[l] {
			if err := w.AddLabel(ctx, id, l); err != nil {
				return err
			}
		}
	}
	for _, l := range current {
		if !want[l] {
			if err := w.RemoveLabel(ctx, id, l); err != nil {
				return err
			}
		}
	}
	return nil
}

type pagePayload struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Title  string `json:"title"`
	Space  *struct {
		Key string `json:"key"`
	} `json:"space"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors"`
	Body *struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version *struct {
		Number int    `json:"number"`
		When   string `json:"when"`
	} `json:"version"`
	Metadata *struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
}

func parsePage(raw json.RawMessage) (*RemoteEntity, error) {
	var p pagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("page payload without id")
	}

	fields := models.FieldValues{
		models.FieldTitle:  p.Title,
		models.FieldStatus: p.Status,
	}
	if p.Body != nil {
		fields[models.FieldBody] = p.Body.Storage.Value
	}
	if len(p.Ancestors) > 0 {
		fields[models.FieldParentID] = p.Ancestors[len(p.Ancestors)-1].ID
	}
	labels := []string{}
	if p.Metadata != nil {
		for _, l := range p.Metadata.Labels.Results {
			labels = append(labels, l.Name)
		}
	}
	fields[models.FieldLabels] = labels

	entity := &RemoteEntity{
		Kind:   models.KindPage,
		ID:     p.ID,
		Fields: fields,
		Raw:    datatypes.JSON(raw),
	}
	if p.Space != nil {
		entity.Space = p.Space.Key
	}
	if p.Version != nil {
		entity.Version = p.Version.Number
		entity.UpdatedAt = parseRemoteTime(p.Version.When)
	}
	return entity, nil
}

func fieldString(v any) string {
	s, _ := v.(string)
	return s
}
