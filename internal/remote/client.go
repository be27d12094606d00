// Package remote reads dashboards and their content from the server's web API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	dashsync "github.com/hyperengineering/dashsync/internal/sync"
	"github.com/hyperengineering/dashsync/internal/types"
)

// Field projections requested from the server.
const (
	basicFields     = "id"
	dashboardFields = "id,created,lastUpdated,name,displayName,access,dashboardItems[id]"
	contentFields   = "id,created,lastUpdated,name,displayName"
	nestedFields    = "[" + contentFields + "]"
	itemFields      = "id,created,lastUpdated,access,type,shape,messages," +
		"chart" + nestedFields + "," +
		"eventChart" + nestedFields + "," +
		"map" + nestedFields + "," +
		"reportTable" + nestedFields + "," +
		"eventReport" + nestedFields + "," +
		"users" + nestedFields + "," +
		"reports" + nestedFields + "," +
		"resources" + nestedFields + "," +
		"reportTables" + nestedFields
)

// filterLayout renders the watermark with its zone offset.
const filterLayout = "2006-01-02T15:04:05.000Z07:00"

// Config holds the connection settings for Client.
type Config struct {
	// BaseURL is the API root, e.g. https://play.example.org/api.
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	// Location is the server's time zone, applied to timestamps the server
	// sends without an offset. Nil means UTC.
	Location *time.Location
}

// Client implements the sync engine's RemoteDataSource over HTTP.
type Client struct {
	baseURL  string
	username string
	password string
	location *time.Location
	client   *http.Client
}

var _ dashsync.RemoteDataSource = (*Client)(nil)

// NewClient creates a Client. A zero timeout defaults to 30 seconds.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		location: location,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// DashboardIDs returns the ids of every dashboard on the server.
func (c *Client) DashboardIDs(ctx context.Context) ([]string, error) {
	return c.ids(ctx, "dashboards", "dashboards")
}

// Dashboards returns dashboards changed after since, or all when since is nil.
func (c *Client) Dashboards(ctx context.Context, since *time.Time) ([]types.Dashboard, error) {
	var dashboards []types.Dashboard
	if err := c.list(ctx, "dashboards", "dashboards", fullQuery(dashboardFields, since), &dashboards); err != nil {
		return nil, err
	}
	for i := range dashboards {
		dashboards[i].Localize(c.location)
	}
	return dashboards, nil
}

// DashboardItemIDs returns the ids of every dashboard item on the server.
func (c *Client) DashboardItemIDs(ctx context.Context) ([]string, error) {
	return c.ids(ctx, "dashboardItems", "dashboardItems")
}

// DashboardItems returns items changed after since with their content
// references expanded.
func (c *Client) DashboardItems(ctx context.Context, since *time.Time) ([]types.DashboardItem, error) {
	var items []types.DashboardItem
	if err := c.list(ctx, "dashboardItems", "dashboardItems", fullQuery(itemFields, since), &items); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Localize(c.location)
	}
	return items, nil
}

// ContentIDs returns the ids of every content of kind on the server.
func (c *Client) ContentIDs(ctx context.Context, kind types.ContentKind) ([]string, error) {
	endpoint, err := kind.Endpoint()
	if err != nil {
		return nil, err
	}
	return c.ids(ctx, endpoint.Path, endpoint.Envelope)
}

// Contents returns contents of kind changed after since. The kind tag is
// not part of the response and is left for the caller to assign.
func (c *Client) Contents(ctx context.Context, kind types.ContentKind, since *time.Time) ([]types.Content, error) {
	endpoint, err := kind.Endpoint()
	if err != nil {
		return nil, err
	}
	var contents []types.Content
	if err := c.list(ctx, endpoint.Path, endpoint.Envelope, fullQuery(contentFields, since), &contents); err != nil {
		return nil, err
	}
	for i := range contents {
		contents[i].Localize(c.location)
	}
	return contents, nil
}

// Ping checks that the server is reachable and accepts the credentials.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, "system/info", url.Values{"fields": {"version"}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func fullQuery(fields string, since *time.Time) url.Values {
	q := url.Values{"fields": {fields}}
	if since != nil {
		q.Set("filter", "lastUpdated:gt:"+since.Format(filterLayout))
	}
	return q
}

func (c *Client) ids(ctx context.Context, path, envelope string) ([]string, error) {
	var refs []types.Ref
	if err := c.list(ctx, path, envelope, url.Values{"fields": {basicFields}}, &refs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// list fetches one unpaged collection and decodes the list held under
// envelope into dest. A response without the envelope is an empty list.
func (c *Client) list(ctx context.Context, path, envelope string, query url.Values, dest any) error {
	query.Set("paging", "false")

	start := time.Now()
	resp, err := c.sendRequest(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	raw, ok := body[envelope]
	if ok {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("decode %s envelope: %w", envelope, err)
		}
	}

	slog.Debug("remote fetch completed",
		"component", "remote",
		"action", "fetch_completed",
		"path", path,
		"fields", query.Get("fields"),
		"filtered", query.Has("filter"),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// sendRequest sends an authenticated GET and returns the response when the
// status is 2xx. The caller closes the body.
func (c *Client) sendRequest(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HTTPError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
