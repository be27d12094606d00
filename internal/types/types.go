package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType names a persisted entity table, used for diagnostics and batching.
type EntityType string

const (
	EntityDashboard     EntityType = "dashboard"
	EntityDashboardItem EntityType = "dashboardItem"
	EntityContent       EntityType = "dashboardItemContent"
	EntityElement       EntityType = "dashboardElement"
)

// Entity is implemented by every row type the local store persists.
type Entity interface {
	EntityType() EntityType
	EntityID() string
}

// State tracks whether a row matches the server or still waits for upload.
type State string

const (
	StateSynced   State = "synced"
	StateToPost   State = "to_post"
	StateToUpdate State = "to_update"
	StateToDelete State = "to_delete"
)

// IsPending reports whether the row carries local changes the server has not
// acknowledged yet.
func (s State) IsPending() bool {
	return s != "" && s != StateSynced
}

// Access mirrors the sharing flags the server attaches to dashboards and items.
type Access struct {
	Manage      bool `json:"manage"`
	Externalize bool `json:"externalize"`
	Write       bool `json:"write"`
	Read        bool `json:"read"`
	Update      bool `json:"update"`
	Delete      bool `json:"delete"`
}

// Ref is an id-only reference as returned by nested field projections
// such as dashboardItems[id].
type Ref struct {
	ID string `json:"id"`
}

// Dashboard is a top-level container of dashboard items.
type Dashboard struct {
	ID          string    `json:"id"`
	Created     Timestamp `json:"created"`
	LastUpdated Timestamp `json:"lastUpdated"`
	Name        string    `json:"name,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Access      Access    `json:"access"`
	Items       []Ref     `json:"dashboardItems,omitempty"`
	State       State     `json:"-"`
}

func (d Dashboard) EntityType() EntityType { return EntityDashboard }
func (d Dashboard) EntityID() string       { return d.ID }

// Localize pins zone-less timestamps to the server zone.
func (d *Dashboard) Localize(loc *time.Location) {
	d.Created = d.Created.Localize(loc)
	d.LastUpdated = d.LastUpdated.Localize(loc)
}

// ItemIDs returns the ids of the items the dashboard lists, in order.
func (d Dashboard) ItemIDs() []string {
	ids := make([]string, 0, len(d.Items))
	for _, ref := range d.Items {
		ids = append(ids, ref.ID)
	}
	return ids
}

// ItemContent holds the content references embedded in a dashboard item.
// Single references are used by chart-like items, lists by users, reports,
// resources and report table items.
type ItemContent struct {
	Chart        *Content  `json:"chart,omitempty"`
	EventChart   *Content  `json:"eventChart,omitempty"`
	Map          *Content  `json:"map,omitempty"`
	ReportTable  *Content  `json:"reportTable,omitempty"`
	EventReport  *Content  `json:"eventReport,omitempty"`
	ReportTables []Content `json:"reportTables,omitempty"`
	Users        []Content `json:"users,omitempty"`
	Reports      []Content `json:"reports,omitempty"`
	Resources    []Content `json:"resources,omitempty"`
}

// DashboardItem is a single tile of a dashboard.
type DashboardItem struct {
	ID          string    `json:"id"`
	Created     Timestamp `json:"created"`
	LastUpdated Timestamp `json:"lastUpdated"`
	Access      Access    `json:"access"`
	Type        string    `json:"type,omitempty"`
	Shape       string    `json:"shape,omitempty"`
	Messages    bool      `json:"messages,omitempty"`
	ItemContent

	// DashboardID is the owning dashboard, filled in by relation building.
	DashboardID string `json:"-"`
	State       State  `json:"-"`
}

func (i DashboardItem) EntityType() EntityType { return EntityDashboardItem }
func (i DashboardItem) EntityID() string       { return i.ID }

// Localize pins zone-less timestamps of the item and its embedded content
// references to the server zone.
func (i *DashboardItem) Localize(loc *time.Location) {
	i.Created = i.Created.Localize(loc)
	i.LastUpdated = i.LastUpdated.Localize(loc)
	for _, c := range []*Content{i.Chart, i.EventChart, i.Map, i.ReportTable, i.EventReport} {
		if c != nil {
			c.Localize(loc)
		}
	}
	for _, list := range [][]Content{i.ReportTables, i.Users, i.Reports, i.Resources} {
		for j := range list {
			list[j].Localize(loc)
		}
	}
}

// ContentKind tags the eight kinds of dashboard item content.
type ContentKind string

const (
	KindChart       ContentKind = "chart"
	KindEventChart  ContentKind = "eventChart"
	KindMap         ContentKind = "map"
	KindReportTable ContentKind = "reportTable"
	KindEventReport ContentKind = "eventReport"
	KindUser        ContentKind = "user"
	KindReport      ContentKind = "report"
	KindResource    ContentKind = "resource"
)

// ContentKinds lists every supported kind in synchronization order.
var ContentKinds = []ContentKind{
	KindChart,
	KindEventChart,
	KindMap,
	KindReportTable,
	KindEventReport,
	KindUser,
	KindReport,
	KindResource,
}

// KindEndpoint describes where the server publishes a content kind.
type KindEndpoint struct {
	// Path is the collection path relative to the API root.
	Path string
	// Envelope is the key of the response object holding the list.
	Envelope string
}

// Endpoint returns the remote collection for the kind.
func (k ContentKind) Endpoint() (KindEndpoint, error) {
	switch k {
	case KindChart:
		return KindEndpoint{Path: "charts", Envelope: "charts"}, nil
	case KindEventChart:
		return KindEndpoint{Path: "eventCharts", Envelope: "eventCharts"}, nil
	case KindMap:
		return KindEndpoint{Path: "maps", Envelope: "maps"}, nil
	case KindReportTable:
		return KindEndpoint{Path: "reportTables", Envelope: "reportTables"}, nil
	case KindEventReport:
		return KindEndpoint{Path: "eventReports", Envelope: "eventReports"}, nil
	case KindUser:
		return KindEndpoint{Path: "users", Envelope: "users"}, nil
	case KindReport:
		return KindEndpoint{Path: "reports", Envelope: "reports"}, nil
	case KindResource:
		return KindEndpoint{Path: "documents", Envelope: "documents"}, nil
	default:
		return KindEndpoint{}, &UnsupportedKindError{Kind: string(k)}
	}
}

// ParseContentKind validates a kind tag read from storage or configuration.
func ParseContentKind(s string) (ContentKind, error) {
	k := ContentKind(s)
	if _, err := k.Endpoint(); err != nil {
		return "", err
	}
	return k, nil
}

// Content is one piece of dashboard item content. Kind is not part of the
// remote representation; it is assigned from the endpoint the content was
// fetched from or the item slot it was referenced in.
type Content struct {
	Kind        ContentKind `json:"-"`
	ID          string      `json:"id"`
	Created     Timestamp   `json:"created"`
	LastUpdated Timestamp   `json:"lastUpdated"`
	Name        string      `json:"name,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	State       State       `json:"-"`
}

func (c Content) EntityType() EntityType { return EntityContent }
func (c Content) EntityID() string       { return c.ID }

// Localize pins zone-less timestamps to the server zone.
func (c *Content) Localize(loc *time.Location) {
	c.Created = c.Created.Localize(loc)
	c.LastUpdated = c.LastUpdated.Localize(loc)
}

// DashboardElement binds one content reference to exactly one item.
type DashboardElement struct {
	ID          string
	ItemID      string
	ContentKind ContentKind
	Name        string
	State       State
}

func (e DashboardElement) EntityType() EntityType { return EntityElement }
func (e DashboardElement) EntityID() string       { return e.ID }

// OperationKind is the mutation applied to a row.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Operation is one entry of a batch applied atomically to the local store.
type Operation struct {
	Kind   OperationKind
	Entity Entity
}

func Insert(e Entity) Operation { return Operation{Kind: OpInsert, Entity: e} }
func Update(e Entity) Operation { return Operation{Kind: OpUpdate, Entity: e} }
func Delete(e Entity) Operation { return Operation{Kind: OpDelete, Entity: e} }

func (o Operation) String() string {
	return fmt.Sprintf("%s(%s %s)", o.Kind, o.Entity.EntityType(), o.Entity.EntityID())
}

// timestampLayouts are the formats the server has been observed to emit.
var timestampLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05.000-0700", true},
	{"2006-01-02T15:04:05-0700", true},
	{"2006-01-02T15:04:05.000", false},
	{"2006-01-02T15:04:05", false},
}

// Timestamp decodes the server's ISO-8601 variants, with or without zone.
type Timestamp struct {
	time.Time

	// floating marks a value decoded without a zone that Localize has not
	// yet pinned to the server's zone.
	floating bool
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses any of the supported layouts. Values without a zone
// are interpreted as UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	return ParseTimestampInLocation(s, time.UTC)
}

// ParseTimestampInLocation is like ParseTimestamp but reads values without a
// zone as wall clock time in loc. Explicit offsets are kept.
func ParseTimestampInLocation(s string, loc *time.Location) (Timestamp, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, l := range timestampLayouts {
		if t, err := time.ParseInLocation(l.layout, s, loc); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// Localize returns t with a zone-less decoded value reinterpreted as wall
// clock time in loc. Values that carried an offset are returned unchanged.
func (t Timestamp) Localize(loc *time.Location) Timestamp {
	if !t.floating || loc == nil {
		return Timestamp{Time: t.Time}
	}
	w := t.Time
	return Timestamp{Time: time.Date(w.Year(), w.Month(), w.Day(),
		w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	t.floating = !hasZone(s)
	return nil
}

func hasZone(s string) bool {
	for _, l := range timestampLayouts {
		if _, err := time.Parse(l.layout, s); err == nil {
			return l.zoned
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Equal compares instants, ignoring location.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.Time.Equal(other.Time)
}

// RunStatus is the terminal state of a sync cycle.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// SyncRun is the history record of one sync cycle.
type SyncRun struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Status     RunStatus  `json:"status"`
	Phase      string     `json:"phase,omitempty"`
	Error      string     `json:"error,omitempty"`
	Watermark  *time.Time `json:"watermark,omitempty"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Deleted    int        `json:"deleted"`
}

// StoreStats summarizes the local store contents.
type StoreStats struct {
	Dashboards     int64      `json:"dashboards"`
	DashboardItems int64      `json:"dashboard_items"`
	Contents       int64      `json:"contents"`
	Elements       int64      `json:"elements"`
	Watermark      *time.Time `json:"watermark,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status    string     `json:"status"`
	Version   string     `json:"version"`
	Watermark *time.Time `json:"watermark,omitempty"`
}

// SyncStatusResponse is the body of GET /api/v1/sync/status.
type SyncStatusResponse struct {
	Stats      StoreStats `json:"stats"`
	RecentRuns []SyncRun  `json:"recent_runs"`
}

// SyncTriggerResponse is the body of a successful POST /api/v1/sync.
type SyncTriggerResponse struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Watermark   time.Time `json:"watermark"`
	Incremental bool      `json:"incremental"`
	Inserted    int       `json:"inserted"`
	Updated     int       `json:"updated"`
	Deleted     int       `json:"deleted"`
}
