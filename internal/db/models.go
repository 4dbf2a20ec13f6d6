package db

import (
	"time"

	"gorm.io/datatypes"
)

// PageView is a single normalized visit event as stored in Postgres.
// Duration is in whole seconds; 0 means "unknown / last in session so
// far" and may be patched by a later flush once a newer event for the
// same visitor shows up (see flusher backfill).
//
// The dedup index makes bulk inserts duplicate-tolerant: the queue is
// read and trimmed in two separate calls, so a crash in between
// redelivers the same events on the next flush.
type PageView struct {
	ID uint `gorm:"primaryKey"`

	VisitorID string    `gorm:"index;uniqueIndex:idx_page_view_dedup,priority:1;not null"`
	CreatedAt time.Time `gorm:"index;uniqueIndex:idx_page_view_dedup,priority:2;not null"`
	Path      string    `gorm:"index;uniqueIndex:idx_page_view_dedup,priority:3;not null"`

	IPAddress string
	UserAgent string
	Referrer  string

	Country string
	Region  string
	City    string

	Device     string
	Browser    string
	OS         string
	ScreenSize string
	Language   string

	// VisitorTZ is the visitor's own reported timezone, a dimension of
	// the archive histograms. It plays no part in date bucketing.
	VisitorTZ string

	Duration int64

	// QueueSeq is the event's position in the drained batch, used as a
	// stable tie-break when two events share a timestamp.
	QueueSeq int `gorm:"-" json:"-"`
}

// ViewCounter is the durable copy of one fast counter-cache entry.
// Synced on every flush, last write wins per path.
type ViewCounter struct {
	ID        uint   `gorm:"primaryKey"`
	Path      string `gorm:"uniqueIndex;not null"`
	Views     int64  `gorm:"not null"`
	PostID    *int64 `gorm:"index"`
	UpdatedAt time.Time
}

// Histogram is a per-dimension frequency map (value -> occurrences).
type Histogram map[string]int64

// Add folds other into h key by key, creating keys as needed.
func (h Histogram) Add(other Histogram) {
	for k, v := range other {
		h[k] += v
	}
}

// ArchiveDay is the aggregate for one local calendar date. Rows are
// written by the archiver (insert or additive merge) and removed only
// by retention. A date's row can keep receiving merges after its raw
// rows were deleted, because persistence and archival run on different
// time horizons.
type ArchiveDay struct {
	ID uint `gorm:"primaryKey"`

	// Date is the local calendar date, "2006-01-02". Stored as a string
	// so retention can compare lexicographically.
	Date string `gorm:"uniqueIndex;size:10;not null"`

	TotalViews int64 `gorm:"not null"`

	// UniqueVisitors accumulates the per-pass distinct visitor counts.
	// After a merge it is a sum, not a true distinct count: a visitor
	// active in two archived passes for the same date counts twice.
	UniqueVisitors int64 `gorm:"not null"`

	TotalSessions int64 `gorm:"not null"`
	Bounces       int64 `gorm:"not null"`
	TotalDuration int64 `gorm:"not null"` // seconds

	Referrers  datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	Countries  datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	Regions    datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	Cities     datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	Devices    datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	Browsers   datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	OSes       datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	Screens    datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	Languages  datatypes.JSONType[Histogram] `gorm:"type:jsonb"`
	VisitorTZs datatypes.JSONType[Histogram] `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Merge folds other into a additively: every scalar counter and every
// histogram key is summed. Merging a fresh bucket into an existing row
// must equal a single-pass aggregation over the union of their source
// events.
func (a *ArchiveDay) Merge(other *ArchiveDay) {
	a.TotalViews += other.TotalViews
	a.UniqueVisitors += other.UniqueVisitors
	a.TotalSessions += other.TotalSessions
	a.Bounces += other.Bounces
	a.TotalDuration += other.TotalDuration

	mergeHist(&a.Referrers, other.Referrers)
	mergeHist(&a.Countries, other.Countries)
	mergeHist(&a.Regions, other.Regions)
	mergeHist(&a.Cities, other.Cities)
	mergeHist(&a.Devices, other.Devices)
	mergeHist(&a.Browsers, other.Browsers)
	mergeHist(&a.OSes, other.OSes)
	mergeHist(&a.Screens, other.Screens)
	mergeHist(&a.Languages, other.Languages)
	mergeHist(&a.VisitorTZs, other.VisitorTZs)
}

func mergeHist(dst *datatypes.JSONType[Histogram], src datatypes.JSONType[Histogram]) {
	merged := dst.Data()
	if merged == nil {
		merged = Histogram{}
	}
	merged.Add(src.Data())
	*dst = datatypes.NewJSONType(merged)
}
