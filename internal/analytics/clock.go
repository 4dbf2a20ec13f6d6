package analytics

import (
	"time"
)

// Location resolves an IANA timezone name, falling back to UTC when the
// name is unknown. A bad timezone is a recoverable configuration error,
// never fatal.
func Location(name string) (*time.Location, bool) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// DateOf returns t's calendar date in loc, formatted "2006-01-02".
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// ArchiveBoundary returns the instant archival cuts at: the start of
// the local calendar day precisionDays before today's local day. The
// boundary sits on a local midnight — a raw "now minus N days" would
// split a day's events across two archiver runs.
func ArchiveBoundary(now time.Time, loc *time.Location, precisionDays int) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -precisionDays)
}

// RetentionCutoff returns the archive-date string retentionDays before
// today's local day. Archive rows dated strictly before it expire.
func RetentionCutoff(now time.Time, loc *time.Location, retentionDays int) string {
	local := now.In(loc)
	return local.AddDate(0, 0, -retentionDays).Format("2006-01-02")
}
