package analytics

import (
	"sort"
	"time"

	"gorm.io/datatypes"

	"pageflux/internal/db"
)

// SessionGap is the inactivity threshold that starts a new session
// during archival reconstruction.
const SessionGap = 30 * time.Minute

// Sentinel labels for absent dimension values.
const (
	LabelUnknown = "unknown"
	LabelDirect  = "direct"
)

// ComputeDurations assigns a stay duration to every event in the batch
// that has a chronologically later event for the same visitor: whole
// seconds between the two, clamped to 0 when clocks ran backwards.
// Events that share a timestamp keep their queue order. The last event
// of each visitor's sequence keeps duration 0 (unknown) until a later
// flush backfills it.
//
// Returns each visitor's chronologically first event in the batch, the
// input to the cross-batch backfill.
func ComputeDurations(views []db.PageView) map[string]db.PageView {
	byVisitor := make(map[string][]int)
	for i := range views {
		byVisitor[views[i].VisitorID] = append(byVisitor[views[i].VisitorID], i)
	}

	first := make(map[string]db.PageView, len(byVisitor))
	for visitor, idxs := range byVisitor {
		sort.SliceStable(idxs, func(a, b int) bool {
			va, vb := &views[idxs[a]], &views[idxs[b]]
			if va.CreatedAt.Equal(vb.CreatedAt) {
				return va.QueueSeq < vb.QueueSeq
			}
			return va.CreatedAt.Before(vb.CreatedAt)
		})
		for j := 0; j < len(idxs)-1; j++ {
			cur := &views[idxs[j]]
			next := &views[idxs[j+1]]
			secs := int64(next.CreatedAt.Sub(cur.CreatedAt) / time.Second)
			if secs < 0 {
				secs = 0
			}
			cur.Duration = secs
		}
		first[visitor] = views[idxs[0]]
	}
	return first
}

// BuildDayBuckets groups page views by their local calendar date in loc
// and aggregates each date into an archive bucket: views, distinct
// visitors, sessions, bounces, summed session duration and the
// per-dimension histograms. Buckets come back sorted by date.
func BuildDayBuckets(views []db.PageView, loc *time.Location) []*db.ArchiveDay {
	byDate := make(map[string][]db.PageView)
	for _, v := range views {
		date := DateOf(v.CreatedAt, loc)
		byDate[date] = append(byDate[date], v)
	}

	buckets := make([]*db.ArchiveDay, 0, len(byDate))
	for date, dayViews := range byDate {
		buckets = append(buckets, buildBucket(date, dayViews))
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Date < buckets[j].Date })
	return buckets
}

func buildBucket(date string, views []db.PageView) *db.ArchiveDay {
	bucket := &db.ArchiveDay{
		Date:       date,
		TotalViews: int64(len(views)),
	}

	referrers := db.Histogram{}
	countries := db.Histogram{}
	regions := db.Histogram{}
	cities := db.Histogram{}
	devices := db.Histogram{}
	browsers := db.Histogram{}
	oses := db.Histogram{}
	screens := db.Histogram{}
	languages := db.Histogram{}
	visitorTZs := db.Histogram{}

	byVisitor := make(map[string][]db.PageView)
	for _, v := range views {
		byVisitor[v.VisitorID] = append(byVisitor[v.VisitorID], v)

		referrers[orLabel(v.Referrer, LabelDirect)]++
		countries[orLabel(v.Country, LabelUnknown)]++
		regions[orLabel(v.Region, LabelUnknown)]++
		cities[orLabel(v.City, LabelUnknown)]++
		devices[orLabel(v.Device, LabelUnknown)]++
		browsers[orLabel(v.Browser, LabelUnknown)]++
		oses[orLabel(v.OS, LabelUnknown)]++
		screens[orLabel(v.ScreenSize, LabelUnknown)]++
		languages[orLabel(v.Language, LabelUnknown)]++
		visitorTZs[orLabel(v.VisitorTZ, LabelUnknown)]++
	}

	bucket.UniqueVisitors = int64(len(byVisitor))

	for _, seq := range byVisitor {
		sort.SliceStable(seq, func(a, b int) bool { return seq[a].CreatedAt.Before(seq[b].CreatedAt) })
		sessions, bounces, duration := reconstructSessions(seq)
		bucket.TotalSessions += sessions
		bucket.Bounces += bounces
		bucket.TotalDuration += duration
	}

	bucket.Referrers = datatypes.NewJSONType(referrers)
	bucket.Countries = datatypes.NewJSONType(countries)
	bucket.Regions = datatypes.NewJSONType(regions)
	bucket.Cities = datatypes.NewJSONType(cities)
	bucket.Devices = datatypes.NewJSONType(devices)
	bucket.Browsers = datatypes.NewJSONType(browsers)
	bucket.OSes = datatypes.NewJSONType(oses)
	bucket.Screens = datatypes.NewJSONType(screens)
	bucket.Languages = datatypes.NewJSONType(languages)
	bucket.VisitorTZs = datatypes.NewJSONType(visitorTZs)
	return bucket
}

// reconstructSessions walks one visitor's day in timestamp order. A new
// session starts at the first event and whenever the gap from the
// previous event exceeds SessionGap. A single-page session is a bounce;
// a multi-page session contributes last minus first to the summed
// duration.
func reconstructSessions(seq []db.PageView) (sessions, bounces, durationSecs int64) {
	var start, prev time.Time
	var pages int

	closeSession := func() {
		if pages == 0 {
			return
		}
		sessions++
		if pages == 1 {
			bounces++
		} else {
			durationSecs += int64(prev.Sub(start) / time.Second)
		}
	}

	for _, v := range seq {
		if pages == 0 || v.CreatedAt.Sub(prev) > SessionGap {
			closeSession()
			start = v.CreatedAt
			pages = 0
		}
		pages++
		prev = v.CreatedAt
	}
	closeSession()
	return sessions, bounces, durationSecs
}

func orLabel(v, sentinel string) string {
	if v == "" {
		return sentinel
	}
	return v
}
