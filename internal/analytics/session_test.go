package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pageflux/internal/db"
)

func view(visitor string, at time.Time, seq int) db.PageView {
	return db.PageView{VisitorID: visitor, CreatedAt: at, Path: "/p", IPAddress: "10.0.0.1", QueueSeq: seq}
}

func TestComputeDurationsAdjacentPairs(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	views := []db.PageView{
		view("v", t0, 0),
		view("v", t0.Add(5*time.Minute), 1),
		view("v", t0.Add(10*time.Minute), 2),
	}

	first := ComputeDurations(views)

	assert.Equal(t, int64(300), views[0].Duration)
	assert.Equal(t, int64(300), views[1].Duration)
	assert.Equal(t, int64(0), views[2].Duration, "last event stays unknown until a later flush")

	require.Contains(t, first, "v")
	assert.True(t, first["v"].CreatedAt.Equal(t0))
}

func TestComputeDurationsUnsortedInput(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	views := []db.PageView{
		view("v", t0.Add(10*time.Minute), 0),
		view("v", t0, 1),
		view("v", t0.Add(5*time.Minute), 2),
	}

	first := ComputeDurations(views)

	// Ordering is chronological regardless of batch order: the event at
	// t0 gets 300s, the one at +5min gets 300s, the one at +10min stays 0.
	assert.Equal(t, int64(0), views[0].Duration)
	assert.Equal(t, int64(300), views[1].Duration)
	assert.Equal(t, int64(300), views[2].Duration)
	assert.True(t, first["v"].CreatedAt.Equal(t0))
}

func TestComputeDurationsZeroAndSubSecondGaps(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	views := []db.PageView{
		view("v", t0, 0),
		view("v", t0.Add(30*time.Second), 1),
		view("v", t0.Add(30*time.Second), 2),          // equal timestamp: 0s
		view("v", t0.Add(30*time.Second+700*time.Millisecond), 3), // floors to 0s
	}

	ComputeDurations(views)

	assert.Equal(t, int64(30), views[0].Duration)
	assert.Equal(t, int64(0), views[1].Duration)
	assert.Equal(t, int64(0), views[2].Duration)
	assert.Equal(t, int64(0), views[3].Duration, "last in sequence stays unknown")
}

func TestComputeDurationsEqualTimestampsKeepQueueOrder(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := view("v", t0, 0)
	a.Path = "/first"
	b := view("v", t0, 1)
	b.Path = "/second"
	views := []db.PageView{b, a} // arrives out of queue order

	first := ComputeDurations(views)

	assert.Equal(t, "/first", first["v"].Path)
}

func TestComputeDurationsPerVisitorIsolation(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	views := []db.PageView{
		view("a", t0, 0),
		view("b", t0.Add(time.Minute), 1),
		view("a", t0.Add(2*time.Minute), 2),
	}

	first := ComputeDurations(views)

	assert.Equal(t, int64(120), views[0].Duration)
	assert.Equal(t, int64(0), views[1].Duration, "b has no successor")
	assert.Equal(t, int64(0), views[2].Duration)
	assert.Len(t, first, 2)
}

func TestBuildDayBucketsSessionAndBounce(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	views := []db.PageView{
		view("v", t0, 0),
		view("v", t0.Add(10*time.Minute), 1),
		view("v", t0.Add(45*time.Minute), 2), // gap from previous > 30min
	}

	buckets := BuildDayBuckets(views, time.UTC)
	require.Len(t, buckets, 1)
	b := buckets[0]

	assert.Equal(t, "2024-06-01", b.Date)
	assert.Equal(t, int64(3), b.TotalViews)
	assert.Equal(t, int64(1), b.UniqueVisitors)
	assert.Equal(t, int64(2), b.TotalSessions)
	assert.Equal(t, int64(1), b.Bounces, "the lone t=45min view is a bounce")
	assert.Equal(t, int64(600), b.TotalDuration, "session 1 spans t=0..10min")
}

func TestBuildDayBucketsTimezoneBucketing(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	// 23:30 UTC is 07:30 the next day in UTC+8.
	at := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)
	buckets := BuildDayBuckets([]db.PageView{view("v", at, 0)}, shanghai)

	require.Len(t, buckets, 1)
	assert.Equal(t, "2024-01-02", buckets[0].Date)
}

func TestBuildDayBucketsSplitsAcrossLocalDates(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	views := []db.PageView{
		view("v", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 0), // local Jan 1
		view("v", time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC), 1), // local Jan 2
	}
	buckets := BuildDayBuckets(views, shanghai)

	require.Len(t, buckets, 2)
	assert.Equal(t, "2024-01-01", buckets[0].Date)
	assert.Equal(t, "2024-01-02", buckets[1].Date)
}

func TestBuildDayBucketsSentinelLabels(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	v := view("v", t0, 0)
	v.Country = "JP"

	buckets := BuildDayBuckets([]db.PageView{v}, time.UTC)
	require.Len(t, buckets, 1)
	b := buckets[0]

	assert.Equal(t, int64(1), b.Referrers.Data()[LabelDirect])
	assert.Equal(t, int64(1), b.Countries.Data()["JP"])
	assert.Equal(t, int64(1), b.Browsers.Data()[LabelUnknown])
	assert.Equal(t, int64(1), b.Languages.Data()[LabelUnknown])
}

// Merging a previously committed bucket with a freshly computed one must
// equal a single-pass aggregation over the union of both source sets,
// for every scalar and every histogram key — with the one documented
// exception of UniqueVisitors, which sums per-pass distinct counts.
func TestArchiveDayMergeLaw(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mk := func(visitor, country, browser string, at time.Time) db.PageView {
		v := view(visitor, at, 0)
		v.Country = country
		v.Browser = browser
		return v
	}

	passA := []db.PageView{
		mk("a", "DE", "Firefox", t0),
		mk("a", "DE", "Firefox", t0.Add(5*time.Minute)),
		mk("b", "JP", "Safari", t0.Add(time.Hour)),
	}
	passB := []db.PageView{
		mk("c", "DE", "Chrome", t0.Add(2*time.Hour)),
		mk("c", "DE", "Chrome", t0.Add(2*time.Hour+10*time.Minute)),
	}

	bucketA := BuildDayBuckets(passA, time.UTC)[0]
	bucketB := BuildDayBuckets(passB, time.UTC)[0]
	union := BuildDayBuckets(append(append([]db.PageView{}, passA...), passB...), time.UTC)[0]

	bucketA.Merge(bucketB)

	assert.Equal(t, union.TotalViews, bucketA.TotalViews)
	assert.Equal(t, union.UniqueVisitors, bucketA.UniqueVisitors, "a, b, c appear in exactly one pass each")
	assert.Equal(t, union.TotalSessions, bucketA.TotalSessions)
	assert.Equal(t, union.Bounces, bucketA.Bounces)
	assert.Equal(t, union.TotalDuration, bucketA.TotalDuration)

	assert.Equal(t, union.Countries.Data(), bucketA.Countries.Data())
	assert.Equal(t, union.Browsers.Data(), bucketA.Browsers.Data())
	assert.Equal(t, union.Referrers.Data(), bucketA.Referrers.Data())
}

func TestArchiveDayMergeCreatesMissingKeys(t *testing.T) {
	a := &db.ArchiveDay{Date: "2024-06-01"}
	b := BuildDayBuckets([]db.PageView{view("v", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), 0)}, time.UTC)[0]

	a.Merge(b)

	assert.Equal(t, int64(1), a.TotalViews)
	assert.Equal(t, int64(1), a.Referrers.Data()[LabelDirect])
}
