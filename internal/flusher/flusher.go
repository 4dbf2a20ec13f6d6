// Package flusher runs the analytics flush pipeline: drain a bounded
// batch from the queue, normalize, compute stay durations, backfill the
// previous batch's tails, persist, sync the counter cache, archive aged
// rows, enforce archive retention, then trim the queue head.
package flusher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pageflux/internal/analytics"
	"pageflux/internal/config"
	"pageflux/internal/db"
)

// Queue is the Redis-side surface the pipeline consumes.
type Queue interface {
	Peek(ctx context.Context, n int) ([]string, error)
	Trim(ctx context.Context, n int) error
	CounterSnapshot(ctx context.Context) (map[string]int64, error)
	AcquireFlushLock(ctx context.Context, ttl time.Duration) (bool, func(), error)
}

// Store is the durable-store surface the pipeline writes to.
type Store interface {
	InsertPageViews(ctx context.Context, views []db.PageView) (int, error)
	LatestViewByVisitor(ctx context.Context, visitorID string) (*db.PageView, error)
	SetViewDuration(ctx context.Context, id uint, seconds int64) error
	UpsertViewCounters(ctx context.Context, counts map[string]int64) (int, error)
	ViewsBefore(ctx context.Context, boundary time.Time) ([]db.PageView, error)
	ArchiveViews(ctx context.Context, buckets []*db.ArchiveDay, sourceIDs []uint) (int, int64, error)
	DeleteArchivesBefore(ctx context.Context, cutoff string) (int64, error)
}

// Result is what one flush invocation reports back to its caller.
type Result struct {
	Ok      bool `json:"ok"`
	Skipped bool `json:"skipped,omitempty"`

	Flushed         int   `json:"flushed"`
	Dropped         int   `json:"dropped"`
	CountersSynced  int   `json:"countersSynced"`
	ArchivedDays    int   `json:"archivedDays"`
	RawDeleted      int64 `json:"rawDeleted"`
	ExpiredArchives int64 `json:"expiredArchives"`
}

// Flusher owns one configured pipeline. Construct with New; safe to
// trigger from both the scheduler and the HTTP endpoint — a Redis lease
// keeps concurrent runs from draining the queue twice.
type Flusher struct {
	queue Queue
	store Store

	enabled       bool
	batchSize     int
	precisionDays int
	retentionDays int
	loc           *time.Location
	lockTTL       time.Duration

	log     zerolog.Logger
	metrics *Metrics

	// now is stubbed in tests.
	now func() time.Time
}

func New(q Queue, s Store, cfg *config.Config, log zerolog.Logger, m *Metrics) *Flusher {
	loc, ok := analytics.Location(cfg.Timezone)
	if !ok {
		log.Warn().Str("timezone", cfg.Timezone).Msg("unknown timezone, falling back to UTC")
	}
	return &Flusher{
		queue:         q,
		store:         s,
		enabled:       cfg.AnalyticsEnabled,
		batchSize:     cfg.FlushBatchSize,
		precisionDays: cfg.PrecisionDays,
		retentionDays: cfg.RetentionDays,
		loc:           loc,
		lockTTL:       cfg.FlushLockTTL,
		log:           log,
		metrics:       m,
		now:           time.Now,
	}
}

// Flush executes one full pipeline run. Steps are sequential; the run
// aborts between steps when ctx is done, never mid-step. Any step error
// fails the whole run and leaves the queue untrimmed, so the next run
// reprocesses the same batch (persistence is duplicate-tolerant).
func (f *Flusher) Flush(ctx context.Context) (Result, error) {
	if !f.enabled {
		return Result{Ok: true, Skipped: true}, nil
	}

	start := f.now()
	res, err := f.run(ctx)
	f.metrics.observe(res, err, f.now().Sub(start))
	if err != nil {
		f.log.Error().Err(err).Msg("flush failed")
		return res, err
	}
	if res.Skipped {
		f.log.Debug().Msg("flush skipped, lease held elsewhere")
		return res, nil
	}
	f.log.Info().
		Int("flushed", res.Flushed).
		Int("dropped", res.Dropped).
		Int("countersSynced", res.CountersSynced).
		Int("archivedDays", res.ArchivedDays).
		Int64("rawDeleted", res.RawDeleted).
		Int64("expiredArchives", res.ExpiredArchives).
		Msg("flush complete")
	return res, nil
}

func (f *Flusher) run(ctx context.Context) (Result, error) {
	var res Result

	acquired, release, err := f.queue.AcquireFlushLock(ctx, f.lockTTL)
	if err != nil {
		return res, fmt.Errorf("acquire flush lock: %w", err)
	}
	if !acquired {
		return Result{Ok: true, Skipped: true}, nil
	}
	defer release()

	// Drain a bounded batch without removing it from the queue.
	drained, err := f.queue.Peek(ctx, f.batchSize)
	if err != nil {
		return res, fmt.Errorf("drain queue: %w", err)
	}

	views, dropped := f.normalize(drained)
	res.Dropped = dropped

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Durations must be final for the whole batch before persistence.
	firstByVisitor := analytics.ComputeDurations(views)

	// Backfill runs before persistence so the "most recent persisted
	// event" lookups cannot see this batch's own rows.
	if err := f.backfill(ctx, firstByVisitor); err != nil {
		return res, fmt.Errorf("backfill durations: %w", err)
	}

	res.Flushed, err = f.store.InsertPageViews(ctx, views)
	if err != nil {
		return res, fmt.Errorf("persist page views: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.CountersSynced, err = f.syncCounters(ctx)
	if err != nil {
		return res, fmt.Errorf("sync view counters: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.ArchivedDays, res.RawDeleted, err = f.archive(ctx)
	if err != nil {
		return res, fmt.Errorf("archive: %w", err)
	}

	res.ExpiredArchives, err = f.enforceRetention(ctx)
	if err != nil {
		return res, fmt.Errorf("enforce retention: %w", err)
	}

	// The queue advances past everything drained, malformed entries
	// included: a bad payload never becomes valid on retry.
	if err := f.queue.Trim(ctx, len(drained)); err != nil {
		return res, fmt.Errorf("trim queue: %w", err)
	}

	res.Ok = true
	return res, nil
}

func (f *Flusher) normalize(drained []string) ([]db.PageView, int) {
	views := make([]db.PageView, 0, len(drained))
	dropped := 0
	for seq, raw := range drained {
		pv, err := analytics.Normalize([]byte(raw), seq)
		if err != nil {
			dropped++
			f.log.Debug().Err(err).Int("seq", seq).Msg("dropping malformed event")
			continue
		}
		views = append(views, *pv)
	}
	return views, dropped
}

// backfill patches the duration of each visitor's most recent already-
// persisted event, now that a newer event proves the visitor stayed.
// Only rows still at duration 0 are eligible.
func (f *Flusher) backfill(ctx context.Context, firstByVisitor map[string]db.PageView) error {
	for visitor, first := range firstByVisitor {
		prev, err := f.store.LatestViewByVisitor(ctx, visitor)
		if err != nil {
			return err
		}
		if prev == nil || prev.Duration != 0 {
			continue
		}
		secs := int64(first.CreatedAt.Sub(prev.CreatedAt) / time.Second)
		if secs <= 0 {
			continue
		}
		if err := f.store.SetViewDuration(ctx, prev.ID, secs); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flusher) syncCounters(ctx context.Context) (int, error) {
	counts, err := f.queue.CounterSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	return f.store.UpsertViewCounters(ctx, counts)
}

// archive folds page views older than the precision window into daily
// archive rows and deletes them, merge and delete in one transaction.
func (f *Flusher) archive(ctx context.Context) (int, int64, error) {
	if f.precisionDays == 0 {
		return 0, 0, nil
	}
	boundary := analytics.ArchiveBoundary(f.now(), f.loc, f.precisionDays)
	aged, err := f.store.ViewsBefore(ctx, boundary)
	if err != nil {
		return 0, 0, err
	}
	if len(aged) == 0 {
		return 0, 0, nil
	}

	buckets := analytics.BuildDayBuckets(aged, f.loc)
	ids := make([]uint, len(aged))
	for i, v := range aged {
		ids[i] = v.ID
	}
	return f.store.ArchiveViews(ctx, buckets, ids)
}

func (f *Flusher) enforceRetention(ctx context.Context) (int64, error) {
	if f.retentionDays == 0 {
		return 0, nil
	}
	cutoff := analytics.RetentionCutoff(f.now(), f.loc, f.retentionDays)
	return f.store.DeleteArchivesBefore(ctx, cutoff)
}

// StartFlushWorker launches the internal scheduler: one flush shortly
// after startup, then one per interval. Each run gets its own timeout
// bounded by the lease TTL.
func (f *Flusher) StartFlushWorker(interval time.Duration) {
	go func() {
		run := func() {
			ctx, cancel := context.WithTimeout(context.Background(), f.lockTTL)
			defer cancel()
			// Errors are already logged and counted inside Flush.
			_, _ = f.Flush(ctx)
		}

		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			run()
		}
	}()
}
