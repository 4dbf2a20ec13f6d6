package db

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postPathRe recognizes post pages so their counter rows can be linked
// back to the post record (e.g. "/article/42").
var postPathRe = regexp.MustCompile(`^/article/(\d+)(?:/|$)`)

// Store wraps the gorm handle with the operations the flush pipeline
// needs. All methods honor the passed context.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InsertPageViews bulk-inserts the batch, silently skipping rows that
// collide on (visitor_id, created_at, path). Returns the number of rows
// actually written.
func (s *Store) InsertPageViews(ctx context.Context, views []PageView) (int, error) {
	if len(views) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&views)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// LatestViewByVisitor returns the most recently persisted page view for
// the visitor, or nil if none exists.
func (s *Store) LatestViewByVisitor(ctx context.Context, visitorID string) (*PageView, error) {
	var pv PageView
	err := s.db.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		Order("created_at DESC").
		First(&pv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pv, nil
}

// SetViewDuration patches one stored row's duration, but only while it
// is still unknown (exactly 0), so an already-correct value is never
// clobbered by a redelivered batch.
func (s *Store) SetViewDuration(ctx context.Context, id uint, seconds int64) error {
	return s.db.WithContext(ctx).
		Model(&PageView{}).
		Where("id = ? AND duration = 0", id).
		Update("duration", seconds).Error
}

// UpsertViewCounters writes the full counter-cache snapshot, one row per
// path, last write wins. Post pages get their post id stamped. Returns
// the number of rows upserted.
func (s *Store) UpsertViewCounters(ctx context.Context, counts map[string]int64) (int, error) {
	if len(counts) == 0 {
		return 0, nil
	}
	rows := make([]ViewCounter, 0, len(counts))
	for path, views := range counts {
		row := ViewCounter{Path: path, Views: views}
		if m := postPathRe.FindStringSubmatch(path); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				row.PostID = &id
			}
		}
		rows = append(rows, row)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"views", "post_id", "updated_at"}),
		}).
		Create(&rows).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ViewCounterByPath returns the durable counter row for a path, or nil.
func (s *Store) ViewCounterByPath(ctx context.Context, path string) (*ViewCounter, error) {
	var vc ViewCounter
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&vc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vc, nil
}

// ViewsBefore returns every persisted page view with a timestamp
// strictly before the archive boundary, oldest first.
func (s *Store) ViewsBefore(ctx context.Context, boundary time.Time) ([]PageView, error) {
	var views []PageView
	err := s.db.WithContext(ctx).
		Where("created_at < ?", boundary).
		Order("created_at ASC").
		Find(&views).Error
	return views, err
}

// ArchiveViews commits one archival pass: every day bucket is inserted
// or additively merged into its existing row, then the source rows are
// deleted — all in a single transaction, so a crash can never leave
// deleted rows without their committed bucket (or vice versa).
// Returns the number of buckets touched and raw rows deleted.
func (s *Store) ArchiveViews(ctx context.Context, buckets []*ArchiveDay, sourceIDs []uint) (int, int64, error) {
	if len(buckets) == 0 {
		return 0, 0, nil
	}
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, b := range buckets {
			var existing ArchiveDay
			err := tx.Where("date = ?", b.Date).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(b).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				existing.Merge(b)
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
			}
		}
		res := tx.Where("id IN ?", sourceIDs).Delete(&PageView{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return len(buckets), deleted, nil
}

// ArchivesBetween returns archive rows with from <= date <= to,
// ascending. Empty bounds are open.
func (s *Store) ArchivesBetween(ctx context.Context, from, to string) ([]ArchiveDay, error) {
	q := s.db.WithContext(ctx).Model(&ArchiveDay{})
	if from != "" {
		q = q.Where("date >= ?", from)
	}
	if to != "" {
		q = q.Where("date <= ?", to)
	}
	var days []ArchiveDay
	err := q.Order("date ASC").Find(&days).Error
	return days, err
}
