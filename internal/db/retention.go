package db

import (
	"context"
)

// DeleteArchivesBefore removes every archive row whose date is strictly
// before cutoff ("2006-01-02"). Dates compare lexicographically, which
// for this format matches chronological order. Idempotent: a second
// call with the same cutoff deletes nothing.
func (s *Store) DeleteArchivesBefore(ctx context.Context, cutoff string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("date < ?", cutoff).
		Delete(&ArchiveDay{})
	return res.RowsAffected, res.Error
}
