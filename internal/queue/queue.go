// Package queue is the Redis side of the pipeline: the FIFO event list
// the site pushes visit payloads onto, the fast per-path view counter
// hash, and the flush lease lock.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	retryAttempts = 2
	retryBackoff  = 200 * time.Millisecond
)

// Queue wraps the Redis client with the operations the flusher and the
// track endpoint need. Keys are injected, not package globals.
type Queue struct {
	rdb        *redis.Client
	queueKey   string
	counterKey string
	lockKey    string
	log        zerolog.Logger
}

// Options carries the Redis keys for the queue, counter cache and lock.
type Options struct {
	QueueKey   string
	CounterKey string
	LockKey    string
}

// Connect dials Redis from a redis:// URL and pings it once.
func Connect(ctx context.Context, url string, opts Options, log zerolog.Logger) (*Queue, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, opts, log), nil
}

// New wraps an existing client; used by Connect and by tests that run
// against miniredis.
func New(rdb *redis.Client, opts Options, log zerolog.Logger) *Queue {
	return &Queue{
		rdb:        rdb,
		queueKey:   opts.QueueKey,
		counterKey: opts.CounterKey,
		lockKey:    opts.LockKey,
		log:        log,
	}
}

// Close releases the underlying client.
func (q *Queue) Close() error { return q.rdb.Close() }

// Peek reads up to n payloads from the head of the queue without
// removing them. The read and the later Trim are two separate calls, so
// redelivery after a crash is possible; the store's duplicate-tolerant
// insert absorbs it.
func (q *Queue) Peek(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var items []string
	err := q.withRetry(ctx, "peek", func() error {
		var err error
		items, err = q.rdb.LRange(ctx, q.queueKey, 0, int64(n)-1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Trim drops exactly n items from the head of the queue. Called only
// after persistence has been attempted for the drained batch.
func (q *Queue) Trim(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return q.withRetry(ctx, "trim", func() error {
		return q.rdb.LTrim(ctx, q.queueKey, int64(n), -1).Err()
	})
}

// Push appends a raw JSON payload to the tail of the queue.
func (q *Queue) Push(ctx context.Context, payload []byte) error {
	return q.rdb.RPush(ctx, q.queueKey, payload).Err()
}

// QueueLen reports the current queue depth.
func (q *Queue) QueueLen(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueKey).Result()
}

// IncrCounter bumps the fast view counter for a path.
func (q *Queue) IncrCounter(ctx context.Context, path string) error {
	return q.rdb.HIncrBy(ctx, q.counterKey, path, 1).Err()
}

// CounterSnapshot enumerates the whole counter hash. The hash is read
// without locking; a concurrent increment landing mid-sweep is picked
// up by the next flush. Entries that fail to parse are skipped.
func (q *Queue) CounterSnapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := q.rdb.HGetAll(ctx, q.counterKey).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(raw))
	for path, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			q.log.Warn().Str("path", path).Str("value", v).Msg("counter cache entry not an integer, skipping")
			continue
		}
		counts[path] = n
	}
	return counts, nil
}

func (q *Queue) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		q.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("queue op failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return fmt.Errorf("queue %s after %d attempts: %w", op, retryAttempts, err)
}
