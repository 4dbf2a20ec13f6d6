package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so
// a lease that expired and was re-acquired elsewhere is never released
// by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireFlushLock takes the short-lived lease that keeps two flush
// pipelines from draining the queue concurrently. Returns false when
// another run holds it — the caller skips this run, it is not an error.
// The returned release func is safe to defer either way.
func (q *Queue) AcquireFlushLock(ctx context.Context, ttl time.Duration) (bool, func(), error) {
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return false, func() {}, err
	}
	val := hex.EncodeToString(token)

	ok, err := q.rdb.SetNX(ctx, q.lockKey, val, ttl).Result()
	if err != nil {
		return false, func() {}, err
	}
	if !ok {
		return false, func() {}, nil
	}
	release := func() {
		// Best effort with a fresh context: the flush's own context may
		// already be canceled when the deferred release runs.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, q.rdb, []string{q.lockKey}, val).Err(); err != nil {
			q.log.Warn().Err(err).Msg("failed to release flush lock, lease will expire on its own")
		}
	}
	return true, release, nil
}
