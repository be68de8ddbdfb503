package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

const scanLockKeyPrefix = "secmon:scanlock"

// releaseScript deletes the lock only while it still holds the caller's job id.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// ScanLock is a per tenant and kind lock shared by every instance. The value
// is the id of the job holding it.
type ScanLock struct {
	client *Client
}

// NewScanLock creates a scan lock on client.
func NewScanLock(client *Client) *ScanLock {
	return &ScanLock{client: client}
}

func scanLockKey(tenantID shared.ID, kind scanjob.Kind) string {
	return cacheKey(scanLockKeyPrefix, tenantID.String()+":"+string(kind))
}

// Acquire sets the lock to jobID unless it is held. When it is, the holder's
// job id is returned with ok false.
func (l *ScanLock) Acquire(
	ctx context.Context,
	tenantID shared.ID,
	kind scanjob.Kind,
	jobID shared.ID,
	ttl time.Duration,
) (shared.ID, bool, error) {
	key := scanLockKey(tenantID, kind)

	// The holder may expire between SET NX and GET; one more round covers it.
	for range 2 {
		done := Timed("scanlock_acquire")
		ok, err := l.client.rdb.SetNX(ctx, key, jobID.String(), ttl).Result()
		done(err)
		if err != nil {
			return shared.ID{}, false, fmt.Errorf("set scan lock: %w", err)
		}
		if ok {
			return jobID, true, nil
		}

		value, err := l.client.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return shared.ID{}, false, fmt.Errorf("read scan lock: %w", err)
		}
		holder, err := parseLockHolder(value)
		if err != nil {
			return shared.ID{}, false, err
		}
		return holder, false, nil
	}
	return shared.ID{}, false, fmt.Errorf("%w: scan lock %s keeps changing hands", shared.ErrConflict, key)
}

// Release deletes the lock if jobID still holds it.
func (l *ScanLock) Release(ctx context.Context, tenantID shared.ID, kind scanjob.Kind, jobID shared.ID) error {
	done := Timed("scanlock_release")
	err := releaseScript.Run(ctx, l.client.rdb, []string{scanLockKey(tenantID, kind)}, jobID.String()).Err()
	done(err)
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release scan lock: %w", err)
	}
	return nil
}

func parseLockHolder(value string) (shared.ID, error) {
	id, err := shared.IDFromString(value)
	if err != nil {
		return shared.ID{}, fmt.Errorf("scan lock holds %q: %w", value, err)
	}
	return id, nil
}
