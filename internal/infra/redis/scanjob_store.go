package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

const (
	scanJobKeyPrefix   = "secmon:scan"
	scanIndexKeyPrefix = "secmon:scans"

	// DefaultJobTTL is how long finished and unfinished jobs stay queryable.
	DefaultJobTTL = 24 * time.Hour
)

// ScanJobStore implements scanjob.Repository on Redis so that every instance
// sees the same scan registry. Each job is a JSON string with a TTL and each
// tenant has a sorted set of job ids scored by creation time.
type ScanJobStore struct {
	client *Client
	ttl    time.Duration
}

var _ scanjob.Repository = (*ScanJobStore)(nil)

// NewScanJobStore creates a job store. A non-positive ttl uses DefaultJobTTL.
func NewScanJobStore(client *Client, ttl time.Duration) *ScanJobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &ScanJobStore{client: client, ttl: ttl}
}

func jobKey(id shared.ID) string {
	return cacheKey(scanJobKeyPrefix, id.String())
}

func tenantIndexKey(tenantID shared.ID) string {
	return cacheKey(scanIndexKeyPrefix, tenantID.String())
}

// Save writes the job and indexes it under its tenant.
func (s *ScanJobStore) Save(ctx context.Context, j *scanjob.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal scan job: %w", err)
	}

	index := tenantIndexKey(j.TenantID)
	cutoff := time.Now().Add(-s.ttl).UnixNano()

	done := Timed("scanjob_save")
	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(j.ID), data, s.ttl)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(j.CreatedAt.UnixNano()), Member: j.ID.String()})
	pipe.ZRemRangeByScore(ctx, index, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, index, s.ttl)
	_, err = pipe.Exec(ctx)
	done(err)
	if err != nil {
		return fmt.Errorf("save scan job: %w", err)
	}
	return nil
}

// Get returns the job if it exists and belongs to the tenant.
func (s *ScanJobStore) Get(ctx context.Context, tenantID, id shared.ID) (*scanjob.Job, error) {
	done := Timed("scanjob_get")
	data, err := s.client.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		done(nil)
		return nil, fmt.Errorf("%w: scan job %s", shared.ErrNotFound, id)
	}
	done(err)
	if err != nil {
		return nil, fmt.Errorf("get scan job: %w", err)
	}

	j, err := decode[scanjob.Job](data)
	if err != nil {
		return nil, err
	}
	if !j.TenantID.Equals(tenantID) {
		return nil, fmt.Errorf("%w: scan job %s", shared.ErrNotFound, id)
	}
	return j, nil
}

// ListByTenant returns the newest jobs first. Index entries whose job has
// expired are pruned.
func (s *ScanJobStore) ListByTenant(ctx context.Context, tenantID shared.ID, limit int) ([]*scanjob.Job, error) {
	index := tenantIndexKey(tenantID)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.rdb.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list scan job ids: %w", err)
	}
	if len(ids) == 0 {
		return []*scanjob.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(scanJobKeyPrefix, id)
	}
	values, err := s.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load scan jobs: %w", err)
	}

	jobs, expired := decodeJobs(ids, values)
	if len(expired) > 0 {
		if err := s.client.rdb.ZRem(ctx, index, expired...).Err(); err != nil {
			s.client.logger.Warn("failed to prune expired scan ids", "tenant_id", tenantID.String(), "error", err)
		}
	}
	return jobs, nil
}

// decodeJobs pairs MGET results with their ids. Missing values are reported as
// expired; undecodable values are skipped.
func decodeJobs(ids []string, values []any) ([]*scanjob.Job, []any) {
	jobs := make([]*scanjob.Job, 0, len(values))
	var expired []any
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		j, err := decode[scanjob.Job]([]byte(data))
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, expired
}
