// Package redis holds everything secmon keeps in Redis when more than one
// instance runs against the same stores:
//
//   - Cache[T]: JSON values under a key prefix with a fixed TTL (last-known-good score)
//   - ScanJobStore: scan jobs and a per-tenant recency index, expiring after the job TTL
//   - EventRelay: pub/sub fan-out of engine events, tagged with the sending instance
//   - RateLimiter: sliding-window-log limiter (Lua) shared by all instances
//
// Wiring:
//
//	client, err := redis.New(ctx, &cfg.Redis, log)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	scores, err := redis.NewCache[score.Snapshot](client, "score", cfg.Redis.ScoreCacheTTL)
//	jobs := redis.NewScanJobStore(client, cfg.Redis.JobTTL)
package redis
