package score

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/secmon/internal/metrics"
	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/user"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
	"github.com/openctemio/secmon/pkg/logger"
)

// Snapshot is a computed score with the counts it was derived from.
type Snapshot struct {
	TenantID          shared.ID `json:"tenant_id"`
	Score             int       `json:"score"`
	TotalAssets       int64     `json:"total_assets"`
	VulnerableAssets  int64     `json:"vulnerable_assets"`
	CriticalOpenVulns int64     `json:"critical_open_vulns"`
	ActiveAlerts      int64     `json:"active_alerts"`
	MFAEnabledUsers   int64     `json:"mfa_enabled_users"`
	TotalUsers        int64     `json:"total_users"`
	Stale             bool      `json:"stale"`
	Timestamp         time.Time `json:"timestamp"`
}

// SnapshotCache keeps last-known-good snapshots across restarts and instances.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*Snapshot, error)
	Set(ctx context.Context, key string, value Snapshot) error
}

// Service gathers score inputs from the stores and never fails.
type Service struct {
	assets  asset.Repository
	vulns   vulnerability.Repository
	alerts  alert.Repository
	users   user.Counter
	cache   SnapshotCache
	logger  *logger.Logger
	timeout time.Duration

	mu       sync.RWMutex
	lastGood map[shared.ID]Snapshot
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores last-known-good snapshots in cache as well as in memory.
func WithCache(c SnapshotCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithTimeout bounds input gathering.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// NewService creates a score service. users may be nil, in which case the MFA
// term is always zero.
func NewService(
	assets asset.Repository,
	vulns vulnerability.Repository,
	alerts alert.Repository,
	users user.Counter,
	log *logger.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		assets:   assets,
		vulns:    vulns,
		alerts:   alerts,
		users:    users,
		logger:   log.With("component", "score"),
		timeout:  10 * time.Second,
		lastGood: make(map[shared.ID]Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current computes the tenant's snapshot. When gathering fails it returns the
// last-known-good snapshot marked stale, or DefaultScore with zero counts.
func (s *Service) Current(ctx context.Context, tenantID shared.ID) Snapshot {
	snap, err := s.compute(ctx, tenantID)
	if err == nil {
		s.remember(ctx, snap)
		metrics.SecurityScore.WithLabelValues(tenantID.String()).Set(float64(snap.Score))
		return snap
	}

	s.logger.Warn("score inputs unavailable, using fallback", "tenant_id", tenantID.String(), "error", err)

	if last, ok := s.lastKnownGood(ctx, tenantID); ok {
		metrics.ScoreFallbacksTotal.WithLabelValues("last_known_good").Inc()
		last.Stale = true
		return last
	}

	metrics.ScoreFallbacksTotal.WithLabelValues("default").Inc()
	return Snapshot{
		TenantID:  tenantID,
		Score:     DefaultScore,
		Stale:     true,
		Timestamp: time.Now().UTC(),
	}
}

func (s *Service) compute(ctx context.Context, tenantID shared.ID) (Snapshot, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	snap := Snapshot{TenantID: tenantID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.assets.Count(gctx, asset.Filter{TenantID: tenantID})
		if err != nil {
			return fmt.Errorf("count assets: %w", err)
		}
		snap.TotalAssets = n
		return nil
	})
	g.Go(func() error {
		n, err := s.assets.CountVulnerable(gctx, tenantID)
		if err != nil {
			return fmt.Errorf("count vulnerable assets: %w", err)
		}
		snap.VulnerableAssets = n
		return nil
	})
	g.Go(func() error {
		// Critical vulnerabilities already being worked on no longer count.
		n, err := s.vulns.CountBySeverityAndStatus(gctx, tenantID, shared.SeverityCritical, vulnerability.StatusOpen)
		if err != nil {
			return fmt.Errorf("count critical vulnerabilities: %w", err)
		}
		snap.CriticalOpenVulns = n
		return nil
	})
	g.Go(func() error {
		n, err := s.alerts.CountByStatus(gctx, tenantID, alert.StatusActive)
		if err != nil {
			return fmt.Errorf("count active alerts: %w", err)
		}
		snap.ActiveAlerts = n
		return nil
	})
	if s.users != nil {
		g.Go(func() error {
			total, mfa, err := s.users.CountUsers(gctx, tenantID)
			if err != nil {
				return fmt.Errorf("count users: %w", err)
			}
			snap.TotalUsers = total
			snap.MFAEnabledUsers = mfa
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap.Score = Calculate(Inputs{
		TotalAssets:       snap.TotalAssets,
		VulnerableAssets:  snap.VulnerableAssets,
		CriticalOpenVulns: snap.CriticalOpenVulns,
		MFAEnabledUsers:   snap.MFAEnabledUsers,
		TotalUsers:        snap.TotalUsers,
	})
	snap.Timestamp = time.Now().UTC()
	return snap, nil
}

func (s *Service) remember(ctx context.Context, snap Snapshot) {
	s.mu.Lock()
	s.lastGood[snap.TenantID] = snap
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(ctx, snap.TenantID.String(), snap); err != nil {
			s.logger.Debug("score cache write failed", "tenant_id", snap.TenantID.String(), "error", err)
		}
	}
}

func (s *Service) lastKnownGood(ctx context.Context, tenantID shared.ID) (Snapshot, bool) {
	s.mu.RLock()
	snap, ok := s.lastGood[tenantID]
	s.mu.RUnlock()
	if ok {
		return snap, true
	}

	if s.cache == nil {
		return Snapshot{}, false
	}
	cached, err := s.cache.Get(ctx, tenantID.String())
	if err != nil || cached == nil {
		return Snapshot{}, false
	}
	return *cached, true
}
