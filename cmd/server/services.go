package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openctemio/secmon/internal/app/detector"
	"github.com/openctemio/secmon/internal/app/ingest"
	"github.com/openctemio/secmon/internal/app/monitor"
	"github.com/openctemio/secmon/internal/app/notify"
	"github.com/openctemio/secmon/internal/app/scan"
	"github.com/openctemio/secmon/internal/app/scheduler"
	"github.com/openctemio/secmon/internal/app/score"
	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/internal/infra/jobs"
	"github.com/openctemio/secmon/internal/infra/notification"
	"github.com/openctemio/secmon/internal/infra/redis"
	"github.com/openctemio/secmon/internal/infra/storage"
	"github.com/openctemio/secmon/internal/infra/websocket"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

// Services holds the application services and the realtime plumbing.
type Services struct {
	Notifier  *notify.Notifier
	Hub       *websocket.Hub
	Relay     *redis.EventRelay
	Pipeline  *ingest.Pipeline
	Scores    *score.Service
	Scans     *scan.Orchestrator
	Reports   *monitor.ReportGenerator
	Monitor   *monitor.Service
	JobClient *jobs.Client
	Scheduler *scheduler.Scheduler
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Repos       *Repositories
	RedisClient *redis.Client // nil when Redis is disabled
}

// NewServices initializes every service. Nothing is started here except the
// cross-instance event listener.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos
	svc := &Services{}

	// Realtime fan-out: every event goes to the websocket hub, and to the
	// other instances when Redis is available.
	svc.Notifier = notify.New(log)
	svc.Hub = websocket.NewHub(log)
	svc.Notifier.Attach("websocket", cfg.Monitor.NotifierBuffer, nil, svc.Hub)

	if deps.RedisClient != nil {
		svc.Relay = redis.NewEventRelay(deps.RedisClient, cfg.Redis.EventChannel, svc.Notifier, log)
		svc.Notifier.Attach("redis-relay", cfg.Monitor.NotifierBuffer, svc.Relay.Local, svc.Relay)
		if err := svc.Relay.StartListener(ctx); err != nil {
			return nil, fmt.Errorf("start event relay: %w", err)
		}
		log.Info("event relay started", "channel", cfg.Redis.EventChannel, "origin", svc.Relay.Origin())
	}

	if cfg.AlertForward.Enabled {
		if err := attachAlertForwarder(svc, &cfg.AlertForward, cfg.Monitor.NotifierBuffer, log); err != nil {
			return nil, err
		}
	}

	det, err := newDetector(&cfg.Monitor, log)
	if err != nil {
		return nil, err
	}

	svc.Pipeline = ingest.NewPipeline(repos.Assets, repos.Vulnerabilities, repos.Alerts, svc.Notifier, log)

	var scoreOpts []score.Option
	if deps.RedisClient != nil {
		cache, err := redis.NewCache[score.Snapshot](deps.RedisClient, "score", cfg.Redis.ScoreCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("create score cache: %w", err)
		}
		scoreOpts = append(scoreOpts, score.WithCache(cache))
	}
	svc.Scores = score.NewService(repos.Assets, repos.Vulnerabilities, repos.Alerts, repos.Users, log, scoreOpts...)

	var jobStore scanjob.Repository = repos.ScanJobs
	scanOpts := []scan.Option{
		scan.WithMaxDuration(cfg.Monitor.ScanMaxDuration),
		scan.WithDiscoverySource(scan.NewSyntheticDiscovery(cfg.Monitor.DetectorSeed)),
	}
	if deps.RedisClient != nil {
		jobStore = redis.NewScanJobStore(deps.RedisClient, cfg.Redis.JobTTL)
		scanOpts = append(scanOpts, scan.WithLock(redis.NewScanLock(deps.RedisClient)))
	}
	svc.Scans = scan.NewOrchestrator(jobStore, repos.Assets, det, svc.Pipeline, svc.Notifier, log, scanOpts...)

	var archive monitor.ReportArchive
	if cfg.Report.S3Enabled {
		s3Archive, err := storage.NewS3Archive(ctx, &cfg.Report, log)
		if err != nil {
			return nil, fmt.Errorf("create report archive: %w", err)
		}
		archive = s3Archive
		log.Info("report archive initialized", "bucket", cfg.Report.Bucket)
	}
	svc.Reports = monitor.NewReportGenerator(svc.Scores, archive, svc.Notifier, log)

	var enqueuer monitor.ReportEnqueuer
	if cfg.Queue.Enabled {
		svc.JobClient = jobs.NewClient(jobs.RedisOpt(&cfg.Redis), log)
		enqueuer = svc.JobClient
	}

	svc.Monitor = monitor.NewService(monitor.Deps{
		Tenants:   repos.Tenants,
		Assets:    repos.Assets,
		Alerts:    repos.Alerts,
		Detector:  det,
		Pipeline:  svc.Pipeline,
		Scores:    svc.Scores,
		Scans:     svc.Scans,
		Reports:   svc.Reports,
		Enqueuer:  enqueuer,
		Publisher: svc.Notifier,
	}, monitor.Config{
		CheckInterval:            cfg.Monitor.CheckInterval,
		MetricsInterval:          cfg.Monitor.MetricsInterval,
		DailyReportCron:          cfg.Monitor.DailyReportCron,
		PassiveDiscoveryInterval: cfg.Monitor.PassiveDiscoveryInterval,
		StaleAssetAge:            cfg.Monitor.StaleAssetAge,
		CheckAssetLimit:          cfg.Monitor.CheckAssetLimit,
	}, log)

	svc.Scheduler = scheduler.New(scheduler.Config{
		Metrics: scheduler.NewPrometheusMetrics("secmon", prometheus.DefaultRegisterer),
		Logger:  log,
	})
	if cfg.Monitor.Enabled {
		if err := svc.Monitor.Register(svc.Scheduler); err != nil {
			return nil, fmt.Errorf("register monitor tasks: %w", err)
		}
	}

	return svc, nil
}

func newDetector(cfg *config.MonitorConfig, log *logger.Logger) (detector.Detector, error) {
	profile := detector.DefaultProfile()
	if cfg.DetectorProfile != "" {
		p, err := detector.LoadProfile(cfg.DetectorProfile)
		if err != nil {
			return nil, fmt.Errorf("load detector profile: %w", err)
		}
		profile = p
		log.Info("detector profile loaded", "path", cfg.DetectorProfile)
	}

	return detector.NewChain(log,
		detector.NewRandomDetector(profile, cfg.DetectorSeed),
		detector.NewThreatDetector(cfg.ThreatProbability, cfg.DetectorSeed),
	), nil
}

// attachAlertForwarder sends this instance's alerts to the configured external
// channel. Relayed alerts are skipped so each alert is forwarded once.
func attachAlertForwarder(svc *Services, cfg *config.AlertForwardConfig, buffer int, log *logger.Logger) error {
	client, err := notification.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("create alert forwarder: %w", err)
	}
	minSeverity, err := shared.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		return fmt.Errorf("alert forwarder severity: %w", err)
	}

	filter := notify.NameFilter(event.SecurityAlert)
	if svc.Relay != nil {
		isAlert, local := filter, svc.Relay.Local
		filter = func(e event.Event) bool { return isAlert(e) && local(e) }
	}

	forwarder := notification.NewForwarder(client, minSeverity, cfg.PerMinute, log)
	svc.Notifier.Attach("alert-forwarder", buffer, filter, forwarder)
	log.Info("alert forwarder attached", "provider", client.Provider(), "min_severity", minSeverity.String())
	return nil
}

// Close stops the notifier after the producers have stopped.
func (s *Services) Close() error {
	s.Notifier.Close()
	if s.JobClient != nil {
		return s.JobClient.Close()
	}
	return nil
}
