// Package scan runs on-demand discovery and comprehensive scans in the
// background and reports their lifecycle as events.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/secmon/internal/app/detector"
	"github.com/openctemio/secmon/internal/app/ingest"
	"github.com/openctemio/secmon/internal/metrics"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

// DefaultMaxDuration bounds a single scan body.
const DefaultMaxDuration = 10 * time.Minute

// DefaultListLimit caps List results.
const DefaultListLimit = 50

// Terminal job saves are retried with exponential backoff.
const (
	saveBackoffMin = 100 * time.Millisecond
	saveBackoffMax = 5 * time.Second
)

// ErrShuttingDown is returned by Start after Shutdown was called.
var ErrShuttingDown = errors.New("scan orchestrator is shutting down")

// ErrScanFinishing is returned by Start while the previous job of the same
// tenant and kind has a final state but still holds its slot.
var ErrScanFinishing = fmt.Errorf("%w: previous scan is still finishing", shared.ErrConflict)

// Lock extends mutual exclusion of scans to every instance sharing it.
type Lock interface {
	// Acquire claims tenant and kind for jobID until ttl elapses. When the
	// claim is held elsewhere the holder's job id is returned with ok false.
	Acquire(ctx context.Context, tenantID shared.ID, kind scanjob.Kind, jobID shared.ID, ttl time.Duration) (holder shared.ID, ok bool, err error)
	// Release drops the claim if jobID still holds it.
	Release(ctx context.Context, tenantID shared.ID, kind scanjob.Kind, jobID shared.ID) error
}

// StartResult is returned by Start. Coalesced is true when an in-flight job of
// the same tenant and kind was returned instead of a new one.
type StartResult struct {
	Job       *scanjob.Job
	Coalesced bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxDuration overrides DefaultMaxDuration.
func WithMaxDuration(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.maxDuration = d
		}
	}
}

// WithDiscoverySource replaces the synthetic discovery source.
func WithDiscoverySource(src DiscoverySource) Option {
	return func(o *Orchestrator) {
		if src != nil {
			o.discovery = src
		}
	}
}

// WithLock makes Start consult l before running a body, so a job in flight
// on another instance is coalesced onto as well.
func WithLock(l Lock) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.lock = l
		}
	}
}

// WithTracer sets the tracer used for job spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

type flightKey struct {
	tenantID shared.ID
	kind     scanjob.Kind
}

type bodyFunc func(ctx context.Context, job *scanjob.Job) (scanjob.Result, error)

// Orchestrator owns scan jobs. At most one job per tenant and kind is in flight.
type Orchestrator struct {
	jobs      scanjob.Repository
	assets    asset.Repository
	detector  detector.Detector
	pipeline  *ingest.Pipeline
	discovery DiscoverySource
	publisher event.Publisher
	logger    *logger.Logger
	tracer    trace.Tracer
	lock      Lock

	maxDuration time.Duration
	saveBackoff time.Duration

	// bodies is swapped by tests.
	bodies map[scanjob.Kind]bodyFunc

	mu       sync.Mutex
	inFlight map[flightKey]*scanjob.Job
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(
	jobs scanjob.Repository,
	assets asset.Repository,
	det detector.Detector,
	pipeline *ingest.Pipeline,
	publisher event.Publisher,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		jobs:        jobs,
		assets:      assets,
		detector:    det,
		pipeline:    pipeline,
		discovery:   NewSyntheticDiscovery(0),
		publisher:   publisher,
		logger:      log.With("component", "scan"),
		tracer:      otel.Tracer("github.com/openctemio/secmon/internal/app/scan"),
		maxDuration: DefaultMaxDuration,
		saveBackoff: saveBackoffMin,
		inFlight:    make(map[flightKey]*scanjob.Job),
		baseCtx:     ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.bodies = map[scanjob.Kind]bodyFunc{
		scanjob.KindDiscovery:     o.runDiscovery,
		scanjob.KindComprehensive: o.runComprehensive,
	}
	return o
}

// Start launches a scan and returns immediately. While a job of the same
// tenant and kind is pending or running, here or on an instance sharing the
// lock, that job is returned with Coalesced set and no new body runs.
func (o *Orchestrator) Start(ctx context.Context, tenantID shared.ID, kind scanjob.Kind) (*StartResult, error) {
	job, err := scanjob.NewJob(tenantID, kind)
	if err != nil {
		return nil, err
	}
	key := flightKey{tenantID: tenantID, kind: kind}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if existing, ok := o.inFlight[key]; ok {
		snapshot := existing.Clone()
		o.mu.Unlock()
		if snapshot.State.IsTerminal() {
			return nil, ErrScanFinishing
		}
		return o.coalesced(snapshot), nil
	}
	o.inFlight[key] = job
	o.mu.Unlock()

	if o.lock != nil {
		holder, err := o.acquire(ctx, job)
		if err != nil {
			o.forget(key, job)
			return nil, err
		}
		if holder != nil {
			o.forget(key, job)
			return o.coalesced(holder), nil
		}
	}

	if err := o.jobs.Save(ctx, job.Clone()); err != nil {
		o.release(key, job)
		return nil, fmt.Errorf("save scan job: %w", err)
	}

	o.wg.Add(1)
	go o.run(key, job)

	o.logger.Info("scan started",
		"tenant_id", tenantID.String(),
		"kind", string(kind),
		"scan_id", job.ID.String(),
	)
	return &StartResult{Job: o.snapshot(job)}, nil
}

func (o *Orchestrator) coalesced(job *scanjob.Job) *StartResult {
	metrics.ScansCoalescedTotal.WithLabelValues(string(job.Kind)).Inc()
	o.logger.Info("scan coalesced",
		"tenant_id", job.TenantID.String(),
		"kind", string(job.Kind),
		"scan_id", job.ID.String(),
	)
	return &StartResult{Job: job, Coalesced: true}
}

// acquire takes the shared lock for job. It returns the holder's job when
// another instance owns the lock, or nil when job now owns it. A lock left by
// a job that already finished is taken over.
func (o *Orchestrator) acquire(ctx context.Context, job *scanjob.Job) (*scanjob.Job, error) {
	ttl := o.maxDuration + saveBackoffMax
	for range 2 {
		holderID, ok, err := o.lock.Acquire(ctx, job.TenantID, job.Kind, job.ID, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire scan lock: %w", err)
		}
		if ok {
			return nil, nil
		}

		holder, err := o.jobs.Get(ctx, job.TenantID, holderID)
		switch {
		case shared.IsNotFound(err):
			// The holder has locked but not saved its job yet.
			return &scanjob.Job{
				ID:        holderID,
				TenantID:  job.TenantID,
				Kind:      job.Kind,
				State:     scanjob.StatePending,
				CreatedAt: time.Now().UTC(),
			}, nil
		case err != nil:
			return nil, fmt.Errorf("load scan lock holder: %w", err)
		case !holder.State.IsTerminal():
			return holder, nil
		}

		o.logger.Warn("taking over scan lock of finished job",
			"tenant_id", job.TenantID.String(),
			"kind", string(job.Kind),
			"holder_id", holderID.String(),
		)
		if err := o.lock.Release(ctx, job.TenantID, job.Kind, holderID); err != nil {
			return nil, fmt.Errorf("release stale scan lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: scan lock for %s is contended", shared.ErrConflict, job.Kind)
}

// Get returns a job by correlation id. Jobs still held by this instance are
// served from memory, so their latest state is visible even before the store
// has accepted it.
func (o *Orchestrator) Get(ctx context.Context, tenantID, id shared.ID) (*scanjob.Job, error) {
	o.mu.Lock()
	for _, j := range o.inFlight {
		if j.ID == id && j.TenantID.Equals(tenantID) {
			snap := j.Clone()
			o.mu.Unlock()
			return snap, nil
		}
	}
	o.mu.Unlock()
	return o.jobs.Get(ctx, tenantID, id)
}

// List returns a tenant's most recent jobs, newest first.
func (o *Orchestrator) List(ctx context.Context, tenantID shared.ID) ([]*scanjob.Job, error) {
	return o.jobs.ListByTenant(ctx, tenantID, DefaultListLimit)
}

// InFlight reports the number of jobs holding a slot: pending, running, or
// finished but still waiting on their body or their final save.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}

// Shutdown rejects new scans, cancels running bodies and waits for them to
// return and their terminal state to be recorded, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) snapshot(job *scanjob.Job) *scanjob.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return job.Clone()
}

// forget frees the local slot of a job that never ran.
func (o *Orchestrator) forget(key flightKey, job *scanjob.Job) {
	o.mu.Lock()
	if o.inFlight[key] == job {
		delete(o.inFlight, key)
	}
	o.mu.Unlock()
}

// release frees the local slot and the shared lock of job.
func (o *Orchestrator) release(key flightKey, job *scanjob.Job) {
	o.forget(key, job)
	if o.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.lock.Release(ctx, job.TenantID, job.Kind, job.ID); err != nil {
		o.logger.Warn("release scan lock failed",
			"scan_id", job.ID.String(),
			"error", err,
		)
	}
}

// transition applies fn to the job under the lock and persists a copy. A
// failed save of a non-final state is only logged; final states go through
// saveFinal.
func (o *Orchestrator) transition(job *scanjob.Job, fn func(*scanjob.Job) error) (*scanjob.Job, error) {
	o.mu.Lock()
	if err := fn(job); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	snap := job.Clone()
	o.mu.Unlock()

	if snap.State.IsTerminal() {
		o.saveFinal(snap)
		return snap, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.jobs.Save(ctx, snap); err != nil {
		o.logger.Error("save scan job failed",
			"scan_id", snap.ID.String(),
			"state", string(snap.State),
			"error", err,
		)
	}
	return snap, nil
}

// saveFinal retries until the store accepts the final state. The job keeps
// its slot meanwhile, so Get keeps answering from memory. After Shutdown one
// last attempt is made.
func (o *Orchestrator) saveFinal(snap *scanjob.Job) {
	backoff := o.saveBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := o.jobs.Save(ctx, snap)
		cancel()
		if err == nil {
			return
		}

		stopping := o.baseCtx.Err() != nil
		o.logger.Error("save scan job failed",
			"scan_id", snap.ID.String(),
			"state", string(snap.State),
			"attempt", attempt,
			"error", err,
		)
		if stopping {
			return
		}
		select {
		case <-o.baseCtx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, saveBackoffMax)
	}
}

type outcome struct {
	result scanjob.Result
	err    error
}

func (o *Orchestrator) run(key flightKey, job *scanjob.Job) {
	defer o.wg.Done()
	defer o.release(key, job)

	ctx, span := o.tracer.Start(o.baseCtx, "scan."+string(job.Kind),
		trace.WithAttributes(
			attribute.String("scan.id", job.ID.String()),
			attribute.String("scan.kind", string(job.Kind)),
			attribute.String("tenant.id", job.TenantID.String()),
		),
	)
	defer span.End()

	started, err := o.transition(job, (*scanjob.Job).Start)
	if err != nil {
		o.logger.Error("scan could not start", "scan_id", job.ID.String(), "error", err)
		return
	}
	metrics.ScansInProgress.Inc()
	defer metrics.ScansInProgress.Dec()
	o.publish(ctx, event.ScanStarted, started, nil)

	ctx, cancel := context.WithTimeout(ctx, o.maxDuration)
	defer cancel()

	body := o.bodies[job.Kind]
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("scan panicked: %v", r)}
			}
		}()
		snap := o.snapshot(job)
		res, err := body(ctx, snap)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
		if out.err == nil && ctx.Err() != nil {
			out.err = ctx.Err()
		}
	case <-ctx.Done():
		// The job fails now, but the slot stays taken until the body
		// returns. Its late result is discarded.
		out.err = ctx.Err()
		defer func() { <-done }()
	}

	if errors.Is(out.err, context.DeadlineExceeded) {
		out.err = fmt.Errorf("scan timed out after %s", o.maxDuration)
	} else if errors.Is(out.err, context.Canceled) {
		out.err = errors.New("scan cancelled")
	}

	if out.err != nil {
		reason := out.err.Error()
		failed, err := o.transition(job, func(j *scanjob.Job) error { return j.Fail(reason) })
		if err != nil {
			o.logger.Error("scan could not fail", "scan_id", job.ID.String(), "error", err)
			return
		}
		span.RecordError(out.err)
		span.SetStatus(codes.Error, reason)
		o.record(failed)
		o.publish(ctx, event.ScanFailed, failed, nil)
		o.logger.Warn("scan failed",
			"tenant_id", job.TenantID.String(),
			"scan_id", job.ID.String(),
			"kind", string(job.Kind),
			"error", reason,
		)
		return
	}

	completed, err := o.transition(job, func(j *scanjob.Job) error { return j.Complete(out.result) })
	if err != nil {
		o.logger.Error("scan could not complete", "scan_id", job.ID.String(), "error", err)
		return
	}
	span.SetAttributes(
		attribute.Int("scan.findings", out.result.Findings),
		attribute.Int("scan.alerts", out.result.Alerts),
	)
	o.record(completed)
	o.publish(ctx, event.ScanCompleted, completed, completed.Result)
	o.logger.Info("scan completed",
		"tenant_id", job.TenantID.String(),
		"scan_id", job.ID.String(),
		"kind", string(job.Kind),
		"duration", completed.Duration(),
	)
}

func (o *Orchestrator) record(job *scanjob.Job) {
	metrics.ScansTotal.WithLabelValues(string(job.Kind), string(job.State)).Inc()
	metrics.ScanDuration.WithLabelValues(string(job.Kind)).Observe(job.Duration().Seconds())
}

func (o *Orchestrator) publish(ctx context.Context, name event.Name, job *scanjob.Job, result any) {
	o.publisher.Publish(context.WithoutCancel(ctx), event.New(name, job.TenantID, event.ScanPayload{
		ID:        job.ID.String(),
		Kind:      string(job.Kind),
		State:     string(job.State),
		Result:    result,
		Error:     job.Error,
		Timestamp: time.Now().UTC(),
	}))
}

func (o *Orchestrator) runDiscovery(ctx context.Context, job *scanjob.Job) (scanjob.Result, error) {
	observed, err := o.discovery.Discover(ctx, job.TenantID)
	if err != nil {
		return scanjob.Result{}, fmt.Errorf("discover assets: %w", err)
	}

	var res scanjob.Result
	res.AssetsDiscovered = len(observed)
	for _, a := range observed {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, err := o.assets.UpsertDiscovered(ctx, a)
		if err != nil {
			return res, fmt.Errorf("upsert asset %s: %w", a.IP(), err)
		}
		if !created {
			continue
		}
		res.AssetsCreated++
		o.publisher.Publish(ctx, event.New(event.AssetDiscovered, job.TenantID, event.AssetPayload{
			ID:          a.ID().String(),
			Name:        a.Name(),
			IP:          a.IP(),
			Category:    string(a.Category()),
			Criticality: a.Criticality().String(),
			ScanID:      job.ID.String(),
			Timestamp:   time.Now().UTC(),
		}))
	}
	return res, nil
}

func (o *Orchestrator) runComprehensive(ctx context.Context, job *scanjob.Job) (scanjob.Result, error) {
	inventory, err := o.assets.List(ctx, asset.Filter{TenantID: job.TenantID})
	if err != nil {
		return scanjob.Result{}, fmt.Errorf("list assets: %w", err)
	}

	findings, err := o.detector.Detect(ctx, job.TenantID, inventory)
	if err != nil {
		return scanjob.Result{}, fmt.Errorf("detect: %w", err)
	}

	out, err := o.pipeline.IngestKnown(ctx, job.TenantID, findings, inventory)
	if err != nil {
		return scanjob.Result{}, fmt.Errorf("ingest findings: %w", err)
	}

	res := scanjob.Result{
		Findings:        len(findings),
		Vulnerabilities: out.VulnerabilitiesCreated,
		Alerts:          out.AlertsCreated,
		Failed:          len(out.Failed),
	}

	now := time.Now().UTC()
	for _, a := range inventory {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := o.assets.UpdateScanState(ctx, job.TenantID, a.ID(), a.Status(), now); err != nil {
			return res, fmt.Errorf("update scan state for %s: %w", a.ID(), err)
		}
		res.AssetsScanned++
	}
	return res, nil
}
