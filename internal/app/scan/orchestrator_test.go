package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/internal/app/ingest"
	"github.com/openctemio/secmon/internal/app/notify"
	"github.com/openctemio/secmon/internal/infra/memory"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

type sourceFunc func(ctx context.Context, tenantID shared.ID) ([]*asset.Asset, error)

func (f sourceFunc) Discover(ctx context.Context, tenantID shared.ID) ([]*asset.Asset, error) {
	return f(ctx, tenantID)
}

type staticDetector struct {
	findings func(tenantID shared.ID, assets []*asset.Asset) []finding.Finding
}

func (staticDetector) Name() string { return "static" }

func (d staticDetector) Detect(_ context.Context, tenantID shared.ID, assets []*asset.Asset) ([]finding.Finding, error) {
	return d.findings(tenantID, assets), nil
}

type harness struct {
	store    *memory.Store
	jobs     *memory.ScanJobRepository
	recorder *notify.Recorder
	orch     *Orchestrator
	tenantID shared.ID
}

func newHarness(t *testing.T, det staticDetector, opts ...Option) *harness {
	t.Helper()
	jobs := memory.NewScanJobRepository()
	h := &harness{
		store:    memory.NewStore(),
		jobs:     jobs,
		recorder: notify.NewRecorder(),
		tenantID: shared.NewID(),
	}
	h.orch = h.orchestrator(t, det, jobs, opts...)
	return h
}

// orchestrator builds another orchestrator over the harness stores, as a
// second instance would.
func (h *harness) orchestrator(t *testing.T, det staticDetector, jobs scanjob.Repository, opts ...Option) *Orchestrator {
	t.Helper()
	log := logger.NewNop()
	pipeline := ingest.NewPipeline(h.store.Assets(), h.store.Vulnerabilities(), h.store.Alerts(), h.recorder, log)
	if det.findings == nil {
		det.findings = func(shared.ID, []*asset.Asset) []finding.Finding { return nil }
	}
	orch := NewOrchestrator(jobs, h.store.Assets(), det, pipeline, h.recorder, log, opts...)
	orch.saveBackoff = time.Millisecond
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return orch
}

func (h *harness) waitTerminal(t *testing.T, id shared.ID) *scanjob.Job {
	t.Helper()
	var job *scanjob.Job
	require.Eventually(t, func() bool {
		j, err := h.orch.Get(context.Background(), h.tenantID, id)
		if err != nil {
			return false
		}
		job = j
		return j.State.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func fixedAssets(tenantID shared.ID, ips ...string) []*asset.Asset {
	out := make([]*asset.Asset, 0, len(ips))
	for i, ip := range ips {
		a, _ := asset.NewAsset(tenantID, "host-"+string(rune('a'+i)), ip, asset.CategoryServer, shared.SeverityMedium)
		a.MarkScanned(time.Now())
		out = append(out, a)
	}
	return out
}

func TestOrchestrator_CoalescesInFlightScans(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, staticDetector{}, WithDiscoverySource(sourceFunc(func(ctx context.Context, tenantID shared.ID) ([]*asset.Asset, error) {
		<-release
		return fixedAssets(tenantID, "10.0.0.1"), nil
	})))
	ctx := context.Background()

	first, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	assert.False(t, first.Coalesced)

	second, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	assert.True(t, second.Coalesced)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	other, err := h.orch.Start(ctx, h.tenantID, scanjob.KindComprehensive)
	require.NoError(t, err)
	assert.False(t, other.Coalesced, "different kind runs independently")
	assert.NotEqual(t, first.Job.ID, other.Job.ID)

	close(release)
	done := h.waitTerminal(t, first.Job.ID)
	assert.Equal(t, scanjob.StateCompleted, done.State)
	h.waitTerminal(t, other.Job.ID)
	require.Eventually(t, func() bool { return h.orch.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	third, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	assert.False(t, third.Coalesced)
	assert.NotEqual(t, first.Job.ID, third.Job.ID)
	h.waitTerminal(t, third.Job.ID)

	assert.Len(t, h.recorder.Named(event.ScanStarted), 3, "no body ran for the coalesced request")
}

func TestOrchestrator_DiscoveryPublishesNewAssets(t *testing.T) {
	h := newHarness(t, staticDetector{}, WithDiscoverySource(sourceFunc(func(_ context.Context, tenantID shared.ID) ([]*asset.Asset, error) {
		return fixedAssets(tenantID, "10.0.0.1", "10.0.0.2"), nil
	})))
	ctx := context.Background()

	res, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	job := h.waitTerminal(t, res.Job.ID)
	require.Equal(t, scanjob.StateCompleted, job.State)
	require.NotNil(t, job.Result)
	assert.Equal(t, 2, job.Result.AssetsDiscovered)
	assert.Equal(t, 2, job.Result.AssetsCreated)
	assert.Len(t, h.recorder.Named(event.AssetDiscovered), 2)

	res, err = h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	job = h.waitTerminal(t, res.Job.ID)
	assert.Equal(t, 0, job.Result.AssetsCreated, "known IPs are reconciled")
	assert.Len(t, h.recorder.Named(event.AssetDiscovered), 2)

	require.Eventually(t, func() bool { return len(h.recorder.Named(event.ScanCompleted)) == 2 }, time.Second, 5*time.Millisecond)
	completed := h.recorder.Named(event.ScanCompleted)
	payload := completed[0].Payload.(event.ScanPayload)
	assert.Equal(t, "completed", payload.State)
}

func TestOrchestrator_FailedScanPublishesSameID(t *testing.T) {
	h := newHarness(t, staticDetector{}, WithDiscoverySource(sourceFunc(func(context.Context, shared.ID) ([]*asset.Asset, error) {
		return nil, errors.New("network unreachable")
	})))

	res, err := h.orch.Start(context.Background(), h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)

	job := h.waitTerminal(t, res.Job.ID)
	assert.Equal(t, scanjob.StateFailed, job.State)
	assert.Contains(t, job.Error, "network unreachable")

	require.Eventually(t, func() bool { return len(h.recorder.Named(event.ScanFailed)) == 1 }, time.Second, 5*time.Millisecond)
	payload := h.recorder.Named(event.ScanFailed)[0].Payload.(event.ScanPayload)
	assert.Equal(t, res.Job.ID.String(), payload.ID)
	assert.Contains(t, payload.Error, "network unreachable")

	started := h.recorder.Named(event.ScanStarted)
	require.Len(t, started, 1)
	assert.Equal(t, res.Job.ID.String(), started[0].Payload.(event.ScanPayload).ID)
}

func TestOrchestrator_TimeoutForcesFailure(t *testing.T) {
	block := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(block) })
	t.Cleanup(unblock)

	h := newHarness(t, staticDetector{},
		WithMaxDuration(50*time.Millisecond),
		WithDiscoverySource(sourceFunc(func(_ context.Context, tenantID shared.ID) ([]*asset.Asset, error) {
			<-block // ignores ctx
			return fixedAssets(tenantID, "10.0.0.9"), nil
		})),
	)
	ctx := context.Background()

	res, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)

	job := h.waitTerminal(t, res.Job.ID)
	assert.Equal(t, scanjob.StateFailed, job.State)
	assert.Equal(t, "scan timed out after 50ms", job.Error)

	// The body is still running, so the slot stays taken.
	assert.Equal(t, 1, h.orch.InFlight())
	_, err = h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	assert.ErrorIs(t, err, ErrScanFinishing)
	assert.ErrorIs(t, err, shared.ErrConflict)

	unblock()
	require.Eventually(t, func() bool { return h.orch.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	next, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	assert.False(t, next.Coalesced)
	assert.NotEqual(t, res.Job.ID, next.Job.ID)

	stored, err := h.jobs.Get(ctx, h.tenantID, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, scanjob.StateFailed, stored.State, "late result is discarded")
}

func TestOrchestrator_PanicBecomesFailure(t *testing.T) {
	h := newHarness(t, staticDetector{}, WithDiscoverySource(sourceFunc(func(context.Context, shared.ID) ([]*asset.Asset, error) {
		panic("boom")
	})))

	res, err := h.orch.Start(context.Background(), h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)

	job := h.waitTerminal(t, res.Job.ID)
	assert.Equal(t, scanjob.StateFailed, job.State)
	assert.Contains(t, job.Error, "boom")
}

func TestOrchestrator_ComprehensiveScanFeedsPipeline(t *testing.T) {
	det := staticDetector{findings: func(tenantID shared.ID, assets []*asset.Asset) []finding.Finding {
		out := make([]finding.Finding, 0, len(assets))
		for _, a := range assets {
			out = append(out, finding.Finding{
				TenantID:   tenantID,
				AssetID:    a.ID(),
				AssetName:  a.Name(),
				Severity:   shared.SeverityCritical,
				Title:      "Exposed admin panel",
				ExternalID: "CVE-2026-1000",
				Score:      9.8,
			})
		}
		return out
	}}
	h := newHarness(t, det)
	ctx := context.Background()

	for _, a := range fixedAssets(h.tenantID, "10.0.0.1", "10.0.0.2", "10.0.0.3") {
		require.NoError(t, h.store.Assets().Create(ctx, a))
	}

	res, err := h.orch.Start(ctx, h.tenantID, scanjob.KindComprehensive)
	require.NoError(t, err)

	job := h.waitTerminal(t, res.Job.ID)
	require.Equal(t, scanjob.StateCompleted, job.State)
	assert.Equal(t, 3, job.Result.Findings)
	assert.Equal(t, 3, job.Result.Vulnerabilities)
	assert.Equal(t, 3, job.Result.Alerts)
	assert.Equal(t, 3, job.Result.AssetsScanned)
	assert.Len(t, h.recorder.Named(event.SecurityAlert), 3)

	vulnerable, err := h.store.Assets().CountVulnerable(ctx, h.tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), vulnerable)
}

func TestOrchestrator_ComprehensiveScanKeepsAssetStatus(t *testing.T) {
	h := newHarness(t, staticDetector{})
	ctx := context.Background()

	offline, err := asset.NewAsset(h.tenantID, "printer", "10.0.0.50", asset.CategoryServer, shared.SeverityLow)
	require.NoError(t, err)
	require.NoError(t, offline.UpdateStatus(asset.StatusOffline))
	require.NoError(t, h.store.Assets().Create(ctx, offline))

	res, err := h.orch.Start(ctx, h.tenantID, scanjob.KindComprehensive)
	require.NoError(t, err)
	job := h.waitTerminal(t, res.Job.ID)
	require.Equal(t, scanjob.StateCompleted, job.State)
	assert.Equal(t, 1, job.Result.AssetsScanned)

	got, err := h.store.Assets().GetByID(ctx, h.tenantID, offline.ID())
	require.NoError(t, err)
	assert.Equal(t, asset.StatusOffline, got.Status())
	assert.NotNil(t, got.LastScanAt())
}

// flakyJobs fails saves of final states while failures is positive.
type flakyJobs struct {
	scanjob.Repository
	failures atomic.Int32
	attempts atomic.Int32
}

func (f *flakyJobs) Save(ctx context.Context, j *scanjob.Job) error {
	if j.State.IsTerminal() {
		f.attempts.Add(1)
		if f.failures.Add(-1) >= 0 {
			return errors.New("connection reset")
		}
	}
	return f.Repository.Save(ctx, j)
}

func TestOrchestrator_RetriesFinalSave(t *testing.T) {
	h := newHarness(t, staticDetector{})
	jobs := &flakyJobs{Repository: h.jobs}
	jobs.failures.Store(1_000_000)
	orch := h.orchestrator(t, staticDetector{}, jobs, WithDiscoverySource(sourceFunc(func(_ context.Context, tenantID shared.ID) ([]*asset.Asset, error) {
		return fixedAssets(tenantID, "10.0.0.1"), nil
	})))
	ctx := context.Background()

	res, err := orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return jobs.attempts.Load() >= 3 }, 2*time.Second, time.Millisecond)

	// The store still has the running state; the orchestrator answers from memory.
	got, err := orch.Get(ctx, h.tenantID, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, scanjob.StateCompleted, got.State)
	stored, err := h.jobs.Get(ctx, h.tenantID, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, scanjob.StateRunning, stored.State)
	assert.Equal(t, 1, orch.InFlight())
	_, err = orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	assert.ErrorIs(t, err, ErrScanFinishing)

	jobs.failures.Store(0)
	require.Eventually(t, func() bool {
		j, err := h.jobs.Get(ctx, h.tenantID, res.Job.ID)
		return err == nil && j.State == scanjob.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return orch.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.recorder.Named(event.ScanCompleted)) == 1 }, time.Second, 5*time.Millisecond)
}

// memLock is a Lock shared by orchestrators in one test.
type memLock struct {
	mu   sync.Mutex
	held map[string]shared.ID
}

func newMemLock() *memLock {
	return &memLock{held: make(map[string]shared.ID)}
}

func lockKey(tenantID shared.ID, kind scanjob.Kind) string {
	return tenantID.String() + ":" + string(kind)
}

func (l *memLock) Acquire(_ context.Context, tenantID shared.ID, kind scanjob.Kind, jobID shared.ID, _ time.Duration) (shared.ID, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.held[lockKey(tenantID, kind)]; ok {
		return holder, false, nil
	}
	l.held[lockKey(tenantID, kind)] = jobID
	return jobID, true, nil
}

func (l *memLock) Release(_ context.Context, tenantID shared.ID, kind scanjob.Kind, jobID shared.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[lockKey(tenantID, kind)] == jobID {
		delete(l.held, lockKey(tenantID, kind))
	}
	return nil
}

func (l *memLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

func TestOrchestrator_LockCoalescesAcrossInstances(t *testing.T) {
	release := make(chan struct{})
	src := WithDiscoverySource(sourceFunc(func(context.Context, shared.ID) ([]*asset.Asset, error) {
		<-release
		return nil, nil
	}))
	lock := newMemLock()
	h := newHarness(t, staticDetector{}, src, WithLock(lock))
	peer := h.orchestrator(t, staticDetector{}, h.jobs, src, WithLock(lock))
	ctx := context.Background()

	first, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)

	second, err := peer.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	assert.True(t, second.Coalesced)
	assert.Equal(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, 0, peer.InFlight(), "no body ran on the second instance")

	close(release)
	h.waitTerminal(t, first.Job.ID)
	require.Eventually(t, func() bool { return lock.size() == 0 }, time.Second, 5*time.Millisecond)

	third, err := peer.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	assert.False(t, third.Coalesced)
	h.waitTerminal(t, third.Job.ID)
	assert.Len(t, h.recorder.Named(event.ScanStarted), 2)
}

func TestOrchestrator_LockHeldByFinishedJobIsTakenOver(t *testing.T) {
	lock := newMemLock()
	h := newHarness(t, staticDetector{}, WithLock(lock))
	ctx := context.Background()

	stale, err := scanjob.NewJob(h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	require.NoError(t, stale.Start())
	require.NoError(t, stale.Fail("instance crashed"))
	require.NoError(t, h.jobs.Save(ctx, stale))
	lock.held[lockKey(h.tenantID, scanjob.KindDiscovery)] = stale.ID

	res, err := h.orch.Start(ctx, h.tenantID, scanjob.KindDiscovery)
	require.NoError(t, err)
	assert.False(t, res.Coalesced)
	assert.NotEqual(t, stale.ID, res.Job.ID)
	h.waitTerminal(t, res.Job.ID)
}

func TestOrchestrator_LockHolderNotYetSaved(t *testing.T) {
	lock := newMemLock()
	h := newHarness(t, staticDetector{}, WithLock(lock))
	holder := shared.NewID()
	lock.held[lockKey(h.tenantID, scanjob.KindComprehensive)] = holder

	res, err := h.orch.Start(context.Background(), h.tenantID, scanjob.KindComprehensive)
	require.NoError(t, err)
	assert.True(t, res.Coalesced)
	assert.Equal(t, holder, res.Job.ID)
	assert.Equal(t, scanjob.StatePending, res.Job.State)
	assert.Equal(t, 0, h.orch.InFlight())
}

func TestOrchestrator_ShutdownRejectsNewScans(t *testing.T) {
	h := newHarness(t, staticDetector{})

	require.NoError(t, h.orch.Shutdown(context.Background()))

	_, err := h.orch.Start(context.Background(), h.tenantID, scanjob.KindDiscovery)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestOrchestrator_RejectsUnknownKind(t *testing.T) {
	h := newHarness(t, staticDetector{})

	_, err := h.orch.Start(context.Background(), h.tenantID, scanjob.Kind("deep"))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSyntheticDiscovery_ProducesUniqueHosts(t *testing.T) {
	src := NewSyntheticDiscovery(42)
	tenantID := shared.NewID()

	for range 20 {
		assets, err := src.Discover(context.Background(), tenantID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(assets), 5)
		assert.LessOrEqual(t, len(assets), 14)

		seen := make(map[string]bool)
		for _, a := range assets {
			assert.False(t, seen[a.IP()], "duplicate ip %s", a.IP())
			seen[a.IP()] = true
			assert.True(t, a.IsOnline())
			assert.Contains(t, a.Tags(), "discovered")
		}
	}
}
