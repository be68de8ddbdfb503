// Package scanjob models on-demand scan runs and their lifecycle.
//
// A job moves pending -> running -> completed | failed. Terminal jobs are never
// reused; a new request always gets a new job id.
package scanjob

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// ErrInvalidTransition is returned when a lifecycle method is called from the wrong state.
var ErrInvalidTransition = errors.New("invalid scan job state transition")

// Kind selects the work a scan performs.
type Kind string

const (
	KindDiscovery     Kind = "discovery"
	KindComprehensive Kind = "comprehensive"
)

// IsValid checks if the kind is valid.
func (k Kind) IsValid() bool {
	return k == KindDiscovery || k == KindComprehensive
}

// ParseKind parses a kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: unknown scan kind %q", shared.ErrValidation, s)
	}
	return k, nil
}

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Result holds the counts reported when a job completes.
type Result struct {
	AssetsDiscovered int `json:"assets_discovered"`
	AssetsCreated    int `json:"assets_created"`
	AssetsScanned    int `json:"assets_scanned"`
	Findings         int `json:"findings"`
	Vulnerabilities  int `json:"vulnerabilities"`
	Alerts           int `json:"alerts"`
	Failed           int `json:"failed"`
}

// Job is a single scan run. The ID doubles as the correlation id carried on events.
type Job struct {
	ID         shared.ID  `json:"id"`
	TenantID   shared.ID  `json:"tenant_id"`
	Kind       Kind       `json:"kind"`
	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewJob creates a pending job.
func NewJob(tenantID shared.ID, kind Kind) (*Job, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("%w: tenant id is required", shared.ErrValidation)
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown scan kind %q", shared.ErrValidation, kind)
	}
	return &Job{
		ID:        shared.NewID(),
		TenantID:  tenantID,
		Kind:      kind,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Start moves a pending job to running.
func (j *Job) Start() error {
	if j.State != StatePending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, j.State)
	}
	now := time.Now().UTC()
	j.State = StateRunning
	j.StartedAt = &now
	return nil
}

// Complete moves a running job to completed with its result.
func (j *Job) Complete(r Result) error {
	if j.State != StateRunning {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, j.State)
	}
	now := time.Now().UTC()
	j.State = StateCompleted
	j.FinishedAt = &now
	j.Result = &r
	return nil
}

// Fail moves a pending or running job to failed. The reason must not be empty.
func (j *Job) Fail(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: failure reason is required", shared.ErrValidation)
	}
	if j.State.IsTerminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, j.State)
	}
	now := time.Now().UTC()
	j.State = StateFailed
	j.FinishedAt = &now
	j.Error = reason
	return nil
}

// Duration returns how long the job ran, or zero if it has not finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}
