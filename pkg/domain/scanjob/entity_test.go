package scanjob

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

func TestJob_Lifecycle(t *testing.T) {
	j, err := NewJob(shared.NewID(), KindDiscovery)
	require.NoError(t, err)
	assert.Equal(t, StatePending, j.State)

	require.NoError(t, j.Start())
	assert.Equal(t, StateRunning, j.State)
	assert.NotNil(t, j.StartedAt)

	require.NoError(t, j.Complete(Result{AssetsDiscovered: 7, AssetsCreated: 3}))
	assert.Equal(t, StateCompleted, j.State)
	assert.Equal(t, 7, j.Result.AssetsDiscovered)
	assert.GreaterOrEqual(t, j.Duration().Nanoseconds(), int64(0))

	// terminal jobs are never reused
	assert.True(t, errors.Is(j.Start(), ErrInvalidTransition))
	assert.True(t, errors.Is(j.Fail("late"), ErrInvalidTransition))
	assert.True(t, errors.Is(j.Complete(Result{}), ErrInvalidTransition))
}

func TestJob_InvalidTransitions(t *testing.T) {
	j, err := NewJob(shared.NewID(), KindComprehensive)
	require.NoError(t, err)

	assert.True(t, errors.Is(j.Complete(Result{}), ErrInvalidTransition), "pending cannot complete")

	require.NoError(t, j.Start())
	assert.True(t, errors.Is(j.Start(), ErrInvalidTransition), "running cannot start again")

	err = j.Fail("")
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, StateRunning, j.State)

	require.NoError(t, j.Fail("detector exploded"))
	assert.Equal(t, StateFailed, j.State)
	assert.Equal(t, "detector exploded", j.Error)
}

func TestNewJob_Validation(t *testing.T) {
	_, err := NewJob(shared.ID{}, KindDiscovery)
	assert.True(t, shared.IsValidation(err))

	_, err = NewJob(shared.NewID(), Kind("deep"))
	assert.True(t, shared.IsValidation(err))

	k, err := ParseKind("Discovery")
	require.NoError(t, err)
	assert.Equal(t, KindDiscovery, k)
}

func TestJob_CloneIsIndependent(t *testing.T) {
	j, err := NewJob(shared.NewID(), KindDiscovery)
	require.NoError(t, err)
	require.NoError(t, j.Start())

	c := j.Clone()
	require.NoError(t, c.Complete(Result{Findings: 2}))

	assert.Equal(t, StateRunning, j.State)
	assert.Nil(t, j.Result)
}
