package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/internal/app/monitor"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

type stubGenerator struct {
	calls []shared.ID
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, tenantID shared.ID) (*monitor.Report, error) {
	g.calls = append(g.calls, tenantID)
	if g.err != nil {
		return nil, g.err
	}
	return &monitor.Report{TenantID: tenantID, Score: 90}, nil
}

func TestNewDailyReportTask(t *testing.T) {
	tenantID := shared.NewID()
	day := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)

	task, err := NewDailyReportTask(tenantID, day)
	require.NoError(t, err)
	assert.Equal(t, TypeDailyReport, task.Type())

	var payload DailyReportPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, tenantID.String(), payload.TenantID)
	assert.Equal(t, "2024-03-09", payload.Date)
	assert.Equal(t, "report:daily:"+tenantID.String()+":2024-03-09", dailyReportTaskID(payload))
}

func TestHandleDailyReport(t *testing.T) {
	gen := &stubGenerator{}
	h := NewReportTaskHandler(gen, logger.NewNop())
	tenantID := shared.NewID()

	task, err := NewDailyReportTask(tenantID, time.Now())
	require.NoError(t, err)

	require.NoError(t, h.HandleDailyReport(context.Background(), task))
	require.Len(t, gen.calls, 1)
	assert.True(t, gen.calls[0].Equals(tenantID))
}

func TestHandleDailyReport_GeneratorErrorIsRetried(t *testing.T) {
	gen := &stubGenerator{err: errors.New("s3 down")}
	h := NewReportTaskHandler(gen, logger.NewNop())

	task, err := NewDailyReportTask(shared.NewID(), time.Now())
	require.NoError(t, err)

	err = h.HandleDailyReport(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleDailyReport_BadPayloadSkipsRetry(t *testing.T) {
	h := NewReportTaskHandler(&stubGenerator{}, logger.NewNop())

	err := h.HandleDailyReport(context.Background(), asynq.NewTask(TypeDailyReport, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	bad, _ := json.Marshal(DailyReportPayload{TenantID: "nope"})
	err = h.HandleDailyReport(context.Background(), asynq.NewTask(TypeDailyReport, bad))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
