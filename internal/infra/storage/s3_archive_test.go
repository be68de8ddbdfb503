package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/internal/app/monitor"
	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

type recordingPutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (p *recordingPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	p.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archive_Store(t *testing.T) {
	putter := &recordingPutter{}
	archive := newS3Archive(putter, "secmon-reports", "/prod/", logger.NewNop())

	tenant := shared.NewID()
	loc, err := archive.Store(context.Background(), monitor.Report{
		TenantID: tenant,
		Date:     "2026-03-01",
		Score:    69,
	})
	require.NoError(t, err)

	wantKey := "prod/reports/" + tenant.String() + "/2026-03-01.json"
	assert.Equal(t, "s3://secmon-reports/"+wantKey, loc)
	assert.Equal(t, wantKey, aws.ToString(putter.input.Key))
	assert.Equal(t, "secmon-reports", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "application/json", aws.ToString(putter.input.ContentType))

	var stored monitor.Report
	require.NoError(t, json.Unmarshal(putter.body, &stored))
	assert.Equal(t, 69, stored.Score)
	assert.Equal(t, tenant, stored.TenantID)
}

func TestS3Archive_NoPrefix(t *testing.T) {
	archive := newS3Archive(&recordingPutter{}, "b", "", logger.NewNop())
	tenant := shared.NewID()
	assert.Equal(t, "reports/"+tenant.String()+"/2026-03-01.json",
		archive.objectKey(monitor.Report{TenantID: tenant, Date: "2026-03-01"}))
}

func TestS3Archive_PutError(t *testing.T) {
	archive := newS3Archive(&recordingPutter{err: errors.New("access denied")}, "b", "", logger.NewNop())

	_, err := archive.Store(context.Background(), monitor.Report{TenantID: shared.NewID(), Date: "2026-03-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	_, err := NewS3Archive(context.Background(), &config.ReportConfig{Region: "us-east-1"}, logger.NewNop())
	assert.Error(t, err)
}

func TestNewS3Archive_StaticKeysAndEndpoint(t *testing.T) {
	archive, err := NewS3Archive(context.Background(), &config.ReportConfig{
		Bucket:    "reports",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &s3.Client{}, archive.client)
}
