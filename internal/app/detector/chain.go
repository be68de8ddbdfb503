package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

// Chain runs several detectors in order. A failing detector is logged and
// skipped; the findings of the others are kept.
type Chain struct {
	detectors []Detector
	logger    *logger.Logger
}

// NewChain creates a chain.
func NewChain(log *logger.Logger, detectors ...Detector) *Chain {
	return &Chain{
		detectors: detectors,
		logger:    log.With("component", "detector"),
	}
}

// Name returns the detector name.
func (c *Chain) Name() string {
	return "chain"
}

// Detect runs every detector. It only returns an error when all of them failed
// or ctx was cancelled.
func (c *Chain) Detect(ctx context.Context, tenantID shared.ID, assets []*asset.Asset) ([]finding.Finding, error) {
	var out []finding.Finding
	var errs []error

	for _, d := range c.detectors {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		found, err := safeDetect(ctx, d, tenantID, assets)
		if err != nil {
			c.logger.Warn("detector failed, skipping",
				"detector", d.Name(),
				"tenant_id", tenantID.String(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		out = append(out, found...)
	}

	if len(c.detectors) > 0 && len(errs) == len(c.detectors) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func safeDetect(ctx context.Context, d Detector, tenantID shared.ID, assets []*asset.Asset) (found []finding.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Detect(ctx, tenantID, assets)
}
