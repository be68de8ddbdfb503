// Package score computes the 0-100 security posture score of a tenant.
package score

import "math"

// DefaultScore is reported when inputs cannot be gathered and no earlier
// snapshot exists.
const DefaultScore = 85

const (
	vulnerableAssetsWeight = 30.0
	criticalVulnPenalty    = 5.0
	criticalVulnCap        = 25.0
	mfaWeight              = 20.0
)

// Inputs are the inventory counts the score is derived from.
type Inputs struct {
	TotalAssets       int64
	VulnerableAssets  int64
	CriticalOpenVulns int64
	MFAEnabledUsers   int64
	TotalUsers        int64
}

// Calculate maps inputs to an integer in [0,100].
//
// Start at 100, subtract the vulnerable-asset ratio times 30, subtract five per
// critical open vulnerability capped at 25, subtract the share of users without
// MFA times 20. A ratio with a zero denominator contributes nothing. Negative
// counts are treated as zero and ratios are capped at one.
func Calculate(in Inputs) int {
	total := nonNegative(in.TotalAssets)
	vulnerable := nonNegative(in.VulnerableAssets)
	critical := nonNegative(in.CriticalOpenVulns)
	users := nonNegative(in.TotalUsers)
	mfa := nonNegative(in.MFAEnabledUsers)

	score := 100.0
	if total > 0 {
		score -= ratio(vulnerable, total) * vulnerableAssetsWeight
	}
	score -= math.Min(critical*criticalVulnPenalty, criticalVulnCap)
	if users > 0 {
		score -= (1 - ratio(mfa, users)) * mfaWeight
	}

	score = math.Max(0, math.Min(100, score))
	return int(math.Round(score))
}

func nonNegative(v int64) float64 {
	if v < 0 {
		return 0
	}
	return float64(v)
}

func ratio(part, whole float64) float64 {
	return math.Min(part/whole, 1)
}
