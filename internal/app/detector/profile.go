package detector

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Profile tunes the placeholder detectors. It can be loaded from YAML:
//
//	sample_size: 5
//	probability: 0.10
//	threat_probability: 0.05
//	severity_weights:
//	  low: 1
//	  medium: 1
//	  high: 1
//	  critical: 1
type Profile struct {
	SampleSize        int                `yaml:"sample_size"`
	Probability       float64            `yaml:"probability"`
	ThreatProbability float64            `yaml:"threat_probability"`
	SeverityWeights   map[string]float64 `yaml:"severity_weights"`
}

// DefaultProfile returns the stock tuning: five sampled assets, a 10% chance
// per asset, a 5% threat signal and uniform severities.
func DefaultProfile() Profile {
	return Profile{
		SampleSize:        5,
		Probability:       0.10,
		ThreatProbability: 0.05,
		SeverityWeights: map[string]float64{
			"low":      1,
			"medium":   1,
			"high":     1,
			"critical": 1,
		},
	}
}

// LoadProfile reads a YAML profile from disk.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read detector profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile parses a YAML profile. Missing fields keep their defaults; a
// severity_weights block replaces the default weights as a whole.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	defaults := p.SeverityWeights
	p.SeverityWeights = nil
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse detector profile: %w", err)
	}
	if p.SeverityWeights == nil {
		p.SeverityWeights = defaults
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks ranges and severity names.
func (p Profile) Validate() error {
	if p.SampleSize < 0 {
		return fmt.Errorf("%w: sample_size must not be negative", shared.ErrValidation)
	}
	if p.Probability < 0 || p.Probability > 1 {
		return fmt.Errorf("%w: probability must be between 0 and 1", shared.ErrValidation)
	}
	if p.ThreatProbability < 0 || p.ThreatProbability > 1 {
		return fmt.Errorf("%w: threat_probability must be between 0 and 1", shared.ErrValidation)
	}
	var total float64
	for name, w := range p.SeverityWeights {
		if _, err := shared.ParseSeverity(name); err != nil {
			return err
		}
		if w < 0 {
			return fmt.Errorf("%w: severity weight for %s must not be negative", shared.ErrValidation, name)
		}
		total += w
	}
	if total == 0 {
		return fmt.Errorf("%w: at least one severity weight must be positive", shared.ErrValidation)
	}
	return nil
}
