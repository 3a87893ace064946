package analysis

import (
	"os"
	"path/filepath"

	"github.com/telecheck/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// Default compliance-risk cutoffs, expressed as the share (percent) of
// eligible patients whose governing disaster started over 24 months ago.
const (
	HighRiskOver24MonthsShare   = 25.0
	MediumRiskOver24MonthsShare = 10.0
)

type RiskThresholds struct {
	HighOver24MonthsShare   float64 `yaml:"high_over_24_months_share" json:"high_over_24_months_share"`
	MediumOver24MonthsShare float64 `yaml:"medium_over_24_months_share" json:"medium_over_24_months_share"`
}

func DefaultThresholds() RiskThresholds {
	return RiskThresholds{
		HighOver24MonthsShare:   HighRiskOver24MonthsShare,
		MediumOver24MonthsShare: MediumRiskOver24MonthsShare,
	}
}

func LoadThresholds(path string) (RiskThresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultThresholds(), err
	}

	thresholds := DefaultThresholds()
	if err := yaml.Unmarshal(content, &thresholds); err != nil {
		return DefaultThresholds(), err
	}
	return thresholds, nil
}

// Classify maps the over-24-months share of eligible patients to a risk level.
func (t RiskThresholds) Classify(over24Share float64) string {
	switch {
	case over24Share > t.HighOver24MonthsShare:
		return models.RiskHigh
	case over24Share > t.MediumOver24MonthsShare:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
