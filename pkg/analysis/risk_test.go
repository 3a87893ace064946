package analysis

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadThresholdsDefaultsWithoutPath(t *testing.T) {
	thresholds, err := LoadThresholds("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thresholds.HighOver24MonthsShare != HighRiskOver24MonthsShare {
		t.Fatalf("expected default high cutoff, got %v", thresholds.HighOver24MonthsShare)
	}
	if thresholds.MediumOver24MonthsShare != MediumRiskOver24MonthsShare {
		t.Fatalf("expected default medium cutoff, got %v", thresholds.MediumOver24MonthsShare)
	}
}

func TestLoadThresholdsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	content := "high_over_24_months_share: 40\nmedium_over_24_months_share: 20\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write thresholds file: %v", err)
	}

	thresholds, err := LoadThresholds(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thresholds.HighOver24MonthsShare != 40 || thresholds.MediumOver24MonthsShare != 20 {
		t.Fatalf("unexpected thresholds: %+v", thresholds)
	}
}

func TestLoadThresholdsMissingFileFallsBack(t *testing.T) {
	thresholds, err := LoadThresholds("/nonexistent/thresholds.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if thresholds != DefaultThresholds() {
		t.Fatalf("expected defaults on failure, got %+v", thresholds)
	}
}
