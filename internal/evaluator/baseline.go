package evaluator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/haasonsaas/verdict/pkg/models"
)

// RegressionThreshold is the per-dimension drop that flags a regression,
// and symmetrically the rise that counts as an improvement.
const RegressionThreshold = 0.05

var baselineVersionRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Baselines persists SuiteResults snapshots by version id for regression
// comparison across runs.
type Baselines struct {
	dir string
}

// NewBaselines creates the directory if needed.
func NewBaselines(dir string) (*Baselines, error) {
	if dir == "" {
		return nil, fmt.Errorf("baselines: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create baselines dir: %w", err)
	}
	return &Baselines{dir: dir}, nil
}

// Save persists results under version.
func (b *Baselines) Save(results *models.SuiteResults, version string) error {
	if !baselineVersionRe.MatchString(version) {
		return fmt.Errorf("invalid baseline version %q", version)
	}
	baseline := models.Baseline{
		Version:   version,
		Timestamp: time.Now().UTC(),
		Summary:   *results,
	}
	data, err := json.MarshalIndent(baseline, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}

	path := b.path(version)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename baseline: %w", err)
	}
	return nil
}

// Load fetches the baseline stored under version.
func (b *Baselines) Load(version string) (*models.Baseline, error) {
	if !baselineVersionRe.MatchString(version) {
		return nil, fmt.Errorf("invalid baseline version %q", version)
	}
	data, err := os.ReadFile(b.path(version)) // #nosec G304 -- version is validated above
	if err != nil {
		return nil, fmt.Errorf("load baseline %s: %w", version, err)
	}
	var baseline models.Baseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", version, err)
	}
	return &baseline, nil
}

func (b *Baselines) path(version string) string {
	return filepath.Join(b.dir, "baseline-"+version+".json")
}

// Compare computes per-dimension deltas of current against baseline.
// A dimension that dropped more than RegressionThreshold is a regression;
// one that rose more than the threshold is an improvement.
func Compare(current *models.SuiteResults, baseline *models.Baseline) *models.Comparison {
	comparison := &models.Comparison{
		BaselineVersion: baseline.Version,
		Deltas:          map[string]float64{},
	}
	for dim, baseAvg := range baseline.Summary.AvgScores {
		delta := current.AvgScores[dim] - baseAvg
		comparison.Deltas[dim] = delta
		if delta < -RegressionThreshold {
			comparison.Regressions = append(comparison.Regressions, dim)
			comparison.HasRegression = true
		}
		if delta > RegressionThreshold {
			comparison.Improvements = append(comparison.Improvements, dim)
		}
	}
	// Dimensions absent from the baseline appear as pure additions.
	for dim, avg := range current.AvgScores {
		if _, seen := baseline.Summary.AvgScores[dim]; !seen {
			comparison.Deltas[dim] = avg
		}
	}
	return comparison
}
