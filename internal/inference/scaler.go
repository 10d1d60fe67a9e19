package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"heart-risk-service/internal/common/errors"
)

// StandardScaler is a fitted per-column affine transform: (x - mean) / scale.
type StandardScaler struct {
	Mean  [NumFeatures]float64
	Scale [NumFeatures]float64
}

type scalerArtifact struct {
	SchemaVersion string    `json:"schema_version"`
	FeatureNames  []string  `json:"feature_names"`
	Mean          []float64 `json:"mean"`
	Scale         []float64 `json:"scale"`
}

// LoadScaler reads a scaler artifact. Every failure is a CONFIGURATION_ERROR.
func LoadScaler(path string) (*StandardScaler, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("read scaler artifact", err)
	}
	return ParseScaler(payload)
}

// ParseScaler decodes and validates a scaler artifact.
func ParseScaler(payload []byte) (*StandardScaler, error) {
	var art scalerArtifact
	if err := json.Unmarshal(payload, &art); err != nil {
		return nil, errors.NewConfigurationError("decode scaler artifact", err)
	}
	if err := checkColumns("scaler", art.SchemaVersion, art.FeatureNames); err != nil {
		return nil, err
	}
	if len(art.Mean) != NumFeatures || len(art.Scale) != NumFeatures {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("scaler must have %d mean and scale entries, got %d and %d",
				NumFeatures, len(art.Mean), len(art.Scale)), nil)
	}

	s := &StandardScaler{}
	for i := 0; i < NumFeatures; i++ {
		if !isFinite(art.Mean[i]) {
			return nil, errors.NewConfigurationError(fmt.Sprintf("scaler mean for %q is not finite", FeatureColumns[i]), nil)
		}
		if art.Scale[i] == 0 || !isFinite(art.Scale[i]) {
			return nil, errors.NewConfigurationError(fmt.Sprintf("scaler scale for %q must be finite and non-zero", FeatureColumns[i]), nil)
		}
		s.Mean[i] = art.Mean[i]
		s.Scale[i] = art.Scale[i]
	}
	return s, nil
}

func (s *StandardScaler) Transform(x ScaledVector) (ScaledVector, error) {
	var out ScaledVector
	for i := range x {
		out[i] = (x[i] - s.Mean[i]) / s.Scale[i]
		if !isFinite(out[i]) {
			return out, fmt.Errorf("scaled value for %q is not finite", FeatureColumns[i])
		}
	}
	return out, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
