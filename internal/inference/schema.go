// Package inference holds the heart-risk prediction pipeline: feature schema,
// two-stage normalization, the random forest adapter and the decision policy.
package inference

import (
	"fmt"
	"math"

	"heart-risk-service/internal/common/errors"
)

// NumFeatures is the width of every vector handled by the pipeline.
const NumFeatures = 13

// SchemaVersion identifies the column contract the artifacts were fit with.
const SchemaVersion = "uci-cleveland-v1"

// FeatureColumns is the canonical column order. Models, statistics and the
// scaler all index by position in this array.
var FeatureColumns = [NumFeatures]string{
	"age", "sex", "cp", "trestbps", "chol", "fbs", "restecg",
	"thalach", "exang", "oldpeak", "slope", "ca", "thal",
}

// FeatureVector is a validated set of raw measurements in schema order.
// Construct it with one of the Parse functions.
type FeatureVector [NumFeatures]float64

// ScaledVector is a FeatureVector after normalization.
type ScaledVector [NumFeatures]float64

// Map returns the vector keyed by column name.
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, NumFeatures)
	for i, name := range FeatureColumns {
		out[name] = v[i]
	}
	return out
}

// FeatureHint documents a column for form rendering and the JSON schema.
type FeatureHint struct {
	Name        string
	Description string
	Min         float64
	Max         float64
}

// FeatureHints are the ranges observed in the UCI Cleveland corpus. They are
// informational; values outside them are still accepted.
var FeatureHints = [NumFeatures]FeatureHint{
	{"age", "Age in years", 29, 77},
	{"sex", "Sex (1 = male, 0 = female)", 0, 1},
	{"cp", "Chest pain type (1-4)", 1, 4},
	{"trestbps", "Resting blood pressure (mm Hg)", 94, 200},
	{"chol", "Serum cholesterol (mg/dl)", 126, 564},
	{"fbs", "Fasting blood sugar > 120 mg/dl (1 = true)", 0, 1},
	{"restecg", "Resting ECG result (0-2)", 0, 2},
	{"thalach", "Maximum heart rate achieved", 71, 202},
	{"exang", "Exercise induced angina (1 = yes)", 0, 1},
	{"oldpeak", "ST depression induced by exercise", 0, 6.2},
	{"slope", "Slope of peak exercise ST segment (1-3)", 1, 3},
	{"ca", "Major vessels colored by fluoroscopy (0-3)", 0, 3},
	{"thal", "Thalassemia (3 = normal, 6 = fixed, 7 = reversible)", 3, 7},
}

// NormalizationStats are the per-column means and standard deviations of the
// training corpus used for stage one normalization.
type NormalizationStats struct {
	Means []float64
	Stds  []float64
}

// DefaultStats returns the UCI Cleveland statistics the shipped model was trained against.
func DefaultStats() NormalizationStats {
	return NormalizationStats{
		Means: []float64{
			54.77215189873418, 0.6751054852320675, 3.1856540084388185, 132.27004219409284,
			249.40928270042195, 0.16877637130801687, 0.9831223628691983, 149.8438818565401,
			0.3459915611814346, 1.0616033755274261, 1.5864978902953586, 0.679324894514768,
			4.805907172995781,
		},
		Stds: []float64{
			9.013280450715815, 0.46833542364596153, 0.9542956923697674, 17.878011067930768,
			53.05006391061259, 0.3745542788383485, 0.9935073817122748, 22.350225706927414,
			0.4756904463752327, 1.17710327190575, 0.6144421958336403, 0.9177772910935037,
			1.9390194245896273,
		},
	}
}

// ValidateStats checks the statistics once at startup. A failure is a
// CONFIGURATION_ERROR.
func ValidateStats(s NormalizationStats) error {
	if len(s.Means) != NumFeatures || len(s.Stds) != NumFeatures {
		return errors.NewConfigurationError(
			fmt.Sprintf("normalization stats must have %d means and stds, got %d and %d",
				NumFeatures, len(s.Means), len(s.Stds)), nil)
	}
	for i := 0; i < NumFeatures; i++ {
		if math.IsNaN(s.Means[i]) || math.IsInf(s.Means[i], 0) {
			return errors.NewConfigurationError(fmt.Sprintf("mean for %q is not finite", FeatureColumns[i]), nil)
		}
		if s.Stds[i] == 0 || math.IsNaN(s.Stds[i]) || math.IsInf(s.Stds[i], 0) {
			return errors.NewConfigurationError(fmt.Sprintf("std for %q must be finite and non-zero", FeatureColumns[i]), nil)
		}
	}
	return nil
}

// checkColumns compares an artifact's declared schema against FeatureColumns.
func checkColumns(artifact, version string, names []string) error {
	if version != SchemaVersion {
		return errors.NewConfigurationError(
			fmt.Sprintf("%s: schema version %q does not match %q", artifact, version, SchemaVersion), nil)
	}
	if len(names) != NumFeatures {
		return errors.NewConfigurationError(
			fmt.Sprintf("%s: declares %d features, expected %d", artifact, len(names), NumFeatures), nil)
	}
	for i, name := range names {
		if name != FeatureColumns[i] {
			return errors.NewConfigurationError(
				fmt.Sprintf("%s: feature %d is %q, expected %q", artifact, i, name, FeatureColumns[i]), nil)
		}
	}
	return nil
}
