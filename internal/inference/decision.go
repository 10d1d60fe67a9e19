package inference

import (
	"fmt"
	"math"
	"strconv"
)

// DefaultThreshold favors sensitivity over specificity.
const DefaultThreshold = 0.30

// PredictionResult is the verdict returned to every transport.
type PredictionResult struct {
	Probability float64 `json:"probability"`
	IsPositive  bool    `json:"is_positive"`
	Label       string  `json:"prediction"`
	Threshold   float64 `json:"threshold"`
}

// Verdict returns "positive" or "negative".
func (r PredictionResult) Verdict() string {
	if r.IsPositive {
		return "positive"
	}
	return "negative"
}

// PredictedClass returns 1 for a positive verdict, else 0.
func (r PredictionResult) PredictedClass() int {
	if r.IsPositive {
		return 1
	}
	return 0
}

// Policy turns a positive-class probability into a verdict.
type Policy struct {
	Threshold float64
}

// NewPolicy rejects thresholds outside (0, 1).
func NewPolicy(threshold float64) (Policy, error) {
	if math.IsNaN(threshold) || threshold <= 0 || threshold >= 1 {
		return Policy{}, fmt.Errorf("threshold %v outside (0, 1)", threshold)
	}
	return Policy{Threshold: threshold}, nil
}

// Decide is inclusive: p == threshold is positive.
func (p Policy) Decide(prob float64) (PredictionResult, error) {
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return PredictionResult{}, fmt.Errorf("probability %v outside [0, 1]", prob)
	}

	res := PredictionResult{
		Probability: prob,
		IsPositive:  prob >= p.Threshold,
		Threshold:   p.Threshold,
	}
	threshold := strconv.FormatFloat(p.Threshold, 'f', -1, 64)
	if res.IsPositive {
		res.Label = fmt.Sprintf("🧠 Positive: Risk of Heart Disease (prob=%.2f >= %s)", prob, threshold)
	} else {
		res.Label = fmt.Sprintf("✅ Negative: No Heart Disease (prob=%.2f < %s)", prob, threshold)
	}
	return res, nil
}
