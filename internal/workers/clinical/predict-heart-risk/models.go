package predictheartrisk

import "heart-risk-service/internal/inference"

// Input is the job variable document: {"features": {"age": 63, ...}}.
type Input struct {
	Features map[string]interface{} `json:"features"`
}

// Output is merged into the process instance variables.
type Output struct {
	Prediction  string  `json:"prediction"`
	Probability float64 `json:"probability"`
	IsPositive  bool    `json:"isPositive"`
	Threshold   float64 `json:"threshold"`
}

func newOutput(res *inference.PredictionResult) *Output {
	return &Output{
		Prediction:  res.Label,
		Probability: res.Probability,
		IsPositive:  res.IsPositive,
		Threshold:   res.Threshold,
	}
}
