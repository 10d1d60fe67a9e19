package inference

import (
	"fmt"
	"math"
)

// probabilityTolerance bounds float error when checking that class
// probabilities sum to one.
const probabilityTolerance = 1e-9

// Probabilities is the class distribution for one vector.
type Probabilities struct {
	Negative float64 `json:"negative"`
	Positive float64 `json:"positive"`
}

// Validate checks both entries are in [0,1] and sum to 1.
func (p Probabilities) Validate() error {
	for _, v := range []float64{p.Negative, p.Positive} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("probability %v outside [0, 1]", v)
		}
	}
	if math.Abs(p.Negative+p.Positive-1) > probabilityTolerance {
		return fmt.Errorf("probabilities sum to %v, expected 1", p.Negative+p.Positive)
	}
	return nil
}

// Classifier is the model boundary. Implementations must be safe for
// concurrent use.
type Classifier interface {
	PredictProba(x ScaledVector) (Probabilities, error)
}
