package alerts

import (
	"context"
	stderrors "errors"

	"heart-risk-service/internal/inference"
)

// Channel delivers a positive verdict somewhere.
type Channel interface {
	NotifyPositive(ctx context.Context, res inference.PredictionResult, predictionID, transport string) error
}

// Fanout notifies every channel; one failing channel does not stop the rest.
type Fanout []Channel

func (f Fanout) NotifyPositive(ctx context.Context, res inference.PredictionResult, predictionID, transport string) error {
	var errs []error
	for _, ch := range f {
		if err := ch.NotifyPositive(ctx, res, predictionID, transport); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
