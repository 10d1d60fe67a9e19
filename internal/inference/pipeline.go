package inference

import (
	"context"
	"fmt"

	"heart-risk-service/internal/common/errors"
)

// Stage names used in PROCESSING_FAILED metadata.
const (
	StageNormalize = "normalize"
	StageTransform = "transform"
	StagePredict   = "predict"
	StageDecide    = "decide"
)

// Trace is every intermediate value of one pipeline run.
type Trace struct {
	Raw           FeatureVector
	Normalized    ScaledVector
	Scaled        ScaledVector
	Probabilities Probabilities
	Result        PredictionResult
}

// Pipeline runs normalize -> transform -> predict -> decide for one vector.
// It holds no per-request state.
type Pipeline struct {
	ic *InferenceContext
}

func NewPipeline(ic *InferenceContext) *Pipeline {
	return &Pipeline{ic: ic}
}

// Context exposes the underlying inference context.
func (p *Pipeline) Context() *InferenceContext {
	return p.ic
}

// Run returns the verdict for fv. Errors are StandardErrors with code
// MODEL_UNAVAILABLE or PROCESSING_FAILED.
func (p *Pipeline) Run(ctx context.Context, fv FeatureVector) (*PredictionResult, error) {
	trace, err := p.Explain(ctx, fv)
	if err != nil {
		return nil, err
	}
	return &trace.Result, nil
}

// Explain is Run with every intermediate value retained.
func (p *Pipeline) Explain(ctx context.Context, fv FeatureVector) (trace *Trace, err error) {
	if !p.ic.Ready() {
		return nil, p.ic.unavailable()
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewProcessingError("receive", err)
	}

	stage := StageNormalize
	defer func() {
		if r := recover(); r != nil {
			trace = nil
			err = errors.NewProcessingError(stage, fmt.Errorf("%v", r))
		}
	}()

	t := &Trace{Raw: fv}
	t.Normalized = p.ic.normalizer.Normalize(fv)

	stage = StageTransform
	if t.Scaled, err = p.ic.transformer.Transform(t.Normalized); err != nil {
		return nil, errors.NewProcessingError(stage, err)
	}

	stage = StagePredict
	if t.Probabilities, err = p.ic.classifier.PredictProba(t.Scaled); err != nil {
		return nil, errors.NewProcessingError(stage, err)
	}
	if err = t.Probabilities.Validate(); err != nil {
		return nil, errors.NewProcessingError(stage, err)
	}

	stage = StageDecide
	if t.Result, err = p.ic.policy.Decide(t.Probabilities.Positive); err != nil {
		return nil, errors.NewProcessingError(stage, err)
	}
	return t, nil
}

// Redecide rebuilds a previously computed result from its probability under
// the current policy. It rejects results decided under another threshold or
// carrying an impossible probability.
func (p *Pipeline) Redecide(prev PredictionResult) (*PredictionResult, error) {
	if !p.ic.Ready() {
		return nil, p.ic.unavailable()
	}
	if prev.Threshold != p.ic.policy.Threshold {
		return nil, fmt.Errorf("result decided at threshold %v, policy uses %v", prev.Threshold, p.ic.policy.Threshold)
	}
	res, err := p.ic.policy.Decide(prev.Probability)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
