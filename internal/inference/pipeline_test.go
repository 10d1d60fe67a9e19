package inference

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
)

var (
	healthySample = FeatureVector{41, 0, 2, 130, 204, 0, 2, 172, 0, 1.4, 1, 0, 3}
	riskySample   = FeatureVector{80, 1, 4, 180, 350, 1, 2, 90, 1, 4.0, 2, 3, 7}
)

// fixedClassifier returns a constant positive probability and counts calls.
type fixedClassifier struct {
	mu       sync.Mutex
	positive float64
	calls    int
	panicMsg string
}

func (f *fixedClassifier) PredictProba(ScaledVector) (Probabilities, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return Probabilities{Negative: 1 - f.positive, Positive: f.positive}, nil
}

// rawClassifier returns whatever it is given, valid or not.
type rawClassifier struct{ p Probabilities }

func (r rawClassifier) PredictProba(ScaledVector) (Probabilities, error) { return r.p, nil }

type identityTransformer struct{}

func (identityTransformer) Transform(x ScaledVector) (ScaledVector, error) { return x, nil }

func newTestPipeline(t *testing.T, c Classifier) *Pipeline {
	t.Helper()
	ic, err := NewInferenceContext(DefaultStats(), identityTransformer{}, c, Policy{Threshold: DefaultThreshold})
	require.NoError(t, err)
	return NewPipeline(ic)
}

func loadShippedPipeline(t *testing.T) *Pipeline {
	t.Helper()
	ic := Load(Options{
		ModelPath:  filepath.Join("..", "..", "models", "random_forest_model.json"),
		ScalerPath: filepath.Join("..", "..", "models", "scaler.json"),
		Threshold:  DefaultThreshold,
	}, logger.NewTestLogger(t))
	require.True(t, ic.Ready(), "shipped artifacts should load: %v", ic.Reason())
	return NewPipeline(ic)
}

func TestPipeline_ReferenceSamples(t *testing.T) {
	p := loadShippedPipeline(t)

	tests := []struct {
		name     string
		raw      FeatureVector
		positive bool
		prob     float64
	}{
		{"UCI healthy", healthySample, false, 0.1301},
		{"UCI risky", FeatureVector{67, 1, 4, 160, 286, 0, 2, 108, 1, 1.5, 2, 3, 3}, true, 0.67},
		{"outside healthy", FeatureVector{40, 0, 2, 120, 180, 0, 0, 160, 0, 0.0, 1, 0, 3}, false, 0.1301},
		{"outside risky", FeatureVector{65, 1, 4, 170, 320, 1, 2, 100, 1, 3.0, 2, 2, 7}, true, 0.78},
		{"very young healthy", FeatureVector{22, 0, 2, 110, 160, 0, 0, 180, 0, 0.0, 1, 0, 3}, false, 0.1301},
		{"elderly risky", riskySample, true, 0.78},
		{"middle-aged borderline", FeatureVector{50, 1, 3, 140, 220, 0, 1, 130, 0, 1.2, 2, 1, 6}, true, 0.4541},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Run(context.Background(), tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.positive, res.IsPositive)
			assert.InDelta(t, tt.prob, res.Probability, 1e-3)
			assert.Equal(t, DefaultThreshold, res.Threshold)
		})
	}
}

func TestPipeline_LabelsMatchPublishedFormat(t *testing.T) {
	p := loadShippedPipeline(t)

	neg, err := p.Run(context.Background(), healthySample)
	require.NoError(t, err)
	assert.Equal(t, "✅ Negative: No Heart Disease (prob=0.13 < 0.3)", neg.Label)

	pos, err := p.Run(context.Background(), riskySample)
	require.NoError(t, err)
	assert.Equal(t, "🧠 Positive: Risk of Heart Disease (prob=0.78 >= 0.3)", pos.Label)
}

func TestPipeline_ProbabilitiesSumToOne(t *testing.T) {
	p := loadShippedPipeline(t)

	for _, fv := range []FeatureVector{healthySample, riskySample, {}} {
		trace, err := p.Explain(context.Background(), fv)
		require.NoError(t, err)
		sum := trace.Probabilities.Negative + trace.Probabilities.Positive
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.GreaterOrEqual(t, trace.Probabilities.Positive, 0.0)
		assert.LessOrEqual(t, trace.Probabilities.Positive, 1.0)
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	p := loadShippedPipeline(t)

	first, err := p.Run(context.Background(), riskySample)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*PredictionResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Run(context.Background(), riskySample)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, *first, *r)
	}
}

func TestPipeline_TracesBothStages(t *testing.T) {
	p := loadShippedPipeline(t)

	trace, err := p.Explain(context.Background(), healthySample)
	require.NoError(t, err)

	stats := DefaultStats()
	wantAge := (41 - stats.Means[0]) / stats.Stds[0]
	assert.InDelta(t, wantAge, trace.Normalized[0], 1e-12)
	assert.InDelta(t, (wantAge-0.0131)/1.0123, trace.Scaled[0], 1e-12)
}

func TestPipeline_Disabled(t *testing.T) {
	p := NewPipeline(Disabled(errors.NewConfigurationError("read model artifact", nil)))

	res, err := p.Run(context.Background(), healthySample)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeModelUnavailable))
	assert.False(t, p.Context().Ready())
	assert.Equal(t, 0.0, p.Context().Threshold())
}

func TestPipeline_MissingArtifactsDisable(t *testing.T) {
	ic := Load(Options{
		ModelPath:  filepath.Join(t.TempDir(), "missing.json"),
		ScalerPath: filepath.Join("..", "..", "models", "scaler.json"),
	}, logger.NewNoOpLogger())

	assert.False(t, ic.Ready())
	assert.True(t, errors.HasCode(ic.Reason(), errors.ErrCodeConfiguration))
}

func TestPipeline_ProcessingErrors(t *testing.T) {
	t.Run("panic is captured", func(t *testing.T) {
		p := newTestPipeline(t, &fixedClassifier{panicMsg: "index out of range"})
		_, err := p.Run(context.Background(), healthySample)
		require.Error(t, err)
		stdErr := errors.AsStandardError(err)
		assert.Equal(t, errors.ErrCodeProcessingFailed, stdErr.Code)
		assert.Equal(t, "index out of range", stdErr.Message)
		assert.Equal(t, StagePredict, stdErr.Metadata["stage"])
	})

	t.Run("probability out of range", func(t *testing.T) {
		p := newTestPipeline(t, rawClassifier{p: Probabilities{Negative: -0.2, Positive: 1.2}})
		_, err := p.Run(context.Background(), healthySample)
		assert.True(t, errors.HasCode(err, errors.ErrCodeProcessingFailed))
	})

	t.Run("NaN probability", func(t *testing.T) {
		p := newTestPipeline(t, rawClassifier{p: Probabilities{Negative: math.NaN(), Positive: math.NaN()}})
		_, err := p.Run(context.Background(), healthySample)
		assert.True(t, errors.HasCode(err, errors.ErrCodeProcessingFailed))
	})

	t.Run("cancelled context", func(t *testing.T) {
		c := &fixedClassifier{positive: 0.5}
		p := newTestPipeline(t, c)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Run(ctx, healthySample)
		assert.True(t, errors.HasCode(err, errors.ErrCodeProcessingFailed))
		assert.Equal(t, 0, c.calls)
	})
}

func TestNewInferenceContext_Validation(t *testing.T) {
	_, err := NewInferenceContext(NormalizationStats{Means: []float64{1}, Stds: []float64{1}},
		identityTransformer{}, &fixedClassifier{}, Policy{Threshold: 0.3})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration))

	_, err = NewInferenceContext(DefaultStats(), identityTransformer{}, nil, Policy{Threshold: 0.3})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration))

	_, err = NewInferenceContext(DefaultStats(), identityTransformer{}, &fixedClassifier{}, Policy{Threshold: 1.5})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration))
}

func TestLoad_ArtifactIDTracksContent(t *testing.T) {
	modelPath := filepath.Join("..", "..", "models", "random_forest_model.json")
	scalerPath := filepath.Join("..", "..", "models", "scaler.json")
	mustLoad := func(model string, stats *NormalizationStats) *InferenceContext {
		ic := Load(Options{ModelPath: model, ScalerPath: scalerPath, Stats: stats}, logger.NewNoOpLogger())
		require.True(t, ic.Ready(), "%v", ic.Reason())
		return ic
	}

	first := mustLoad(modelPath, nil).ArtifactID()
	assert.Len(t, first, 64)
	assert.Equal(t, first, mustLoad(modelPath, nil).ArtifactID())

	payload, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	retrained := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(retrained, append(payload, '\n'), 0o600))
	assert.NotEqual(t, first, mustLoad(retrained, nil).ArtifactID())

	stats := DefaultStats()
	stats.Means = append([]float64(nil), stats.Means...)
	stats.Means[0] = 55
	assert.NotEqual(t, first, mustLoad(modelPath, &stats).ArtifactID())
}

func TestNewInferenceContext_DistinctArtifactIDs(t *testing.T) {
	a := newTestPipeline(t, &fixedClassifier{positive: 0.1}).Context()
	b := newTestPipeline(t, &fixedClassifier{positive: 0.1}).Context()
	assert.NotEmpty(t, a.ArtifactID())
	assert.NotEqual(t, a.ArtifactID(), b.ArtifactID())
	assert.Empty(t, Disabled(nil).ArtifactID())
}
