package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heart-risk-service/internal/inference"
)

func shippedOptions() options {
	return options{
		ModelPath:  filepath.Join("..", "..", "..", "models", "random_forest_model.json"),
		ScalerPath: filepath.Join("..", "..", "..", "models", "scaler.json"),
		Threshold:  inference.DefaultThreshold,
		Strict:     true,
		LogLevel:   "error",
	}
}

func TestRun_ShippedArtifactsPass(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, shippedOptions()))

	for _, s := range inference.ReferenceSamples {
		assert.Contains(t, out.String(), "=== "+s.Name+" ===")
	}
	assert.Regexp(t, `artifact:   [0-9a-f]{64}\n`, out.String())
	assert.Contains(t, out.String(), "raw:        age=80")
	assert.Contains(t, out.String(), "Positive: Risk of Heart Disease")
	assert.NotContains(t, out.String(), "REGRESSION")
}

func TestRun_StrictFailsOnFlippedVerdict(t *testing.T) {
	opts := shippedOptions()
	opts.Threshold = 0.9

	var out bytes.Buffer
	err := run(context.Background(), &out, opts)
	require.Error(t, err)
	assert.Contains(t, out.String(), "REGRESSION: Elderly risky sample")

	opts.Strict = false
	out.Reset()
	require.NoError(t, run(context.Background(), &out, opts))
	assert.Contains(t, out.String(), "REGRESSION")
}

func TestRun_MissingArtifacts(t *testing.T) {
	opts := shippedOptions()
	opts.ModelPath = filepath.Join(t.TempDir(), "missing.json")

	err := run(context.Background(), &bytes.Buffer{}, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifacts not usable")
}
