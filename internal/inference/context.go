package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
)

// InferenceContext bundles the immutable pipeline stages. It is built once
// at startup and shared read-only by every request. A context whose
// artifacts failed to load is Disabled and refuses every prediction.
type InferenceContext struct {
	normalizer  *Normalizer
	transformer Transformer
	classifier  Classifier
	policy      Policy
	artifactID  string
	disabled    error
}

// Options locate the artifacts and carry the decision threshold.
type Options struct {
	ModelPath     string
	ScalerPath    string
	Threshold     float64
	SchemaVersion string
	Stats         *NormalizationStats
}

// NewInferenceContext assembles a Ready context from already loaded parts.
// Its ArtifactID is unique to this instance; Load replaces it with a content
// hash that is stable across processes.
func NewInferenceContext(stats NormalizationStats, transformer Transformer, classifier Classifier, policy Policy) (*InferenceContext, error) {
	normalizer, err := NewNormalizer(stats)
	if err != nil {
		return nil, err
	}
	if transformer == nil || classifier == nil {
		return nil, errors.NewConfigurationError("transformer and classifier are required", nil)
	}
	if _, err := NewPolicy(policy.Threshold); err != nil {
		return nil, errors.NewConfigurationError("decision policy", err)
	}
	return &InferenceContext{
		normalizer:  normalizer,
		transformer: transformer,
		classifier:  classifier,
		policy:      policy,
		artifactID:  "instance-" + uuid.NewString(),
	}, nil
}

// Disabled returns a context that fails every prediction with MODEL_UNAVAILABLE.
func Disabled(reason error) *InferenceContext {
	if reason == nil {
		reason = fmt.Errorf("model not loaded")
	}
	return &InferenceContext{disabled: reason}
}

// Load reads both artifacts. It never fails: any configuration problem is
// logged and yields a Disabled context so the process keeps serving health
// checks.
func Load(opts Options, log logger.Logger) *InferenceContext {
	ic, err := load(opts)
	if err != nil {
		log.Error("Inference disabled", map[string]interface{}{
			"error":      err.Error(),
			"modelPath":  opts.ModelPath,
			"scalerPath": opts.ScalerPath,
		})
		return Disabled(err)
	}
	log.Info("Inference artifacts loaded", map[string]interface{}{
		"modelPath":     opts.ModelPath,
		"scalerPath":    opts.ScalerPath,
		"threshold":     ic.policy.Threshold,
		"artifactId":    ic.artifactID,
		"schemaVersion": SchemaVersion,
	})
	return ic
}

func load(opts Options) (*InferenceContext, error) {
	if opts.SchemaVersion != "" && opts.SchemaVersion != SchemaVersion {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("configured schema version %q is not supported (want %q)", opts.SchemaVersion, SchemaVersion), nil)
	}

	stats := DefaultStats()
	if opts.Stats != nil {
		stats = *opts.Stats
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	scalerBytes, err := os.ReadFile(opts.ScalerPath)
	if err != nil {
		return nil, errors.NewConfigurationError("read scaler artifact", err)
	}
	modelBytes, err := os.ReadFile(opts.ModelPath)
	if err != nil {
		return nil, errors.NewConfigurationError("read model artifact", err)
	}

	scaler, err := ParseScaler(scalerBytes)
	if err != nil {
		return nil, err
	}
	forest, err := ParseForest(modelBytes)
	if err != nil {
		return nil, err
	}
	ic, err := NewInferenceContext(stats, scaler, forest, Policy{Threshold: threshold})
	if err != nil {
		return nil, err
	}
	ic.artifactID = ArtifactDigest(modelBytes, scalerBytes, stats)
	return ic, nil
}

// ArtifactDigest identifies a model, scaler and stage one statistics
// combination. Two processes loading the same files agree on it.
func ArtifactDigest(model, scaler []byte, stats NormalizationStats) string {
	h := sha256.New()
	for _, part := range [][]byte{model, scaler} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write(part)
	}
	for _, col := range [][]float64{stats.Means, stats.Stds} {
		for _, v := range col {
			h.Write([]byte(strconv.FormatFloat(v, 'g', -1, 64)))
			h.Write([]byte{'|'})
		}
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Ready reports whether predictions can be served.
func (ic *InferenceContext) Ready() bool {
	return ic != nil && ic.disabled == nil
}

// Reason explains why the context is disabled; nil when ready.
func (ic *InferenceContext) Reason() error {
	if ic == nil {
		return fmt.Errorf("inference context not initialized")
	}
	return ic.disabled
}

// ArtifactID identifies the loaded artifacts; empty when disabled.
func (ic *InferenceContext) ArtifactID() string {
	if !ic.Ready() {
		return ""
	}
	return ic.artifactID
}

// Threshold returns the configured decision threshold, or 0 when disabled.
func (ic *InferenceContext) Threshold() float64 {
	if !ic.Ready() {
		return 0
	}
	return ic.policy.Threshold
}

func (ic *InferenceContext) unavailable() error {
	return errors.NewModelUnavailableError(ic.Reason().Error())
}
