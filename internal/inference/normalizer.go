package inference

// Normalizer applies stage one: (raw - mean) / std per column.
type Normalizer struct {
	means [NumFeatures]float64
	stds  [NumFeatures]float64
}

// NewNormalizer validates stats and copies them into a fixed-size Normalizer.
func NewNormalizer(stats NormalizationStats) (*Normalizer, error) {
	if err := ValidateStats(stats); err != nil {
		return nil, err
	}
	n := &Normalizer{}
	copy(n.means[:], stats.Means)
	copy(n.stds[:], stats.Stds)
	return n, nil
}

func (n *Normalizer) Normalize(raw FeatureVector) ScaledVector {
	var out ScaledVector
	for i := range raw {
		out[i] = (raw[i] - n.means[i]) / n.stds[i]
	}
	return out
}

// Transformer is the second, persisted normalization stage.
type Transformer interface {
	Transform(x ScaledVector) (ScaledVector, error)
}
