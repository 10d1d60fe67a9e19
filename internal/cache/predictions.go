// Package cache memoizes prediction results in Redis keyed by the canonical
// feature vector.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/inference"
)

const DefaultKeyPrefix = "prediction:"

// PredictionCache stores PredictionResult JSON under prefix+sha256.
type PredictionCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewPredictionCache(client redis.Cmdable, ttl time.Duration, prefix string) *PredictionCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &PredictionCache{client: client, ttl: ttl, prefix: prefix}
}

// Key hashes the schema version, the loaded artifacts, the threshold and
// every value in shortest round-trip form. Redeploying a retrained model or
// changing the threshold moves every entry to a new key.
func (c *PredictionCache) Key(fv inference.FeatureVector, artifactID string, threshold float64) string {
	var b strings.Builder
	b.WriteString(inference.SchemaVersion)
	b.WriteByte('|')
	b.WriteString(artifactID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(threshold, 'g', -1, 64))
	for _, v := range fv {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached result. A miss is (nil, false, nil).
func (c *PredictionCache) Get(ctx context.Context, fv inference.FeatureVector, artifactID string, threshold float64) (*inference.PredictionResult, bool, error) {
	payload, err := c.client.Get(ctx, c.Key(fv, artifactID, threshold)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewCacheError("get", err)
	}

	var res inference.PredictionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, false, errors.NewCacheError("decode", err)
	}
	return &res, true, nil
}

func (c *PredictionCache) Set(ctx context.Context, fv inference.FeatureVector, artifactID string, res inference.PredictionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return errors.NewCacheError("encode", err)
	}
	if err := c.client.Set(ctx, c.Key(fv, artifactID, res.Threshold), payload, c.ttl).Err(); err != nil {
		return errors.NewCacheError("set", err)
	}
	return nil
}
