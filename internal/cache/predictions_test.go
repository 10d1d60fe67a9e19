package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/inference"
)

const artifact = "3f2a9c"

var (
	sample = inference.FeatureVector{41, 0, 2, 130, 204, 0, 2, 172, 0, 1.4, 1, 0, 3}
	result = inference.PredictionResult{
		Probability: 0.1301,
		IsPositive:  false,
		Label:       "✅ Negative: No Heart Disease (prob=0.13 < 0.3)",
		Threshold:   0.3,
	}
)

func newMiniredisCache(t *testing.T) (*PredictionCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewPredictionCache(client, time.Hour, ""), mr
}

func TestPredictionCache_RoundTrip(t *testing.T) {
	c, mr := newMiniredisCache(t)
	ctx := context.Background()

	got, hit, err := c.Get(ctx, sample, artifact, 0.3)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, sample, artifact, result))

	key := c.Key(sample, artifact, 0.3)
	assert.True(t, strings.HasPrefix(key, DefaultKeyPrefix))
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, hit, err = c.Get(ctx, sample, artifact, 0.3)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, result, *got)

	mr.FastForward(2 * time.Hour)
	_, hit, err = c.Get(ctx, sample, artifact, 0.3)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPredictionCache_KeyDependsOnArtifacts(t *testing.T) {
	c, _ := newMiniredisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sample, artifact, result))
	assert.NotEqual(t, c.Key(sample, artifact, 0.3), c.Key(sample, "retrained", 0.3))

	_, hit, err := c.Get(ctx, sample, "retrained", 0.3)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPredictionCache_KeyDependsOnThresholdAndValues(t *testing.T) {
	c := NewPredictionCache(nil, time.Minute, "p:")

	base := c.Key(sample, artifact, 0.3)
	assert.Equal(t, base, c.Key(sample, artifact, 0.3))
	assert.NotEqual(t, base, c.Key(sample, artifact, 0.4))

	other := sample
	other[9] = 1.5
	assert.NotEqual(t, base, c.Key(other, artifact, 0.3))
	assert.True(t, strings.HasPrefix(base, "p:"))
}

func TestPredictionCache_CorruptEntry(t *testing.T) {
	c, mr := newMiniredisCache(t)
	require.NoError(t, mr.Set(c.Key(sample, artifact, 0.3), "{not json"))

	_, hit, err := c.Get(context.Background(), sample, artifact, 0.3)
	assert.False(t, hit)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCacheFailed))
}

func TestPredictionCache_RedisErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewPredictionCache(client, time.Minute, "")
	key := c.Key(sample, artifact, 0.3)

	mock.ExpectGet(key).SetErr(stderrors.New("connection refused"))
	_, hit, err := c.Get(context.Background(), sample, artifact, 0.3)
	assert.False(t, hit)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCacheFailed))

	payload, err := json.Marshal(result)
	require.NoError(t, err)
	mock.ExpectSet(key, payload, time.Minute).SetErr(stderrors.New("OOM command not allowed"))
	err = c.Set(context.Background(), sample, artifact, result)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCacheFailed))

	assert.NoError(t, mock.ExpectationsWereMet())
}
