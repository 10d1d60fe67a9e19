// Package service composes the inference pipeline with its optional
// collaborators: history store, result cache and positive-verdict alerts.
package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/common/metrics"
	"heart-risk-service/internal/common/observability"
	"heart-risk-service/internal/inference"
	"heart-risk-service/internal/store"
)

// Transport labels used in metrics, logs and the history table.
const (
	TransportHTTP  = "http"
	TransportZeebe = "zeebe"
)

const defaultSideEffectTimeout = 5 * time.Second

// ErrHistoryDisabled is returned by Stats and Recent without a store.
var ErrHistoryDisabled = stderrors.New("prediction history is not configured")

type Store interface {
	Save(ctx context.Context, fv inference.FeatureVector, res inference.PredictionResult, transport string) (string, error)
	Stats(ctx context.Context) (*store.Stats, error)
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

type Cache interface {
	Get(ctx context.Context, fv inference.FeatureVector, artifactID string, threshold float64) (*inference.PredictionResult, bool, error)
	Set(ctx context.Context, fv inference.FeatureVector, artifactID string, res inference.PredictionResult) error
}

type Alerter interface {
	NotifyPositive(ctx context.Context, res inference.PredictionResult, predictionID, transport string) error
}

// Options carries the optional collaborators. Nil fields are skipped.
type Options struct {
	Store             Store
	Cache             Cache
	Alerter           Alerter
	Observability     *observability.Observability
	SideEffectTimeout time.Duration
}

type PredictionService struct {
	pipeline *inference.Pipeline
	store    Store
	cache    Cache
	alerter  Alerter
	obs      *observability.Observability
	timeout  time.Duration
	logger   logger.Logger
	wg       sync.WaitGroup
}

func NewPredictionService(pipeline *inference.Pipeline, opts Options, log logger.Logger) *PredictionService {
	timeout := opts.SideEffectTimeout
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	metrics.SetModelReady(pipeline.Context().Ready())
	return &PredictionService{
		pipeline: pipeline,
		store:    opts.Store,
		cache:    opts.Cache,
		alerter:  opts.Alerter,
		obs:      opts.Observability,
		timeout:  timeout,
		logger:   log.WithFields(map[string]interface{}{"component": "prediction-service"}),
	}
}

func (s *PredictionService) Ready() bool {
	return s.pipeline.Context().Ready()
}

// Reason is nil when ready.
func (s *PredictionService) Reason() error {
	return s.pipeline.Context().Reason()
}

func (s *PredictionService) Threshold() float64 {
	return s.pipeline.Context().Threshold()
}

// Predict runs one prediction. The result does not depend on the cache,
// the store or the alerter: their failures are logged and counted only.
func (s *PredictionService) Predict(ctx context.Context, fv inference.FeatureVector, transport string) (*inference.PredictionResult, error) {
	start := time.Now()
	ctx, span := s.obs.StartSpan(ctx, "heart_risk.predict", attribute.String("transport", transport))
	defer span.End()

	if s.cache != nil && s.Ready() {
		if res, ok := s.lookup(ctx, fv); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			s.observe(ctx, *res, transport, time.Since(start))
			s.dispatch(ctx, fv, *res, transport, false)
			return res, nil
		}
	}

	res, err := s.pipeline.Run(ctx, fv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.AsStandardError(err).Code))
		s.RecordFailure(ctx, transport, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", false),
		attribute.String("verdict", res.Verdict()),
		attribute.Float64("probability", res.Probability),
	)
	s.observe(ctx, *res, transport, time.Since(start))
	s.dispatch(ctx, fv, *res, transport, s.cache != nil)
	return res, nil
}

// RecordFailure counts a failed request. Transports call it for parse
// errors that never reach Predict.
func (s *PredictionService) RecordFailure(ctx context.Context, transport string, err error) {
	se := errors.AsStandardError(err)
	metrics.PredictionFailures.WithLabelValues(string(se.Code), transport).Inc()
	s.obs.RecordPrediction(ctx, transport, string(se.Code))

	fields := map[string]interface{}{
		"transport": transport,
		"errorCode": string(se.Code),
		"error":     se.Message,
	}
	if field := se.Field(); field != "" {
		fields["field"] = field
	}
	if errors.IsClientError(se) {
		s.logger.Warn("Prediction request rejected", fields)
		return
	}
	s.logger.Error("Prediction failed", fields)
}

func (s *PredictionService) Stats(ctx context.Context) (*store.Stats, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.Stats(ctx)
}

func (s *PredictionService) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.Recent(ctx, limit)
}

// HistoryEnabled reports whether Stats and Recent are backed by a store.
func (s *PredictionService) HistoryEnabled() bool {
	return s.store != nil
}

// Wait blocks until every dispatched side effect has finished.
func (s *PredictionService) Wait() {
	s.wg.Wait()
}

func (s *PredictionService) lookup(ctx context.Context, fv inference.FeatureVector) (*inference.PredictionResult, bool) {
	cached, hit, err := s.cache.Get(ctx, fv, s.pipeline.Context().ArtifactID(), s.Threshold())
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("Prediction cache lookup failed", map[string]interface{}{"error": err.Error()})
		return nil, false
	case !hit:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	// Only the probability is trusted; verdict and label are rebuilt.
	res, err := s.pipeline.Redecide(*cached)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("invalid").Inc()
		s.logger.Warn("Discarding invalid cached prediction", map[string]interface{}{"error": err.Error()})
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return res, true
}

func (s *PredictionService) observe(ctx context.Context, res inference.PredictionResult, transport string, elapsed time.Duration) {
	metrics.PredictionsTotal.WithLabelValues(res.Verdict(), transport).Inc()
	metrics.PredictionProbability.Observe(res.Probability)
	metrics.PredictionDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
	s.obs.RecordPrediction(ctx, transport, res.Verdict())
	s.obs.RecordPredictionDuration(ctx, elapsed, transport)

	s.logger.Info("Prediction served", map[string]interface{}{
		"transport":   transport,
		"verdict":     res.Verdict(),
		"probability": res.Probability,
		"durationMs":  elapsed.Milliseconds(),
	})
}

// dispatch runs the collaborators in the background on a context that
// outlives the request but is bounded by the side-effect timeout.
func (s *PredictionService) dispatch(ctx context.Context, fv inference.FeatureVector, res inference.PredictionResult, transport string, writeCache bool) {
	if s.store == nil && s.alerter == nil && !writeCache {
		return
	}

	artifactID := s.pipeline.Context().ArtifactID()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		if writeCache {
			if err := s.cache.Set(bg, fv, artifactID, res); err != nil {
				s.sideEffectFailed("cache", err)
			}
		}

		var id string
		if s.store != nil {
			saved, err := s.store.Save(bg, fv, res, transport)
			if err != nil {
				s.sideEffectFailed("store", err)
			}
			id = saved
		}

		if s.alerter != nil {
			if err := s.alerter.NotifyPositive(bg, res, id, transport); err != nil {
				s.sideEffectFailed("alerts", err)
			}
		}
	}()
}

func (s *PredictionService) sideEffectFailed(collaborator string, err error) {
	metrics.SideEffectFailures.WithLabelValues(collaborator).Inc()
	s.logger.Error("Prediction side effect failed", map[string]interface{}{
		"collaborator": collaborator,
		"error":        err.Error(),
	})
}
