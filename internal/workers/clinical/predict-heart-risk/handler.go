package predictheartrisk

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"heart-risk-service/internal/common/camunda"
	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/common/metrics"
	"heart-risk-service/internal/inference"
	"heart-risk-service/internal/service"
)

const TaskType = "predict-heart-risk"

// Predictor is satisfied by service.PredictionService.
type Predictor interface {
	Predict(ctx context.Context, fv inference.FeatureVector, transport string) (*inference.PredictionResult, error)
	RecordFailure(ctx context.Context, transport string, err error)
}

type Handler struct {
	config       *Config
	predictor    Predictor
	errorHandler *errors.ErrorHandler
	retry        *camunda.RetryConfig
	logger       logger.Logger
}

func NewHandler(cfg *Config, predictor Predictor, log logger.Logger) (*Handler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if predictor == nil {
		return nil, fmt.Errorf("%s requires a predictor", TaskType)
	}

	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		predictor:    predictor,
		errorHandler: errors.NewErrorHandler(log),
		retry: &camunda.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  camunda.DefaultRetryConfig.BaseDelay,
			MaxDelay:   camunda.DefaultRetryConfig.MaxDelay,
		},
		logger: log,
	}, nil
}

// Handle completes the job with the verdict, or reports the failure through
// the shared error handler.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing heart risk prediction", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.predictor.RecordFailure(ctx, service.TransportZeebe, err)
		return h.fail(ctx, client, job, err)
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		return h.fail(ctx, client, job, err)
	}

	if err := h.completeJob(ctx, client, job, output); err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.ErrCodeWorkflowEngine)).Inc()
		return err
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	return nil
}

// Execute runs the prediction for already decoded job variables.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.Features == nil {
		err := errors.NewInvalidPayloadError(`job variables must contain a "features" object`)
		h.predictor.RecordFailure(ctx, service.TransportZeebe, err)
		return nil, err
	}

	fv, err := inference.ParseMap(input.Features)
	if err != nil {
		h.predictor.RecordFailure(ctx, service.TransportZeebe, err)
		return nil, err
	}

	res, err := h.predictor.Predict(ctx, fv, service.TransportZeebe)
	if err != nil {
		return nil, err
	}
	return newOutput(res), nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidPayloadError(fmt.Sprintf("job variables are not a JSON object: %v", err))
	}

	raw, ok := variables["features"]
	if !ok || raw == nil {
		return &Input{}, nil
	}
	features, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.NewInvalidPayloadError(fmt.Sprintf(`"features" must be an object, got %T`, raw))
	}
	return &Input{Features: features}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	err := camunda.WithRetry(ctx, h.retry, "complete-job", func(ctx context.Context) error {
		cmd, err := client.NewCompleteJobCommand().
			JobKey(job.GetKey()).
			VariablesFromObject(output)
		if err != nil {
			return err
		}
		_, err = cmd.Send(ctx)
		return err
	})
	if err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return err
	}

	h.logger.Info("Job completed", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"isPositive":  output.IsPositive,
		"probability": output.Probability,
	})
	return nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) error {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.AsStandardError(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
	return nil
}
