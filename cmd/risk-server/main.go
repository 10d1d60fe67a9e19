// cmd/risk-server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heart-risk-service/internal/alerts"
	httpapi "heart-risk-service/internal/api/http"
	"heart-risk-service/internal/cache"
	awscommon "heart-risk-service/internal/common/aws"
	"heart-risk-service/internal/common/camunda"
	"heart-risk-service/internal/common/config"
	"heart-risk-service/internal/common/database"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/common/observability"
	"heart-risk-service/internal/inference"
	"heart-risk-service/internal/service"
	"heart-risk-service/internal/store"
	predictheartrisk "heart-risk-service/internal/workers/clinical/predict-heart-risk"
)

const sideEffectTimeout = 5 * time.Second

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "risk-server",
		Short:         "Serve heart disease risk predictions over HTTP and Zeebe",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "config file (default ./configs/config.yaml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "risk-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog).With(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting risk server", zap.String("environment", cfg.App.Environment))

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx := context.Background()

	ic := inference.Load(inference.Options{
		ModelPath:     cfg.Model.Path,
		ScalerPath:    cfg.Model.ScalerPath,
		Threshold:     cfg.Model.Threshold,
		SchemaVersion: cfg.Model.SchemaVersion,
	}, log)

	opts := service.Options{
		Observability:     obs,
		SideEffectTimeout: sideEffectTimeout,
	}

	// --- Optional collaborators: a failure here never blocks serving ---
	if cfg.Database.Postgres.Enabled() {
		pg, st := connectStore(ctx, cfg, log)
		if pg != nil {
			defer pg.Close()
			opts.Store = st
		}
	}

	if cfg.Cache.Enabled {
		rc := database.NewRedis(cfg.Database.Redis)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			log.Warn("Redis unreachable, cache lookups will fall through", map[string]interface{}{"error": err.Error()})
		}
		opts.Cache = cache.NewPredictionCache(rc.Client, time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.KeyPrefix)
		log.Info("Prediction cache enabled", map[string]interface{}{"ttlSeconds": cfg.Cache.TTLSeconds})
	}

	if channels := alertChannels(ctx, cfg, log); len(channels) > 0 {
		opts.Alerter = channels
	}

	svc := service.NewPredictionService(inference.NewPipeline(ic), opts, log)

	// --- Zeebe worker ---
	var jobWorker *camunda.CamundaWorker
	if cfg.Camunda.Enabled && config.IsWorkerEnabled(cfg, predictheartrisk.TaskType) {
		zc, w, err := startWorker(cfg, svc, log)
		if err != nil {
			log.Error("Zeebe worker not started", map[string]interface{}{"error": err.Error()})
		} else {
			defer zc.Close()
			jobWorker = w
		}
	}

	// --- HTTP ---
	handler, err := httpapi.NewHandler(svc, cfg.Server.MaxBodyBytes, log)
	if err != nil {
		return err
	}
	server := httpapi.NewServer(cfg.Server, httpapi.NewRouter(handler, cfg.Server, log), log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if jobWorker != nil {
		jobWorker.Stop()
	}
	svc.Wait()

	log.Info("Risk server stopped gracefully", nil)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func alertChannels(ctx context.Context, cfg *config.Config, log logger.Logger) alerts.Fanout {
	var channels alerts.Fanout

	if cfg.Alerts.SNS.Enabled {
		snsClient, err := awscommon.NewSNSClient(ctx, cfg.Alerts.SNS.Region)
		if err != nil {
			log.Error("SNS client unavailable, topic alerts disabled", map[string]interface{}{"error": err.Error()})
		} else {
			channels = append(channels, alerts.NewNotifier(snsClient, cfg.Alerts.SNS.TopicARN, config.GetDuration(cfg.Alerts.SNS.Timeout), log))
			log.Info("Positive-verdict topic alerts enabled", map[string]interface{}{"topicArn": cfg.Alerts.SNS.TopicARN})
		}
	}

	if cfg.Alerts.SES.Enabled {
		sesClient, err := awscommon.NewSESClient(ctx, cfg.Alerts.SES.Region)
		if err != nil {
			log.Error("SES client unavailable, email alerts disabled", map[string]interface{}{"error": err.Error()})
		} else {
			channels = append(channels, alerts.NewEmailNotifier(sesClient, cfg.Alerts.SES.From, cfg.Alerts.SES.To, config.GetDuration(cfg.Alerts.SES.Timeout), log))
			log.Info("Positive-verdict email alerts enabled", map[string]interface{}{"recipients": len(cfg.Alerts.SES.To)})
		}
	}

	return channels
}

func connectStore(ctx context.Context, cfg *config.Config, log logger.Logger) (*database.PostgresClient, *store.PredictionStore) {
	var pg *database.PostgresClient
	err := retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		return nil
	}, 5, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		log.Error("Prediction history disabled", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}

	st := store.NewPredictionStore(pg, log)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Error("Failed to ensure predictions table", map[string]interface{}{"error": err.Error()})
		_ = pg.Close()
		return nil, nil
	}
	log.Info("PostgreSQL connected successfully", nil)
	return pg, st
}

func startWorker(cfg *config.Config, svc *service.PredictionService, log logger.Logger) (*camunda.Client, *camunda.CamundaWorker, error) {
	var zc *camunda.Client
	err := retryWithBackoff(func() error {
		var err error
		zc, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.ConnectTimeout),
		})
		return err
	}, 5, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		return nil, nil, err
	}

	wcfg := predictheartrisk.ConfigFromApp(cfg)
	handler, err := predictheartrisk.NewHandler(wcfg, svc, log)
	if err != nil {
		_ = zc.Close()
		return nil, nil, err
	}

	w := camunda.NewWorker(zc.GetClient(), predictheartrisk.TaskType, camunda.WorkerOptions{
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       wcfg.Timeout,
	}, handler, log)
	return zc, w, nil
}
