package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/leaf-infer/internal/config"
	"github.com/Brownie44l1/leaf-infer/internal/handlers"
	"github.com/Brownie44l1/leaf-infer/internal/httpframework"
	"github.com/Brownie44l1/leaf-infer/internal/labels"
	"github.com/Brownie44l1/leaf-infer/internal/logger"
	"github.com/Brownie44l1/leaf-infer/internal/metric"
	"github.com/Brownie44l1/leaf-infer/internal/model"
	"github.com/Brownie44l1/leaf-infer/internal/preprocess"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	pflag.StringVarP(&configPath, "config", "c", configPath, "path to the JSON service config")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg)
	metric.Init(cfg)
	defer metric.Close()

	log.Info().Msgf("Loading model from: %s", cfg.ModelPath)
	engine, err := model.NewONNXEngine(cfg.OrtLibraryPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to destroy ONNX environment")
		}
	}()

	session, err := model.NewSession(engine, sessionConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close model session")
		}
	}()

	var names *labels.Labels
	if cfg.LabelsPath != "" {
		names, err = labels.Load(cfg.LabelsPath, session.ClassCount())
		if err != nil {
			log.Warn().Err(err).Msgf("Ignoring labels file %s", cfg.LabelsPath)
			names = nil
		}
	}

	router := httpframework.New(cfg.AppEnv)
	handlers.NewHandler(session, names, handlers.Options{
		MaxBodyBytes:  cfg.MaxBodyBytes,
		Normalization: preprocess.Normalization(cfg.ImageNormalization),
	}).Register(router)

	desc := session.Describe()
	log.Info().Msgf("Model loaded: %s", cfg.ModelPath)
	log.Info().Msgf("Input: %s %s (%d values per request)", desc.Input.Shape, desc.Input.Type, session.ExpectedInputSize())
	log.Info().Msgf("Output: %s %s (%d classes)", desc.Output.Shape, desc.Output.Type, session.ClassCount())
	log.Info().Msg("Endpoints:")
	log.Info().Msg("  GET  /health        - Health check")
	log.Info().Msg("  GET  /model         - Model description")
	log.Info().Msg("  POST /predict       - Raw array prediction")
	log.Info().Msg("  POST /predict/image - Predict from image upload")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Server starting on port %d", cfg.Port)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func sessionConfig(cfg *config.Configs) model.SessionConfig {
	return model.SessionConfig{
		ModelPath:          cfg.ModelPath,
		InputShape:         model.Shape(cfg.InputShape),
		InputName:          cfg.InputName,
		OutputName:         cfg.OutputName,
		InputQuantization:  quantization(cfg.InputQuantization),
		OutputQuantization: quantization(cfg.OutputQuantization),
	}
}

func quantization(q *config.Quantization) *model.Quantization {
	if q == nil {
		return nil
	}
	return &model.Quantization{Scale: q.Scale, ZeroPoint: q.ZeroPoint}
}
