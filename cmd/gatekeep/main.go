// cmd/gatekeep/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FairForge/gatekeep/internal/config"
	"github.com/FairForge/gatekeep/internal/gateway"
	"github.com/FairForge/gatekeep/internal/pipeline"
	"github.com/FairForge/gatekeep/internal/telemetry"
	"github.com/FairForge/gatekeep/internal/validators"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading configuration", zap.Error(err))
	}

	regs, err := buildRegistrations(cfg)
	if err != nil {
		logger.Fatal("building validators", zap.Error(err))
	}

	collector := telemetry.NewCollector()
	emitter := telemetry.NewZapEmitter(logger.Named("events"))

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithObserver(collector.ObserveSample),
		pipeline.WithObserver(telemetry.Observer(emitter)),
	}
	for name, score := range cfg.BaseScores {
		opts = append(opts, pipeline.WithBaseScore(name, score))
	}

	p, err := pipeline.New(cfg.Pipeline, regs, opts...)
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}
	defer p.Close()

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.Stats())
	})

	validated := chi.NewRouter()
	validated.Use(gateway.Middleware(p, collector, logger.Named("gateway")))
	validated.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("validated"))
	})
	router.Mount("/", validated)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("gatekeep listening",
		zap.Int("port", cfg.Server.Port),
		zap.Int("validators", len(regs)))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// buildRegistrations assembles the enabled stock validators.
func buildRegistrations(cfg *config.Config) ([]pipeline.Registration, error) {
	var regs []pipeline.Registration

	v := cfg.Validators
	if v.SizeLimit.Enabled {
		regs = append(regs, pipeline.Registration{
			Validator: validators.NewSizeLimit(v.SizeLimit.MaxBytes, v.SizeLimit.Priority),
			Tags:      []string{"size"},
		})
	}
	if v.RateLimit.Enabled {
		regs = append(regs, pipeline.Registration{
			Validator: validators.NewRateLimit(v.RateLimit.PerSecond, v.RateLimit.Burst, v.RateLimit.Priority),
			Tags:      []string{"throttle"},
		})
	}
	if v.Schema.Enabled {
		schema, err := validators.NewSchema(v.Schema.Document, v.Schema.Version, v.Schema.Priority)
		if err != nil {
			return nil, err
		}
		regs = append(regs, pipeline.Registration{
			Validator: schema,
			Tags:      []string{"structure"},
		})
	}
	if v.Auth.Enabled {
		regs = append(regs, pipeline.Registration{
			Validator: validators.NewAuth([]byte(v.Auth.Secret), v.Auth.RequiredScope, v.Auth.Priority),
			Tags:      []string{"identity"},
		})
	}
	if v.Sanitize.Enabled {
		sanitize, err := validators.NewSanitize(v.Sanitize.Patterns, v.Sanitize.Priority)
		if err != nil {
			return nil, err
		}
		regs = append(regs, pipeline.Registration{
			Validator: sanitize,
			Tags:      []string{"content"},
		})
	}

	return regs, nil
}
