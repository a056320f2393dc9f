// Command authgate-server is a small web app protected by the authgate
// route guard, with a JSON API over the authentication facade.
//
// Configuration comes from the environment (and a .env file when present):
//
//	AUTHGATE_BACKEND_URL / SUPABASE_URL        remote backend base URL
//	AUTHGATE_ANON_KEY    / SUPABASE_ANON_KEY   remote backend public key
//	AUTHGATE_LISTEN_ADDR                       default :8080
//	AUTHGATE_LOG_LEVEL, AUTHGATE_LOG_FORMAT    logrus level, text|json
//
// Without a backend URL and key every account lives in process memory.
//
// Run:
//
//	go run ./cmd/authgate-server -config authgate.yaml
//
// Then:
//
//	curl -i -c jar.txt -X POST localhost:8080/api/auth/signup \
//	  -H 'Content-Type: application/json' \
//	  -d '{"email":"alice@example.com","password":"correct-horse"}'
//
//	curl -i -b jar.txt localhost:8080/
//	curl -s localhost:8080/api/auth/status
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authgate"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file; the environment overrides it")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	logger := newLogger(cfg.Log)

	for _, w := range cfg.Lint() {
		logger.WithField("code", w.Code).Warn(w.Message)
	}

	facade, err := authgate.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithAuditSink(authgate.NewJSONWriterSink(os.Stderr)).
		Build()
	if err != nil {
		logger.WithError(err).Fatal("failed to build auth facade")
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           newHandler(facade, cfg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server failed")
		}
	}()
	logger.WithField("addr", cfg.Server.ListenAddr).Info("authgate-server started")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	facade.Close()
	logger.Info("authgate-server stopped cleanly")
}

func loadConfig(path string) (authgate.Config, error) {
	if path == "" {
		return authgate.LoadConfigFromEnv()
	}
	return authgate.LoadConfigFile(path)
}

func newLogger(cfg authgate.LogConfig) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	if cfg.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
		logger.WithField("level", cfg.Level).Warn("unknown log level, using info")
	}
	logger.SetLevel(level)
	return logger
}
