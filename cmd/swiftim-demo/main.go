// Command swiftim-demo drives one Session against a server: load
// config, log in, log incoming events, shut down
// cleanly on SIGINT/SIGTERM. Grounded on the teacher's main.go
// (src/main.go): automaxprocs + flag parsing + signal channel +
// timed graceful shutdown, adapted from starting a server to driving
// one client session.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/swiftim-go/core/internal/config"
	"github.com/swiftim-go/core/internal/logging"
	"github.com/swiftim-go/core/internal/metricsexport"
	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/observer"
	"github.com/swiftim-go/core/internal/session"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides SWIFTIM_LOG_LEVEL)")
	flag.Parse()

	bootLog := log.New(os.Stdout, "[swiftim] ", log.LstdFlags)

	// automaxprocs sets GOMAXPROCS from the container's CPU limit.
	// WorkerPool's default size (2*runtime.NumCPU()) does not follow it.
	bootLog.Printf("GOMAXPROCS: %d (via automaxprocs)", runtime.GOMAXPROCS(0))

	cfg, err := config.Load(nil)
	if err != nil {
		bootLog.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{
		Level:     logging.Level(cfg.LogLevel),
		Format:    logging.Format(cfg.LogFormat),
		Component: "swiftim-demo",
	})
	cfg.Log(logger)

	metrics := metricsexport.New()
	metricsSrv := metricsexport.NewServer(cfg.MetricsAddr, metrics)
	metricsErrCh := metricsSrv.Start()
	go func() {
		if err := <-metricsErrCh; err != nil {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sess, err := session.New(cfg.ServerAddr, cfg.StorePath, session.Options{
		Logger:                logger,
		HeartbeatInterval:     cfg.HeartbeatInterval,
		HeartbeatTimeout:      cfg.HeartbeatTimeout,
		ReconnectBase:         cfg.ReconnectBase,
		ReconnectMaxAttempts:  cfg.ReconnectMaxAttempts,
		QueueMaxRetry:         cfg.QueueMaxRetry,
		QueueAckTimeout:       cfg.QueueAckTimeout,
		QueueCheckInterval:    cfg.QueueCheckInterval,
		SyncBatchSize:         cfg.SyncBatchSize,
		TypingSendInterval:    cfg.TypingSendInterval,
		TypingStopDelay:       cfg.TypingStopDelay,
		TypingRecvTimeout:     cfg.TypingRecvTimeout,
		MaxSendRate:           cfg.MaxSendRate,
		MaxReconnectRate:      cfg.MaxReconnectRate,
		Metrics:               metrics,
		WorkerPoolSize:        cfg.WorkerPoolSize,
		DeviceMonitorInterval: cfg.DeviceMonitorInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct session")
	}

	var logListener observer.Listener = eventLogger{logger: logger}
	sess.Observer().Register("demo-logger", &logListener)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Login(ctx, cfg.UserID, cfg.Token); err != nil {
		logger.Fatal().Err(err).Msg("login failed")
	}
	logger.Info().Str("user_id", cfg.UserID).Msg("logged in")

	<-sigCh
	logger.Info().Msg("shutting down")

	sess.Logout()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown error")
	}
}

// eventLogger is the demo's observer.Listener: it just logs whatever
// the SDK dispatches, standing in for a real host app's UI layer.
type eventLogger struct {
	logger zerolog.Logger
}

func (l eventLogger) OnEvent(ev model.Event) {
	l.logger.Info().Int("kind", int(ev.Kind)).Msg("event received")
}
