package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dkeye/Boardly/internal/adapters/deepgram"
	"github.com/dkeye/Boardly/internal/adapters/events"
	router "github.com/dkeye/Boardly/internal/adapters/http"
	"github.com/dkeye/Boardly/internal/adapters/roomstore"
	"github.com/dkeye/Boardly/internal/adapters/rtc"
	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/app/orch"
	"github.com/dkeye/Boardly/internal/config"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/logging"
	"github.com/dkeye/Boardly/internal/metrics"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "boardly",
		Short:        "Real-time session and signaling coordinator for Boardly classrooms",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cmd.Flags())
		},
	}
	f := cmd.Flags()
	f.String("config-env", "", "config environment, selects config/config.<env>.yaml (default $CONFIG_ENV or dev)")
	f.Int("port", 8080, "HTTP listen port")
	f.String("log-level", "info", "log level: trace, debug, info, warn, error")
	f.String("mode", "release", "gin mode: debug, release or test")
	return cmd
}

func orchConfig(cfg *config.Config) orch.Config {
	oc := orch.DefaultConfig()
	oc.SessionTimeout = cfg.Session.Timeout
	oc.SweepInterval = cfg.Session.SweepInterval
	oc.EvictionGrace = cfg.Session.EvictionGrace
	oc.BroadcastGrace = cfg.Broadcast.Grace
	oc.StatusDelay = cfg.Broadcast.StatusDelay
	if cfg.Store.Timeout > 0 {
		oc.LookupTimeout = cfg.Store.Timeout
	}
	oc.ICEServers = rtc.ICEServers(cfg.ICEServers)
	if cfg.Deepgram.Model != "" {
		oc.Transcription.Model = cfg.Deepgram.Model
	}
	if cfg.Deepgram.Language != "" {
		oc.Transcription.Language = cfg.Deepgram.Language
	}
	return oc
}

func run(ctx context.Context, flags *pflag.FlagSet) error {
	// Console logger until the config says otherwise.
	_ = logging.Setup("debug", "info", os.Stderr)

	cfg, err := config.Load(flags)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	if err := logging.Setup(cfg.Mode, cfg.Log.Level, os.Stderr); err != nil {
		return err
	}
	if rb := logging.AttachRollbar(cfg.Rollbar); rb != nil {
		defer rb.Wait()
	}

	store, err := roomstore.Open(ctx, cfg.Store)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open room store")
		return err
	}
	defer store.Close()

	var publisher core.EventPublisher = core.NopPublisher{}
	if cfg.AMQP.URL != "" {
		p, err := events.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to RabbitMQ")
			return err
		}
		defer p.Close()
		publisher = p
	}

	deps := orch.Deps{
		Rooms:   store,
		Events:  publisher,
		Limiter: app.NewRoomRateLimiter(cfg.JoinRate.Limit, cfg.JoinRate.Interval),
	}
	if cfg.Deepgram.APIKey != "" {
		deps.Transcriber = deepgram.New(deepgram.Options{
			APIKey:    cfg.Deepgram.APIKey,
			URL:       cfg.Deepgram.URL,
			KeepAlive: cfg.Deepgram.KeepAlive,
		})
	} else {
		log.Warn().Str("module", "main").Msg("deepgram.api_key not set, transcription disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = metrics.New(reg)

	o := orch.New(orchConfig(cfg), deps)
	defer o.Close()
	go o.RunReaper(ctx)

	r := router.SetupRouter(ctx, cfg, o, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Boardly server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
		return err
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
