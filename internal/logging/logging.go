// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/dkeye/Boardly/internal/config"
	"github.com/rollbar/rollbar-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup points log.Logger at out: a console writer in debug mode, JSON
// otherwise.
func Setup(mode, level string, out io.Writer) error {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(lvl)

	if mode == "debug" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// reporter is the part of *rollbar.Client the hook needs.
type reporter interface {
	Error(interfaces ...interface{})
	Critical(interfaces ...interface{})
}

// RollbarHook forwards error, fatal and panic events to Rollbar.
type RollbarHook struct {
	r reporter
}

func (h RollbarHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.ErrorLevel:
		h.r.Error(msg)
	case zerolog.FatalLevel, zerolog.PanicLevel:
		h.r.Critical(msg)
	}
}

// AttachRollbar hooks a Rollbar client into log.Logger. It returns nil when
// no token is configured; otherwise the caller waits on the client before exit.
func AttachRollbar(cfg config.RollbarConfig) *rollbar.Client {
	if cfg.Token == "" {
		return nil
	}
	host, _ := os.Hostname()
	client := rollbar.NewAsync(cfg.Token, cfg.Environment, "", host, "")
	log.Logger = log.Logger.Hook(RollbarHook{r: client})
	log.Info().Str("module", "logging").Str("environment", cfg.Environment).Msg("rollbar reporting enabled")
	return client
}
