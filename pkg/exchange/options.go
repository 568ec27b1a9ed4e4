package exchange

import (
	"github.com/rs/zerolog"

	"blinktrade/pkg/core"
)

type Option func(*Options)

type Options struct {
	Logger zerolog.Logger
	// NextID overrides the request id generator, mainly for tests.
	NextID func() int64
}

// WithLogger sets the logger used by the transport. Its level is narrowed by
// Config.LogLevel.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(next func() int64) Option {
	return func(o *Options) {
		o.NextID = next
	}
}

func ApplyOptions(opts ...Option) *Options {
	o := &Options{Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ConfiguredLogger returns logger tagged with the exchange name and
// restricted to the level named in cfg. An empty or unknown level keeps the
// logger's own level.
func ConfiguredLogger(cfg *core.Config, logger zerolog.Logger) zerolog.Logger {
	logger = logger.With().Str("exchange", core.ExchangeName).Logger()
	if cfg.LogLevel == "" {
		return logger
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return logger
	}
	return logger.Level(level)
}
