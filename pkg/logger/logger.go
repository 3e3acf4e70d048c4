package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"
)

const serviceName = "autoservice-payments"

var defaultLogger *slog.Logger

type Options struct {
	Env     string
	Level   string
	Format  string
	LokiURL string
}

func Init(env string) {
	InitWithOptions(Options{Env: env})
}

// InitWithOptions picks a Loki handler when LokiURL is set, JSON in production
// and text otherwise.
func InitWithOptions(opts Options) {
	level := parseLevel(opts.Level, opts.Env)

	var handler slog.Handler
	switch {
	case opts.LokiURL != "":
		handler = lokiHandler(opts.LokiURL, level)
	case opts.Format == "json" || (opts.Format == "" && opts.Env == "production"):
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	defaultLogger = slog.New(handler).With("service", serviceName)
	slog.SetDefault(defaultLogger)
}

func LoggerWrapper() *slog.Logger {
	if defaultLogger == nil {
		// lazy initialize a development logger to avoid nil pointer panics
		Init("development")
	}
	return defaultLogger
}

func lokiHandler(url string, level slog.Level) slog.Handler {
	cfg, err := loki.NewDefaultConfig(url)
	if err != nil {
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	client, err := loki.New(cfg)
	if err != nil {
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slogloki.Option{
		Level:  level,
		Client: client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{
			attrsFromContext,
		},
	}.NewLokiHandler()
}

func parseLevel(level, env string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if env == "production" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
