package logger

import (
	"context"
	"log/slog"
)

type ctxKey string

const (
	loggerKey ctxKey = "logger"
	attrsKey  ctxKey = "logger_attrs"
)

// With returns a new context that includes a logger with fields.
func With(ctx context.Context, fields ...any) context.Context {
	l := From(ctx).With(fields...)
	ctx = context.WithValue(ctx, attrsKey, append(attrsFrom(ctx), argsToAttrs(fields)...))
	return context.WithValue(ctx, loggerKey, l)
}

// From returns the logger stored in context, or default if missing.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return LoggerWrapper()
}

func attrsFrom(ctx context.Context) []slog.Attr {
	if attrs, ok := ctx.Value(attrsKey).([]slog.Attr); ok {
		return append([]slog.Attr(nil), attrs...)
	}
	return nil
}

// attrsFromContext feeds context fields to handlers that read attributes from
// the record context rather than the logger, such as Loki.
func attrsFromContext(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	return attrsFrom(ctx)
}

func argsToAttrs(args []any) []slog.Attr {
	var attrs []slog.Attr
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case slog.Attr:
			attrs = append(attrs, v)
		case string:
			if i+1 >= len(args) {
				attrs = append(attrs, slog.Any("!BADKEY", v))
				continue
			}
			attrs = append(attrs, slog.Any(v, args[i+1]))
			i++
		default:
			attrs = append(attrs, slog.Any("!BADKEY", v))
		}
	}
	return attrs
}
