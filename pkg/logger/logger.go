// Package logger wraps zerolog with context-carried fields for the payout
// services.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/packfinderz-payouts/pkg/env"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures the structured logger. An empty Format falls back to
// LOG_FORMAT.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	Format      string
	WarnStack   bool
	Output      io.Writer
}

type Logger struct {
	base      *zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	if resolveFormat(opts.Format) == FormatConsole {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
			NoColor:    env.GetBool("LOG_NO_COLOR", false),
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(output).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger().
		Level(opts.Level)

	return &Logger{base: &base, warnStack: opts.WarnStack}
}

func resolveFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = strings.ToLower(env.Get("LOG_FORMAT", FormatJSON))
	}
	if f == FormatConsole {
		return FormatConsole
	}
	return FormatJSON
}

func ParseLevel(value string) zerolog.Level {
	levelString := strings.ToLower(strings.TrimSpace(value))
	if levelString == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(levelString); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}

func (l *Logger) fromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return entry
		}
	}
	return l.base
}

func (l *Logger) attach(ctx context.Context, entry zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, &entry)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.attach(ctx, l.fromContext(ctx).With().Interface(key, value).Logger())
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	builder := l.fromContext(ctx).With()
	for k, v := range fields {
		builder = builder.Interface(k, v)
	}
	return l.attach(ctx, builder.Logger())
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithActorID(ctx context.Context, actorID string) context.Context {
	return l.WithField(ctx, "actor_id", actorID)
}

func (l *Logger) WithSellerID(ctx context.Context, sellerID string) context.Context {
	return l.WithField(ctx, "seller_id", sellerID)
}

func (l *Logger) WithBatchID(ctx context.Context, batchID string) context.Context {
	return l.WithField(ctx, "batch_id", batchID)
}

func (l *Logger) WithOrderID(ctx context.Context, orderID string) context.Context {
	return l.WithField(ctx, "order_id", orderID)
}

// WithCurrency tags entries with the upper-cased ISO code.
func (l *Logger) WithCurrency(ctx context.Context, currency string) context.Context {
	return l.WithField(ctx, "currency", strings.ToUpper(strings.TrimSpace(currency)))
}

func (l *Logger) WithRefund(ctx context.Context, orderID, refundID string) context.Context {
	return l.WithFields(ctx, map[string]any{"order_id": orderID, "refund_id": refundID})
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.fromContext(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.fromContext(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.fromContext(ctx).Warn()
	if l.warnStack {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error always carries a stack. Typed errors add their code and whether a
// retry could succeed.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	event := l.fromContext(ctx).Error()
	if err != nil {
		event = event.Err(err)
		if typed := pkgerrors.As(err); typed != nil {
			event = event.
				Str("error_code", string(typed.Code())).
				Bool("retryable", pkgerrors.IsRetryable(err))
		}
	}
	event.Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
