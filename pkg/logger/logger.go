// Package logger is the zerolog wrapper shared by every binary. Fields ride
// on the context so handlers, services and jobs log with the same request,
// order and trace identifiers without threading a logger through each call.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/storefront/pkg/env"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	WarnStack   bool
	Output      io.Writer
	// Format is json or console. Empty reads LOG_FORMAT.
	Format string
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = env.Get("LOG_FORMAT", FormatJSON)
	}
	if strings.EqualFold(format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(out).
		Level(opts.Level).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()

	return &Logger{base: base, warnStack: opts.WarnStack}
}

// Discard drops every entry.
func Discard() *Logger {
	return New(Options{ServiceName: "discard", Output: io.Discard, Level: zerolog.Disabled, Format: FormatJSON})
}

// ParseLevel falls back to info for blank or unknown values.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return entry
		}
	}
	return l.base
}

func (l *Logger) with(ctx context.Context, build func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, build(l.from(ctx).With()).Logger())
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.WithField(ctx, "user_id", userID)
}

// WithOrderRef tags entries with the payment provider's session id.
func (l *Logger) WithOrderRef(ctx context.Context, paymentRef string) context.Context {
	return l.WithField(ctx, "payment_ref", paymentRef)
}

func (l *Logger) WithProductID(ctx context.Context, productID string) context.Context {
	return l.WithField(ctx, "product_id", productID)
}

// event starts an entry and stamps the active span, if any, so log lines can
// be joined to traces.
func (l *Logger) event(ctx context.Context, level zerolog.Level) *zerolog.Event {
	entry := l.from(ctx)
	ev := entry.WithLevel(level)
	if ctx == nil {
		return ev
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ev = ev.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	return ev
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.event(ctx, zerolog.DebugLevel).Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.event(ctx, zerolog.InfoLevel).Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.event(ctx, zerolog.WarnLevel)
	if l.warnStack {
		ev = ev.Str("stack", stack())
	}
	ev.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.event(ctx, zerolog.ErrorLevel).Err(err).Str("stack", stack()).Msg(msg)
}

// Leveled adapts the logger to printf-style clients such as the Stripe SDK.
func (l *Logger) Leveled(ctx context.Context) *Leveled {
	return &Leveled{logg: l, ctx: ctx}
}

type Leveled struct {
	logg *Logger
	ctx  context.Context
}

func (p *Leveled) Debugf(format string, v ...any) { p.logg.Debug(p.ctx, fmt.Sprintf(format, v...)) }
func (p *Leveled) Infof(format string, v ...any)  { p.logg.Info(p.ctx, fmt.Sprintf(format, v...)) }
func (p *Leveled) Warnf(format string, v ...any)  { p.logg.Warn(p.ctx, fmt.Sprintf(format, v...)) }
func (p *Leveled) Errorf(format string, v ...any) {
	p.logg.Error(p.ctx, fmt.Sprintf(format, v...), nil)
}

// Printf satisfies writers that carry no level, such as GORM's; those only
// report slow queries and errors, so entries land at warn.
func (p *Leveled) Printf(format string, v ...any) { p.Warnf(format, v...) }

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
