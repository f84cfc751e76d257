package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Instruments bundles the logger and OpenTelemetry providers of one process.
type Instruments struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Settings controls process telemetry.
type Settings struct {
	ServiceName  string
	Environment  string
	LogLevel     slog.Level
	LogJSON      bool
	TraceExport  string // otlp, stdout or none
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// SettingsFromEnv reads LOG_LEVEL, LOG_FORMAT, ENVIRONMENT, OTEL_TRACES_EXPORTER,
// OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE and SYNC_TRACE_RATIO.
func SettingsFromEnv(serviceName string) Settings {
	s := Settings{
		ServiceName:  serviceName,
		Environment:  envOrDefault("ENVIRONMENT", "local"),
		LogLevel:     logLevel(os.Getenv("LOG_LEVEL")),
		LogJSON:      !strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "text"),
		TraceExport:  strings.ToLower(envOrDefault("OTEL_TRACES_EXPORTER", "otlp")),
		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "0",
		SampleRatio:  1,
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_TRACE_RATIO")); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil && ratio >= 0 && ratio <= 1 {
			s.SampleRatio = ratio
		}
	}
	return s
}

// Init configures the process logger and telemetry from the environment.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	return InitWith(ctx, SettingsFromEnv(serviceName), os.Stdout)
}

// InitWith installs slog and the global OpenTelemetry providers. The returned
// function flushes pending spans and must run on exit.
func InitWith(ctx context.Context, s Settings, logOut io.Writer) (*Instruments, func(context.Context) error, error) {
	logger := NewLogger(logOut, s).With(slog.String("service", s.ServiceName))
	slog.SetDefault(logger)

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			attribute.String("service.name", s.ServiceName),
			attribute.String("service.namespace", "mfgsync"),
			attribute.String("deployment.environment", s.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var closers []func(context.Context) error
	var tracerProvider trace.TracerProvider = otel.GetTracerProvider()
	exporter, err := spanExporter(ctx, s, logger)
	if err != nil {
		return nil, nil, err
	}
	if exporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(tp)
		tracerProvider = tp
		closers = append(closers, tp.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewManualReader()),
	)
	otel.SetMeterProvider(mp)
	closers = append(closers, mp.Shutdown)

	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	return &Instruments{Logger: logger, TracerProvider: tracerProvider, MeterProvider: mp}, shutdown, nil
}

// NewLogger builds the slog logger described by s.
func NewLogger(w io.Writer, s Settings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: s.LogLevel, AddSource: s.LogLevel <= slog.LevelDebug}
	if s.LogJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Tracer returns a named tracer, falling back to the global provider.
func (i *Instruments) Tracer(name string) trace.Tracer {
	if i == nil || i.TracerProvider == nil {
		return otel.Tracer(name)
	}
	return i.TracerProvider.Tracer(name)
}

// Meter returns a named meter, or a noop meter when none is configured.
func (i *Instruments) Meter(name string) metric.Meter {
	if i == nil || i.MeterProvider == nil {
		return metricnoop.NewMeterProvider().Meter(name)
	}
	return i.MeterProvider.Meter(name)
}

// logLevel parses LOG_LEVEL (debug, info, warn, error); anything else is info.
func logLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// spanExporter returns nil when tracing export is disabled.
func spanExporter(ctx context.Context, s Settings, logger *slog.Logger) (sdktrace.SpanExporter, error) {
	switch s.TraceExport {
	case "none":
		return nil, nil
	case "stdout", "console":
		return stdouttrace.New()
	}
	var opts []otlptracehttp.Option
	if s.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(s.OTLPEndpoint))
	}
	if s.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err == nil {
		return exporter, nil
	}
	logger.Warn("otlp trace exporter unavailable, using stdout", slog.String("error", err.Error()))
	return stdouttrace.New()
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
