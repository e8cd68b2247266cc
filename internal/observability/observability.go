// Package observability sets up structured logging and trace-context
// propagation for the process.
//
// Logs are written by log/slog. Depending on the exporter they go to a local
// text/json handler on stderr or through an OpenTelemetry log pipeline
// (stdout, OTLP/HTTP or OTLP/gRPC). OTLP endpoints are read from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Exporter selects where logs go.
type Exporter string

const (
	// ExporterNone logs locally through a slog text or json handler.
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
)

// ServiceName identifies this process in exported telemetry.
const ServiceName = "budgetflow"

// Options configures Instrument.
type Options struct {
	Level    slog.Level
	Format   string // text or json, for ExporterNone
	Exporter Exporter
	Version  string

	// Writer receives local and stdout-exported logs. Defaults to os.Stderr.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the telemetry pipeline.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger and the global W3C trace-context
// propagator. The returned ShutdownFunc must be called before exiting.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	switch opts.Exporter {
	case "", ExporterNone:
		slog.SetDefault(slog.New(localHandler(opts)))
		return func(context.Context) error { return nil }, nil
	case ExporterStdout, ExporterOTLPHTTP, ExporterOTLPGRPC:
	default:
		return nil, fmt.Errorf("unsupported telemetry exporter: %s", opts.Exporter)
	}

	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", opts.Exporter, err)
	}

	var processor sdklog.Processor
	if opts.Exporter == ExporterStdout {
		processor = sdklog.NewSimpleProcessor(exporter)
	} else {
		processor = sdklog.NewBatchProcessor(exporter)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", opts.Version),
	)

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(opts.Level))),
	)
	global.SetLoggerProvider(provider)

	slog.SetDefault(slog.New(otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider))))

	return func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}, nil
}

func localHandler(opts Options) slog.Handler {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if opts.Format == "json" {
		return slog.NewJSONHandler(opts.Writer, handlerOpts)
	}
	return slog.NewTextHandler(opts.Writer, handlerOpts)
}

func newExporter(ctx context.Context, opts Options) (sdklog.Exporter, error) {
	switch opts.Exporter {
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(opts.Writer))
	case ExporterOTLPHTTP:
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported telemetry exporter: %s", opts.Exporter)
	}
}

// severity maps a slog level to the OpenTelemetry severity floor.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
