package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deskchat/deskchat/utils/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const instrumentationName = "deskchat"

// InitTelemetry installs tracer and meter providers that export to rotating
// files under logDir. The returned func flushes and shuts both down.
func InitTelemetry(ctx context.Context, logDir string) (func(), error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(instrumentationName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	traceFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "traces.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricsFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "metrics.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second)),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logging.ErrorLogger.Error("failed to shutdown tracer provider", zap.Error(err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			logging.ErrorLogger.Error("failed to shutdown meter provider", zap.Error(err))
		}
		_ = traceFile.Close()
		_ = metricsFile.Close()
	}
	return cleanup, nil
}

// Metrics holds the server's counters. Instruments come from the global
// meter provider, which is a no-op unless InitTelemetry ran.
type Metrics struct {
	tracer       trace.Tracer
	chatsCreated metric.Int64Counter
	claims       metric.Int64Counter
	messages     metric.Int64Counter
	chatsClosed  metric.Int64Counter
	liveConns    metric.Int64UpDownCounter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{tracer: otel.Tracer(instrumentationName)}
	var err error
	if m.chatsCreated, err = meter.Int64Counter("deskchat.chats.created",
		metric.WithDescription("Chats opened by customers")); err != nil {
		return nil, err
	}
	if m.claims, err = meter.Int64Counter("deskchat.chats.claims",
		metric.WithDescription("Claim attempts by outcome")); err != nil {
		return nil, err
	}
	if m.messages, err = meter.Int64Counter("deskchat.messages.sent",
		metric.WithDescription("Messages persisted and broadcast")); err != nil {
		return nil, err
	}
	if m.chatsClosed, err = meter.Int64Counter("deskchat.chats.closed"); err != nil {
		return nil, err
	}
	if m.liveConns, err = meter.Int64UpDownCounter("deskchat.live.connections",
		metric.WithDescription("Open live channel connections")); err != nil {
		return nil, err
	}
	return m, nil
}

// Start opens a span; callers end it with the returned func.
func (m *Metrics) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if m == nil {
		return ctx, func(error) {}
	}
	ctx, span := m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (m *Metrics) ChatCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.chatsCreated.Add(ctx, 1)
}

func (m *Metrics) Claim(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) MessageSent(ctx context.Context, senderType string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("sender_type", senderType)))
}

func (m *Metrics) ChatClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.chatsClosed.Add(ctx, 1)
}

func (m *Metrics) LiveConnection(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.liveConns.Add(ctx, delta)
}
