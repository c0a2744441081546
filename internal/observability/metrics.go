// Package observability provides OpenTelemetry instrumentation for tracing
// and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics endpoint
// and a shutdown function for graceful cleanup on exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// RegisterQueueDepthGauge exposes the number of claimable jobs as an async
// gauge that only queries the database when scraped.
func RegisterQueueDepthGauge(meterName string, depth func(context.Context) (int64, error)) error {
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableGauge("grailsync.queue.depth",
		metric.WithDescription("Number of claimable jobs across all queues"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := depth(ctx)
			if err != nil {
				// don't fail the scrape on a transient DB error
				return nil
			}
			obs.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register queue depth gauge: %w", err)
	}
	return nil
}

// ServeMetrics runs a dedicated metrics server. Blocks; run in a goroutine.
func ServeMetrics(port int, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
