package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/plutolabs/pluto-backend/internal/platform/envutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

const meterName = "pluto-backend"

type Metrics struct {
	llmRequests    metric.Int64Counter
	llmLatency     metric.Float64Histogram
	searchLatency  metric.Float64Histogram
	queryOutcomes  metric.Int64Counter
	ingestedChunks metric.Int64Counter
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

// Init wires the process-global metrics instance. Without a configured OTel
// SDK the meter is a no-op, so calling sites never need to branch.
func Init(log *logger.Logger) {
	initOnce.Do(func() {
		if !Enabled() {
			return
		}
		meter := otel.Meter(meterName)
		m := &Metrics{}
		var err error
		if m.llmRequests, err = meter.Int64Counter(
			"llm_requests_total",
			metric.WithDescription("LLM generate calls by model and outcome"),
		); err != nil {
			log.Warn("metric init failed", "metric", "llm_requests_total", "error", err)
			return
		}
		if m.llmLatency, err = meter.Float64Histogram(
			"llm_request_seconds",
			metric.WithDescription("LLM generate latency"),
		); err != nil {
			log.Warn("metric init failed", "metric", "llm_request_seconds", "error", err)
			return
		}
		if m.searchLatency, err = meter.Float64Histogram(
			"vector_search_seconds",
			metric.WithDescription("Merged vector search latency"),
		); err != nil {
			log.Warn("metric init failed", "metric", "vector_search_seconds", "error", err)
			return
		}
		if m.queryOutcomes, err = meter.Int64Counter(
			"query_outcomes_total",
			metric.WithDescription("Pipeline outcomes by status and refusal reason"),
		); err != nil {
			log.Warn("metric init failed", "metric", "query_outcomes_total", "error", err)
			return
		}
		if m.ingestedChunks, err = meter.Int64Counter(
			"ingested_chunks_total",
			metric.WithDescription("Indexed chunks by modality"),
		); err != nil {
			log.Warn("metric init failed", "metric", "ingested_chunks_total", "error", err)
			return
		}
		instance = m
		log.Info("observability metrics initialized", "meter", meterName)
	})
}

func (m *Metrics) ObserveLLMRequest(ctx context.Context, model, operation string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, took.Seconds(), attrs)
}

func (m *Metrics) ObserveSearch(ctx context.Context, spaces []string, took time.Duration) {
	if m == nil {
		return
	}
	m.searchLatency.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("spaces", strings.Join(spaces, ",")),
	))
}

func (m *Metrics) ObserveQueryOutcome(ctx context.Context, status, reason string) {
	if m == nil {
		return
	}
	m.queryOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) ObserveIngestedChunks(ctx context.Context, modality string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestedChunks.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("modality", modality),
	))
}
