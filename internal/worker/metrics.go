package worker

import (
	"context"
	"net/http"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	outputsTotal     *prometheus.CounterVec
	bytesSavedTotal  prometheus.Counter
	strategyTotal    *prometheus.CounterVec
	strategyDuration *prometheus.HistogramVec
	selectionsTotal  *prometheus.CounterVec
	webhookFailures  *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpress_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelpress_worker_active_jobs",
			Help: "Current number of active compression jobs in the worker.",
		}),
		outputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_worker_outputs_total",
			Help: "Pipeline step outputs by result (compressed, passthrough, failed).",
		}, []string{"result"}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpress_worker_bytes_saved_total",
			Help: "Bytes saved across all emitted outputs.",
		}),
		strategyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_compress_strategy_attempts_total",
			Help: "Strategy attempts by strategy, encoder path and outcome.",
		}, []string{"strategy", "path", "outcome"}),
		strategyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpress_compress_strategy_duration_seconds",
			Help:    "Duration of a single strategy attempt.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"strategy"}),
		selectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_compress_selections_total",
			Help: "Winning strategy per compression, passthrough when nothing improved.",
		}, []string{"strategy", "format"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputsTotal,
		m.bytesSavedTotal,
		m.strategyTotal,
		m.strategyDuration,
		m.selectionsTotal,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) StrategyFinished(_ context.Context, ev compress.StrategyEvent) {
	outcome, path := "ok", ev.Path
	if ev.Err != nil {
		outcome, path = "failed", "none"
	}
	m.strategyTotal.WithLabelValues(ev.Strategy, path, outcome).Inc()
	m.strategyDuration.WithLabelValues(ev.Strategy).Observe(ev.Duration.Seconds())
}

func (m *metrics) SelectionFinished(_ context.Context, ev compress.SelectionEvent) {
	m.selectionsTotal.WithLabelValues(ev.Strategy, string(ev.Format)).Inc()
}

func (m *metrics) observeOutputs(outputs []domain.StepOutput) {
	for _, o := range outputs {
		switch {
		case !o.Success:
			m.outputsTotal.WithLabelValues("failed").Inc()
		case o.PassThrough:
			m.outputsTotal.WithLabelValues("passthrough").Inc()
		default:
			m.outputsTotal.WithLabelValues("compressed").Inc()
			if saved := o.OriginalBytes - o.Bytes; saved > 0 {
				m.bytesSavedTotal.Add(float64(saved))
			}
		}
	}
}
