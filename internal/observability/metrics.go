// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the run and LLM collectors. All methods are safe on a nil
// receiver so callers never need to guard against metrics being disabled.
type Metrics struct {
	registry *prometheus.Registry

	phaseTransitions *prometheus.CounterVec
	stateExecutions  *prometheus.CounterVec
	syntheses        *prometheus.CounterVec
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	subAgentSteps    prometheus.Histogram

	llmRequests *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		phaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Control loop phase entries by phase.",
		}, []string{"phase"}),
		stateExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_executions_total",
			Help:      "State executions by state name and outcome.",
		}, []string{"state", "outcome"}),
		syntheses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_total",
			Help:      "State synthesis attempts by outcome.",
		}, []string{"outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by result code.",
		}, []string{"result"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of complete runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		subAgentSteps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subagent_steps",
			Help:      "Steps taken per action-generation session.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests by model and status.",
		}, []string{"model", "status"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PhaseEntered(phase string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(phase).Inc()
}

func (m *Metrics) StateExecuted(state string, err error) {
	if m == nil {
		return
	}
	m.stateExecutions.WithLabelValues(state, outcome(err)).Inc()
}

func (m *Metrics) SynthesisFinished(err error) {
	if m == nil {
		return
	}
	m.syntheses.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) SubAgentFinished(steps int) {
	if m == nil {
		return
	}
	m.subAgentSteps.Observe(float64(steps))
}

// RunFinished records a terminal outcome; result is "success" or an error code.
func (m *Metrics) RunFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

// LLMRequest records one provider call.
func (m *Metrics) LLMRequest(model string, d time.Duration, promptTokens, outputTokens int32, err error) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(model, outcome(err)).Inc()
	m.llmDuration.WithLabelValues(model).Observe(d.Seconds())
	if promptTokens > 0 {
		m.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// NewMetricsHandler routes /metrics and /healthz.
func NewMetricsHandler(m *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// MetricsServer serves the metrics handler until its context ends.
type MetricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewMetricsServer(addr string, m *Metrics, logger *zap.Logger) *MetricsServer {
	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewMetricsHandler(m),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("metrics"),
	}
}

// Run blocks serving requests and shuts down gracefully when ctx is done.
func (s *MetricsServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics endpoint listening.", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
