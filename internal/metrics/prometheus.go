package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Evaluator metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	firedTotal      prometheus.Counter
	tickDuration    prometheus.Histogram
	tickDrift       prometheus.Histogram

	// Monitor metrics
	pollsTotal        *prometheus.CounterVec
	pollDuration      prometheus.Histogram
	thresholdTripped  prometheus.Counter
	stateChangesTotal *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	transitionResults *prometheus.CounterVec
	transitionLatency prometheus.Histogram

	// Runner metrics
	executionsTotal    *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	hooksTotal         *prometheus.CounterVec
	hookDuration       prometheus.Histogram
	executionsInFlight prometheus.Gauge

	// Trigger bus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register become no-ops for that series only.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEvaluatorMetrics(reg)
	s.initMonitorMetrics(reg)
	s.initRunnerMetrics(reg)
	s.initBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initEvaluatorMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studiod_evaluator_ticks_total",
		Help: "Total number of evaluator ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studiod_evaluator_tick_errors_total",
		Help: "Total number of evaluator tick errors.",
	})
	s.firedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studiod_evaluator_triggers_fired_total",
		Help: "Total number of triggers fired.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiod_evaluator_tick_duration_seconds",
		Help:    "Duration of each evaluator tick in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiod_evaluator_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "studiod_evaluator_ticks_total")
	s.register(reg, s.tickErrorsTotal, "studiod_evaluator_tick_errors_total")
	s.register(reg, s.firedTotal, "studiod_evaluator_triggers_fired_total")
	s.register(reg, s.tickDuration, "studiod_evaluator_tick_duration_seconds")
	s.register(reg, s.tickDrift, "studiod_evaluator_tick_drift_seconds")
}

func (s *PrometheusSink) initMonitorMetrics(reg prometheus.Registerer) {
	s.pollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_monitor_polls_total",
		Help: "Total number of control API polls by result.",
	}, []string{"result"})
	s.pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiod_monitor_poll_duration_seconds",
		Help:    "Control API poll latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.thresholdTripped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studiod_monitor_failure_threshold_tripped_total",
		Help: "Times a resource degraded to error after consecutive poll failures.",
	})
	s.stateChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_monitor_state_changes_total",
		Help: "Total number of observed state changes by new state.",
	}, []string{"to"})
	s.transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_monitor_transitions_requested_total",
		Help: "Total number of accepted transition requests by action.",
	}, []string{"action"})
	s.transitionResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_monitor_transitions_resolved_total",
		Help: "Total number of resolved transitions by outcome.",
	}, []string{"outcome"})
	s.transitionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiod_monitor_transition_latency_seconds",
		Help:    "Time from transition request to confirmation in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	s.register(reg, s.pollsTotal, "studiod_monitor_polls_total")
	s.register(reg, s.pollDuration, "studiod_monitor_poll_duration_seconds")
	s.register(reg, s.thresholdTripped, "studiod_monitor_failure_threshold_tripped_total")
	s.register(reg, s.stateChangesTotal, "studiod_monitor_state_changes_total")
	s.register(reg, s.transitionsTotal, "studiod_monitor_transitions_requested_total")
	s.register(reg, s.transitionResults, "studiod_monitor_transitions_resolved_total")
	s.register(reg, s.transitionLatency, "studiod_monitor_transition_latency_seconds")
}

func (s *PrometheusSink) initRunnerMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_runner_executions_total",
		Help: "Total number of trigger executions by outcome.",
	}, []string{"outcome"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiod_runner_execution_duration_seconds",
		Help:    "Duration of trigger executions in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})
	s.hooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_runner_hooks_total",
		Help: "Total number of hook invocations by phase and result.",
	}, []string{"phase", "ok"})
	s.hookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiod_runner_hook_duration_seconds",
		Help:    "Hook process duration in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300},
	})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studiod_runner_executions_in_flight",
		Help: "Number of executions currently running.",
	})

	s.register(reg, s.executionsTotal, "studiod_runner_executions_total")
	s.register(reg, s.executionDuration, "studiod_runner_execution_duration_seconds")
	s.register(reg, s.hooksTotal, "studiod_runner_hooks_total")
	s.register(reg, s.hookDuration, "studiod_runner_hook_duration_seconds")
	s.register(reg, s.executionsInFlight, "studiod_runner_executions_in_flight")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studiod_triggerbus_buffer_size",
		Help: "Current number of fire events in the trigger bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studiod_triggerbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full at shutdown).",
	})

	s.register(reg, s.bufferSize, "studiod_triggerbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "studiod_triggerbus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Evaluator metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.firedTotal.Add(float64(fired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Monitor metrics implementation

func (s *PrometheusSink) PollCompleted(ok bool, duration time.Duration) {
	result := "error"
	if ok {
		result = "ok"
	}
	s.pollsTotal.WithLabelValues(result).Inc()
	s.pollDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PollThresholdTripped() {
	s.thresholdTripped.Inc()
}

func (s *PrometheusSink) StateChanged(to string) {
	s.stateChangesTotal.WithLabelValues(to).Inc()
}

func (s *PrometheusSink) TransitionRequested(action string) {
	s.transitionsTotal.WithLabelValues(action).Inc()
}

func (s *PrometheusSink) TransitionResolved(outcome string, duration time.Duration) {
	s.transitionResults.WithLabelValues(outcome).Inc()
	if outcome == TransitionConfirmed {
		s.transitionLatency.Observe(duration.Seconds())
	}
}

// Runner metrics implementation

func (s *PrometheusSink) ExecutionCompleted(outcome string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(outcome).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) HookCompleted(phase string, ok bool, duration time.Duration) {
	okLabel := "false"
	if ok {
		okLabel = "true"
	}
	s.hooksTotal.WithLabelValues(phase, okLabel).Inc()
	s.hookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

// Trigger bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}
