package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "powerstation_"

	resultSuccess = "success"
	resultError   = "error"

	outcomeMatched  = "matched"
	outcomeNoMatch  = "no_match"
	outcomeSuppress = "cooldown"
)

var (
	registerOnce sync.Once

	ruleEvaluations    *prometheus.CounterVec
	ruleTriggers       *prometheus.CounterVec
	cooldownSuppressed prometheus.Counter
	actionExecutions   *prometheus.CounterVec
	notificationsSent  *prometheus.CounterVec
	executionLatency   *prometheus.HistogramVec
	logExportTotal     *prometheus.CounterVec
	logExportLatency   *prometheus.HistogramVec
	telemetryMessages  *prometheus.CounterVec
	pollLatency        *prometheus.HistogramVec
	deviceCommandTotal *prometheus.CounterVec
)

// SnapshotSizer reports how many devices currently hold a cached snapshot.
type SnapshotSizer interface {
	Len() int
}

// Init registers metrics once. The DB handle and snapshot store feed gauges
// and may be nil.
func Init(db *sql.DB, snapshots SnapshotSizer, logger *log.Logger) {
	registerOnce.Do(func() {
		ruleEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_evaluations_total",
				Help: "Total rule evaluations by outcome",
			},
			[]string{"outcome"},
		)
		ruleTriggers = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_triggers_total",
				Help: "Total rule executions by result",
			},
			[]string{"result"},
		)
		cooldownSuppressed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_cooldown_suppressed_total",
				Help: "Total matches suppressed by an active cooldown",
			},
		)
		actionExecutions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "action_executions_total",
				Help: "Total executed actions by type and result",
			},
			[]string{"action", "result"},
		)
		notificationsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total webhook notifications by result",
			},
			[]string{"result"},
		)
		executionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rule_execution_latency_seconds",
				Help:    "Rule execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		logExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "log_export_total",
				Help: "Total execution log exports by format and result",
			},
			[]string{"format", "result"},
		)
		logExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "log_export_latency_seconds",
				Help:    "Execution log export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)
		telemetryMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_messages_total",
				Help: "Total telemetry snapshots by source",
			},
			[]string{"source"},
		)
		pollLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_latency_seconds",
				Help:    "Cloud poll cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		deviceCommandTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_commands_total",
				Help: "Total device control commands by command and result",
			},
			[]string{"command", "result"},
		)

		prometheus.MustRegister(
			ruleEvaluations,
			ruleTriggers,
			cooldownSuppressed,
			actionExecutions,
			notificationsSent,
			executionLatency,
			logExportTotal,
			logExportLatency,
			telemetryMessages,
			pollLatency,
			deviceCommandTotal,
		)

		if snapshots != nil {
			registerSnapshotGauge(snapshots, logger)
		}
		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

func registerSnapshotGauge(snapshots SnapshotSizer, logger *log.Logger) {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "snapshot_store_devices",
			Help: "Devices with a cached telemetry snapshot",
		},
		func() float64 { return float64(snapshots.Len()) },
	)
	if err := prometheus.Register(gauge); err != nil && logger != nil {
		logger.Printf("metrics: register snapshot gauge: %v", err)
	}
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	openConns := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open database connections",
		},
		func() float64 { return float64(db.Stats().OpenConnections) },
	)
	inUse := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_in_use_connections",
			Help: "Database connections currently in use",
		},
		func() float64 { return float64(db.Stats().InUse) },
	)
	if err := prometheus.Register(openConns); err != nil && logger != nil {
		logger.Printf("metrics: register db gauge: %v", err)
	}
	if err := prometheus.Register(inUse); err != nil && logger != nil {
		logger.Printf("metrics: register db gauge: %v", err)
	}
}

// IncRuleEvaluation counts one rule evaluation.
func IncRuleEvaluation(matched bool) {
	if ruleEvaluations == nil {
		return
	}
	outcome := outcomeNoMatch
	if matched {
		outcome = outcomeMatched
	}
	ruleEvaluations.WithLabelValues(outcome).Inc()
}

// IncCooldownSuppressed counts a match held back by an active cooldown.
func IncCooldownSuppressed() {
	if ruleEvaluations != nil {
		ruleEvaluations.WithLabelValues(outcomeSuppress).Inc()
	}
	if cooldownSuppressed != nil {
		cooldownSuppressed.Inc()
	}
}

// IncRuleTriggered counts one executed rule by result.
func IncRuleTriggered(success bool) {
	if ruleTriggers != nil {
		ruleTriggers.WithLabelValues(resultLabel(success)).Inc()
	}
}

// ObserveExecution records rule execution latency.
func ObserveExecution(success bool, duration time.Duration) {
	if executionLatency != nil {
		executionLatency.WithLabelValues(resultLabel(success)).Observe(duration.Seconds())
	}
}

// IncActionExecuted counts one executed action.
func IncActionExecuted(action string, success bool) {
	if action == "" {
		action = "unknown"
	}
	if actionExecutions != nil {
		actionExecutions.WithLabelValues(action, resultLabel(success)).Inc()
	}
}

// IncNotification counts one webhook delivery attempt.
func IncNotification(success bool) {
	if notificationsSent != nil {
		notificationsSent.WithLabelValues(resultLabel(success)).Inc()
	}
}

// ObserveLogExport records export latency and result.
func ObserveLogExport(format string, success bool, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	result := resultLabel(success)
	if logExportTotal != nil {
		logExportTotal.WithLabelValues(format, result).Inc()
	}
	if logExportLatency != nil {
		logExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncTelemetryMessage counts one snapshot by source ("poll" or "mqtt").
func IncTelemetryMessage(source string) {
	if source == "" {
		source = "unknown"
	}
	if telemetryMessages != nil {
		telemetryMessages.WithLabelValues(source).Inc()
	}
}

// ObservePoll records a full poll cycle.
func ObservePoll(success bool, duration time.Duration) {
	if pollLatency != nil {
		pollLatency.WithLabelValues(resultLabel(success)).Observe(duration.Seconds())
	}
}

// IncDeviceCommand counts one device control call.
func IncDeviceCommand(command string, success bool) {
	if deviceCommandTotal != nil {
		deviceCommandTotal.WithLabelValues(command, resultLabel(success)).Inc()
	}
}

func resultLabel(success bool) string {
	if success {
		return resultSuccess
	}
	return resultError
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
