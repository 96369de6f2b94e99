package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watering"

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing, so components can be built without it in tests.
type Metrics struct {
	registry *prometheus.Registry

	pumpCommands         *prometheus.CounterVec
	payloadRejections    *prometheus.CounterVec
	alarms               *prometheus.CounterVec
	safetyStops          *prometheus.CounterVec
	scheduleRuns         *prometheus.CounterVec
	alarmPersistFailures prometheus.Counter
	mqttConnected        prometheus.Gauge
	breakerState         *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pumpCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_commands_total",
			Help:      "Pump command attempts by action, reason and outcome.",
		}, []string{"action", "reason", "success"}),
		payloadRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_rejections_total",
			Help:      "Inbound MQTT payloads rejected by validation.",
		}, []string{"kind"}),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_total",
			Help:      "Alarms added to the alarm store by type.",
		}, []string{"type"}),
		safetyStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_stops_total",
			Help:      "Interlock stops issued by the safety monitor.",
		}, []string{"reason"}),
		scheduleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_runs_total",
			Help:      "Scheduled start attempts by outcome.",
		}, []string{"allowed"}),
		alarmPersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_persist_failures_total",
			Help:      "Alarms that could not be written to the database.",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the broker connection is up.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pumpCommands,
		m.payloadRejections,
		m.alarms,
		m.safetyStops,
		m.scheduleRuns,
		m.alarmPersistFailures,
		m.mqttConnected,
		m.breakerState,
	)

	return m
}

func (m *Metrics) PumpCommand(action, reason string, success bool) {
	if m == nil {
		return
	}
	m.pumpCommands.WithLabelValues(action, reason, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) PayloadRejected(kind string) {
	if m == nil {
		return
	}
	m.payloadRejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlarmAdded(alarmType string) {
	if m == nil {
		return
	}
	m.alarms.WithLabelValues(alarmType).Inc()
}

func (m *Metrics) SafetyStop(reason string) {
	if m == nil {
		return
	}
	m.safetyStops.WithLabelValues(reason).Inc()
}

func (m *Metrics) ScheduleRun(allowed bool) {
	if m == nil {
		return
	}
	m.scheduleRuns.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) AlarmPersistFailed() {
	if m == nil {
		return
	}
	m.alarmPersistFailures.Inc()
}

func (m *Metrics) SetMQTTConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.mqttConnected.Set(1)
		return
	}
	m.mqttConnected.Set(0)
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
