package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesAppended = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cipherchat", Subsystem: "relay", Name: "messages_appended_total", Help: "Messages written to channel history"},
	)
	publishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cipherchat", Subsystem: "relay", Name: "publish_failures_total", Help: "Stored messages whose live publish failed"},
	)
	recordFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cipherchat", Subsystem: "relay", Name: "record_faults_total", Help: "Records served with a placeholder, by fault kind"},
		[]string{"kind"},
	)
	recordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cipherchat", Subsystem: "relay", Name: "records_dropped_total", Help: "Stored or published entries that could not be parsed"},
	)
	storeLatency = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{Namespace: "cipherchat", Subsystem: "store", Name: "latency_seconds", Help: "Store operation latency"},
		[]string{"op"},
	)
	liveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "cipherchat", Subsystem: "live", Name: "clients", Help: "Connected WebSocket clients"},
	)
	liveDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cipherchat", Subsystem: "live", Name: "delivered_total", Help: "Records queued to WebSocket clients"},
	)
)

func init() {
	prometheus.MustRegister(messagesAppended, publishFailures, recordFaults, recordsDropped, storeLatency, liveClients, liveDelivered)
}

func IncAppended() { messagesAppended.Inc() }
func IncPublishFailure() { publishFailures.Inc() }
func IncFault(kind string) { recordFaults.WithLabelValues(kind).Inc() }
func IncDropped() { recordsDropped.Inc() }
func ObserveStore(op string, d time.Duration) { storeLatency.WithLabelValues(op).Observe(d.Seconds()) }
func SetLiveClients(n int) { liveClients.Set(float64(n)) }
func AddDelivered(n int) { liveDelivered.Add(float64(n)) }
