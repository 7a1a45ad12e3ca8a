package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parley"

var (
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound message attempts by result.",
		},
		[]string{"result"},
	)

	CacheReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_reads_total",
			Help:      "Message cache reads by freshness (hit, stale, miss).",
		},
		[]string{"result"},
	)

	RealtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Inbound realtime events by kind.",
		},
		[]string{"kind"},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscriptions",
			Help:      "Currently open conversation subscriptions.",
		},
	)

	ReceiptFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_receipt_flushes_total",
			Help:      "Read receipt batch flushes by result.",
		},
		[]string{"result"},
	)

	UploadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes uploaded to object storage.",
		},
	)

	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		},
		[]string{"job", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		CacheReads,
		RealtimeEvents,
		ActiveSubscriptions,
		ReceiptFlushes,
		UploadedBytes,
		JobRuns,
	)
}

// Result 按错误归类
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
