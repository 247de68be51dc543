package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LinesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shrike_log_lines_total",
			Help: "Total number of raw access-log lines read by the tailer",
		},
	)

	ParseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shrike_parse_failures_total",
			Help: "Total number of access-log lines that did not match the expected format",
		},
	)

	VisitsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_visits_processed_total",
			Help: "Total number of fully processed visit records",
		},
		[]string{"suspicious"},
	)

	RuleHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_rule_hits_total",
			Help: "Total number of classification rule hits",
		},
		[]string{"rule"},
	)

	BlockActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_block_actions_total",
			Help: "Total number of block registry actions",
		},
		[]string{"action"},
	)

	PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_publish_errors_total",
			Help: "Total number of failed bus publishes",
		},
		[]string{"topic"},
	)

	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_store_errors_total",
			Help: "Total number of failed durable-store writes",
		},
		[]string{"entity"},
	)

	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shrike_live_subscribers",
			Help: "Number of currently connected dashboard subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(LinesRead)
	prometheus.MustRegister(ParseFailures)
	prometheus.MustRegister(VisitsProcessed)
	prometheus.MustRegister(RuleHits)
	prometheus.MustRegister(BlockActions)
	prometheus.MustRegister(PublishErrors)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(LiveSubscribers)
}
