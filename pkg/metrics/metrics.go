package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts orders accepted by the lifecycle engine by side (BUY/SELL)
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brokerage_orders_processed_total",
		Help: "Total number of orders accepted by the lifecycle engine",
	},
	[]string{"side"},
)

// OrdersRejected counts rejected lifecycle operations by error code
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brokerage_orders_rejected_total",
		Help: "Total number of rejected lifecycle operations",
	},
	[]string{"code"},
)

// MatchesExecuted counts operator-approved matches, full and partial
var MatchesExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brokerage_matches_executed_total",
		Help: "Total number of executed order matches",
	},
	[]string{"kind"},
)

// OrderLatency records latency distribution for lifecycle operations
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "brokerage_order_processing_latency_seconds",
		Help:    "Latency in seconds to process individual lifecycle operations",
		Buckets: prometheus.DefBuckets,
	},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerage_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerage_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerage_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(OrdersProcessed, OrdersRejected, MatchesExecuted, OrderLatency)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
