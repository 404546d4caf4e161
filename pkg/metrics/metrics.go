package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts admitted orders by side (BUY/SELL).
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lapinex_orders_processed_total",
		Help: "Total number of orders admitted by the engine",
	},
	[]string{"side"},
)

// OrdersRejected counts rejected orders by reason.
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lapinex_orders_rejected_total",
		Help: "Total number of orders rejected at admission",
	},
	[]string{"reason"},
)

// TradesExecuted counts trades produced by the match loop.
var TradesExecuted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "lapinex_trades_executed_total",
		Help: "Total number of trades executed",
	},
)

// OrderLatency records latency from admission through commit.
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "lapinex_order_processing_latency_seconds",
		Help:    "Latency in seconds to process individual orders",
		Buckets: prometheus.DefBuckets,
	},
)

// BroadcastDropped counts marketdata messages dropped on slow subscribers.
var BroadcastDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "lapinex_ws_broadcast_dropped_total",
		Help: "Messages dropped because a subscriber send buffer was full",
	},
)

func init() {
	prometheus.MustRegister(OrdersProcessed, OrdersRejected, TradesExecuted, OrderLatency, BroadcastDropped)
}
