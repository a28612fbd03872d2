package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 核心决策链路的运行指标，通过 ops HTTP 的 /metrics 暴露。
var (
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traqo",
		Name:      "predictions_total",
		Help:      "Predictions produced, by retrieval tier.",
	}, []string{"tier"})

	PredictionsAbsent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traqo",
		Name:      "predictions_absent_total",
		Help:      "Queries that returned no prediction (insufficient or rejected tier).",
	})

	TradesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traqo",
		Name:      "trades_opened_total",
		Help:      "Trades opened, by horizon label.",
	}, []string{"horizon"})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traqo",
		Name:      "trades_closed_total",
		Help:      "Trades closed, by exit reason.",
	}, []string{"reason"})

	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traqo",
		Name:      "breaker_trips_total",
		Help:      "Circuit breaker activations, by breaker name.",
	}, []string{"breaker"})

	EntriesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traqo",
		Name:      "entries_rejected_total",
		Help:      "Trade entries rejected before fill, by reason.",
	}, []string{"reason"})

	Capital = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "traqo",
		Name:      "capital",
		Help:      "Current account capital.",
	})

	DrawdownPct = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "traqo",
		Name:      "drawdown_pct",
		Help:      "Current drawdown from peak capital, percent.",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "traqo",
		Name:      "open_positions",
		Help:      "Number of currently open positions.",
	})

	FeedbackIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traqo",
		Name:      "feedback_outcomes_total",
		Help:      "Outcome records ingested into the feedback store, by result.",
	}, []string{"result"})
)
