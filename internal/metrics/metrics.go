package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Channel metrics
	ChannelConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportchat_channel_connected",
			Help: "1 while the push channel is connected",
		},
	)

	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_channel_reconnects_total",
			Help: "Dial attempts after the first one",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_events_received_total",
			Help: "Inbound channel events",
		},
		[]string{"event"},
	)

	EmitsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_emits_dropped_total",
			Help: "Emits dropped because the send buffer was full",
		},
	)

	// Room metrics
	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_duplicates_dropped_total",
			Help: "Messages ignored by the merge rule",
		},
	)

	UnconfirmedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_unconfirmed_sends_total",
			Help: "Sends with no echo before the ack deadline",
		},
	)

	TypingEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_typing_emitted_total",
			Help: "Typing signals sent",
		},
		[]string{"state"}, // "start" or "stop"
	)

	// Ledger metrics
	UnreadCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportchat_unread_count",
			Help: "Current global unread counter",
		},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_fetch_errors_total",
			Help: "Failed store calls",
		},
		[]string{"op"}, // "history", "unread_count", "rooms", "mark_read"
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportchat_store_latency_seconds",
			Help:    "Store call latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)
)
