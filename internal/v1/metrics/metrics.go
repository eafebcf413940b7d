package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the state synchronization core.
//
// Naming convention: namespace_subsystem_name
// - namespace: statesync (application-level grouping)
// - subsystem: websocket, room, broadcast, circuit_breaker (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (messages processed, deltas dropped)
// - Histogram: Latency distributions (processing time, fan-out time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statesync",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms held by the room registry,
	// empty or not.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statesync",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of players currently in each room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "statesync",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of players in each room",
	}, []string{"room_id"})

	// RoomVersion tracks the current version counter of each room.
	RoomVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "statesync",
		Subsystem: "room",
		Name:      "version",
		Help:      "Current version counter of each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of inbound messages processed, by type and outcome.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statesync",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound messages processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks time spent handling one inbound message end to end.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "statesync",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing an inbound message",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// BroadcastFanoutDuration tracks time spent delivering one room-wide broadcast
	// (delta, player joined, or player left) to the room's sessions.
	BroadcastFanoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "statesync",
		Subsystem: "broadcast",
		Name:      "fanout_seconds",
		Help:      "Time spent fanning a broadcast out to a room's sessions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"room_id"})

	// BroadcastDropped tracks broadcast frames that were not delivered to a
	// recipient because its send failed (buffer full, connection closed) or its
	// circuit breaker rejected the send.
	BroadcastDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statesync",
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Total broadcast frames not delivered because a recipient's send failed or its breaker was open",
	}, []string{"room_id"})

	// CircuitBreakerState tracks the current state of each session's fan-out circuit breaker.
	// 0: Closed (healthy), 1: Half-Open (recovering), 2: Open (tripped)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "statesync",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a session's fan-out circuit breaker (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"session_id"})

	// CircuitBreakerTrips tracks the total number of times a session's breaker tripped open.
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statesync",
		Subsystem: "circuit_breaker",
		Name:      "trips_total",
		Help:      "Total number of times a session's fan-out breaker tripped open",
	}, []string{"session_id"})

	// RoomSweeps tracks the total number of empty-room garbage collection sweeps run.
	RoomSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statesync",
		Subsystem: "room",
		Name:      "sweeps_total",
		Help:      "Total number of empty-room sweep passes run",
	})

	// RoomsReclaimed tracks the total number of rooms removed by the sweeper.
	RoomsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statesync",
		Subsystem: "room",
		Name:      "reclaimed_total",
		Help:      "Total number of empty rooms removed by the periodic sweep",
	})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
