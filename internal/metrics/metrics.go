package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of open WebSocket sessions to the CSMS.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcp_active_sessions",
		Help: "The total number of open WebSocket sessions.",
	})

	// FramesSent counts outbound OCPP frames, labeled by action ("" for responses).
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcp_frames_sent_total",
		Help: "Total number of OCPP frames sent to the CSMS.",
	}, []string{"action"})

	// FramesReceived counts inbound OCPP frames, labeled by message type indicator.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcp_frames_received_total",
		Help: "Total number of OCPP frames received from the CSMS.",
	}, []string{"message_type"})

	// CallTimeouts counts outbound calls evicted from the pending table.
	CallTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcp_call_timeouts_total",
		Help: "Total number of outbound calls that timed out waiting for a response.",
	})

	// MeterTicks counts meter-value samples produced by the fleet loop.
	MeterTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcp_meter_ticks_total",
		Help: "Total number of meter-value samples produced.",
	})

	// EventsPublished counts fleet events handed to the event sink, labeled by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcp_events_published_total",
		Help: "Total number of fleet events published to the message broker.",
	}, []string{"event_type"})
)
