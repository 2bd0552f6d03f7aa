package services

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-video-backend/internal/domain"
)

var (
	// transitions counts committed status changes.
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_transitions_total",
			Help: "Committed video request status transitions.",
		},
		[]string{"from", "to"},
	)

	// pollTicks counts poll ticks by outcome:
	// pending|completed|failed|error|superseded|timeout.
	pollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_poll_ticks_total",
			Help: "Render status poll ticks by outcome.",
		},
		[]string{"outcome"},
	)

	// dispatches counts delivery attempts by outcome: sent|failed.
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_dispatch_total",
			Help: "Notification dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// anomalies counts completion signals that were detected but not applied.
	anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_completion_anomalies_total",
			Help: "Completion signals rejected as inconsistent with the stored request.",
		},
		[]string{"kind"},
	)

	pollsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_polls_inflight",
			Help: "Poll tasks currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(transitions, pollTicks, dispatches, anomalies, pollsInflight)
}

func observeTransition(from []domain.Status, to domain.Status) {
	parts := make([]string, len(from))
	for i, s := range from {
		parts[i] = string(s)
	}
	transitions.WithLabelValues(strings.Join(parts, "|"), string(to)).Inc()
}
