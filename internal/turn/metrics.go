package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thara_turn_state_transitions_total",
		Help: "Turn orchestrator state transitions",
	}, []string{"from", "to"})

	metricCaptureCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thara_capture_closes_total",
		Help: "Capture sessions closed, by reason",
	}, []string{"reason"})

	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thara_turns_total",
		Help: "Completed turns, by outcome",
	}, []string{"outcome"})

	metricFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thara_remote_failures_total",
		Help: "Remote service failures, by service",
	}, []string{"service"})

	metricPlaybackBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thara_playback_blocked_total",
		Help: "Playbacks refused by the host autoplay policy",
	})

	metricResumes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thara_alwayson_resumes_total",
		Help: "Capture sessions reopened by the always-on loop",
	})
)
