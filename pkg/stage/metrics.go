package stage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStepRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sonicstage",
		Name:      "step_requests_total",
		Help:      "Discrete jog requests accepted into the step queue.",
	})

	metricClampedInputs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sonicstage",
		Name:      "clamped_inputs_total",
		Help:      "Requests silently adjusted by the safety clamp layer.",
	})

	metricSessionStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sonicstage",
		Name:      "continuous_sessions_total",
		Help:      "Continuous jog sessions started, by source.",
	}, []string{"source"})

	metricWatchdogStops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sonicstage",
		Name:      "watchdog_stops_total",
		Help:      "Continuous sessions truncated by the max-duration watchdog.",
	})

	metricTransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sonicstage",
		Name:      "transport_errors_total",
		Help:      "Command transport failures observed by motion workers.",
	})
)
