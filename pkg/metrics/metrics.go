// Package metrics exposes controller counters and a small status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Name:      "cycles_total",
		Help:      "Completed interactions by final action code",
	}, []string{"code"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Name:      "recognitions_total",
		Help:      "Confirmed faces by identity kind",
	}, []string{"identity"})

	KeypadResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Name:      "keypad_results_total",
		Help:      "Keypad session results",
	}, []string{"result"})

	RelayPulses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Name:      "relay_pulses_total",
		Help:      "Relay pulses by switch and status",
	}, []string{"switch", "status"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Name:      "notifications_total",
		Help:      "Operator notifications by outcome",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatekeeper",
		Name:      "cycle_duration_seconds",
		Help:      "Time from confirmed face to logged event",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	FineDetections = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatekeeper",
		Name:      "fine_detection_duration_seconds",
		Help:      "Duration of the CNN confirmation stage",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatekeeper",
		Name:      "gallery_embeddings",
		Help:      "Number of embeddings in the loaded gallery",
	})
)
