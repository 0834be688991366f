// Package metrics exposes the service's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts attendance submissions by outcome
	// (marked, geofence_failed, low_accuracy, stale_reference,
	// already_marked, session_closed, session_not_found, error).
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_submissions_total",
		Help: "Attendance submissions processed, by outcome.",
	}, []string{"outcome"})

	// LocationFixesTotal counts teacher location fixes by result
	// (applied, discarded_stale, rejected_closed).
	LocationFixesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_location_fixes_total",
		Help: "Teacher location fixes received, by result.",
	}, []string{"result"})

	// SessionsStartedTotal counts lecture sessions started.
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_sessions_started_total",
		Help: "Lecture sessions started.",
	})

	// SessionsEndedTotal counts sessions ended, by outcome (completed, cancelled).
	SessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_sessions_ended_total",
		Help: "Lecture sessions ended, by outcome.",
	}, []string{"outcome"})
)
