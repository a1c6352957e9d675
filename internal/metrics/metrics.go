// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh results.
const (
	RefreshOK        = "ok"
	RefreshTransport = "transport_error"
	RefreshContract  = "contract_error"
	RefreshDiscarded = "discarded"
)

// Lookup results.
const (
	LookupCacheHit   = "cache_hit"
	LookupResolved   = "resolved"
	LookupUnresolved = "unresolved"
	LookupFailed     = "failed"
)

// Submission results.
const (
	SubmissionConfirmed = "confirmed"
	SubmissionRejected  = "rejected"
	SubmissionTimeout   = "timeout"
)

var (
	// Sync metrics
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoodhub_refreshes_total",
			Help: "Total message list refreshes by result",
		},
		[]string{"result"},
	)

	SkippedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hoodhub_skipped_ticks_total",
			Help: "Poll ticks skipped because a refresh was still outstanding",
		},
	)

	Messages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hoodhub_messages",
			Help: "Messages in the current snapshot",
		},
	)

	// Identity metrics
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoodhub_identity_lookups_total",
			Help: "Identity resolutions by result",
		},
		[]string{"result"},
	)

	// Write metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoodhub_submissions_total",
			Help: "Message submissions by outcome",
		},
		[]string{"result"},
	)

	// Presence metrics
	Typing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hoodhub_typing_signals",
			Help: "Active typing signals",
		},
	)
)
