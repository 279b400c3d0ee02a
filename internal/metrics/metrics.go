// Package metrics defines the Prometheus collectors of the triage
// worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts finished scan runs by outcome
	// (ok, degraded, failed, cancelled).
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thor_scans_total",
			Help: "Total number of THOR Lite scan runs by outcome",
		},
		[]string{"outcome"},
	)

	// ScanDuration tracks wall-clock scan duration.
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thor_scan_duration_seconds",
			Help:    "THOR Lite scan duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
	)

	// RuleHitsTotal counts rule hits observed in scanner logs.
	RuleHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thor_rule_hits_total",
			Help: "Total YARA rule hits reported by THOR Lite",
		},
	)

	// ForgeRulesFlattened reports the size of the last flatten run.
	ForgeRulesFlattened = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thor_forge_rules_flattened",
			Help: "Number of forge rules flattened into each custom-rule directory",
		},
	)

	// SignatureUpdatesTotal counts signature updater runs by result
	// (ok, failed, skipped).
	SignatureUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thor_signature_updates_total",
			Help: "Total signature updater runs by result",
		},
		[]string{"result"},
	)
)
