// Package metrics provides Prometheus collectors for the kiosk.
// Labels are limited to page ids and fault kinds to keep cardinality fixed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PageChangesTotal counts selections by the page that became active ("None" included).
	PageChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_page_changes_total",
		Help: "Total number of page selection changes, by new page.",
	}, []string{"page"})

	// FaultsReportedTotal counts de-duplicated switch fault reports.
	FaultsReportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_faults_reported_total",
		Help: "Total number of switch fault reports, by kind.",
	}, []string{"kind"})

	// CacheRebuildsTotal counts full frame cache rebuilds.
	CacheRebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_cache_rebuilds_total",
		Help: "Total number of frame cache rebuilds, by source video.",
	}, []string{"video"})

	// CacheHitsTotal counts ensure calls satisfied by an existing valid cache.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_cache_hits_total",
		Help: "Total number of frame cache validations that reused existing frames, by source video.",
	}, []string{"video"})

	// FrameLoadsTotal counts frame images read from the cache.
	FrameLoadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_frame_loads_total",
		Help: "Total number of cached frame images loaded from disk.",
	})

	// FrameLoadFailuresTotal counts frame images that failed to load.
	FrameLoadFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_frame_load_failures_total",
		Help: "Total number of cached frame images that failed to load.",
	})

	// SerialReconnectsTotal counts serial link reconnect attempts after a failure.
	SerialReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_serial_reconnects_total",
		Help: "Total number of serial link reconnects.",
	})

	// ReadingsOverwrittenTotal counts readings replaced before the render loop saw them.
	ReadingsOverwrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_readings_overwritten_total",
		Help: "Total number of switch readings overwritten before being consumed.",
	})

	// LinesRejectedTotal counts serial lines that could not be parsed.
	LinesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_lines_rejected_total",
		Help: "Total number of switch lines dropped as undecodable.",
	})

	// CurrentPage is 1 for the active page and 0 for the others.
	CurrentPage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kiosk_current_page",
		Help: "Currently selected page (1 = active).",
	}, []string{"page"})

	// TickSeconds observes render loop tick duration.
	TickSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kiosk_tick_seconds",
		Help:    "Render loop tick duration.",
		Buckets: []float64{.001, .005, .01, .02, .04, .08, .16},
	})
)

// SetCurrentPage marks page as the only active page.
func SetCurrentPage(page string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == page {
			v = 1
		}
		CurrentPage.WithLabelValues(p).Set(v)
	}
}
