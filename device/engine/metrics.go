package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kabili207/lnatest/core/stats"
)

// Compile-time interface check.
var _ prometheus.Collector = (*Collector)(nil)

// Collector exports an Engine's counters and running averages as
// Prometheus metrics. Values are read at scrape time.
type Collector struct {
	e *Engine

	framesRecv      *prometheus.Desc
	adminSent       *prometheus.Desc
	traceroutesSent *prometheus.Desc
	keysHarvested   *prometheus.Desc
	toggleAttempts  *prometheus.Desc
	toggleFailures  *prometheus.Desc
	samplesAccepted *prometheus.Desc
	samplesRejected *prometheus.Desc
	recordErrors    *prometheus.Desc
	phaseSamples    *prometheus.Desc
	snrAverage      *prometheus.Desc
	snrDelta        *prometheus.Desc
	progress        *prometheus.Desc
}

// NewCollector returns a collector for e. Register it with a
// prometheus.Registerer to expose it.
func NewCollector(e *Engine) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("lnatest", "", name), help, labels, nil)
	}
	return &Collector{
		e:               e,
		framesRecv:      desc("frames_received_total", "Frames read from the radio."),
		adminSent:       desc("admin_requests_sent_total", "Admin requests sent."),
		traceroutesSent: desc("traceroutes_sent_total", "Traceroute requests sent."),
		keysHarvested:   desc("session_keys_harvested_total", "Session passkeys stored or replaced."),
		toggleAttempts:  desc("toggle_attempts_total", "Amplifier config writes sent."),
		toggleFailures:  desc("toggle_failures_total", "Amplifier writes whose read-back did not match."),
		samplesAccepted: desc("samples_accepted_total", "Traceroute samples added to the statistics."),
		samplesRejected: desc("samples_rejected_total", "Traceroute samples discarded.", "reason"),
		recordErrors:    desc("record_errors_total", "Failed record sink writes."),
		phaseSamples:    desc("phase_samples", "Accepted samples per amplifier state.", "lna"),
		snrAverage:      desc("snr_average_db", "Average SNR per amplifier state and direction.", "lna", "direction"),
		snrDelta:        desc("snr_delta_db", "Average SNR with the amplifier on minus off.", "direction"),
		progress:        desc("progress_ratio", "Overall test progress from 0 to 1."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesRecv
	ch <- c.adminSent
	ch <- c.traceroutesSent
	ch <- c.keysHarvested
	ch <- c.toggleAttempts
	ch <- c.toggleFailures
	ch <- c.samplesAccepted
	ch <- c.samplesRejected
	ch <- c.recordErrors
	ch <- c.phaseSamples
	ch <- c.snrAverage
	ch <- c.snrDelta
	ch <- c.progress
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.e.Counters()
	counter := func(d *prometheus.Desc, v uint32, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.framesRecv, s.FramesRecv)
	counter(c.adminSent, s.AdminSent)
	counter(c.traceroutesSent, s.TraceroutesSent)
	counter(c.keysHarvested, s.KeysHarvested)
	counter(c.toggleAttempts, s.ToggleAttempts)
	counter(c.toggleFailures, s.ToggleFailures)
	counter(c.samplesAccepted, s.SamplesAccepted)
	counter(c.samplesRejected, s.RejectedFloor, "floor")
	counter(c.samplesRejected, s.RejectedRoute, "route")
	counter(c.samplesRejected, s.RejectedDecode, "decode")
	counter(c.samplesRejected, s.RejectedDuplicate, "duplicate")
	counter(c.recordErrors, s.RecordErrors)

	avg := c.e.Stats()
	ch <- prometheus.MustNewConstMetric(c.phaseSamples, prometheus.GaugeValue, float64(avg.OffSamples), "off")
	ch <- prometheus.MustNewConstMetric(c.phaseSamples, prometheus.GaugeValue, float64(avg.OnSamples), "on")
	for _, g := range averageGauges(avg) {
		if g.value == nil {
			continue
		}
		if g.lna == "" {
			ch <- prometheus.MustNewConstMetric(c.snrDelta, prometheus.GaugeValue, *g.value, g.direction)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.snrAverage, prometheus.GaugeValue, *g.value, g.lna, g.direction)
	}

	ch <- prometheus.MustNewConstMetric(c.progress, prometheus.GaugeValue, c.e.Progress().TotalProgress)
}

type averageGauge struct {
	lna       string // empty for deltas
	direction string
	value     *float64
}

// averageGauges lists every average and delta of s. Nil values are
// undefined and are not exported.
func averageGauges(s stats.AverageStats) []averageGauge {
	const r2m, m2r = "roof_to_mountain", "mountain_to_roof"
	return []averageGauge{
		{"off", r2m, s.OffRoofToMountain},
		{"off", m2r, s.OffMountainToRoof},
		{"on", r2m, s.OnRoofToMountain},
		{"on", m2r, s.OnMountainToRoof},
		{"", r2m, s.DeltaRoofToMountain},
		{"", m2r, s.DeltaMountainToRoof},
	}
}
