package engine

import (
	"fmt"

	"github.com/kabili207/lnatest/core/stats"
)

// Phase names as they appear in progress snapshots and records.
const (
	PhaseOff  = "LNA OFF"
	PhaseOn   = "LNA ON"
	PhaseDone = "Done"
)

// ProgressState is a snapshot reported to the progress callback. It is
// emitted at each phase start, once per tick while measuring, once per
// accepted sample and once when the run completes.
type ProgressState struct {
	TotalProgress float64 `json:"total_progress"`
	RoundProgress float64 `json:"current_round_progress"`
	Status        string  `json:"status_message"`
	ETASeconds    uint64  `json:"eta_seconds"`
	Phase         string  `json:"phase"`

	// Raw per-hop SNR readings in dB; set only on accepted-sample snapshots.
	SNRTowards []float64 `json:"snr_towards,omitempty"`
	SNRBack    []float64 `json:"snr_back,omitempty"`

	// Stats is set on accepted-sample snapshots and the terminal snapshot.
	Stats *stats.AverageStats `json:"average_stats,omitempty"`
}

// ProgressFunc receives progress snapshots. It runs synchronously on the
// engine's goroutine.
type ProgressFunc func(ProgressState)

// phaseRef identifies one measurement phase within the run.
type phaseRef struct {
	cycle   int // zero-based
	cycles  int
	enabled bool
}

func (p phaseRef) name() string {
	if p.enabled {
		return PhaseOn
	}
	return PhaseOff
}

// number is 1 for the OFF phase and 2 for the ON phase.
func (p phaseRef) number() int {
	if p.enabled {
		return 2
	}
	return 1
}

// index is the zero-based position of the phase among all phases.
func (p phaseRef) index() int {
	return p.cycle*2 + p.number() - 1
}

func (p phaseRef) total() int {
	return p.cycles * 2
}

func (p phaseRef) startStatus() string {
	return fmt.Sprintf("Cycle %d/%d: Starting Phase %d (%s)", p.cycle+1, p.cycles, p.number(), p.name())
}

func (p phaseRef) tickStatus(step, steps int64) string {
	return fmt.Sprintf("Cycle %d: %s - Step %d/%d", p.cycle+1, p.name(), step, steps)
}

// startSnapshot is emitted before the amplifier is toggled for a phase.
func (p phaseRef) startSnapshot(phaseSecs uint64) ProgressState {
	passed := p.index()
	total := p.total()
	return ProgressState{
		TotalProgress: float64(passed) / float64(total),
		RoundProgress: 0,
		Status:        p.startStatus(),
		ETASeconds:    uint64(total-passed) * phaseSecs,
		Phase:         p.name(),
	}
}

// tickSnapshot is emitted on every tick of the measurement loop. round is
// the fraction of this phase already elapsed.
func (p phaseRef) tickSnapshot(round float64, elapsedSecs, phaseSecs uint64) ProgressState {
	var remaining uint64
	if phaseSecs > elapsedSecs {
		remaining = phaseSecs - elapsedSecs
	}
	future := uint64(p.total()-p.index()-1) * phaseSecs

	global := (float64(p.index()) + round) / float64(p.total())
	if global > maxRunningProgress {
		global = maxRunningProgress
	}

	return ProgressState{
		TotalProgress: global,
		RoundProgress: round,
		Status:        p.tickStatus(int64(elapsedSecs), int64(phaseSecs)),
		ETASeconds:    remaining + future,
		Phase:         p.name(),
	}
}

// maxRunningProgress caps total progress until the terminal snapshot.
const maxRunningProgress = 0.99

func formatDB(v *float64) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%.2f", *v)
}
