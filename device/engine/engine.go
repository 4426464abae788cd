// Package engine runs an amplifier A/B test against a Meshtastic mesh.
//
// A run connects to the local radio, then for each cycle switches the
// control target's receive amplifier (LNA) off and on, measuring each state
// for a fixed phase duration. During a phase the engine sends traceroutes on
// an interval and folds the SNR readings of each response into per-phase
// running averages. Accepted relay-topology samples are persisted to a
// record.Sink.
//
// The run is a single sequential flow:
//
//	Connecting -> {ToggleOff, Settle, MeasureOff, ToggleOn, Settle, MeasureOn}*
//	           -> Summarize -> Disconnect -> Done | Failed
//
// Every frame read from the transport, whatever the engine is currently
// waiting for, is first offered to the session key store so that admin
// passkeys are never missed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kabili207/lnatest/config"
	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/core/codec"
	"github.com/kabili207/lnatest/core/dedupe"
	"github.com/kabili207/lnatest/core/identity"
	"github.com/kabili207/lnatest/core/route"
	"github.com/kabili207/lnatest/core/session"
	"github.com/kabili207/lnatest/core/stats"
	"github.com/kabili207/lnatest/record"
	"github.com/kabili207/lnatest/transport"
)

// DefaultIdentity is the X25519 private key used to sign admin requests
// when Options.Identity is empty. Its public key must be in the control
// target's admin key list.
const DefaultIdentity = "EP7uGaSlaoJHVp5wYVzv5O6fQQNx+q8yb9OshyMANmU="

var (
	ErrAlreadyRunning = errors.New("engine is already running")
	ErrLinkClosed     = errors.New("radio link closed")
	ErrFetchFailed    = errors.New("fetching lora config failed")
	ErrToggleFailed   = errors.New("amplifier setting not verified")
)

// Options configures an Engine beyond the run configuration.
type Options struct {
	// Sink receives accepted relay-topology samples. Nil discards them.
	Sink record.Sink
	// Identity is the base64 X25519 private key attached to admin
	// requests. Empty uses DefaultIdentity. An invalid key is logged and
	// the run continues unsigned.
	Identity string
	// Logger for engine events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Engine runs one test at a time over a single transport. It owns the
// transport, the session key store and the statistics for the duration of
// Run.
type Engine struct {
	cfg       config.Config
	timing    config.Timing
	transport transport.Transport
	sink      record.Sink
	identity  string
	log       *slog.Logger

	keys     *session.Store
	dedup    *dedupe.PacketDeduplicator
	counters Counters

	frames    <-chan *codec.FromRadio
	signer    *identity.Identity
	localNode core.NodeID
	hasLocal  bool

	mu       sync.RWMutex
	off, on  stats.PhaseStats
	progress ProgressState

	running atomic.Bool
	nowFn   func() time.Time
}

// New creates an Engine for the given configuration and transport.
func New(cfg config.Config, t transport.Transport, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = record.Discard
	}
	id := opts.Identity
	if id == "" {
		id = DefaultIdentity
	}

	e := &Engine{
		cfg:       cfg,
		timing:    cfg.Timing.WithDefaults(),
		transport: t,
		sink:      sink,
		identity:  id,
		log:       logger.WithGroup("engine"),
		keys:      session.NewStore(),
		dedup:     dedupe.New(),
		nowFn:     time.Now,
	}
	if local, ok := cfg.Local(); ok {
		e.localNode, e.hasLocal = local, true
	}
	return e
}

// Run executes the whole test. It returns nil once the terminal snapshot
// has been emitted, or the first fatal error: connect failure, an
// amplifier toggle that could not be verified, a closed link or context
// cancellation. The transport is disconnected before Run returns.
func (e *Engine) Run(ctx context.Context, fn ProgressFunc) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	if fn == nil {
		fn = func(ProgressState) {}
	}

	e.log.Info("connecting to radio")
	frames, err := e.transport.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	e.frames = frames
	defer e.disconnect()

	e.injectIdentity()
	if ln, ok := e.transport.(transport.LocalNode); ok {
		if id, ok := ln.MyNodeNum(); ok {
			e.setLocalNode(id)
		}
	}

	e.log.Info("test started",
		"topology", e.cfg.Topology,
		"cycles", e.cfg.Cycles,
		"phase_duration", e.cfg.PhaseDuration(),
		"interval", e.cfg.Interval(),
		"lna_control", e.cfg.LNAControl)

	for cycle := 0; cycle < e.cfg.Cycles; cycle++ {
		for _, enabled := range []bool{false, true} {
			p := phaseRef{cycle: cycle, cycles: e.cfg.Cycles, enabled: enabled}
			if err := e.runPhase(ctx, p, fn); err != nil {
				return err
			}
		}
	}

	final := e.Stats()
	done := ProgressState{
		TotalProgress: 1,
		RoundProgress: 1,
		Status:        "Test Completed",
		Phase:         PhaseDone,
		Stats:         &final,
	}
	e.setProgress(done)
	fn(done)
	e.logSummary(final)
	return nil
}

// Stats returns the current on/off averages.
func (e *Engine) Stats() stats.AverageStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return stats.Snapshot(e.off, e.on)
}

// Progress returns the most recent tick or terminal snapshot.
func (e *Engine) Progress() ProgressState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.progress
}

// Counters returns a copy of the engine's activity counters.
func (e *Engine) Counters() CountersSnapshot {
	return e.counters.Snapshot()
}

// SessionKeys returns the run's session key store.
func (e *Engine) SessionKeys() *session.Store {
	return e.keys
}

func (e *Engine) setProgress(p ProgressState) {
	e.mu.Lock()
	e.progress = p
	e.mu.Unlock()
}

func (e *Engine) setLocalNode(id core.NodeID) {
	if e.hasLocal && e.localNode == id {
		return
	}
	e.localNode, e.hasLocal = id, true
	e.log.Info("local node identified", "node", id)
}

func (e *Engine) injectIdentity() {
	id, err := identity.FromBase64(e.identity)
	if err != nil {
		e.log.Warn("invalid signing identity, admin requests will not be signed", "error", err)
		return
	}
	e.signer = id
	e.transport.SetIdentity(id)
	e.log.Info("signing identity injected", "public_key", id.PublicKeyBase64())
}

func (e *Engine) disconnect() {
	if err := e.transport.Disconnect(); err != nil {
		e.log.Warn("failed to disconnect cleanly", "error", err)
	}
}

func (e *Engine) runPhase(ctx context.Context, p phaseRef, fn ProgressFunc) error {
	fn(p.startSnapshot(uint64(e.cfg.PhaseDuration() / time.Second)))

	if err := e.SetAmplifierMode(ctx, p.enabled); err != nil {
		e.log.Error("amplifier toggle failed, aborting test", "cycle", p.cycle+1, "phase", p.name(), "error", err)
		return fmt.Errorf("cycle %d %s: %w", p.cycle+1, p.name(), err)
	}
	if err := e.drain(ctx, e.timing.Settle); err != nil {
		return err
	}
	return e.measure(ctx, p, fn)
}

// measure runs the tick/receive loop for one phase. The elapsed time is
// sampled before each wait, so the traceroute schedule follows whole
// seconds since the phase started.
func (e *Engine) measure(ctx context.Context, p phaseRef, fn ProgressFunc) error {
	duration := e.cfg.PhaseDuration()
	phaseSecs := uint64(duration / time.Second)
	intervalSecs := uint64(e.cfg.Interval() / time.Second)
	dest, hasDest := e.cfg.TracerouteDestination()
	if !hasDest {
		e.log.Warn("no traceroute destination configured, phase will collect no samples", "topology", e.cfg.Topology)
	}

	ticker := time.NewTicker(e.timing.Tick)
	defer ticker.Stop()

	e.log.Info("measurement phase started", "cycle", p.cycle+1, "phase", p.name(), "duration", duration)

	start := e.nowFn()
	lastTrace := int64(-1)
	for {
		elapsed := e.nowFn().Sub(start)
		if elapsed >= duration {
			return nil
		}
		elapsedSecs := uint64(elapsed / time.Second)

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			snap := p.tickSnapshot(float64(elapsed)/float64(duration), elapsedSecs, phaseSecs)
			e.setProgress(snap)
			fn(snap)

			if intervalSecs > 0 && elapsedSecs%intervalSecs == 0 && int64(elapsedSecs) != lastTrace {
				lastTrace = int64(elapsedSecs)
				if hasDest {
					e.sendTraceroute(ctx, dest)
				}
			}

		case f, ok := <-e.frames:
			if !ok {
				e.log.Error("transport channel closed unexpectedly")
				return ErrLinkClosed
			}
			e.observe(f)
			e.handleTraceroute(f, p, fn)
		}
	}
}

func (e *Engine) sendTraceroute(ctx context.Context, dest core.NodeID) {
	sendCtx, cancel := context.WithTimeout(ctx, e.timing.ResponseWait)
	defer cancel()

	if err := e.transport.SendTraceroute(sendCtx, dest); err != nil {
		e.log.Warn("error sending traceroute", "dest", dest, "error", err)
		return
	}
	e.counters.TraceroutesSent.Add(1)
	e.log.Debug("traceroute sent", "dest", dest)
}

// observe runs on every inbound frame before any other handling.
func (e *Engine) observe(f *codec.FromRadio) {
	e.counters.FramesRecv.Add(1)
	if from, changed := e.keys.Harvest(f); changed {
		e.counters.KeysHarvested.Add(1)
		e.log.Info("stored session key", "node", from)
	}
}

// handleTraceroute processes a traceroute response received during a
// measurement phase. Rejected samples never reach the statistics or the
// sink.
func (e *Engine) handleTraceroute(f *codec.FromRadio, p phaseRef, fn ProgressFunc) {
	pkt := f.Packet
	if pkt.PortNum() != codec.PortNumTraceroute {
		return
	}
	if e.dedup.HasSeen(pkt) {
		e.counters.RejectedDuplicate.Add(1)
		e.log.Debug("ignoring duplicate traceroute response", "from", core.NodeID(pkt.From), "id", pkt.ID)
		return
	}

	rd, err := codec.UnmarshalRouteDiscovery(pkt.Decoded.Payload)
	if err != nil {
		e.counters.RejectedDecode.Add(1)
		e.log.Warn("failed to decode route discovery", "from", core.NodeID(pkt.From), "error", err)
		return
	}

	towards := rd.SNRTowardsDB()
	back := rd.SNRBackDB()
	e.log.Info("traceroute response received", "phase", p.name(), "from", core.NodeID(pkt.From),
		"route", route.Format(rd.Route), "snr_towards", towards, "snr_back", back)

	if stats.HitsFloor(towards, back) {
		e.counters.RejectedFloor.Add(1)
		e.log.Info("skipping traceroute sample, SNR hit the reporting floor", "floor_db", stats.SNRFloor)
		return
	}

	relay := e.cfg.Topology == config.TopologyRelay
	if relay {
		var roof *core.NodeID
		if id, ok := e.cfg.Roof(); ok {
			roof = &id
		}
		if err := route.ValidateRelay(rd.Route, roof); err != nil {
			e.counters.RejectedRoute.Add(1)
			e.log.Warn("route validation failed, discarding sample",
				"reason", route.Reason(err), "error", err,
				"route", route.Format(rd.Route), "route_back", route.Format(rd.RouteBack))
			return
		}
	}

	roofToMtn := stats.At(towards, 1)
	mtnToRoof := stats.At(back, 0)

	e.mu.Lock()
	if p.enabled {
		e.on.AddSample(roofToMtn, mtnToRoof)
	} else {
		e.off.AddSample(roofToMtn, mtnToRoof)
	}
	avg := stats.Snapshot(e.off, e.on)
	live := e.progress
	e.mu.Unlock()
	e.counters.SamplesAccepted.Add(1)

	live.Status = fmt.Sprintf("Received Result (%s)", p.name())
	live.Phase = p.name()
	live.SNRTowards = towards
	live.SNRBack = back
	live.Stats = &avg
	fn(live)

	if !relay {
		return
	}
	e.log.Info("sample accepted", "phase", p.name(),
		"roof_to_mountain_db", formatDB(roofToMtn), "mountain_to_roof_db", formatDB(mtnToRoof))

	rec := record.Record{
		Timestamp:          e.nowFn(),
		Cycle:              p.cycle,
		Phase:              p.name(),
		Route:              rd.Route,
		SNRTowardsRoomRoof: stats.At(towards, 0),
		SNRTowardsRoofMtn:  roofToMtn,
		SNRBackMtnRoof:     mtnToRoof,
		SNRBackRoofRoom:    stats.At(back, 1),
	}
	if err := e.sink.Append(rec); err != nil {
		e.counters.RecordErrors.Add(1)
		e.log.Warn("error writing record", "error", err)
	}
}

func (e *Engine) logSummary(s stats.AverageStats) {
	e.log.Info("LNA comparison summary",
		"samples_off", s.OffSamples,
		"samples_on", s.OnSamples)
	e.log.Info("roof -> mountain (avg dB)",
		"off", formatDB(s.OffRoofToMountain),
		"on", formatDB(s.OnRoofToMountain),
		"delta", formatDB(s.DeltaRoofToMountain))
	e.log.Info("mountain -> roof (avg dB)",
		"off", formatDB(s.OffMountainToRoof),
		"on", formatDB(s.OnMountainToRoof),
		"delta", formatDB(s.DeltaMountainToRoof))
}
