package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/core/codec"
	"github.com/kabili207/lnatest/transport"
)

// errWaitTimeout ends a bounded wait that saw no matching frame.
var errWaitTimeout = errors.New("timed out waiting for response")

// SetAmplifierMode switches the control target's receive amplifier and
// confirms the change by reading the config back. It succeeds immediately,
// without sending anything, when amplifier control is disabled or the
// target is not configured.
//
// Writes over the mesh are not reliably acknowledged, so each attempt
// writes the setting and then re-fetches it; only a read-back showing the
// requested state counts as success.
func (e *Engine) SetAmplifierMode(ctx context.Context, enable bool) error {
	target, ok := e.cfg.ControlTarget()
	if !ok {
		e.log.Debug("amplifier control disabled, skipping toggle", "enable", enable)
		return nil
	}
	if e.frames == nil {
		return transport.ErrNotConnected
	}
	log := e.log.With("target", target, "enable", enable)

	if err := e.lookupOwner(ctx); err != nil {
		return err
	}

	if !e.keys.Has(target) {
		log.Debug("no session key cached, requesting one")
		if err := e.sendAdmin(ctx, target, codec.NewGetConfigRequest(codec.ConfigTypeSessionKey)); err != nil {
			if fatal(ctx, err) {
				return err
			}
			log.Warn("session key request failed", "error", err)
		}
	}

	current, err := e.fetchLoRa(ctx, target, log)
	if err != nil {
		return err
	}

	lora := current.Clone()
	lora.RxBoostedGain = enable
	set := codec.NewSetLoRaConfig(lora)

	attempts := e.timing.Attempts
	for attempt := 1; attempt <= attempts; attempt++ {
		e.counters.ToggleAttempts.Add(1)
		log.Info("setting LNA (rx boosted gain)", "attempt", attempt, "of", attempts)

		if err := e.sendAdmin(ctx, target, set); err != nil {
			if fatal(ctx, err) {
				return err
			}
			log.Warn("set config send failed", "attempt", attempt, "error", err)
		} else if err := e.awaitWriteResponse(ctx, target, log); err != nil {
			return err
		}

		if err := e.drain(ctx, e.timing.VerifySettle); err != nil {
			return err
		}

		got, err := e.readLoRa(ctx, target)
		switch {
		case err == nil && got.RxBoostedGain == enable:
			log.Info("LNA setting verified", "attempt", attempt)
			return nil
		case err == nil:
			e.counters.ToggleFailures.Add(1)
			log.Warn("LNA verification failed", "attempt", attempt, "got", got.RxBoostedGain)
		case fatal(ctx, err):
			return err
		default:
			e.counters.ToggleFailures.Add(1)
			log.Warn("verification read failed", "attempt", attempt, "error", err)
		}

		if err := e.drain(ctx, e.timing.RetryDelay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %s rx_boosted_gain=%t after %d attempts", ErrToggleFailed, target, enable, attempts)
}

// lookupOwner asks the local radio for its owner record. The result is
// informational; only cancellation or a closed link is returned.
func (e *Engine) lookupOwner(ctx context.Context) error {
	if err := e.sendAdmin(ctx, 0, codec.NewGetOwnerRequest()); err != nil {
		if fatal(ctx, err) {
			return err
		}
		e.log.Warn("could not request local node info", "error", err)
		return nil
	}

	var owner *codec.User
	_, err := e.awaitFrame(ctx, e.timing.OwnerWait, func(f *codec.FromRadio) bool {
		_, msg, ok := adminMessage(f)
		if ok && msg.GetOwnerResponse != nil {
			owner = msg.GetOwnerResponse
			return true
		}
		return false
	})
	switch {
	case errors.Is(err, errWaitTimeout):
		e.log.Warn("could not fetch local node info")
		return nil
	case err != nil:
		return err
	}

	e.log.Info("local node identity", "id", owner.ID, "long_name", owner.LongName, "short_name", owner.ShortName)
	if id, err := core.ParseNodeID(owner.ID); err == nil {
		e.setLocalNode(id)
	}
	if e.signer != nil && len(owner.PublicKey) > 0 {
		if e.signer.MatchesPublicKey(owner.PublicKey) {
			e.log.Debug("local node public key matches signing identity")
		} else {
			e.log.Info("ensure this node is in the target's admin list", "id", owner.ID, "signing_key", e.signer.PublicKeyBase64())
		}
	}
	return nil
}

// fetchLoRa reads the target's LoRa config, retrying on timeout.
func (e *Engine) fetchLoRa(ctx context.Context, target core.NodeID, log *slog.Logger) (*codec.LoRaConfig, error) {
	attempts := e.timing.Attempts
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Info("requesting LoRa config", "attempt", attempt, "of", attempts)
		lora, err := e.readLoRa(ctx, target)
		if err == nil {
			log.Info("received LoRa config", "rx_boosted_gain", lora.RxBoostedGain)
			return lora, nil
		}
		if fatal(ctx, err) {
			return nil, err
		}
		log.Warn("get config failed", "attempt", attempt, "error", err)
		if err := e.drain(ctx, e.timing.RetryDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no response from %s after %d attempts", ErrFetchFailed, target, attempts)
}

// readLoRa sends one GetConfig(LoRa) request and waits for the matching
// response from target.
func (e *Engine) readLoRa(ctx context.Context, target core.NodeID) (*codec.LoRaConfig, error) {
	if err := e.sendAdmin(ctx, target, codec.NewGetConfigRequest(codec.ConfigTypeLoRa)); err != nil {
		return nil, err
	}

	var lora *codec.LoRaConfig
	_, err := e.awaitFrame(ctx, e.timing.ResponseWait, func(f *codec.FromRadio) bool {
		from, msg, ok := adminMessage(f)
		if !ok || from != target {
			return false
		}
		if cfg := msg.GetConfigResponse; cfg != nil && cfg.LoRa != nil {
			lora = cfg.LoRa
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return lora, nil
}

// awaitWriteResponse waits for any decoded packet from target after a
// write. Nodes may acknowledge silently, so a timeout is not an error.
func (e *Engine) awaitWriteResponse(ctx context.Context, target core.NodeID, log *slog.Logger) error {
	f, err := e.awaitFrame(ctx, e.timing.ResponseWait, func(f *codec.FromRadio) bool {
		return f.Packet != nil && f.Packet.Decoded != nil && core.NodeID(f.Packet.From) == target
	})
	switch {
	case errors.Is(err, errWaitTimeout):
		log.Info("no response to set config (normal if the node is silent on success)")
		return nil
	case err != nil:
		return err
	}

	if _, msg, ok := adminMessage(f); ok {
		log.Info("admin response from target", "kind", msg.Kind())
	} else {
		log.Info("response from target", "port", f.Packet.PortNum())
	}
	return nil
}

// sendAdmin attaches the cached session key for dest and sends msg.
func (e *Engine) sendAdmin(ctx context.Context, dest core.NodeID, msg *codec.AdminMessage) error {
	out := e.keys.Attach(dest, msg)

	sendCtx, cancel := context.WithTimeout(ctx, e.timing.ResponseWait)
	defer cancel()

	if err := e.transport.SendAdmin(sendCtx, dest, out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("sending %s to %s: %w", msg.Kind(), dest, err)
	}
	e.counters.AdminSent.Add(1)
	e.log.Debug("admin request sent", "kind", msg.Kind(), "dest", dest, "keyed", len(out.SessionPasskey) > 0)
	return nil
}

// awaitFrame reads frames until match reports true or timeout elapses.
// Every frame read is observed first. A nil match consumes frames for the
// whole timeout.
func (e *Engine) awaitFrame(ctx context.Context, timeout time.Duration, match func(*codec.FromRadio) bool) (*codec.FromRadio, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errWaitTimeout
		case f, ok := <-e.frames:
			if !ok {
				return nil, ErrLinkClosed
			}
			e.observe(f)
			if match != nil && match(f) {
				return f, nil
			}
		}
	}
}

// drain waits for d while still harvesting session keys from inbound
// frames.
func (e *Engine) drain(ctx context.Context, d time.Duration) error {
	_, err := e.awaitFrame(ctx, d, nil)
	if errors.Is(err, errWaitTimeout) {
		return nil
	}
	return err
}

// fatal reports whether err ends the run rather than a single attempt.
// A per-send timeout is an attempt failure; cancellation of ctx is not.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ErrLinkClosed) ||
		errors.Is(err, transport.ErrNotConnected)
}

// adminMessage decodes the admin payload of f, if it carries one.
func adminMessage(f *codec.FromRadio) (core.NodeID, *codec.AdminMessage, bool) {
	if f == nil || f.Packet.PortNum() != codec.PortNumAdmin {
		return 0, nil, false
	}
	msg, err := codec.UnmarshalAdmin(f.Packet.Decoded.Payload)
	if err != nil {
		return 0, nil, false
	}
	return core.NodeID(f.Packet.From), msg, true
}
