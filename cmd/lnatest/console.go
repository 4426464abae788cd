package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kabili207/lnatest/device/engine"
	"github.com/kabili207/lnatest/record"
	"github.com/kabili207/lnatest/record/mqtt"
)

const (
	barWidth = 30
	// queueSize bounds the MQTT backlog; older snapshots are worthless
	// once the queue is this far behind.
	queueSize = 256
)

// console renders a single progress line and prints log lines above it.
type console struct {
	mu  sync.Mutex
	w   io.Writer
	bar string
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) Progress(p engine.ProgressState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bar = progressLine(p, barWidth)
	fmt.Fprintf(c.w, "\r\033[K%s", c.bar)
}

func (c *console) Log(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "\r\033[K%s\n", line)
	if c.bar != "" {
		fmt.Fprint(c.w, c.bar)
	}
}

// Finish ends the progress line.
func (c *console) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != "" {
		fmt.Fprintln(c.w)
		c.bar = ""
	}
}

// progressLine renders "[####------]  40.0% | LNA OFF | status | ETA 4m30s".
func progressLine(p engine.ProgressState, width int) string {
	frac := min(max(p.TotalProgress, 0), 1)
	filled := int(frac * float64(width))

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat("-", width-filled))
	fmt.Fprintf(&b, "] %5.1f%%", frac*100)
	if p.Phase != "" && p.Phase != engine.PhaseDone {
		fmt.Fprintf(&b, " | %s", p.Phase)
	}
	if p.Status != "" {
		fmt.Fprintf(&b, " | %s", p.Status)
	}
	if p.ETASeconds > 0 {
		fmt.Fprintf(&b, " | ETA %s", time.Duration(p.ETASeconds)*time.Second)
	}
	return b.String()
}

// publisher is the part of mqtt.Publisher the forwarder drives.
type publisher interface {
	PublishProgress(v any) error
	PublishLog(line string) error
	Append(r record.Record) error
}

var _ publisher = (*mqtt.Publisher)(nil)

// forwarder moves progress snapshots, samples and log lines to MQTT off the
// engine goroutine. Messages that do not fit in the queue are dropped.
type forwarder struct {
	pub     publisher
	enabled atomic.Bool
	queue   chan func(publisher) error
	failed  atomic.Uint64
}

func newForwarder() *forwarder {
	return &forwarder{queue: make(chan func(publisher) error, queueSize)}
}

// enable must be called before the publisher starts.
func (f *forwarder) enable(pub publisher) {
	f.pub = pub
	f.enabled.Store(true)
}

func (f *forwarder) progress(p engine.ProgressState) {
	f.push(func(pub publisher) error { return pub.PublishProgress(p) })
}

func (f *forwarder) log(line string) {
	f.push(func(pub publisher) error { return pub.PublishLog(line) })
}

func (f *forwarder) sample(r record.Record) {
	f.push(func(pub publisher) error { return pub.Append(r) })
}

// Sink returns a record sink that queues samples instead of publishing
// them on the caller's goroutine.
func (f *forwarder) Sink() record.Sink {
	return queuedSink{f}
}

func (f *forwarder) push(fn func(publisher) error) {
	if !f.enabled.Load() {
		return
	}
	select {
	case f.queue <- fn:
	default:
		f.failed.Add(1)
	}
}

// run publishes queued messages until done is closed, then drains what is
// left so the final snapshot is delivered.
func (f *forwarder) run(done <-chan struct{}) {
	for {
		select {
		case fn := <-f.queue:
			f.send(fn)
		case <-done:
			for {
				select {
				case fn := <-f.queue:
					f.send(fn)
				default:
					return
				}
			}
		}
	}
}

func (f *forwarder) send(fn func(publisher) error) {
	if err := fn(f.pub); err != nil {
		f.failed.Add(1)
	}
}

// queuedSink hands samples to a forwarder. Drops are counted by the
// forwarder, so Append never fails.
type queuedSink struct {
	fwd *forwarder
}

func (s queuedSink) Append(r record.Record) error {
	s.fwd.sample(r)
	return nil
}

func (queuedSink) Close() error { return nil }
