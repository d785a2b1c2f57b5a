// Package pipeline drives one generation state machine per narration text:
// synthesize, probe duration, embed a playback handle, publish both.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/narvoxlabs/narvox-core/internal/audioprobe"
	"github.com/narvoxlabs/narvox-core/internal/handle"
	"github.com/narvoxlabs/narvox-core/internal/speech"
)

// State names one phase of the generation machine.
type State string

const (
	StateIdle     State = "idle"
	StateInFlight State = "in_flight"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// Options tune one controller instance.
type Options struct {
	// GateOnHealth probes backend liveness before each attempt. Enabled for
	// the local backend; the cloud endpoint has no meaningful probe and
	// proceeds directly.
	GateOnHealth bool
	// AutoTrigger lets Initialize start generation without an explicit
	// Trigger call.
	AutoTrigger bool
	// RequestTimeout bounds one attempt end to end. Zero waits indefinitely.
	RequestTimeout time.Duration
}

// Snapshot is the consumer-facing view of the machine. Handle and Duration
// are set together in StateReady or not at all.
type Snapshot struct {
	State    State
	Text     string
	Handle   handle.Handle
	Duration time.Duration
	Err      error
}

// Controller owns the state machine for a single logical narration text.
// One generation may be in flight at a time; Trigger while in flight is a
// silent no-op rather than a queued second attempt.
type Controller struct {
	backend speech.Backend
	base    speech.SynthesisRequest
	opts    Options
	log     *slog.Logger

	mu       sync.Mutex
	state    State
	text     string
	handle   handle.Handle
	duration time.Duration
	err      error
	gen      uint64
	closed   bool
	liveness bool
	updates  chan struct{}

	wg sync.WaitGroup
}

// New builds an idle controller around a backend and a request template.
func New(backend speech.Backend, base speech.SynthesisRequest, opts Options, log *slog.Logger) *Controller {
	return &Controller{
		backend: backend,
		base:    base,
		opts:    opts,
		log: log.With(
			slog.String("component", "pipeline"),
			slog.String("backend", backend.Name()),
		),
		state:   StateIdle,
		updates: make(chan struct{}),
	}
}

// SetText installs a new narration text. Different text invalidates any
// stale handle and resets the machine to idle; an in-flight attempt for the
// old text runs to completion and its result is discarded.
func (c *Controller) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == c.text {
		return
	}
	c.text = text
	c.gen++
	c.state = StateIdle
	c.handle = handle.Handle{}
	c.duration = 0
	c.err = nil
	c.bumpLocked()
}

// NoteLiveness records the most recent probe result from the availability
// monitor. Auto-trigger on a gated backend waits for a positive report.
func (c *Controller) NoteLiveness(ok bool) {
	c.mu.Lock()
	c.liveness = ok
	c.mu.Unlock()
}

// Trigger starts one generation attempt. It is a silent idempotent skip
// unless the machine is idle or failed with a non-empty text and nothing in
// flight. The attempt itself runs asynchronously; observe it via Snapshot
// or Await.
func (c *Controller) Trigger(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.text == "" || (c.state != StateIdle && c.state != StateFailed) {
		c.mu.Unlock()
		return
	}
	c.state = StateInFlight
	c.err = nil
	c.handle = handle.Handle{}
	c.duration = 0
	gen := c.gen
	text := c.text
	c.bumpLocked()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, gen, text)
	}()
}

// Initialize applies the auto-trigger policy once: trigger when text is
// non-empty, no handle is published, nothing is in flight, and - for gated
// backends - liveness is already known true. Called once by the owning
// consumer instead of an implicit run-on-attach effect.
func (c *Controller) Initialize(ctx context.Context) {
	if !c.opts.AutoTrigger {
		return
	}
	c.mu.Lock()
	skip := c.closed || c.text == "" || c.state != StateIdle || !c.handle.IsZero() ||
		(c.opts.GateOnHealth && !c.liveness)
	c.mu.Unlock()
	if skip {
		return
	}
	c.Trigger(ctx)
}

func (c *Controller) run(ctx context.Context, gen uint64, text string) {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	if c.opts.GateOnHealth && !c.backend.CheckHealth(ctx) {
		c.fail(gen, fmt.Errorf("%s %w", c.backend.Name(), speech.ErrServerUnavailable))
		return
	}

	req := c.base
	req.Text = text
	res, err := c.backend.Synthesize(ctx, req)
	if err != nil {
		c.fail(gen, err)
		return
	}

	dur, err := audioprobe.Duration(res.Audio, res.MimeType)
	if err != nil {
		c.fail(gen, err)
		return
	}

	h, err := handle.FromBytes(res.Audio, res.MimeType)
	if err != nil {
		c.fail(gen, err)
		return
	}

	c.publish(gen, h, dur)
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		c.log.Debug("discarding stale failure", slog.String("error", err.Error()))
		return
	}
	c.state = StateFailed
	c.err = err
	c.bumpLocked()
	c.log.Warn("generation failed", slog.String("error", err.Error()))
}

func (c *Controller) publish(gen uint64, h handle.Handle, dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		c.log.Debug("discarding stale result")
		return
	}
	c.state = StateReady
	c.handle = h
	c.duration = dur
	c.err = nil
	c.bumpLocked()
	c.log.Info("generation ready", slog.Duration("duration", dur))
}

// bumpLocked wakes Await callers. Callers must hold c.mu.
func (c *Controller) bumpLocked() {
	close(c.updates)
	c.updates = make(chan struct{})
}

// Snapshot returns the current machine state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:    c.state,
		Text:     c.text,
		Handle:   c.handle,
		Duration: c.duration,
		Err:      c.err,
	}
}

// Await blocks until the machine settles in Ready or Failed, or the context
// expires.
func (c *Controller) Await(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		snap := c.snapshotLocked()
		ch := c.updates
		c.mu.Unlock()

		if snap.State == StateReady || snap.State == StateFailed {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}

// Close tears the instance down. An in-flight attempt is not aborted; it
// runs to completion and its result is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.bumpLocked()
	c.mu.Unlock()
}
