// Package autosave implements debounced per-key persistence with a four-state
// save status per key. One Coordinator serves one wizard session; a session
// may own several coordinators with different delays (fields, notes).
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/clock"
	"github.com/pitabwire/casewizard/model"
)

// Default timings.
const (
	DefaultFieldDelay   = 600 * time.Millisecond
	DefaultNotesDelay   = 1500 * time.Millisecond
	DefaultSavedDisplay = 2 * time.Second
)

// PersistFunc writes one value for key to the remote API.
type PersistFunc func(ctx context.Context, key string, value any) error

// Sink receives optimistic writes on every accepted edit. *values.Store
// satisfies it.
type Sink interface {
	Set(key string, value any)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key string, value any)

// Set calls f.
func (f SinkFunc) Set(key string, value any) { f(key, value) }

// Listener is notified after every save state change, outside any lock.
type Listener func(key string, state model.SaveState)

// Observer records save outcomes. Implemented by observability.Metrics.
type Observer interface {
	RecordAutosave(kind, outcome string, duration time.Duration)
	RecordAutosaveCoalesced(kind string)
}

// Status is the save status of one key.
type Status struct {
	State   model.SaveState
	Pending bool
	Err     error
}

// Options configures a Coordinator.
type Options struct {
	// Kind labels metrics and logs, e.g. "field" or "notes".
	Kind         string
	Delay        time.Duration
	SavedDisplay time.Duration
	Clock        clock.Clock
	Persist      PersistFunc
	Sink         Sink
	// Gate returns a non-nil error while the case is not editable. It is
	// consulted on every edit and again when a debounce timer fires, with the
	// coordinator lock held, so it must not block.
	Gate     func() error
	Listener Listener
	Observer Observer
	Logger   *zap.Logger
	// Context is the base context for persistence calls.
	Context context.Context
}

// Coordinator owns the debounce timers and save state of a set of keys.
type Coordinator struct {
	kind     string
	delay    time.Duration
	display  time.Duration
	clock    clock.Clock
	persist  PersistFunc
	sink     Sink
	gate     func() error
	listener Listener
	observer Observer
	logger   *zap.Logger
	ctx      context.Context

	mu       sync.Mutex
	entries  map[string]*entry
	closed   bool
	inFlight int
	drained  chan struct{}
}

type entry struct {
	seq     uint64
	value   any
	timer   clock.Timer
	revert  clock.Timer
	state   model.SaveState
	pending bool
	err     error
	// saving counts persist calls in flight for this key.
	saving int
}

// New returns a Coordinator. Persist is required.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		kind:     opts.Kind,
		delay:    opts.Delay,
		display:  opts.SavedDisplay,
		clock:    opts.Clock,
		persist:  opts.Persist,
		sink:     opts.Sink,
		gate:     opts.Gate,
		listener: opts.Listener,
		observer: opts.Observer,
		logger:   opts.Logger,
		ctx:      opts.Context,
		entries:  make(map[string]*entry),
	}
	if c.kind == "" {
		c.kind = "field"
	}
	if c.delay <= 0 {
		c.delay = DefaultFieldDelay
	}
	if c.display <= 0 {
		c.display = DefaultSavedDisplay
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.gate == nil {
		c.gate = func() error { return nil }
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	return c
}

// Edit records a new value for key and restarts its debounce window. The
// value reaches the sink immediately. Edits are refused once the gate closes.
func (c *Coordinator) Edit(key string, value any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.NewSessionClosedError()
	}
	if err := c.gate(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.sink != nil {
		c.sink.Set(key, value)
	}

	e := c.entryLocked(key)
	coalesced := e.pending
	e.seq++
	e.value = value
	e.pending = true
	e.err = nil
	stop(e.timer)
	stop(e.revert)
	e.revert = nil
	if e.state != model.SaveSaving {
		e.state = model.SaveIdle
	}
	seq := e.seq
	state := e.state
	e.timer = c.clock.AfterFunc(c.delay, func() { _ = c.fire(key, seq) })
	c.mu.Unlock()

	if coalesced && c.observer != nil {
		c.observer.RecordAutosaveCoalesced(c.kind)
	}
	c.notify(key, state)
	return nil
}

// Status returns the save status of key. Unknown keys are idle.
func (c *Coordinator) Status(key string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Status{State: model.SaveIdle}
	}
	return Status{State: e.state, Pending: e.pending, Err: e.err}
}

// Statuses returns the status of every key that has been edited.
func (c *Coordinator) Statuses() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Status, len(c.entries))
	for k, e := range c.entries {
		out[k] = Status{State: e.state, Pending: e.pending, Err: e.err}
	}
	return out
}

// PendingKeys returns the keys whose debounce timer has not fired yet.
func (c *Coordinator) PendingKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k, e := range c.entries {
		if e.pending {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Flush fires every pending save immediately and waits until no save is in
// flight. It returns the joined errors of the pending saves, including those
// whose timer had already fired but not yet run.
func (c *Coordinator) Flush(ctx context.Context) error {
	type job struct {
		key string
		seq uint64
	}

	c.mu.Lock()
	var jobs []job
	for k, e := range c.entries {
		if !e.pending {
			continue
		}
		// A timer that already fired still has its callback queued; fire
		// runs once per seq, so whichever caller gets there second no-ops.
		stop(e.timer)
		e.timer = nil
		jobs = append(jobs, job{key: k, seq: e.seq})
	}
	c.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].key < jobs[j].key })

	var errs []error
	reported := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if err := c.fire(j.key, j.seq); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", j.key, err))
			reported[j.key] = true
		}
	}

	if err := c.wait(ctx); err != nil {
		return errors.Join(append(errs, err)...)
	}

	c.mu.Lock()
	for _, j := range jobs {
		e := c.entries[j.key]
		if !reported[j.key] && e.seq == j.seq && e.state == model.SaveError {
			errs = append(errs, fmt.Errorf("save %s: %w", j.key, e.err))
		}
	}
	c.mu.Unlock()
	return errors.Join(errs...)
}

// CancelAll stops every pending debounce and display timer. Edits queued but
// not yet fired are dropped and saved keys return to idle. In-flight saves
// are not aborted; a key whose newest edit was dropped goes idle once its
// last in-flight save returns.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	var dropped, reverted []string
	for k, e := range c.entries {
		stop(e.timer)
		stop(e.revert)
		e.timer, e.revert = nil, nil
		if e.pending {
			e.pending = false
			dropped = append(dropped, k)
		}
		if e.state == model.SaveSaved {
			e.state = model.SaveIdle
			reverted = append(reverted, k)
		}
	}
	c.mu.Unlock()

	for _, k := range reverted {
		c.notify(k, model.SaveIdle)
	}

	if len(dropped) > 0 {
		c.logger.Debug("autosave cancelled pending saves",
			zap.String("kind", c.kind),
			zap.Strings("keys", dropped),
		)
	}
}

// Close cancels all timers and discards the effects of any in-flight saves.
func (c *Coordinator) Close() {
	c.CancelAll()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// fire persists the value snapshotted for key if seq is still current.
func (c *Coordinator) fire(key string, seq uint64) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if c.closed || !ok || e.seq != seq || !e.pending {
		c.mu.Unlock()
		return nil
	}
	e.timer = nil
	e.pending = false
	if c.gate() != nil {
		c.mu.Unlock()
		c.record("dropped_readonly", 0)
		c.logger.Debug("autosave dropped on read-only case",
			zap.String("kind", c.kind),
			zap.String("key", key),
		)
		return nil
	}
	value := e.value
	e.state = model.SaveSaving
	e.saving++
	c.beginLocked()
	c.mu.Unlock()

	c.notify(key, model.SaveSaving)

	start := c.clock.Now()
	err := c.persist(c.ctx, key, value)
	elapsed := c.clock.Now().Sub(start)

	c.mu.Lock()
	c.endLocked()
	e.saving--
	if c.closed || e.seq != seq {
		// The newer edit was cancelled before it fired: nothing will move
		// this key out of saving.
		idle := !c.closed && !e.pending && e.saving == 0 && e.state == model.SaveSaving
		if idle {
			e.state = model.SaveIdle
		}
		c.mu.Unlock()
		c.record("stale", elapsed)
		if idle {
			c.notify(key, model.SaveIdle)
		}
		return err
	}
	var state model.SaveState
	if err != nil {
		e.state = model.SaveError
		e.err = err
		state = model.SaveError
	} else {
		e.state = model.SaveSaved
		state = model.SaveSaved
		e.revert = c.clock.AfterFunc(c.display, func() { c.revertSaved(key, seq) })
	}
	c.mu.Unlock()

	if err != nil {
		c.record("error", elapsed)
		c.logger.Warn("autosave failed",
			zap.String("kind", c.kind),
			zap.String("key", key),
			zap.Error(err),
		)
	} else {
		c.record("saved", elapsed)
	}
	c.notify(key, state)
	return err
}

func (c *Coordinator) revertSaved(key string, seq uint64) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if c.closed || !ok || e.seq != seq || e.state != model.SaveSaved {
		c.mu.Unlock()
		return
	}
	e.state = model.SaveIdle
	e.revert = nil
	c.mu.Unlock()
	c.notify(key, model.SaveIdle)
}

func (c *Coordinator) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{state: model.SaveIdle}
		c.entries[key] = e
	}
	return e
}

func (c *Coordinator) beginLocked() {
	if c.inFlight == 0 {
		c.drained = make(chan struct{})
	}
	c.inFlight++
}

func (c *Coordinator) endLocked() {
	c.inFlight--
	if c.inFlight == 0 {
		close(c.drained)
	}
}

func (c *Coordinator) wait(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight == 0 {
		c.mu.Unlock()
		return nil
	}
	ch := c.drained
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) notify(key string, state model.SaveState) {
	if c.listener != nil {
		c.listener(key, state)
	}
}

func (c *Coordinator) record(outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.RecordAutosave(c.kind, outcome, d)
	}
}

func stop(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}
