package autosave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pitabwire/casewizard/internal/clock"
	"github.com/pitabwire/casewizard/internal/values"
	"github.com/pitabwire/casewizard/model"
)

type call struct {
	key   string
	value any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recorder) persist(_ context.Context, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{key: key, value: value})
	return r.err
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

type stateLog struct {
	mu     sync.Mutex
	states map[string][]model.SaveState
}

func (l *stateLog) listen(key string, state model.SaveState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.states == nil {
		l.states = map[string][]model.SaveState{}
	}
	l.states[key] = append(l.states[key], state)
}

func (l *stateLog) of(key string) []model.SaveState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.SaveState(nil), l.states[key]...)
}

type outcomeObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeObserver) RecordAutosave(kind, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, kind+":"+outcome)
}

func (o *outcomeObserver) RecordAutosaveCoalesced(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, kind+":coalesced")
}

func newTestCoordinator(t *testing.T, rec *recorder, gate func() error) (*Coordinator, *clock.Manual, *values.Store, *stateLog) {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	store := values.NewStore()
	log := &stateLog{}
	c := New(Options{
		Kind:     "field",
		Delay:    DefaultFieldDelay,
		Clock:    clk,
		Persist:  rec.persist,
		Sink:     store,
		Gate:     gate,
		Listener: log.listen,
	})
	return c, clk, store, log
}

func TestCoordinator_singleEditLifecycle(t *testing.T) {
	rec := &recorder{}
	c, clk, store, log := newTestCoordinator(t, rec, nil)

	if err := c.Edit("weight_kg", 12.5); err != nil {
		t.Fatalf("Edit error: %v", err)
	}
	if v, _ := store.Get("weight_kg"); v != 12.5 {
		t.Errorf("store value = %v, want 12.5 immediately", v)
	}
	if st := c.Status("weight_kg"); st.State != model.SaveIdle || !st.Pending {
		t.Errorf("status before debounce = %+v, want idle pending", st)
	}

	clk.Advance(DefaultFieldDelay - time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("calls before window elapsed = %d, want 0", n)
	}

	clk.Advance(time.Millisecond)
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].key != "weight_kg" || calls[0].value != 12.5 {
		t.Fatalf("calls = %+v, want one weight_kg=12.5", calls)
	}
	if st := c.Status("weight_kg"); st.State != model.SaveSaved || st.Pending {
		t.Errorf("status after save = %+v, want saved", st)
	}

	clk.Advance(DefaultSavedDisplay)
	if st := c.Status("weight_kg"); st.State != model.SaveIdle {
		t.Errorf("status after display window = %s, want idle", st.State)
	}

	want := []model.SaveState{model.SaveIdle, model.SaveSaving, model.SaveSaved, model.SaveIdle}
	got := log.of("weight_kg")
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCoordinator_coalescesRapidEdits(t *testing.T) {
	rec := &recorder{}
	c, clk, _, _ := newTestCoordinator(t, rec, nil)

	for _, v := range []string{"W", "Wi", "Wid", "Widg", "Widgets"} {
		_ = c.Edit("description", v)
		clk.Advance(100 * time.Millisecond)
	}
	clk.Advance(DefaultFieldDelay)

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].value != "Widgets" {
		t.Errorf("persisted value = %v, want Widgets", calls[0].value)
	}
}

func TestCoordinator_keysAreIndependent(t *testing.T) {
	rec := &recorder{}
	c, clk, _, _ := newTestCoordinator(t, rec, nil)

	_ = c.Edit("a", "1")
	clk.Advance(400 * time.Millisecond)
	_ = c.Edit("b", "2")
	clk.Advance(200 * time.Millisecond)

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].key != "a" {
		t.Fatalf("calls at 600ms = %+v, want only a", calls)
	}
	if st := c.Status("b"); !st.Pending {
		t.Error("b pending = false, want true")
	}

	clk.Advance(400 * time.Millisecond)
	if calls = rec.snapshot(); len(calls) != 2 || calls[1].key != "b" {
		t.Fatalf("calls at 1000ms = %+v, want a then b", calls)
	}
}

func TestCoordinator_errorPersistsUntilNextEdit(t *testing.T) {
	rec := &recorder{err: errors.New("boom")}
	obs := &outcomeObserver{}
	clk := clock.NewManual(time.Unix(0, 0))
	c := New(Options{Clock: clk, Persist: rec.persist, Observer: obs})

	_ = c.Edit("weight_kg", 1.0)
	clk.Advance(DefaultFieldDelay)
	clk.Advance(10 * time.Second)

	st := c.Status("weight_kg")
	if st.State != model.SaveError || st.Err == nil {
		t.Fatalf("status = %+v, want error", st)
	}
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", n)
	}

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	_ = c.Edit("weight_kg", 2.0)
	if st := c.Status("weight_kg"); st.State != model.SaveIdle || st.Err != nil {
		t.Errorf("status after re-edit = %+v, want idle without error", st)
	}
	clk.Advance(DefaultFieldDelay)
	if st := c.Status("weight_kg"); st.State != model.SaveSaved {
		t.Errorf("status = %s, want saved", st.State)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.outcomes) != 2 || obs.outcomes[0] != "field:error" || obs.outcomes[1] != "field:saved" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestCoordinator_staleResponseIgnored(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	release := make(chan struct{})
	started := make(chan struct{})
	var n atomic.Int32

	persist := func(_ context.Context, _ string, _ any) error {
		if n.Add(1) == 1 {
			close(started)
			<-release
			return errors.New("late failure")
		}
		return nil
	}
	c := New(Options{Clock: clk, Persist: persist})

	_ = c.Edit("weight_kg", 1.0)
	done := make(chan struct{})
	go func() {
		clk.Advance(DefaultFieldDelay)
		close(done)
	}()
	<-started

	if err := c.Edit("weight_kg", 2.0); err != nil {
		t.Fatalf("Edit error: %v", err)
	}
	if st := c.Status("weight_kg"); st.State != model.SaveSaving || !st.Pending {
		t.Errorf("status during in-flight = %+v, want saving pending", st)
	}

	close(release)
	<-done

	clk.Advance(DefaultFieldDelay)
	if st := c.Status("weight_kg"); st.State != model.SaveSaved {
		t.Errorf("status = %s, want saved from the newer request", st.State)
	}
	if got := n.Load(); got != 2 {
		t.Errorf("persist calls = %d, want 2", got)
	}
}

func TestCoordinator_gateRefusesAndDrops(t *testing.T) {
	var readonly atomic.Bool
	gate := func() error {
		if readonly.Load() {
			return model.NewCaseReadonlyError(model.CasePrepared)
		}
		return nil
	}
	rec := &recorder{}
	c, clk, store, _ := newTestCoordinator(t, rec, gate)

	_ = c.Edit("weight_kg", 12.5)
	readonly.Store(true)

	clk.Advance(DefaultFieldDelay)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("calls = %d, want 0 after case became read-only", n)
	}

	err := c.Edit("weight_kg", 99.0)
	if model.CodeOf(err) != model.ErrCaseReadonly {
		t.Errorf("Edit error = %v, want CASE_READONLY", err)
	}
	if v, _ := store.Get("weight_kg"); v != 12.5 {
		t.Errorf("store value = %v, want unchanged 12.5", v)
	}
}

func TestCoordinator_cancelAllAndClose(t *testing.T) {
	rec := &recorder{}
	c, clk, _, _ := newTestCoordinator(t, rec, nil)

	_ = c.Edit("a", "1")
	_ = c.Edit("b", "2")
	c.CancelAll()
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
	clk.Advance(time.Minute)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}

	c.Close()
	if err := c.Edit("a", "3"); model.CodeOf(err) != model.ErrSessionClosed {
		t.Errorf("Edit after Close error = %v, want SESSION_CLOSED", err)
	}
}

func TestCoordinator_cancelAllDuringInFlightSaveGoesIdle(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	release := make(chan struct{})
	started := make(chan struct{})
	var n atomic.Int32
	log := &stateLog{}

	persist := func(_ context.Context, _ string, _ any) error {
		if n.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}
	c := New(Options{Clock: clk, Persist: persist, Listener: log.listen})

	_ = c.Edit("weight_kg", 1.0)
	done := make(chan struct{})
	go func() {
		clk.Advance(DefaultFieldDelay)
		close(done)
	}()
	<-started

	_ = c.Edit("weight_kg", 2.0)
	c.CancelAll()
	if st := c.Status("weight_kg"); st.State != model.SaveSaving || st.Pending {
		t.Errorf("status after cancel = %+v, want saving, not pending", st)
	}

	close(release)
	<-done

	if st := c.Status("weight_kg"); st.State != model.SaveIdle {
		t.Errorf("status = %s, want idle once the in-flight save returns", st.State)
	}
	states := log.of("weight_kg")
	if got := states[len(states)-1]; got != model.SaveIdle {
		t.Errorf("last notified state = %s, want idle", got)
	}
	clk.Advance(time.Minute)
	if got := n.Load(); got != 1 {
		t.Errorf("persist calls = %d, want the cancelled edit never sent", got)
	}
}

func TestCoordinator_cancelAllResetsSavedDisplay(t *testing.T) {
	rec := &recorder{}
	c, clk, _, _ := newTestCoordinator(t, rec, nil)

	_ = c.Edit("weight_kg", 12.5)
	clk.Advance(DefaultFieldDelay)
	if st := c.Status("weight_kg"); st.State != model.SaveSaved {
		t.Fatalf("status = %s, want saved", st.State)
	}
	c.CancelAll()
	if st := c.Status("weight_kg"); st.State != model.SaveIdle {
		t.Errorf("status = %s, want idle after CancelAll", st.State)
	}
}

func TestCoordinator_flushFiresPendingSaves(t *testing.T) {
	rec := &recorder{}
	c, clk, _, _ := newTestCoordinator(t, rec, nil)

	_ = c.Edit("b", "2")
	_ = c.Edit("a", "1")

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	calls := rec.snapshot()
	if len(calls) != 2 || calls[0].key != "a" || calls[1].key != "b" {
		t.Fatalf("calls = %+v, want a then b", calls)
	}
	if keys := c.PendingKeys(); len(keys) != 0 {
		t.Errorf("PendingKeys = %v, want none", keys)
	}

	clk.Advance(DefaultFieldDelay)
	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("calls after window = %d, want no duplicate saves", n)
	}
}

// dispatchedClock hands out timers whose Stop always reports the callback as
// already dispatched, while the callback itself still waits for Advance.
type dispatchedClock struct{ *clock.Manual }

func (c dispatchedClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.Manual.AfterFunc(d, f)
	return dispatchedTimer{}
}

type dispatchedTimer struct{}

func (dispatchedTimer) Stop() bool { return false }

func TestCoordinator_flushFiresSavesWhoseTimerAlreadyFired(t *testing.T) {
	rec := &recorder{}
	clk := dispatchedClock{clock.NewManual(time.Unix(0, 0))}
	c := New(Options{Clock: clk, Persist: rec.persist})

	_ = c.Edit("weight_kg", 12.5)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].value != 12.5 {
		t.Fatalf("calls = %+v, want the pending value saved by Flush", calls)
	}
	if st := c.Status("weight_kg"); st.State != model.SaveSaved || st.Pending {
		t.Errorf("status = %+v, want saved", st)
	}

	clk.Advance(DefaultFieldDelay)
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("calls after late callback = %d, want 1", n)
	}
}

func TestCoordinator_flushReportsFailures(t *testing.T) {
	rec := &recorder{err: model.NewBackendUnavailableError()}
	c, _, _, _ := newTestCoordinator(t, rec, nil)

	_ = c.Edit("a", "1")
	err := c.Flush(context.Background())
	if model.CodeOf(err) != model.ErrBackendUnavailable {
		t.Errorf("Flush error = %v, want BACKEND_UNAVAILABLE", err)
	}
}

func TestCoordinator_notesUseLongerDelay(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewManual(time.Unix(0, 0))
	var notes string
	c := New(Options{
		Kind:    "notes",
		Delay:   DefaultNotesDelay,
		Clock:   clk,
		Persist: rec.persist,
		Sink:    SinkFunc(func(_ string, v any) { notes, _ = v.(string) }),
	})

	_ = c.Edit("notes", "check invoice")
	if notes != "check invoice" {
		t.Errorf("sink notes = %q", notes)
	}
	clk.Advance(DefaultFieldDelay)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("calls at field delay = %d, want 0", n)
	}
	clk.Advance(DefaultNotesDelay - DefaultFieldDelay)
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("calls at notes delay = %d, want 1", n)
	}
}
