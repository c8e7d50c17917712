package timer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"edu-tracker/internal/model"
)

// DefaultInterval is the tick granularity.
const DefaultInterval = time.Second

// ErrTaskRemoved is returned once the driver noticed its task was deleted.
var ErrTaskRemoved = errors.New("task was removed")

// Ticker is the part of time.Ticker the driver uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type Option func(*Driver)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.interval = d
		}
	}
}

// WithTicker replaces the real-time ticker factory.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(dr *Driver) { dr.newTicker = fn }
}

// OnRemoved registers a callback fired once when the task disappears.
func OnRemoved(fn func(taskID string)) Option {
	return func(dr *Driver) { dr.onRemoved = fn }
}

// Driver runs a Session against a ticker. All methods are safe for
// concurrent use.
type Driver struct {
	taskID    string
	store     SnapshotStore
	checker   TaskChecker
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	onRemoved func(taskID string)

	mu      sync.Mutex
	session *Session
	removed bool
	parent  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewDriver(taskID string, session *Session, store SnapshotStore, checker TaskChecker, opts ...Option) *Driver {
	d := &Driver{
		taskID:    taskID,
		session:   session,
		store:     store,
		checker:   checker,
		interval:  DefaultInterval,
		newTicker: newRealTicker,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) TaskID() string { return d.taskID }

// Start begins ticking until ctx is cancelled or the session ends.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parent = ctx
	d.startLocked()
}

func (d *Driver) startLocked() {
	if d.cancel != nil || d.session.Closed() {
		return
	}
	ctx, cancel := context.WithCancel(d.parent)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	go d.run(ctx, d.newTicker(d.interval), done)
}

func (d *Driver) run(ctx context.Context, t Ticker, done chan struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if !d.tick(ctx) {
				return
			}
		}
	}
}

// tick reports whether the loop should keep going.
func (d *Driver) tick(ctx context.Context) bool {
	exists, err := d.checker.Exists(ctx, d.taskID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Printf("[warn] timer %s: check task: %v", d.taskID, err)
		exists = true
	}
	if !exists {
		d.markRemoved(ctx, false)
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed || d.session.Closed() {
		return false
	}
	if d.session.Tick() {
		d.saveLocked(ctx)
	}
	return true
}

// stopLocked cancels the tick loop. With wait it also blocks until the
// loop goroutine has exited; callers on the loop goroutine must not wait.
func (d *Driver) stopLocked(wait bool) {
	if d.cancel == nil {
		return
	}
	d.cancel()
	done := d.done
	d.cancel = nil
	d.done = nil
	if wait {
		d.mu.Unlock()
		<-done
		d.mu.Lock()
	}
}

// Stop cancels ticking and keeps the snapshot for later recovery.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(true)
}

// Snapshot returns the current counters and phase.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Snapshot()
}

func (d *Driver) Finishing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Finishing()
}

func (d *Driver) Removed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Closed()
}

func (d *Driver) Pause(ctx context.Context) error      { return d.apply(ctx, (*Session).Pause) }
func (d *Driver) Continue(ctx context.Context) error   { return d.apply(ctx, (*Session).Continue) }
func (d *Driver) StartBreak(ctx context.Context) error { return d.apply(ctx, (*Session).StartBreak) }
func (d *Driver) EndBreak(ctx context.Context) error   { return d.apply(ctx, (*Session).EndBreak) }
func (d *Driver) RequestFinish(ctx context.Context) error {
	return d.apply(ctx, (*Session).RequestFinish)
}
func (d *Driver) CancelFinish(ctx context.Context) error {
	return d.apply(ctx, (*Session).CancelFinish)
}

func (d *Driver) apply(ctx context.Context, fn func(*Session) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return ErrTaskRemoved
	}
	if err := fn(d.session); err != nil {
		return err
	}
	d.saveLocked(ctx)
	return nil
}

// Finish hands the final counters plus the answers in extra to sink.
// Ticking stops first so the numbers cannot move underneath the sink.
// On success the snapshot is removed and the session closed. If the sink
// fails because the task vanished the driver ends as removed; any other
// failure restarts ticking so the child can retry.
func (d *Driver) Finish(ctx context.Context, extra model.Completion, sink CompletionSink) (*model.Task, error) {
	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return nil, ErrTaskRemoved
	}
	if d.session.Closed() {
		d.mu.Unlock()
		return nil, ErrSessionClosed
	}
	d.stopLocked(true)
	completion := d.session.Completion()
	d.mu.Unlock()

	completion.PagesRead = extra.PagesRead
	completion.CorrectCount = extra.CorrectCount
	completion.IncorrectCount = extra.IncorrectCount
	completion.EmptyCount = extra.EmptyCount

	task, err := sink.CompleteTask(ctx, d.taskID, completion)
	if err != nil {
		if exists, cerr := d.checker.Exists(ctx, d.taskID); cerr == nil && !exists {
			d.markRemoved(ctx, true)
			return nil, ErrTaskRemoved
		}
		d.mu.Lock()
		if d.parent != nil {
			d.startLocked()
		}
		d.mu.Unlock()
		return nil, err
	}

	d.mu.Lock()
	d.session.Close()
	d.mu.Unlock()
	if err := d.store.Delete(ctx, d.taskID); err != nil {
		log.Printf("[warn] timer %s: delete snapshot: %v", d.taskID, err)
	}
	return task, nil
}

// Discard throws the session away; the task stays pending with no progress.
func (d *Driver) Discard(ctx context.Context) error {
	d.mu.Lock()
	d.stopLocked(true)
	d.session.Close()
	d.mu.Unlock()
	if err := d.store.Delete(ctx, d.taskID); err != nil {
		return err
	}
	return nil
}

// TaskRemoved is called by the task store when the task was deleted while
// this driver may still be running.
func (d *Driver) TaskRemoved(ctx context.Context) {
	d.markRemoved(ctx, true)
}

func (d *Driver) markRemoved(ctx context.Context, wait bool) {
	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return
	}
	d.removed = true
	d.session.Close()
	d.stopLocked(wait)
	d.mu.Unlock()

	if err := d.store.Delete(context.WithoutCancel(ctx), d.taskID); err != nil {
		log.Printf("[warn] timer %s: delete snapshot: %v", d.taskID, err)
	}
	log.Printf("[info] timer %s stopped: task removed", d.taskID)
	if d.onRemoved != nil {
		d.onRemoved(d.taskID)
	}
}

// saveLocked persists the current state. A failed write is logged and the
// session keeps going; the last good snapshot stays in the store.
func (d *Driver) saveLocked(ctx context.Context) {
	if err := d.store.Set(ctx, d.taskID, d.session.Snapshot()); err != nil {
		log.Printf("[warn] timer %s: save snapshot: %v", d.taskID, err)
	}
}
