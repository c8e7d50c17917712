package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"edu-tracker/internal/model"
	"edu-tracker/internal/timer"
)

// SessionService runs the timed work sessions. At most one session is
// active at a time; its snapshot is persisted on every change so it can
// be recovered after a restart.
type SessionService struct {
	tasks *TaskService
	store timer.SnapshotStore
	opts  []timer.Option

	// base outlives the request that started a session
	base context.Context

	mu        sync.Mutex
	drivers   map[string]*timer.Driver
	listeners []func(taskID string)
}

func NewSessionService(base context.Context, tasks *TaskService, store timer.SnapshotStore, events *Events, opts ...timer.Option) *SessionService {
	s := &SessionService{
		tasks:   tasks,
		store:   store,
		opts:    opts,
		base:    base,
		drivers: make(map[string]*timer.Driver),
	}
	events.OnTaskDeleted(func(ctx context.Context, ev TaskDeleted) {
		s.taskDeleted(ctx, ev.TaskID)
	})
	return s
}

// OnRemoved registers fn to run when a running session stops because its
// task was deleted.
func (s *SessionService) OnRemoved(fn func(taskID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start begins a session on a pending task, resuming from its snapshot
// when one exists. Starting the task that is already running returns its
// driver.
func (s *SessionService) Start(ctx context.Context, taskID string) (*timer.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.drivers[taskID]; ok {
		return d, nil
	}
	if len(s.drivers) > 0 {
		return nil, ErrSessionActive
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsCompleted() {
		return nil, ErrTaskAlreadyCompleted
	}

	session := timer.NewSession()
	snap, ok, err := s.store.Get(ctx, taskID)
	switch {
	case errors.Is(err, timer.ErrInvalidSnapshot):
		log.Printf("[warn] session %s: dropping unreadable snapshot: %v", taskID, err)
		if err := s.store.Delete(ctx, taskID); err != nil {
			return nil, fmt.Errorf("delete snapshot: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("get snapshot: %w", err)
	case ok:
		if session, err = timer.ResumeSession(snap); err != nil {
			return nil, err
		}
		log.Printf("[info] session %s resumed at %ds", taskID, snap.MainTime)
	}

	if task.StartedAt == nil {
		if _, err := s.tasks.StartTask(ctx, taskID); err != nil {
			return nil, err
		}
	}

	opts := append([]timer.Option{timer.OnRemoved(s.removed)}, s.opts...)
	d := timer.NewDriver(taskID, session, s.store, s.tasks, opts...)
	s.drivers[taskID] = d
	d.Start(s.base)
	log.Printf("[info] session %s started", taskID)
	return d, nil
}

// StartFreeStudy creates a self-assigned study task and starts it at once.
func (s *SessionService) StartFreeStudy(ctx context.Context, courseID, title string, minutes int) (*model.Task, *timer.Driver, error) {
	task, err := s.tasks.AddSelfAssigned(ctx, courseID, title, minutes)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.Start(ctx, task.ID)
	if err != nil {
		return task, nil, err
	}
	return task, d, nil
}

func (s *SessionService) Driver(taskID string) (*timer.Driver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[taskID]
	return d, ok
}

// Active returns the running session, if any.
func (s *SessionService) Active() (*timer.Driver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.drivers {
		return d, true
	}
	return nil, false
}

func (s *SessionService) Pause(ctx context.Context, taskID string) error {
	return s.apply(ctx, taskID, (*timer.Driver).Pause)
}

func (s *SessionService) Continue(ctx context.Context, taskID string) error {
	return s.apply(ctx, taskID, (*timer.Driver).Continue)
}

func (s *SessionService) StartBreak(ctx context.Context, taskID string) error {
	return s.apply(ctx, taskID, (*timer.Driver).StartBreak)
}

func (s *SessionService) EndBreak(ctx context.Context, taskID string) error {
	return s.apply(ctx, taskID, (*timer.Driver).EndBreak)
}

// RequestFinish suspends counting while the child enters their answers.
func (s *SessionService) RequestFinish(ctx context.Context, taskID string) error {
	return s.apply(ctx, taskID, (*timer.Driver).RequestFinish)
}

func (s *SessionService) CancelFinish(ctx context.Context, taskID string) error {
	return s.apply(ctx, taskID, (*timer.Driver).CancelFinish)
}

func (s *SessionService) apply(ctx context.Context, taskID string, fn func(*timer.Driver, context.Context) error) error {
	d, ok := s.Driver(taskID)
	if !ok {
		return ErrNoActiveSession
	}
	return fn(d, ctx)
}

// Finish completes the task with the session's counters and the answers
// in input. Invalid answers leave the session untouched.
func (s *SessionService) Finish(ctx context.Context, taskID string, input model.Completion) (*model.Task, error) {
	d, ok := s.Driver(taskID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := CheckFinishInput(*task, input); err != nil {
		return nil, err
	}

	done, err := d.Finish(ctx, input, s.tasks)
	if errors.Is(err, timer.ErrTaskRemoved) {
		s.forget(taskID, d)
		return nil, ErrTaskNotFound
	}
	if err != nil {
		if errors.Is(err, ErrTaskAlreadyCompleted) {
			s.discard(ctx, taskID, d)
		}
		return nil, err
	}
	s.forget(taskID, d)
	return done, nil
}

// Complete finishes taskID through its running session when there is one,
// otherwise it records input as reported by the caller.
func (s *SessionService) Complete(ctx context.Context, taskID string, input model.Completion) (*model.Task, error) {
	if _, ok := s.Driver(taskID); ok {
		return s.Finish(ctx, taskID, input)
	}
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := CheckFinishInput(*task, input); err != nil {
		return nil, err
	}
	return s.tasks.CompleteTask(ctx, taskID, input)
}

// Discard abandons the session without completing the task.
func (s *SessionService) Discard(ctx context.Context, taskID string) error {
	d, ok := s.Driver(taskID)
	if !ok {
		if err := s.store.Delete(ctx, taskID); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
		return nil
	}
	return s.discard(ctx, taskID, d)
}

func (s *SessionService) discard(ctx context.Context, taskID string, d *timer.Driver) error {
	err := d.Discard(ctx)
	s.forget(taskID, d)
	if err != nil {
		return fmt.Errorf("discard session: %w", err)
	}
	log.Printf("[info] session %s discarded", taskID)
	return nil
}

// Recoverable finds an interrupted session to offer for resuming. Nothing
// is offered while a session is running.
func (s *SessionService) Recoverable(ctx context.Context) (*model.Task, timer.Snapshot, bool, error) {
	if _, ok := s.Active(); ok {
		return nil, timer.Snapshot{}, false, nil
	}
	pending, err := s.tasks.ListPending(ctx)
	if err != nil {
		return nil, timer.Snapshot{}, false, fmt.Errorf("list pending: %w", err)
	}
	return timer.FindRecoverable(ctx, s.store, pending)
}

// PurgeOrphans drops snapshots whose task is gone or no longer pending.
func (s *SessionService) PurgeOrphans(ctx context.Context) (int, error) {
	n, err := timer.PurgeOrphans(ctx, s.store, func(ctx context.Context, taskID string) (bool, error) {
		if _, ok := s.Driver(taskID); ok {
			return true, nil
		}
		return s.tasks.IsPending(ctx, taskID)
	})
	if n > 0 {
		log.Printf("[info] purged %d orphaned timer snapshots", n)
	}
	return n, err
}

// Shutdown stops every session, keeping their snapshots for recovery.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	drivers := make([]*timer.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		drivers = append(drivers, d)
	}
	s.drivers = make(map[string]*timer.Driver)
	s.mu.Unlock()
	for _, d := range drivers {
		d.Stop()
	}
}

func (s *SessionService) taskDeleted(ctx context.Context, taskID string) {
	d, ok := s.Driver(taskID)
	if !ok {
		return
	}
	d.TaskRemoved(ctx)
}

// removed runs once per driver when it notices its task is gone.
func (s *SessionService) removed(taskID string) {
	s.mu.Lock()
	if d, ok := s.drivers[taskID]; ok && d.Removed() {
		delete(s.drivers, taskID)
	}
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(taskID)
	}
}

func (s *SessionService) forget(taskID string, d *timer.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.drivers[taskID]; ok && cur == d {
		delete(s.drivers, taskID)
	}
}
