// Package timer tracks one task's work, break and pause time.
//
// Session is the pure state machine. Driver runs a Session against a real
// clock, persists a Snapshot after every change and watches for the task
// disappearing underneath it.
package timer

import (
	"errors"
	"fmt"

	"edu-tracker/internal/model"
)

type Phase string

const (
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
	PhaseBreak   Phase = "break"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseRunning, PhasePaused, PhaseBreak:
		return true
	}
	return false
}

var (
	ErrInvalidTransition = errors.New("invalid timer transition")
	ErrSessionClosed     = errors.New("timer session closed")
	ErrInvalidSnapshot   = errors.New("invalid timer snapshot")
)

// Snapshot is the recoverable state of a session. Times are whole seconds.
type Snapshot struct {
	MainTime  int   `json:"mainTime"`
	BreakTime int   `json:"breakTime"`
	PauseTime int   `json:"pauseTime"`
	Phase     Phase `json:"status"`
}

func (s Snapshot) Validate() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: phase %q", ErrInvalidSnapshot, s.Phase)
	}
	if s.MainTime < 0 || s.BreakTime < 0 || s.PauseTime < 0 {
		return fmt.Errorf("%w: negative counter", ErrInvalidSnapshot)
	}
	return nil
}

// Session is not safe for concurrent use; Driver guards it.
type Session struct {
	state     Snapshot
	finishing bool
	closed    bool
}

// NewSession starts a fresh session in the running phase.
func NewSession() *Session {
	return &Session{state: Snapshot{Phase: PhaseRunning}}
}

// ResumeSession re-enters the state machine from a persisted snapshot.
func ResumeSession(s Snapshot) (*Session, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Session{state: s}, nil
}

func (s *Session) Snapshot() Snapshot { return s.state }
func (s *Session) Phase() Phase       { return s.state.Phase }

// Finishing reports whether a finish was requested and the session is
// waiting for the completion input.
func (s *Session) Finishing() bool { return s.finishing }
func (s *Session) Closed() bool    { return s.closed }

// Tick adds one second to the counter of the current phase. It reports
// whether anything changed; a finishing or closed session does not count.
func (s *Session) Tick() bool {
	if s.closed || s.finishing {
		return false
	}
	switch s.state.Phase {
	case PhaseRunning:
		s.state.MainTime++
	case PhaseBreak:
		s.state.BreakTime++
	case PhasePaused:
		s.state.PauseTime++
	default:
		return false
	}
	return true
}

// Pause moves running to paused.
func (s *Session) Pause() error {
	return s.transition(PhasePaused, PhaseRunning)
}

// Continue moves paused to running.
func (s *Session) Continue() error {
	return s.transition(PhaseRunning, PhasePaused)
}

// StartBreak moves running or paused to break.
func (s *Session) StartBreak() error {
	return s.transition(PhaseBreak, PhaseRunning, PhasePaused)
}

// EndBreak moves break back to running.
func (s *Session) EndBreak() error {
	return s.transition(PhaseRunning, PhaseBreak)
}

// RequestFinish stops counting from any phase until the caller either
// completes the session or calls CancelFinish.
func (s *Session) RequestFinish() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.finishing {
		return fmt.Errorf("%w: finish already requested", ErrInvalidTransition)
	}
	s.finishing = true
	s.state.Phase = PhasePaused
	return nil
}

// CancelFinish goes back to work after a finish request.
func (s *Session) CancelFinish() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.finishing {
		return fmt.Errorf("%w: no finish requested", ErrInvalidTransition)
	}
	s.finishing = false
	s.state.Phase = PhaseRunning
	return nil
}

// Close leaves the state machine for good.
func (s *Session) Close() {
	s.closed = true
}

// Completion reports the final counters in the form the task store expects.
func (s *Session) Completion() model.Completion {
	return model.Completion{
		ActualDuration: s.state.MainTime,
		BreakTime:      s.state.BreakTime,
		PauseTime:      s.state.PauseTime,
	}
}

func (s *Session) transition(to Phase, from ...Phase) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.finishing {
		return fmt.Errorf("%w: finish pending", ErrInvalidTransition)
	}
	for _, f := range from {
		if s.state.Phase == f {
			s.state.Phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state.Phase, to)
}
