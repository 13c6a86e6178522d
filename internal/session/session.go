// Package session holds the per-issue orchestration state and the data
// model each pipeline phase produces.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is a pipeline state.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhasePlanning    Phase = "planning"
	PhaseResearching Phase = "researching"
	PhaseDevPlanning Phase = "devplanning"
	PhaseDeveloping  Phase = "developing"
	PhaseVerifying   Phase = "verifying"
	PhaseReporting   Phase = "reporting"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

var (
	// ErrInvalidTransition is returned when a phase change breaks the forward-only order.
	ErrInvalidTransition = errors.New("session: invalid phase transition")

	// ErrTerminal is returned when a terminal session is advanced other than
	// by a restart.
	ErrTerminal = errors.New("session: phase is terminal")
)

// WorkPhases returns the six work phases in execution order.
func WorkPhases() []Phase {
	return []Phase{PhasePlanning, PhaseResearching, PhaseDevPlanning, PhaseDeveloping, PhaseVerifying, PhaseReporting}
}

var order = map[Phase]int{
	PhaseInit:        0,
	PhasePlanning:    1,
	PhaseResearching: 2,
	PhaseDevPlanning: 3,
	PhaseDeveloping:  4,
	PhaseVerifying:   5,
	PhaseReporting:   6,
	PhaseCompleted:   7,
}

// Terminal reports whether no further work happens in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransition reports whether from -> to is legal: one step forward,
// any non-terminal phase to Failed, or any phase back to Planning (restart).
func CanTransition(from, to Phase) bool {
	switch {
	case to == PhasePlanning:
		return true
	case to == PhaseFailed:
		return !from.Terminal()
	}
	fi, ok1 := order[from]
	ti, ok2 := order[to]
	return ok1 && ok2 && ti == fi+1
}

// BranchName returns the working branch for an issue.
func BranchName(issue int) string {
	return fmt.Sprintf("project-%d", issue)
}

// Session is one orchestration run tied to a single originating issue.
// Identity fields are immutable; phase and restart state are guarded.
type Session struct {
	ID           int
	Owner        string
	Repo         string
	Title        string
	Branch       string
	Requirements string
	CreatedAt    time.Time

	mu        sync.Mutex
	phase     Phase
	restart   bool
	restarts  int
	runActive bool
}

// New creates a session in the Init phase.
func New(owner, repo string, issue int, title, requirements string, now time.Time) *Session {
	return &Session{
		ID:           issue,
		Owner:        owner,
		Repo:         repo,
		Title:        title,
		Branch:       BranchName(issue),
		Requirements: requirements,
		CreatedAt:    now,
		phase:        PhaseInit,
	}
}

// Key identifies the session across repositories.
func (s *Session) Key() string {
	return Key(s.Owner, s.Repo, s.ID)
}

// Key builds a session key from its parts.
func Key(owner, repo string, issue int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, issue)
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Advance moves the session to the next phase.
func (s *Session) Advance(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() && to != PhasePlanning {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, s.phase, to)
	}
	if !CanTransition(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
	}
	s.phase = to
	return nil
}

// Fail moves the session to Failed unless it is already terminal.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.Terminal() {
		s.phase = PhaseFailed
	}
}

// RequestRestart records a restart command to be observed at the next
// phase boundary.
func (s *Session) RequestRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restart = true
}

// TakeRestart consumes a pending restart request.
func (s *Session) TakeRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.restart
	s.restart = false
	if pending {
		s.restarts++
	}
	return pending
}

// RestartPending reports whether a restart request is waiting.
func (s *Session) RestartPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restart
}

// Restarts returns how many restarts have been taken.
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// BeginRun marks a run as active. It returns false if one already is.
func (s *Session) BeginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runActive {
		return false
	}
	s.runActive = true
	return true
}

// EndRun marks the active run as finished.
func (s *Session) EndRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runActive = false
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runActive
}
