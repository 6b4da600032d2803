package sync

import (
	"sync"
	"time"

	"github.com/provender/shelfsync/pkg/errors"
)

// State is the run-state of a sync engine instance.
type State string

const (
	// StateIdle means no run is in progress.
	StateIdle State = "idle"
	// StateRunning means a run holds the single-flight section.
	StateRunning State = "running"
	// StateError means the last run was aborted by an infrastructure error.
	StateError State = "error"
)

// Tracker is the explicit idle→running→{idle,error} state machine guarding
// the single-flight sync section. It is injected into the engine rather than
// held as a package global so that multiple instances and tests keep
// independent state. Coordination is process-local only: a second process is
// not guarded against.
type Tracker struct {
	mu          sync.Mutex
	state       State
	startedAt   time.Time
	lastRunTime time.Time
}

// NewTracker creates a Tracker in the idle state.
func NewTracker() *Tracker {
	return &Tracker{state: StateIdle}
}

// TryStart transitions idle→running, or error→running (a failed run does not
// block subsequent attempts). A concurrent caller while running fails fast
// with ErrSyncAlreadyRunning rather than queuing.
func (t *Tracker) TryStart() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRunning {
		return errors.ErrSyncAlreadyRunning
	}

	t.state = StateRunning
	t.startedAt = time.Now()
	return nil
}

// Finish transitions running→idle on success or running→error on an
// infrastructure failure.
func (t *Tracker) Finish(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.state = StateIdle
	} else {
		t.state = StateError
	}
	t.lastRunTime = time.Now()
}

// State returns the current run state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastRunTime returns when the last run finished, zero if none has.
func (t *Tracker) LastRunTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRunTime
}

// Recover resets a running state older than staleAfter back to idle, for a
// run that stopped without reaching Finish. staleAfter must be positive: the
// tracker cannot distinguish a wedged run from a live one, so there is no
// unconditional reset. Returns true if a reset happened.
func (t *Tracker) Recover(staleAfter time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if staleAfter <= 0 {
		return false
	}
	if t.state != StateRunning {
		return false
	}
	if time.Since(t.startedAt) < staleAfter {
		return false
	}

	t.state = StateIdle
	return true
}
