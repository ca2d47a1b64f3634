package watch

import (
	"sync"
	"time"
)

// Phase is where a tab's watch currently stands.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhasePreparing      Phase = "preparing"
	PhaseWaitingReady   Phase = "waiting_ready"
	PhaseRunningActions Phase = "running_actions"
	PhaseCapturing      Phase = "capturing"
	PhaseDelivering     Phase = "delivering"
	PhaseRetrying       Phase = "retrying"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// terminal phases clear back to idle after a hold period
func (p Phase) terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Status is the externally visible state of one tab's watch.
type Status struct {
	TabID     string    `json:"tab_id"`
	Phase     Phase     `json:"phase"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusBoard tracks per-tab watch status for the API and websocket
// stream. Terminal statuses clear themselves after clearAfter, so stale
// results do not linger as if a watch were still running.
type StatusBoard struct {
	mu         sync.Mutex
	statuses   map[string]Status
	timers     map[string]*time.Timer
	clearAfter time.Duration
	onChange   func(Status)
}

// NewStatusBoard creates a status board. onChange, if non-nil, is invoked
// for every transition including auto-clears.
func NewStatusBoard(clearAfter time.Duration, onChange func(Status)) *StatusBoard {
	return &StatusBoard{
		statuses:   make(map[string]Status),
		timers:     make(map[string]*time.Timer),
		clearAfter: clearAfter,
		onChange:   onChange,
	}
}

// Set records the status for a tab.
func (b *StatusBoard) Set(tabID string, phase Phase, attempt int, err error) {
	status := Status{
		TabID:     tabID,
		Phase:     phase,
		Attempt:   attempt,
		UpdatedAt: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}

	b.mu.Lock()
	b.statuses[tabID] = status

	// Any new transition supersedes a pending auto-clear
	if timer, ok := b.timers[tabID]; ok {
		timer.Stop()
		delete(b.timers, tabID)
	}

	if phase.terminal() && b.clearAfter > 0 {
		b.timers[tabID] = time.AfterFunc(b.clearAfter, func() {
			b.clear(tabID, status.UpdatedAt)
		})
	}
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(status)
	}
}

// clear resets a tab to idle if its status has not changed since setAt
func (b *StatusBoard) clear(tabID string, setAt time.Time) {
	b.mu.Lock()
	current, ok := b.statuses[tabID]
	if !ok || !current.UpdatedAt.Equal(setAt) {
		b.mu.Unlock()
		return
	}

	status := Status{TabID: tabID, Phase: PhaseIdle, UpdatedAt: time.Now()}
	b.statuses[tabID] = status
	delete(b.timers, tabID)
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(status)
	}
}

// Get returns the status for a tab; unknown tabs are idle.
func (b *StatusBoard) Get(tabID string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	if status, ok := b.statuses[tabID]; ok {
		return status
	}
	return Status{TabID: tabID, Phase: PhaseIdle}
}

// Snapshot returns the status of every tracked tab.
func (b *StatusBoard) Snapshot() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Status, 0, len(b.statuses))
	for _, status := range b.statuses {
		out = append(out, status)
	}
	return out
}
