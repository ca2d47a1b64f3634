package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwatch/tabwatch/errors"
)

func TestStatusBoardSetAndGet(t *testing.T) {
	board := NewStatusBoard(0, nil)

	board.Set("tab-1", PhaseCapturing, 1, nil)
	status := board.Get("tab-1")
	assert.Equal(t, PhaseCapturing, status.Phase)
	assert.Equal(t, 1, status.Attempt)
	assert.Empty(t, status.Error)

	assert.Equal(t, PhaseIdle, board.Get("unknown").Phase)
}

func TestStatusBoardRecordsError(t *testing.T) {
	board := NewStatusBoard(0, nil)

	board.Set("tab-1", PhaseFailed, 3, errors.New("page never became ready"))
	assert.Equal(t, "page never became ready", board.Get("tab-1").Error)
}

func TestTerminalStatusAutoClears(t *testing.T) {
	board := NewStatusBoard(30*time.Millisecond, nil)

	board.Set("tab-1", PhaseDone, 0, nil)
	assert.Equal(t, PhaseDone, board.Get("tab-1").Phase)

	assert.Eventually(t, func() bool {
		return board.Get("tab-1").Phase == PhaseIdle
	}, time.Second, 5*time.Millisecond)
}

func TestNonTerminalStatusDoesNotClear(t *testing.T) {
	board := NewStatusBoard(20*time.Millisecond, nil)

	board.Set("tab-1", PhaseCapturing, 0, nil)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, PhaseCapturing, board.Get("tab-1").Phase)
}

func TestNewTransitionCancelsPendingClear(t *testing.T) {
	board := NewStatusBoard(30*time.Millisecond, nil)

	board.Set("tab-1", PhaseDone, 0, nil)
	board.Set("tab-1", PhasePreparing, 1, nil)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, PhasePreparing, board.Get("tab-1").Phase)
}

func TestOnChangeObservesTransitionsAndClears(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase
	board := NewStatusBoard(20*time.Millisecond, func(s Status) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	board.Set("tab-1", PhaseDone, 0, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(phases) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseDone, PhaseIdle}, phases)
}

func TestSnapshotListsAllTabs(t *testing.T) {
	board := NewStatusBoard(0, nil)
	board.Set("tab-1", PhaseCapturing, 0, nil)
	board.Set("tab-2", PhaseDelivering, 1, nil)

	snapshot := board.Snapshot()
	assert.Len(t, snapshot, 2)
}
