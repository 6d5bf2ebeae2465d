package txmgr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbsim/internal/dbhandler"
	"adbsim/internal/lockmgr"
	"adbsim/internal/logging"
	"adbsim/internal/wal"
)

type harness struct {
	db      *dbhandler.Handler
	locks   *lockmgr.Manager
	journal *wal.Manager
	txns    *Manager
}

func newHarness(t *testing.T, timeoutCycles int) *harness {
	t.Helper()
	log, err := logging.New(logging.LevelError, "", 0, 0)
	require.NoError(t, err)

	dir := t.TempDir()
	db := dbhandler.New(filepath.Join(dir, "db"), 4, 25, log)
	db.Load()

	locks := lockmgr.New(timeoutCycles, log)

	journal, err := wal.New(filepath.Join(dir, "log.csv"), 25, nil, log)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	txns := New(db, locks, journal, log)
	return &harness{db: db, locks: locks, journal: journal, txns: txns}
}

func TestStartTransactionRejectsDoubleStart(t *testing.T) {
	h := newHarness(t, 10)
	assert.True(t, h.txns.StartTransaction(1))
	assert.False(t, h.txns.StartTransaction(1))
}

func TestSubmitOperationAppliesToggleWrite(t *testing.T) {
	h := newHarness(t, 10)
	require.True(t, h.txns.StartTransaction(1))

	assert.True(t, h.txns.SubmitOperation(1, 0))
	v, ok := h.db.Get(0)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, h.txns.OperationCount(1))
}

func TestSubmitOperationBlocksOnContention(t *testing.T) {
	h := newHarness(t, 10)
	require.True(t, h.txns.StartTransaction(1))
	require.True(t, h.txns.StartTransaction(2))

	assert.True(t, h.txns.SubmitOperation(1, 0))
	assert.False(t, h.txns.SubmitOperation(2, 0))
	assert.True(t, h.txns.IsBlocked(2))
}

func TestCommitReleasesLocksAndUnblocksWaiter(t *testing.T) {
	h := newHarness(t, 10)
	require.True(t, h.txns.StartTransaction(1))
	require.True(t, h.txns.StartTransaction(2))

	require.True(t, h.txns.SubmitOperation(1, 0))
	require.False(t, h.txns.SubmitOperation(2, 0))

	require.True(t, h.txns.CommitTransaction(1))
	h.txns.UnblockPending()

	assert.False(t, h.txns.IsBlocked(2))
	assert.Equal(t, 0, h.txns.OperationCount(2))
}

func TestRollbackUndoesInMemoryWrites(t *testing.T) {
	h := newHarness(t, 10)
	require.True(t, h.txns.StartTransaction(1))
	require.True(t, h.txns.SubmitOperation(1, 0))

	v, _ := h.db.Get(0)
	require.Equal(t, 1, v)

	assert.True(t, h.txns.RollbackTransaction(1))
	v, _ = h.db.Get(0)
	assert.Equal(t, 0, v)
}

func TestCommitRejectedForUnknownOrTerminalTransaction(t *testing.T) {
	h := newHarness(t, 10)
	assert.False(t, h.txns.CommitTransaction(99))

	require.True(t, h.txns.StartTransaction(1))
	require.True(t, h.txns.CommitTransaction(1))
	assert.False(t, h.txns.CommitTransaction(1))
}

func TestAbortForDeadlockUndoesAndMarksRolledBack(t *testing.T) {
	h := newHarness(t, 1)
	require.True(t, h.txns.StartTransaction(1))
	require.True(t, h.txns.StartTransaction(2))

	require.True(t, h.txns.SubmitOperation(1, 0))
	require.False(t, h.txns.SubmitOperation(2, 0))

	h.locks.Tick()
	victims := h.locks.CheckDeadlocks()
	require.Equal(t, []int64{2}, victims)

	h.txns.AbortForDeadlock(2)
	state, ok := h.txns.State(2)
	require.True(t, ok)
	assert.Equal(t, RolledBack, state)
}

func TestForgetPanicsOnNonTerminalTransaction(t *testing.T) {
	h := newHarness(t, 10)
	require.True(t, h.txns.StartTransaction(1))
	assert.Panics(t, func() { h.txns.Forget(1) })
}

func TestForgetDropsTerminalTransaction(t *testing.T) {
	h := newHarness(t, 10)
	require.True(t, h.txns.StartTransaction(1))
	require.True(t, h.txns.CommitTransaction(1))

	h.txns.Forget(1)
	_, ok := h.txns.State(1)
	assert.False(t, ok)
}
