// Package sim implements the Simulation Driver of spec.md §4.5: a
// deterministic cycle loop that spawns, advances, commits, and rolls back
// transactions under probability parameters, drives deadlock detection,
// and triggers periodic flushes. Grounded on the teacher's
// benchmark/benchmark.go workload-generation style (math/rand-driven
// per-operation classification, a config struct, a running-stats
// result) with the latency/throughput/scoring machinery dropped: the
// driver here has no wall-clock notion to benchmark against, only
// logical cycles (spec.md §5).
package sim

import (
	"math/rand"

	"adbsim/internal/config"
	"adbsim/internal/dbhandler"
	"adbsim/internal/lockmgr"
	"adbsim/internal/logging"
	"adbsim/internal/txmgr"
	"adbsim/internal/wal"
)

// Stats summarizes a completed (or crashed-at-boundary) run, used by
// cmd/adbsim for its end-of-run log line.
type Stats struct {
	CyclesRun      int
	Started        int
	Committed      int
	RolledBack     int
	DeadlockAborts int
	Locks          lockmgr.Stats
}

// Driver owns the per-run transaction set and RNG and advances the whole
// simulation one cycle at a time.
type Driver struct {
	cfg *config.SimConfig
	rng *rand.Rand

	db      *dbhandler.Handler
	locks   *lockmgr.Manager
	journal *wal.Manager
	txns    *txmgr.Manager
	log     *logging.Logger

	nextTxnID int64
	active    []int64

	stats Stats
}

// New wires the four core components and a driver around them. The
// caller is responsible for db.Load() and journal.Recover(db) before
// Run, mirroring spec.md §9's startup order (recover before simulating).
func New(cfg *config.SimConfig, db *dbhandler.Handler, locks *lockmgr.Manager, journal *wal.Manager, txns *txmgr.Manager, log *logging.Logger, seed int64) *Driver {
	return &Driver{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		db:        db,
		locks:     locks,
		journal:   journal,
		txns:      txns,
		log:       log.With("driver"),
		nextTxnID: 1,
	}
}

// Run executes spec.md §4.5's per-cycle algorithm for cfg.Cycles cycles.
// On ordinary termination it returns without flushing or committing
// anything beyond what the per-25-write threshold already forced,
// modeling the crash-at-boundary semantics — unless CleanShutdown is
// set, in which case it flushes and rolls back every still-active
// transaction before returning.
func (d *Driver) Run() Stats {
	for c := 0; c < d.cfg.Cycles; c++ {
		d.runCycle()
		d.stats.CyclesRun++
	}

	if d.cfg.CleanShutdown {
		d.cleanShutdown()
	}

	d.stats.Locks = d.locks.Snapshot()
	return d.stats
}

func (d *Driver) runCycle() {
	if d.rng.Float64() < d.cfg.StartProb {
		d.startNewTransaction()
	}

	d.advanceActive()

	d.txns.UnblockPending()

	d.locks.Tick()
	victims := d.locks.CheckDeadlocks()
	for _, txnID := range victims {
		d.txns.AbortForDeadlock(txnID)
		d.stats.DeadlockAborts++
		d.removeActive(txnID)
	}

	if d.journal.WriteCount() >= d.cfg.FlushThreshold {
		if err := d.journal.FlushLogs(); err != nil {
			d.log.Errorf("periodic log flush failed: %v", err)
		}
		if err := d.db.Flush(); err != nil {
			d.log.Errorf("periodic db flush failed: %v", err)
		}
	}
}

func (d *Driver) startNewTransaction() {
	txnID := d.nextTxnID
	d.nextTxnID++

	if !d.txns.StartTransaction(txnID) {
		d.log.Warnf("start_transaction failed for txn %d", txnID)
		return
	}

	d.active = append(d.active, txnID)
	d.stats.Started++
}

// advanceActive implements the per-transaction step of spec.md §4.5's
// step 2, iterating a snapshot of the active list since commits and
// rollbacks mutate it via removeActive.
func (d *Driver) advanceActive() {
	current := make([]int64, len(d.active))
	copy(current, d.active)

	for _, txnID := range current {
		if d.txns.IsBlocked(txnID) {
			continue
		}

		if d.txns.OperationCount(txnID) >= d.cfg.TransSize {
			d.txns.CommitTransaction(txnID)
			d.stats.Committed++
			d.removeActive(txnID)
			continue
		}

		r := d.rng.Float64()
		switch {
		case r < d.cfg.RollbackProb:
			d.txns.RollbackTransaction(txnID)
			d.stats.RolledBack++
			d.removeActive(txnID)
		case r < d.cfg.RollbackProb+d.cfg.WriteProb:
			dataID := d.rng.Intn(d.cfg.SlotCount)
			d.txns.SubmitOperation(txnID, dataID)
		default:
			// Noop: this cycle contributes nothing for this transaction.
		}
	}
}

// removeActive drops a terminal transaction from the active list and
// forgets its bookkeeping in the transaction manager, so records don't
// accumulate for the lifetime of the run (every call site reaches this
// only after the transaction has just become Committed or RolledBack).
func (d *Driver) removeActive(txnID int64) {
	for i, id := range d.active {
		if id == txnID {
			d.active = append(d.active[:i], d.active[i+1:]...)
			break
		}
	}
	d.txns.Forget(txnID)
}

// cleanShutdown implements the optional mode spec.md §4.5 allows: flush
// WAL+DB and roll back every remaining active transaction instead of
// exiting mid-flight.
func (d *Driver) cleanShutdown() {
	current := make([]int64, len(d.active))
	copy(current, d.active)

	for _, txnID := range current {
		d.txns.RollbackTransaction(txnID)
		d.stats.RolledBack++
		d.removeActive(txnID)
	}

	if err := d.journal.FlushLogs(); err != nil {
		d.log.Errorf("clean shutdown: log flush failed: %v", err)
	}
	if err := d.db.Flush(); err != nil {
		d.log.Errorf("clean shutdown: db flush failed: %v", err)
	}
}
