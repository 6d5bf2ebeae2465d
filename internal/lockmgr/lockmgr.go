// Package lockmgr implements spec.md §4.2: shared/exclusive locks on data
// slots, FIFO wait queues per slot, and cycle-based timeout deadlock
// resolution. It is grounded on the teacher's transaction/lock_manager.go
// (resource -> holders/wait-queue map shape) and transaction/
// deadlock_detector.go (a detector that inspects the lock manager's state
// on its own schedule), but every concurrency primitive (mutex, condition
// variable, goroutine, channel, wall-clock timer) is dropped: spec.md §5
// is explicit that the simulator is single-threaded and cooperative, and
// the only clock is the logical cycle counter this package owns.
package lockmgr

import (
	"adbsim/internal/logging"
)

// Manager owns the lock table, wait queues, and the wait-cycle table. It
// is only used from the single-threaded simulation (the transaction
// manager and the driver), so none of its state needs synchronization.
type Manager struct {
	locks      map[int]*entry
	waitQueues map[int][]waiter
	waitCycles map[int64]int

	timeoutCycles int
	cycle         int

	log *logging.Logger

	granted int
	queued  int
	aborted int
}

// New creates a lock manager with the given deadlock timeout in cycles.
func New(timeoutCycles int, log *logging.Logger) *Manager {
	return &Manager{
		locks:         make(map[int]*entry),
		waitQueues:    make(map[int][]waiter),
		waitCycles:    make(map[int64]int),
		timeoutCycles: timeoutCycles,
		log:           log.With("lockmgr"),
	}
}

// Acquire implements spec.md §4.2's rule list, evaluated in order.
func (m *Manager) Acquire(txnID int64, dataID int, mode LockMode) Result {
	e, exists := m.locks[dataID]

	// Rule 1: unlocked slot.
	if !exists {
		m.locks[dataID] = &entry{mode: mode, holders: map[int64]struct{}{txnID: {}}}
		m.granted++
		return Granted
	}

	// Rule 3: txid already holds the lock.
	if _, holds := e.holders[txnID]; holds {
		if e.mode == Exclusive {
			// Already sufficient for either Shared or Exclusive request.
			m.granted++
			return Granted
		}
		// e.mode == Shared
		if mode == Shared {
			m.granted++
			return Granted
		}
		// mode == Exclusive: upgrade.
		if len(e.holders) == 1 {
			e.mode = Exclusive
			m.granted++
			return Granted
		}
		// Upgrade refused: queue it.
		return m.enqueue(dataID, txnID, mode)
	}

	// Rule 2: requested Shared, current Shared -> join holders.
	if mode == Shared && e.mode == Shared {
		e.holders[txnID] = struct{}{}
		m.granted++
		return Granted
	}

	// Rule 4: otherwise, queue.
	return m.enqueue(dataID, txnID, mode)
}

func (m *Manager) enqueue(dataID int, txnID int64, mode LockMode) Result {
	m.waitQueues[dataID] = append(m.waitQueues[dataID], waiter{txnID: txnID, mode: mode})
	if _, ok := m.waitCycles[txnID]; !ok {
		m.waitCycles[txnID] = 0
	}
	m.queued++
	m.log.Debugf("txn %d queued for %s lock on slot %d", txnID, mode, dataID)
	return Queued
}

// ReleaseAll implements spec.md §4.2's release_all: drop every lock the
// transaction holds, drain waiters for any slot that becomes free, and
// clear its wait-cycle bookkeeping. Releasing an unknown txid is a no-op
// logged at WARN (spec.md §7 IllegalTransactionTransition-adjacent).
func (m *Manager) ReleaseAll(txnID int64) {
	held := false

	for dataID, e := range m.locks {
		if _, ok := e.holders[txnID]; !ok {
			continue
		}
		held = true
		delete(e.holders, txnID)
		if len(e.holders) == 0 {
			delete(m.locks, dataID)
		}
		// Drain waiters whenever the holder set shrinks, not only when it
		// empties: a queued upgrade request (the requester is itself still
		// a holder) only becomes grantable once a co-holder's release
		// leaves it as the slot's sole remaining holder (spec.md §8
		// Concrete Scenario 3).
		m.grantWaiters(dataID)
	}

	for dataID, q := range m.waitQueues {
		filtered := q[:0]
		for _, w := range q {
			if w.txnID != txnID {
				filtered = append(filtered, w)
			}
		}
		if len(filtered) == 0 {
			delete(m.waitQueues, dataID)
		} else {
			m.waitQueues[dataID] = filtered
		}
	}

	delete(m.waitCycles, txnID)

	if !held {
		m.log.Warnf("release_all called for unknown or lockless txn %d", txnID)
	}
}

// grantWaiters implements spec.md §4.2's grant_waiters: drain the head of
// the queue for dataID as long as it can be granted, honoring the
// anti-starvation rule (an exclusive waiter blocks later shared waiters
// from jumping ahead, but earlier shared heads may coalesce).
func (m *Manager) grantWaiters(dataID int) {
	for {
		q := m.waitQueues[dataID]
		if len(q) == 0 {
			return
		}
		head := q[0]

		if head.mode == Shared {
			e, locked := m.locks[dataID]
			if !locked {
				e = &entry{mode: Shared, holders: map[int64]struct{}{}}
				m.locks[dataID] = e
			} else if e.mode != Shared {
				return
			}
			e.holders[head.txnID] = struct{}{}
			m.popHead(dataID)
			delete(m.waitCycles, head.txnID)
			m.log.Debugf("txn %d granted shared lock on slot %d from wait queue", head.txnID, dataID)
			continue
		}

		// head.mode == Exclusive: grant if the slot is now unlocked, or if
		// the head is itself the slot's sole remaining holder (a queued
		// upgrade request becoming grantable once the other shared
		// holders have released).
		e, locked := m.locks[dataID]
		if locked {
			_, headHolds := e.holders[head.txnID]
			if !headHolds || len(e.holders) != 1 {
				return
			}
			e.mode = Exclusive
		} else {
			m.locks[dataID] = &entry{mode: Exclusive, holders: map[int64]struct{}{head.txnID: {}}}
		}
		m.popHead(dataID)
		delete(m.waitCycles, head.txnID)
		m.log.Debugf("txn %d granted exclusive lock on slot %d from wait queue", head.txnID, dataID)
	}
}

func (m *Manager) popHead(dataID int) {
	q := m.waitQueues[dataID]
	q = q[1:]
	if len(q) == 0 {
		delete(m.waitQueues, dataID)
	} else {
		m.waitQueues[dataID] = q
	}
}

// Tick implements spec.md §4.2's tick: advance the cycle counter and
// increment the wait count of every transaction still present in any
// wait queue.
func (m *Manager) Tick() {
	m.cycle++

	waiting := make(map[int64]struct{})
	for _, q := range m.waitQueues {
		for _, w := range q {
			waiting[w.txnID] = struct{}{}
		}
	}
	for txnID := range waiting {
		m.waitCycles[txnID]++
	}
}

// CheckDeadlocks implements spec.md §4.2's check_deadlocks: abort every
// transaction whose wait count has reached the timeout, releasing its
// locks and purging it from every wait queue. It returns the aborted
// transaction IDs for the transaction manager to roll back.
func (m *Manager) CheckDeadlocks() []int64 {
	var victims []int64
	for txnID, waited := range m.waitCycles {
		if waited >= m.timeoutCycles {
			victims = append(victims, txnID)
		}
	}

	for _, txnID := range victims {
		m.log.Warnf("txn %d aborted by deadlock timeout after %d cycles", txnID, m.waitCycles[txnID])
		m.ReleaseAll(txnID)
		m.aborted++
	}

	return victims
}

// Stats is a read-only snapshot of lock-manager activity, grounded on the
// teacher's GetLockInfo/GetBlockedTransactions introspection API but
// narrowed to simple counters (spec.md §1 excludes network/metrics
// surfaces; this is for the driver's own end-of-run summary log).
type Stats struct {
	Granted int
	Queued  int
	Aborted int
}

// Snapshot returns current lock-manager counters.
func (m *Manager) Snapshot() Stats {
	return Stats{Granted: m.granted, Queued: m.queued, Aborted: m.aborted}
}

// Holds reports whether txnID is currently a holder of the lock on
// dataID. The transaction manager uses this to re-probe a blocked
// transaction's pending request after a queue drain, since the simulator
// has no suspended-continuation mechanism to be woken by directly
// (spec.md §5: "the driver polls").
func (m *Manager) Holds(txnID int64, dataID int) bool {
	e, ok := m.locks[dataID]
	if !ok {
		return false
	}
	_, holds := e.holders[txnID]
	return holds
}

// BlockedTransactions returns every transaction ID currently present in
// any wait queue, grounded on the teacher's GetBlockedTransactions.
func (m *Manager) BlockedTransactions() []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, q := range m.waitQueues {
		for _, w := range q {
			if _, ok := seen[w.txnID]; !ok {
				seen[w.txnID] = struct{}{}
				out = append(out, w.txnID)
			}
		}
	}
	return out
}
