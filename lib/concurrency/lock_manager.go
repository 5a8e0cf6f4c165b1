package concurrency

import (
	"sort"
	"sync"
	"time"

	"github.com/lintang-b-s/pagedb/types"
	log "github.com/sirupsen/logrus"
)

type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

type visitedType int

const (
	notVisited visitedType = iota
	inStack
	visitedDone
)

// lockRequest . one transaction's position in a rid's queue. granted requests
// hold the lock, ungranted ones are parked on the queue's condvar.
type lockRequest struct {
	txnID   types.TxnID
	mode    LockMode
	granted bool
}

// lockRequestQueue . per-rid lock state: requests in FIFO arrival order, a
// condvar for waiters, and the id of the single transaction currently
// upgrading S->X (or invalid).
type lockRequestQueue struct {
	latch     sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading types.TxnID
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{upgrading: types.InvalidTxnID}
	q.cond = sync.NewCond(&q.latch)
	return q
}

// LockManager . row-level two-phase locking over rids with strict FIFO
// grants and a background wait-for-graph cycle detector.
type LockManager struct {
	latch     sync.Mutex
	lockTable map[types.RID]*lockRequestQueue
	waitsFor  map[types.TxnID][]types.TxnID

	txnManager *TransactionManager

	cycleDetectionInterval time.Duration
	stopCh                 chan struct{}
	stopped                sync.WaitGroup
}

func NewLockManager(cycleDetectionInterval time.Duration) *LockManager {
	lm := &LockManager{
		lockTable:              make(map[types.RID]*lockRequestQueue),
		waitsFor:               make(map[types.TxnID][]types.TxnID),
		cycleDetectionInterval: cycleDetectionInterval,
		stopCh:                 make(chan struct{}),
	}
	lm.stopped.Add(1)
	go lm.runCycleDetection()
	return lm
}

// Stop. shut the cycle detection goroutine down and wait for it.
func (lm *LockManager) Stop() {
	close(lm.stopCh)
	lm.stopped.Wait()
}

func (lm *LockManager) setTransactionManager(tm *TransactionManager) {
	lm.txnManager = tm
}

func (lm *LockManager) getQueue(rid types.RID) *lockRequestQueue {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	q, ok := lm.lockTable[rid]
	if !ok {
		q = newLockRequestQueue()
		lm.lockTable[rid] = q
	}
	return q
}

// abortImplicitly. flip the transaction to aborted and surface the reason.
func abortImplicitly(txn *Transaction, reason AbortReason) error {
	txn.SetState(Aborted)
	return &TransactionAbortError{TxnID: txn.ID(), Reason: reason}
}

/*
isLockCompatible. can this request be granted right now, given the queue?

an exclusive request is compatible iff it is the first request in the queue
and nobody else still holds a granted lock on the rid (covers both the
empty-holders case and the S->X upgrade, where the upgrader must outwait the
other shared holders). a shared request is compatible iff every request ahead
of it is a granted shared request. strict FIFO: a reader never overtakes a
waiting writer, so writers cannot starve.

caller must hold the queue latch.
*/
func isLockCompatible(q *lockRequestQueue, req *lockRequest) bool {
	if req.mode == Exclusive {
		if len(q.requests) == 0 || q.requests[0].txnID != req.txnID {
			return false
		}
		for _, r := range q.requests[1:] {
			if r.granted && r.txnID != req.txnID {
				return false
			}
		}
		return true
	}

	for _, r := range q.requests {
		if r.txnID == req.txnID {
			return true
		}
		if !r.granted || r.mode != Shared {
			return false
		}
	}
	return true
}

// removeRequest. drop txnID's request from the queue. caller must hold the
// queue latch. returns false if no request was found.
func (q *lockRequestQueue) removeRequest(txnID types.TxnID) bool {
	for i, r := range q.requests {
		if r.txnID == txnID {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}
	return false
}

// waitForGrant. park on the queue condvar until the request is compatible or
// the transaction is aborted by the deadlock detector. on abort the dead
// request is pulled out of the queue so it cannot block survivors.
// caller must hold the queue latch; it is still held on return.
func (q *lockRequestQueue) waitForGrant(txn *Transaction, req *lockRequest) error {
	for !isLockCompatible(q, req) && txn.State() != Aborted {
		q.cond.Wait()
	}

	if txn.State() == Aborted {
		q.removeRequest(txn.ID())
		if q.upgrading == txn.ID() {
			q.upgrading = types.InvalidTxnID
		}
		q.cond.Broadcast()
		return &TransactionAbortError{TxnID: txn.ID(), Reason: Deadlock}
	}
	return nil
}

// LockShared. acquire rid in shared mode, blocking until granted. aborts the
// transaction on isolation misuse or 2PL violation.
func (lm *LockManager) LockShared(txn *Transaction, rid types.RID) error {
	// read-uncommitted reads the latest version directly, it never takes
	// shared locks.
	if txn.IsolationLevel() == ReadUncommitted {
		return abortImplicitly(txn, LockSharedOnReadUncommitted)
	}

	if txn.IsolationLevel() == RepeatableRead && txn.State() == Shrinking {
		return abortImplicitly(txn, LockOnShrinking)
	}

	// idempotent: S under an already-held S or X is a no-op
	if txn.IsSharedLocked(rid) || txn.IsExclusiveLocked(rid) {
		return nil
	}

	q := lm.getQueue(rid)
	q.latch.Lock()
	defer q.latch.Unlock()

	req := &lockRequest{txnID: txn.ID(), mode: Shared}
	q.requests = append(q.requests, req)

	if err := q.waitForGrant(txn, req); err != nil {
		return err
	}

	req.granted = true
	txn.addSharedLock(rid)
	return nil
}

// LockExclusive. acquire rid in exclusive mode, blocking until granted.
// permitted under any isolation level; only a shrinking transaction aborts.
func (lm *LockManager) LockExclusive(txn *Transaction, rid types.RID) error {
	if txn.State() == Shrinking {
		return abortImplicitly(txn, LockOnShrinking)
	}

	if txn.IsExclusiveLocked(rid) {
		return nil
	}

	q := lm.getQueue(rid)
	q.latch.Lock()
	defer q.latch.Unlock()

	req := &lockRequest{txnID: txn.ID(), mode: Exclusive}
	q.requests = append(q.requests, req)

	if err := q.waitForGrant(txn, req); err != nil {
		return err
	}

	req.granted = true
	txn.addExclusiveLock(rid)
	return nil
}

/*
LockUpgrade. upgrade an already-held S on rid to X. only one transaction may
be upgrading a given rid at a time: if a second one tries while the first
still waits, both would need the other's S released first and neither could
ever proceed, so the second is aborted with UPGRADE_CONFLICT. cycles across
different rids are left to the deadlock detector.
*/
func (lm *LockManager) LockUpgrade(txn *Transaction, rid types.RID) error {
	if txn.State() == Shrinking {
		return abortImplicitly(txn, LockOnShrinking)
	}

	if txn.IsExclusiveLocked(rid) {
		return nil
	}

	q := lm.getQueue(rid)
	q.latch.Lock()
	defer q.latch.Unlock()

	if q.upgrading != types.InvalidTxnID {
		return abortImplicitly(txn, UpgradeConflict)
	}
	q.upgrading = txn.ID()

	// flip this transaction's granted S request into an ungranted X request
	// in place, keeping its queue position.
	var req *lockRequest
	for _, r := range q.requests {
		if r.txnID == txn.ID() {
			req = r
			break
		}
	}
	if req == nil {
		panic("lock upgrade without a shared lock held on the rid")
	}
	req.mode = Exclusive
	req.granted = false

	if err := q.waitForGrant(txn, req); err != nil {
		return err
	}

	req.granted = true
	txn.removeSharedLock(rid)
	txn.addExclusiveLock(rid)
	q.upgrading = types.InvalidTxnID
	return nil
}

// Unlock. release txn's lock on rid. under repeatable-read this transitions
// a growing transaction into shrinking (strict 2PL); under read-committed
// shared locks may be dropped early and the transaction keeps growing.
// returns false if the transaction holds no request on the rid.
func (lm *LockManager) Unlock(txn *Transaction, rid types.RID) bool {
	q := lm.getQueue(rid)
	q.latch.Lock()
	defer q.latch.Unlock()

	if txn.IsolationLevel() != ReadCommitted && txn.State() == Growing {
		txn.SetState(Shrinking)
	}

	if !q.removeRequest(txn.ID()) {
		return false
	}

	txn.removeSharedLock(rid)
	txn.removeExclusiveLock(rid)

	// wake waiters so the new head of the queue can re-check compatibility
	for _, r := range q.requests {
		if !r.granted {
			if isLockCompatible(q, r) {
				q.cond.Broadcast()
			}
			break
		}
	}
	return true
}

/*** wait-for graph ***/

// AddEdge. t1 waits for a resource held by t2. neighbor lists are kept
// sorted ascending so traversal order is deterministic.
func (lm *LockManager) AddEdge(t1, t2 types.TxnID) {
	neighbors := lm.waitsFor[t1]
	i := sort.Search(len(neighbors), func(i int) bool { return neighbors[i] >= t2 })
	if i < len(neighbors) && neighbors[i] == t2 {
		return
	}
	neighbors = append(neighbors, 0)
	copy(neighbors[i+1:], neighbors[i:])
	neighbors[i] = t2
	lm.waitsFor[t1] = neighbors
}

// RemoveEdge. t1 no longer waits for t2.
func (lm *LockManager) RemoveEdge(t1, t2 types.TxnID) {
	neighbors := lm.waitsFor[t1]
	for i, n := range neighbors {
		if n == t2 {
			lm.waitsFor[t1] = append(neighbors[:i], neighbors[i+1:]...)
			return
		}
	}
}

// GetEdgeList. snapshot of all edges, for tests.
func (lm *LockManager) GetEdgeList() [][2]types.TxnID {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	var edges [][2]types.TxnID
	for t1, neighbors := range lm.waitsFor {
		for _, t2 := range neighbors {
			edges = append(edges, [2]types.TxnID{t1, t2})
		}
	}
	return edges
}

// buildWaitsForGraph. rebuild the graph from scratch: for every queue, every
// waiting transaction waits on every granted holder. entries of already
// aborted transactions are skipped. caller must hold the top-level latch.
func (lm *LockManager) buildWaitsForGraph() {
	for _, q := range lm.lockTable {
		q.latch.Lock()

		var holdings, waitings []types.TxnID
		for _, r := range q.requests {
			txn := lm.getTransaction(r.txnID)
			if txn != nil && txn.State() == Aborted {
				continue
			}
			if r.granted {
				holdings = append(holdings, r.txnID)
			} else {
				waitings = append(waitings, r.txnID)
			}
		}
		q.latch.Unlock()

		for _, t1 := range waitings {
			for _, t2 := range holdings {
				lm.AddEdge(t1, t2)
			}
		}
	}
}

func (lm *LockManager) getTransaction(txnID types.TxnID) *Transaction {
	if lm.txnManager == nil {
		return nil
	}
	return lm.txnManager.GetTransaction(txnID)
}

// HasCycle. dfs over the wait-for graph in ascending txn id order. if a back
// edge to an in-stack vertex is found, txnID receives the youngest (largest
// id) transaction in that cycle. caller must hold the top-level latch.
func (lm *LockManager) HasCycle(txnID *types.TxnID) bool {
	vertices := make([]types.TxnID, 0, len(lm.waitsFor))
	for v := range lm.waitsFor {
		vertices = append(vertices, v)
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i] < vertices[j] })

	visited := make(map[types.TxnID]visitedType)
	for _, v := range vertices {
		if _, ok := visited[v]; ok {
			continue
		}
		stack := []types.TxnID{v}
		visited[v] = inStack
		if lm.processDFSTree(txnID, &stack, visited) {
			return true
		}
	}
	return false
}

func (lm *LockManager) processDFSTree(txnID *types.TxnID, stack *[]types.TxnID,
	visited map[types.TxnID]visitedType) bool {
	hasCycle := false
	top := (*stack)[len(*stack)-1]

	for _, v := range lm.waitsFor[top] {
		state, seen := visited[v]
		if seen && state == inStack {
			// back edge into the current dfs path: cycle
			*txnID = youngestInCycle(*stack, v)
			hasCycle = true
			break
		}
		if !seen {
			*stack = append(*stack, v)
			visited[v] = inStack
			if lm.processDFSTree(txnID, stack, visited) {
				hasCycle = true
				break
			}
		}
	}

	visited[top] = visitedDone
	*stack = (*stack)[:len(*stack)-1]
	return hasCycle
}

// youngestInCycle. the cycle is the stack suffix starting at vertex; the
// victim is the transaction with the largest id in it.
func youngestInCycle(stack []types.TxnID, vertex types.TxnID) types.TxnID {
	maxTxnID := stack[len(stack)-1]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] > maxTxnID {
			maxTxnID = stack[i]
		}
		if stack[i] == vertex {
			break
		}
	}
	return maxTxnID
}

func (lm *LockManager) runCycleDetection() {
	defer lm.stopped.Done()

	ticker := time.NewTicker(lm.cycleDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopCh:
			return
		case <-ticker.C:
			lm.detectDeadlocks()
		}
	}
}

// detectDeadlocks. rebuild the wait-for graph and abort the youngest member
// of every cycle until none remain. blocked waiters of the victim are woken
// through the queues of every rid held by the transactions the victim was
// waiting on, so they re-check and observe the abort.
func (lm *LockManager) detectDeadlocks() {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	if lm.txnManager == nil {
		// nothing to abort without access to the transaction table
		return
	}

	lm.waitsFor = make(map[types.TxnID][]types.TxnID)
	lm.buildWaitsForGraph()

	var victimID types.TxnID
	for lm.HasCycle(&victimID) {
		victim := lm.getTransaction(victimID)
		if victim != nil {
			victim.SetState(Aborted)
		}
		log.WithFields(log.Fields{"txnID": victimID}).Debug("deadlock detected, aborting youngest transaction in cycle")

		for _, waitOnTxnID := range lm.waitsFor[victimID] {
			waitOn := lm.getTransaction(waitOnTxnID)
			if waitOn == nil {
				continue
			}
			lockSet := append(waitOn.SharedLockSet(), waitOn.ExclusiveLockSet()...)
			for _, rid := range lockSet {
				if q, ok := lm.lockTable[rid]; ok {
					q.cond.Broadcast()
				}
			}
		}

		// more than one cycle may exist, rebuild and re-scan
		lm.waitsFor = make(map[types.TxnID][]types.TxnID)
		lm.buildWaitsForGraph()
	}
}
