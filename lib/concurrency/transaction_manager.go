package concurrency

import (
	"sync"

	"github.com/lintang-b-s/pagedb/types"
)

// TransactionManager . drives the transaction lifecycle: hands out ids,
// tracks live transactions, replays undo logs on abort and releases locks at
// the end. the global readers-writer latch is held shared for a
// transaction's whole lifetime so administrative operations can quiesce the
// system by taking it exclusively.
type TransactionManager struct {
	txnMapLatch sync.RWMutex
	txnMap      map[types.TxnID]*Transaction
	nextTxnID   types.TxnID

	globalTxnLatch sync.RWMutex

	lockManager *LockManager
}

func NewTransactionManager(lockManager *LockManager) *TransactionManager {
	tm := &TransactionManager{
		txnMap:      make(map[types.TxnID]*Transaction),
		lockManager: lockManager,
	}
	lockManager.setTransactionManager(tm)
	return tm
}

// Begin. start a new transaction at the given isolation level.
func (tm *TransactionManager) Begin(isolationLevel IsolationLevel) *Transaction {
	tm.globalTxnLatch.RLock()

	tm.txnMapLatch.Lock()
	txn := NewTransaction(tm.nextTxnID, isolationLevel)
	tm.nextTxnID++
	tm.txnMap[txn.ID()] = txn
	tm.txnMapLatch.Unlock()

	return txn
}

// Commit. finalize the transaction: tentative deletes become real, all locks
// are released.
func (tm *TransactionManager) Commit(txn *Transaction) {
	txn.SetState(Committed)

	// deletes were only marked during execution; make them final now.
	// inserts and updates need no post-commit work.
	writeSet := txn.tableWriteSet
	for len(writeSet) > 0 {
		record := writeSet[len(writeSet)-1]
		if record.WType == WTypeDelete {
			record.Table.ApplyDelete(record.RID, txn)
		}
		writeSet = writeSet[:len(writeSet)-1]
	}
	txn.tableWriteSet = nil
	txn.indexWriteSet = nil

	tm.releaseLocks(txn)
	tm.globalTxnLatch.RUnlock()
}

// Abort. rewind the transaction's table writes, then its index writes, both
// in reverse order, and release all locks.
func (tm *TransactionManager) Abort(txn *Transaction) {
	txn.SetState(Aborted)

	tableWriteSet := txn.tableWriteSet
	for len(tableWriteSet) > 0 {
		record := tableWriteSet[len(tableWriteSet)-1]
		switch record.WType {
		case WTypeDelete:
			// the delete was only marked, clear the tombstone
			record.Table.RollbackDelete(record.RID, txn)
		case WTypeInsert:
			record.Table.ApplyDelete(record.RID, txn)
		case WTypeUpdate:
			record.Table.UpdateTuple(record.Tuple, record.RID, txn)
		}
		tableWriteSet = tableWriteSet[:len(tableWriteSet)-1]
	}
	txn.tableWriteSet = nil

	indexWriteSet := txn.indexWriteSet
	for len(indexWriteSet) > 0 {
		record := indexWriteSet[len(indexWriteSet)-1]
		switch record.WType {
		case WTypeDelete:
			record.Index.InsertEntry(record.Key, record.RID, txn)
		case WTypeInsert:
			record.Index.DeleteEntry(record.Key, txn)
		case WTypeUpdate:
			// delete the new key, restore the old one
			record.Index.DeleteEntry(record.Key, txn)
			record.Index.InsertEntry(record.OldKey, record.RID, txn)
		}
		indexWriteSet = indexWriteSet[:len(indexWriteSet)-1]
	}
	txn.indexWriteSet = nil

	tm.releaseLocks(txn)
	tm.globalTxnLatch.RUnlock()
}

func (tm *TransactionManager) releaseLocks(txn *Transaction) {
	lockSet := append(txn.SharedLockSet(), txn.ExclusiveLockSet()...)
	for _, rid := range lockSet {
		tm.lockManager.Unlock(txn, rid)
	}
}

func (tm *TransactionManager) GetTransaction(txnID types.TxnID) *Transaction {
	tm.txnMapLatch.RLock()
	defer tm.txnMapLatch.RUnlock()
	return tm.txnMap[txnID]
}

// BlockAllTransactions. quiesce: blocks until every live transaction has
// committed or aborted, and holds off new ones until resumed.
func (tm *TransactionManager) BlockAllTransactions() {
	tm.globalTxnLatch.Lock()
}

// ResumeTransactions. release the quiesce latch.
func (tm *TransactionManager) ResumeTransactions() {
	tm.globalTxnLatch.Unlock()
}
