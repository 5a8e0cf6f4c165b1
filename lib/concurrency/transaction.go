package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

type TransactionState int32

const (
	Growing TransactionState = iota
	Shrinking
	Committed
	Aborted
)

type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// WType . kind of a recorded write, used to pick the inverse operation on
// abort.
type WType int

const (
	WTypeInsert WType = iota
	WTypeDelete
	WTypeUpdate
)

// TableHeap . the slice of the table heap the transaction manager needs to
// replay undo records. implemented by lib/table.
type TableHeap interface {
	// ApplyDelete makes a tentative delete final (or removes an inserted
	// tuple during rollback).
	ApplyDelete(rid types.RID, txn *Transaction)
	// RollbackDelete clears the tombstone set by a tentative delete.
	RollbackDelete(rid types.RID, txn *Transaction)
	// UpdateTuple writes tuple back over the slot at rid.
	UpdateTuple(tuple []byte, rid types.RID, txn *Transaction) bool
}

// IndexWriter . the slice of the b+tree the transaction manager needs to
// rewind index writes. implemented by lib/index.
type IndexWriter interface {
	InsertEntry(key types.Key, rid types.RID, txn *Transaction) bool
	DeleteEntry(key types.Key, txn *Transaction)
}

// TableWriteRecord . one undo entry for a table write. for updates Tuple
// holds the pre-image.
type TableWriteRecord struct {
	RID   types.RID
	WType WType
	Tuple []byte
	Table TableHeap
}

// IndexWriteRecord . one undo entry for an index write. for updates OldKey
// holds the key before the update.
type IndexWriteRecord struct {
	WType  WType
	Key    types.Key
	OldKey types.Key
	RID    types.RID
	Index  IndexWriter
}

// Transaction . everything the lock manager, the b+tree and the transaction
// manager track per transaction: 2PL state, held lock sets, undo logs, and
// the crabbing bookkeeping (latched page set + pages scheduled for
// deletion).
type Transaction struct {
	id             types.TxnID
	isolationLevel IsolationLevel
	state          atomic.Int32

	// guards the two lock sets; they are read by the deadlock detector
	// while the owning goroutine mutates them.
	latch            sync.Mutex
	sharedLockSet    map[types.RID]struct{}
	exclusiveLockSet map[types.RID]struct{}

	tableWriteSet []TableWriteRecord
	indexWriteSet []IndexWriteRecord

	// crabbing bookkeeping, only touched by the goroutine running the
	// b+tree operation.
	pageSet        []*disk.Page
	deletedPageSet map[types.PageID]struct{}
}

func NewTransaction(id types.TxnID, isolationLevel IsolationLevel) *Transaction {
	txn := &Transaction{
		id:               id,
		isolationLevel:   isolationLevel,
		sharedLockSet:    make(map[types.RID]struct{}),
		exclusiveLockSet: make(map[types.RID]struct{}),
		deletedPageSet:   make(map[types.PageID]struct{}),
	}
	txn.state.Store(int32(Growing))
	return txn
}

func (txn *Transaction) ID() types.TxnID                { return txn.id }
func (txn *Transaction) IsolationLevel() IsolationLevel { return txn.isolationLevel }

func (txn *Transaction) State() TransactionState {
	return TransactionState(txn.state.Load())
}

func (txn *Transaction) SetState(state TransactionState) {
	txn.state.Store(int32(state))
}

func (txn *Transaction) IsSharedLocked(rid types.RID) bool {
	txn.latch.Lock()
	defer txn.latch.Unlock()
	_, ok := txn.sharedLockSet[rid]
	return ok
}

func (txn *Transaction) IsExclusiveLocked(rid types.RID) bool {
	txn.latch.Lock()
	defer txn.latch.Unlock()
	_, ok := txn.exclusiveLockSet[rid]
	return ok
}

func (txn *Transaction) addSharedLock(rid types.RID) {
	txn.latch.Lock()
	defer txn.latch.Unlock()
	txn.sharedLockSet[rid] = struct{}{}
}

func (txn *Transaction) addExclusiveLock(rid types.RID) {
	txn.latch.Lock()
	defer txn.latch.Unlock()
	txn.exclusiveLockSet[rid] = struct{}{}
}

func (txn *Transaction) removeSharedLock(rid types.RID) {
	txn.latch.Lock()
	defer txn.latch.Unlock()
	delete(txn.sharedLockSet, rid)
}

func (txn *Transaction) removeExclusiveLock(rid types.RID) {
	txn.latch.Lock()
	defer txn.latch.Unlock()
	delete(txn.exclusiveLockSet, rid)
}

// SharedLockSet. snapshot copy, safe to iterate without the latch.
func (txn *Transaction) SharedLockSet() []types.RID {
	txn.latch.Lock()
	defer txn.latch.Unlock()

	rids := make([]types.RID, 0, len(txn.sharedLockSet))
	for rid := range txn.sharedLockSet {
		rids = append(rids, rid)
	}
	return rids
}

// ExclusiveLockSet. snapshot copy, safe to iterate without the latch.
func (txn *Transaction) ExclusiveLockSet() []types.RID {
	txn.latch.Lock()
	defer txn.latch.Unlock()

	rids := make([]types.RID, 0, len(txn.exclusiveLockSet))
	for rid := range txn.exclusiveLockSet {
		rids = append(rids, rid)
	}
	return rids
}

// AppendTableWriteRecord. record undo for a table write. appends
// unconditionally; the table heap calls it only while the transaction is
// growing, so replayed rollback calls do not re-log themselves.
func (txn *Transaction) AppendTableWriteRecord(record TableWriteRecord) {
	txn.tableWriteSet = append(txn.tableWriteSet, record)
}

func (txn *Transaction) AppendIndexWriteRecord(record IndexWriteRecord) {
	txn.indexWriteSet = append(txn.indexWriteSet, record)
}

func (txn *Transaction) TableWriteSet() []TableWriteRecord { return txn.tableWriteSet }

func (txn *Transaction) IndexWriteSet() []IndexWriteRecord { return txn.indexWriteSet }

// AddIntoPageSet. remember a write-latched ancestor page during crabbing so
// every exit path can release it exactly once.
func (txn *Transaction) AddIntoPageSet(page *disk.Page) {
	txn.pageSet = append(txn.pageSet, page)
}

func (txn *Transaction) PageSet() []*disk.Page { return txn.pageSet }

func (txn *Transaction) ClearPageSet() { txn.pageSet = txn.pageSet[:0] }

// AddIntoDeletedPageSet. pages emptied by coalescing; actually deleted from
// the buffer pool once the operation has released its latches.
func (txn *Transaction) AddIntoDeletedPageSet(pageID types.PageID) {
	txn.deletedPageSet[pageID] = struct{}{}
}

func (txn *Transaction) DeletedPageSet() map[types.PageID]struct{} {
	return txn.deletedPageSet
}

func (txn *Transaction) ClearDeletedPageSet() {
	txn.deletedPageSet = make(map[types.PageID]struct{})
}
