package table

import (
	"fmt"

	"github.com/lintang-b-s/pagedb/lib/buffer"
	"github.com/lintang-b-s/pagedb/lib/concurrency"
	"github.com/lintang-b-s/pagedb/lib/log"
	"github.com/lintang-b-s/pagedb/types"
)

/*
TableHeap . doubly-growing chain of slotted tuple pages on the buffer pool.
writes record their undo into the transaction while it is still growing, so
the transaction manager can rewind them on abort; the rollback calls it
replays arrive with the transaction already aborted and are not re-recorded.
*/
type TableHeap struct {
	bpm         buffer.BufferPoolManager
	logManager  *log.LogManager
	firstPageID types.PageID
}

// NewTableHeap. create a heap with one empty page.
func NewTableHeap(bpm buffer.BufferPoolManager, logManager *log.LogManager) (*TableHeap, error) {
	var firstPageID types.PageID
	firstPage, err := bpm.NewPage(&firstPageID)
	if err != nil {
		return nil, fmt.Errorf("failed to create first table page: %w", err)
	}

	firstPage.WLatch()
	asTablePage(firstPage).init(firstPageID, types.InvalidPageID)
	firstPage.WUnlatch()
	bpm.UnpinPage(firstPageID, true)

	return &TableHeap{bpm: bpm, logManager: logManager, firstPageID: firstPageID}, nil
}

// OpenTableHeap. re-attach to an existing heap by its first page id.
func OpenTableHeap(bpm buffer.BufferPoolManager, logManager *log.LogManager,
	firstPageID types.PageID) *TableHeap {
	return &TableHeap{bpm: bpm, logManager: logManager, firstPageID: firstPageID}
}

func (h *TableHeap) FirstPageID() types.PageID { return h.firstPageID }

// stampLSN. append a log record for the write and stamp the page with its
// lsn, so the buffer pool flushes the log before the page image.
func (h *TableHeap) stampLSN(page tablePage, record string, rid types.RID) {
	if h.logManager == nil {
		return
	}
	lsn, err := h.logManager.AppendRecord([]byte(fmt.Sprintf("%s %v", record, rid)))
	if err != nil {
		return
	}
	page.setLSN(lsn)
}

// InsertTuple. insert into the first page with room, growing the chain when
// every page is full.
func (h *TableHeap) InsertTuple(tuple []byte, txn *concurrency.Transaction) (types.RID, error) {
	pageID := h.firstPageID

	for {
		page, err := h.bpm.FetchPage(pageID)
		if err != nil {
			return types.RID{}, err
		}
		page.WLatch()
		tp := asTablePage(page)

		if slot, ok := tp.insertTuple(tuple); ok {
			rid := types.NewRID(pageID, slot)
			h.stampLSN(tp, "insert", rid)
			page.WUnlatch()
			h.bpm.UnpinPage(pageID, true)

			if txn != nil && txn.State() == concurrency.Growing {
				txn.AppendTableWriteRecord(concurrency.TableWriteRecord{
					RID:   rid,
					WType: concurrency.WTypeInsert,
					Table: h,
				})
			}
			return rid, nil
		}

		nextPageID := tp.nextPageID()
		if nextPageID != types.InvalidPageID {
			page.WUnlatch()
			h.bpm.UnpinPage(pageID, false)
			pageID = nextPageID
			continue
		}

		// chain exhausted, append a new page
		var newPageID types.PageID
		newPage, err := h.bpm.NewPage(&newPageID)
		if err != nil {
			page.WUnlatch()
			h.bpm.UnpinPage(pageID, false)
			return types.RID{}, err
		}
		newPage.WLatch()
		asTablePage(newPage).init(newPageID, pageID)
		newPage.WUnlatch()
		h.bpm.UnpinPage(newPageID, true)

		tp.setNextPageID(newPageID)
		page.WUnlatch()
		h.bpm.UnpinPage(pageID, true)
		pageID = newPageID
	}
}

// GetTuple. read a live tuple by rid.
func (h *TableHeap) GetTuple(rid types.RID, txn *concurrency.Transaction) ([]byte, bool) {
	page, err := h.bpm.FetchPage(rid.PageID)
	if err != nil {
		return nil, false
	}
	page.RLatch()
	tuple, ok := asTablePage(page).getTuple(rid.SlotNum)
	page.RUnlatch()
	h.bpm.UnpinPage(rid.PageID, false)
	return tuple, ok
}

// MarkDelete. tentative delete: the tuple is tombstoned but recoverable
// until commit makes it final or abort rolls it back.
func (h *TableHeap) MarkDelete(rid types.RID, txn *concurrency.Transaction) bool {
	page, err := h.bpm.FetchPage(rid.PageID)
	if err != nil {
		return false
	}
	page.WLatch()
	tp := asTablePage(page)
	ok := tp.markDelete(rid.SlotNum)
	if ok {
		h.stampLSN(tp, "markdelete", rid)
	}
	page.WUnlatch()
	h.bpm.UnpinPage(rid.PageID, ok)

	if ok && txn != nil && txn.State() == concurrency.Growing {
		txn.AppendTableWriteRecord(concurrency.TableWriteRecord{
			RID:   rid,
			WType: concurrency.WTypeDelete,
			Table: h,
		})
	}
	return ok
}

// ApplyDelete. make a tentative delete final (commit), or remove an inserted
// tuple while rolling back.
func (h *TableHeap) ApplyDelete(rid types.RID, txn *concurrency.Transaction) {
	page, err := h.bpm.FetchPage(rid.PageID)
	if err != nil {
		return
	}
	page.WLatch()
	tp := asTablePage(page)
	tp.applyDelete(rid.SlotNum)
	h.stampLSN(tp, "applydelete", rid)
	page.WUnlatch()
	h.bpm.UnpinPage(rid.PageID, true)
}

// RollbackDelete. clear a tombstone during abort.
func (h *TableHeap) RollbackDelete(rid types.RID, txn *concurrency.Transaction) {
	page, err := h.bpm.FetchPage(rid.PageID)
	if err != nil {
		return
	}
	page.WLatch()
	tp := asTablePage(page)
	tp.rollbackDelete(rid.SlotNum)
	h.stampLSN(tp, "rollbackdelete", rid)
	page.WUnlatch()
	h.bpm.UnpinPage(rid.PageID, true)
}

// UpdateTuple. overwrite the tuple at rid, keeping the pre-image in the undo
// log while the transaction is growing.
func (h *TableHeap) UpdateTuple(tuple []byte, rid types.RID, txn *concurrency.Transaction) bool {
	page, err := h.bpm.FetchPage(rid.PageID)
	if err != nil {
		return false
	}
	page.WLatch()
	tp := asTablePage(page)

	oldTuple, ok := tp.getTuple(rid.SlotNum)
	if ok {
		ok = tp.updateTuple(tuple, rid.SlotNum)
	}
	if ok {
		h.stampLSN(tp, "update", rid)
	}
	page.WUnlatch()
	h.bpm.UnpinPage(rid.PageID, ok)

	if ok && txn != nil && txn.State() == concurrency.Growing {
		txn.AppendTableWriteRecord(concurrency.TableWriteRecord{
			RID:   rid,
			WType: concurrency.WTypeUpdate,
			Tuple: oldTuple,
			Table: h,
		})
	}
	return ok
}
