package table

import (
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

/*
tablePage . slotted tuple page. tuples grow from the tail towards the slot
array; a delete first only sets a tombstone bit on the slot so it can be
rolled back, and turns the slot dead only when the owning transaction
commits. dead slots are not compacted; their bytes stay in place.

page format:

	| pageID(4) | lsn(4) | prevPageID(4) | nextPageID(4) | freeSpacePtr(4) | tupleCount(4) | slots... | free | tuples |

slot format: | tupleOffset(4) | tupleSize(4) | with the tombstone flag kept
in the size's high bit.
*/
type tablePage struct {
	page *disk.Page
}

const (
	offsetTablePageID    = 0
	offsetTableLSN       = 4
	offsetPrevPageID     = 8
	offsetNextPageID     = 12
	offsetFreeSpacePtr   = 16
	offsetTupleCount     = 20
	tablePageHeaderSize  = 24
	tupleSlotSize        = 8
	tombstoneMask        = uint32(1) << 31
)

func asTablePage(page *disk.Page) tablePage {
	return tablePage{page: page}
}

func (p tablePage) init(pageID, prevPageID types.PageID) {
	p.page.PutInt32(offsetTablePageID, int32(pageID))
	p.page.PutInt32(offsetTableLSN, int32(types.InvalidLSN))
	p.page.PutInt32(offsetPrevPageID, int32(prevPageID))
	p.page.PutInt32(offsetNextPageID, int32(types.InvalidPageID))
	p.page.PutInt32(offsetFreeSpacePtr, int32(len(p.page.Data())))
	p.page.PutInt32(offsetTupleCount, 0)
}

func (p tablePage) pageID() types.PageID {
	return types.PageID(p.page.GetInt32(offsetTablePageID))
}

func (p tablePage) nextPageID() types.PageID {
	return types.PageID(p.page.GetInt32(offsetNextPageID))
}

func (p tablePage) setNextPageID(pageID types.PageID) {
	p.page.PutInt32(offsetNextPageID, int32(pageID))
}

func (p tablePage) setLSN(lsn types.LSN) {
	p.page.PutInt32(offsetTableLSN, int32(lsn))
	p.page.SetLSN(lsn)
}

func (p tablePage) tupleCount() int {
	return int(p.page.GetInt32(offsetTupleCount))
}

func (p tablePage) freeSpacePtr() int32 {
	return p.page.GetInt32(offsetFreeSpacePtr)
}

func (p tablePage) slotOffset(slot types.SlotNum) int32 {
	return int32(tablePageHeaderSize + int(slot)*tupleSlotSize)
}

func (p tablePage) tupleOffset(slot types.SlotNum) int32 {
	return p.page.GetInt32(p.slotOffset(slot))
}

func (p tablePage) rawTupleSize(slot types.SlotNum) uint32 {
	return p.page.GetUint32(p.slotOffset(slot) + 4)
}

func (p tablePage) setSlot(slot types.SlotNum, offset int32, rawSize uint32) {
	p.page.PutInt32(p.slotOffset(slot), offset)
	p.page.PutUint32(p.slotOffset(slot)+4, rawSize)
}

func (p tablePage) isTombstoned(slot types.SlotNum) bool {
	return p.rawTupleSize(slot)&tombstoneMask != 0
}

func (p tablePage) isDead(slot types.SlotNum) bool {
	return p.rawTupleSize(slot) == 0
}

func (p tablePage) freeSpace() int32 {
	return p.freeSpacePtr() - int32(tablePageHeaderSize+p.tupleCount()*tupleSlotSize)
}

// insertTuple. append the tuple and return its slot. fails when the page
// cannot hold the tuple plus a new slot.
func (p tablePage) insertTuple(tuple []byte) (types.SlotNum, bool) {
	if int32(len(tuple)+tupleSlotSize) > p.freeSpace() {
		return 0, false
	}

	offset := p.freeSpacePtr() - int32(len(tuple))
	copy(p.page.Data()[offset:], tuple)
	p.page.PutInt32(offsetFreeSpacePtr, offset)

	slot := types.SlotNum(p.tupleCount())
	p.setSlot(slot, offset, uint32(len(tuple)))
	p.page.PutInt32(offsetTupleCount, int32(p.tupleCount()+1))
	return slot, true
}

// getTuple. copy the live tuple out; tombstoned and dead slots read as
// absent.
func (p tablePage) getTuple(slot types.SlotNum) ([]byte, bool) {
	if int(slot) >= p.tupleCount() || p.isDead(slot) || p.isTombstoned(slot) {
		return nil, false
	}

	offset := p.tupleOffset(slot)
	size := p.rawTupleSize(slot)
	tuple := make([]byte, size)
	copy(tuple, p.page.Data()[offset:offset+int32(size)])
	return tuple, true
}

// markDelete. tentative delete: set the tombstone bit, keep the bytes.
func (p tablePage) markDelete(slot types.SlotNum) bool {
	if int(slot) >= p.tupleCount() || p.isDead(slot) || p.isTombstoned(slot) {
		return false
	}
	p.setSlot(slot, p.tupleOffset(slot), p.rawTupleSize(slot)|tombstoneMask)
	return true
}

// rollbackDelete. clear the tombstone bit again.
func (p tablePage) rollbackDelete(slot types.SlotNum) {
	if int(slot) >= p.tupleCount() {
		return
	}
	p.setSlot(slot, p.tupleOffset(slot), p.rawTupleSize(slot)&^tombstoneMask)
}

// applyDelete. final delete: the slot becomes dead. the tuple bytes stay
// where they are until the page is reused; slots are never renumbered so
// rids stay stable.
func (p tablePage) applyDelete(slot types.SlotNum) {
	if int(slot) >= p.tupleCount() {
		return
	}
	p.setSlot(slot, 0, 0)
}

// updateTuple. overwrite the tuple in place. only same-or-smaller tuples fit;
// larger ones are rejected and the slot is left unchanged.
func (p tablePage) updateTuple(tuple []byte, slot types.SlotNum) bool {
	if int(slot) >= p.tupleCount() || p.isDead(slot) || p.isTombstoned(slot) {
		return false
	}
	size := p.rawTupleSize(slot)
	if uint32(len(tuple)) > size {
		return false
	}

	offset := p.tupleOffset(slot)
	copy(p.page.Data()[offset:], tuple)
	p.setSlot(slot, offset, uint32(len(tuple)))
	return true
}
