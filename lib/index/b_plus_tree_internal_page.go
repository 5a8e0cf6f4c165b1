package index

import (
	"github.com/lintang-b-s/pagedb/lib/buffer"
	"github.com/lintang-b-s/pagedb/types"
)

/*
InternalPage . stores n keys and n+1 child page ids as n+1 (key, child)
pairs; the key of slot 0 is invalid and ignored by every lookup. pointer
child(i) leads to a subtree whose keys K satisfy key(i) <= K < key(i+1), so
an equality match descends right.

page format (keys in increasing order):

	| HEADER | invalid+CHILD(0) | KEY(1)+CHILD(1) | ... | KEY(n)+CHILD(n) |
*/
type InternalPage struct {
	BPlusTreePage
}

type internalPair struct {
	key   types.Key
	child types.PageID
}

func (n InternalPage) Init(pageID, parentPageID types.PageID, maxSize int) {
	n.SetPageType(InternalPageType)
	n.SetSize(0)
	n.SetPageID(pageID)
	n.SetParentPageID(parentPageID)
	n.SetMaxSize(maxSize)
	n.SetLSN(types.InvalidLSN)
}

func (n InternalPage) pairOffset(index int) int32 {
	return int32(internalHeaderSize + index*pairSize)
}

func (n InternalPage) KeyAt(index int) types.Key {
	return types.Key(n.page.GetInt64(n.pairOffset(index)))
}

func (n InternalPage) SetKeyAt(index int, key types.Key) {
	n.page.PutInt64(n.pairOffset(index), int64(key))
}

func (n InternalPage) ValueAt(index int) types.PageID {
	return types.PageID(n.page.GetInt64(n.pairOffset(index) + 8))
}

func (n InternalPage) SetValueAt(index int, child types.PageID) {
	n.page.PutInt64(n.pairOffset(index)+8, int64(child))
}

func (n InternalPage) pairAt(index int) internalPair {
	return internalPair{key: n.KeyAt(index), child: n.ValueAt(index)}
}

func (n InternalPage) setPairAt(index int, pair internalPair) {
	n.SetKeyAt(index, pair.key)
	n.SetValueAt(index, pair.child)
}

// ValueIndex. slot index of the given child pointer, or -1.
func (n InternalPage) ValueIndex(child types.PageID) int {
	for index := 0; index < n.GetSize(); index++ {
		if n.ValueAt(index) == child {
			return index
		}
	}
	return -1
}

// Lookup. child pointer whose subtree contains key. binary search for the
// first key strictly greater than the query, then descend through the slot
// before it (equality goes right).
func (n InternalPage) Lookup(key types.Key) types.PageID {
	left := 1 // slot 0's key is invalid
	right := n.GetSize() - 1

	for left <= right {
		mid := left + (right-left)/2
		if n.KeyAt(mid) > key {
			right = mid - 1
		} else {
			left = mid + 1
		}
	}

	return n.ValueAt(left - 1)
}

// PopulateNewRoot. turn an empty page into the new root after the old root
// split: children [old, new] separated by newKey.
func (n InternalPage) PopulateNewRoot(oldChild types.PageID, newKey types.Key, newChild types.PageID) {
	n.SetValueAt(0, oldChild)
	n.SetKeyAt(1, newKey)
	n.SetValueAt(1, newChild)
	n.SetSize(2)
}

// InsertNodeAfter. insert (newKey, newChild) right after the pair whose
// child pointer equals oldChild. returns the new size.
func (n InternalPage) InsertNodeAfter(oldChild types.PageID, newKey types.Key, newChild types.PageID) int {
	insertIndex := n.ValueIndex(oldChild) + 1
	for i := n.GetSize(); i > insertIndex; i-- {
		n.setPairAt(i, n.pairAt(i-1))
	}
	n.setPairAt(insertIndex, internalPair{key: newKey, child: newChild})
	n.IncreaseSize(1)
	return n.GetSize()
}

// Remove. drop the pair at index, keeping the slot array dense.
func (n InternalPage) Remove(index int) {
	n.IncreaseSize(-1)
	for i := index; i < n.GetSize(); i++ {
		n.setPairAt(i, n.pairAt(i+1))
	}
}

// RemoveAndReturnOnlyChild. used by root adjustment only: the root shrank to
// a single child pointer, which becomes the new root.
func (n InternalPage) RemoveAndReturnOnlyChild() types.PageID {
	n.SetSize(0)
	return n.ValueAt(0)
}

// MoveHalfTo. split: the upper half of the pairs moves to recipient, whose
// slot 0 key carries the eventual separator. moved children are re-parented.
func (n InternalPage) MoveHalfTo(recipient InternalPage, bpm buffer.BufferPoolManager) {
	startIndex := n.GetMinSize()
	moveNum := n.GetSize() - startIndex

	pairs := make([]internalPair, moveNum)
	for i := 0; i < moveNum; i++ {
		pairs[i] = n.pairAt(startIndex + i)
	}
	recipient.copyNFrom(pairs, bpm)
	n.IncreaseSize(-moveNum)
}

// copyNFrom. append pairs and adopt every moved child by rewriting its
// parent pointer through the buffer pool.
func (n InternalPage) copyNFrom(pairs []internalPair, bpm buffer.BufferPoolManager) {
	base := n.GetSize()
	for i, pair := range pairs {
		n.setPairAt(base+i, pair)

		childPage, err := bpm.FetchPage(pair.child)
		if err != nil {
			panic(err)
		}
		asTreePage(childPage).SetParentPageID(n.GetPageID())
		bpm.UnpinPage(pair.child, true)
	}
	n.IncreaseSize(len(pairs))
}

// MoveAllTo. coalesce: every pair moves to the tail of recipient. the parent
// separator between the two nodes is pulled down as slot 0's key so it is
// not lost.
func (n InternalPage) MoveAllTo(recipient InternalPage, middleKey types.Key, bpm buffer.BufferPoolManager) {
	n.SetKeyAt(0, middleKey)

	pairs := make([]internalPair, n.GetSize())
	for i := range pairs {
		pairs[i] = n.pairAt(i)
	}
	recipient.copyNFrom(pairs, bpm)
	n.SetSize(0)
}

// MoveFirstToEndOf. redistribute towards the left: the first pair moves to
// recipient's tail, with the old parent separator pulled down as its key.
func (n InternalPage) MoveFirstToEndOf(recipient InternalPage, middleKey types.Key, bpm buffer.BufferPoolManager) {
	n.SetKeyAt(0, middleKey)
	recipient.copyLastFrom(n.pairAt(0), bpm)
	n.Remove(0)
}

func (n InternalPage) copyLastFrom(pair internalPair, bpm buffer.BufferPoolManager) {
	n.setPairAt(n.GetSize(), pair)

	childPage, err := bpm.FetchPage(pair.child)
	if err != nil {
		panic(err)
	}
	asTreePage(childPage).SetParentPageID(n.GetPageID())
	bpm.UnpinPage(pair.child, true)

	n.IncreaseSize(1)
}

// MoveLastToFrontOf. redistribute towards the right: the last pair moves to
// recipient's head; the old parent separator becomes recipient's slot 0 key
// beforehand so the incoming pair's key can take the separator slot.
func (n InternalPage) MoveLastToFrontOf(recipient InternalPage, middleKey types.Key, bpm buffer.BufferPoolManager) {
	recipient.SetKeyAt(0, middleKey)
	recipient.copyFirstFrom(n.pairAt(n.GetSize()-1), bpm)
	n.IncreaseSize(-1)
}

func (n InternalPage) copyFirstFrom(pair internalPair, bpm buffer.BufferPoolManager) {
	for i := n.GetSize(); i > 0; i-- {
		n.setPairAt(i, n.pairAt(i-1))
	}
	n.setPairAt(0, pair)

	childPage, err := bpm.FetchPage(pair.child)
	if err != nil {
		panic(err)
	}
	asTreePage(childPage).SetParentPageID(n.GetPageID())
	bpm.UnpinPage(pair.child, true)

	n.IncreaseSize(1)
}
