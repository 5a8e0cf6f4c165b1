package index

import (
	"github.com/lintang-b-s/pagedb/types"
)

/*
LeafPage . stores (key, rid) pairs sorted by key plus a pointer to the next
leaf, so all leaves form a sorted singly-linked chain.

page format:

	| HEADER(incl. nextPageID) | KEY(0)+RID(0) | KEY(1)+RID(1) | ... |
*/
type LeafPage struct {
	BPlusTreePage
}

type leafPair struct {
	key types.Key
	rid types.RID
}

func (n LeafPage) Init(pageID, parentPageID types.PageID, maxSize int) {
	n.SetPageType(LeafPageType)
	n.SetSize(0)
	n.SetPageID(pageID)
	n.SetParentPageID(parentPageID)
	n.SetNextPageID(types.InvalidPageID)
	n.SetMaxSize(maxSize)
	n.SetLSN(types.InvalidLSN)
}

func (n LeafPage) GetNextPageID() types.PageID {
	return types.PageID(n.page.GetInt32(offsetNextPageID))
}

func (n LeafPage) SetNextPageID(nextPageID types.PageID) {
	n.page.PutInt32(offsetNextPageID, int32(nextPageID))
}

func (n LeafPage) pairOffset(index int) int32 {
	return int32(leafHeaderSize + index*pairSize)
}

func (n LeafPage) KeyAt(index int) types.Key {
	return types.Key(n.page.GetInt64(n.pairOffset(index)))
}

func (n LeafPage) RIDAt(index int) types.RID {
	offset := n.pairOffset(index) + 8
	return types.RID{
		PageID:  types.PageID(n.page.GetInt32(offset)),
		SlotNum: types.SlotNum(n.page.GetUint32(offset + 4)),
	}
}

func (n LeafPage) pairAt(index int) leafPair {
	return leafPair{key: n.KeyAt(index), rid: n.RIDAt(index)}
}

func (n LeafPage) setPairAt(index int, pair leafPair) {
	offset := n.pairOffset(index)
	n.page.PutInt64(offset, int64(pair.key))
	n.page.PutInt32(offset+8, int32(pair.rid.PageID))
	n.page.PutUint32(offset+12, uint32(pair.rid.SlotNum))
}

// KeyIndex. binary search for the first index whose key >= key; equals
// GetSize() when every key is smaller.
func (n LeafPage) KeyIndex(key types.Key) int {
	left := 0
	right := n.GetSize() - 1

	for left <= right {
		mid := left + (right-left)/2
		if n.KeyAt(mid) >= key {
			right = mid - 1
		} else {
			left = mid + 1
		}
	}
	return left
}

// Insert. insert the pair in key order. duplicate keys are rejected by
// leaving the page untouched. returns the size after the insert.
func (n LeafPage) Insert(key types.Key, rid types.RID) int {
	insertIndex := n.KeyIndex(key)

	if insertIndex < n.GetSize() && n.KeyAt(insertIndex) == key {
		return n.GetSize()
	}

	for i := n.GetSize(); i > insertIndex; i-- {
		n.setPairAt(i, n.pairAt(i-1))
	}
	n.setPairAt(insertIndex, leafPair{key: key, rid: rid})
	n.IncreaseSize(1)
	return n.GetSize()
}

// Lookup. point query within this leaf.
func (n LeafPage) Lookup(key types.Key) (types.RID, bool) {
	targetIndex := n.KeyIndex(key)
	if targetIndex == n.GetSize() || n.KeyAt(targetIndex) != key {
		return types.RID{}, false
	}
	return n.RIDAt(targetIndex), true
}

// RemoveAndDeleteRecord. delete the pair for key if present, keeping the
// slot array dense. returns the size after the delete (unchanged size means
// the key was absent).
func (n LeafPage) RemoveAndDeleteRecord(key types.Key) int {
	targetIndex := n.KeyIndex(key)
	if targetIndex == n.GetSize() || n.KeyAt(targetIndex) != key {
		return n.GetSize()
	}

	n.IncreaseSize(-1)
	for i := targetIndex; i < n.GetSize(); i++ {
		n.setPairAt(i, n.pairAt(i+1))
	}
	return n.GetSize()
}

// MoveHalfTo. split: the upper half of the pairs moves to recipient.
func (n LeafPage) MoveHalfTo(recipient LeafPage) {
	startIndex := n.GetMinSize()
	moveNum := n.GetSize() - startIndex

	pairs := make([]leafPair, moveNum)
	for i := 0; i < moveNum; i++ {
		pairs[i] = n.pairAt(startIndex + i)
	}
	recipient.copyNFrom(pairs)
	n.IncreaseSize(-moveNum)
}

func (n LeafPage) copyNFrom(pairs []leafPair) {
	base := n.GetSize()
	for i, pair := range pairs {
		n.setPairAt(base+i, pair)
	}
	n.IncreaseSize(len(pairs))
}

// MoveAllTo. coalesce: every pair moves to the tail of recipient, which also
// takes over this leaf's next pointer.
func (n LeafPage) MoveAllTo(recipient LeafPage) {
	pairs := make([]leafPair, n.GetSize())
	for i := range pairs {
		pairs[i] = n.pairAt(i)
	}
	recipient.copyNFrom(pairs)
	recipient.SetNextPageID(n.GetNextPageID())
	n.SetSize(0)
}

// MoveFirstToEndOf. redistribute towards the left sibling.
func (n LeafPage) MoveFirstToEndOf(recipient LeafPage) {
	recipient.copyLastFrom(n.pairAt(0))

	n.IncreaseSize(-1)
	for i := 0; i < n.GetSize(); i++ {
		n.setPairAt(i, n.pairAt(i+1))
	}
}

func (n LeafPage) copyLastFrom(pair leafPair) {
	n.setPairAt(n.GetSize(), pair)
	n.IncreaseSize(1)
}

// MoveLastToFrontOf. redistribute towards the right sibling.
func (n LeafPage) MoveLastToFrontOf(recipient LeafPage) {
	recipient.copyFirstFrom(n.pairAt(n.GetSize() - 1))
	n.IncreaseSize(-1)
}

func (n LeafPage) copyFirstFrom(pair leafPair) {
	for i := n.GetSize(); i > 0; i-- {
		n.setPairAt(i, n.pairAt(i-1))
	}
	n.setPairAt(0, pair)
	n.IncreaseSize(1)
}
