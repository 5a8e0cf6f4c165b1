package index

import (
	"fmt"
	"sync"

	"github.com/lintang-b-s/pagedb/lib"
	"github.com/lintang-b-s/pagedb/lib/buffer"
	"github.com/lintang-b-s/pagedb/lib/concurrency"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

type operation int

const (
	opFind operation = iota
	opInsert
	opDelete
)

/*
BPlusTree . disk-resident unique index mapping keys to rids, built on
buffer-pool pages. concurrent readers and writers coordinate through crab
latching: a descent latches the child before giving up the parent, and a
writer drops every ancestor latch as soon as it reaches a node that cannot
split or merge upward.

rootPageID is guarded by rootLatch; a structure-modifying descent keeps
holding rootLatch until it has proven the root itself cannot change.
*/
type BPlusTree struct {
	indexName       string
	rootPageID      types.PageID
	bpm             buffer.BufferPoolManager
	leafMaxSize     int
	internalMaxSize int
	rootLatch       sync.Mutex
}

// NewBPlusTree. open (or register) the index named indexName. an existing
// root page id is re-adopted from the header page.
func NewBPlusTree(indexName string, bpm buffer.BufferPoolManager,
	leafMaxSize, internalMaxSize int) (*BPlusTree, error) {
	if leafMaxSize <= 0 {
		leafMaxSize = lib.LEAF_MAX_SIZE
	}
	if internalMaxSize <= 0 {
		internalMaxSize = lib.INTERNAL_MAX_SIZE
	}
	if leafMaxSize > MaxLeafSlots || internalMaxSize > MaxInternalSlots {
		return nil, fmt.Errorf("max size too large for page size: leaf %d (max %d), internal %d (max %d)",
			leafMaxSize, MaxLeafSlots, internalMaxSize, MaxInternalSlots)
	}

	t := &BPlusTree{
		indexName:       indexName,
		rootPageID:      types.InvalidPageID,
		bpm:             bpm,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	headerPage, err := bpm.FetchPage(lib.HEADER_PAGE_ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch header page: %w", err)
	}
	if rootPageID, ok := asHeaderPage(headerPage).GetRootPageID(indexName); ok {
		t.rootPageID = rootPageID
	}
	bpm.UnpinPage(lib.HEADER_PAGE_ID, false)

	return t, nil
}

func (t *BPlusTree) IsEmpty() bool {
	t.rootLatch.Lock()
	defer t.rootLatch.Unlock()
	return t.rootPageID == types.InvalidPageID
}

// RootPageID. for tests and inspection.
func (t *BPlusTree) RootPageID() types.PageID {
	t.rootLatch.Lock()
	defer t.rootLatch.Unlock()
	return t.rootPageID
}

/*****************************************************************************
 * SEARCH
 *****************************************************************************/

// GetValue. point lookup.
func (t *BPlusTree) GetValue(key types.Key, txn *concurrency.Transaction) (types.RID, bool) {
	leafPage, _ := t.findLeafPageByOperation(key, opFind, nil, false, false)
	if leafPage == nil {
		return types.RID{}, false
	}
	leaf := asTreePage(leafPage).asLeaf()

	rid, ok := leaf.Lookup(key)

	leafPage.RUnlatch()
	t.bpm.UnpinPage(leafPage.ID(), false)
	return rid, ok
}

/*****************************************************************************
 * INSERTION
 *****************************************************************************/

// Insert. insert a unique key. returns false if the key already exists.
func (t *BPlusTree) Insert(key types.Key, rid types.RID, txn *concurrency.Transaction) bool {
	txn = ensureTxn(txn)

	// the root page id may be reassigned concurrently, take the root latch
	// before deciding the tree is empty.
	t.rootLatch.Lock()
	if t.rootPageID == types.InvalidPageID {
		t.startNewTree(key, rid)
		t.rootLatch.Unlock()
		return true
	}
	t.rootLatch.Unlock()
	return t.insertIntoLeaf(key, rid, txn)
}

// startNewTree. first insert into an empty index: a single leaf becomes the
// root. caller holds the root latch.
func (t *BPlusTree) startNewTree(key types.Key, rid types.RID) {
	var rootPageID types.PageID
	rootPage, err := t.bpm.NewPage(&rootPageID)
	if err != nil {
		panic(err)
	}
	t.rootPageID = rootPageID
	t.updateRootPageID()

	root := asTreePage(rootPage).asLeaf()
	root.Init(rootPageID, types.InvalidPageID, t.leafMaxSize)
	root.Insert(key, rid)

	t.bpm.UnpinPage(rootPageID, true)
}

func (t *BPlusTree) insertIntoLeaf(key types.Key, rid types.RID, txn *concurrency.Transaction) bool {
	leafPage, rootLatched := t.findLeafPageByOperation(key, opInsert, txn, false, false)
	if leafPage == nil {
		// a concurrent delete emptied the tree after the empty check; retry
		return t.Insert(key, rid, txn)
	}
	leaf := asTreePage(leafPage).asLeaf()

	if _, exists := leaf.Lookup(key); exists {
		// unique key conflict, release everything untouched
		if rootLatched {
			t.rootLatch.Unlock()
		}
		t.unlockUnpinPages(txn)
		leafPage.WUnlatch()
		t.bpm.UnpinPage(leafPage.ID(), false)
		return false
	}

	leaf.Insert(key, rid)

	// the leaf holds one reserve slot, reaching maxSize triggers the split
	if leaf.GetSize() >= leaf.GetMaxSize() {
		newLeaf := t.splitLeaf(leaf)
		t.insertIntoParent(leaf.BPlusTreePage, newLeaf.KeyAt(0), newLeaf.BPlusTreePage, txn, &rootLatched)
		t.bpm.UnpinPage(newLeaf.GetPageID(), true)
	}

	if rootLatched {
		t.rootLatch.Unlock()
	}
	leafPage.WUnlatch()
	t.bpm.UnpinPage(leafPage.ID(), true)
	return true
}

// splitLeaf. allocate a new leaf, move the upper half over and link it into
// the leaf chain. the new page stays pinned for insertIntoParent.
func (t *BPlusTree) splitLeaf(leaf LeafPage) LeafPage {
	var newPageID types.PageID
	newPage, err := t.bpm.NewPage(&newPageID)
	if err != nil {
		panic(err)
	}

	newLeaf := asTreePage(newPage).asLeaf()
	newLeaf.Init(newPageID, leaf.GetParentPageID(), t.leafMaxSize)
	leaf.MoveHalfTo(newLeaf)
	newLeaf.SetNextPageID(leaf.GetNextPageID())
	leaf.SetNextPageID(newPageID)
	return newLeaf
}

func (t *BPlusTree) splitInternal(node InternalPage) InternalPage {
	var newPageID types.PageID
	newPage, err := t.bpm.NewPage(&newPageID)
	if err != nil {
		panic(err)
	}

	newNode := asTreePage(newPage).asInternal()
	newNode.Init(newPageID, node.GetParentPageID(), t.internalMaxSize)
	node.MoveHalfTo(newNode, t.bpm)
	return newNode
}

/*
insertIntoParent. hook the split-off sibling into the tree: insert
(key, new) right after old in their parent, splitting the parent recursively
when it overflows. if old was the root, a fresh internal root adopts both.

ancestor latches (the transaction's page set) are released at the recursion
end, where the structure change provably stops.
*/
func (t *BPlusTree) insertIntoParent(oldNode BPlusTreePage, key types.Key, newNode BPlusTreePage,
	txn *concurrency.Transaction, rootLatched *bool) {
	if oldNode.IsRootPage() {
		var newRootID types.PageID
		newRootPage, err := t.bpm.NewPage(&newRootID)
		if err != nil {
			panic(err)
		}
		newRoot := asTreePage(newRootPage).asInternal()
		newRoot.Init(newRootID, types.InvalidPageID, t.internalMaxSize)
		newRoot.PopulateNewRoot(oldNode.GetPageID(), key, newNode.GetPageID())
		oldNode.SetParentPageID(newRootID)
		newNode.SetParentPageID(newRootID)

		t.rootPageID = newRootID
		t.updateRootPageID()

		// the root page id is final now
		if *rootLatched {
			*rootLatched = false
			t.rootLatch.Unlock()
		}
		t.unlockUnpinPages(txn)
		t.bpm.UnpinPage(newRootID, true)
		return
	}

	parentPage, err := t.bpm.FetchPage(oldNode.GetParentPageID())
	if err != nil {
		panic(err)
	}
	parent := asTreePage(parentPage).asInternal()
	parent.InsertNodeAfter(oldNode.GetPageID(), key, newNode.GetPageID())

	if parent.GetSize() < parent.GetMaxSize() {
		// recursion ends here, nothing above can change anymore
		if *rootLatched {
			*rootLatched = false
			t.rootLatch.Unlock()
		}
		t.unlockUnpinPages(txn)
		t.bpm.UnpinPage(parentPage.ID(), true)
		return
	}

	newParent := t.splitInternal(parent)
	t.insertIntoParent(parent.BPlusTreePage, newParent.KeyAt(0), newParent.BPlusTreePage, txn, rootLatched)
	t.bpm.UnpinPage(newParent.GetPageID(), true)
	t.bpm.UnpinPage(parentPage.ID(), true)
}

/*****************************************************************************
 * REMOVE
 *****************************************************************************/

// Remove. delete key if present; a missing key is a no-op.
func (t *BPlusTree) Remove(key types.Key, txn *concurrency.Transaction) {
	txn = ensureTxn(txn)

	leafPage, rootLatched := t.findLeafPageByOperation(key, opDelete, txn, false, false)
	if leafPage == nil {
		return
	}
	leaf := asTreePage(leafPage).asLeaf()

	oldSize := leaf.GetSize()
	newSize := leaf.RemoveAndDeleteRecord(key)

	if newSize == oldSize {
		// key absent
		if rootLatched {
			t.rootLatch.Unlock()
		}
		t.unlockUnpinPages(txn)
		leafPage.WUnlatch()
		t.bpm.UnpinPage(leafPage.ID(), false)
		return
	}

	leafShouldDelete := t.coalesceOrRedistribute(leaf.BPlusTreePage, txn, &rootLatched)
	if leafShouldDelete {
		txn.AddIntoDeletedPageSet(leafPage.ID())
	}

	leafPage.WUnlatch()
	t.bpm.UnpinPage(leafPage.ID(), true)

	// pages emptied during coalescing are deleted only after every latch on
	// the path is gone
	for pageID := range txn.DeletedPageSet() {
		t.bpm.DeletePage(pageID)
	}
	txn.ClearDeletedPageSet()
}

/*
coalesceOrRedistribute. node underflowed (or is the root): either merge it
into a sibling or borrow one entry. returns true when node itself must be
deleted afterwards.
*/
func (t *BPlusTree) coalesceOrRedistribute(node BPlusTreePage, txn *concurrency.Transaction,
	rootLatched *bool) bool {
	if node.IsRootPage() {
		rootShouldDelete := t.adjustRoot(node)
		if *rootLatched {
			*rootLatched = false
			t.rootLatch.Unlock()
		}
		t.unlockUnpinPages(txn)
		return rootShouldDelete
	}

	if node.GetSize() >= node.GetMinSize() {
		// no underflow, recursion ends here
		if *rootLatched {
			*rootLatched = false
			t.rootLatch.Unlock()
		}
		t.unlockUnpinPages(txn)
		return false
	}

	parentPage, err := t.bpm.FetchPage(node.GetParentPageID())
	if err != nil {
		panic(err)
	}
	parent := asTreePage(parentPage).asInternal()

	index := parent.ValueIndex(node.GetPageID())
	siblingIndex := index - 1
	if index == 0 {
		// first child, fall back to the next sibling
		siblingIndex = 1
	}
	siblingPage, err := t.bpm.FetchPage(parent.ValueAt(siblingIndex))
	if err != nil {
		panic(err)
	}
	// the sibling is about to be read and mutated, latch it first
	siblingPage.WLatch()
	sibling := asTreePage(siblingPage)

	// prefer merging whenever one page can hold both (maxSize-1 effective
	// capacity because of the reserve slot)
	if node.GetSize()+sibling.GetSize() <= node.GetMaxSize()-1 {
		parentShouldDelete := t.coalesce(sibling, node, parent, index, txn, rootLatched)
		if parentShouldDelete {
			txn.AddIntoDeletedPageSet(parentPage.ID())
		}

		siblingPage.WUnlatch()
		t.bpm.UnpinPage(parentPage.ID(), true)
		t.bpm.UnpinPage(siblingPage.ID(), true)

		if index == 0 {
			// roles were swapped: node survived, the emptied next sibling
			// goes away instead
			txn.AddIntoDeletedPageSet(siblingPage.ID())
			return false
		}
		return true
	}

	if *rootLatched {
		*rootLatched = false
		t.rootLatch.Unlock()
	}

	t.redistribute(sibling, node, index)

	t.unlockUnpinPages(txn)
	siblingPage.WUnlatch()
	t.bpm.UnpinPage(parentPage.ID(), true)
	t.bpm.UnpinPage(siblingPage.ID(), true)
	return false
}

/*
coalesce. merge node into its sibling so the survivor is always the one on
the left, then drop the dangling separator from the parent and let the
parent handle its own possible underflow recursively. for internal nodes the
separator key is pulled down as the first key of the moved region.
*/
func (t *BPlusTree) coalesce(neighbor, node BPlusTreePage, parent InternalPage, index int,
	txn *concurrency.Transaction, rootLatched *bool) bool {
	keyIndex := index
	if index == 0 {
		neighbor, node = node, neighbor
		keyIndex = 1
	}
	middleKey := parent.KeyAt(keyIndex)

	if node.IsLeafPage() {
		node.asLeaf().MoveAllTo(neighbor.asLeaf())
	} else {
		node.asInternal().MoveAllTo(neighbor.asInternal(), middleKey, t.bpm)
	}

	parent.Remove(keyIndex)

	return t.coalesceOrRedistribute(parent.BPlusTreePage, txn, rootLatched)
}

/*
redistribute. move one entry between node and its sibling and rewrite the
separator in the parent to the new boundary. index == 0 means the sibling is
the next one, otherwise the previous one.
*/
func (t *BPlusTree) redistribute(neighbor, node BPlusTreePage, index int) {
	parentPage, err := t.bpm.FetchPage(node.GetParentPageID())
	if err != nil {
		panic(err)
	}
	parent := asTreePage(parentPage).asInternal()

	if node.IsLeafPage() {
		leaf := node.asLeaf()
		neighborLeaf := neighbor.asLeaf()
		if index == 0 {
			neighborLeaf.MoveFirstToEndOf(leaf)
			parent.SetKeyAt(1, neighborLeaf.KeyAt(0))
		} else {
			neighborLeaf.MoveLastToFrontOf(leaf)
			parent.SetKeyAt(index, leaf.KeyAt(0))
		}
	} else {
		internal := node.asInternal()
		neighborInternal := neighbor.asInternal()
		if index == 0 {
			neighborInternal.MoveFirstToEndOf(internal, parent.KeyAt(1), t.bpm)
			parent.SetKeyAt(1, neighborInternal.KeyAt(0))
		} else {
			neighborInternal.MoveLastToFrontOf(internal, parent.KeyAt(index), t.bpm)
			parent.SetKeyAt(index, internal.KeyAt(0))
		}
	}

	t.bpm.UnpinPage(parentPage.ID(), true)
}

/*
adjustRoot. called only while the root latch protects rootPageID.

case A: an internal root shrank to a single child pointer; promote that only
child as the new root.
case B: the last key of a leaf root was deleted; the index becomes empty.
*/
func (t *BPlusTree) adjustRoot(oldRoot BPlusTreePage) bool {
	if !oldRoot.IsLeafPage() && oldRoot.GetSize() == 1 {
		childPageID := oldRoot.asInternal().RemoveAndReturnOnlyChild()
		t.rootPageID = childPageID
		t.updateRootPageID()

		childPage, err := t.bpm.FetchPage(childPageID)
		if err != nil {
			panic(err)
		}
		asTreePage(childPage).SetParentPageID(types.InvalidPageID)
		t.bpm.UnpinPage(childPageID, true)
		return true
	}

	if oldRoot.IsLeafPage() && oldRoot.GetSize() == 0 {
		t.rootPageID = types.InvalidPageID
		t.updateRootPageID()
		return true
	}

	return false
}

/*****************************************************************************
 * LATCH CRABBING
 *****************************************************************************/

/*
findLeafPageByOperation. descend to the leaf that owns key (or the leftmost/
rightmost leaf), latching crab-style.

find: read-latch each child, then release the parent immediately.

insert/delete: write-latch each child and append the parent to the
transaction's page set; once a child is safe for the operation, the root
latch (if still held) and every ancestor latch are released, because no
structure change can propagate past a safe node.

returns the latched, pinned leaf page plus whether the root latch is still
held. returns nil when the tree is empty.
*/
func (t *BPlusTree) findLeafPageByOperation(key types.Key, op operation,
	txn *concurrency.Transaction, leftMost, rightMost bool) (*disk.Page, bool) {
	t.rootLatch.Lock()
	rootLatched := true

	if t.rootPageID == types.InvalidPageID {
		t.rootLatch.Unlock()
		return nil, false
	}

	page, err := t.bpm.FetchPage(t.rootPageID)
	if err != nil {
		t.rootLatch.Unlock()
		panic(err)
	}
	node := asTreePage(page)

	if op == opFind {
		page.RLatch()
		rootLatched = false
		t.rootLatch.Unlock()
	} else {
		page.WLatch()
		if t.isSafe(node, op) {
			rootLatched = false
			t.rootLatch.Unlock()
		}
	}

	for !node.IsLeafPage() {
		internal := node.asInternal()

		var childPageID types.PageID
		switch {
		case leftMost:
			childPageID = internal.ValueAt(0)
		case rightMost:
			childPageID = internal.ValueAt(internal.GetSize() - 1)
		default:
			childPageID = internal.Lookup(key)
		}

		childPage, err := t.bpm.FetchPage(childPageID)
		if err != nil {
			panic(err)
		}
		childNode := asTreePage(childPage)

		if op == opFind {
			childPage.RLatch()
			page.RUnlatch()
			t.bpm.UnpinPage(page.ID(), false)
		} else {
			childPage.WLatch()
			txn.AddIntoPageSet(page)
			if t.isSafe(childNode, op) {
				if rootLatched {
					rootLatched = false
					t.rootLatch.Unlock()
				}
				t.unlockUnpinPages(txn)
			}
		}

		page = childPage
		node = childNode
	}

	return page, rootLatched
}

/*
isSafe. can this node absorb the operation without touching its ancestors?
insert: one below the reserve slot. delete: strictly above the minimum, with
the root exempt up to the point where the root itself would change: a leaf
root is unsafe only when the delete could empty it (the root page id then
flips to invalid), an internal root is unsafe at size 2 because removing a
child would promote the survivor as the new root.
*/
func (t *BPlusTree) isSafe(node BPlusTreePage, op operation) bool {
	if op == opInsert {
		return node.GetSize() < node.GetMaxSize()-1
	}

	if op == opDelete {
		if node.IsRootPage() {
			if node.IsLeafPage() {
				return node.GetSize() > 1
			}
			return node.GetSize() > 2
		}
		return node.GetSize() > node.GetMinSize()
	}

	return true
}

// unlockUnpinPages. release every latched ancestor exactly once, in descent
// order.
func (t *BPlusTree) unlockUnpinPages(txn *concurrency.Transaction) {
	if txn == nil {
		return
	}
	for _, page := range txn.PageSet() {
		page.WUnlatch()
		t.bpm.UnpinPage(page.ID(), false)
	}
	txn.ClearPageSet()
}

// updateRootPageID. persist the root mapping in the header page. caller must
// be the one protecting rootPageID (root latch held, or root provably
// stable).
func (t *BPlusTree) updateRootPageID() {
	headerPage, err := t.bpm.FetchPage(lib.HEADER_PAGE_ID)
	if err != nil {
		panic(err)
	}
	header := asHeaderPage(headerPage)
	if !header.UpdateRecord(t.indexName, t.rootPageID) {
		header.InsertRecord(t.indexName, t.rootPageID)
	}
	t.bpm.UnpinPage(lib.HEADER_PAGE_ID, true)
}

// ensureTxn. insert/delete thread their latched-page set through a
// transaction; callers outside a transaction get a scratch one.
func ensureTxn(txn *concurrency.Transaction) *concurrency.Transaction {
	if txn == nil {
		return concurrency.NewTransaction(types.InvalidTxnID, concurrency.RepeatableRead)
	}
	return txn
}

/*****************************************************************************
 * INDEX ITERATOR
 *****************************************************************************/

// Begin. iterator positioned at the smallest key.
func (t *BPlusTree) Begin() *IndexIterator {
	leafPage, _ := t.findLeafPageByOperation(0, opFind, nil, true, false)
	if leafPage == nil {
		return &IndexIterator{bpm: t.bpm}
	}
	leafPage.RUnlatch()
	return newIndexIterator(t.bpm, leafPage, 0)
}

// BeginAt. iterator positioned at the first key >= key.
func (t *BPlusTree) BeginAt(key types.Key) *IndexIterator {
	leafPage, _ := t.findLeafPageByOperation(key, opFind, nil, false, false)
	if leafPage == nil {
		return &IndexIterator{bpm: t.bpm}
	}
	leaf := asTreePage(leafPage).asLeaf()
	index := leaf.KeyIndex(key)
	leafPage.RUnlatch()
	return newIndexIterator(t.bpm, leafPage, index)
}

// End. the past-the-last sentinel.
func (t *BPlusTree) End() *IndexIterator {
	return &IndexIterator{bpm: t.bpm}
}

/*****************************************************************************
 * TRANSACTION MANAGER HOOKS
 *****************************************************************************/

// InsertEntry / DeleteEntry. the write interface the transaction manager
// replays index undo records through.
func (t *BPlusTree) InsertEntry(key types.Key, rid types.RID, txn *concurrency.Transaction) bool {
	return t.Insert(key, rid, txn)
}

func (t *BPlusTree) DeleteEntry(key types.Key, txn *concurrency.Transaction) {
	t.Remove(key, txn)
}
