package index

import (
	"github.com/lintang-b-s/pagedb/lib/buffer"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

/*
IndexIterator . forward iterator over the leaf chain. it keeps the current
leaf pinned but never latched between steps, so concurrent inserts and
deletes are tolerated without any snapshot guarantee. Close releases the
last pin; an exhausted iterator has already released everything.
*/
type IndexIterator struct {
	bpm   buffer.BufferPoolManager
	page  *disk.Page
	leaf  LeafPage
	index int
}

func newIndexIterator(bpm buffer.BufferPoolManager, page *disk.Page, index int) *IndexIterator {
	it := &IndexIterator{
		bpm:   bpm,
		page:  page,
		leaf:  asTreePage(page).asLeaf(),
		index: index,
	}
	it.skipExhaustedLeaves()
	return it
}

// skipExhaustedLeaves. keep the invariant that a live iterator points at a
// real pair: hop leaves until one has a pair at index, or the chain ends.
func (it *IndexIterator) skipExhaustedLeaves() {
	for it.page != nil && it.index >= it.leaf.GetSize() {
		nextPageID := it.leaf.GetNextPageID()
		it.bpm.UnpinPage(it.page.ID(), false)
		if nextPageID == types.InvalidPageID {
			it.page = nil
			return
		}

		nextPage, err := it.bpm.FetchPage(nextPageID)
		if err != nil {
			panic(err)
		}
		it.page = nextPage
		it.leaf = asTreePage(nextPage).asLeaf()
		it.index = 0
	}
}

func (it *IndexIterator) IsEnd() bool {
	return it.page == nil
}

func (it *IndexIterator) Key() types.Key {
	return it.leaf.KeyAt(it.index)
}

func (it *IndexIterator) RID() types.RID {
	return it.leaf.RIDAt(it.index)
}

// Next. advance one pair, following the leaf chain.
func (it *IndexIterator) Next() {
	if it.page == nil {
		return
	}
	it.index++
	it.skipExhaustedLeaves()
}

// Close. drop the pin on the current leaf. safe to call more than once.
func (it *IndexIterator) Close() {
	if it.page != nil {
		it.bpm.UnpinPage(it.page.ID(), false)
		it.page = nil
	}
}
