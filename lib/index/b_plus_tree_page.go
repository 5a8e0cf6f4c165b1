package index

import (
	"github.com/lintang-b-s/pagedb/lib"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

type IndexPageType int32

const (
	InvalidIndexPage IndexPageType = iota
	LeafPageType
	InternalPageType
)

// on-page header layout, shared by internal and leaf nodes:
//
//	| pageType(4) | lsn(4) | size(4) | maxSize(4) | parentPageID(4) | pageID(4) |
//
// a leaf additionally stores nextPageID right after the common header. the
// sorted slot array follows the header; every slot is a 16-byte pair.
const (
	offsetPageType     = 0
	offsetLSN          = 4
	offsetSize         = 8
	offsetMaxSize      = 12
	offsetParentPageID = 16
	offsetPageID       = 20

	internalHeaderSize = 24
	offsetNextPageID   = 24
	leafHeaderSize     = 28

	pairSize = 16
)

// MaxInternalSlots / MaxLeafSlots. how many pairs fit in one page; the
// configured max sizes must stay at or below these.
const (
	MaxInternalSlots = (lib.PAGE_SIZE - internalHeaderSize) / pairSize
	MaxLeafSlots     = (lib.PAGE_SIZE - leafHeaderSize) / pairSize
)

// BPlusTreePage . common header accessors over a raw buffer-pool page. the
// concrete node kind is discriminated by the pageType header field.
type BPlusTreePage struct {
	page *disk.Page
}

func asTreePage(page *disk.Page) BPlusTreePage {
	return BPlusTreePage{page: page}
}

func (n BPlusTreePage) Page() *disk.Page { return n.page }

func (n BPlusTreePage) PageType() IndexPageType {
	return IndexPageType(n.page.GetInt32(offsetPageType))
}

func (n BPlusTreePage) SetPageType(pageType IndexPageType) {
	n.page.PutInt32(offsetPageType, int32(pageType))
}

func (n BPlusTreePage) IsLeafPage() bool {
	return n.PageType() == LeafPageType
}

func (n BPlusTreePage) IsRootPage() bool {
	return n.GetParentPageID() == types.InvalidPageID
}

func (n BPlusTreePage) GetSize() int {
	return int(n.page.GetInt32(offsetSize))
}

func (n BPlusTreePage) SetSize(size int) {
	n.page.PutInt32(offsetSize, int32(size))
}

func (n BPlusTreePage) IncreaseSize(amount int) {
	n.SetSize(n.GetSize() + amount)
}

func (n BPlusTreePage) GetMaxSize() int {
	return int(n.page.GetInt32(offsetMaxSize))
}

func (n BPlusTreePage) SetMaxSize(maxSize int) {
	n.page.PutInt32(offsetMaxSize, int32(maxSize))
}

// GetMinSize. ceil(maxSize / 2). a node whose size drops below this after a
// delete must coalesce or redistribute; the root is exempt.
func (n BPlusTreePage) GetMinSize() int {
	return (n.GetMaxSize() + 1) / 2
}

func (n BPlusTreePage) GetParentPageID() types.PageID {
	return types.PageID(n.page.GetInt32(offsetParentPageID))
}

func (n BPlusTreePage) SetParentPageID(parentPageID types.PageID) {
	n.page.PutInt32(offsetParentPageID, int32(parentPageID))
}

func (n BPlusTreePage) GetPageID() types.PageID {
	return types.PageID(n.page.GetInt32(offsetPageID))
}

func (n BPlusTreePage) SetPageID(pageID types.PageID) {
	n.page.PutInt32(offsetPageID, int32(pageID))
}

func (n BPlusTreePage) SetLSN(lsn types.LSN) {
	n.page.PutInt32(offsetLSN, int32(lsn))
}

func (n BPlusTreePage) asLeaf() LeafPage {
	return LeafPage{BPlusTreePage: n}
}

func (n BPlusTreePage) asInternal() InternalPage {
	return InternalPage{BPlusTreePage: n}
}
