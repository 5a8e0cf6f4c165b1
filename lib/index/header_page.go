package index

import (
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

/*
HeaderPage . page 0 of the database, mapping index name -> root page id so an
index finds its root again after reopen.

page format:

	| recordCount(4) | name(32)+rootPageID(4) | name(32)+rootPageID(4) | ...
*/
type HeaderPage struct {
	page *disk.Page
}

const (
	headerNameSize    = 32
	headerRecordSize  = headerNameSize + 4
	headerRecordsBase = 4
)

func asHeaderPage(page *disk.Page) HeaderPage {
	return HeaderPage{page: page}
}

func (h HeaderPage) recordCount() int {
	return int(h.page.GetInt32(0))
}

func (h HeaderPage) setRecordCount(count int) {
	h.page.PutInt32(0, int32(count))
}

func (h HeaderPage) recordOffset(index int) int32 {
	return int32(headerRecordsBase + index*headerRecordSize)
}

func (h HeaderPage) nameAt(index int) string {
	offset := h.recordOffset(index)
	raw := h.page.Data()[offset : offset+headerNameSize]
	end := 0
	for end < headerNameSize && raw[end] != 0 {
		end++
	}
	return string(raw[:end])
}

func (h HeaderPage) findRecord(name string) int {
	for i := 0; i < h.recordCount(); i++ {
		if h.nameAt(i) == name {
			return i
		}
	}
	return -1
}

// InsertRecord. register a new index. fails if the name exists already or is
// too long for the fixed-size slot.
func (h HeaderPage) InsertRecord(name string, rootPageID types.PageID) bool {
	if len(name) >= headerNameSize || h.findRecord(name) != -1 {
		return false
	}
	if headerRecordsBase+(h.recordCount()+1)*headerRecordSize > len(h.page.Data()) {
		return false
	}

	index := h.recordCount()
	offset := h.recordOffset(index)
	copy(h.page.Data()[offset:offset+headerNameSize], name)
	for i := len(name); i < headerNameSize; i++ {
		h.page.Data()[offset+int32(i)] = 0
	}
	h.page.PutInt32(offset+headerNameSize, int32(rootPageID))
	h.setRecordCount(index + 1)
	return true
}

// UpdateRecord. point an existing index at a new root page.
func (h HeaderPage) UpdateRecord(name string, rootPageID types.PageID) bool {
	index := h.findRecord(name)
	if index == -1 {
		return false
	}
	h.page.PutInt32(h.recordOffset(index)+headerNameSize, int32(rootPageID))
	return true
}

// GetRootPageID. look the index's root up by name.
func (h HeaderPage) GetRootPageID(name string) (types.PageID, bool) {
	index := h.findRecord(name)
	if index == -1 {
		return types.InvalidPageID, false
	}
	return types.PageID(h.page.GetInt32(h.recordOffset(index) + headerNameSize)), true
}

// DeleteRecord. drop an index registration, keeping the record array dense.
func (h HeaderPage) DeleteRecord(name string) bool {
	index := h.findRecord(name)
	if index == -1 {
		return false
	}

	count := h.recordCount()
	data := h.page.Data()
	for i := index; i < count-1; i++ {
		src := h.recordOffset(i + 1)
		dst := h.recordOffset(i)
		copy(data[dst:dst+headerRecordSize], data[src:src+headerRecordSize])
	}
	h.setRecordCount(count - 1)
	return true
}
