package disk

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/lintang-b-s/pagedb/types"
)

// Page . holds one page-sized block of data in memory while it occupies a
// buffer pool frame. pin count & dirty flag are owned by the buffer pool
// manager (guarded by its latch); the read-write latch is used by the b+tree
// crabbing protocol and the table heap.
type Page struct {
	id       types.PageID
	pinCount int
	isDirty  bool
	lsn      types.LSN
	latch    sync.RWMutex
	data     []byte
}

func NewPage(pageSize int) *Page {
	return &Page{
		id:   types.InvalidPageID,
		lsn:  types.InvalidLSN,
		data: make([]byte, pageSize),
	}
}

func NewPageFromByteSlice(b []byte) *Page {
	return &Page{id: types.InvalidPageID, lsn: types.InvalidLSN, data: b}
}

func (p *Page) ID() types.PageID      { return p.id }
func (p *Page) SetID(id types.PageID) { p.id = id }
func (p *Page) PinCount() int         { return p.pinCount }
func (p *Page) IncrementPin()         { p.pinCount++ }
func (p *Page) DecrementPin()         { p.pinCount-- }
func (p *Page) SetPinCount(pins int)  { p.pinCount = pins }
func (p *Page) IsDirty() bool         { return p.isDirty }
func (p *Page) SetDirty(isDirty bool) { p.isDirty = isDirty }
func (p *Page) LSN() types.LSN        { return p.lsn }
func (p *Page) SetLSN(lsn types.LSN)  { p.lsn = lsn }

func (p *Page) Data() []byte { return p.data }

// ResetMemory. zero the page payload so a recycled frame never leaks the
// previous page's bytes.
func (p *Page) ResetMemory() {
	for i := range p.data {
		p.data[i] = 0
	}
}

// RLatch / WLatch. page latch for the crabbing protocol. a latched page must
// also be pinned, otherwise the frame under it may be recycled.
func (p *Page) RLatch()   { p.latch.RLock() }
func (p *Page) RUnlatch() { p.latch.RUnlock() }
func (p *Page) WLatch()   { p.latch.Lock() }
func (p *Page) WUnlatch() { p.latch.Unlock() }

func (p *Page) GetInt32(offset int32) int32 {
	return int32(binary.LittleEndian.Uint32(p.data[offset:]))
}

// PutInt32. set int32 into the page payload at position = offset.
func (p *Page) PutInt32(offset int32, val int32) {
	binary.LittleEndian.PutUint32(p.data[offset:], uint32(val))
}

func (p *Page) GetUint32(offset int32) uint32 {
	return binary.LittleEndian.Uint32(p.data[offset:])
}

func (p *Page) PutUint32(offset int32, val uint32) {
	binary.LittleEndian.PutUint32(p.data[offset:], val)
}

func (p *Page) GetInt64(offset int32) int64 {
	return int64(binary.LittleEndian.Uint64(p.data[offset:]))
}

func (p *Page) PutInt64(offset int32, val int64) {
	binary.LittleEndian.PutUint64(p.data[offset:], uint64(val))
}

// GetBytes. return a copy of the length-prefixed byte array at position =
// offset.
func (p *Page) GetBytes(offset int32) []byte {
	length := p.GetInt32(offset)
	b := make([]byte, length)
	copy(b, p.data[offset+4:offset+4+length])
	return b
}

// PutBytes. write a length-prefixed byte array at position = offset.
func (p *Page) PutBytes(offset int32, b []byte) (int, error) {
	if offset+4+int32(len(b)) > int32(len(p.data)) {
		return 0, errors.New("put bytes out of bound")
	}
	p.PutInt32(offset, int32(len(b)))
	copy(p.data[offset+4:], b)
	return len(b) + 4, nil
}

func (p *Page) GetString(offset int32) string {
	return string(p.GetBytes(offset))
}

func (p *Page) PutString(offset int32, s string) {
	p.PutBytes(offset, []byte(s))
}
