package buffer

import (
	"errors"
	"sync"

	"github.com/lintang-b-s/pagedb/lib"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

// https://15445.courses.cs.cmu.edu/spring2023/slides/06-bufferpool.pdf

// ErrOutOfMemory . returned by FetchPage/NewPage when every frame is pinned
// and nothing can be evicted.
var ErrOutOfMemory = errors.New("all frames in the buffer pool are pinned")

// LogManager . write-ahead discipline hook: the pool flushes the log up to a
// page's lsn before that dirty page goes to disk.
type LogManager interface {
	Flush(lsn types.LSN) error
}

// BufferPoolManager . interface consumed by the b+tree, the table heap and
// the executors. satisfied by both BufferPoolManagerInstance and
// ParallelBufferPoolManager.
type BufferPoolManager interface {
	FetchPage(pageID types.PageID) (*disk.Page, error)
	NewPage(pageID *types.PageID) (*disk.Page, error)
	UnpinPage(pageID types.PageID, isDirty bool) bool
	DeletePage(pageID types.PageID) bool
	FlushPage(pageID types.PageID) bool
	FlushAllPages()
	GetPoolSize() int
}

// BufferPoolManagerInstance . owns poolSize frames, the pageTable mapping
// pageID -> frameID, a free list of unused frames, and an LRU replacer for
// eviction. when sharded, instance i of N allocates page ids i, i+N, i+2N, ...
type BufferPoolManagerInstance struct {
	latch sync.Mutex

	poolSize      int
	numInstances  int
	instanceIndex int
	nextPageID    types.PageID

	pages       []*disk.Page
	pageTable   map[types.PageID]types.FrameID // {pageID: frameID}
	freeList    []types.FrameID                // frames not holding any page
	replacer    *LRUReplacer
	diskManager *disk.DiskManager
	logManager  LogManager
}

// NewBufferPoolManagerInstance. single-instance pool, equivalent to one shard
// of one.
func NewBufferPoolManagerInstance(poolSize int, diskManager *disk.DiskManager,
	logManager LogManager) *BufferPoolManagerInstance {
	return NewBufferPoolManagerInstanceOf(poolSize, 1, 0, diskManager, logManager)
}

// NewBufferPoolManagerInstanceOf. shard instanceIndex of numInstances.
func NewBufferPoolManagerInstanceOf(poolSize, numInstances, instanceIndex int,
	diskManager *disk.DiskManager, logManager LogManager) *BufferPoolManagerInstance {
	pages := make([]*disk.Page, poolSize)
	for i := 0; i < poolSize; i++ {
		pages[i] = disk.NewPage(diskManager.PageSize())
	}

	// initially every frame is in the free list
	freeList := make([]types.FrameID, poolSize)
	for i := 0; i < poolSize; i++ {
		freeList[i] = types.FrameID(i)
	}

	return &BufferPoolManagerInstance{
		poolSize:      poolSize,
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
		nextPageID:    types.PageID(instanceIndex),
		pages:         pages,
		pageTable:     make(map[types.PageID]types.FrameID),
		freeList:      freeList,
		replacer:      NewLRUReplacer(poolSize),
		diskManager:   diskManager,
		logManager:    logManager,
	}
}

// allocatePage. hand out this instance's next page id, congruent to
// instanceIndex modulo numInstances. page 0 is reserved for the header page
// and never handed out.
func (bpm *BufferPoolManagerInstance) allocatePage() types.PageID {
	pageID := bpm.nextPageID
	bpm.nextPageID += types.PageID(bpm.numInstances)
	if pageID == lib.HEADER_PAGE_ID {
		pageID = bpm.nextPageID
		bpm.nextPageID += types.PageID(bpm.numInstances)
	}
	return pageID
}

// getVictimFrame. take a frame from the free list first; only evict through
// the replacer when the free list is empty. caller must hold the latch.
func (bpm *BufferPoolManagerInstance) getVictimFrame() (types.FrameID, error) {
	if len(bpm.freeList) != 0 {
		frameID := bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return frameID, nil
	}

	var frameID types.FrameID
	if !bpm.replacer.Victim(&frameID) {
		return 0, ErrOutOfMemory
	}

	victim := bpm.pages[frameID]
	if victim.IsDirty() {
		// evicted dirty page must be written back, log first
		if bpm.logManager != nil {
			if err := bpm.logManager.Flush(victim.LSN()); err != nil {
				return 0, err
			}
		}
		if err := bpm.diskManager.WritePage(victim.ID(), victim); err != nil {
			return 0, err
		}
		victim.SetDirty(false)
	}
	delete(bpm.pageTable, victim.ID())
	return frameID, nil
}

/*
FetchPage. return the page with pageID, pinning its frame. if the page is not
resident, take a frame from the free list or evict the least recently used
page, then read the page in from disk.
*/
func (bpm *BufferPoolManagerInstance) FetchPage(pageID types.PageID) (*disk.Page, error) {
	bpm.latch.Lock()
	defer bpm.latch.Unlock()

	if frameID, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameID]
		page.IncrementPin()       // another user of this frame
		bpm.replacer.Pin(frameID) // remove from LRU so it cannot be evicted
		return page, nil
	}

	frameID, err := bpm.getVictimFrame()
	if err != nil {
		return nil, err
	}

	page := bpm.pages[frameID]
	page.SetID(pageID)
	page.SetPinCount(1)
	page.SetDirty(false)
	bpm.pageTable[pageID] = frameID
	bpm.replacer.Pin(frameID)

	if err := bpm.diskManager.ReadPage(pageID, page); err != nil {
		return nil, err
	}
	return page, nil
}

/*
NewPage. allocate a fresh page id on this instance's shard, pin a frame for
it and zero the payload. the caller is expected to dirty the page before
unpinning it.
*/
func (bpm *BufferPoolManagerInstance) NewPage(pageID *types.PageID) (*disk.Page, error) {
	bpm.latch.Lock()
	defer bpm.latch.Unlock()

	*pageID = bpm.allocatePage()

	frameID, err := bpm.getVictimFrame()
	if err != nil {
		return nil, err
	}

	page := bpm.pages[frameID]
	page.SetID(*pageID)
	page.SetPinCount(1)
	page.SetDirty(false)
	page.ResetMemory()
	bpm.pageTable[*pageID] = frameID
	bpm.replacer.Pin(frameID)

	return page, nil
}

// UnpinPage. decrement the pin count, OR-ing in the dirty flag. when the pin
// count reaches zero the frame becomes evictable. returns true iff a
// decrement happened; unpinning an already-unpinned page is a caller bug and
// returns false.
func (bpm *BufferPoolManagerInstance) UnpinPage(pageID types.PageID, isDirty bool) bool {
	bpm.latch.Lock()
	defer bpm.latch.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return false
	}

	page := bpm.pages[frameID]
	if isDirty {
		page.SetDirty(true)
	}

	if page.PinCount() <= 0 {
		// already unpinned
		return false
	}

	page.DecrementPin()
	if page.PinCount() == 0 {
		bpm.replacer.Unpin(frameID)
	}
	return true
}

// DeletePage. remove a page from the database, both on disk and in memory.
// returns false if someone still holds a pin on it.
func (bpm *BufferPoolManagerInstance) DeletePage(pageID types.PageID) bool {
	bpm.latch.Lock()
	defer bpm.latch.Unlock()

	bpm.diskManager.DeallocatePage(pageID)

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		// not resident, nothing more to do
		return true
	}

	page := bpm.pages[frameID]
	if page.PinCount() > 0 {
		return false
	}

	delete(bpm.pageTable, pageID)
	bpm.replacer.Remove(frameID)
	page.SetID(types.InvalidPageID)
	page.SetDirty(false)
	page.ResetMemory()
	bpm.freeList = append(bpm.freeList, frameID)
	return true
}

// FlushPage. write the page to disk unconditionally. fails if the page is not
// resident.
func (bpm *BufferPoolManagerInstance) FlushPage(pageID types.PageID) bool {
	bpm.latch.Lock()
	defer bpm.latch.Unlock()
	return bpm.flushPage(pageID)
}

func (bpm *BufferPoolManagerInstance) flushPage(pageID types.PageID) bool {
	frameID, ok := bpm.pageTable[pageID]
	if !ok || pageID == types.InvalidPageID {
		return false
	}

	page := bpm.pages[frameID]
	if bpm.logManager != nil {
		if err := bpm.logManager.Flush(page.LSN()); err != nil {
			return false
		}
	}
	if err := bpm.diskManager.WritePage(pageID, page); err != nil {
		return false
	}
	page.SetDirty(false)
	return true
}

func (bpm *BufferPoolManagerInstance) FlushAllPages() {
	bpm.latch.Lock()
	defer bpm.latch.Unlock()

	for pageID := range bpm.pageTable {
		bpm.flushPage(pageID)
	}
}

func (bpm *BufferPoolManagerInstance) GetPoolSize() int { return bpm.poolSize }

// ResidentPages. snapshot of the page table keys, for tests and debugging.
func (bpm *BufferPoolManagerInstance) ResidentPages() []types.PageID {
	bpm.latch.Lock()
	defer bpm.latch.Unlock()

	ids := make([]types.PageID, 0, len(bpm.pageTable))
	for pageID := range bpm.pageTable {
		ids = append(ids, pageID)
	}
	return ids
}
