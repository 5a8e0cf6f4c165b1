package buffer

import (
	"sync"

	"github.com/lintang-b-s/pagedb/lib/concurrent"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

// ParallelBufferPoolManager . shards the buffer pool over numInstances
// independent instances so unrelated page accesses do not contend on one
// latch. page ids are routed by pageID mod numInstances, matching each
// instance's allocation scheme.
type ParallelBufferPoolManager struct {
	instances    []*BufferPoolManagerInstance
	numInstances int
	poolSize     int

	latch      sync.Mutex // guards startIndex
	startIndex int

	flushWorkers concurrent.WorkQueue
}

func NewParallelBufferPoolManager(numInstances, poolSize int, diskManager *disk.DiskManager,
	logManager LogManager) *ParallelBufferPoolManager {
	instances := make([]*BufferPoolManagerInstance, numInstances)
	for i := 0; i < numInstances; i++ {
		instances[i] = NewBufferPoolManagerInstanceOf(poolSize, numInstances, i, diskManager, logManager)
	}

	return &ParallelBufferPoolManager{
		instances:    instances,
		numInstances: numInstances,
		poolSize:     poolSize,
		flushWorkers: concurrent.NewWorkerQueue(numInstances),
	}
}

// instanceFor. route a page id to the instance that owns its residue class.
func (p *ParallelBufferPoolManager) instanceFor(pageID types.PageID) *BufferPoolManagerInstance {
	return p.instances[int(pageID)%p.numInstances]
}

func (p *ParallelBufferPoolManager) FetchPage(pageID types.PageID) (*disk.Page, error) {
	return p.instanceFor(pageID).FetchPage(pageID)
}

func (p *ParallelBufferPoolManager) UnpinPage(pageID types.PageID, isDirty bool) bool {
	return p.instanceFor(pageID).UnpinPage(pageID, isDirty)
}

func (p *ParallelBufferPoolManager) FlushPage(pageID types.PageID) bool {
	return p.instanceFor(pageID).FlushPage(pageID)
}

func (p *ParallelBufferPoolManager) DeletePage(pageID types.PageID) bool {
	return p.instanceFor(pageID).DeletePage(pageID)
}

// NewPage. ask the instances round robin, starting one past where the last
// call started, so allocation load spreads evenly. returns ErrOutOfMemory
// only when every instance is saturated.
func (p *ParallelBufferPoolManager) NewPage(pageID *types.PageID) (*disk.Page, error) {
	p.latch.Lock()
	startIndex := p.startIndex
	p.startIndex = (p.startIndex + 1) % p.numInstances
	p.latch.Unlock()

	var lastErr error = ErrOutOfMemory
	for i := 0; i < p.numInstances; i++ {
		page, err := p.instances[(startIndex+i)%p.numInstances].NewPage(pageID)
		if err == nil {
			return page, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// FlushAllPages. flush every instance, fanned out over the worker queue.
func (p *ParallelBufferPoolManager) FlushAllPages() {
	var wg sync.WaitGroup
	for _, instance := range p.instances {
		wg.Add(1)
		instance := instance
		p.flushWorkers <- func() {
			defer wg.Done()
			instance.FlushAllPages()
		}
	}
	wg.Wait()
}

// GetPoolSize. frames per instance, matching the instance interface.
func (p *ParallelBufferPoolManager) GetPoolSize() int { return p.poolSize }

func (p *ParallelBufferPoolManager) Close() {
	close(p.flushWorkers)
}
