package buffer

import (
	"sync"

	"github.com/lintang-b-s/pagedb/types"
)

type listNode struct {
	frameID types.FrameID
	next    *listNode
	prev    *listNode
}

// doubleLinkedList . head side is most recently unpinned, tail side is least
// recently unpinned.
//
// null <--> head <-> ... <-> tail <--> null
type doubleLinkedList struct {
	head *listNode
	tail *listNode
}

func newDoubleLinkedList() *doubleLinkedList {
	head := &listNode{frameID: -1}
	tail := &listNode{frameID: -1}
	head.next = tail
	tail.prev = head
	return &doubleLinkedList{head: head, tail: tail}
}

func (d *doubleLinkedList) remove(node *listNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

// pushFront. insert right after head, marking the frame most recently
// unpinned.
func (d *doubleLinkedList) pushFront(frameID types.FrameID) *listNode {
	node := &listNode{frameID: frameID}
	node.next = d.head.next
	node.prev = d.head
	d.head.next.prev = node
	d.head.next = node
	return node
}

// back. return the least recently unpinned node, or nil if empty.
func (d *doubleLinkedList) back() *listNode {
	if d.tail.prev == d.head {
		return nil
	}
	return d.tail.prev
}

// LRUReplacer . tracks at most capacity unpinned frames ordered by last
// unpin. the buffer pool asks it for eviction victims when the free list is
// exhausted.
type LRUReplacer struct {
	mu       sync.Mutex
	capacity int
	lst      *doubleLinkedList
	index    map[types.FrameID]*listNode
}

func NewLRUReplacer(capacity int) *LRUReplacer {
	return &LRUReplacer{
		capacity: capacity,
		lst:      newDoubleLinkedList(),
		index:    make(map[types.FrameID]*listNode),
	}
}

// Victim. remove and return the least recently unpinned frame. returns false
// if no frame is evictable.
func (lru *LRUReplacer) Victim(frameID *types.FrameID) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	backNode := lru.lst.back()
	if backNode == nil {
		return false
	}

	lru.lst.remove(backNode)
	delete(lru.index, backNode.frameID)
	*frameID = backNode.frameID
	return true
}

// Pin. a pinned frame is ineligible for eviction, remove it if present.
func (lru *LRUReplacer) Pin(frameID types.FrameID) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if node, ok := lru.index[frameID]; ok {
		lru.lst.remove(node)
		delete(lru.index, frameID)
	}
}

// Unpin. mark a frame evictable. if the replacer is already at capacity the
// least recently unpinned frame is dropped first (only happens transiently).
func (lru *LRUReplacer) Unpin(frameID types.FrameID) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if _, ok := lru.index[frameID]; ok {
		// already in the list
		return
	}

	if len(lru.index) >= lru.capacity {
		backNode := lru.lst.back()
		lru.lst.remove(backNode)
		delete(lru.index, backNode.frameID)
	}

	node := lru.lst.pushFront(frameID)
	lru.index[frameID] = node
}

// Remove. drop a frame from the replacer without treating it as a victim
// (used when a page is deleted and its frame goes back to the free list).
func (lru *LRUReplacer) Remove(frameID types.FrameID) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if node, ok := lru.index[frameID]; ok {
		lru.lst.remove(node)
		delete(lru.index, frameID)
	}
}

// Size. number of evictable frames.
func (lru *LRUReplacer) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return len(lru.index)
}
