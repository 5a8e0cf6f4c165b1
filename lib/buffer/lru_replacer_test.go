package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lintang-b-s/pagedb/types"
)

func TestLRUReplacer(t *testing.T) {
	t.Run("victims come out in least recently unpinned order", func(t *testing.T) {
		lru := NewLRUReplacer(7)

		lru.Unpin(1)
		lru.Unpin(2)
		lru.Unpin(3)
		lru.Unpin(4)
		lru.Unpin(5)
		lru.Unpin(6)
		// duplicate unpin must not reorder
		lru.Unpin(1)
		assert.Equal(t, 6, lru.Size())

		var victim types.FrameID
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(1), victim)
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(2), victim)
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(3), victim)

		// pinned frames leave the eviction set
		lru.Pin(3) // not present, no-op
		lru.Pin(4)
		assert.Equal(t, 2, lru.Size())

		lru.Unpin(4)

		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(5), victim)
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(6), victim)
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(4), victim)

		assert.False(t, lru.Victim(&victim))
		assert.Equal(t, 0, lru.Size())
	})

	t.Run("unpin past capacity drops the oldest entry", func(t *testing.T) {
		lru := NewLRUReplacer(2)

		lru.Unpin(1)
		lru.Unpin(2)
		lru.Unpin(3)
		assert.Equal(t, 2, lru.Size())

		var victim types.FrameID
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(2), victim)
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(3), victim)
	})

	t.Run("remove drops a frame without treating it as victim", func(t *testing.T) {
		lru := NewLRUReplacer(3)

		lru.Unpin(1)
		lru.Unpin(2)
		lru.Remove(1)

		var victim types.FrameID
		assert.True(t, lru.Victim(&victim))
		assert.Equal(t, types.FrameID(2), victim)
		assert.False(t, lru.Victim(&victim))
	})
}
