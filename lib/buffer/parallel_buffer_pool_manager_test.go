package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

func TestParallelBufferPoolManager(t *testing.T) {
	t.Run("instances allocate ids on their own residue class", func(t *testing.T) {
		dm := newTestDiskManager(t)
		bpm := NewParallelBufferPoolManager(4, 5, dm, nil)
		defer bpm.Close()

		seen := make(map[types.PageID]struct{})
		for i := 0; i < 12; i++ {
			var pageID types.PageID
			_, err := bpm.NewPage(&pageID)
			require.NoError(t, err)

			_, dup := seen[pageID]
			assert.False(t, dup, "page id %d handed out twice", pageID)
			seen[pageID] = struct{}{}
			assert.NotEqual(t, types.PageID(0), pageID)
			// round robin: call i lands on instance i mod 4
			assert.Equal(t, i%4, int(pageID)%4)

			assert.True(t, bpm.UnpinPage(pageID, true))
		}
	})

	t.Run("pages round trip through the owning instance", func(t *testing.T) {
		dm := newTestDiskManager(t)
		bpm := NewParallelBufferPoolManager(3, 4, dm, nil)
		defer bpm.Close()

		ids := make([]types.PageID, 0, 30)
		for i := 0; i < 30; i++ {
			var pageID types.PageID
			page, err := bpm.NewPage(&pageID)
			require.NoError(t, err)
			page.PutInt64(0, int64(pageID)*31)
			assert.True(t, bpm.UnpinPage(pageID, true))
			ids = append(ids, pageID)
		}

		for _, pageID := range ids {
			page, err := bpm.FetchPage(pageID)
			require.NoError(t, err)
			assert.Equal(t, int64(pageID)*31, page.GetInt64(0))
			assert.True(t, bpm.UnpinPage(pageID, false))
		}
	})

	t.Run("flush all pages persists every instance", func(t *testing.T) {
		dm := newTestDiskManager(t)
		bpm := NewParallelBufferPoolManager(2, 3, dm, nil)
		defer bpm.Close()

		var pageID types.PageID
		page, err := bpm.NewPage(&pageID)
		require.NoError(t, err)
		page.PutString(0, "parallel flush")
		assert.True(t, bpm.UnpinPage(pageID, true))

		bpm.FlushAllPages()

		onDisk := disk.NewPage(4096)
		require.NoError(t, dm.ReadPage(pageID, onDisk))
		assert.Equal(t, "parallel flush", onDisk.GetString(0))
	})
}
