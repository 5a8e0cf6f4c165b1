package log

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

func TestLogManager(t *testing.T) {
	t.Run("records come back in append order with their lsns", func(t *testing.T) {
		dm, err := disk.NewDiskManager(t.TempDir(), 4096)
		require.NoError(t, err)
		defer dm.Close()

		lm := NewLogManager(dm)

		for i := 0; i < 100; i++ {
			lsn, err := lm.AppendRecord([]byte(fmt.Sprintf("record-%d", i)))
			require.NoError(t, err)
			assert.Equal(t, types.LSN(i), lsn)
		}

		it, err := lm.GetIterator()
		require.NoError(t, err)

		count := 0
		for it.HasNext() {
			lsn, record, err := it.Next()
			require.NoError(t, err)
			assert.Equal(t, types.LSN(count), lsn)
			assert.Equal(t, fmt.Sprintf("record-%d", count), string(record))
			count++
		}
		assert.Equal(t, 100, count)
	})

	t.Run("flush only hits disk when the watermark requires it", func(t *testing.T) {
		dm, err := disk.NewDiskManager(t.TempDir(), 4096)
		require.NoError(t, err)
		defer dm.Close()

		lm := NewLogManager(dm)

		lsn, err := lm.AppendRecord([]byte("buffered"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), dm.LogSize())

		// already covered lsns are a no-op
		require.NoError(t, lm.Flush(types.InvalidLSN))
		assert.Equal(t, int64(0), dm.LogSize())

		require.NoError(t, lm.Flush(lsn))
		assert.Greater(t, dm.LogSize(), int64(0))
		assert.Equal(t, lsn, lm.PersistentLSN())

		size := dm.LogSize()
		require.NoError(t, lm.Flush(lsn))
		assert.Equal(t, size, dm.LogSize())
	})

	t.Run("a full buffer spills before the next append", func(t *testing.T) {
		dm, err := disk.NewDiskManager(t.TempDir(), 4096)
		require.NoError(t, err)
		defer dm.Close()

		lm := NewLogManager(dm)

		payload := make([]byte, 1024)
		for i := 0; i < 64; i++ {
			_, err := lm.AppendRecord(payload)
			require.NoError(t, err)
		}
		assert.Greater(t, dm.LogSize(), int64(0))

		it, err := lm.GetIterator()
		require.NoError(t, err)
		count := 0
		for it.HasNext() {
			_, record, err := it.Next()
			require.NoError(t, err)
			assert.Len(t, record, 1024)
			count++
		}
		assert.Equal(t, 64, count)
	})
}
