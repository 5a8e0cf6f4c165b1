package index

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lintang-b-s/pagedb/lib/buffer"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

func newTestTree(t *testing.T, leafMaxSize, internalMaxSize, poolSize int) (*BPlusTree, buffer.BufferPoolManager) {
	t.Helper()

	dm, err := disk.NewDiskManager(t.TempDir(), 4096)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	bpm := buffer.NewBufferPoolManagerInstance(poolSize, dm, nil)
	tree, err := NewBPlusTree("test_index", bpm, leafMaxSize, internalMaxSize)
	require.NoError(t, err)
	return tree, bpm
}

func ridFor(key types.Key) types.RID {
	return types.NewRID(types.PageID(key), types.SlotNum(key))
}

func TestBPlusTreeBasic(t *testing.T) {
	t.Run("insert then get returns the stored rid", func(t *testing.T) {
		tree, _ := newTestTree(t, 32, 32, 50)
		assert.True(t, tree.IsEmpty())

		assert.True(t, tree.Insert(7, ridFor(7), nil))
		assert.False(t, tree.IsEmpty())

		rid, ok := tree.GetValue(7, nil)
		assert.True(t, ok)
		assert.Equal(t, ridFor(7), rid)

		_, ok = tree.GetValue(8, nil)
		assert.False(t, ok)
	})

	t.Run("inserting an existing key fails and keeps the prior value", func(t *testing.T) {
		tree, _ := newTestTree(t, 32, 32, 50)

		assert.True(t, tree.Insert(7, ridFor(7), nil))
		assert.False(t, tree.Insert(7, types.NewRID(999, 999), nil))

		rid, ok := tree.GetValue(7, nil)
		assert.True(t, ok)
		assert.Equal(t, ridFor(7), rid)
	})

	t.Run("remove then get returns nothing", func(t *testing.T) {
		tree, _ := newTestTree(t, 32, 32, 50)

		assert.True(t, tree.Insert(7, ridFor(7), nil))
		tree.Remove(7, nil)

		_, ok := tree.GetValue(7, nil)
		assert.False(t, ok)
		assert.True(t, tree.IsEmpty())

		// removing an absent key is a no-op
		tree.Remove(7, nil)
		tree.Remove(123, nil)
	})
}

func TestBPlusTreeSplitAndMerge(t *testing.T) {
	t.Run("filling a leaf splits it and grows an internal root", func(t *testing.T) {
		tree, bpm := newTestTree(t, 4, 4, 50)

		for key := types.Key(1); key <= 4; key++ {
			assert.True(t, tree.Insert(key, ridFor(key), nil))
		}

		rootPage, err := bpm.FetchPage(tree.RootPageID())
		require.NoError(t, err)
		root := asTreePage(rootPage)
		require.False(t, root.IsLeafPage())
		assert.Equal(t, 2, root.GetSize())
		assert.Equal(t, types.Key(3), root.asInternal().KeyAt(1))

		leftPage, err := bpm.FetchPage(root.asInternal().ValueAt(0))
		require.NoError(t, err)
		left := asTreePage(leftPage).asLeaf()
		assert.Equal(t, 2, left.GetSize())
		assert.Equal(t, types.Key(1), left.KeyAt(0))
		assert.Equal(t, types.Key(2), left.KeyAt(1))

		rightPage, err := bpm.FetchPage(root.asInternal().ValueAt(1))
		require.NoError(t, err)
		right := asTreePage(rightPage).asLeaf()
		assert.Equal(t, 2, right.GetSize())
		assert.Equal(t, types.Key(3), right.KeyAt(0))
		assert.Equal(t, types.Key(4), right.KeyAt(1))
		assert.Equal(t, types.InvalidPageID, right.GetNextPageID())
		assert.Equal(t, rightPage.ID(), left.GetNextPageID())

		bpm.UnpinPage(leftPage.ID(), false)
		bpm.UnpinPage(rightPage.ID(), false)
		bpm.UnpinPage(rootPage.ID(), false)

		// deleting back down collapses the tree to a single leaf root
		tree.Remove(1, nil)
		tree.Remove(2, nil)

		rootPage, err = bpm.FetchPage(tree.RootPageID())
		require.NoError(t, err)
		root = asTreePage(rootPage)
		assert.True(t, root.IsLeafPage())
		assert.Equal(t, 2, root.GetSize())
		bpm.UnpinPage(rootPage.ID(), false)

		for _, key := range []types.Key{3, 4} {
			rid, ok := tree.GetValue(key, nil)
			assert.True(t, ok)
			assert.Equal(t, ridFor(key), rid)
		}
		for _, key := range []types.Key{1, 2} {
			_, ok := tree.GetValue(key, nil)
			assert.False(t, ok)
		}
	})

	t.Run("tiny fanout survives ascending insert and descending delete", func(t *testing.T) {
		tree, _ := newTestTree(t, 3, 3, 80)

		const n = 120
		for key := types.Key(1); key <= n; key++ {
			assert.True(t, tree.Insert(key, ridFor(key), nil))
		}
		for key := types.Key(1); key <= n; key++ {
			rid, ok := tree.GetValue(key, nil)
			require.True(t, ok, "key %d missing after inserts", key)
			assert.Equal(t, ridFor(key), rid)
		}

		for key := types.Key(n); key >= 1; key-- {
			tree.Remove(key, nil)

			_, ok := tree.GetValue(key, nil)
			require.False(t, ok, "key %d still present after remove", key)
			if key > 1 {
				_, ok = tree.GetValue(key-1, nil)
				require.True(t, ok, "key %d lost while removing %d", key-1, key)
			}
		}
		assert.True(t, tree.IsEmpty())
	})

	t.Run("random order insert and delete leaves a consistent tree", func(t *testing.T) {
		tree, _ := newTestTree(t, 5, 4, 80)

		rng := rand.New(rand.NewSource(42))
		keys := rng.Perm(300)
		for _, k := range keys {
			key := types.Key(k)
			assert.True(t, tree.Insert(key, ridFor(key), nil))
		}

		// delete a random half
		deleted := make(map[types.Key]bool)
		for _, k := range keys[:150] {
			key := types.Key(k)
			tree.Remove(key, nil)
			deleted[key] = true
		}

		for _, k := range keys {
			key := types.Key(k)
			rid, ok := tree.GetValue(key, nil)
			if deleted[key] {
				assert.False(t, ok, "deleted key %d still present", key)
			} else {
				require.True(t, ok, "key %d missing", key)
				assert.Equal(t, ridFor(key), rid)
			}
		}
	})
}

func TestBPlusTreeIterator(t *testing.T) {
	t.Run("full scan yields every key in sorted order", func(t *testing.T) {
		tree, _ := newTestTree(t, 4, 4, 80)

		rng := rand.New(rand.NewSource(7))
		for _, k := range rng.Perm(200) {
			key := types.Key(k)
			require.True(t, tree.Insert(key, ridFor(key), nil))
		}

		it := tree.Begin()
		defer it.Close()

		expected := types.Key(0)
		for !it.IsEnd() {
			assert.Equal(t, expected, it.Key())
			assert.Equal(t, ridFor(expected), it.RID())
			expected++
			it.Next()
		}
		assert.Equal(t, types.Key(200), expected)
	})

	t.Run("begin at key starts from the first key at or after it", func(t *testing.T) {
		tree, _ := newTestTree(t, 4, 4, 80)

		for key := types.Key(0); key < 100; key += 2 {
			require.True(t, tree.Insert(key, ridFor(key), nil))
		}

		it := tree.BeginAt(40)
		require.False(t, it.IsEnd())
		assert.Equal(t, types.Key(40), it.Key())
		it.Close()

		// absent key positions on the next larger one
		it = tree.BeginAt(41)
		require.False(t, it.IsEnd())
		assert.Equal(t, types.Key(42), it.Key())
		it.Close()

		// past the largest key the iterator is exhausted
		it = tree.BeginAt(99)
		assert.True(t, it.IsEnd())
		it.Close()
	})

	t.Run("iterator over an empty tree is end immediately", func(t *testing.T) {
		tree, _ := newTestTree(t, 4, 4, 20)

		it := tree.Begin()
		assert.True(t, it.IsEnd())
		it.Close()
		assert.True(t, tree.End().IsEnd())
	})
}

func TestBPlusTreeReopen(t *testing.T) {
	t.Run("a reopened index adopts its root from the header page", func(t *testing.T) {
		dm, err := disk.NewDiskManager(t.TempDir(), 4096)
		require.NoError(t, err)
		defer dm.Close()

		bpm := buffer.NewBufferPoolManagerInstance(50, dm, nil)
		tree, err := NewBPlusTree("orders_pk", bpm, 4, 4)
		require.NoError(t, err)

		for key := types.Key(1); key <= 20; key++ {
			require.True(t, tree.Insert(key, ridFor(key), nil))
		}

		reopened, err := NewBPlusTree("orders_pk", bpm, 4, 4)
		require.NoError(t, err)
		assert.Equal(t, tree.RootPageID(), reopened.RootPageID())

		rid, ok := reopened.GetValue(13, nil)
		assert.True(t, ok)
		assert.Equal(t, ridFor(13), rid)
	})
}

func TestBPlusTreeConcurrent(t *testing.T) {
	t.Run("parallel writers on disjoint ranges all land", func(t *testing.T) {
		tree, _ := newTestTree(t, 5, 5, 200)

		const workers = 8
		const perWorker = 250

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					key := types.Key(w*perWorker + i)
					assert.True(t, tree.Insert(key, ridFor(key), nil))
				}
			}(w)
		}
		wg.Wait()

		for key := types.Key(0); key < workers*perWorker; key++ {
			rid, ok := tree.GetValue(key, nil)
			require.True(t, ok, "key %d missing", key)
			assert.Equal(t, ridFor(key), rid)
		}

		it := tree.Begin()
		defer it.Close()
		expected := types.Key(0)
		for !it.IsEnd() {
			assert.Equal(t, expected, it.Key())
			expected++
			it.Next()
		}
		assert.Equal(t, types.Key(workers*perWorker), expected)
	})

	t.Run("readers and writers interleave without losing keys", func(t *testing.T) {
		tree, _ := newTestTree(t, 4, 4, 200)

		const n = 500
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := types.Key(0); key < n; key++ {
				assert.True(t, tree.Insert(key, ridFor(key), nil))
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := types.Key(0); key < n; key++ {
				// a concurrent reader may or may not see the key yet; it
				// must never see a wrong rid
				if rid, ok := tree.GetValue(key, nil); ok {
					assert.Equal(t, ridFor(key), rid)
				}
			}
		}()

		wg.Wait()

		for key := types.Key(0); key < n; key++ {
			_, ok := tree.GetValue(key, nil)
			require.True(t, ok, "key %d missing", key)
		}
	})

	t.Run("concurrent deleters on disjoint ranges empty the tree", func(t *testing.T) {
		tree, _ := newTestTree(t, 5, 5, 200)

		const workers = 4
		const perWorker = 200
		for key := types.Key(0); key < workers*perWorker; key++ {
			require.True(t, tree.Insert(key, ridFor(key), nil))
		}

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					tree.Remove(types.Key(w*perWorker+i), nil)
				}
			}(w)
		}
		wg.Wait()

		assert.True(t, tree.IsEmpty())
	})
}
