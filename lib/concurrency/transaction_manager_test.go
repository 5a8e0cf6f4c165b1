package concurrency_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lintang-b-s/pagedb/lib/buffer"
	"github.com/lintang-b-s/pagedb/lib/concurrency"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/lib/index"
	"github.com/lintang-b-s/pagedb/lib/table"
	"github.com/lintang-b-s/pagedb/types"
)

type testDB struct {
	bpm  buffer.BufferPoolManager
	lm   *concurrency.LockManager
	tm   *concurrency.TransactionManager
	heap *table.TableHeap
	tree *index.BPlusTree
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()

	dm, err := disk.NewDiskManager(t.TempDir(), 4096)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	bpm := buffer.NewBufferPoolManagerInstance(64, dm, nil)

	lm := concurrency.NewLockManager(20 * time.Millisecond)
	t.Cleanup(lm.Stop)
	tm := concurrency.NewTransactionManager(lm)

	heap, err := table.NewTableHeap(bpm, nil)
	require.NoError(t, err)

	tree, err := index.NewBPlusTree("pk", bpm, 8, 8)
	require.NoError(t, err)

	return &testDB{bpm: bpm, lm: lm, tm: tm, heap: heap, tree: tree}
}

func TestTransactionManagerLifecycle(t *testing.T) {
	t.Run("begin hands out monotonic ids and registers the transaction", func(t *testing.T) {
		db := newTestDB(t)

		txn1 := db.tm.Begin(concurrency.RepeatableRead)
		txn2 := db.tm.Begin(concurrency.RepeatableRead)
		assert.Less(t, txn1.ID(), txn2.ID())
		assert.Same(t, txn1, db.tm.GetTransaction(txn1.ID()))

		db.tm.Commit(txn1)
		db.tm.Commit(txn2)
		assert.Equal(t, concurrency.Committed, txn1.State())
	})
}

func TestTransactionManagerCommit(t *testing.T) {
	t.Run("commit makes a marked delete final", func(t *testing.T) {
		db := newTestDB(t)

		writer := db.tm.Begin(concurrency.RepeatableRead)
		rid, err := db.heap.InsertTuple([]byte("to be deleted"), writer)
		require.NoError(t, err)
		db.tm.Commit(writer)

		deleter := db.tm.Begin(concurrency.RepeatableRead)
		require.True(t, db.heap.MarkDelete(rid, deleter))

		// tombstoned, so already invisible
		_, ok := db.heap.GetTuple(rid, deleter)
		assert.False(t, ok)

		db.tm.Commit(deleter)

		reader := db.tm.Begin(concurrency.RepeatableRead)
		_, ok = db.heap.GetTuple(rid, reader)
		assert.False(t, ok)
		db.tm.Commit(reader)
	})
}

func TestTransactionManagerAbort(t *testing.T) {
	t.Run("abort removes an inserted row and its index entry", func(t *testing.T) {
		db := newTestDB(t)

		txn := db.tm.Begin(concurrency.RepeatableRead)
		rid, err := db.heap.InsertTuple([]byte("phantom row"), txn)
		require.NoError(t, err)

		key := types.Key(7)
		require.True(t, db.tree.Insert(key, rid, txn))
		txn.AppendIndexWriteRecord(concurrency.IndexWriteRecord{
			WType: concurrency.WTypeInsert,
			Key:   key,
			RID:   rid,
			Index: db.tree,
		})

		db.tm.Abort(txn)

		reader := db.tm.Begin(concurrency.RepeatableRead)
		_, ok := db.heap.GetTuple(rid, reader)
		assert.False(t, ok)
		_, ok = db.tree.GetValue(key, reader)
		assert.False(t, ok)
		db.tm.Commit(reader)
	})

	t.Run("abort rolls a marked delete back", func(t *testing.T) {
		db := newTestDB(t)

		writer := db.tm.Begin(concurrency.RepeatableRead)
		rid, err := db.heap.InsertTuple([]byte("survivor"), writer)
		require.NoError(t, err)
		db.tm.Commit(writer)

		deleter := db.tm.Begin(concurrency.RepeatableRead)
		require.True(t, db.heap.MarkDelete(rid, deleter))
		db.tm.Abort(deleter)

		reader := db.tm.Begin(concurrency.RepeatableRead)
		tuple, ok := db.heap.GetTuple(rid, reader)
		require.True(t, ok)
		assert.Equal(t, []byte("survivor"), tuple)
		db.tm.Commit(reader)
	})

	t.Run("abort restores the pre-update image and the old index key", func(t *testing.T) {
		db := newTestDB(t)

		writer := db.tm.Begin(concurrency.RepeatableRead)
		rid, err := db.heap.InsertTuple([]byte("old value"), writer)
		require.NoError(t, err)
		oldKey := types.Key(10)
		require.True(t, db.tree.Insert(oldKey, rid, writer))
		db.tm.Commit(writer)

		updater := db.tm.Begin(concurrency.RepeatableRead)
		require.True(t, db.heap.UpdateTuple([]byte("new value"), rid, updater))

		newKey := types.Key(20)
		db.tree.Remove(oldKey, updater)
		require.True(t, db.tree.Insert(newKey, rid, updater))
		updater.AppendIndexWriteRecord(concurrency.IndexWriteRecord{
			WType:  concurrency.WTypeUpdate,
			Key:    newKey,
			OldKey: oldKey,
			RID:    rid,
			Index:  db.tree,
		})

		db.tm.Abort(updater)

		reader := db.tm.Begin(concurrency.RepeatableRead)
		tuple, ok := db.heap.GetTuple(rid, reader)
		require.True(t, ok)
		assert.Equal(t, []byte("old value"), tuple)

		gotRID, ok := db.tree.GetValue(oldKey, reader)
		require.True(t, ok)
		assert.Equal(t, rid, gotRID)
		_, ok = db.tree.GetValue(newKey, reader)
		assert.False(t, ok)
		db.tm.Commit(reader)
	})

	t.Run("abort releases every lock the transaction held", func(t *testing.T) {
		db := newTestDB(t)
		rid := types.NewRID(9, 9)

		txn1 := db.tm.Begin(concurrency.RepeatableRead)
		require.NoError(t, db.lm.LockExclusive(txn1, rid))

		txn2 := db.tm.Begin(concurrency.RepeatableRead)
		granted := make(chan struct{})
		go func() {
			require.NoError(t, db.lm.LockExclusive(txn2, rid))
			close(granted)
		}()

		select {
		case <-granted:
			t.Fatal("lock granted while txn1 still held it")
		case <-time.After(50 * time.Millisecond):
		}

		db.tm.Abort(txn1)

		select {
		case <-granted:
		case <-time.After(time.Second):
			t.Fatal("lock never granted after the holder aborted")
		}
		db.tm.Commit(txn2)
	})
}

func TestBlockAllTransactions(t *testing.T) {
	t.Run("quiesce waits for live transactions and holds off new ones", func(t *testing.T) {
		db := newTestDB(t)

		txn := db.tm.Begin(concurrency.RepeatableRead)

		blocked := make(chan struct{})
		go func() {
			db.tm.BlockAllTransactions()
			close(blocked)
		}()

		select {
		case <-blocked:
			t.Fatal("quiesce completed while a transaction was still live")
		case <-time.After(50 * time.Millisecond):
		}

		db.tm.Commit(txn)

		select {
		case <-blocked:
		case <-time.After(time.Second):
			t.Fatal("quiesce never completed after the last transaction finished")
		}

		began := make(chan struct{})
		go func() {
			next := db.tm.Begin(concurrency.RepeatableRead)
			close(began)
			db.tm.Commit(next)
		}()

		select {
		case <-began:
			t.Fatal("a transaction began while the system was quiesced")
		case <-time.After(50 * time.Millisecond):
		}

		db.tm.ResumeTransactions()
		select {
		case <-began:
		case <-time.After(time.Second):
			t.Fatal("transactions never resumed")
		}
	})
}
