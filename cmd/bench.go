package cmd

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lintang-b-s/pagedb/lib"
	"github.com/lintang-b-s/pagedb/lib/buffer"
	"github.com/lintang-b-s/pagedb/lib/concurrency"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/lib/index"
	walog "github.com/lintang-b-s/pagedb/lib/log"
	"github.com/lintang-b-s/pagedb/types"
)

var (
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Insert and look up random keys against a fresh index",
		RunE:  benchRun,
	}

	numKeys = 100000
	seed    = uint64(0)
)

func initBenchFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&numKeys, "num-keys", "n", numKeys, "number of keys to insert")
	fs.Uint64Var(&seed, "seed", seed, "seed for the random workload")
}

func init() {
	initBenchFlags(benchCmd.Flags())
	pagedbCmd.AddCommand(benchCmd)
}

func benchRun(cmd *cobra.Command, args []string) error {
	diskManager, err := disk.NewDiskManager(cfg.DataDir, lib.PAGE_SIZE)
	if err != nil {
		return err
	}
	defer diskManager.Close()

	logManager := walog.NewLogManager(diskManager)
	bpm := buffer.NewParallelBufferPoolManager(cfg.NumInstances, cfg.PoolSize, diskManager, logManager)
	defer bpm.Close()

	tree, err := index.NewBPlusTree("bench_index", bpm, cfg.LeafMaxSize, cfg.InternalMaxSize)
	if err != nil {
		return err
	}

	lockManager := concurrency.NewLockManager(cfg.CycleDetectionInterval())
	defer lockManager.Stop()
	txnManager := concurrency.NewTransactionManager(lockManager)

	faker := gofakeit.New(seed)
	keys := make([]types.Key, numKeys)
	for i := range keys {
		keys[i] = types.Key(faker.Number(0, 1<<40))
	}

	txn := txnManager.Begin(concurrency.RepeatableRead)

	start := time.Now()
	inserted := 0
	for i, key := range keys {
		if tree.Insert(key, types.NewRID(types.PageID(i), 0), txn) {
			inserted++
		}
	}
	log.WithFields(log.Fields{
		"keys":     numKeys,
		"inserted": inserted,
		"elapsed":  time.Since(start),
	}).Info("insert phase done")

	start = time.Now()
	found := 0
	for _, key := range keys {
		if _, ok := tree.GetValue(key, txn); ok {
			found++
		}
	}
	log.WithFields(log.Fields{
		"keys":    numKeys,
		"found":   found,
		"elapsed": time.Since(start),
	}).Info("lookup phase done")

	if found != inserted {
		return fmt.Errorf("lookup found %d of %d inserted keys", found, inserted)
	}

	txnManager.Commit(txn)
	bpm.FlushAllPages()
	return nil
}
