package log

import (
	"encoding/binary"
	"sync"

	"github.com/lintang-b-s/pagedb/lib"
	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

// LogManager . append-only log with a flush watermark. writers append
// records and stamp the returned lsn on the page they modified; the buffer
// pool calls Flush(page lsn) before a dirty page goes to disk, so a page
// image never reaches disk ahead of its log records. there is no redo/undo
// replay on restart.
type LogManager struct {
	latch       sync.Mutex
	diskManager *disk.DiskManager

	logBuffer []byte
	offset    int // bytes used in logBuffer

	nextLSN       types.LSN
	persistentLSN types.LSN // last lsn already on disk
}

func NewLogManager(diskManager *disk.DiskManager) *LogManager {
	return &LogManager{
		diskManager:   diskManager,
		logBuffer:     make([]byte, lib.LOG_BUFFER_SIZE),
		nextLSN:       0,
		persistentLSN: types.InvalidLSN,
	}
}

// AppendRecord. buffer one record and return its lsn. record layout on disk:
// [size int32][lsn int32][payload]. a record that does not fit forces the
// buffer out first.
func (lm *LogManager) AppendRecord(record []byte) (types.LSN, error) {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	needed := 8 + len(record)
	if lm.offset+needed > len(lm.logBuffer) {
		if err := lm.flushBuffer(); err != nil {
			return types.InvalidLSN, err
		}
	}

	lsn := lm.nextLSN
	lm.nextLSN++

	binary.LittleEndian.PutUint32(lm.logBuffer[lm.offset:], uint32(len(record)))
	binary.LittleEndian.PutUint32(lm.logBuffer[lm.offset+4:], uint32(lsn))
	copy(lm.logBuffer[lm.offset+8:], record)
	lm.offset += needed

	return lsn, nil
}

// Flush. make sure every record up to and including lsn is on disk. cheap
// when the watermark already covers it.
func (lm *LogManager) Flush(lsn types.LSN) error {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	if lsn == types.InvalidLSN || lsn <= lm.persistentLSN {
		return nil
	}
	return lm.flushBuffer()
}

// ForceFlush. flush everything buffered so far.
func (lm *LogManager) ForceFlush() error {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	return lm.flushBuffer()
}

func (lm *LogManager) flushBuffer() error {
	if lm.offset == 0 {
		return nil
	}
	if err := lm.diskManager.WriteLog(lm.logBuffer[:lm.offset]); err != nil {
		return err
	}
	lm.offset = 0
	lm.persistentLSN = lm.nextLSN - 1
	return nil
}

func (lm *LogManager) PersistentLSN() types.LSN {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	return lm.persistentLSN
}

// GetIterator. flush first, then iterate the on-disk records oldest first.
func (lm *LogManager) GetIterator() (*LogIterator, error) {
	if err := lm.ForceFlush(); err != nil {
		return nil, err
	}
	return newLogIterator(lm.diskManager), nil
}
