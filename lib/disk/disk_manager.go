package disk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/lintang-b-s/pagedb/lib"
	"github.com/lintang-b-s/pagedb/types"
	log "github.com/sirupsen/logrus"
)

// DiskManager . reads & writes fixed-size pages of the database file by page
// id (offset = pageID * pageSize), plus an append-only log file used by the
// log manager.
type DiskManager struct {
	dbDir    string
	pageSize int

	latch       sync.Mutex
	dbFile      *os.File
	logFile     *os.File
	logFileSize int64
	nextPageID  types.PageID
}

func NewDiskManager(dbDir string, pageSize int) (*DiskManager, error) {
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		if err := os.Mkdir(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db dir %s: %w", dbDir, err)
		}
	}

	dbFile, err := os.OpenFile(filepath.Join(dbDir, lib.DB_FILE_NAME), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open db file: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(dbDir, lib.LOG_FILE_NAME), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		dbFile.Close()
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	fi, err := dbFile.Stat()
	if err != nil {
		dbFile.Close()
		logFile.Close()
		return nil, err
	}
	lfi, err := logFile.Stat()
	if err != nil {
		dbFile.Close()
		logFile.Close()
		return nil, err
	}

	return &DiskManager{
		dbDir:       dbDir,
		pageSize:    pageSize,
		dbFile:      dbFile,
		logFile:     logFile,
		logFileSize: lfi.Size(),
		nextPageID:  types.PageID(fi.Size() / int64(pageSize)),
	}, nil
}

// ReadPage. read one page from disk into page.Data(). reading a page that was
// never written yet is not an error: the payload is left zeroed, same as a
// freshly allocated page.
func (dm *DiskManager) ReadPage(pageID types.PageID, page *Page) error {
	dm.latch.Lock()
	defer dm.latch.Unlock()

	offset := int64(pageID) * int64(dm.pageSize)
	fi, err := dm.dbFile.Stat()
	if err != nil {
		return err
	}
	if offset >= fi.Size() {
		log.WithFields(log.Fields{"pageID": pageID}).Warn("read page past end of db file")
		page.ResetMemory()
		return nil
	}

	n, err := dm.dbFile.ReadAt(page.Data(), offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read page %d: %w", pageID, err)
	}
	if n < dm.pageSize {
		// partial tail page, pad with zeroes
		for i := n; i < dm.pageSize; i++ {
			page.Data()[i] = 0
		}
	}
	return nil
}

// WritePage. write one page to disk at offset = pageID * pageSize.
func (dm *DiskManager) WritePage(pageID types.PageID, page *Page) error {
	dm.latch.Lock()
	defer dm.latch.Unlock()

	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.dbFile.WriteAt(page.Data(), offset); err != nil {
		return fmt.Errorf("failed to write page %d: %w", pageID, err)
	}
	if pageID >= dm.nextPageID {
		dm.nextPageID = pageID + 1
	}
	return nil
}

// AllocatePage. hand out the next unused page id. sharded buffer pool
// instances keep their own modulo counters instead; this is the non-sharded
// path.
func (dm *DiskManager) AllocatePage() types.PageID {
	dm.latch.Lock()
	defer dm.latch.Unlock()

	pageID := dm.nextPageID
	dm.nextPageID++
	return pageID
}

// DeallocatePage. the file is never shrunk; the page is simply forgotten and
// its id may be handed out again by a future allocation after restart.
func (dm *DiskManager) DeallocatePage(pageID types.PageID) {}

// WriteLog. append a chunk of log data to the log file.
func (dm *DiskManager) WriteLog(data []byte) error {
	dm.latch.Lock()
	defer dm.latch.Unlock()

	if _, err := dm.logFile.WriteAt(data, dm.logFileSize); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	dm.logFileSize += int64(len(data))
	return nil
}

// ReadLog. read log data starting at offset. returns the number of bytes
// read; 0 at end of log.
func (dm *DiskManager) ReadLog(buf []byte, offset int64) (int, error) {
	dm.latch.Lock()
	defer dm.latch.Unlock()

	if offset >= dm.logFileSize {
		return 0, nil
	}
	n, err := dm.logFile.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return 0, err
	}
	return n, nil
}

func (dm *DiskManager) LogSize() int64 {
	dm.latch.Lock()
	defer dm.latch.Unlock()
	return dm.logFileSize
}

func (dm *DiskManager) PageSize() int { return dm.pageSize }

func (dm *DiskManager) NumPages() int {
	dm.latch.Lock()
	defer dm.latch.Unlock()
	return int(dm.nextPageID)
}

func (dm *DiskManager) GetDBDir() string { return dm.dbDir }

func (dm *DiskManager) Close() error {
	dm.latch.Lock()
	defer dm.latch.Unlock()

	if err := dm.dbFile.Close(); err != nil {
		return err
	}
	return dm.logFile.Close()
}
