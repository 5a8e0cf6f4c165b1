package log

import (
	"encoding/binary"
	"fmt"

	"github.com/lintang-b-s/pagedb/lib/disk"
	"github.com/lintang-b-s/pagedb/types"
)

// LogIterator . walks the on-disk log from the first record to the last.
type LogIterator struct {
	diskManager *disk.DiskManager
	offset      int64
	size        int64
}

func newLogIterator(diskManager *disk.DiskManager) *LogIterator {
	return &LogIterator{
		diskManager: diskManager,
		offset:      0,
		size:        diskManager.LogSize(),
	}
}

func (it *LogIterator) HasNext() bool {
	return it.offset < it.size
}

// Next. return the next record's lsn and payload.
func (it *LogIterator) Next() (types.LSN, []byte, error) {
	header := make([]byte, 8)
	n, err := it.diskManager.ReadLog(header, it.offset)
	if err != nil {
		return types.InvalidLSN, nil, err
	}
	if n < 8 {
		return types.InvalidLSN, nil, fmt.Errorf("truncated log record header at offset %d", it.offset)
	}

	size := binary.LittleEndian.Uint32(header)
	lsn := types.LSN(binary.LittleEndian.Uint32(header[4:]))

	record := make([]byte, size)
	if size > 0 {
		n, err = it.diskManager.ReadLog(record, it.offset+8)
		if err != nil {
			return types.InvalidLSN, nil, err
		}
		if uint32(n) < size {
			return types.InvalidLSN, nil, fmt.Errorf("truncated log record at offset %d", it.offset)
		}
	}

	it.offset += int64(8 + size)
	return lsn, record, nil
}
