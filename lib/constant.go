package lib

const (
	PAGE_SIZE = 4096

	HEADER_PAGE_ID = 0

	MAX_BUFFER_POOL_SIZE_IN_MB = 64
	MAX_BUFFER_POOL_SIZE       = MAX_BUFFER_POOL_SIZE_IN_MB * 1024 * 1024 / PAGE_SIZE

	DB_DIR        = "pagedb_data"
	DB_FILE_NAME  = "pagedb.db"
	LOG_FILE_NAME = "pagedb.log"

	LEAF_MAX_SIZE     = 32
	INTERNAL_MAX_SIZE = 32

	CYCLE_DETECTION_INTERVAL_MS = 50

	LOG_BUFFER_SIZE = PAGE_SIZE * 4
)
