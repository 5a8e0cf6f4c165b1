package concurrency

import (
	"fmt"

	"github.com/lintang-b-s/pagedb/types"
)

// AbortReason . why the lock manager force-aborted a transaction.
type AbortReason int

const (
	// LockSharedOnReadUncommitted: reads under read-uncommitted never take
	// shared locks, asking for one is a semantic misuse.
	LockSharedOnReadUncommitted AbortReason = iota
	// LockOnShrinking: strict 2PL forbids new locks after the first unlock.
	LockOnShrinking
	// UpgradeConflict: two transactions tried to upgrade S->X on the same
	// rid; letting both wait would deadlock on that single rid.
	UpgradeConflict
	// Deadlock: the cycle detector picked this transaction as the victim.
	Deadlock
)

func (r AbortReason) String() string {
	switch r {
	case LockSharedOnReadUncommitted:
		return "LOCKSHARED_ON_READ_UNCOMMITTED"
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case UpgradeConflict:
		return "UPGRADE_CONFLICT"
	case Deadlock:
		return "DEADLOCK"
	}
	return "UNKNOWN"
}

// TransactionAbortError . surfaced by every lock operation that aborts the
// calling transaction; the caller is expected to propagate it so the
// transaction manager runs Abort.
type TransactionAbortError struct {
	TxnID  types.TxnID
	Reason AbortReason
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}
