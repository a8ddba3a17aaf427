package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LockName is the single advisory lock serializing backup and restore, both of
// which touch the live database file.
const LockName = "backup-restore"

// LockStore implements a durable advisory lock with a staleness timeout. A
// holder that crashes without releasing can be displaced once its acquisition
// is older than the staleness window.
type LockStore struct {
	db *sql.DB
}

func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{db: db}
}

// Acquire tries to take the named lock for owner. A held lock is displaced
// only when it went stale. Returns false when the lock is held by a live owner.
func (s *LockStore) Acquire(name, owner string, staleness time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO operation_locks (name, owner, acquired_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, acquired_at = excluded.acquired_at
		 WHERE operation_locks.acquired_at < ?`,
		name, owner, now, now.Add(-staleness),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	return n > 0, nil
}

// Release drops the lock if owner still holds it. Releasing a lock someone
// else displaced is a no-op.
func (s *LockStore) Release(name, owner string) error {
	_, err := s.db.Exec(
		`DELETE FROM operation_locks WHERE name = ? AND owner = ?`, name, owner,
	)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	return nil
}
