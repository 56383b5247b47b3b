// Package runlock keeps two sync runs from overlapping. With a postgres
// database it takes a session advisory lock; otherwise it falls back to a
// lock file.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another sync run is in progress")

type Lock interface {
	Release() error
}

// Acquire takes the lock called name. databaseURL selects the backend:
// postgres URLs use an advisory lock, anything else uses lockFile.
func Acquire(ctx context.Context, databaseURL, lockFile, name string) (Lock, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return AcquireAdvisory(ctx, databaseURL, name)
	}
	return AcquireFile(lockFile+"."+name, DefaultStaleAfter)
}

// Key maps a lock name to the bigint key of an advisory lock.
func Key(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("catalogsync:" + name))
	return int64(h.Sum64())
}

type AdvisoryLock struct {
	db   *sqlx.DB
	conn *sqlx.Conn
	key  int64
}

// AcquireAdvisory takes a postgres session-level advisory lock. The lock lives
// on one pinned connection and is dropped by the server if the process dies.
func AcquireAdvisory(ctx context.Context, databaseURL, name string) (*AdvisoryLock, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for run lock: %w", err)
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	key := Key(name)
	var ok bool
	if err := conn.GetContext(ctx, &ok, "SELECT pg_try_advisory_lock($1)", key); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		db.Close()
		return nil, ErrLocked
	}

	return &AdvisoryLock{db: db, conn: conn, key: key}, nil
}

func (l *AdvisoryLock) Release() error {
	var released bool
	err := l.conn.GetContext(context.Background(), &released, "SELECT pg_advisory_unlock($1)", l.key)
	l.conn.Close()
	l.db.Close()
	if err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	if !released {
		return errors.New("advisory lock was not held")
	}
	return nil
}

// DefaultStaleAfter is how old a lock file must be before a new run may take it over.
const DefaultStaleAfter = 6 * time.Hour

type FileLock struct {
	path string
}

// AcquireFile creates path exclusively. A file older than staleAfter is
// treated as left behind by a crashed run and replaced.
func AcquireFile(path string, staleAfter time.Duration) (*FileLock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return &FileLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil || staleAfter <= 0 || time.Since(info.ModTime()) < staleAfter {
			return nil, ErrLocked
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}
	return nil, ErrLocked
}

func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
