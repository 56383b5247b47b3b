// Package dbtest opens throwaway in-memory sqlite databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"catalogsync/internal/database"

	"gorm.io/gorm"
)

var seq atomic.Int64

// New returns a migrated, isolated in-memory database that is closed when t finishes.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	url := fmt.Sprintf("sqlite://file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := database.New(url, "silent")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db.DB
}
