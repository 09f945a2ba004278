// =============================================================================
// 🧪 Test Helpers
// =============================================================================
// Shared helpers and assertions for RelayDesk tests
//
// Usage:
//
//	ctx := testutil.TestContext(t)
//	db := testutil.OpenTestDB(t)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relaydesk/relaydesk/types"
)

// =============================================================================
// 🎯 Context helpers
// =============================================================================

// TestContext returns a context with a 30s timeout, cancelled on cleanup.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout returns a context with a custom timeout.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already-cancelled context.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🗄️ Database helpers
// =============================================================================

// OpenTestDB opens an isolated in-memory SQLite database with the full
// RelayDesk schema migrated. Each call gets its own database.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A unique DSN per test keeps in-memory databases isolated while the
	// shared cache keeps every connection of one test on the same store.
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// spurious lock errors in concurrent tests without weakening the
	// conditional-update semantics under test.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&types.Agent{}, &types.HandoffRequest{}, &types.HandoffMessage{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

// =============================================================================
// ⏱️ Async assertions
// =============================================================================

// AssertEventuallyTrue polls condition until it returns true or the
// timeout elapses.
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs)
}

// =============================================================================
// 🧰 Data helpers
// =============================================================================

// MustJSON marshals v or fails the test.
func MustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return string(data)
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
