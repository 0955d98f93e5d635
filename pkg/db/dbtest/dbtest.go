// Package dbtest opens throwaway sqlite databases with the full schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db"
)

// Open returns a private in-memory database for the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
		NowFunc:                db.UTCNow,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.ApplySQLiteSchema(conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

// Client wraps Open in the shared db client.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromConn(Open(t))
}
