// Package ledgertest opens throwaway sqlite databases with the ledger schema.
package ledgertest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/joshmstewart/bestdayministries-sub013/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// OpenDB returns an isolated in-memory database with migrations applied.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// Keep the shared in-memory database alive for the whole test.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplyEmbedded(conn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return conn
}

// NewNode returns a snowflake node for tests.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// InsertProfile registers an account so identity resolution finds it.
func InsertProfile(t testing.TB, conn *gorm.DB, id snowflake.ID, email string) {
	t.Helper()
	if err := conn.Exec(
		`INSERT INTO profiles (id, email, created_at) VALUES (?, ?, ?)`,
		id, email, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert profile: %v", err)
	}
}

// SetStripeMode writes the stripe_mode app setting.
func SetStripeMode(t testing.TB, conn *gorm.DB, mode string) {
	t.Helper()
	if err := conn.Exec(
		`INSERT INTO app_settings (setting_key, setting_value, updated_at) VALUES ('stripe_mode', ?, ?)
		 ON CONFLICT (setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = excluded.updated_at`,
		mode, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("set stripe mode: %v", err)
	}
}

func Ptr[T any](v T) *T { return &v }
