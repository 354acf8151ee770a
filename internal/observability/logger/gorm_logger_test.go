package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{sql: "SELECT id FROM donations WHERE id = ?", op: "SELECT", table: "donations"},
		{sql: "INSERT INTO reconciliation_changes (id) VALUES (?)", op: "INSERT", table: "reconciliation_changes"},
		{sql: "UPDATE sponsorships SET status = ?", op: "UPDATE", table: "sponsorships"},
		{sql: "DELETE FROM sponsorship_receipts WHERE id = ?", op: "DELETE", table: "sponsorship_receipts"},
		{sql: "", op: "UNKNOWN", table: ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		if op != tc.op || table != tc.table {
			t.Fatalf("describeSQL(%q) = %q, %q; want %q, %q", tc.sql, op, table, tc.op, tc.table)
		}
	}
}

func TestGormTraceLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: 500 * time.Millisecond, IgnoreRecordNotFound: true})
	query := func() (string, int64) { return "SELECT * FROM donations WHERE id = ?", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), query, errors.New("database is locked"))
	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	l.Trace(ctx, time.Now(), query, nil)

	entries := logs.FilterMessage(gormQueryMessage).All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "donations", entries[0].ContextMap()["table"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
