package migration

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

func TestApplyEmbeddedIsIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:migration_%d?mode=memory&cache=shared", dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, ApplyEmbedded(conn))
	require.NoError(t, ApplyEmbedded(conn))

	for _, table := range []string{"donations", "sponsorships", "sponsorship_receipts", "reconciliation_job_logs", "reconciliation_changes", "app_settings"} {
		require.Truef(t, conn.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestIdentityCheckConstraint(t *testing.T) {
	dsn := fmt.Sprintf("file:migration_%d?mode=memory&cache=shared", dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, ApplyEmbedded(conn))

	err = conn.Exec(`INSERT INTO donations (id, donor_id, donor_email, amount, frequency, status, stripe_mode, created_at, updated_at)
		VALUES (1, 10, 'a@example.com', 10, 'one-time', 'pending', 'test', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error
	require.Error(t, err)
	require.Contains(t, err.Error(), "donations_donor_identity_check")

	err = conn.Exec(`INSERT INTO donations (id, amount, frequency, status, stripe_mode, created_at, updated_at)
		VALUES (2, 10, 'one-time', 'pending', 'test', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error
	require.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (id INT);\n\n CREATE INDEX b ON a (id);\n")
	require.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX b ON a (id)"}, got)
}
