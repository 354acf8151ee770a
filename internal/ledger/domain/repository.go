package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DuplicateQuery finds an existing row for the same payer, amount and mode
// created inside [From, To].
// DuplicateQuery finds an existing row for the same payer, amount and mode
// inside [From, To]. The payer matches by raw email or by any account holding
// that email, so a guest row still matches after the donor signs up.
type DuplicateQuery struct {
	Kind     Kind
	Mode     Mode
	Email    string
	Identity Identity
	Amount   decimal.Decimal
	From     time.Time
	To       time.Time
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	UpdateEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindEntryByID(ctx context.Context, db *gorm.DB, kind Kind, id snowflake.ID) (*Entry, error)
	FindEntryBySession(ctx context.Context, db *gorm.DB, kind Kind, sessionID string) (*Entry, error)
	FindDuplicate(ctx context.Context, db *gorm.DB, q DuplicateQuery) (*Entry, error)
	ListReconcilable(ctx context.Context, db *gorm.DB, kind Kind, mode Mode, afterID snowflake.ID, limit int) ([]Entry, error)
	ListStalePending(ctx context.Context, db *gorm.DB, kind Kind, mode Mode, olderThan time.Time, afterID snowflake.ID, limit int) ([]Entry, error)

	InsertReceipt(ctx context.Context, db *gorm.DB, receipt *Receipt) error
	ListOrphanedReceipts(ctx context.Context, db *gorm.DB, mode Mode, afterID snowflake.ID, limit int) ([]Receipt, error)
	FindReceiptByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Receipt, error)
	LinkReceipt(ctx context.Context, db *gorm.DB, receiptID snowflake.ID, kind Kind, entryID snowflake.ID) error
	DeleteReceipt(ctx context.Context, db *gorm.DB, receiptID snowflake.ID) error

	InsertJobLog(ctx context.Context, db *gorm.DB, log *JobLog) error
	FindJobLog(ctx context.Context, db *gorm.DB, id snowflake.ID) (*JobLog, error)
	// FindLatestJobLog returns the most recent run of a job in a mode, nil when
	// the job never ran there.
	FindLatestJobLog(ctx context.Context, db *gorm.DB, jobName string, mode Mode) (*JobLog, error)
	InsertChangeLog(ctx context.Context, db *gorm.DB, change *ChangeLog) error
	ListChangeLogs(ctx context.Context, db *gorm.DB, jobLogID snowflake.ID) ([]ChangeLog, error)

	// ListWebhookLogs returns the ingestor trace for a session, subscription or
	// intent id, oldest first.
	ListWebhookLogs(ctx context.Context, db *gorm.DB, reference string, limit int) ([]WebhookLog, error)
}
