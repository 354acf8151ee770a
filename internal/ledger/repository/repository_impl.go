package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"github.com/joshmstewart/bestdayministries-sub013/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

// table describes how a Kind maps onto its physical table.
type table struct {
	name          string
	accountColumn string
	emailColumn   string
	constraint    string
	sponsorship   bool
}

func tableFor(kind ledgerdomain.Kind) (table, error) {
	switch kind {
	case ledgerdomain.KindDonation:
		return table{
			name:          "donations",
			accountColumn: "donor_id",
			emailColumn:   "donor_email",
			constraint:    "donations_donor_identity_check",
		}, nil
	case ledgerdomain.KindSponsorship:
		return table{
			name:          "sponsorships",
			accountColumn: "sponsor_id",
			emailColumn:   "sponsor_email",
			constraint:    "sponsorships_sponsor_identity_check",
			sponsorship:   true,
		}, nil
	default:
		return table{}, ledgerdomain.ErrInvalidKind
	}
}

func (t table) selectColumns() string {
	bestie := "NULL AS bestie_id, NULL AS sponsor_bestie_id"
	if t.sponsorship {
		bestie = "bestie_id, sponsor_bestie_id"
	}
	return fmt.Sprintf(`id, %s AS account_id, %s AS email, %s, amount, amount_charged, frequency, status,
		 stripe_customer_id, stripe_checkout_session_id, stripe_subscription_id, stripe_payment_intent_id,
		 stripe_mode, cover_stripe_fee, started_at, ended_at, created_at, updated_at`,
		t.accountColumn, t.emailColumn, bestie)
}

// mapWriteErr turns driver constraint errors into ledger sentinels.
func (t table) mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if db.IsCheckViolation(err, t.constraint) {
		return fmt.Errorf("%w: %s: %v", ledgerdomain.ErrIdentityConstraint, t.name, err)
	}
	if db.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %v", ledgerdomain.ErrDuplicateSession, err)
	}
	return err
}

func (r *repo) InsertEntry(ctx context.Context, conn *gorm.DB, entry *ledgerdomain.Entry) error {
	t, err := tableFor(entry.Kind)
	if err != nil {
		return err
	}
	if err := entry.Identity().Validate(); err != nil {
		return err
	}

	columns := fmt.Sprintf(`id, %s, %s, amount, amount_charged, frequency, status, stripe_customer_id,
		stripe_checkout_session_id, stripe_subscription_id, stripe_payment_intent_id, stripe_mode,
		cover_stripe_fee, started_at, ended_at, created_at, updated_at`, t.accountColumn, t.emailColumn)
	args := []any{
		entry.ID,
		entry.AccountID,
		entry.Email,
		entry.Amount,
		entry.AmountCharged,
		entry.Frequency,
		entry.Status,
		entry.StripeCustomerID,
		entry.StripeCheckoutSessionID,
		entry.StripeSubscriptionID,
		entry.StripePaymentIntentID,
		entry.StripeMode,
		entry.CoverStripeFee,
		utcPtr(entry.StartedAt),
		utcPtr(entry.EndedAt),
		entry.CreatedAt.UTC(),
		entry.UpdatedAt.UTC(),
	}
	placeholders := "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"
	if t.sponsorship {
		columns += ", bestie_id, sponsor_bestie_id"
		placeholders += ", ?, ?"
		args = append(args, entry.BestieID, entry.SponsorBestieID)
	}

	err = conn.WithContext(ctx).Exec(
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, t.name, columns, placeholders),
		args...,
	).Error
	return t.mapWriteErr(err)
}

func (r *repo) UpdateEntry(ctx context.Context, conn *gorm.DB, entry *ledgerdomain.Entry) error {
	t, err := tableFor(entry.Kind)
	if err != nil {
		return err
	}
	if err := entry.Identity().Validate(); err != nil {
		return err
	}

	result := conn.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE %s SET %s = ?, %s = ?, status = ?, stripe_customer_id = ?,
			stripe_subscription_id = ?, stripe_payment_intent_id = ?, started_at = ?, ended_at = ?, updated_at = ?
			WHERE id = ?`, t.name, t.accountColumn, t.emailColumn),
		entry.AccountID,
		entry.Email,
		entry.Status,
		entry.StripeCustomerID,
		entry.StripeSubscriptionID,
		entry.StripePaymentIntentID,
		utcPtr(entry.StartedAt),
		utcPtr(entry.EndedAt),
		entry.UpdatedAt.UTC(),
		entry.ID,
	)
	if result.Error != nil {
		return t.mapWriteErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrNotFound
	}
	return nil
}

func (r *repo) FindEntryByID(ctx context.Context, conn *gorm.DB, kind ledgerdomain.Kind, id snowflake.ID) (*ledgerdomain.Entry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var entry ledgerdomain.Entry
	err = conn.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, t.selectColumns(), t.name),
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	entry.Kind = kind
	return &entry, nil
}

func (r *repo) FindEntryBySession(ctx context.Context, conn *gorm.DB, kind ledgerdomain.Kind, sessionID string) (*ledgerdomain.Entry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var entry ledgerdomain.Entry
	err = conn.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM %s WHERE stripe_checkout_session_id = ?`, t.selectColumns(), t.name),
		sessionID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	entry.Kind = kind
	return &entry, nil
}

func (r *repo) FindDuplicate(ctx context.Context, conn *gorm.DB, q ledgerdomain.DuplicateQuery) (*ledgerdomain.Entry, error) {
	t, err := tableFor(q.Kind)
	if err != nil {
		return nil, err
	}
	email := ledgerdomain.NormalizeEmail(q.Email)
	if email == "" && q.Identity.Email != nil {
		email = ledgerdomain.NormalizeEmail(*q.Identity.Email)
	}
	if email == "" && q.Identity.AccountID == nil {
		return nil, ledgerdomain.ErrIdentityConstraint
	}

	payer := []string{}
	args := []any{q.Mode}
	if email != "" {
		payer = append(payer,
			"LOWER("+t.emailColumn+") = ?",
			t.accountColumn+" IN (SELECT id FROM profiles WHERE LOWER(email) = ?)",
		)
		args = append(args, email, email)
	}
	if q.Identity.AccountID != nil {
		payer = append(payer, t.accountColumn+" = ?")
		args = append(args, *q.Identity.AccountID)
	}
	identityClause := "(" + strings.Join(payer, " OR ") + ")"
	args = append(args, q.Amount, q.From.UTC(), q.To.UTC())

	var entry ledgerdomain.Entry
	err = conn.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM %s
		 WHERE stripe_mode = ? AND %s AND amount = ? AND created_at BETWEEN ? AND ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`, t.selectColumns(), t.name, identityClause),
		args...,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	entry.Kind = q.Kind
	return &entry, nil
}

func (r *repo) ListReconcilable(ctx context.Context, conn *gorm.DB, kind ledgerdomain.Kind, mode ledgerdomain.Mode, afterID snowflake.ID, limit int) ([]ledgerdomain.Entry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var entries []ledgerdomain.Entry
	err = conn.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM %s
		 WHERE stripe_mode = ? AND id > ?
		   AND (
		     (status IN ? AND (stripe_subscription_id IS NOT NULL OR stripe_payment_intent_id IS NOT NULL))
		     OR (status = ? AND stripe_checkout_session_id IS NOT NULL)
		   )
		 ORDER BY id ASC
		 LIMIT ?`, t.selectColumns(), t.name),
		mode,
		afterID,
		ledgerdomain.ReconcilableStatuses,
		ledgerdomain.StatusPending,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Kind = kind
	}
	return entries, nil
}

func (r *repo) ListStalePending(ctx context.Context, conn *gorm.DB, kind ledgerdomain.Kind, mode ledgerdomain.Mode, olderThan time.Time, afterID snowflake.ID, limit int) ([]ledgerdomain.Entry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var entries []ledgerdomain.Entry
	err = conn.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM %s
		 WHERE stripe_mode = ? AND status = ? AND created_at < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`, t.selectColumns(), t.name),
		mode,
		ledgerdomain.StatusPending,
		olderThan.UTC(),
		afterID,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Kind = kind
	}
	return entries, nil
}

func (r *repo) InsertReceipt(ctx context.Context, conn *gorm.DB, receipt *ledgerdomain.Receipt) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO sponsorship_receipts (
			id, transaction_id, sponsor_email, amount, frequency, stripe_mode, stripe_customer_id,
			sponsor_bestie_id, sponsorship_id, donation_id, transaction_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.ID,
		receipt.TransactionID,
		receipt.SponsorEmail,
		receipt.Amount,
		receipt.Frequency,
		receipt.StripeMode,
		receipt.StripeCustomerID,
		receipt.SponsorBestieID,
		receipt.SponsorshipID,
		receipt.DonationID,
		receipt.TransactionDate.UTC(),
		receipt.CreatedAt.UTC(),
	).Error
}

const receiptColumns = `id, transaction_id, sponsor_email, amount, frequency, stripe_mode, stripe_customer_id,
	 sponsor_bestie_id, sponsorship_id, donation_id, transaction_date, created_at`

// ListOrphanedReceipts pages unlinked receipts by id. Snowflake ids follow
// insertion time, so the order is oldest first.
func (r *repo) ListOrphanedReceipts(ctx context.Context, conn *gorm.DB, mode ledgerdomain.Mode, afterID snowflake.ID, limit int) ([]ledgerdomain.Receipt, error) {
	var receipts []ledgerdomain.Receipt
	err := conn.WithContext(ctx).Raw(
		`SELECT `+receiptColumns+` FROM sponsorship_receipts
		 WHERE stripe_mode = ? AND sponsorship_id IS NULL AND donation_id IS NULL AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		mode,
		afterID,
		limit,
	).Scan(&receipts).Error
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

func (r *repo) FindReceiptByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*ledgerdomain.Receipt, error) {
	var receipt ledgerdomain.Receipt
	err := conn.WithContext(ctx).Raw(
		`SELECT `+receiptColumns+` FROM sponsorship_receipts WHERE id = ?`,
		id,
	).Scan(&receipt).Error
	if err != nil {
		return nil, err
	}
	if receipt.ID == 0 {
		return nil, nil
	}
	return &receipt, nil
}

func (r *repo) LinkReceipt(ctx context.Context, conn *gorm.DB, receiptID snowflake.ID, kind ledgerdomain.Kind, entryID snowflake.ID) error {
	column := "donation_id"
	switch kind {
	case ledgerdomain.KindDonation:
	case ledgerdomain.KindSponsorship:
		column = "sponsorship_id"
	default:
		return ledgerdomain.ErrInvalidKind
	}

	result := conn.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE sponsorship_receipts SET %s = ? WHERE id = ?`, column),
		entryID,
		receiptID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrNotFound
	}
	return nil
}

func (r *repo) DeleteReceipt(ctx context.Context, conn *gorm.DB, receiptID snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`DELETE FROM sponsorship_receipts WHERE id = ? AND sponsorship_id IS NULL AND donation_id IS NULL`,
		receiptID,
	).Error
}

func (r *repo) InsertJobLog(ctx context.Context, conn *gorm.DB, log *ledgerdomain.JobLog) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO reconciliation_job_logs (
			id, job_name, ran_at, completed_at, stripe_mode, triggered_by, checked, updated,
			skipped, errors, status, error_messages, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.JobName,
		log.RanAt.UTC(),
		log.CompletedAt.UTC(),
		log.StripeMode,
		log.TriggeredBy,
		log.Checked,
		log.Updated,
		log.Skipped,
		log.Errors,
		log.Status,
		log.ErrorMessages,
		log.Metadata,
	).Error
}

func (r *repo) FindJobLog(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*ledgerdomain.JobLog, error) {
	var log ledgerdomain.JobLog
	err := conn.WithContext(ctx).Raw(
		`SELECT id, job_name, ran_at, completed_at, stripe_mode, triggered_by, checked, updated,
		 skipped, errors, status, error_messages, metadata
		 FROM reconciliation_job_logs WHERE id = ?`,
		id,
	).Scan(&log).Error
	if err != nil {
		return nil, err
	}
	if log.ID == 0 {
		return nil, nil
	}
	return &log, nil
}

func (r *repo) FindLatestJobLog(ctx context.Context, conn *gorm.DB, jobName string, mode ledgerdomain.Mode) (*ledgerdomain.JobLog, error) {
	var log ledgerdomain.JobLog
	err := conn.WithContext(ctx).Raw(
		`SELECT id, job_name, ran_at, completed_at, stripe_mode, triggered_by, checked, updated,
		 skipped, errors, status, error_messages, metadata
		 FROM reconciliation_job_logs WHERE job_name = ? AND stripe_mode = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		jobName,
		mode,
	).Scan(&log).Error
	if err != nil {
		return nil, err
	}
	if log.ID == 0 {
		return nil, nil
	}
	return &log, nil
}

func (r *repo) InsertChangeLog(ctx context.Context, conn *gorm.DB, change *ledgerdomain.ChangeLog) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO reconciliation_changes (
			id, job_log_id, ledger_type, donation_id, sponsorship_id, change_type, before_state,
			after_state, stripe_reference, stripe_mode, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		change.ID,
		change.JobLogID,
		change.LedgerType,
		change.DonationID,
		change.SponsorshipID,
		change.ChangeType,
		change.BeforeState,
		change.AfterState,
		change.StripeReference,
		change.StripeMode,
		change.CreatedAt.UTC(),
	).Error
}

func (r *repo) ListChangeLogs(ctx context.Context, conn *gorm.DB, jobLogID snowflake.ID) ([]ledgerdomain.ChangeLog, error) {
	var changes []ledgerdomain.ChangeLog
	err := conn.WithContext(ctx).Raw(
		`SELECT id, job_log_id, ledger_type, donation_id, sponsorship_id, change_type, before_state,
		 after_state, stripe_reference, stripe_mode, created_at
		 FROM reconciliation_changes WHERE job_log_id = ? ORDER BY created_at ASC, id ASC`,
		jobLogID,
	).Scan(&changes).Error
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *repo) ListWebhookLogs(ctx context.Context, conn *gorm.DB, reference string, limit int) ([]ledgerdomain.WebhookLog, error) {
	var logs []ledgerdomain.WebhookLog
	err := conn.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, stripe_mode, session_id, subscription_id, payment_intent_id,
		 step, status, details, created_at
		 FROM stripe_webhook_logs
		 WHERE session_id = ? OR subscription_id = ? OR payment_intent_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		reference,
		reference,
		reference,
		limit,
	).Scan(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
