package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kart-io/smsforward/pkg/ledger"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
)

const messageColumns = `id, sender, content, received_at, forward_status, forwarded_at`

const (
	insertMessageSQL = `INSERT INTO messages (sender, content, received_at, forward_status) VALUES ($1, $2, $3, $4) RETURNING id`
	ensureMessageSQL = `INSERT INTO messages (id, sender, content, received_at, forward_status) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id RETURNING ` + messageColumns
	// bumpMessageIDSQL moves the identity past an explicitly supplied id so
	// server-assigned ids never collide with device ids. It never moves it back.
	bumpMessageIDSQL = `SELECT setval(pg_get_serial_sequence('messages', 'id'),
GREATEST($1::bigint, COALESCE(pg_sequence_last_value(pg_get_serial_sequence('messages', 'id')::regclass), 1)))`
	getMessageSQL       = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	listMessagesSQL     = `SELECT ` + messageColumns + ` FROM messages`
	setMessageStatusSQL = `UPDATE messages SET forward_status = $2, forwarded_at = $3 WHERE id = $1`
	deleteMessagesSQL   = `DELETE FROM messages WHERE received_at < $1`
	deleteRecordsSQL    = `DELETE FROM forward_records WHERE timestamp < $1`
)

// recordColumns lists every forward_records column except id, in the order
// of recordArgs.
var recordColumns = []string{
	"sms_id", "email_config_id", "matched_rule_id",
	"sender", "content", "email_subject", "email_body",
	"status", "error_message", "retry_count",
	"timestamp", "processing_time", "execution_duration_ms", "email_send_duration_ms",
	"queue_wait_time_ms", "processing_delay_ms", "original_timestamp",
	"device_battery_level", "device_is_charging", "device_is_in_doze_mode", "network_type",
	"background_capability_score", "system_load", "vendor_optimization_active", "sim_slot", "sim_operator",
	"execution_strategy", "message_type", "message_priority", "confidence_score", "failure_category",
	"is_auto_retry",
}

var (
	selectRecordsSQL    = `SELECT id, ` + strings.Join(recordColumns, ", ") + ` FROM forward_records`
	getRecordBySMSIDSQL = selectRecordsSQL + ` WHERE sms_id = $1`
	upsertRecordSQL     = buildUpsertRecordSQL()
)

// buildUpsertRecordSQL inserts a record or updates the existing one for the
// same sms_id. FORWARDED and IGNORED rows are left alone, in which case
// nothing is returned.
func buildUpsertRecordSQL() string {
	placeholders := make([]string, len(recordColumns))
	updates := make([]string, 0, len(recordColumns)-1)
	for i, col := range recordColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "sms_id" {
			updates = append(updates, col+" = EXCLUDED."+col)
		}
	}
	return `INSERT INTO forward_records (` + strings.Join(recordColumns, ", ") + `) VALUES (` +
		strings.Join(placeholders, ", ") + `) ON CONFLICT (sms_id) DO UPDATE SET ` +
		strings.Join(updates, ", ") + ` WHERE forward_records.status NOT IN ('FORWARDED', 'IGNORED') RETURNING id`
}

// LedgerRepository is a ledger.Store on PostgreSQL.
type LedgerRepository struct {
	db     DB
	logger logger.Logger
}

var _ ledger.Store = (*LedgerRepository)(nil)

func NewLedgerRepository(db DB, log logger.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger.OrDiscard(log)}
}

func (r *LedgerRepository) EnsureMessage(ctx context.Context, m *model.Message) error {
	if m.ForwardStatus == "" {
		m.ForwardStatus = model.StatusPending
	}
	if m.ID == 0 {
		err := r.db.QueryRow(ctx, insertMessageSQL, m.Sender, m.Content, m.ReceivedAt, string(m.ForwardStatus)).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	}

	stored, err := scanMessage(r.db.QueryRow(ctx, ensureMessageSQL,
		m.ID, m.Sender, m.Content, m.ReceivedAt, string(m.ForwardStatus)))
	if err != nil {
		return fmt.Errorf("ensure message %d: %w", m.ID, err)
	}
	if m.ID > 0 {
		if _, err := r.db.Exec(ctx, bumpMessageIDSQL, m.ID); err != nil {
			return fmt.Errorf("advance message id sequence past %d: %w", m.ID, err)
		}
	}
	*m = stored
	return nil
}

func (r *LedgerRepository) GetMessage(ctx context.Context, id int64) (model.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, getMessageSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ledger.ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

func (r *LedgerRepository) ListMessages(ctx context.Context, f ledger.MessageFilter) ([]model.Message, error) {
	var q filter
	if f.Status != "" {
		q.add("forward_status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		q.add("received_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		q.add("received_at < $%d", f.To)
	}
	query, args := q.build(listMessagesSQL, "id ASC", f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return out, nil
}

// CommitOutcome upserts the record and moves the message status in one
// transaction.
func (r *LedgerRepository) CommitOutcome(ctx context.Context, rec *model.ForwardRecord) error {
	var forwardedAt *time.Time
	if rec.Status == model.StatusForwarded {
		forwardedAt = model.Ptr(rec.Timestamp)
	}

	var id int64
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, upsertRecordSQL, recordArgs(rec)...).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ledger.ErrAlreadyHandled
			}
			return fmt.Errorf("upsert forward record for message %d: %w", rec.SMSID, err)
		}
		if _, err := tx.Exec(ctx, setMessageStatusSQL, rec.SMSID, string(rec.Status), forwardedAt); err != nil {
			return fmt.Errorf("update message %d status: %w", rec.SMSID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (r *LedgerRepository) GetRecordBySMSID(ctx context.Context, smsID int64) (model.ForwardRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, getRecordBySMSIDSQL, smsID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ForwardRecord{}, ledger.ErrNotFound
	}
	if err != nil {
		return model.ForwardRecord{}, fmt.Errorf("get record for message %d: %w", smsID, err)
	}
	return rec, nil
}

func (r *LedgerRepository) ListRecords(ctx context.Context, f ledger.RecordFilter) ([]model.ForwardRecord, error) {
	var q filter
	if f.Status != "" {
		q.add("status = $%d", string(f.Status))
	}
	if f.SMSID != 0 {
		q.add("sms_id = $%d", f.SMSID)
	}
	if !f.From.IsZero() {
		q.add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		q.add("timestamp < $%d", f.To)
	}
	query, args := q.build(selectRecordsSQL, "timestamp DESC, id DESC", f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ForwardRecord, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}

func (r *LedgerRepository) DeleteRecordsOlderThan(ctx context.Context, t time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteRecordsSQL, t)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *LedgerRepository) DeleteMessagesOlderThan(ctx context.Context, t time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteMessagesSQL, t)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func recordArgs(rec *model.ForwardRecord) []any {
	env := rec.Environment
	return []any{
		rec.SMSID, rec.EmailConfigID, rec.MatchedRuleID,
		rec.Sender, rec.Content, rec.EmailSubject, rec.EmailBody,
		string(rec.Status), rec.ErrorMessage, rec.RetryCount,
		rec.Timestamp, rec.ProcessingTime, rec.ExecutionDurationMs, rec.EmailSendDurationMs,
		rec.QueueWaitTimeMs, rec.ProcessingDelayMs, rec.OriginalTimestamp,
		env.BatteryLevel, env.IsCharging, env.IsInDozeMode, env.NetworkType,
		env.BackgroundCapabilityScore, env.SystemLoad, env.VendorOptimizationActive, env.SIMSlot, env.SIMOperator,
		string(rec.ExecutionStrategy), string(rec.MessageType), string(rec.MessagePriority), rec.ConfidenceScore, string(rec.FailureCategory),
		rec.IsAutoRetry,
	}
}

func scanRecord(row pgx.Row) (model.ForwardRecord, error) {
	var rec model.ForwardRecord
	env := &rec.Environment
	err := row.Scan(&rec.ID,
		&rec.SMSID, &rec.EmailConfigID, &rec.MatchedRuleID,
		&rec.Sender, &rec.Content, &rec.EmailSubject, &rec.EmailBody,
		&rec.Status, &rec.ErrorMessage, &rec.RetryCount,
		&rec.Timestamp, &rec.ProcessingTime, &rec.ExecutionDurationMs, &rec.EmailSendDurationMs,
		&rec.QueueWaitTimeMs, &rec.ProcessingDelayMs, &rec.OriginalTimestamp,
		&env.BatteryLevel, &env.IsCharging, &env.IsInDozeMode, &env.NetworkType,
		&env.BackgroundCapabilityScore, &env.SystemLoad, &env.VendorOptimizationActive, &env.SIMSlot, &env.SIMOperator,
		&rec.ExecutionStrategy, &rec.MessageType, &rec.MessagePriority, &rec.ConfidenceScore, &rec.FailureCategory,
		&rec.IsAutoRetry,
	)
	return rec, err
}

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.Sender, &m.Content, &m.ReceivedAt, &m.ForwardStatus, &m.ForwardedAt)
	return m, err
}

// filter accumulates WHERE conditions with positional arguments.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

func (f *filter) build(base, order string, limit, offset int) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	if len(f.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(order)
	args := f.args
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
