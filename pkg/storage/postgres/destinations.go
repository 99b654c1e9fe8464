package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kart-io/smsforward/pkg/destination"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
)

const configColumns = `id, provider, smtp_host, smtp_port, sender_email, sender_password, receiver_email, enable_tls, enable_ssl, is_default, created_at, updated_at`

const (
	insertConfigSQL = `INSERT INTO email_configs (provider, smtp_host, smtp_port, sender_email, sender_password, receiver_email, enable_tls, enable_ssl, is_default, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`
	updateConfigSQL = `UPDATE email_configs SET provider = $2, smtp_host = $3, smtp_port = $4, sender_email = $5, sender_password = $6,
receiver_email = $7, enable_tls = $8, enable_ssl = $9, is_default = $10, updated_at = $11 WHERE id = $1`
	deleteConfigSQL     = `DELETE FROM email_configs WHERE id = $1`
	getConfigSQL        = `SELECT ` + configColumns + ` FROM email_configs WHERE id = $1`
	listConfigsSQL      = `SELECT ` + configColumns + ` FROM email_configs ORDER BY id`
	getDefaultConfigSQL = `SELECT ` + configColumns + ` FROM email_configs WHERE is_default LIMIT 1`
	lockConfigSQL       = `SELECT id FROM email_configs WHERE id = $1 FOR UPDATE`
	clearDefaultSQL     = `UPDATE email_configs SET is_default = FALSE, updated_at = $2 WHERE is_default AND id <> $1`
	markDefaultSQL      = `UPDATE email_configs SET is_default = TRUE, updated_at = $2 WHERE id = $1`
)

// DestinationRepository is a destination.Store on PostgreSQL. Every change
// of the default flag runs in one transaction.
type DestinationRepository struct {
	db     DB
	logger logger.Logger
	now    func() time.Time
}

var _ destination.Store = (*DestinationRepository)(nil)

func NewDestinationRepository(db DB, log logger.Logger) *DestinationRepository {
	return &DestinationRepository{db: db, logger: logger.OrDiscard(log), now: time.Now}
}

func (r *DestinationRepository) Create(ctx context.Context, c *model.EmailConfig) error {
	now := r.now()
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertConfigSQL,
			c.Provider, c.SMTPHost, c.SMTPPort, c.SenderEmail, c.SenderPassword, c.ReceiverEmail,
			c.EnableTLS, c.EnableSSL, false, now,
		).Scan(&c.ID); err != nil {
			return fmt.Errorf("insert email config: %w", err)
		}
		if c.IsDefault {
			return setDefault(ctx, tx, c.ID, now)
		}
		return nil
	})
	if err != nil {
		c.ID = 0
		return err
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

func (r *DestinationRepository) Update(ctx context.Context, c model.EmailConfig) error {
	now := r.now()
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if c.IsDefault {
			if _, err := tx.Exec(ctx, clearDefaultSQL, c.ID, now); err != nil {
				return fmt.Errorf("clear default email config: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, updateConfigSQL,
			c.ID, c.Provider, c.SMTPHost, c.SMTPPort, c.SenderEmail, c.SenderPassword, c.ReceiverEmail,
			c.EnableTLS, c.EnableSSL, c.IsDefault, now,
		)
		if err != nil {
			return fmt.Errorf("update email config %d: %w", c.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return destination.ErrNotFound
		}
		return nil
	})
}

func (r *DestinationRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteConfigSQL, id)
	if err != nil {
		return fmt.Errorf("delete email config %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return destination.ErrNotFound
	}
	return nil
}

func (r *DestinationRepository) Get(ctx context.Context, id int64) (model.EmailConfig, error) {
	c, err := scanConfig(r.db.QueryRow(ctx, getConfigSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.EmailConfig{}, destination.ErrNotFound
	}
	if err != nil {
		return model.EmailConfig{}, fmt.Errorf("get email config %d: %w", id, err)
	}
	return c, nil
}

func (r *DestinationRepository) List(ctx context.Context) ([]model.EmailConfig, error) {
	rows, err := r.db.Query(ctx, listConfigsSQL)
	if err != nil {
		return nil, fmt.Errorf("list email configs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EmailConfig, error) {
		return scanConfig(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan email configs: %w", err)
	}
	return out, nil
}

func (r *DestinationRepository) GetDefault(ctx context.Context) (model.EmailConfig, error) {
	c, err := scanConfig(r.db.QueryRow(ctx, getDefaultConfigSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.EmailConfig{}, destination.ErrNoDefault
	}
	if err != nil {
		return model.EmailConfig{}, fmt.Errorf("get default email config: %w", err)
	}
	return c, nil
}

// SetDefault clears the previous default and marks id in one transaction.
func (r *DestinationRepository) SetDefault(ctx context.Context, id int64) error {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, lockConfigSQL, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return destination.ErrNotFound
			}
			return fmt.Errorf("lock email config %d: %w", id, err)
		}
		return setDefault(ctx, tx, id, r.now())
	})
	if err == nil {
		r.logger.Info("default email destination changed", "configID", id)
	}
	return err
}

func setDefault(ctx context.Context, tx pgx.Tx, id int64, now time.Time) error {
	if _, err := tx.Exec(ctx, clearDefaultSQL, id, now); err != nil {
		return fmt.Errorf("clear default email config: %w", err)
	}
	if _, err := tx.Exec(ctx, markDefaultSQL, id, now); err != nil {
		return fmt.Errorf("mark default email config %d: %w", id, err)
	}
	return nil
}

func scanConfig(row pgx.Row) (model.EmailConfig, error) {
	var c model.EmailConfig
	err := row.Scan(&c.ID, &c.Provider, &c.SMTPHost, &c.SMTPPort, &c.SenderEmail, &c.SenderPassword,
		&c.ReceiverEmail, &c.EnableTLS, &c.EnableSSL, &c.IsDefault, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
