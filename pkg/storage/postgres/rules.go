package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/rule"
)

const ruleColumns = `id, name, description, enabled, rule_type, match_type, keywords, sender_patterns, priority, created_at, updated_at`

const (
	insertRuleSQL = `INSERT INTO forward_rules (name, description, enabled, rule_type, match_type, keywords, sender_patterns, priority, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9) RETURNING id`
	updateRuleSQL = `UPDATE forward_rules SET name = $2, description = $3, enabled = $4, rule_type = $5, match_type = $6,
keywords = $7, sender_patterns = $8, priority = $9, updated_at = $10 WHERE id = $1`
	deleteRuleSQL      = `DELETE FROM forward_rules WHERE id = $1`
	getRuleSQL         = `SELECT ` + ruleColumns + ` FROM forward_rules WHERE id = $1`
	listRulesSQL       = `SELECT ` + ruleColumns + ` FROM forward_rules ORDER BY priority DESC, id ASC`
	listEnabledRuleSQL = `SELECT ` + ruleColumns + ` FROM forward_rules WHERE enabled ORDER BY priority DESC, id ASC`
	countRulesSQL      = `SELECT count(*) FROM forward_rules`
)

// RuleRepository is a rule.Store on PostgreSQL.
type RuleRepository struct {
	db     DB
	logger logger.Logger
	now    func() time.Time
}

var _ rule.Store = (*RuleRepository)(nil)

func NewRuleRepository(db DB, log logger.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger.OrDiscard(log), now: time.Now}
}

func (r *RuleRepository) Create(ctx context.Context, fr *model.ForwardRule) error {
	now := r.now()
	err := r.db.QueryRow(ctx, insertRuleSQL,
		fr.Name, fr.Description, fr.Enabled, string(fr.RuleType), string(fr.MatchType),
		nonNil(fr.Keywords), nonNil(fr.SenderPatterns), fr.Priority, now,
	).Scan(&fr.ID)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	fr.CreatedAt, fr.UpdatedAt = now, now
	r.logger.Debug("rule created", "ruleID", fr.ID, "name", fr.Name)
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, fr model.ForwardRule) error {
	tag, err := r.db.Exec(ctx, updateRuleSQL,
		fr.ID, fr.Name, fr.Description, fr.Enabled, string(fr.RuleType), string(fr.MatchType),
		nonNil(fr.Keywords), nonNil(fr.SenderPatterns), fr.Priority, r.now(),
	)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", fr.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return rule.ErrNotFound
	}
	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteRuleSQL, id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return rule.ErrNotFound
	}
	return nil
}

func (r *RuleRepository) Get(ctx context.Context, id int64) (model.ForwardRule, error) {
	fr, err := scanRule(r.db.QueryRow(ctx, getRuleSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ForwardRule{}, rule.ErrNotFound
	}
	if err != nil {
		return model.ForwardRule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	return fr, nil
}

func (r *RuleRepository) List(ctx context.Context) ([]model.ForwardRule, error) {
	return r.list(ctx, listRulesSQL)
}

func (r *RuleRepository) ListEnabled(ctx context.Context) ([]model.ForwardRule, error) {
	return r.list(ctx, listEnabledRuleSQL)
}

func (r *RuleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, countRulesSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}

func (r *RuleRepository) list(ctx context.Context, query string) ([]model.ForwardRule, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ForwardRule, error) {
		return scanRule(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}
	return out, nil
}

func scanRule(row pgx.Row) (model.ForwardRule, error) {
	var fr model.ForwardRule
	err := row.Scan(&fr.ID, &fr.Name, &fr.Description, &fr.Enabled, &fr.RuleType, &fr.MatchType,
		&fr.Keywords, &fr.SenderPatterns, &fr.Priority, &fr.CreatedAt, &fr.UpdatedAt)
	return fr, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
