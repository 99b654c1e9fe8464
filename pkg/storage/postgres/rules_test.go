package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/rule"
)

var ruleCols = []string{"id", "name", "description", "enabled", "rule_type", "match_type",
	"keywords", "sender_patterns", "priority", "created_at", "updated_at"}

func newRuleRepo(t *testing.T) (*RuleRepository, pgxmock.PgxPoolIface) {
	mock := newMock(t)
	repo := NewRuleRepository(mock, nil)
	repo.now = func() time.Time { return testNow }
	return repo, mock
}

func TestRuleRepository_Create(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectQuery(sql(insertRuleSQL)).
		WithArgs("otp", "", true, "KEYWORD", "CONTAINS", []string{"code"}, []string{}, 90, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	fr := &model.ForwardRule{Name: "otp", Enabled: true, RuleType: model.RuleKeyword,
		MatchType: model.MatchContains, Keywords: []string{"code"}, Priority: 90}
	require.NoError(t, repo.Create(context.Background(), fr))
	assert.Equal(t, int64(7), fr.ID)
	assert.Equal(t, testNow, fr.CreatedAt)
}

func TestRuleRepository_ListEnabled(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectQuery(sql(listEnabledRuleSQL)).WillReturnRows(pgxmock.NewRows(ruleCols).
		AddRow(int64(2), "bank", "", true, model.RuleSender, model.MatchPrefix,
			[]string{}, []string{"955"}, 100, testNow, testNow).
		AddRow(int64(1), "all", "", true, model.RuleCatchAll, model.MatchContains,
			[]string{}, []string{}, 0, testNow, testNow))

	rules, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, int64(2), rules[0].ID)
	assert.Equal(t, model.RuleSender, rules[0].RuleType)
	assert.Equal(t, []string{"955"}, rules[0].SenderPatterns)
	assert.Equal(t, model.RuleCatchAll, rules[1].RuleType)
}

func TestRuleRepository_GetMissing(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectQuery(sql(getRuleSQL)).WithArgs(int64(4)).WillReturnRows(pgxmock.NewRows(ruleCols))

	_, err := repo.Get(context.Background(), 4)
	assert.ErrorIs(t, err, rule.ErrNotFound)
}

func TestRuleRepository_UpdateMissing(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec(sql(updateRuleSQL)).
		WithArgs(int64(9), "x", "", false, "SENDER", "EXACT", []string{}, []string{"10086"}, 1, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), model.ForwardRule{ID: 9, Name: "x", RuleType: model.RuleSender,
		MatchType: model.MatchExact, SenderPatterns: []string{"10086"}, Priority: 1})
	assert.ErrorIs(t, err, rule.ErrNotFound)
}

func TestRuleRepository_DeleteAndCount(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec(sql(deleteRuleSQL)).WithArgs(int64(3)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(sql(countRulesSQL)).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	require.NoError(t, repo.Delete(context.Background(), 3))
	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
