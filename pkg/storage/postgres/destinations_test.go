package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/destination"
	"github.com/kart-io/smsforward/pkg/model"
)

var configCols = []string{"id", "provider", "smtp_host", "smtp_port", "sender_email", "sender_password",
	"receiver_email", "enable_tls", "enable_ssl", "is_default", "created_at", "updated_at"}

func newDestinationRepo(t *testing.T) (*DestinationRepository, pgxmock.PgxPoolIface) {
	mock := newMock(t)
	repo := NewDestinationRepository(mock, nil)
	repo.now = func() time.Time { return testNow }
	return repo, mock
}

func TestDestinationRepository_CreateDefault(t *testing.T) {
	repo, mock := newDestinationRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(sql(insertConfigSQL)).
		WithArgs("gmail", "smtp.gmail.com", 587, "a@gmail.com", "pw", "me@example.com", true, false, false, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(sql(clearDefaultSQL)).WithArgs(int64(11), testNow).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(sql(markDefaultSQL)).WithArgs(int64(11), testNow).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	c := &model.EmailConfig{Provider: "gmail", SMTPHost: "smtp.gmail.com", SMTPPort: 587,
		SenderEmail: "a@gmail.com", SenderPassword: "pw", ReceiverEmail: "me@example.com",
		EnableTLS: true, IsDefault: true}
	require.NoError(t, repo.Create(context.Background(), c))
	assert.Equal(t, int64(11), c.ID)
}

func TestDestinationRepository_SetDefault(t *testing.T) {
	repo, mock := newDestinationRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(sql(lockConfigSQL)).WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec(sql(clearDefaultSQL)).WithArgs(int64(3), testNow).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(sql(markDefaultSQL)).WithArgs(int64(3), testNow).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetDefault(context.Background(), 3))
}

func TestDestinationRepository_SetDefaultUnknownRollsBack(t *testing.T) {
	repo, mock := newDestinationRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(sql(lockConfigSQL)).WithArgs(int64(42)).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.SetDefault(context.Background(), 42)
	assert.ErrorIs(t, err, destination.ErrNotFound)
}

func TestDestinationRepository_GetDefault(t *testing.T) {
	repo, mock := newDestinationRepo(t)
	mock.ExpectQuery(sql(getDefaultConfigSQL)).WillReturnRows(pgxmock.NewRows(configCols).
		AddRow(int64(3), "qq", "smtp.qq.com", 465, "a@qq.com", "pw", "me@example.com", false, true, true, testNow, testNow))
	mock.ExpectQuery(sql(getDefaultConfigSQL)).WillReturnRows(pgxmock.NewRows(configCols))

	c, err := repo.GetDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.ID)
	assert.True(t, c.EnableSSL)
	assert.True(t, c.IsDefault)

	_, err = repo.GetDefault(context.Background())
	assert.ErrorIs(t, err, destination.ErrNoDefault)
}

func TestDestinationRepository_UpdateMissingRollsBack(t *testing.T) {
	repo, mock := newDestinationRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(sql(updateConfigSQL)).
		WithArgs(int64(5), "custom", "mail.local", 25, "a@local", "", "b@local", false, false, false, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), model.EmailConfig{ID: 5, Provider: "custom", SMTPHost: "mail.local",
		SMTPPort: 25, SenderEmail: "a@local", ReceiverEmail: "b@local"})
	assert.ErrorIs(t, err, destination.ErrNotFound)
}
