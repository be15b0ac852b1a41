package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/currency"
	"github.com/ruralpay/ledger/internal/database"
)

const (
	lockQuery       = "SELECT id, user_id, account_number, balance_minor, version FROM accounts WHERE id = \\$1 FOR UPDATE"
	updateBalance   = "UPDATE accounts SET balance_minor = \\$1, version = version \\+ 1, updated_at = NOW\\(\\) WHERE id = \\$2 AND version = \\$3"
	insertEntry     = "INSERT INTO transactions \\(account_id, transaction_type, amount_minor, description, reference\\)"
	insertTransferQ = "INSERT INTO transfers \\(reference, from_account_id, to_account_id, amount_minor, description\\)"
	ownerQuery      = "SELECT user_id FROM accounts WHERE id = \\$1"
	resolveQuery    = "SELECT id FROM accounts WHERE account_number = \\$1"
)

var usd = currency.MustCodec("USD")

func newMockStore(t *testing.T) (*database.Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewStore(db), mock, db
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func accountRow(id, userID int64, number string, balance int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance_minor", "version"}).
		AddRow(id, userID, number, balance, version)
}

func insertedRow(id int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
}
