package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/apperror"
	"github.com/ruralpay/ledger/internal/models"
)

func TestLedgerService_ApplyMutation(t *testing.T) {
	store, mock, _ := newMockStore(t)
	logger, _ := newTestLogger()
	service := NewLedgerService(store, usd, logger)
	ctx := context.Background()

	t.Run("deposit adds to balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 10000, 3))
		mock.ExpectExec(updateBalance).WithArgs(int64(15000), int64(1), 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntry).
			WithArgs(int64(1), "DEPOSIT", int64(5000), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(insertedRow(10))
		mock.ExpectCommit()

		result, err := service.Deposit(ctx, 1, 42, "50.00")
		require.NoError(t, err)
		assert.Equal(t, "150.00", result.Balance)
		assert.Equal(t, int64(15000), result.BalanceMinor)
		assert.Equal(t, models.EntryDeposit, result.Entry.Kind)
		assert.Equal(t, int64(5000), result.Entry.Amount)
		assert.Equal(t, int64(10), result.Entry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deposit has no float drift", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 10, 4))
		mock.ExpectExec(updateBalance).WithArgs(int64(30), int64(1), 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntry).
			WithArgs(int64(1), "DEPOSIT", int64(20), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(insertedRow(11))
		mock.ExpectCommit()

		result, err := service.Deposit(ctx, 1, 42, "0.20")
		require.NoError(t, err)
		assert.Equal(t, "0.30", result.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal subtracts from balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 15000, 5))
		mock.ExpectExec(updateBalance).WithArgs(int64(0), int64(1), 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntry).
			WithArgs(int64(1), "WITHDRAWAL", int64(15000), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(insertedRow(12))
		mock.ExpectCommit()

		result, err := service.Withdraw(ctx, 1, 42, "150.00")
		require.NoError(t, err)
		assert.Equal(t, "0.00", result.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 15000, 6))
		mock.ExpectRollback()

		result, err := service.Withdraw(ctx, 1, 42, "200.00")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("foreign account is not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 99, "111111111", 15000, 6))
		mock.ExpectRollback()

		_, err := service.Deposit(ctx, 1, 42, "1.00")
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account is not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance_minor", "version"}))
		mock.ExpectRollback()

		_, err := service.Deposit(ctx, 404, 42, "1.00")
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
		assert.Equal(t, errAccountNotOwned, err.(*apperror.Error).Message)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("journal failure rolls back the balance write", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 10000, 7))
		mock.ExpectExec(updateBalance).WithArgs(int64(11000), int64(1), 7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntry).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := service.Deposit(ctx, 1, 42, "10.00")
		assert.True(t, apperror.IsKind(err, apperror.KindInternal))
		assert.True(t, apperror.IsRetriable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version mismatch aborts", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 10000, 8))
		mock.ExpectExec(updateBalance).WithArgs(int64(11000), int64(1), 8).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := service.Deposit(ctx, 1, 42, "10.00")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown kind is rejected before touching the store", func(t *testing.T) {
		_, err := service.ApplyMutation(ctx, 1, 42, models.EntryTransferIn, "10.00")
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))

		_, err = service.ApplyMutation(ctx, 1, 42, "REFUND", "10.00")
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed amount is rejected", func(t *testing.T) {
		for _, amount := range []string{"", "ten", "-5", "1.234", "0"} {
			_, err := service.Deposit(ctx, 1, 42, amount)
			assert.True(t, apperror.IsKind(err, apperror.KindValidation), amount)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_ApplyTransfer(t *testing.T) {
	ref := uuid.MustParse("6f1c2a54-8a6e-4b7a-9d52-2f3c0d8e9a11")
	ctx := context.Background()

	newService := func(t *testing.T, opts ...LedgerOption) (*LedgerService, sqlmock.Sqlmock) {
		store, mock, _ := newMockStore(t)
		logger, _ := newTestLogger()
		service := NewLedgerService(store, usd, logger, opts...)
		service.newReference = func() uuid.UUID { return ref }
		return service, mock
	}

	request := TransferRequest{
		SourceAccountID:          1,
		CallerID:                 42,
		DestinationAccountNumber: "123456789",
		Amount:                   "30.00",
		Description:              "rent",
	}

	t.Run("moves funds and writes three records", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WithArgs("123456789").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 15000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(int64(2)).
			WillReturnRows(accountRow(2, 7, "123456789", 2000, 5))
		mock.ExpectExec(updateBalance).WithArgs(int64(12000), int64(1), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalance).WithArgs(int64(5000), int64(2), 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertTransferQ).WithArgs(ref, int64(1), int64(2), int64(3000), "rent").
			WillReturnRows(insertedRow(77))
		mock.ExpectQuery(insertEntry).
			WithArgs(int64(1), "TRANSFER_OUT", int64(3000), "Transfer to 123456789", sqlmock.AnyArg()).
			WillReturnRows(insertedRow(100))
		mock.ExpectQuery(insertEntry).
			WithArgs(int64(2), "TRANSFER_IN", int64(3000), "Transfer from 111111111", sqlmock.AnyArg()).
			WillReturnRows(insertedRow(101))
		mock.ExpectCommit()

		result, err := service.ApplyTransfer(ctx, request)
		require.NoError(t, err)
		assert.Equal(t, int64(12000), result.FromBalance)
		assert.Equal(t, int64(5000), result.ToBalance)
		assert.Equal(t, "120.00", usd.FromMinorUnits(result.FromBalance))
		assert.Equal(t, "50.00", usd.FromMinorUnits(result.ToBalance))
		assert.Equal(t, int64(77), result.Transfer.ID)
		assert.Equal(t, ref, result.Transfer.Reference)
		assert.Equal(t, models.EntryTransferOut, result.Debit.Kind)
		assert.Equal(t, models.EntryTransferIn, result.Credit.Kind)
		require.NotNil(t, result.Debit.Reference)
		assert.Equal(t, ref, *result.Credit.Reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks rows by ascending id", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WithArgs("123456789").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectQuery(lockQuery).WithArgs(int64(3)).
			WillReturnRows(accountRow(3, 8, "123456789", 0, 0))
		mock.ExpectQuery(lockQuery).WithArgs(int64(7)).
			WillReturnRows(accountRow(7, 42, "777777777", 1000, 2))
		mock.ExpectExec(updateBalance).WithArgs(int64(0), int64(7), 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalance).WithArgs(int64(1000), int64(3), 0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertTransferQ).WillReturnRows(insertedRow(1))
		mock.ExpectQuery(insertEntry).WillReturnRows(insertedRow(2))
		mock.ExpectQuery(insertEntry).WillReturnRows(insertedRow(3))
		mock.ExpectCommit()

		_, err := service.ApplyTransfer(ctx, TransferRequest{
			SourceAccountID:          7,
			CallerID:                 42,
			DestinationAccountNumber: "123456789",
			Amount:                   "10.00",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure after debit rolls everything back", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "111111111", 15000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(int64(2)).
			WillReturnRows(accountRow(2, 7, "123456789", 2000, 5))
		mock.ExpectExec(updateBalance).WithArgs(int64(12000), int64(1), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalance).WithArgs(int64(5000), int64(2), 5).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		result, err := service.ApplyTransfer(ctx, request)
		assert.Nil(t, result)
		assert.True(t, apperror.IsKind(err, apperror.KindInternal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure writing the credit leg rolls everything back", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectQuery(lockQuery).WillReturnRows(accountRow(1, 42, "111111111", 15000, 1))
		mock.ExpectQuery(lockQuery).WillReturnRows(accountRow(2, 7, "123456789", 2000, 5))
		mock.ExpectExec(updateBalance).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalance).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertTransferQ).WillReturnRows(insertedRow(77))
		mock.ExpectQuery(insertEntry).WillReturnRows(insertedRow(100))
		mock.ExpectQuery(insertEntry).WillReturnError(errors.New("constraint"))
		mock.ExpectRollback()

		_, err := service.ApplyTransfer(ctx, request)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectQuery(lockQuery).WillReturnRows(accountRow(1, 42, "111111111", 2999, 1))
		mock.ExpectQuery(lockQuery).WillReturnRows(accountRow(2, 7, "123456789", 2000, 5))
		mock.ExpectRollback()

		_, err := service.ApplyTransfer(ctx, request)
		assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("source not owned by caller", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(99))
		mock.ExpectRollback()

		_, err := service.ApplyTransfer(ctx, request)
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown destination", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WithArgs("123456789").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := service.ApplyTransfer(ctx, request)
		require.True(t, apperror.IsKind(err, apperror.KindNotFound))
		assert.Equal(t, "Destination account not found", err.(*apperror.Error).Message)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer rejected by policy", func(t *testing.T) {
		service, mock := newService(t, WithSelfTransfer(false))

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectRollback()

		_, err := service.ApplyTransfer(ctx, request)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer permitted leaves balance unchanged", func(t *testing.T) {
		service, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(ownerQuery).WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))
		mock.ExpectQuery(resolveQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(accountRow(1, 42, "123456789", 15000, 1))
		mock.ExpectExec(updateBalance).WithArgs(int64(15000), int64(1), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertTransferQ).WithArgs(ref, int64(1), int64(1), int64(3000), "rent").
			WillReturnRows(insertedRow(5))
		mock.ExpectQuery(insertEntry).
			WithArgs(int64(1), "TRANSFER_OUT", int64(3000), "Transfer to 123456789", sqlmock.AnyArg()).
			WillReturnRows(insertedRow(6))
		mock.ExpectQuery(insertEntry).
			WithArgs(int64(1), "TRANSFER_IN", int64(3000), "Transfer from 123456789", sqlmock.AnyArg()).
			WillReturnRows(insertedRow(7))
		mock.ExpectCommit()

		result, err := service.ApplyTransfer(ctx, request)
		require.NoError(t, err)
		assert.Equal(t, int64(15000), result.FromBalance)
		assert.Equal(t, int64(15000), result.ToBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid amount never opens a scope", func(t *testing.T) {
		service, mock := newService(t)

		bad := request
		bad.Amount = "30.001"
		_, err := service.ApplyTransfer(ctx, bad)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLockAccountsInOrder_Deduplicates(t *testing.T) {
	_, mock, db := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs(int64(2)).WillReturnRows(accountRow(2, 1, "200000000", 0, 0))
	mock.ExpectQuery(lockQuery).WithArgs(int64(5)).WillReturnRows(accountRow(5, 1, "500000000", 0, 0))

	tx, err := db.Begin()
	require.NoError(t, err)

	locked, err := lockAccountsInOrder(context.Background(), tx, 5, 2, 5)
	require.NoError(t, err)
	assert.Len(t, locked, 2)
	assert.Equal(t, "500000000", locked[5].AccountNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}
