package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/apperror"
	"github.com/ruralpay/ledger/internal/currency"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/models"
)

const errAccountNotOwned = "Account not found or you don't have permission"

// LedgerService applies deposits, withdrawals and transfers. Every call runs
// in one atomic scope and holds row locks on the accounts it mutates.
type LedgerService struct {
	store             *database.Store
	codec             *currency.Codec
	audit             *AuditLogger
	log               logrus.FieldLogger
	allowSelfTransfer bool
	newReference      func() uuid.UUID
}

type LedgerOption func(*LedgerService)

// WithSelfTransfer controls whether a transfer may target its own source account.
func WithSelfTransfer(allowed bool) LedgerOption {
	return func(s *LedgerService) { s.allowSelfTransfer = allowed }
}

func NewLedgerService(store *database.Store, codec *currency.Codec, log logrus.FieldLogger, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		store:             store,
		codec:             codec,
		audit:             NewAuditLogger(log),
		log:               log,
		allowSelfTransfer: true,
		newReference:      uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type MutationResult struct {
	Entry        models.TransactionEntry
	BalanceMinor int64
	// Balance is the new balance rendered at the currency's precision.
	Balance string
}

// Deposit is ApplyMutation with EntryDeposit.
func (s *LedgerService) Deposit(ctx context.Context, accountID, callerID int64, amount string) (*MutationResult, error) {
	return s.ApplyMutation(ctx, accountID, callerID, models.EntryDeposit, amount)
}

// Withdraw is ApplyMutation with EntryWithdrawal.
func (s *LedgerService) Withdraw(ctx context.Context, accountID, callerID int64, amount string) (*MutationResult, error) {
	return s.ApplyMutation(ctx, accountID, callerID, models.EntryWithdrawal, amount)
}

// ApplyMutation deposits into or withdraws from an account owned by callerID
// and appends the matching journal entry in the same scope.
func (s *LedgerService) ApplyMutation(ctx context.Context, accountID, callerID int64, kind models.EntryKind, amount string) (*MutationResult, error) {
	if kind != models.EntryDeposit && kind != models.EntryWithdrawal {
		return nil, apperror.Validation("Invalid transaction type %q", kind)
	}
	amountMinor, err := s.codec.ParseAmount(amount)
	if err != nil {
		return nil, err
	}

	var result MutationResult
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		account, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account.UserID != callerID {
			return apperror.NotFound(errAccountNotOwned)
		}

		var newBalance int64
		switch kind {
		case models.EntryDeposit:
			newBalance, err = currency.Add(account.Balance, amountMinor)
		case models.EntryWithdrawal:
			newBalance, err = currency.Sub(account.Balance, amountMinor)
		}
		if err != nil {
			return err
		}

		if err := updateAccountBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
			return err
		}

		entry, err := appendEntry(ctx, tx, models.TransactionEntry{
			AccountID: account.ID,
			Kind:      kind,
			Amount:    amountMinor,
		})
		if err != nil {
			return err
		}

		result = MutationResult{Entry: entry, BalanceMinor: newBalance}
		return nil
	})
	if err != nil {
		s.audit.LogError(string(kind), accountID, err)
		return nil, err
	}

	result.Balance = s.codec.FromMinorUnits(result.BalanceMinor)
	s.audit.LogMutation(result.Entry, result.BalanceMinor)
	return &result, nil
}

type TransferRequest struct {
	SourceAccountID          int64
	CallerID                 int64
	DestinationAccountNumber string
	Amount                   string
	Description              string
}

// ApplyTransfer debits the caller's source account and credits the account
// addressed by DestinationAccountNumber. Both balance writes, the transfer
// record and both journal legs commit together or not at all.
func (s *LedgerService) ApplyTransfer(ctx context.Context, req TransferRequest) (*models.TransferResult, error) {
	amountMinor, err := s.codec.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	var result models.TransferResult
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkOwnership(ctx, tx, req.SourceAccountID, req.CallerID, "Source account not found or you don't have permission"); err != nil {
			return err
		}

		destinationID, err := resolveAccountNumber(ctx, tx, req.DestinationAccountNumber)
		if err != nil {
			return err
		}

		self := destinationID == req.SourceAccountID
		if self && !s.allowSelfTransfer {
			return apperror.Validation("Cannot transfer to the same account")
		}

		locked, err := lockAccountsInOrder(ctx, tx, req.SourceAccountID, destinationID)
		if err != nil {
			return err
		}
		source, destination := locked[req.SourceAccountID], locked[destinationID]
		if source.UserID != req.CallerID {
			return apperror.NotFound("Source account not found or you don't have permission")
		}

		newSource, err := currency.Sub(source.Balance, amountMinor)
		if err != nil {
			return err
		}
		var newDestination int64
		if self {
			// Debit and credit land on the same row and cancel out.
			newSource, newDestination = source.Balance, source.Balance
		} else if newDestination, err = currency.Add(destination.Balance, amountMinor); err != nil {
			return err
		}

		if err := updateAccountBalance(ctx, tx, source.ID, newSource, source.Version); err != nil {
			return err
		}
		if !self {
			if err := updateAccountBalance(ctx, tx, destination.ID, newDestination, destination.Version); err != nil {
				return err
			}
		}

		reference := s.newReference()
		transfer, err := insertTransfer(ctx, tx, models.TransferRecord{
			Reference:     reference,
			FromAccountID: source.ID,
			ToAccountID:   destination.ID,
			Amount:        amountMinor,
			Description:   req.Description,
		})
		if err != nil {
			return err
		}

		debit, err := appendEntry(ctx, tx, models.TransactionEntry{
			AccountID:   source.ID,
			Kind:        models.EntryTransferOut,
			Amount:      amountMinor,
			Description: fmt.Sprintf("Transfer to %s", destination.AccountNumber),
			Reference:   &reference,
		})
		if err != nil {
			return err
		}

		credit, err := appendEntry(ctx, tx, models.TransactionEntry{
			AccountID:   destination.ID,
			Kind:        models.EntryTransferIn,
			Amount:      amountMinor,
			Description: fmt.Sprintf("Transfer from %s", source.AccountNumber),
			Reference:   &reference,
		})
		if err != nil {
			return err
		}

		result = models.TransferResult{
			Transfer:    transfer,
			Debit:       debit,
			Credit:      credit,
			FromBalance: newSource,
			ToBalance:   newDestination,
		}
		return nil
	})
	if err != nil {
		s.audit.LogError("TRANSFER", req.SourceAccountID, err)
		return nil, err
	}

	s.audit.LogTransfer(&result)
	return &result, nil
}

// lockAccountsInOrder takes row locks by ascending id so two transfers over
// the same pair in opposite directions cannot deadlock.
func lockAccountsInOrder(ctx context.Context, q database.Querier, ids ...int64) (map[int64]*models.Account, error) {
	ordered := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	locked := make(map[int64]*models.Account, len(ordered))
	for _, id := range ordered {
		account, err := lockAccount(ctx, q, id)
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

func lockAccount(ctx context.Context, q database.Querier, accountID int64) (*models.Account, error) {
	var account models.Account
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, account_number, balance_minor, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.UserID, &account.AccountNumber, &account.Balance, &account.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound(errAccountNotOwned)
	}
	if err != nil {
		return nil, database.Classify(err, "lock account")
	}
	return &account, nil
}

func checkOwnership(ctx context.Context, q database.Querier, accountID, callerID int64, message string) error {
	var owner int64
	err := q.QueryRowContext(ctx, `SELECT user_id FROM accounts WHERE id = $1`, accountID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != callerID) {
		return apperror.NotFound(message)
	}
	if err != nil {
		return database.Classify(err, "load account")
	}
	return nil
}

func resolveAccountNumber(ctx context.Context, q database.Querier, accountNumber string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM accounts WHERE account_number = $1`, accountNumber).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.NotFound("Destination account not found")
	}
	if err != nil {
		return 0, database.Classify(err, "resolve account number")
	}
	return id, nil
}

// updateAccountBalance is conditional on the version read under the lock; a
// mismatch means the row changed outside the scope and the scope must abort.
func updateAccountBalance(ctx context.Context, q database.Querier, accountID, newBalance int64, version int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET balance_minor = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		newBalance, accountID, version)
	if err != nil {
		return database.Classify(err, "update balance")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Classify(err, "update balance")
	}
	if rowsAffected == 0 {
		return apperror.Internal("update balance", fmt.Errorf("optimistic lock failed for account %d", accountID))
	}
	return nil
}

func appendEntry(ctx context.Context, q database.Querier, entry models.TransactionEntry) (models.TransactionEntry, error) {
	if !entry.Kind.Valid() {
		return models.TransactionEntry{}, apperror.Validation("Invalid transaction type %q", entry.Kind)
	}

	var reference uuid.NullUUID
	if entry.Reference != nil {
		reference = uuid.NullUUID{UUID: *entry.Reference, Valid: true}
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO transactions (account_id, transaction_type, amount_minor, description, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		entry.AccountID, string(entry.Kind), entry.Amount, nullString(entry.Description), reference,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return models.TransactionEntry{}, database.Classify(err, "append journal entry")
	}
	return entry, nil
}

func insertTransfer(ctx context.Context, q database.Querier, transfer models.TransferRecord) (models.TransferRecord, error) {
	err := q.QueryRowContext(ctx, `
		INSERT INTO transfers (reference, from_account_id, to_account_id, amount_minor, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		transfer.Reference, transfer.FromAccountID, transfer.ToAccountID, transfer.Amount, nullString(transfer.Description),
	).Scan(&transfer.ID, &transfer.CreatedAt)
	if err != nil {
		return models.TransferRecord{}, database.Classify(err, "insert transfer")
	}
	return transfer, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
