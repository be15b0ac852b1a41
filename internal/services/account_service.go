package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/apperror"
	"github.com/ruralpay/ledger/internal/currency"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/models"
)

const (
	DefaultAccountNumberDigits = 9
	DefaultMaxIDAttempts       = 10
)

// ReserveFunc tries to claim candidate. It must return an error matching
// apperror.ErrDuplicate when the candidate is already taken.
type ReserveFunc func(ctx context.Context, candidate string) error

// AccountNumberGenerator draws random fixed-width numeric identifiers and
// relies on the store's unique constraint to settle collisions.
type AccountNumberGenerator struct {
	digits      int
	maxAttempts int
	random      io.Reader
	log         logrus.FieldLogger
}

func NewAccountNumberGenerator(digits, maxAttempts int, log logrus.FieldLogger) *AccountNumberGenerator {
	if digits < 6 || digits > 18 {
		digits = DefaultAccountNumberDigits
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxIDAttempts
	}
	return &AccountNumberGenerator{digits: digits, maxAttempts: maxAttempts, random: rand.Reader, log: log}
}

// Generate returns the first candidate that reserve accepts. There is no
// separate existence check: the reservation itself is the uniqueness test.
func (g *AccountNumberGenerator) Generate(ctx context.Context, reserve ReserveFunc) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", apperror.Internal("account number generation cancelled", err)
		}

		candidate, err := g.candidate()
		if err != nil {
			return "", apperror.Internal("draw account number", err)
		}

		err = reserve(ctx, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, apperror.ErrDuplicate) {
			return "", err
		}

		lastErr = err
		g.log.WithFields(logrus.Fields{"attempt": attempt}).Debug("Account number collision, drawing again")
	}

	return "", apperror.Exhausted(fmt.Sprintf("no free account number after %d attempts", g.maxAttempts), lastErr)
}

// candidate is uniform over [10^(digits-1), 10^digits), so it never has a leading zero.
func (g *AccountNumberGenerator) candidate() (string, error) {
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(g.digits-1)), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))

	n, err := rand.Int(g.random, span)
	if err != nil {
		return "", err
	}
	return n.Add(n, low).String(), nil
}

// AccountService opens and lists accounts. Opening is the only place the
// generator runs.
type AccountService struct {
	store     *database.Store
	codec     *currency.Codec
	generator *AccountNumberGenerator
	log       logrus.FieldLogger
}

func NewAccountService(store *database.Store, codec *currency.Codec, generator *AccountNumberGenerator, log logrus.FieldLogger) *AccountService {
	return &AccountService{store: store, codec: codec, generator: generator, log: log}
}

// OpenAccount creates an account for userID with an optional initial
// deposit. A positive deposit is journaled as a DEPOSIT entry in the same
// scope so the history always justifies the balance.
func (s *AccountService) OpenAccount(ctx context.Context, userID int64, initialDeposit string) (*models.Account, error) {
	if userID <= 0 {
		return nil, apperror.Validation("user id is required")
	}
	if initialDeposit == "" {
		initialDeposit = "0"
	}
	initial, err := s.codec.ToMinorUnits(initialDeposit)
	if err != nil {
		return nil, err
	}

	var account models.Account
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		number, err := s.generator.Generate(ctx, func(ctx context.Context, candidate string) error {
			created, err := insertAccount(ctx, tx, userID, candidate, initial)
			if err != nil {
				return err
			}
			account = created
			return nil
		})
		if err != nil {
			return err
		}
		account.AccountNumber = number

		if initial > 0 {
			if _, err := appendEntry(ctx, tx, models.TransactionEntry{
				AccountID:   account.ID,
				Kind:        models.EntryDeposit,
				Amount:      initial,
				Description: "Opening deposit",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"account_id":     account.ID,
		"account_number": account.AccountNumber,
		"balance_minor":  account.Balance,
	}).Info("Account opened")
	return &account, nil
}

const reserveSavepoint = "reserve_account_number"

// insertAccount claims accountNumber inside tx. A unique violation aborts only
// the savepoint, so the caller can retry with another number in the same scope.
func insertAccount(ctx context.Context, tx *sql.Tx, userID int64, accountNumber string, balance int64) (models.Account, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+reserveSavepoint); err != nil {
		return models.Account{}, database.Classify(err, "create savepoint")
	}

	account := models.Account{UserID: userID, AccountNumber: accountNumber, Balance: balance}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, account_number, balance_minor)
		VALUES ($1, $2, $3)
		RETURNING id, version, created_at, updated_at`,
		userID, accountNumber, balance,
	).Scan(&account.ID, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+reserveSavepoint); rbErr != nil {
				return models.Account{}, database.Classify(rbErr, "rollback savepoint")
			}
			return models.Account{}, apperror.Duplicate("account number already assigned")
		}
		return models.Account{}, database.Classify(err, "create account")
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+reserveSavepoint); err != nil {
		return models.Account{}, database.Classify(err, "release savepoint")
	}
	return account, nil
}

// ListAccounts returns the caller's accounts ordered by id.
func (s *AccountService) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	accounts := []models.Account{}
	err := s.store.Read(ctx, func(q database.Querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT id, user_id, account_number, balance_minor, version, created_at, updated_at
			FROM accounts
			WHERE user_id = $1
			ORDER BY id`, userID)
		if err != nil {
			return database.Classify(err, "list accounts")
		}
		defer rows.Close()

		for rows.Next() {
			var a models.Account
			if err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
				return database.Classify(err, "scan account")
			}
			accounts = append(accounts, a)
		}
		return database.Classify(rows.Err(), "list accounts")
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetAccount returns one account owned by userID.
func (s *AccountService) GetAccount(ctx context.Context, accountID, userID int64) (*models.Account, error) {
	var a models.Account
	err := s.store.Read(ctx, func(q database.Querier) error {
		err := q.QueryRowContext(ctx, `
			SELECT id, user_id, account_number, balance_minor, version, created_at, updated_at
			FROM accounts
			WHERE id = $1 AND user_id = $2`, accountID, userID,
		).Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound(errAccountNotOwned)
		}
		return database.Classify(err, "get account")
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}
