package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/ruralpay/ledger/internal/apperror"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/models"
)

// MaxJournalLimit caps an explicit page size. A zero limit reads the
// whole history.
const MaxJournalLimit = 500

const journalQuery = `
	SELECT id, account_id, transaction_type, amount_minor, description, reference, created_at
	FROM transactions
	WHERE account_id = $1
	ORDER BY created_at DESC, id DESC`

// JournalService reads the append-only transaction history. Reads take no
// locks beyond the store's default consistency.
type JournalService struct {
	store *database.Store
}

func NewJournalService(store *database.Store) *JournalService {
	return &JournalService{store: store}
}

// ListTransactions returns the newest entries first. limit <= 0 returns
// every entry; positive values are capped at MaxJournalLimit.
func (s *JournalService) ListTransactions(ctx context.Context, accountID, callerID int64, limit int) ([]models.TransactionEntry, error) {
	query, args := journalQuery, []any{accountID}
	if limit > 0 {
		query += "\n\tLIMIT $2"
		args = append(args, min(limit, MaxJournalLimit))
	}

	entries := []models.TransactionEntry{}
	err := s.store.Read(ctx, func(q database.Querier) error {
		var owned bool
		err := q.QueryRowContext(ctx, `SELECT TRUE FROM accounts WHERE id = $1 AND user_id = $2`, accountID, callerID).Scan(&owned)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound(errAccountNotOwned)
		}
		if err != nil {
			return database.Classify(err, "check account ownership")
		}

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return database.Classify(err, "list transactions")
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e           models.TransactionEntry
				kind        string
				description sql.NullString
				reference   uuid.NullUUID
			)
			if err := rows.Scan(&e.ID, &e.AccountID, &kind, &e.Amount, &description, &reference, &e.CreatedAt); err != nil {
				return database.Classify(err, "scan transaction")
			}
			e.Kind = models.EntryKind(kind)
			e.Description = description.String
			if reference.Valid {
				ref := reference.UUID
				e.Reference = &ref
			}
			entries = append(entries, e)
		}
		return database.Classify(rows.Err(), "list transactions")
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
