package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind is the movement type recorded in the journal.
type EntryKind string

const (
	EntryDeposit     EntryKind = "DEPOSIT"
	EntryWithdrawal  EntryKind = "WITHDRAWAL"
	EntryTransferOut EntryKind = "TRANSFER_OUT"
	EntryTransferIn  EntryKind = "TRANSFER_IN"
)

// Valid reports whether k is one of the four journal kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryDeposit, EntryWithdrawal, EntryTransferOut, EntryTransferIn:
		return true
	}
	return false
}

// Sign is +1 for kinds that credit the account and -1 for kinds that debit it.
func (k EntryKind) Sign() int64 {
	switch k {
	case EntryDeposit, EntryTransferIn:
		return 1
	case EntryWithdrawal, EntryTransferOut:
		return -1
	}
	return 0
}

type Account struct {
	ID            int64     `json:"id" db:"id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	AccountNumber string    `json:"account_number" db:"account_number"`
	Balance       int64     `json:"balance" db:"balance_minor"` // in minor units
	Version       int       `json:"version" db:"version"`       // bumped on every balance write
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionEntry is an append-only journal row. Amount is always positive;
// Kind carries the direction.
type TransactionEntry struct {
	ID          int64      `json:"id" db:"id"`
	AccountID   int64      `json:"account_id" db:"account_id"`
	Kind        EntryKind  `json:"transaction_type" db:"transaction_type"`
	Amount      int64      `json:"amount" db:"amount_minor"`
	Description string     `json:"description,omitempty" db:"description"`
	Reference   *uuid.UUID `json:"reference,omitempty" db:"reference"` // set for transfer legs
	CreatedAt   time.Time  `json:"transaction_date" db:"created_at"`
}

type TransferRecord struct {
	ID            int64     `json:"id" db:"id"`
	Reference     uuid.UUID `json:"reference" db:"reference"`
	FromAccountID int64     `json:"from_account_id" db:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id" db:"to_account_id"`
	Amount        int64     `json:"amount" db:"amount_minor"`
	Description   string    `json:"description,omitempty" db:"description"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// TransferResult bundles the artifacts of one committed transfer.
type TransferResult struct {
	Transfer    TransferRecord   `json:"transfer"`
	Debit       TransactionEntry `json:"debit"`
	Credit      TransactionEntry `json:"credit"`
	FromBalance int64            `json:"from_balance"`
	ToBalance   int64            `json:"to_balance"`
}
