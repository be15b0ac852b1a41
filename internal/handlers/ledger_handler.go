package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/apperror"
	"github.com/ruralpay/ledger/internal/currency"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

const idempotencyHeader = "Idempotency-Key"

// Ledger is the part of services.LedgerService the HTTP layer uses.
type Ledger interface {
	ApplyMutation(ctx context.Context, accountID, callerID int64, kind models.EntryKind, amount string) (*services.MutationResult, error)
	ApplyTransfer(ctx context.Context, req services.TransferRequest) (*models.TransferResult, error)
}

type Journal interface {
	ListTransactions(ctx context.Context, accountID, callerID int64, limit int) ([]models.TransactionEntry, error)
}

type LedgerHandler struct {
	ledger      Ledger
	journal     Journal
	idempotency *services.IdempotencyStore
	codec       *currency.Codec
	validator   *services.ValidationHelper
	log         logrus.FieldLogger
}

func NewLedgerHandler(ledger Ledger, journal Journal, idempotency *services.IdempotencyStore, codec *currency.Codec, log logrus.FieldLogger) *LedgerHandler {
	return &LedgerHandler{
		ledger:      ledger,
		journal:     journal,
		idempotency: idempotency,
		codec:       codec,
		validator:   services.NewValidationHelper(),
		log:         log,
	}
}

type entryResponse struct {
	TransactionID   int64     `json:"transaction_id"`
	AccountID       int64     `json:"account_id"`
	TransactionType string    `json:"transaction_type"`
	Amount          string    `json:"amount"`
	Description     string    `json:"description,omitempty"`
	Reference       string    `json:"reference,omitempty"`
	TransactionDate time.Time `json:"transaction_date"`
}

func (h *LedgerHandler) toEntryResponse(e models.TransactionEntry) entryResponse {
	resp := entryResponse{
		TransactionID:   e.ID,
		AccountID:       e.AccountID,
		TransactionType: string(e.Kind),
		Amount:          h.codec.FromMinorUnits(e.Amount),
		Description:     e.Description,
		TransactionDate: e.CreatedAt,
	}
	if e.Reference != nil {
		resp.Reference = e.Reference.String()
	}
	return resp
}

// Transaction deposits into or withdraws from one of the caller's accounts
// @Summary Deposit or withdraw
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{account_id=int64,transaction_type=string,amount=string} true "Mutation request"
// @Success 200 {object} object{message=string,newBalance=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transaction [post]
func (h *LedgerHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		AccountID       int64  `json:"account_id" validate:"required,gt=0"`
		TransactionType string `json:"transaction_type" validate:"required"`
		Amount          Amount `json:"amount" validate:"required"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.ledger.ApplyMutation(r.Context(), req.AccountID, userID, models.EntryKind(req.TransactionType), string(req.Amount))
	if err != nil {
		services.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Transaction successful",
		"newBalance": result.Balance,
		"entry":      h.toEntryResponse(result.Entry),
	})
}

// Transfer moves funds from one of the caller's accounts to any account by number
// @Summary Transfer funds
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Deduplicates client retries"
// @Param request body object{from_account_id=int64,to_account_number=string,amount=string,description=string} true "Transfer request"
// @Success 200 {object} object{message=string,reference=string,fromBalance=string,toBalance=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /transfer [post]
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		FromAccountID   int64  `json:"from_account_id" validate:"required,gt=0"`
		ToAccountNumber string `json:"to_account_number" validate:"required,account_number"`
		Amount          Amount `json:"amount" validate:"required"`
		Description     string `json:"description" validate:"max=255"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	ctx := r.Context()
	key := r.Header.Get(idempotencyHeader)
	if len(key) > 255 {
		services.WriteError(w, apperror.Validation("%s must be at most 255 characters", idempotencyHeader))
		return
	}

	var fingerprint string
	if key != "" {
		amount, err := h.codec.ParseAmount(string(req.Amount))
		if err != nil {
			services.WriteError(w, err)
			return
		}
		fingerprint = services.TransferFingerprint(req.FromAccountID, req.ToAccountNumber, amount)
	}

	stored, err := h.idempotency.Begin(ctx, userID, key, fingerprint)
	if err != nil {
		services.WriteError(w, err)
		return
	}
	if stored != nil {
		w.Header().Set("Idempotent-Replayed", "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(stored)
		return
	}

	result, err := h.ledger.ApplyTransfer(ctx, services.TransferRequest{
		SourceAccountID:          req.FromAccountID,
		CallerID:                 userID,
		DestinationAccountNumber: req.ToAccountNumber,
		Amount:                   string(req.Amount),
		Description:              req.Description,
	})
	if err != nil {
		if relErr := h.idempotency.Release(ctx, userID, key); relErr != nil {
			h.log.WithError(relErr).WithField("user_id", userID).Warn("Failed to release idempotency key")
		}
		services.WriteError(w, err)
		return
	}

	body, err := json.Marshal(map[string]any{
		"message":     "Transfer successful",
		"reference":   result.Transfer.Reference.String(),
		"amount":      h.codec.FromMinorUnits(result.Transfer.Amount),
		"fromBalance": h.codec.FromMinorUnits(result.FromBalance),
		"toBalance":   h.codec.FromMinorUnits(result.ToBalance),
	})
	if err != nil {
		services.WriteError(w, apperror.Internal("encode transfer response", err))
		return
	}
	if err := h.idempotency.Complete(ctx, userID, key, fingerprint, body); err != nil {
		h.log.WithError(err).WithField("reference", result.Transfer.Reference.String()).Warn("Failed to store idempotent response")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Transactions lists an account's journal, newest first
// @Summary Transaction history
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param limit query int false "Maximum entries (omit for the full history, max 500)"
// @Success 200 {array} entryResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{accountId} [get]
func (h *LedgerHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	accountID, err := pathID(r, "accountId")
	if err != nil {
		services.WriteError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			services.WriteError(w, apperror.Validation("limit must be a positive integer"))
			return
		}
	}

	entries, err := h.journal.ListTransactions(r.Context(), accountID, userID, limit)
	if err != nil {
		services.WriteError(w, err)
		return
	}

	response := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, h.toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, response)
}
