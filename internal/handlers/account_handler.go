package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/currency"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

// AccountManager is the part of services.AccountService the HTTP layer uses.
type AccountManager interface {
	OpenAccount(ctx context.Context, userID int64, initialDeposit string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]models.Account, error)
}

type AccountHandler struct {
	accounts  AccountManager
	codec     *currency.Codec
	validator *services.ValidationHelper
	log       logrus.FieldLogger
}

func NewAccountHandler(accounts AccountManager, codec *currency.Codec, log logrus.FieldLogger) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		codec:     codec,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

type accountResponse struct {
	AccountID     int64     `json:"account_id"`
	AccountNumber string    `json:"account_number"`
	Balance       string    `json:"balance"`
	Display       string    `json:"balance_display"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *AccountHandler) toResponse(a models.Account) accountResponse {
	return accountResponse{
		AccountID:     a.ID,
		AccountNumber: a.AccountNumber,
		Balance:       h.codec.FromMinorUnits(a.Balance),
		Display:       h.codec.Display(a.Balance),
		Currency:      h.codec.Currency(),
		CreatedAt:     a.CreatedAt,
	}
}

// OpenAccount opens a new account for the caller
// @Summary Open account
// @Description Open an account with a generated account number and an optional initial deposit
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{initial_deposit=string} false "Account opening request"
// @Success 201 {object} object{message=string,account=accountResponse}
// @Failure 400 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /accounts [post]
func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		InitialDeposit Amount `json:"initial_deposit"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, h.validator, &req) {
		return
	}

	account, err := h.accounts.OpenAccount(r.Context(), userID, string(req.InitialDeposit))
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Warn("Account opening failed")
		services.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Account created successfully",
		"account": h.toResponse(*account),
	})
}

// ListAccounts lists the caller's accounts
// @Summary List accounts
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} accountResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /accounts [get]
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	accounts, err := h.accounts.ListAccounts(r.Context(), userID)
	if err != nil {
		services.WriteError(w, err)
		return
	}

	response := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		response = append(response, h.toResponse(a))
	}
	writeJSON(w, http.StatusOK, response)
}
