package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruralpay/ledger/internal/middleware"
)

// Routes mounts the authenticated ledger API on r.
func Routes(r chi.Router, auth func(http.Handler) http.Handler, accounts *AccountHandler, ledger *LedgerHandler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.SecurityHeaders)

		r.Post("/accounts", accounts.OpenAccount)
		r.Get("/accounts", accounts.ListAccounts)
		r.Post("/transaction", ledger.Transaction)
		r.Post("/transfer", ledger.Transfer)
		r.Get("/transactions/{accountId}", ledger.Transactions)
	})
}
