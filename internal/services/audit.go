package services

import (
	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/apperror"
	"github.com/ruralpay/ledger/internal/models"
)

// AuditLogger writes one structured AUDIT entry per committed movement and
// per failed attempt.
type AuditLogger struct {
	log logrus.FieldLogger
}

func NewAuditLogger(log logrus.FieldLogger) *AuditLogger {
	return &AuditLogger{log: log}
}

func (a *AuditLogger) LogMutation(entry models.TransactionEntry, newBalance int64) {
	a.log.WithFields(logrus.Fields{
		"event_type":    string(entry.Kind),
		"entry_id":      entry.ID,
		"account_id":    entry.AccountID,
		"amount_minor":  entry.Amount,
		"delta_minor":   entry.Amount * entry.Kind.Sign(),
		"balance_minor": newBalance,
		"status":        "SUCCESS",
	}).Info("AUDIT")
}

func (a *AuditLogger) LogTransfer(result *models.TransferResult) {
	a.log.WithFields(logrus.Fields{
		"event_type":      "TRANSFER",
		"reference":       result.Transfer.Reference.String(),
		"from_account_id": result.Transfer.FromAccountID,
		"to_account_id":   result.Transfer.ToAccountID,
		"amount_minor":    result.Transfer.Amount,
		"status":          "SUCCESS",
	}).Info("AUDIT")
}

// LogError records a rejected or failed operation. Business rejections are
// logged at warn, store failures at error.
func (a *AuditLogger) LogError(operation string, accountID int64, err error) {
	entry := a.log.WithFields(logrus.Fields{
		"event_type": operation,
		"account_id": accountID,
		"status":     "FAILED",
		"kind":       string(apperror.KindOf(err)),
	}).WithError(err)

	if apperror.IsKind(err, apperror.KindInternal) {
		entry.Error("AUDIT")
		return
	}
	entry.Warn("AUDIT")
}
