package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/currency"
	"github.com/ruralpay/ledger/internal/database"
)

// Drift is an account whose balance disagrees with its journal.
type Drift struct {
	AccountID     int64
	AccountNumber string
	Balance       int64
	JournalSum    int64
}

// Reconciler periodically checks that every balance equals the signed sum of
// its journal entries. It only reads.
type Reconciler struct {
	store   *database.Store
	codec   *currency.Codec
	log     logrus.FieldLogger
	cron    *cron.Cron
	timeout time.Duration
}

func NewReconciler(store *database.Store, codec *currency.Codec, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store:   store,
		codec:   codec,
		log:     log,
		cron:    cron.New(),
		timeout: 5 * time.Minute,
	}
}

func (r *Reconciler) Check(ctx context.Context) ([]Drift, error) {
	drifts := []Drift{}
	err := r.store.Read(ctx, func(q database.Querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT a.id, a.account_number, a.balance_minor,
				COALESCE(SUM(CASE WHEN t.transaction_type IN ('DEPOSIT', 'TRANSFER_IN')
					THEN t.amount_minor ELSE -t.amount_minor END), 0) AS journal_sum
			FROM accounts a
			LEFT JOIN transactions t ON t.account_id = a.id
			GROUP BY a.id, a.account_number, a.balance_minor
			HAVING a.balance_minor <> COALESCE(SUM(CASE WHEN t.transaction_type IN ('DEPOSIT', 'TRANSFER_IN')
				THEN t.amount_minor ELSE -t.amount_minor END), 0)
			ORDER BY a.id`)
		if err != nil {
			return database.Classify(err, "reconcile accounts")
		}
		defer rows.Close()

		for rows.Next() {
			var d Drift
			if err := rows.Scan(&d.AccountID, &d.AccountNumber, &d.Balance, &d.JournalSum); err != nil {
				return database.Classify(err, "scan drift")
			}
			drifts = append(drifts, d)
		}
		return database.Classify(rows.Err(), "reconcile accounts")
	})
	if err != nil {
		return nil, err
	}
	return drifts, nil
}

// Run performs one reconciliation pass and logs the outcome.
func (r *Reconciler) Run(ctx context.Context) {
	drifts, err := r.Check(ctx)
	if err != nil {
		r.log.WithError(err).Error("Ledger reconciliation failed")
		return
	}

	for _, d := range drifts {
		r.log.WithFields(logrus.Fields{
			"account_id":     d.AccountID,
			"account_number": d.AccountNumber,
			"balance":        r.codec.FromMinorUnits(d.Balance),
			"journal_sum":    r.codec.FromMinorUnits(d.JournalSum),
		}).Error("Ledger drift detected")
	}
	r.log.WithField("drifted_accounts", len(drifts)).Info("Ledger reconciliation finished")
}

// Start schedules Run on a cron spec such as "@every 1h".
func (r *Reconciler) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.Run(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and returns a context done when a running pass finishes.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}
