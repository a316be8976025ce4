package main

import (
	"context"
	"database/sql"
	"time"

	consentservice "carecore/internal/consent/service"
	consentstore "carecore/internal/consent/store"
	dErrors "carecore/pkg/domain-errors"
)

const defaultConsentTxTimeout = 5 * time.Second

// consentPostgresTx runs consent renewals inside one database transaction so
// the source lookup and the new row commit together.
type consentPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB) *consentPostgresTx {
	return &consentPostgresTx{db: db, timeout: defaultConsentTxTimeout}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, fn func(store consentservice.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin consent transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(consentstore.NewPostgresTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit consent transaction")
	}
	return nil
}
