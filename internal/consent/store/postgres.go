package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"carecore/internal/consent/models"
	"carecore/internal/platform/database"
	"carecore/pkg/domain"
	"carecore/pkg/platform/sentinel"
	platformtx "carecore/pkg/platform/tx"
)

const consentColumns = `id, org_id, resident_id, status, recipient, recipient_digest, purpose,
	scope_of_information, granted_at, expires_at, revoked_at, revocation_reason, revoked_by,
	renewed_from, created_at, updated_at`

// PostgresStore persists consents in PostgreSQL. When built with
// NewPostgresTx every statement runs on the supplied transaction.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to an open transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

func (s *PostgresStore) q(ctx context.Context) platformtx.Executor {
	if s.tx != nil {
		return s.tx
	}
	return platformtx.Pick(ctx, s.db)
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Consent) error {
	query := `
		INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text[], $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.OrgID), uuid.UUID(c.ResidentID), string(c.Status),
		c.Recipient, c.RecipientDigest, c.Purpose, pq.Array(c.ScopeOfInformation),
		nullTime(c.GrantedAt), nullTime(c.ExpiresAt), nullTime(c.RevokedAt), c.RevocationReason,
		nullActor(c.RevokedBy), nullConsent(c.RenewedFrom), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert consent: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ConsentID) (*models.Consent, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consents WHERE id = $1`, uuid.UUID(id))
	c, err := scanConsent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, orgID domain.OrgID, residentID domain.ResidentID, recipientDigest string) ([]*models.Consent, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE org_id = $1 AND resident_id = $2 AND recipient_digest = $3
		ORDER BY created_at DESC
	`
	return s.list(ctx, query, uuid.UUID(orgID), uuid.UUID(residentID), recipientDigest)
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]*models.Consent, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE status = $1 AND revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at
	`
	return s.list(ctx, query, string(models.StatusActive), now)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Consent, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var out []*models.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return out, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, validates, mutates and
// writes back inside one transaction.
func (s *PostgresStore) Execute(ctx context.Context, id domain.ConsentID, validate func(*models.Consent) error, mutate func(*models.Consent)) (*models.Consent, error) {
	var result *models.Consent
	run := func(ctx context.Context, q platformtx.Executor) error {
		row := q.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consents WHERE id = $1 FOR UPDATE`, uuid.UUID(id))
		c, err := scanConsent(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock consent: %w", err)
		}
		if err := validate(c); err != nil {
			return err
		}
		mutate(c)
		_, err = q.ExecContext(ctx, `
			UPDATE consents
			SET status = $2, granted_at = $3, expires_at = $4, revoked_at = $5,
				revocation_reason = $6, revoked_by = $7, updated_at = $8
			WHERE id = $1
		`, uuid.UUID(c.ID), string(c.Status), nullTime(c.GrantedAt), nullTime(c.ExpiresAt),
			nullTime(c.RevokedAt), c.RevocationReason, nullActor(c.RevokedBy), c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update consent: %w", err)
		}
		result = c
		return nil
	}

	if s.tx != nil {
		if err := run(ctx, s.tx); err != nil {
			return nil, err
		}
		return result, nil
	}
	err := platformtx.Run(ctx, s.db, func(ctx context.Context) error {
		return run(ctx, platformtx.Pick(ctx, s.db))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConsent(row scanner) (*models.Consent, error) {
	var (
		c                         models.Consent
		id, orgID, residentID     uuid.UUID
		status                    string
		scope                     []string
		grantedAt, expires, revAt sql.NullTime
		revokedBy, renewedFrom    uuid.NullUUID
	)
	err := row.Scan(
		&id, &orgID, &residentID, &status, &c.Recipient, &c.RecipientDigest, &c.Purpose,
		pq.Array(&scope), &grantedAt, &expires, &revAt, &c.RevocationReason, &revokedBy,
		&renewedFrom, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ID = domain.ConsentID(id)
	c.OrgID = domain.OrgID(orgID)
	c.ResidentID = domain.ResidentID(residentID)
	c.Status = models.Status(status)
	c.ScopeOfInformation = scope
	c.GrantedAt = timePtr(grantedAt)
	c.ExpiresAt = timePtr(expires)
	c.RevokedAt = timePtr(revAt)
	if revokedBy.Valid {
		v := domain.ActorID(revokedBy.UUID)
		c.RevokedBy = &v
	}
	if renewedFrom.Valid {
		v := domain.ConsentID(renewedFrom.UUID)
		c.RenewedFrom = &v
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullActor(id *domain.ActorID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}

func nullConsent(id *domain.ConsentID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}
