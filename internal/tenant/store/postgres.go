package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"carecore/internal/platform/database"
	"carecore/internal/tenant/models"
	"carecore/pkg/domain"
	"carecore/pkg/platform/sentinel"
	platformtx "carecore/pkg/platform/tx"
)

const orgColumns = `id, name, status, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateIfNameAvailable relies on the lower(name) unique index.
func (s *PostgresStore) CreateIfNameAvailable(ctx context.Context, org *models.Organization) error {
	_, err := platformtx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO organizations (`+orgColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(org.ID), org.Name, string(org.Status), org.CreatedAt, org.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert organization: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, orgID domain.OrgID) (*models.Organization, error) {
	row := platformtx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, uuid.UUID(orgID))
	org, err := scanOrganization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return org, nil
}

// Execute locks the row with SELECT ... FOR UPDATE for the validate and
// mutate callbacks.
func (s *PostgresStore) Execute(ctx context.Context, orgID domain.OrgID, validate func(*models.Organization) error, mutate func(*models.Organization)) (*models.Organization, error) {
	var result *models.Organization
	err := platformtx.Run(ctx, s.db, func(ctx context.Context) error {
		q := platformtx.Pick(ctx, s.db)
		org, err := scanOrganization(q.QueryRowContext(ctx,
			`SELECT `+orgColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, uuid.UUID(orgID)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock organization: %w", err)
		}
		if err := validate(org); err != nil {
			return err
		}
		mutate(org)
		if _, err := q.ExecContext(ctx,
			`UPDATE organizations SET status = $2, updated_at = $3 WHERE id = $1`,
			uuid.UUID(org.ID), string(org.Status), org.UpdatedAt); err != nil {
			return fmt.Errorf("update organization: %w", err)
		}
		result = org
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner) (*models.Organization, error) {
	var (
		org    models.Organization
		id     uuid.UUID
		status string
	)
	if err := row.Scan(&id, &org.Name, &status, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	org.ID = domain.OrgID(id)
	org.Status = models.Status(status)
	return &org, nil
}
