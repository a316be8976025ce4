package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carecore/internal/audit"
	"carecore/internal/platform/database"
	"carecore/pkg/domain"
	"carecore/pkg/platform/sentinel"
	platformtx "carecore/pkg/platform/tx"
)

const entryColumns = `id, org_id, actor_id, actor_type, action, resource_type, resource_id,
	sensitivity, description, old_value, new_value, previous_hash, current_hash, created_at`

// Store keeps org chains in the audit_log table. seq is the chain order.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Tip(ctx context.Context, orgID domain.OrgID) (*audit.Entry, error) {
	return s.one(ctx, platformtx.Pick(ctx, s.db), `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE org_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, uuid.UUID(orgID))
}

// AppendIfTip serializes appends per org with a transaction-scoped advisory
// lock, re-reads the tip and inserts only if it still matches. The unique
// (org_id, previous_hash) index rejects any fork that slips past the lock.
func (s *Store) AppendIfTip(ctx context.Context, entry audit.Entry, expectedTip string) error {
	return platformtx.Run(ctx, s.db, func(ctx context.Context) error {
		q := platformtx.Pick(ctx, s.db)
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, entry.OrgID.String()); err != nil {
			return fmt.Errorf("lock audit chain: %w", err)
		}

		var current string
		err := q.QueryRowContext(ctx, `
			SELECT current_hash FROM audit_log WHERE org_id = $1 ORDER BY seq DESC LIMIT 1
		`, uuid.UUID(entry.OrgID)).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read audit tip: %w", err)
		}
		if current != expectedTip {
			return fmt.Errorf("chain tip moved: %w", sentinel.ErrConflict)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO audit_log (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			uuid.UUID(entry.ID), uuid.UUID(entry.OrgID), entry.ActorID, entry.ActorType, entry.Action,
			entry.ResourceType, entry.ResourceID, entry.Sensitivity, entry.Description,
			entry.OldValue, entry.NewValue, entry.PreviousHash, entry.CurrentHash, entry.CreatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("insert audit entry: %w", sentinel.ErrConflict)
			}
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}

func (s *Store) Anchor(ctx context.Context, orgID domain.OrgID, before time.Time) (*audit.Entry, error) {
	return s.one(ctx, platformtx.Pick(ctx, s.db), `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE org_id = $1 AND created_at < $2
		ORDER BY seq DESC
		LIMIT 1
	`, uuid.UUID(orgID), before)
}

func (s *Store) ListRange(ctx context.Context, orgID domain.OrgID, from, to time.Time) ([]audit.Entry, error) {
	rows, err := platformtx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE org_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY seq
	`, uuid.UUID(orgID), from, to)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func (s *Store) one(ctx context.Context, q platformtx.Executor, query string, args ...any) (*audit.Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit entry: %w", err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*audit.Entry, error) {
	var (
		e         audit.Entry
		id, orgID uuid.UUID
	)
	err := row.Scan(&id, &orgID, &e.ActorID, &e.ActorType, &e.Action, &e.ResourceType, &e.ResourceID,
		&e.Sensitivity, &e.Description, &e.OldValue, &e.NewValue, &e.PreviousHash, &e.CurrentHash, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ID = domain.AuditEntryID(id)
	e.OrgID = domain.OrgID(orgID)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
