package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/internal/tenant/models"
	"carecore/pkg/domain"
	"carecore/pkg/platform/sentinel"
)

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgres(db), mock
}

func TestPostgresCreateMapsDuplicateName(t *testing.T) {
	store, mock := newMock(t)
	org, err := models.NewOrganization(domain.NewOrgID(), "Cedar", time.Now())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO organizations`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err = store.CreateIfNameAvailable(context.Background(), org)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestPostgresFindByID(t *testing.T) {
	store, mock := newMock(t)
	orgID := domain.NewOrgID()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM organizations WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"}).
			AddRow(orgID.String(), "Cedar", "suspended", now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM organizations WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"}))

	org, err := store.FindByID(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, orgID, org.ID)
	assert.Equal(t, models.StatusSuspended, org.Status)

	_, err = store.FindByID(context.Background(), domain.NewOrgID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresExecuteLocksAndUpdates(t *testing.T) {
	store, mock := newMock(t)
	orgID := domain.NewOrgID()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"}).
			AddRow(orgID.String(), "Cedar", "active", now, now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE organizations SET status = $2`)).
		WithArgs(sqlmock.AnyArg(), "suspended", now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	org, err := store.Execute(context.Background(), orgID,
		func(o *models.Organization) error { return o.CanSuspend() },
		func(o *models.Organization) { o.ApplySuspension(now.Add(time.Hour)) })
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, org.Status)
}
