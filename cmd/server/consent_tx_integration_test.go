//go:build integration

package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consentModels "carecore/internal/consent/models"
	consentservice "carecore/internal/consent/service"
	consentstore "carecore/internal/consent/store"
	"carecore/internal/encryption"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/requestcontext"
	"carecore/pkg/testutil/containers"
)

func TestConcurrentRenewalsCommitOnce(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	cipher, err := encryption.New(bytes.Repeat([]byte{8}, 32), encryption.NewKeyCache())
	require.NoError(t, err)
	ledger, err := consentservice.New(consentstore.NewPostgres(pg.DB), cipher,
		consentservice.WithTx(newConsentPostgresTx(pg.DB)),
	)
	require.NoError(t, err)

	ctx := requestcontext.WithTime(context.Background(), time.Now().UTC())
	c, err := ledger.Create(ctx, consentModels.CreateRequest{
		OrgID:              domain.NewOrgID(),
		ResidentID:         domain.NewResidentID(),
		Recipient:          "dr.okafor@clinic.example",
		Purpose:            "medication management",
		ScopeOfInformation: []string{"drug_test"},
	})
	require.NoError(t, err)
	_, err = ledger.Activate(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	_, err = ledger.Revoke(ctx, c.ID, "provider changed", domain.NewActorID())
	require.NoError(t, err)

	const attempts = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		renewed   int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Renew(ctx, c.ID, time.Now().Add(30*24*time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				renewed++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts++
			default:
				t.Errorf("unexpected renewal error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, renewed)
	assert.Equal(t, attempts-1, conflicts)
}
