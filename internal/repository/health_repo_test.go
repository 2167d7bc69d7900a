package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/gen_go_server/internal/model"
	"github.com/qs3c/gen_go_server/internal/testutil"
)

func TestHealthRepository_Upsert(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewHealthRepository(db)

	require.NoError(t, repo.Upsert(&model.ProviderHealthRecord{
		Provider: "a", Capability: "image", State: model.HealthHealthy, Successes: 3, LastCheckedAt: time.Now(),
	}))
	require.NoError(t, repo.Upsert(&model.ProviderHealthRecord{
		Provider: "a", Capability: "image", State: model.HealthDown, Failures: 4, ConsecutiveFailures: 3, LastCheckedAt: time.Now(),
	}))
	require.NoError(t, repo.Upsert(&model.ProviderHealthRecord{
		Provider: "a", Capability: "video", State: model.HealthHealthy, LastCheckedAt: time.Now(),
	}))

	found, err := repo.Get("a", "image")
	require.NoError(t, err)
	assert.Equal(t, model.HealthDown, found.State)
	assert.Equal(t, int64(4), found.Failures)
	assert.Equal(t, int64(3), found.ConsecutiveFailures)

	all, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
