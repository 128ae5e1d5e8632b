package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil)
	ctx := context.Background()

	var dest map[string]int
	assert.ErrorIs(t, repo.Get(ctx, "siga:course:c1:summary", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "siga:course:c1:summary", map[string]int{"seats": 3}, time.Minute))
	assert.NoError(t, repo.Delete(ctx, "siga:course:c1:summary"))
	assert.Error(t, repo.Ping(ctx))
}
