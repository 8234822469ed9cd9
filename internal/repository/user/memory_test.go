package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/pharmadesk/internal/entity"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.FindByUsername(ctx, "mohuser")
	assert.ErrorIs(t, err, ErrNotFound)

	u := &entity.User{Username: "mohuser", Email: "mohuser@moh.gov", Role: "moh", Subrole: "viewer"}
	require.NoError(t, repo.Insert(ctx, u))
	assert.NotEmpty(t, u.ID)

	got, err := repo.FindByUsername(ctx, "mohuser")
	require.NoError(t, err)
	assert.Equal(t, "moh", got.Role)
	assert.Equal(t, u.ID, got.ID)

	assert.Error(t, repo.Insert(ctx, &entity.User{Username: "mohuser"}))
}
