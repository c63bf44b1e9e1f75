package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/common/pgtest"
)

func TestPostgresRepository(t *testing.T) {
	connStr, _ := pgtest.Start(t, "../../migrations")

	repo, err := NewPostgresRepository(context.Background(), connStr, 4)
	require.NoError(t, err)
	defer repo.Close()

	testRepositoryContract(t, repo)
}

func TestPostgresRepository_SharedPoolStaysOpen(t *testing.T) {
	_, pool := pgtest.Start(t, "../../migrations")

	repo := NewPostgresRepositoryFromPool(pool)
	assert.Same(t, pool, repo.Pool())
	require.NoError(t, repo.Close())
	assert.NoError(t, pool.Ping(context.Background()))
}

func TestNewPostgresRepository_BadConnString(t *testing.T) {
	_, err := NewPostgresRepository(context.Background(), "postgres://%zz", 0)
	assert.Error(t, err)
}
