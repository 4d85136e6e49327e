package repository_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tree/db"
	"referral-tree/models"
	"referral-tree/repository"
)

func newRepo(t *testing.T) *repository.NodeRepository {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	return repository.NewNodeRepository(ldb)
}

func TestNodeRepository_Nodes(t *testing.T) {
	repo := newRepo(t)

	a := &models.ReferralNode{Player: "0xAA", Balance: decimal.RequireFromString("1.5"), Depth: 1}
	b := &models.ReferralNode{Player: "0xBB", Balance: decimal.NewFromInt(2), Depth: 2}
	require.NoError(t, repo.PutNode(a))
	require.NoError(t, repo.PutNodes([]*models.ReferralNode{b}))

	got, err := repo.GetNode("0xaa")
	require.NoError(t, err)
	assert.Equal(t, "1.5", got.Balance.String())
	assert.Equal(t, int64(1), got.Depth)

	all, err := repo.GetAllNodes()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.ClearNodes())
	_, err = repo.GetNode("0xAA")
	assert.True(t, db.IsNotFound(err))
}

func TestNodeRepository_State(t *testing.T) {
	repo := newRepo(t)

	data, err := repo.LoadState()
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, repo.SaveState([]byte(`{"zoomLevel":2}`)))
	require.NoError(t, repo.ClearNodes())

	data, err = repo.LoadState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"zoomLevel":2}`, string(data))
}
