package tree_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tree/models"
	"referral-tree/tree"
)

func sampleNode() *models.ReferralNode {
	return &models.ReferralNode{
		StartTime:           1700000000,
		Balance:             decimal.NewFromInt(5),
		Point:               10,
		Depth:               2,
		Player:              "0xPLAYER",
		Parent:              "0xPARENT",
		LeftChild:           models.ZeroAddress,
		RightChild:          "0xRIGHT",
		UnbalancedAllowance: true,
	}
}

func parentNode() *models.ReferralNode {
	return &models.ReferralNode{
		Balance:    decimal.NewFromInt(1),
		Depth:      1,
		Player:     "0xPARENT",
		Parent:     models.ZeroAddress,
		LeftChild:  "0xPLAYER",
		RightChild: models.ZeroAddress,
	}
}

func TestBuild_WithParent(t *testing.T) {
	root := tree.Build(sampleNode(), nil, parentNode())
	require.NotNil(t, root)

	assert.Equal(t, "0xPARENT", root.Address)
	assert.Equal(t, "1", root.Balance.String())
	assert.Equal(t, int64(1), root.Depth)
	assert.Nil(t, root.LeftChild)
	assert.Nil(t, root.RightChild)
	require.Len(t, root.Children, 1)

	main := root.Children[0]
	assert.Equal(t, "0xPLAYER", main.Address)
	assert.True(t, main.IsUnbalanced)
	assert.True(t, main.IsExpanded)
	assert.Nil(t, main.LeftChild)
	require.NotNil(t, main.RightChild)
	assert.Equal(t, "0xRIGHT", main.RightChild.Address)
	assert.Equal(t, int64(3), main.RightChild.Depth)
	assert.True(t, main.RightChild.Balance.IsZero())
	assert.True(t, main.RightChild.IsUnbalanced)
}

func TestBuild_WithoutParent(t *testing.T) {
	zeroParent := parentNode()
	zeroParent.Player = models.ZeroAddress

	for name, parent := range map[string]*models.ReferralNode{"nil": nil, "zero": zeroParent} {
		t.Run(name, func(t *testing.T) {
			root := tree.Build(sampleNode(), nil, parent)
			require.NotNil(t, root)
			assert.Equal(t, "0xPLAYER", root.Address)
			assert.Nil(t, root.Children)
		})
	}
}

func TestBuild_IgnoresExpandedSet(t *testing.T) {
	collapsed := map[string]struct{}{}
	root := tree.Build(sampleNode(), collapsed, nil)
	root.Walk(func(n *models.TreeNode, _ string) {
		assert.True(t, n.IsExpanded, n.Address)
	})
	assert.Nil(t, tree.Build(nil, nil, parentNode()))
}

func TestFilter_Addresses(t *testing.T) {
	full := tree.Build(sampleNode(), nil, parentNode())

	assert.Same(t, full, tree.Filter(full, ""))

	got := tree.Filter(full, "player")
	require.NotNil(t, got)
	assert.Equal(t, "0xPARENT", got.Address)
	require.Len(t, got.Children, 1)
	assert.Equal(t, "0xPLAYER", got.Children[0].Address)

	assert.Nil(t, tree.Filter(full, "zzz"))
}

func TestFilter_AncestorPreservationAndIdempotence(t *testing.T) {
	full := tree.Build(sampleNode(), nil, parentNode())

	once := tree.Filter(full, "RIGHT")
	require.NotNil(t, once)
	assert.Equal(t, "0xPARENT", once.Address)
	require.Len(t, once.Children, 1)
	require.NotNil(t, once.Children[0].RightChild)
	assert.Equal(t, "0xRIGHT", once.Children[0].RightChild.Address)

	twice := tree.Filter(once, "RIGHT")
	assert.Equal(t, once, twice)
	assert.Equal(t, 3, twice.Count())

	// the source tree is not modified
	assert.Equal(t, 3, full.Count())
}

func TestApply(t *testing.T) {
	full := tree.Build(sampleNode(), nil, parentNode())

	assert.Same(t, full, tree.Apply(full, models.DefaultFilters()))

	f := models.DefaultFilters()
	f.Status = models.StatusBalanced
	got := tree.Apply(full, f)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Count())

	f = models.DefaultFilters()
	f.Depth = models.Range{Min: 3, Max: 3}
	got = tree.Apply(full, f)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Count())
	assert.Equal(t, "0xRIGHT", got.Children[0].RightChild.Address)

	f = models.DefaultFilters()
	f.Balance = models.Range{Min: 4, Max: 6}
	f.Wallet = "play"
	got = tree.Apply(full, f)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Count())

	f.Wallet = "parent"
	assert.Nil(t, tree.Apply(full, f))
}

func TestComputeStats(t *testing.T) {
	n := sampleNode()
	stats := tree.ComputeStats(n)
	assert.Equal(t, 1, stats.TotalReferrals)
	assert.Equal(t, "5", stats.TotalBalance.String())
	assert.Equal(t, int64(2), stats.NetworkDepth)
	assert.True(t, stats.IsUnbalanced)

	n.LeftChild = "0xLEFT"
	assert.Equal(t, 2, tree.ComputeStats(n).TotalReferrals)

	n.LeftChild, n.RightChild = models.ZeroAddress, ""
	assert.Equal(t, 0, tree.ComputeStats(n).TotalReferrals)
}
