// Package tree builds, filters and summarises the display tree of a referral node.
package tree

import (
	"github.com/shopspring/decimal"

	"referral-tree/models"
)

// Build returns the display tree for current. When parent is a real node the
// parent becomes the root and current its only child; otherwise current is
// the root.
//
// expanded is accepted for callers that track collapse state but is not
// consulted: every node is built expanded.
func Build(current *models.ReferralNode, expanded map[string]struct{}, parent *models.ReferralNode) *models.TreeNode {
	_ = expanded
	if current == nil {
		return nil
	}

	main := buildMain(current)
	if parent == nil || models.IsZeroAddress(parent.Player) {
		return main
	}

	return &models.TreeNode{
		Address:      parent.Player,
		Balance:      parent.Balance,
		Depth:        parent.Depth,
		IsUnbalanced: parent.UnbalancedAllowance,
		IsExpanded:   true,
		Children:     []*models.TreeNode{main},
	}
}

func buildMain(n *models.ReferralNode) *models.TreeNode {
	return &models.TreeNode{
		Address:      n.Player,
		Balance:      n.Balance,
		Depth:        n.Depth,
		IsUnbalanced: n.UnbalancedAllowance,
		IsExpanded:   true,
		LeftChild:    placeholder(n.LeftChild, n.Depth+1),
		RightChild:   placeholder(n.RightChild, n.Depth+1),
	}
}

// placeholder stands in for a child whose details need another chain read.
func placeholder(addr string, depth int64) *models.TreeNode {
	if models.IsZeroAddress(addr) {
		return nil
	}
	return &models.TreeNode{
		Address:      addr,
		Balance:      decimal.Zero,
		Depth:        depth,
		IsUnbalanced: true,
		IsExpanded:   true,
	}
}
