package tree

import (
	"strings"

	"referral-tree/models"
)

// Filter keeps the nodes whose address contains substr (case-insensitive)
// together with every ancestor of such a node. An empty substr returns root
// unchanged; no match anywhere returns nil.
func Filter(root *models.TreeNode, substr string) *models.TreeNode {
	if substr == "" {
		return root
	}
	needle := strings.ToLower(substr)
	return prune(root, func(n *models.TreeNode) bool {
		return strings.Contains(strings.ToLower(n.Address), needle)
	})
}

// Apply filters root with every active predicate in f. A node is kept when it
// satisfies all of them or has a kept descendant.
func Apply(root *models.TreeNode, f models.Filters) *models.TreeNode {
	if root == nil {
		return nil
	}
	if isNoop(f) {
		return root
	}
	needle := strings.ToLower(f.Wallet)
	return prune(root, func(n *models.TreeNode) bool {
		if needle != "" && !strings.Contains(strings.ToLower(n.Address), needle) {
			return false
		}
		if !f.Balance.IsOpen() {
			bal, _ := n.Balance.Float64()
			if !f.Balance.Contains(bal) {
				return false
			}
		}
		if !f.Depth.IsOpen() && !f.Depth.Contains(float64(n.Depth)) {
			return false
		}
		switch f.Status {
		case models.StatusBalanced:
			return !n.IsUnbalanced
		case models.StatusUnbalanced:
			return n.IsUnbalanced
		}
		return true
	})
}

func isNoop(f models.Filters) bool {
	return f.Wallet == "" && f.Balance.IsOpen() && f.Depth.IsOpen() &&
		(f.Status == "" || f.Status == models.StatusAll)
}

// prune returns a copy of the subtree keeping matches and their ancestors.
func prune(n *models.TreeNode, match func(*models.TreeNode) bool) *models.TreeNode {
	if n == nil {
		return nil
	}

	left := prune(n.LeftChild, match)
	right := prune(n.RightChild, match)
	var children []*models.TreeNode
	for _, c := range n.Children {
		if kept := prune(c, match); kept != nil {
			children = append(children, kept)
		}
	}

	if !match(n) && left == nil && right == nil && len(children) == 0 {
		return nil
	}

	out := *n
	out.LeftChild = left
	out.RightChild = right
	out.Children = children
	return &out
}
