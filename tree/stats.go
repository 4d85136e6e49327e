package tree

import "referral-tree/models"

// ComputeStats derives the summary counters of a node.
func ComputeStats(n *models.ReferralNode) models.ReferralStats {
	referrals := 0
	if !models.IsZeroAddress(n.LeftChild) {
		referrals++
	}
	if !models.IsZeroAddress(n.RightChild) {
		referrals++
	}
	return models.ReferralStats{
		TotalReferrals: referrals,
		TotalBalance:   n.Balance,
		NetworkDepth:   n.Depth,
		IsUnbalanced:   n.UnbalancedAllowance,
	}
}
