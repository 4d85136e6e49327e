package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ZeroAddress is the on-chain sentinel for "no account".
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// IsZeroAddress reports whether addr is empty or the zero address.
func IsZeroAddress(addr string) bool {
	return addr == "" || strings.EqualFold(addr, ZeroAddress)
}

// ReferralNode is one account's position in the on-chain referral graph
type ReferralNode struct {
	StartTime           int64           `json:"startTime"` // unix seconds
	Balance             decimal.Decimal `json:"balance"`   // raw / 10^6
	Point               int64           `json:"point"`
	DepthLeftBranch     int64           `json:"depthLeftBranch"`
	DepthRightBranch    int64           `json:"depthRightBranch"`
	Depth               int64           `json:"depth"`
	Player              string          `json:"player"`
	Parent              string          `json:"parent"`
	LeftChild           string          `json:"leftChild"`
	RightChild          string          `json:"rightChild"`
	IsPointChanged      bool            `json:"isPointChanged"`
	UnbalancedAllowance bool            `json:"unbalancedAllowance"`
}

// HasParent reports whether the node references a non-zero parent.
func (n *ReferralNode) HasParent() bool {
	return n != nil && !IsZeroAddress(n.Parent)
}

// NodePatch carries the fields a live update may change. Nil fields are left alone.
type NodePatch struct {
	Balance             *decimal.Decimal `json:"balance,omitempty"`
	Depth               *int64           `json:"depth,omitempty"`
	UnbalancedAllowance *bool            `json:"unbalancedAllowance,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p NodePatch) Empty() bool {
	return p.Balance == nil && p.Depth == nil && p.UnbalancedAllowance == nil
}

// Apply returns a copy of n with the patch merged in.
func (p NodePatch) Apply(n ReferralNode) ReferralNode {
	if p.Balance != nil {
		n.Balance = *p.Balance
	}
	if p.Depth != nil {
		n.Depth = *p.Depth
	}
	if p.UnbalancedAllowance != nil {
		n.UnbalancedAllowance = *p.UnbalancedAllowance
	}
	return n
}

// NodeUpdate pairs an address with a full node, used for batch writes.
type NodeUpdate struct {
	Address string       `json:"address"`
	Node    ReferralNode `json:"node"`
}
