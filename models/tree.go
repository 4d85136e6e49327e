package models

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// TreeNode is the display projection of one or more ReferralNodes
type TreeNode struct {
	Address      string          `json:"address"`
	Balance      decimal.Decimal `json:"balance"`
	Depth        int64           `json:"depth"`
	IsUnbalanced bool            `json:"isUnbalanced"`
	IsExpanded   bool            `json:"isExpanded"`
	LeftChild    *TreeNode       `json:"leftChild"`
	RightChild   *TreeNode       `json:"rightChild"`
	Children     []*TreeNode     `json:"children,omitempty"` // only set when the root is the parent node
}

// Walk visits the tree in pre-order: node, left, right, then children.
// parent is "" for the root.
func (t *TreeNode) Walk(fn func(n *TreeNode, parent string)) {
	t.walk("", fn)
}

func (t *TreeNode) walk(parent string, fn func(n *TreeNode, parent string)) {
	if t == nil {
		return
	}
	fn(t, parent)
	t.LeftChild.walk(t.Address, fn)
	t.RightChild.walk(t.Address, fn)
	for _, c := range t.Children {
		c.walk(t.Address, fn)
	}
}

// Count returns the number of nodes in the tree.
func (t *TreeNode) Count() int {
	n := 0
	t.Walk(func(*TreeNode, string) { n++ })
	return n
}

// ReferralStats are the summary counters derived from a ReferralNode
type ReferralStats struct {
	TotalReferrals int             `json:"totalReferrals"`
	TotalBalance   decimal.Decimal `json:"totalBalance"`
	NetworkDepth   int64           `json:"networkDepth"`
	IsUnbalanced   bool            `json:"isUnbalanced"`
}

// StatusFilter selects nodes by balance state.
type StatusFilter string

const (
	StatusAll        StatusFilter = "all"
	StatusBalanced   StatusFilter = "balanced"
	StatusUnbalanced StatusFilter = "unbalanced"
)

// Valid reports whether s is one of the known filters.
func (s StatusFilter) Valid() bool {
	switch s {
	case StatusAll, StatusBalanced, StatusUnbalanced:
		return true
	}
	return false
}

// Range is an inclusive numeric range. Max of +Inf means unbounded.
type Range struct {
	Min float64
	Max float64
}

// NoRange is the "no filter" sentinel.
func NoRange() Range {
	return Range{Min: 0, Max: math.Inf(1)}
}

// IsOpen reports whether the range filters nothing.
func (r Range) IsOpen() bool {
	return r.Min <= 0 && math.IsInf(r.Max, 1)
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

type rangeJSON struct {
	Min float64  `json:"min"`
	Max *float64 `json:"max"`
}

// MarshalJSON encodes an unbounded max as null since JSON has no infinity.
func (r Range) MarshalJSON() ([]byte, error) {
	out := rangeJSON{Min: r.Min}
	if !math.IsInf(r.Max, 1) {
		max := r.Max
		out.Max = &max
	}
	return json.Marshal(out)
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var in rangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Min = in.Min
	r.Max = math.Inf(1)
	if in.Max != nil {
		r.Max = *in.Max
	}
	return nil
}

// Filters are the predicates applied to the displayed tree
type Filters struct {
	Wallet  string       `json:"walletFilter"`
	Balance Range        `json:"balanceFilter"`
	Depth   Range        `json:"depthFilter"`
	Status  StatusFilter `json:"statusFilter"`
}

// DefaultFilters returns filters that match everything.
func DefaultFilters() Filters {
	return Filters{
		Wallet:  "",
		Balance: NoRange(),
		Depth:   NoRange(),
		Status:  StatusAll,
	}
}

// Point is a 2D offset.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
