package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"referral-tree/models"
)

// SetSelectedNode selects address; "" clears the selection.
func (s *Store) SetSelectedNode(address string) {
	s.update(false, func(st *State) bool {
		st.SelectedNode = address
		return true
	})
}

// SetZoomLevel sets the zoom, clamped to [MinZoom, MaxZoom].
func (s *Store) SetZoomLevel(zoom float64) {
	s.update(true, func(st *State) bool {
		st.ZoomLevel = clampZoom(zoom)
		return true
	})
}

// SetPanOffset sets the view offset.
func (s *Store) SetPanOffset(p models.Point) {
	s.update(true, func(st *State) bool {
		st.PanOffset = p
		return true
	})
}

// SetWalletFilter sets the address substring filter.
func (s *Store) SetWalletFilter(substr string) {
	s.update(true, func(st *State) bool {
		st.Filters.Wallet = substr
		return true
	})
}

// SetBalanceFilter sets the balance range filter.
func (s *Store) SetBalanceFilter(r models.Range) {
	s.update(true, func(st *State) bool {
		st.Filters.Balance = r
		return true
	})
}

// SetDepthFilter sets the depth range filter.
func (s *Store) SetDepthFilter(r models.Range) {
	s.update(true, func(st *State) bool {
		st.Filters.Depth = r
		return true
	})
}

// SetStatusFilter sets the status filter. Unknown values select all.
func (s *Store) SetStatusFilter(f models.StatusFilter) {
	if !f.Valid() {
		f = models.StatusAll
	}
	s.update(true, func(st *State) bool {
		st.Filters.Status = f
		return true
	})
}

// SetFilters replaces every filter at once.
func (s *Store) SetFilters(f models.Filters) {
	if !f.Status.Valid() {
		f.Status = models.StatusAll
	}
	s.update(true, func(st *State) bool {
		st.Filters = f
		return true
	})
}

// ClearFilters resets every filter to its "no filter" value.
func (s *Store) ClearFilters() {
	s.update(true, func(st *State) bool {
		st.Filters = models.DefaultFilters()
		return true
	})
}

func clampZoom(z float64) float64 {
	switch {
	case math.IsNaN(z):
		return DefaultZoom
	case z < MinZoom:
		return MinZoom
	case z > MaxZoom:
		return MaxZoom
	}
	return z
}

// persistedState is the on-disk form of the persisted subset.
type persistedState struct {
	WalletFilter  string              `json:"walletFilter"`
	BalanceFilter models.Range        `json:"balanceFilter"`
	DepthFilter   models.Range        `json:"depthFilter"`
	StatusFilter  models.StatusFilter `json:"statusFilter"`
	ZoomLevel     float64             `json:"zoomLevel"`
	PanOffset     models.Point        `json:"panOffset"`
	ExpandedNodes []string            `json:"expandedNodes"`
}

// MarshalPersisted encodes the persisted subset of st. The expanded set is
// written as a sorted list.
func MarshalPersisted(st State) ([]byte, error) {
	expanded := make([]string, 0, len(st.ExpandedNodes))
	for addr := range st.ExpandedNodes {
		expanded = append(expanded, addr)
	}
	sort.Strings(expanded)

	return json.Marshal(persistedState{
		WalletFilter:  st.Filters.Wallet,
		BalanceFilter: st.Filters.Balance,
		DepthFilter:   st.Filters.Depth,
		StatusFilter:  st.Filters.Status,
		ZoomLevel:     st.ZoomLevel,
		PanOffset:     st.PanOffset,
		ExpandedNodes: expanded,
	})
}

// UnmarshalPersisted decodes data into the persisted fields of st and
// rebuilds the expanded set. Missing fields take their defaults.
func UnmarshalPersisted(data []byte, st *State) error {
	in := persistedState{
		BalanceFilter: models.NoRange(),
		DepthFilter:   models.NoRange(),
		StatusFilter:  models.StatusAll,
		ZoomLevel:     DefaultZoom,
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("store: decode persisted state: %w", err)
	}
	if !in.StatusFilter.Valid() {
		in.StatusFilter = models.StatusAll
	}

	st.Filters = models.Filters{
		Wallet:  in.WalletFilter,
		Balance: in.BalanceFilter,
		Depth:   in.DepthFilter,
		Status:  in.StatusFilter,
	}
	st.ZoomLevel = clampZoom(in.ZoomLevel)
	st.PanOffset = in.PanOffset
	st.ExpandedNodes = make(map[string]struct{}, len(in.ExpandedNodes))
	for _, addr := range in.ExpandedNodes {
		st.ExpandedNodes[addr] = struct{}{}
	}
	return nil
}
