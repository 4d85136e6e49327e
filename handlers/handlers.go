package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-tree/chain"
	"referral-tree/dashboard"
	"referral-tree/export"
	"referral-tree/logger"
	"referral-tree/models"
	"referral-tree/perf"
)

// RefreshInterval is the minimum time between two forced refreshes.
const RefreshInterval = time.Second

// Row defaults for GetTreeRows.
const (
	defaultViewportHeight = 600
	defaultRowHeight      = 32
	defaultOverscan       = 5

	// maxQueryValue bounds every numeric GetTreeRows parameter.
	maxQueryValue = 1e7
)

// Subscriber manages live update subscriptions. *socket.Client implements it.
type Subscriber interface {
	Subscribe(address string) bool
	Unsubscribe(address string) bool
	Subscriptions() []string
}

// Handler contains the HTTP handlers for the referral dashboard API
type Handler struct {
	Dashboard *dashboard.Service
	Socket    Subscriber
	Now       func() time.Time

	refresh *perf.Throttle
}

// NewHandler creates and returns a new Handler instance. socket may be nil
// when the process runs without live updates.
func NewHandler(d *dashboard.Service, socket Subscriber) *Handler {
	return &Handler{
		Dashboard: d,
		Socket:    socket,
		Now:       time.Now,
		refresh:   perf.NewThrottle(RefreshInterval),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// loadStatus maps dashboard load errors to HTTP status codes.
func loadStatus(err error) int {
	switch {
	case errors.Is(err, chain.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrNodeNotFound), errors.Is(err, dashboard.ErrNoAddress):
		return http.StatusNotFound
	case errors.Is(err, dashboard.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, dashboard.ErrSuperseded):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

// GetNode handles GET requests that load an address and return its node
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := h.Dashboard.Load(r.Context(), address); err != nil {
		logger.Logger.Error("Failed to load referral node", zap.String("address", address), zap.Error(err))
		writeError(w, loadStatus(err), err.Error())
		return
	}

	st := h.Dashboard.Store().State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node":        st.CurrentNode,
		"parent":      st.ParentNode,
		"stats":       st.Stats,
		"lastUpdated": st.LastUpdated,
	})
}

// Refresh handles POST requests that reload the current address from the
// chain, ignoring the cache. Requests closer together than RefreshInterval
// are rejected.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var err error
	ran := h.refresh.Do(func() { err = h.Dashboard.Refresh(r.Context()) })
	if !ran {
		writeError(w, http.StatusTooManyRequests, "refresh already requested, try again shortly")
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to refresh referral node", zap.Error(err))
		writeError(w, loadStatus(err), err.Error())
		return
	}

	st := h.Dashboard.Store().State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Refreshed",
		"address":     h.Dashboard.Address(),
		"lastUpdated": st.LastUpdated,
	})
}

// GetTree handles GET requests for the filtered display tree
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	st := h.Dashboard.Store().State()
	if st.TreeData == nil {
		writeError(w, http.StatusNotFound, "no referral tree loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tree":         h.Dashboard.FilteredTree(),
		"filters":      st.Filters,
		"expanded":     expandedList(st.ExpandedNodes),
		"selectedNode": st.SelectedNode,
	})
}

// treeRow is one line of the flattened tree list.
type treeRow struct {
	Address      string          `json:"address"`
	Parent       string          `json:"parent"`
	Level        int             `json:"level"`
	Balance      decimal.Decimal `json:"balance"`
	Depth        int64           `json:"depth"`
	IsUnbalanced bool            `json:"isUnbalanced"`
}

func flatten(root *models.TreeNode) []treeRow {
	rows := []treeRow{}
	var visit func(n *models.TreeNode, parent string, level int)
	visit = func(n *models.TreeNode, parent string, level int) {
		if n == nil {
			return
		}
		rows = append(rows, treeRow{
			Address:      n.Address,
			Parent:       parent,
			Level:        level,
			Balance:      n.Balance,
			Depth:        n.Depth,
			IsUnbalanced: n.IsUnbalanced,
		})
		visit(n.LeftChild, n.Address, level+1)
		visit(n.RightChild, n.Address, level+1)
		for _, c := range n.Children {
			visit(c, n.Address, level+1)
		}
	}
	visit(root, "", 0)
	return rows
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.Abs(f) > maxQueryValue {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return f, nil
}

// GetTreeRows handles GET requests for the visible window of the filtered
// tree flattened in pre-order, for list views of large trees
func (h *Handler) GetTreeRows(w http.ResponseWriter, r *http.Request) {
	scrollTop, err := queryFloat(r, "scrollTop", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewport, err := queryFloat(r, "viewportHeight", defaultViewportHeight)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rowHeight, err := queryFloat(r, "rowHeight", defaultRowHeight)
	if err != nil || rowHeight <= 0 {
		writeError(w, http.StatusBadRequest, "rowHeight must be a positive number")
		return
	}
	overscan, err := queryFloat(r, "overscan", defaultOverscan)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows := flatten(h.Dashboard.FilteredTree())
	win := perf.VisibleRange(scrollTop, viewport, rowHeight, len(rows), int(overscan))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"window": win,
		"total":  len(rows),
		"rows":   rows[win.Start:win.End],
	})
}

func expandedList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetStats handles GET requests for the summary counters of the loaded node
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	st := h.Dashboard.Store().State()
	if st.Stats == nil {
		writeError(w, http.StatusNotFound, "no referral node loaded")
		return
	}
	writeJSON(w, http.StatusOK, st.Stats)
}

// ToggleNode handles POST requests that expand or collapse a tree node
func (h *Handler) ToggleNode(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	expanded := h.Dashboard.ToggleExpanded(address)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  address,
		"expanded": expanded,
	})
}

// SetFilters handles PUT requests replacing the tree filters. Omitted fields
// keep their "no filter" value.
func (h *Handler) SetFilters(w http.ResponseWriter, r *http.Request) {
	f := models.DefaultFilters()
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		logger.Logger.Error("Failed to decode filters", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if f.Status == "" {
		f.Status = models.StatusAll
	}
	if !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status filter %q", f.Status))
		return
	}

	h.Dashboard.Store().SetFilters(f)
	writeJSON(w, http.StatusOK, h.Dashboard.Store().State().Filters)
}

// ClearFilters handles DELETE requests resetting every filter
func (h *Handler) ClearFilters(w http.ResponseWriter, r *http.Request) {
	h.Dashboard.Store().ClearFilters()
	writeJSON(w, http.StatusOK, h.Dashboard.Store().State().Filters)
}

type viewRequest struct {
	ZoomLevel    *float64      `json:"zoomLevel"`
	PanOffset    *models.Point `json:"panOffset"`
	SelectedNode *string       `json:"selectedNode"`
}

// SetView handles PUT requests updating zoom, pan and selection
func (h *Handler) SetView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode view", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	s := h.Dashboard.Store()
	if req.ZoomLevel != nil {
		s.SetZoomLevel(*req.ZoomLevel)
	}
	if req.PanOffset != nil {
		s.SetPanOffset(*req.PanOffset)
	}
	if req.SelectedNode != nil {
		s.SetSelectedNode(*req.SelectedNode)
	}

	st := s.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zoomLevel":    st.ZoomLevel,
		"panOffset":    st.PanOffset,
		"selectedNode": st.SelectedNode,
	})
}

// GetCache handles GET requests reporting cache freshness
func (h *Handler) GetCache(w http.ResponseWriter, r *http.Request) {
	s := h.Dashboard.Store()
	st := s.State()
	resp := map[string]interface{}{
		"valid":        s.IsCacheValid(),
		"cacheExpiry":  st.CacheExpiry.String(),
		"childNodes":   len(st.ChildNodes),
		"isConnected":  st.IsConnected,
		"lastUpdated":  nil,
		"lastActivity": nil,
	}
	if !st.LastUpdated.IsZero() {
		resp["lastUpdated"] = st.LastUpdated
	}
	if !st.LastActivity.IsZero() {
		resp["lastActivity"] = st.LastActivity
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache handles DELETE requests dropping cached node data
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.Dashboard.ClearCache()
	logger.Logger.Info("Referral cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cache cleared"})
}

// Export handles GET requests rendering the loaded tree as a download
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.CSV)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.Now()
	snap := export.FromState(h.Dashboard.Store().State(), now)
	var buf bytes.Buffer
	if err := export.Write(&buf, format, snap); err != nil {
		if errors.Is(err, export.ErrNoData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		logger.Logger.Error("Failed to export referral tree", zap.String("format", string(format)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(format, now)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Subscribe handles POST requests subscribing to live updates for an address
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.subscription(w, r, true)
}

// Unsubscribe handles DELETE requests dropping a live update subscription
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	h.subscription(w, r, false)
}

func (h *Handler) subscription(w http.ResponseWriter, r *http.Request, subscribe bool) {
	if h.Socket == nil {
		writeError(w, http.StatusServiceUnavailable, "live updates are disabled")
		return
	}
	address := mux.Vars(r)["address"]
	if !chain.IsAddress(address) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", address))
		return
	}

	var sent bool
	if subscribe {
		sent = h.Socket.Subscribe(address)
	} else {
		sent = h.Socket.Unsubscribe(address)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":       address,
		"sent":          sent,
		"subscriptions": h.Socket.Subscriptions(),
	})
}
