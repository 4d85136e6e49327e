// Package export renders the dashboard's current tree and stats as CSV,
// JSON, PDF or SVG artifacts.
package export

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"referral-tree/metrics"
	"referral-tree/models"
	"referral-tree/store"
)

// Format selects the artifact type.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	PDF  Format = "pdf"
	SVG  Format = "svg"
)

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("export: unknown format")

// ErrNoData is returned when there is no current node to export.
var ErrNoData = errors.New("export: no referral data loaded")

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON, PDF, SVG:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case JSON:
		return "application/json"
	case PDF:
		return "application/pdf"
	case SVG:
		return "image/svg+xml"
	}
	return "application/octet-stream"
}

// Filename is the download name of an artifact generated at now.
func Filename(f Format, now time.Time) string {
	return fmt.Sprintf("referral-tree-%s.%s", now.UTC().Format("2006-01-02"), f)
}

// Snapshot is the data exported at one point in time
type Snapshot struct {
	CurrentNode *models.ReferralNode           `json:"currentNode"`
	ParentNode  *models.ReferralNode           `json:"parentNode"`
	ChildNodes  map[string]models.ReferralNode `json:"childNodes"`
	Stats       *models.ReferralStats          `json:"stats"`
	TreeData    *models.TreeNode               `json:"treeData"`
	GeneratedAt time.Time                      `json:"exportedAt"`
}

// FromState captures a store state.
func FromState(st store.State, now time.Time) Snapshot {
	return Snapshot{
		CurrentNode: st.CurrentNode,
		ParentNode:  st.ParentNode,
		ChildNodes:  st.ChildNodes,
		Stats:       st.Stats,
		TreeData:    st.TreeData,
		GeneratedAt: now,
	}
}

// lookup finds the full node record behind a tree address.
func (s Snapshot) lookup(address string) *models.ReferralNode {
	for _, n := range []*models.ReferralNode{s.CurrentNode, s.ParentNode} {
		if n != nil && strings.EqualFold(n.Player, address) {
			return n
		}
	}
	if n, ok := s.ChildNodes[address]; ok {
		return &n
	}
	for k, n := range s.ChildNodes {
		if strings.EqualFold(k, address) {
			n := n
			return &n
		}
	}
	return nil
}

// Children lists, sorted, the addresses of ChildNodes other than the current
// and parent nodes.
func (s Snapshot) Children() []string {
	out := make([]string, 0, len(s.ChildNodes))
	for a := range s.ChildNodes {
		if s.isCoreNode(a) {
			continue
		}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s Snapshot) isCoreNode(address string) bool {
	for _, n := range []*models.ReferralNode{s.CurrentNode, s.ParentNode} {
		if n != nil && strings.EqualFold(n.Player, address) {
			return true
		}
	}
	return false
}

// Write renders snap in format f to w.
func Write(w io.Writer, f Format, snap Snapshot) error {
	if snap.CurrentNode == nil {
		return ErrNoData
	}
	var err error
	switch f {
	case CSV:
		err = WriteCSV(w, snap)
	case JSON:
		err = WriteJSON(w, snap)
	case PDF:
		err = WritePDF(w, snap)
	case SVG:
		err = WriteSVG(w, snap.TreeData)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err == nil {
		metrics.Exports.WithLabelValues(string(f)).Inc()
	}
	return err
}

func statusLabel(unbalanced bool) string {
	if unbalanced {
		return "Unbalanced"
	}
	return "Balanced"
}
