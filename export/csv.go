package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"referral-tree/models"
)

var csvHeader = []string{
	"Address", "Balance", "Depth", "Status", "Parent Address",
	"Left Child", "Right Child", "Start Time", "Start Time (ISO)",
}

// isoLayout mirrors JavaScript's Date.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// WriteCSV flattens the tree in pre-order (node, left, right, children)
// into one row per node.
func WriteCSV(w io.Writer, snap Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	var werr error
	snap.TreeData.Walk(func(n *models.TreeNode, parent string) {
		if werr != nil {
			return
		}
		werr = cw.Write(csvRow(snap, n, parent))
	})
	if werr != nil {
		return werr
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(snap Snapshot, n *models.TreeNode, parent string) []string {
	var left, right, start, startISO string
	if rec := snap.lookup(n.Address); rec != nil {
		if !models.IsZeroAddress(rec.LeftChild) {
			left = rec.LeftChild
		}
		if !models.IsZeroAddress(rec.RightChild) {
			right = rec.RightChild
		}
		if parent == "" && !models.IsZeroAddress(rec.Parent) {
			parent = rec.Parent
		}
		if rec.StartTime > 0 {
			start = strconv.FormatInt(rec.StartTime, 10)
			startISO = time.Unix(rec.StartTime, 0).UTC().Format(isoLayout)
		}
	}
	if left == "" && n.LeftChild != nil {
		left = n.LeftChild.Address
	}
	if right == "" && n.RightChild != nil {
		right = n.RightChild.Address
	}
	return []string{
		n.Address,
		n.Balance.StringFixed(6),
		strconv.FormatInt(n.Depth, 10),
		statusLabel(n.IsUnbalanced),
		parent,
		left,
		right,
		start,
		startISO,
	}
}

// WriteJSON dumps the whole snapshot, for backup and debugging.
func WriteJSON(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
