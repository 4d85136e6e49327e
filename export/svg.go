package export

import (
	"fmt"
	"io"

	svg "github.com/ajstarks/svgo"

	"referral-tree/models"
)

const (
	svgNodeRadius = 18
	svgColWidth   = 140
	svgRowHeight  = 90
	svgPadding    = 40
)

type placed struct {
	node   *models.TreeNode
	x, y   int
	parent *placed
}

// layout assigns leaves consecutive columns and centres each parent over
// its children; rows follow tree level.
func layout(root *models.TreeNode) (nodes []*placed, cols, rows int) {
	var visit func(n *models.TreeNode, level int, parent *placed) *placed
	visit = func(n *models.TreeNode, level int, parent *placed) *placed {
		p := &placed{node: n, y: level, parent: parent}
		nodes = append(nodes, p)
		if level+1 > rows {
			rows = level + 1
		}

		var kids []*models.TreeNode
		for _, c := range []*models.TreeNode{n.LeftChild, n.RightChild} {
			if c != nil {
				kids = append(kids, c)
			}
		}
		kids = append(kids, n.Children...)

		if len(kids) == 0 {
			p.x = cols * 2
			cols++
			return p
		}
		first, last := 0, 0
		for i, c := range kids {
			cp := visit(c, level+1, p)
			if i == 0 {
				first = cp.x
			}
			last = cp.x
		}
		p.x = (first + last) / 2
		return p
	}
	if root != nil {
		visit(root, 0, nil)
	}
	return nodes, cols, rows
}

// errWriter remembers the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

// WriteSVG draws the tree: one circle per node, red when unbalanced, with
// edges to its children.
func WriteSVG(w io.Writer, root *models.TreeNode) error {
	nodes, cols, rows := layout(root)
	if cols == 0 {
		cols = 1
	}
	if rows == 0 {
		rows = 1
	}
	width := cols*svgColWidth + 2*svgPadding
	height := rows*svgRowHeight + 2*svgPadding

	pos := func(p *placed) (int, int) {
		return svgPadding + p.x*svgColWidth/2 + svgColWidth/2, svgPadding + p.y*svgRowHeight + svgNodeRadius
	}

	ew := &errWriter{w: w}
	canvas := svg.New(ew)
	canvas.Start(width, height)
	canvas.Title("Referral tree")
	canvas.Rect(0, 0, width, height, "fill:white")

	canvas.Gid("edges")
	for _, p := range nodes {
		if p.parent == nil {
			continue
		}
		x1, y1 := pos(p.parent)
		x2, y2 := pos(p)
		canvas.Line(x1, y1, x2, y2, "stroke:#9ca3af;stroke-width:2")
	}
	canvas.Gend()

	canvas.Gid("nodes")
	for _, p := range nodes {
		x, y := pos(p)
		fill := "#10b981"
		if p.node.IsUnbalanced {
			fill = "#ef4444"
		}
		canvas.Circle(x, y, svgNodeRadius, fmt.Sprintf("fill:%s;stroke:#111827;stroke-width:1", fill))
		canvas.Text(x, y+svgNodeRadius+14, shortAddress(p.node.Address), "text-anchor:middle;font-size:11px;font-family:monospace")
		canvas.Text(x, y+svgNodeRadius+27, p.node.Balance.StringFixed(4), "text-anchor:middle;font-size:10px;fill:#4b5563")
	}
	canvas.Gend()
	canvas.End()
	return ew.err
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
