package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-pdf/fpdf"

	"referral-tree/models"
)

// ErrPDF is wrapped by every PDF generation failure.
var ErrPDF = errors.New("failed to generate PDF report")

const (
	pdfMargin     = 15.0
	pdfLineHeight = 7.0
)

type pdfReport struct {
	pdf        *fpdf.Fpdf
	pageHeight float64
}

// WritePDF renders a multi-section report: title, generation date, summary
// stats, current node, parent node when present, and the child node list.
func WritePDF(w io.Writer, snap Snapshot) (err error) {
	defer func() {
		// fpdf panics on some malformed input
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPDF, r)
		}
	}()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Referral Tree Report", false)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	_, pageHeight := pdf.GetPageSize()
	r := &pdfReport{pdf: pdf, pageHeight: pageHeight}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	r.line("Referral Tree Report")
	pdf.SetFont("Helvetica", "", 10)
	r.line("Generated: " + snap.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	r.gap()

	if snap.Stats != nil {
		r.heading("Summary")
		r.field("Total balance", snap.Stats.TotalBalance.StringFixed(4))
		r.field("Network depth", strconv.FormatInt(snap.Stats.NetworkDepth, 10))
		r.field("Direct referrals", strconv.Itoa(snap.Stats.TotalReferrals))
		r.field("Status", statusLabel(snap.Stats.IsUnbalanced))
		r.gap()
	}

	r.heading("Current Node")
	r.node(snap.CurrentNode)
	r.gap()

	if snap.ParentNode != nil {
		r.heading("Parent Node")
		r.node(snap.ParentNode)
		r.gap()
	}

	if children := snap.Children(); len(children) > 0 {
		r.heading(fmt.Sprintf("Child Nodes (%d)", len(children)))
		for i, a := range children {
			n := snap.ChildNodes[a]
			r.line(fmt.Sprintf("%d. %s  balance %s  depth %d  %s",
				i+1, a, n.Balance.StringFixed(4), n.Depth, statusLabel(n.UnbalancedAllowance)))
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPDF, err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("%w: %v", ErrPDF, err)
	}
	return nil
}

// ensureSpace starts a new page when the next line would cross the bottom margin.
func (r *pdfReport) ensureSpace() {
	if r.pdf.GetY()+pdfLineHeight > r.pageHeight-pdfMargin {
		r.pdf.AddPage()
	}
}

func (r *pdfReport) line(text string) {
	r.ensureSpace()
	r.pdf.CellFormat(0, pdfLineHeight, text, "", 1, "L", false, 0, "")
}

func (r *pdfReport) heading(text string) {
	r.pdf.SetFont("Helvetica", "B", 13)
	r.line(text)
	r.pdf.SetFont("Helvetica", "", 10)
}

func (r *pdfReport) field(label, value string) {
	r.line(label + ": " + value)
}

func (r *pdfReport) gap() {
	r.pdf.Ln(pdfLineHeight / 2)
}

func (r *pdfReport) node(n *models.ReferralNode) {
	if n == nil {
		r.line("(none)")
		return
	}
	r.field("Address", n.Player)
	r.field("Balance", n.Balance.StringFixed(6))
	r.field("Depth", strconv.FormatInt(n.Depth, 10))
	r.field("Points", strconv.FormatInt(n.Point, 10))
	r.field("Left branch depth", strconv.FormatInt(n.DepthLeftBranch, 10))
	r.field("Right branch depth", strconv.FormatInt(n.DepthRightBranch, 10))
	r.field("Parent", orNone(n.Parent))
	r.field("Left child", orNone(n.LeftChild))
	r.field("Right child", orNone(n.RightChild))
	r.field("Status", statusLabel(n.UnbalancedAllowance))
}

func orNone(addr string) string {
	if models.IsZeroAddress(addr) {
		return "none"
	}
	return addr
}
