package export_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tree/export"
	"referral-tree/models"
	"referral-tree/tree"
)

var generated = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot() export.Snapshot {
	current := &models.ReferralNode{
		StartTime: 1700000000, Balance: decimal.NewFromInt(5), Point: 10, Depth: 2,
		Player: "0xPLAYER", Parent: "0xPARENT", LeftChild: models.ZeroAddress, RightChild: "0xRIGHT",
		UnbalancedAllowance: true,
	}
	parent := &models.ReferralNode{
		Balance: decimal.NewFromInt(1), Depth: 1,
		Player: "0xPARENT", Parent: models.ZeroAddress, LeftChild: "0xPLAYER", RightChild: models.ZeroAddress,
	}
	stats := tree.ComputeStats(current)
	return export.Snapshot{
		CurrentNode: current,
		ParentNode:  parent,
		ChildNodes: map[string]models.ReferralNode{
			"0xRIGHT": {Player: "0xRIGHT", Balance: decimal.RequireFromString("0.25"), Depth: 3, Parent: "0xPLAYER"},
		},
		Stats:       &stats,
		TreeData:    tree.Build(current, nil, parent),
		GeneratedAt: generated,
	}
}

func TestParseFormat(t *testing.T) {
	f, err := export.ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, export.CSV, f)
	assert.Equal(t, "text/csv", f.ContentType())

	_, err = export.ParseFormat("xlsx")
	assert.ErrorIs(t, err, export.ErrUnknownFormat)

	assert.Equal(t, "referral-tree-2024-03-01.pdf", export.Filename(export.PDF, generated))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, export.CSV, snapshot()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Address", rows[0][0])

	// pre-order: parent root, main node, its right child
	assert.Equal(t, []string{"0xPARENT", "1.000000", "1", "Balanced", "", "0xPLAYER", "", "", ""}, rows[1])
	assert.Equal(t, []string{
		"0xPLAYER", "5.000000", "2", "Unbalanced", "0xPARENT", "", "0xRIGHT",
		"1700000000", "2023-11-14T22:13:20.000Z",
	}, rows[2])
	assert.Equal(t, "0xRIGHT", rows[3][0])
	assert.Equal(t, "0xPLAYER", rows[3][4])
	assert.Equal(t, "3", rows[3][2])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, export.JSON, snapshot()))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "5", out["currentNode"].(map[string]any)["balance"])
	assert.Contains(t, out["childNodes"], "0xRIGHT")
	assert.Equal(t, "0xPARENT", out["treeData"].(map[string]any)["address"])
	assert.Equal(t, "2024-03-01T12:00:00Z", out["exportedAt"])
}

func TestWritePDF(t *testing.T) {
	snap := snapshot()
	for i := 0; i < 120; i++ {
		addr := "0xCHILD" + strings.Repeat("0", 3) + string(rune('A'+i%26)) + string(rune('a'+i/26))
		snap.ChildNodes[addr] = models.ReferralNode{Player: addr, Balance: decimal.NewFromInt(int64(i)), Depth: 4}
	}

	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, export.PDF, snap))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	// one "/Type /Pages" root plus one "/Type /Page" per page
	assert.GreaterOrEqual(t, bytes.Count(buf.Bytes(), []byte("/Type /Page")), 3, "long child lists span pages")
}

func TestSnapshot_Children(t *testing.T) {
	snap := snapshot()
	snap.ChildNodes["0xplayer"] = *snap.CurrentNode
	snap.ChildNodes["0xPARENT"] = *snap.ParentNode
	snap.ChildNodes["0xLEFT"] = models.ReferralNode{Player: "0xLEFT"}

	assert.Equal(t, []string{"0xLEFT", "0xRIGHT"}, snap.Children(), "current and parent are listed in their own sections")
	assert.Empty(t, export.Snapshot{}.Children())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWritePDF_Failure(t *testing.T) {
	err := export.WritePDF(failingWriter{}, snapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrPDF)
	assert.Contains(t, err.Error(), "failed to generate PDF report")
}

func TestWriteSVG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, export.SVG, snapshot()))
	out := buf.String()
	assert.Contains(t, out, "<svg")
	assert.Equal(t, 3, strings.Count(out, "<circle"))
	assert.Equal(t, 2, strings.Count(out, "<line"))
	assert.Contains(t, out, "#ef4444")

	assert.Error(t, export.WriteSVG(failingWriter{}, snapshot().TreeData))
}

func TestWrite_NoData(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, export.Write(&buf, export.CSV, export.Snapshot{}), export.ErrNoData)
	assert.ErrorIs(t, export.Write(&buf, export.Format("doc"), snapshot()), export.ErrUnknownFormat)
}
