// Package chunk turns a flat OCR element stream into size-bounded text
// chunks for LLM normalization. Every element is rendered exactly once:
// table cells fold into their table marker, everything else renders inline
// in stream order.
package chunk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cario/title-extract/internal/model"
)

// Chunk is one contiguous slice of rendered document text plus the ids of
// the elements it covers.
type Chunk struct {
	Index      int
	Text       string
	ElementIDs []string
}

// DefaultMaxChars matches the budget used for title documents in practice.
const DefaultMaxChars = 18000

// Build renders elements into chunks of at most maxChars characters. Cells
// are grouped under their parent table by row and column; the remaining
// element types render in stream order. A single unit larger than maxChars
// becomes its own oversized chunk rather than being split mid-element.
func Build(elements []model.Element, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	// Cells may arrive after their table in the stream, so index first.
	cellsByTable := make(map[string][]model.Element)
	tablesSeen := make(map[string]bool)
	for _, e := range elements {
		if e.Type.IsCell() {
			cellsByTable[e.ParentID] = append(cellsByTable[e.ParentID], e)
		}
		if e.Type == model.ElementTable {
			tablesSeen[e.ID] = true
		}
	}

	var chunks []Chunk
	var sb strings.Builder
	var ids []string

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       sb.String(),
			ElementIDs: ids,
		})
		sb.Reset()
		ids = nil
	}

	for _, e := range elements {
		if e.Type.IsCell() {
			continue
		}
		text, covered := renderElement(e, cellsByTable)
		if text == "" {
			continue
		}
		if sb.Len() > 0 && sb.Len()+len(text) > maxChars {
			flush()
		}
		sb.WriteString(text)
		sb.WriteString("\n")
		ids = append(ids, covered...)
	}

	// Cells whose table marker never made it into the stream (confidence
	// filtering can drop the TABLE while its cells pass) still render, as
	// synthetic tables after the main pass.
	orphanTables := make([]string, 0)
	for tableID := range cellsByTable {
		if !tablesSeen[tableID] {
			orphanTables = append(orphanTables, tableID)
		}
	}
	sort.Strings(orphanTables)
	for _, tableID := range orphanTables {
		cells := cellsByTable[tableID]
		text := "[TABLE] (Table detected)\n" + strings.TrimRight(renderTableRows(cells), "\n")
		if sb.Len() > 0 && sb.Len()+len(text) > maxChars {
			flush()
		}
		sb.WriteString(text)
		sb.WriteString("\n")
		for _, cell := range cells {
			ids = append(ids, cell.ID)
		}
	}
	flush()

	return chunks
}

// renderElement produces the text for one element and the ids it covers.
// Tables cover their cells as well as themselves. Unknown types fall back
// to "[TYPE] text" so nothing in the stream is silently dropped.
func renderElement(e model.Element, cellsByTable map[string][]model.Element) (string, []string) {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Type))
	sb.WriteString("] ")

	covered := []string{e.ID}

	if e.Text != "" && e.Type != model.ElementQuery {
		sb.WriteString(e.Text)
		sb.WriteString(" ")
	}

	switch {
	case e.Type == model.ElementSelection:
		sb.WriteString("Selected: ")
		sb.WriteString(e.SelectionStatus)
		sb.WriteString(" ")
	case e.Type == model.ElementTable:
		sb.WriteString("(Table detected)\n")
		cells := cellsByTable[e.ID]
		sb.WriteString(renderTableRows(cells))
		for _, cell := range cells {
			covered = append(covered, cell.ID)
		}
	case e.Type == model.ElementPage:
		sb.WriteString("(Page break) ")
	case e.Type == model.ElementKeyValueSet:
		sb.WriteString("(Form field) ")
		if len(e.EntityTypes) > 0 {
			sb.WriteString("EntityTypes=")
			sb.WriteString(strings.Join(e.EntityTypes, ","))
			sb.WriteString(" ")
		}
	case e.Type == model.ElementQuery:
		sb.WriteString("Query: ")
		sb.WriteString(e.Text)
		sb.WriteString(" ")
	case e.Type == model.ElementQueryResult:
		sb.WriteString("Answer: ")
		sb.WriteString(e.Text)
		sb.WriteString(" ")
	case e.Type.IsLayout():
		sb.WriteString("(Layout element) ")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" || text == "["+string(e.Type)+"]" {
		return "", nil
	}
	return text, covered
}

// renderTableRows lays cells out as " | a | b |" lines grouped by row index
// and ordered by column index.
func renderTableRows(cells []model.Element) string {
	if len(cells) == 0 {
		return ""
	}

	rows := make(map[int][]model.Element)
	for _, cell := range cells {
		rows[cell.RowIndex] = append(rows[cell.RowIndex], cell)
	}

	rowIndexes := make([]int, 0, len(rows))
	for idx := range rows {
		rowIndexes = append(rowIndexes, idx)
	}
	sort.Ints(rowIndexes)

	var sb strings.Builder
	for _, idx := range rowIndexes {
		row := rows[idx]
		sort.SliceStable(row, func(i, j int) bool { return row[i].ColumnIndex < row[j].ColumnIndex })

		fmt.Fprintf(&sb, "  Row %d: ", idx)
		for _, cell := range row {
			txt := strings.TrimSpace(cell.Text)
			if txt == "" {
				txt = " "
			}
			sb.WriteString(" | ")
			sb.WriteString(txt)
		}
		sb.WriteString(" |\n")
	}
	return sb.String()
}
