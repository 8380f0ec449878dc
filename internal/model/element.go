package model

import "strings"

// ElementType classifies an OCR element within a page.
type ElementType string

const (
	ElementPage        ElementType = "PAGE"
	ElementLine        ElementType = "LINE"
	ElementWord        ElementType = "WORD"
	ElementTable       ElementType = "TABLE"
	ElementCell        ElementType = "CELL"
	ElementMergedCell  ElementType = "MERGED_CELL"
	ElementSelection   ElementType = "SELECTION_ELEMENT"
	ElementKeyValueSet ElementType = "KEY_VALUE_SET"
	ElementQuery       ElementType = "QUERY"
	ElementQueryResult ElementType = "QUERY_RESULT"
)

// IsLayout reports whether the element is a layout marker (LAYOUT_TEXT,
// LAYOUT_TITLE, LAYOUT_FIGURE, ...).
func (t ElementType) IsLayout() bool {
	return strings.HasPrefix(string(t), "LAYOUT_")
}

// IsCell reports whether the element belongs inside a table grid.
func (t ElementType) IsCell() bool {
	return t == ElementCell || t == ElementMergedCell
}

// Element is one OCR output unit in document order. Cells reference their
// owning table through ParentID and carry grid coordinates.
type Element struct {
	ID              string      `json:"id"`
	Type            ElementType `json:"type"`
	Text            string      `json:"text,omitempty"`
	Confidence      float64     `json:"confidence,omitempty"`
	Page            int         `json:"page,omitempty"`
	ParentID        string      `json:"parent_id,omitempty"`
	RowIndex        int         `json:"row_index,omitempty"`
	ColumnIndex     int         `json:"column_index,omitempty"`
	EntityTypes     []string    `json:"entity_types,omitempty"`
	SelectionStatus string      `json:"selection_status,omitempty"`
}

// ConfidenceStats summarizes OCR confidence over a set of elements.
type ConfidenceStats struct {
	Avg        float64 `json:"avg"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	BlockCount int     `json:"block_count"`
}

// ComputeConfidenceStats aggregates confidence over elements that carry a
// confidence score. Elements with zero confidence (structural markers) are
// excluded from the min/avg so they do not drag the stats down.
func ComputeConfidenceStats(elements []Element) ConfidenceStats {
	var stats ConfidenceStats
	stats.BlockCount = len(elements)

	var sum float64
	n := 0
	for _, el := range elements {
		if el.Confidence <= 0 {
			continue
		}
		if n == 0 || el.Confidence < stats.Min {
			stats.Min = el.Confidence
		}
		if el.Confidence > stats.Max {
			stats.Max = el.Confidence
		}
		sum += el.Confidence
		n++
	}
	if n > 0 {
		stats.Avg = sum / float64(n)
	}
	return stats
}
