package report

import (
	"github.com/xuri/excelize/v2"
)

// ApplyDefaultFormatting applies a bold header, an auto-filter on row 1 and an
// approximate auto-width for every populated column.
func ApplyDefaultFormatting(f *excelize.File, sheet string) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	if cols == 0 {
		return nil
	}
	last, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}

	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(sheet, "A1", last+"1", style)
	}
	_ = f.AutoFilter(sheet, "A1:"+last+"1", nil)

	widths := make([]float64, cols)
	for c := range widths {
		widths[c] = 10
	}
	for rIdx, row := range rows {
		for cIdx, v := range row {
			w := float64(len([]rune(v))) * 1.1
			if rIdx == 0 {
				w += 1.5
			}
			if w > 60 {
				w = 60
			}
			if w > widths[cIdx] {
				widths[cIdx] = w
			}
		}
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, w)
	}
	return nil
}
