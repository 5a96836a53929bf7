package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"aanmelden/internal/attendance"
)

const summarySheet = "Overzicht"

var (
	summaryHeader  = []string{"Dag", "Dagdeel", "Datum", "Capaciteit", "Bezet", "Beschikbaar", "Begeleiders", "Gesloten", "Bericht"}
	presenceHeader = []string{"Naam", "Aanwezig", "Via", "Strippen gebruikt", "Strippen totaal"}
)

// SlotSheetName names the sheet of one slot occurrence. Excel limits names to 31 characters.
func SlotSheetName(s attendance.SlotOverview) string {
	return fmt.Sprintf("%s-%s-%s", s.Name, s.Pod, s.Date.Format("2006-01-02"))
}

// Filename is the download name of a report generated at t.
func Filename(t time.Time) string {
	return fmt.Sprintf("aanmeldingen-%s.xlsx", t.Format("2006-01-02"))
}

func yesNo(b bool) string {
	if b {
		return "ja"
	}
	return "nee"
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func header(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c
	}
	return out
}

// Build renders the overview as a workbook: a summary sheet plus one sheet per slot.
func Build(ov attendance.Overview) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRow(f, summarySheet, 1, header(summaryHeader)); err != nil {
		return nil, err
	}
	for i, s := range ov.Slots {
		row := []any{s.Name, string(s.Pod), s.Date.Format("2006-01-02"), s.Capacity, s.Taken,
			s.Available, s.Tutors, yesNo(s.Closed), s.Message}
		if err := writeRow(f, summarySheet, i+2, row); err != nil {
			return nil, err
		}

		name := SlotSheetName(s)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("new sheet %s: %w", name, err)
		}
		if err := writeRow(f, name, 1, header(presenceHeader)); err != nil {
			return nil, err
		}
		for r, p := range s.Presence {
			row := []any{p.Name, yesNo(p.Seen), string(p.SeenBy), p.StripcardUsed, p.StripcardCount}
			if err := writeRow(f, name, r+2, row); err != nil {
				return nil, err
			}
		}
		if err := ApplyDefaultFormatting(f, name); err != nil {
			return nil, err
		}
	}
	if err := ApplyDefaultFormatting(f, summarySheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)
	return f, nil
}

// Write renders the overview straight to w.
func Write(w io.Writer, ov attendance.Overview) error {
	f, err := Build(ov)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
