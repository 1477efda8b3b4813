package report

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Workbook sheet names.
const (
	SheetSummary   = "Summary"
	SheetDecisions = "Decisions"
	SheetFailures  = "Failures"
	SheetWarnings  = "Warnings"
)

// SaveXLSX writes r as a workbook for operators who review runs in a
// spreadsheet.
func SaveXLSX(path string, r Report) error {
	f := xlsx.NewFile()

	sheets := []struct {
		name string
		rows [][]string
	}{
		{SheetSummary, summaryRows(r)},
		{SheetDecisions, decisionRows(r)},
		{SheetFailures, failureRows(r)},
		{SheetWarnings, warningRows(r)},
	}
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet %s", s.name)
		}
		for _, cells := range s.rows {
			row := sheet.AddRow()
			for _, v := range cells {
				row.AddCell().SetString(v)
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func summaryRows(r Report) [][]string {
	c := r.Counts
	return [][]string{
		{"Metric", "Value"},
		{"run_id", r.RunID},
		{"started_at", r.StartedAt.Format("2006-01-02 15:04:05")},
		{"finished_at", r.FinishedAt.Format("2006-01-02 15:04:05")},
		{"dry_run", strconv.FormatBool(r.DryRun)},
		{"cancelled", strconv.FormatBool(r.Cancelled)},
		{"pairs_considered", strconv.Itoa(c.PairsConsidered)},
		{"updated", strconv.Itoa(c.Updated)},
		{"planned", strconv.Itoa(c.Planned)},
		{"skipped_no_change", strconv.Itoa(c.SkippedNoChange)},
		{"skipped_no_match", strconv.Itoa(c.SkippedNoMatch)},
		{"skipped_missing", strconv.Itoa(c.SkippedMissing)},
		{"failed", strconv.Itoa(c.Failed)},
		{"collisions", strconv.Itoa(c.Collisions)},
		{"soft_misses", strconv.Itoa(c.SoftMisses)},
		{"source_short_phone", strconv.Itoa(c.SourceShortPhone)},
		{"source_superseded", strconv.Itoa(c.SourceSuperseded)},
	}
}

func decisionRows(r Report) [][]string {
	rows := [][]string{{"Target ID", "Source ID", "Phone", "Outcome", "Changes", "Locked", "Misses", "Error"}}
	for _, d := range r.Decisions {
		misses := make([]string, len(d.Misses))
		for i, m := range d.Misses {
			misses[i] = m.Field + ":" + string(m.Kind) + ":" + m.Value
		}
		rows = append(rows, []string{
			d.TargetID,
			d.SourceID,
			d.Phone,
			string(d.Outcome),
			formatChanges(d.Changes),
			strings.Join(d.Locked, ", "),
			strings.Join(misses, ", "),
			d.Error,
		})
	}
	return rows
}

func failureRows(r Report) [][]string {
	rows := [][]string{{"Target ID", "Error Type", "Error"}}
	for _, f := range r.Failures {
		rows = append(rows, []string{f.TargetID, f.ErrorType, f.Error})
	}
	return rows
}

func warningRows(r Report) [][]string {
	rows := [][]string{{"Type", "Store", "Kind", "Key", "Kept ID", "Kept Name", "Dropped ID", "Dropped Name"}}
	for _, c := range r.Collisions {
		rows = append(rows, []string{"collision", c.Store, string(c.Kind), c.Key, c.KeptID, c.KeptName, c.DroppedID, c.DroppedRaw})
	}
	for _, id := range r.MissingIDs {
		rows = append(rows, []string{"missing", "target", "", "", id, "", "", ""})
	}
	return rows
}
