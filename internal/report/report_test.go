package report

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-reconciler/internal/converge"
	"github.com/sells-group/lead-reconciler/internal/match"
	"github.com/sells-group/lead-reconciler/internal/merge"
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/refindex"
)

func sampleReport(t *testing.T) Report {
	t.Helper()
	b := NewBuilder(false)
	b.AddCollisions("target", []refindex.Collision{
		{Kind: model.CategoryLeadSource, Key: "facebook", KeptID: "A", KeptName: "Facebook", DroppedID: "B", DroppedRaw: "facebook"},
	})
	b.AddMatch(match.Result{
		Pairs:            make([]match.Pair, 3),
		Unmatched:        []string{"t9"},
		SourceShortPhone: 2,
		SourceSuperseded: 1,
	})

	b.AddDecision(
		merge.Plan{TargetID: "t1", SourceID: "s1", Phone: "11988887777", Changes: model.ChangeSet{"corretor": "Ana"}},
		converge.Result{TargetID: "t1", Outcome: converge.OutcomeUpdated},
	)
	b.AddDecision(
		merge.Plan{
			TargetID: "t2", SourceID: "s2", Phone: "11977776666",
			Changes: model.ChangeSet{"corretor": "Bia"},
			Misses: []merge.Miss{
				{Field: "empreendimento_id", Kind: merge.MissTargetName, Value: "Parque Lua"},
			},
		},
		converge.Result{TargetID: "t2", Outcome: converge.OutcomeFailed, Error: "connection reset by peer", ErrorType: "transient"},
	)
	b.AddDecision(
		merge.Plan{
			TargetID: "t3", SourceID: "s3", Phone: "11966665555",
			Locked:   []string{"corretor"},
			Misses: []merge.Miss{
				{Field: "empreendimento_id", Kind: merge.MissTargetName, Value: "Parque Lua"},
				{Field: "source_id", Kind: merge.MissSourceRef, Value: "x"},
			},
		},
		converge.Result{TargetID: "t3", Outcome: converge.OutcomeSkippedNoChange},
	)
	b.AddMissing("gone")
	return b.Finish()
}

func TestBuilder_Counts(t *testing.T) {
	r := sampleReport(t)

	assert.NotEmpty(t, r.RunID)
	assert.False(t, r.StartedAt.IsZero())
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
	assert.Equal(t, Counts{
		PairsConsidered:  3,
		Updated:          1,
		SkippedNoChange:  1,
		SkippedNoMatch:   1,
		SkippedMissing:   1,
		Failed:           1,
		Collisions:       1,
		SoftMisses:       3,
		SourceShortPhone: 2,
		SourceSuperseded: 1,
	}, r.Counts)

	assert.Equal(t, []string{"t2"}, r.FailedIDs)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, "transient", r.Failures[0].ErrorType)
	assert.True(t, r.HasFailures())
	assert.Equal(t, []string{"gone"}, r.MissingIDs)
	assert.Equal(t, []string{"t9"}, r.Unmatched)

	assert.Equal(t, []SoftMissCount{
		{Field: "empreendimento_id", Kind: merge.MissTargetName, Count: 2},
		{Field: "source_id", Kind: merge.MissSourceRef, Count: 1},
	}, r.SoftMisses)

	require.Len(t, r.Decisions, 3)
	assert.Equal(t, "+5511988887777", r.Decisions[0].Phone)
	assert.Equal(t, converge.OutcomeFailed, r.Decisions[1].Outcome)
}

func TestBuilder_EmptyRun(t *testing.T) {
	r := NewBuilder(true).Finish()

	assert.True(t, r.DryRun)
	assert.Equal(t, Counts{}, r.Counts)
	assert.NotNil(t, r.FailedIDs)
	assert.Empty(t, r.FailedIDs)
	assert.Nil(t, r.SoftMisses)
	assert.False(t, r.HasFailures())
}

func TestBuilder_Planned(t *testing.T) {
	b := NewBuilder(true)
	b.AddDecision(
		merge.Plan{TargetID: "t1", Changes: model.ChangeSet{"corretor": "Ana"}},
		converge.Result{TargetID: "t1", Outcome: converge.OutcomePlanned},
	)
	b.MarkCancelled()
	r := b.Finish()

	assert.Equal(t, 1, r.Counts.Planned)
	assert.Zero(t, r.Counts.Updated)
	assert.True(t, r.Cancelled)
}

func TestSaveJSONAndRetryIDs(t *testing.T) {
	r := sampleReport(t)
	r.FailedIDs = append(r.FailedIDs, "t7", "t2", "")
	path := filepath.Join(t.TempDir(), "report.json")

	require.NoError(t, SaveJSON(path, r))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, loaded.RunID)
	assert.Equal(t, r.Counts, loaded.Counts)
	require.Len(t, loaded.Collisions, 1)
	assert.Equal(t, "A", loaded.Collisions[0].KeptID)
	assert.Equal(t, "target", loaded.Collisions[0].Store)

	ids, err := RetryIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t7"}, ids)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = RetryIDs(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestWriteJSON_FieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport(t)))

	out := buf.String()
	assert.Contains(t, out, `"failed_ids": [`)
	assert.Contains(t, out, `"skipped_no_match": 1`)
	assert.Contains(t, out, `"dropped_name": "facebook"`)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, sampleReport(t))

	out := buf.String()
	assert.Contains(t, out, "Pairs considered:")
	assert.Contains(t, out, "Updated:")
	assert.Contains(t, out, "Skipped (missing):")
	assert.Contains(t, out, "empreendimento_id/no_target_name:")
	assert.Contains(t, out, "TARGET_ID")
	assert.Contains(t, out, "connection reset by peer")
	assert.NotContains(t, out, "Planned:")
}

func TestWriteSummary_DryRun(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, NewBuilder(true).Finish())

	out := buf.String()
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "Planned:")
	assert.NotContains(t, out, "TARGET_ID")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func readSheet(t *testing.T, f *xlsx.File, name string) [][]string {
	t.Helper()
	sheet, ok := f.Sheet[name]
	require.True(t, ok, "sheet %s", name)
	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows
}

func TestSaveXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, SaveXLSX(path, sampleReport(t)))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	summary := readSheet(t, f, SheetSummary)
	assert.Equal(t, []string{"Metric", "Value"}, summary[0])
	assert.Contains(t, summary, []string{"failed", "1"})
	assert.Contains(t, summary, []string{"pairs_considered", "3"})

	decisions := readSheet(t, f, SheetDecisions)
	require.Len(t, decisions, 4)
	assert.Equal(t, "t1", decisions[1][0])
	assert.Equal(t, "updated", decisions[1][3])
	assert.Equal(t, "corretor=Ana", decisions[1][4])
	assert.Equal(t, "empreendimento_id:no_target_name:Parque Lua, source_id:unknown_source_reference:x", decisions[3][6])

	failures := readSheet(t, f, SheetFailures)
	require.Len(t, failures, 2)
	assert.Equal(t, []string{"t2", "transient", "connection reset by peer"}, failures[1])

	warnings := readSheet(t, f, SheetWarnings)
	require.Len(t, warnings, 3)
	assert.Equal(t, "collision", warnings[1][0])
	assert.Equal(t, "missing", warnings[2][0])
}

func TestSaveXLSX_BadPath(t *testing.T) {
	err := SaveXLSX(filepath.Join(t.TempDir(), "nope", "report.xlsx"), NewBuilder(false).Finish())
	assert.Error(t, err)
}
