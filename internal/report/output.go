package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
)

// WriteJSON encodes r as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return eris.Wrap(err, "report: encode json")
	}
	return nil
}

// SaveJSON writes r to path.
func SaveJSON(path string, r Report) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := WriteJSON(f, r); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}

// Load reads a report written by SaveJSON.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, eris.Wrapf(err, "report: read %s", path)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, eris.Wrapf(err, "report: decode %s", path)
	}
	return r, nil
}

// RetryIDs returns the failed ids of the report at path, deduplicated in
// their original order.
func RetryIDs(path string) ([]string, error) {
	r, err := Load(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(r.FailedIDs))
	var ids []string
	for _, id := range r.FailedIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// WriteSummary writes the counters and any failures as aligned text.
func WriteSummary(out io.Writer, r Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	mode := "apply"
	if r.DryRun {
		mode = "dry run"
	}
	_, _ = fmt.Fprintf(w, "Run:\t%s (%s)\n", r.RunID, mode)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", r.Duration().Round(time.Millisecond))
	if r.Cancelled {
		_, _ = fmt.Fprintln(w, "Cancelled:\tyes")
	}
	c := r.Counts
	_, _ = fmt.Fprintf(w, "Pairs considered:\t%d\n", c.PairsConsidered)
	if r.DryRun {
		_, _ = fmt.Fprintf(w, "Planned:\t%d\n", c.Planned)
	} else {
		_, _ = fmt.Fprintf(w, "Updated:\t%d\n", c.Updated)
	}
	_, _ = fmt.Fprintf(w, "Skipped (no change):\t%d\n", c.SkippedNoChange)
	_, _ = fmt.Fprintf(w, "Skipped (no match):\t%d\n", c.SkippedNoMatch)
	if c.SkippedMissing > 0 {
		_, _ = fmt.Fprintf(w, "Skipped (missing):\t%d\n", c.SkippedMissing)
	}
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", c.Failed)
	_, _ = fmt.Fprintf(w, "Collisions:\t%d\n", c.Collisions)
	_, _ = fmt.Fprintf(w, "Soft misses:\t%d\n", c.SoftMisses)
	for _, m := range r.SoftMisses {
		_, _ = fmt.Fprintf(w, "  %s/%s:\t%d\n", m.Field, m.Kind, m.Count)
	}
	_, _ = fmt.Fprintf(w, "Source short phones:\t%d\n", c.SourceShortPhone)
	_, _ = fmt.Fprintf(w, "Source superseded:\t%d\n", c.SourceSuperseded)
	_ = w.Flush()

	if len(r.Failures) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TARGET_ID\tTYPE\tERROR")
	_, _ = fmt.Fprintln(w, "---------\t----\t-----")
	for _, f := range r.Failures {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", f.TargetID, f.ErrorType, truncate(f.Error, 80))
	}
	_ = w.Flush()
}

// formatChanges renders a change set as "k=v, k=v" in key order.
func formatChanges(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
