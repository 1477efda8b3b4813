package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/normalize"
	"github.com/sells-group/lead-reconciler/internal/store"
)

var (
	findStore string
	findKind  string
	findEq    map[string]string
	findLike  map[string]string
	findID    string
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Look up leads or categories in one store",
	Example: `  lead-reconciler find --store target --eq organization_id=org-1 --like corretor=ana
  lead-reconciler find --store source --kind enterprise --like name=sol
  lead-reconciler find --store target --id 5f0c...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sc := cfg.Target
		switch findStore {
		case "target":
		case "source":
			sc = cfg.Source
		default:
			return eris.Errorf("--store must be source or target, got %q", findStore)
		}

		st, err := openStore(ctx, findStore, sc)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		q := findQuery{
			kind:   model.CategoryKind(findKind),
			id:     findID,
			filter: store.Filter{Equals: findEq, Contains: findLike},
		}
		return runFind(ctx, st, q, cmd.OutOrStdout())
	},
}

func init() {
	f := findCmd.Flags()
	f.StringVar(&findStore, "store", "target", "store to search: source or target")
	f.StringVar(&findKind, "kind", "", "list categories of this kind (enterprise, lead_source) instead of leads")
	f.StringToStringVar(&findEq, "eq", nil, "exact match column=value (repeatable)")
	f.StringToStringVar(&findLike, "like", nil, "case-insensitive substring column=value (repeatable)")
	f.StringVar(&findID, "id", "", "fetch a single lead by id")
	rootCmd.AddCommand(findCmd)
}

type findQuery struct {
	kind   model.CategoryKind
	id     string
	filter store.Filter
}

func runFind(ctx context.Context, st store.Store, q findQuery, out io.Writer) error {
	switch {
	case q.id != "":
		found, err := st.GetLead(ctx, q.id)
		if err != nil {
			return err
		}
		lead, ok := found.Get()
		if !ok {
			_, _ = fmt.Fprintf(out, "lead %s not found\n", q.id)
			return nil
		}
		formatLeads(out, []model.Lead{lead}, st.Schema().Leads.Attributes)
	case q.kind != "":
		if !q.kind.Valid() {
			return eris.Errorf("unknown category kind %q", q.kind)
		}
		recs, err := st.ListCategories(ctx, q.kind, q.filter)
		if err != nil {
			return err
		}
		formatCategories(out, recs)
	default:
		leads, err := st.ListLeads(ctx, q.filter)
		if err != nil {
			return err
		}
		formatLeads(out, leads, st.Schema().Leads.Attributes)
	}
	return nil
}

// formatLeads writes a tabular list of leads to w, one column per attribute.
func formatLeads(out io.Writer, leads []model.Lead, attrs []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := append([]string{"ID", "PHONE", "NORMALIZED", "ORG"}, upper(attrs)...)
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, l := range leads {
		row := []string{l.ID, l.Phone, normalize.Phone(l.Phone), l.OrganizationID}
		for _, a := range attrs {
			row = append(row, l.Attr(a))
		}
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "%d lead(s)\n", len(leads))
}

// formatCategories writes a tabular list of category records to w.
func formatCategories(out io.Writer, recs []model.CategoryRecord) {
	sorted := append([]model.CategoryRecord(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return normalize.Name(sorted[i].Name) < normalize.Name(sorted[j].Name)
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tORG")
	for _, r := range sorted {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Name, r.OrganizationID)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "%d record(s)\n", len(recs))
}

func upper(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToUpper(s)
	}
	return out
}
