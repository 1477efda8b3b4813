package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/lead-reconciler/internal/model"
)

// dialect renders the SQL differences between Postgres and SQLite. Every
// column is read and compared as text since ids are opaque strings.
type dialect struct {
	placeholder func(n int) string
	table       func(name string) string
	quote       func(col string) string
	text        func(quoted string) string
	contains    func(textExpr, ph string) string
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	table:       sanitizeTable,
	quote:       func(col string) string { return pgx.Identifier{col}.Sanitize() },
	text:        func(q string) string { return q + "::text" },
	contains:    func(expr, ph string) string { return expr + " ILIKE " + ph + ` ESCAPE '\'` },
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	table:       quoteSQLite,
	quote:       quoteSQLite,
	text:        func(q string) string { return "CAST(" + q + " AS TEXT)" },
	contains:    func(expr, ph string) string { return "lower(" + expr + ") LIKE lower(" + ph + `) ESCAPE '\'` },
}

// sanitizeTable handles schema-qualified names like "public.leads".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// likePattern wraps v for a substring match, escaping LIKE metacharacters.
func likePattern(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(v) + "%"
}

func (d dialect) selectList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.text(d.quote(c))
	}
	return strings.Join(out, ", ")
}

// where renders f starting at placeholder n.
func (d dialect) where(f Filter, n int) (string, []any) {
	var conds []string
	var args []any
	for _, col := range f.columns() {
		expr := d.text(d.quote(col))
		if v, ok := f.Equals[col]; ok {
			conds = append(conds, expr+" = "+d.placeholder(n))
			args = append(args, v)
			n++
		}
		if v, ok := f.Contains[col]; ok {
			conds = append(conds, d.contains(expr, d.placeholder(n)))
			args = append(args, likePattern(v))
			n++
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (d dialect) orderBy(orderBy, id string) string {
	if orderBy == "" || orderBy == id {
		return " ORDER BY " + d.quote(id)
	}
	return " ORDER BY " + d.quote(orderBy) + ", " + d.quote(id)
}

func (d dialect) listLeads(t LeadTable, f Filter) (string, []any) {
	where, args := d.where(f, 1)
	q := "SELECT " + d.selectList(t.columns()) + " FROM " + d.table(t.Table) + where + d.orderBy(t.OrderBy, t.ID)
	return q, args
}

func (d dialect) listCategories(t CategoryTable, f Filter) (string, []any) {
	where, args := d.where(f, 1)
	q := "SELECT " + d.selectList(t.columns()) + " FROM " + d.table(t.Table) + where + d.orderBy(t.OrderBy, t.ID)
	return q, args
}

func (d dialect) getLead(t LeadTable) string {
	return "SELECT " + d.selectList(t.columns()) + " FROM " + d.table(t.Table) +
		" WHERE " + d.text(d.quote(t.ID)) + " = " + d.placeholder(1)
}

// updateLead renders a partial update touching only the changed columns.
func (d dialect) updateLead(t LeadTable, id string, changes model.ChangeSet) (string, []any) {
	keys := sortedKeys(changes)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = %s", d.quote(k), d.placeholder(i+1))
		args = append(args, changes[k])
	}
	args = append(args, id)
	q := "UPDATE " + d.table(t.Table) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + d.text(d.quote(t.ID)) + " = " + d.placeholder(len(keys)+1)
	return q, args
}
