package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// whereBuilder accumulates positional predicates for dynamic queries.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, len(w.args)))
}

// addRange applies opts.Since / opts.Until to column.
func (w *whereBuilder) addRange(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		w.add(column+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		w.add(column+" < $%d", *opts.Until)
	}
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders for non-zero values.
func (w *whereBuilder) page(opts domain.ListOpts) string {
	var sb strings.Builder
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(w.args))
	}
	return sb.String()
}
