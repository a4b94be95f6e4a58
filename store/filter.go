package store

import (
	"fmt"
	"strings"

	"repoindex/types"
)

// whereClause builds "namespace = ? AND ..." for the chunk tables. placeholder renders
// the n-th (1-based) bind parameter for the target SQL dialect.
func whereClause(namespace string, ids []string, filter *types.DocumentMetadataFilter, placeholder func(n int) string, argOffset int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, placeholder(argOffset+len(args))))
	}

	add("namespace = %s", namespace)

	if len(ids) > 0 {
		ph := make([]string, len(ids))
		for i, id := range ids {
			args = append(args, id)
			ph[i] = placeholder(argOffset + len(args))
		}
		conds = append(conds, "document_id IN ("+strings.Join(ph, ", ")+")")
	}

	if !filter.IsEmpty() {
		if filter.DocumentID != "" {
			add("document_id = %s", filter.DocumentID)
		}
		if filter.Source != "" {
			add("source = %s", string(filter.Source))
		}
		if filter.SourceID != "" {
			add("source_id = %s", filter.SourceID)
		}
		if filter.Author != "" {
			add("author = %s", filter.Author)
		}
		if filter.StartDate != "" {
			add("created_at >= %s", filter.StartDate)
		}
		if filter.EndDate != "" {
			add("created_at <= %s", filter.EndDate)
		}
	}

	return strings.Join(conds, " AND "), args
}

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func questionPlaceholder(int) string { return "?" }
