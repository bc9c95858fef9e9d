package store

import (
	"context"
	"fmt"
	"strings"
)

// RuleSet is a collection's member-definition filter: rules combined with a
// single boolean combinator.
type RuleSet struct {
	Combinator string `json:"combinator"` // "and" (default) or "or"
	Rules      []Rule `json:"rules"`
}

// Rule is one field comparison. Fields and operators are whitelisted; a
// rule outside the whitelist fails the query rather than being skipped.
type Rule struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// ruleColumns maps rule fields to index columns. Also the set of sort keys
// the local store can compute.
var ruleColumns = map[string]string{
	"Name":            "name",
	"SortName":        "sort_name",
	"ProductionYear":  "production_year",
	"PremiereDate":    "premiere_date",
	"DateCreated":     "date_created",
	"CommunityRating": "community_rating",
	"CriticRating":    "critic_rating",
	"RunTimeTicks":    "runtime_ticks",
	"Genres":          "genres",
	"OfficialRating":  "official_rating",
}

var ruleOps = map[string]string{
	"eq":       "=",
	"ne":       "<>",
	"gt":       ">",
	"gte":      ">=",
	"lt":       "<",
	"lte":      "<=",
	"contains": "LIKE",
}

// SortableLocally reports whether the store can order by field itself. The
// first comma-separated field decides; host-side aggregates (e.g.
// DateLastContentAdded) are not stored and force delegation.
func SortableLocally(field string) bool {
	first, _, _ := strings.Cut(field, ",")
	_, ok := ruleColumns[first]
	return ok || first == ""
}

func (rs RuleSet) toSQL() (string, []any, error) {
	if len(rs.Rules) == 0 {
		return "", nil, nil
	}
	comb := " AND "
	if strings.EqualFold(rs.Combinator, "or") {
		comb = " OR "
	}
	parts := make([]string, 0, len(rs.Rules))
	var args []any
	for _, r := range rs.Rules {
		col, ok := ruleColumns[r.Field]
		if !ok {
			return "", nil, fmt.Errorf("rule field %q not filterable", r.Field)
		}
		op, ok := ruleOps[r.Op]
		if !ok {
			return "", nil, fmt.Errorf("rule op %q not supported", r.Op)
		}
		if r.Op == "contains" {
			parts = append(parts, col+" LIKE ?")
			args = append(args, "%"+r.Value+"%")
			continue
		}
		parts = append(parts, col+" "+op+" ?")
		args = append(args, r.Value)
	}
	return "(" + strings.Join(parts, comb) + ")", args, nil
}

// ItemQuery selects host item IDs from the mirrored library index.
type ItemQuery struct {
	Rules       RuleSet
	EntityTypes []string
	Libraries   []string
	CatalogIDs  []string // optional allowlist
	UserID      string   // visibility filter; empty skips it
	SortField   string   // must satisfy SortableLocally
	SortOrder   string   // Ascending (default) or Descending
	Offset      int
	Limit       int // 0: no page limit
}

func (q ItemQuery) where() (string, []any, error) {
	var parts []string
	var args []any
	if expr, a, err := q.Rules.toSQL(); err != nil {
		return "", nil, err
	} else if expr != "" {
		parts = append(parts, expr)
		args = append(args, a...)
	}
	if len(q.EntityTypes) > 0 {
		c, a := inClause("item_type", q.EntityTypes)
		parts = append(parts, c)
		args = append(args, a...)
	}
	if len(q.Libraries) > 0 {
		c, a := inClause("library_id", q.Libraries)
		parts = append(parts, c)
		args = append(args, a...)
	}
	if len(q.CatalogIDs) > 0 {
		c, a := inClause("catalog_id", q.CatalogIDs)
		parts = append(parts, c)
		args = append(args, a...)
	}
	if q.UserID != "" {
		parts = append(parts, `(NOT EXISTS (SELECT 1 FROM item_visibility v WHERE v.host_id = library_items.host_id)
			OR EXISTS (SELECT 1 FROM item_visibility v WHERE v.host_id = library_items.host_id AND v.user_id = ?))`)
		args = append(args, q.UserID)
	}
	if len(parts) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(parts, " AND "), args, nil
}

// QueryItems runs the query and returns the page's host IDs plus the counted
// total before paging. This total is the local strategy's authoritative
// count; the compositor reconciles it against what the host actually serves.
func (s *Store) QueryItems(ctx context.Context, q ItemQuery) ([]string, int, error) {
	where, args, err := q.where()
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM library_items WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	order := "host_id"
	if first, _, _ := strings.Cut(q.SortField, ","); first != "" {
		col, ok := ruleColumns[first]
		if !ok {
			return nil, 0, fmt.Errorf("sort field %q not computable locally", first)
		}
		dir := "ASC"
		if strings.EqualFold(q.SortOrder, "Descending") {
			dir = "DESC"
		}
		// host_id tiebreak keeps pages stable across requests.
		order = col + " " + dir + ", host_id"
	}
	sqlq := "SELECT host_id FROM library_items WHERE " + where + " ORDER BY " + order
	if q.Limit > 0 {
		sqlq += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
	} else if q.Offset > 0 {
		sqlq += fmt.Sprintf(" LIMIT -1 OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	return ids, total, rows.Err()
}

// CandidateIDs returns the full unpaged candidate set for a rule collection,
// capped to keep a runaway definition from exploding a delegated request.
func (s *Store) CandidateIDs(ctx context.Context, q ItemQuery, cap int) ([]string, error) {
	q.Offset = 0
	q.Limit = cap
	ids, _, err := s.QueryItems(ctx, q)
	return ids, err
}
