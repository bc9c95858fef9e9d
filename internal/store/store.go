// Package store reads virtual-collection definitions, curated member lists
// and the mirrored library index from the local sqlite database. This
// process never writes it; the synchronizer that maintains it runs
// elsewhere.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/embygate/emby-gate/internal/logging"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens the database read-only. A missing file is an error: an empty
// store is indistinguishable from a misconfigured path, and silently serving
// zero collections is worse than failing at startup.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &Store{db: db, log: logging.Component("store")}, nil
}

var memSeq atomic.Int64

// OpenMemory opens a fresh writable in-memory database with the schema
// applied. Test and check-command use only. Each call gets its own named
// shared-cache database so the sql pool's connections see one store.
func OpenMemory() (*Store, error) {
	name := fmt.Sprintf("file:mem%d?mode=memory&cache=shared", memSeq.Add(1))
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: logging.Component("store")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for test fixtures.
func (s *Store) DB() *sql.DB { return s.db }

// Collection is one virtual-collection definition.
type Collection struct {
	ID               int64
	Name             string
	Kind             string // "list" (curated) or "rule"
	EntityTypes      []string
	Libraries        []string
	ResultCap        int
	FixedSortField   string // "" means no override, "none" disables explicitly
	FixedSortOrder   string
	ShowInLatest     bool
	AllowedUserIDs   []string // empty: visible to every user
	HostCollectionID string   // backing host collection, for cover images
	InLibraryCount   int
	Rules            RuleSet
}

// VisibleTo reports whether the collection is shown to userID.
func (c Collection) VisibleTo(userID string) bool {
	if len(c.AllowedUserIDs) == 0 {
		return true
	}
	for _, u := range c.AllowedUserIDs {
		if u == userID {
			return true
		}
	}
	return false
}

// SeriesOnly reports whether the collection holds only series-typed entities.
func (c Collection) SeriesOnly() bool {
	if len(c.EntityTypes) == 0 {
		return false
	}
	for _, t := range c.EntityTypes {
		if t != "Series" {
			return false
		}
	}
	return true
}

// Member is one curated-collection entry, in stored order.
type Member struct {
	Position   int
	CatalogID  string
	HostItemID string // empty when never matched to a host entity
}

// MissingMeta is the stored metadata for a catalog entry absent from the
// host library, used to materialize placeholders.
type MissingMeta struct {
	CatalogID   string
	Title       string
	Kind        string // Movie or Series
	Year        int
	ReleaseDate string
	Status      string
	PosterURL   string
}

const collectionCols = "id, name, kind, entity_types, libraries, result_cap, fixed_sort_field, fixed_sort_order, show_in_latest, allowed_user_ids, host_collection_id, in_library_count, rules"

func scanCollection(row interface{ Scan(...any) error }) (Collection, error) {
	var c Collection
	var types, libs, users, rules string
	var inLatest int
	err := row.Scan(&c.ID, &c.Name, &c.Kind, &types, &libs, &c.ResultCap,
		&c.FixedSortField, &c.FixedSortOrder, &inLatest, &users,
		&c.HostCollectionID, &c.InLibraryCount, &rules)
	if err != nil {
		return Collection{}, err
	}
	c.EntityTypes = splitCSV(types)
	c.Libraries = splitCSV(libs)
	c.AllowedUserIDs = splitCSV(users)
	c.ShowInLatest = inLatest != 0
	if rules != "" {
		if err := json.Unmarshal([]byte(rules), &c.Rules); err != nil {
			return Collection{}, fmt.Errorf("collection %d: bad rules: %w", c.ID, err)
		}
	}
	return c, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ActiveCollections returns every active collection in display order.
func (s *Store) ActiveCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+collectionCols+" FROM collections WHERE active = 1 ORDER BY position, id")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()
	var out []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CollectionByID returns one active collection or ErrNotFound.
func (s *Store) CollectionByID(ctx context.Context, id int64) (Collection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+collectionCols+" FROM collections WHERE id = ? AND active = 1", id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	return c, err
}

// CuratedMembers returns the ordered member list of a curated collection.
func (s *Store) CuratedMembers(ctx context.Context, collectionID int64) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT position, catalog_id, COALESCE(host_item_id, '') FROM collection_members WHERE collection_id = ? ORDER BY position",
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("members of %d: %w", collectionID, err)
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Position, &m.CatalogID, &m.HostItemID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ExistingByCatalogID maps catalog IDs to host item IDs for the entries that
// exist in the mirrored library index.
func (s *Store) ExistingByCatalogID(ctx context.Context, catalogIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(catalogIDs))
	if len(catalogIDs) == 0 {
		return out, nil
	}
	q, args := inClause("catalog_id", catalogIDs)
	rows, err := s.db.QueryContext(ctx,
		"SELECT catalog_id, host_id FROM library_items WHERE "+q, args...)
	if err != nil {
		return nil, fmt.Errorf("existing lookup: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat, host string
		if err := rows.Scan(&cat, &host); err != nil {
			return nil, err
		}
		out[cat] = host
	}
	return out, rows.Err()
}

// VisibleToUser filters hostIDs down to the set the user may see. Items with
// no visibility rows are public.
func (s *Store) VisibleToUser(ctx context.Context, userID string, hostIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hostIDs))
	if len(hostIDs) == 0 {
		return out, nil
	}
	q, args := inClause("i.host_id", hostIDs)
	args = append(args, userID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.host_id FROM library_items i WHERE `+q+`
		AND (NOT EXISTS (SELECT 1 FROM item_visibility v WHERE v.host_id = i.host_id)
		     OR EXISTS (SELECT 1 FROM item_visibility v WHERE v.host_id = i.host_id AND v.user_id = ?))`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("visibility lookup: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// MissingItemMeta returns placeholder metadata for the given catalog IDs.
// IDs without stored metadata are absent from the map.
func (s *Store) MissingItemMeta(ctx context.Context, catalogIDs []string) (map[string]MissingMeta, error) {
	out := make(map[string]MissingMeta, len(catalogIDs))
	if len(catalogIDs) == 0 {
		return out, nil
	}
	q, args := inClause("catalog_id", catalogIDs)
	rows, err := s.db.QueryContext(ctx, `
		SELECT catalog_id, title, kind, COALESCE(year, 0), COALESCE(release_date, ''),
		       COALESCE(status, ''), COALESCE(poster_url, '')
		FROM missing_items WHERE `+q, args...)
	if err != nil {
		return nil, fmt.Errorf("missing meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m MissingMeta
		if err := rows.Scan(&m.CatalogID, &m.Title, &m.Kind, &m.Year, &m.ReleaseDate, &m.Status, &m.PosterURL); err != nil {
			return nil, err
		}
		out[m.CatalogID] = m
	}
	return out, rows.Err()
}

func inClause(col string, vals []string) (string, []any) {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return col + " IN (?" + strings.Repeat(",?", len(vals)-1) + ")", args
}
