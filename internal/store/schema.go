package store

// schema mirrors what the external synchronizer maintains. Applied here only
// for in-memory databases (tests and the check command's self-diagnostics).
const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id               INTEGER PRIMARY KEY,
	name             TEXT NOT NULL,
	kind             TEXT NOT NULL DEFAULT 'rule',
	active           INTEGER NOT NULL DEFAULT 1,
	position         INTEGER NOT NULL DEFAULT 0,
	entity_types     TEXT NOT NULL DEFAULT '',
	libraries        TEXT NOT NULL DEFAULT '',
	result_cap       INTEGER NOT NULL DEFAULT 0,
	fixed_sort_field TEXT NOT NULL DEFAULT '',
	fixed_sort_order TEXT NOT NULL DEFAULT '',
	show_in_latest   INTEGER NOT NULL DEFAULT 1,
	allowed_user_ids TEXT NOT NULL DEFAULT '',
	host_collection_id TEXT NOT NULL DEFAULT '',
	in_library_count INTEGER NOT NULL DEFAULT 0,
	rules            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS collection_members (
	collection_id INTEGER NOT NULL,
	position      INTEGER NOT NULL,
	catalog_id    TEXT NOT NULL,
	host_item_id  TEXT,
	PRIMARY KEY (collection_id, position)
);

CREATE TABLE IF NOT EXISTS library_items (
	host_id          TEXT PRIMARY KEY,
	catalog_id       TEXT NOT NULL DEFAULT '',
	name             TEXT NOT NULL DEFAULT '',
	sort_name        TEXT NOT NULL DEFAULT '',
	item_type        TEXT NOT NULL DEFAULT '',
	library_id       TEXT NOT NULL DEFAULT '',
	genres           TEXT NOT NULL DEFAULT '',
	official_rating  TEXT NOT NULL DEFAULT '',
	production_year  INTEGER,
	premiere_date    TEXT,
	date_created     TEXT,
	community_rating REAL,
	critic_rating    REAL,
	runtime_ticks    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_library_items_catalog ON library_items (catalog_id);
CREATE INDEX IF NOT EXISTS idx_library_items_type ON library_items (item_type);

CREATE TABLE IF NOT EXISTS item_visibility (
	host_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (host_id, user_id)
);

CREATE TABLE IF NOT EXISTS missing_items (
	catalog_id   TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	kind         TEXT NOT NULL DEFAULT 'Movie',
	year         INTEGER,
	release_date TEXT,
	status       TEXT,
	poster_url   TEXT
);
`
