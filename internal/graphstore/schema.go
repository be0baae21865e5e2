package graphstore

// schemaSQL creates the nodes/edges tables and reverse-index supporting
// indexes. Embedded as a Go string constant (rather than go:embed'ing a
// sibling .sql file) so the schema ships as part of the package without
// an extra file to keep in sync across copies.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS modules (
	id TEXT PRIMARY KEY,
	content_hash TEXT,
	kind TEXT NOT NULL,
	config_hash TEXT,
	mtime_ms INTEGER
);

CREATE TABLE IF NOT EXISTS static_deps (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	ord INTEGER NOT NULL,
	PRIMARY KEY (src, dst)
);
CREATE INDEX IF NOT EXISTS idx_static_deps_dst ON static_deps(dst);
CREATE INDEX IF NOT EXISTS idx_static_deps_src ON static_deps(src);

CREATE TABLE IF NOT EXISTS dynamic_deps (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	ord INTEGER NOT NULL,
	PRIMARY KEY (src, dst)
);
CREATE INDEX IF NOT EXISTS idx_dynamic_deps_dst ON dynamic_deps(dst);
CREATE INDEX IF NOT EXISTS idx_dynamic_deps_src ON dynamic_deps(src);
`

const pragmasSQL = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=NORMAL;
PRAGMA busy_timeout=5000;
`
