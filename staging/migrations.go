package staging

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Versions are sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	message_id    TEXT PRIMARY KEY,
	thread_id     TEXT NOT NULL,
	sent_at       INTEGER,
	date_header   TEXT NOT NULL DEFAULT '',
	sender        TEXT NOT NULL DEFAULT '',
	recipients    TEXT NOT NULL DEFAULT '',
	cc            TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	labels        TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	year          TEXT NOT NULL,
	ingest_offset INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS attachments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id   TEXT NOT NULL REFERENCES emails(message_id) ON DELETE CASCADE,
	part_index   INTEGER NOT NULL,
	year         TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	payload      BLOB,
	UNIQUE(message_id, part_index)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	source      TEXT PRIMARY KEY,
	byte_offset INTEGER NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_failures (
	source      TEXT NOT NULL,
	byte_offset INTEGER NOT NULL,
	message_id  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (source, byte_offset)
);

CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(thread_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_emails_year_thread ON emails(year, thread_id, sent_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_attachments_year ON attachments(year);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
