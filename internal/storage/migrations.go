package storage

type migration struct {
	version int
	sql     string
}

// migrations must be ordered by version, starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id            TEXT PRIMARY KEY,
	position      INTEGER NOT NULL,
	category_main TEXT NOT NULL,
	category_sub  TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	read          INTEGER NOT NULL DEFAULT 0,
	priority      TEXT NOT NULL DEFAULT '',
	action_label  TEXT,
	action_url    TEXT,
	group_id      TEXT NOT NULL DEFAULT '',
	expires_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_notifications_position ON notifications(position);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
	},
}
