package sqlite

type migration struct {
	version int
	sql     string
}

// migrations 按版本顺序执行，每条迁移自己写入 schema_version
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tenants (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL,
	notification_email TEXT NOT NULL DEFAULT '',
	is_active          INTEGER NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id          INTEGER NOT NULL REFERENCES tenants(id),
	address            TEXT NOT NULL,
	credential         BLOB NOT NULL,
	is_active          INTEGER NOT NULL DEFAULT 1,
	last_fetched_at    DATETIME,
	deactivated_reason TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id    INTEGER NOT NULL REFERENCES accounts(id),
	external_id   TEXT NOT NULL UNIQUE,
	thread_id     TEXT NOT NULL DEFAULT '',
	sender        TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	preview       TEXT NOT NULL DEFAULT '',
	received_at   DATETIME NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	parse_version TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_status_received ON items(status, received_at);

CREATE TABLE IF NOT EXISTS classification_results (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id            INTEGER NOT NULL UNIQUE REFERENCES items(id),
	category           TEXT NOT NULL,
	intent             TEXT NOT NULL DEFAULT '',
	urgency            TEXT NOT NULL DEFAULT '',
	extracted_entities TEXT NOT NULL DEFAULT '{}',
	summary            TEXT NOT NULL DEFAULT '',
	confidence         INTEGER NOT NULL DEFAULT 90,
	model_version      TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id       INTEGER NOT NULL UNIQUE REFERENCES items(id),
	tenant_id     INTEGER NOT NULL REFERENCES tenants(id),
	channel       TEXT NOT NULL,
	status        TEXT NOT NULL,
	sent_to       TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
