package database

// Schema is the full DDL for the moneta database. Monetary and quantity
// columns are TEXT holding exact decimal strings; calendar dates are
// YYYY-MM-DD TEXT; instants are RFC3339 UTC TEXT.
const Schema = `
CREATE TABLE IF NOT EXISTS asset_classes (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	color          TEXT NOT NULL DEFAULT '',
	target_percent TEXT
);

CREATE TABLE IF NOT EXISTS accounts (
	id                       TEXT PRIMARY KEY,
	provider_name            TEXT NOT NULL,
	external_id              TEXT NOT NULL,
	name                     TEXT NOT NULL,
	name_user_edited         INTEGER NOT NULL DEFAULT 0,
	institution_name         TEXT NOT NULL DEFAULT '',
	is_active                INTEGER NOT NULL DEFAULT 1,
	deactivated_at           TEXT,
	superseded_by_account_id TEXT REFERENCES accounts(id),
	include_in_allocation    INTEGER NOT NULL DEFAULT 1,
	assigned_asset_class_id  TEXT REFERENCES asset_classes(id),
	last_sync_time           TEXT,
	last_sync_status         TEXT,
	last_sync_error          TEXT,
	balance_date             TEXT,
	UNIQUE (provider_name, external_id)
);

CREATE TABLE IF NOT EXISTS sync_sessions (
	id            TEXT PRIMARY KEY,
	timestamp     TEXT NOT NULL,
	is_complete   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS sync_log_entries (
	id              TEXT PRIMARY KEY,
	sync_session_id TEXT NOT NULL REFERENCES sync_sessions(id) ON DELETE CASCADE,
	provider_name   TEXT NOT NULL,
	status          TEXT NOT NULL,
	accounts_synced INTEGER NOT NULL DEFAULT 0,
	accounts_stale  INTEGER NOT NULL DEFAULT 0,
	accounts_error  INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT
);

CREATE TABLE IF NOT EXISTS securities (
	id                    TEXT PRIMARY KEY,
	ticker                TEXT NOT NULL UNIQUE,
	name                  TEXT NOT NULL DEFAULT '',
	manual_asset_class_id TEXT REFERENCES asset_classes(id)
);

CREATE TABLE IF NOT EXISTS account_snapshots (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id),
	sync_session_id TEXT NOT NULL REFERENCES sync_sessions(id),
	status          TEXT NOT NULL,
	total_value     TEXT NOT NULL DEFAULT '0',
	balance_date    TEXT
);

CREATE INDEX IF NOT EXISTS idx_snapshots_account ON account_snapshots(account_id, status);

CREATE TABLE IF NOT EXISTS holdings (
	id                  TEXT PRIMARY KEY,
	account_snapshot_id TEXT NOT NULL REFERENCES account_snapshots(id),
	security_id         TEXT NOT NULL REFERENCES securities(id),
	ticker              TEXT NOT NULL,
	quantity            TEXT NOT NULL,
	snapshot_price      TEXT NOT NULL,
	snapshot_value      TEXT NOT NULL,
	UNIQUE (account_snapshot_id, security_id)
);

CREATE TABLE IF NOT EXISTS daily_holding_values (
	valuation_date      TEXT NOT NULL,
	account_id          TEXT NOT NULL REFERENCES accounts(id),
	account_snapshot_id TEXT NOT NULL,
	security_id         TEXT NOT NULL,
	ticker              TEXT NOT NULL,
	quantity            TEXT NOT NULL,
	close_price         TEXT NOT NULL,
	market_value        TEXT NOT NULL,
	PRIMARY KEY (valuation_date, account_id, security_id)
);

CREATE INDEX IF NOT EXISTS idx_dhv_account_date ON daily_holding_values(account_id, valuation_date);

CREATE TABLE IF NOT EXISTS activities (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL REFERENCES accounts(id),
	provider_name TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	activity_date TEXT NOT NULL,
	type          TEXT NOT NULL,
	amount        TEXT NOT NULL DEFAULT '0',
	ticker        TEXT,
	units         TEXT,
	price         TEXT,
	currency      TEXT NOT NULL DEFAULT 'USD',
	fee           TEXT,
	description   TEXT,
	is_reviewed   INTEGER NOT NULL DEFAULT 0,
	user_modified INTEGER NOT NULL DEFAULT 0,
	UNIQUE (provider_name, external_id)
);

CREATE INDEX IF NOT EXISTS idx_activities_account_date ON activities(account_id, activity_date);

CREATE TABLE IF NOT EXISTS holding_lots (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id          TEXT NOT NULL REFERENCES accounts(id),
	security_id         TEXT NOT NULL REFERENCES securities(id),
	ticker              TEXT NOT NULL,
	acquisition_date    TEXT,
	cost_basis_per_unit TEXT NOT NULL,
	original_quantity   TEXT NOT NULL,
	current_quantity    TEXT NOT NULL,
	is_closed           INTEGER NOT NULL DEFAULT 0,
	source              TEXT NOT NULL,
	activity_id         TEXT
);

CREATE INDEX IF NOT EXISTS idx_lots_account_security ON holding_lots(account_id, security_id, is_closed);

CREATE TABLE IF NOT EXISTS lot_disposals (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	holding_lot_id    INTEGER NOT NULL REFERENCES holding_lots(id),
	account_id        TEXT NOT NULL REFERENCES accounts(id),
	security_id       TEXT NOT NULL REFERENCES securities(id),
	quantity          TEXT NOT NULL,
	proceeds_per_unit TEXT NOT NULL,
	disposal_date     TEXT NOT NULL,
	source            TEXT NOT NULL,
	activity_id       TEXT,
	disposal_group_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_disposals_account_security ON lot_disposals(account_id, security_id);

CREATE TABLE IF NOT EXISTS providers (
	name       TEXT PRIMARY KEY,
	is_enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`
