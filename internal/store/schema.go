package store

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS player (
	slot INTEGER PRIMARY KEY CHECK (slot = 1),
	id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	sync_state INTEGER NOT NULL,
	last_change INTEGER NOT NULL,
	startup_game_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS games (
	id TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	seed TEXT NOT NULL,
	moves TEXT NOT NULL,
	score INTEGER NOT NULL,
	sync_state INTEGER NOT NULL,
	last_change INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_games_last_change ON games(last_change);
CREATE INDEX IF NOT EXISTS idx_games_sync_state ON games(sync_state);
`
