// Package store is the local durable store: one player singleton and the
// games collection, in a single SQLite file. It is the only component that
// touches persisted records; callers get validated model values.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/model"
)

// Store wraps the SQLite database holding all local state.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (or creates) the local database at path and verifies the schema
// version. Pass ":memory:" for an ephemeral store.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// The store is accessed from the session and the sync pass; SQLite
	// handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := checkSchemaVersion(db); err != nil {
		return nil, err
	}
	return &Store{db: db, clock: clock}, nil
}

func checkSchemaVersion(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", model.SchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != model.SchemaVersion {
		return fmt.Errorf("unsupported local schema version %d (want %d)", version, model.SchemaVersion)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Player returns the player singleton, creating it on first-ever access with
// a fresh identifier, sync state NEW and last change now. Creation also
// clears any games left behind by a previous identity.
func (s *Store) Player(ctx context.Context) (*model.PlayerRecord, error) {
	p, err := s.player(ctx)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	p = &model.PlayerRecord{
		ID:         uuid.NewString(),
		SyncState:  model.StateNew,
		LastChange: s.clock.Now(),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO player (slot, id, name, sync_state, last_change, startup_game_id) VALUES (1, ?, '', ?, ?, '')",
		p.ID, int(p.SyncState), p.LastChange.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM games"); err != nil {
		return nil, fmt.Errorf("failed to clear games for new player: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit player creation: %w", err)
	}
	return p, nil
}

func (s *Store) player(ctx context.Context) (*model.PlayerRecord, error) {
	p := &model.PlayerRecord{}
	var state int
	var lastChange int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, sync_state, last_change, startup_game_id FROM player WHERE slot = 1",
	).Scan(&p.ID, &p.Name, &state, &lastChange, &p.StartupGameID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	p.SyncState = model.SyncState(state)
	p.LastChange = time.UnixMilli(lastChange)
	return p, nil
}

// SetPlayerName records a local name edit: the record turns DIRTY unless it
// is still unacknowledged (NEW stays NEW), and last change moves to now.
func (s *Store) SetPlayerName(ctx context.Context, name string) (*model.PlayerRecord, error) {
	p, err := s.Player(ctx)
	if err != nil {
		return nil, err
	}
	if p.SyncState == model.StateClean {
		p.SyncState = model.StateDirty
	}
	p.Name = name
	p.LastChange = s.clock.Now()
	_, err = s.db.ExecContext(ctx,
		"UPDATE player SET name = ?, sync_state = ?, last_change = ? WHERE slot = 1",
		p.Name, int(p.SyncState), p.LastChange.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update player name: %w", err)
	}
	return p, nil
}

// AdoptRemotePlayer overwrites name and last change with the remote values
// and marks the record CLEAN.
func (s *Store) AdoptRemotePlayer(ctx context.Context, name string, lastChange time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE player SET name = ?, sync_state = ?, last_change = ? WHERE slot = 1",
		name, int(model.StateClean), lastChange.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to adopt remote player: %w", err)
	}
	return nil
}

// MarkPlayerClean flips only the sync state, leaving name and last change.
func (s *Store) MarkPlayerClean(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE player SET sync_state = ? WHERE slot = 1", int(model.StateClean),
	)
	if err != nil {
		return fmt.Errorf("failed to mark player clean: %w", err)
	}
	return nil
}

// SetStartupGameID stores a handoff game id to be consumed on next startup.
// On a fresh install the player singleton does not exist yet (a shared link
// can be the very first thing that touches the store), so it is created first.
func (s *Store) SetStartupGameID(ctx context.Context, gameID string) error {
	if _, err := s.Player(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE player SET startup_game_id = ? WHERE slot = 1", gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to set startup game id: %w", err)
	}
	return nil
}

// ClearStartupGameID removes a consumed handoff id.
func (s *Store) ClearStartupGameID(ctx context.Context) error {
	return s.SetStartupGameID(ctx, "")
}

// PutGame validates and upserts a game record.
func (s *Store) PutGame(ctx context.Context, r *model.GameRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	moves, err := json.Marshal(r.Moves)
	if err != nil {
		return fmt.Errorf("failed to encode moves: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO games (id, size, seed, moves, score, sync_state, last_change)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			seed = excluded.seed,
			moves = excluded.moves,
			score = excluded.score,
			sync_state = excluded.sync_state,
			last_change = excluded.last_change`,
		r.ID, r.Size, r.Seed, string(moves), r.Score, int(r.SyncState), r.LastChange.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to put game %s: %w", r.ID, err)
	}
	return nil
}

// Game returns one game record, or nil when unknown.
func (s *Store) Game(ctx context.Context, id string) (*model.GameRecord, error) {
	rows, err := s.queryGames(ctx, "SELECT id, size, seed, moves, score, sync_state, last_change FROM games WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Games returns every local game, most recently changed first.
func (s *Store) Games(ctx context.Context) ([]*model.GameRecord, error) {
	return s.queryGames(ctx, "SELECT id, size, seed, moves, score, sync_state, last_change FROM games ORDER BY last_change DESC")
}

// GamesByState returns games in the given sync state, e.g. NEW records
// waiting for their first push.
func (s *Store) GamesByState(ctx context.Context, state model.SyncState) ([]*model.GameRecord, error) {
	return s.queryGames(ctx, "SELECT id, size, seed, moves, score, sync_state, last_change FROM games WHERE sync_state = ?", int(state))
}

// MostRecentGame returns the game with the newest last change, or nil when
// the store holds no games.
func (s *Store) MostRecentGame(ctx context.Context) (*model.GameRecord, error) {
	rows, err := s.queryGames(ctx, "SELECT id, size, seed, moves, score, sync_state, last_change FROM games ORDER BY last_change DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// DeleteGames removes the given ids in one statement.
func (s *Store) DeleteGames(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM games WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("failed to delete games: %w", err)
	}
	return nil
}

// MarkGameClean flips a game's sync state after a successful push.
func (s *Store) MarkGameClean(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE games SET sync_state = ? WHERE id = ?", int(model.StateClean), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark game %s clean: %w", id, err)
	}
	return nil
}

// ReplaceGameFromRemote overwrites a game's replay state with the remote
// version and marks it CLEAN.
func (s *Store) ReplaceGameFromRemote(ctx context.Context, x engine.Exchange, lastChange time.Time) error {
	moves, err := json.Marshal(x.Moves)
	if err != nil {
		return fmt.Errorf("failed to encode moves: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE games SET size = ?, seed = ?, moves = ?, score = ?, sync_state = ?, last_change = ?
		WHERE id = ?`,
		x.Size, x.Seed, string(moves), x.Score, int(model.StateClean), lastChange.UnixMilli(), x.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to replace game %s from remote: %w", x.ID, err)
	}
	return nil
}

func (s *Store) queryGames(ctx context.Context, query string, args ...any) ([]*model.GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	var records []*model.GameRecord
	for rows.Next() {
		r := &model.GameRecord{}
		var state int
		var lastChange int64
		var moves string
		if err := rows.Scan(&r.ID, &r.Size, &r.Seed, &moves, &r.Score, &state, &lastChange); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		if err := json.Unmarshal([]byte(moves), &r.Moves); err != nil {
			return nil, fmt.Errorf("failed to decode moves for game %s: %w", r.ID, err)
		}
		r.SyncState = model.SyncState(state)
		r.LastChange = time.UnixMilli(lastChange)
		records = append(records, r)
	}
	return records, rows.Err()
}
