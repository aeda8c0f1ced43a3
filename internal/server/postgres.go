package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhagmar/twenty48/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS players (
	id          TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	last_change TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS games (
	id   TEXT PRIMARY KEY,
	seed TEXT NOT NULL,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS players_games (
	player_id TEXT NOT NULL REFERENCES players(id),
	game_id   TEXT NOT NULL REFERENCES games(id),
	revision  TEXT NOT NULL,
	score     BIGINT NOT NULL,
	moves     TEXT NOT NULL,
	PRIMARY KEY (player_id, game_id)
);

CREATE INDEX IF NOT EXISTS idx_players_games_game ON players_games(game_id);
`

// PostgresRepository is the production Repository, backed by a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to Postgres and ensures the schema exists.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) GetPlayer(ctx context.Context, playerID string) (*PlayerRow, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, display_name, last_change FROM players WHERE id = $1`, playerID)
	var p PlayerRow
	if err := row.Scan(&p.ID, &p.DisplayName, &p.LastChange); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePlayer(ctx context.Context, playerID, displayName string, lastChange time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO players (id, display_name, last_change) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		playerID, displayName, lastChange)
	if err != nil {
		return false, fmt.Errorf("failed to create player: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) UpdatePlayer(ctx context.Context, playerID, displayName string, lastChange time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE players SET display_name = $2, last_change = $3
		 WHERE id = $1 AND last_change <= $3`,
		playerID, displayName, lastChange)
	if err != nil {
		return false, fmt.Errorf("failed to update player: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) GetGame(ctx context.Context, gameID string) (*GameRow, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, seed, size FROM games WHERE id = $1`, gameID)
	var g GameRow
	if err := row.Scan(&g.ID, &g.Seed, &g.Size); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return &g, nil
}

func (r *PostgresRepository) CreateGame(ctx context.Context, gameID, seed string, size int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO games (id, seed, size) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		gameID, seed, size)
	if err != nil {
		return false, fmt.Errorf("failed to create game: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) GetPlayerGame(ctx context.Context, playerID, gameID string) (*PlayerGameRow, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT moves, score, revision FROM players_games
		 WHERE player_id = $1 AND game_id = $2`,
		playerID, gameID)
	var pg PlayerGameRow
	if err := row.Scan(&pg.Moves, &pg.Score, &pg.Revision); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get player game: %w", err)
	}
	return &pg, nil
}

func (r *PostgresRepository) CreatePlayerGame(ctx context.Context, playerID, gameID, moves string, score int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO players_games (player_id, game_id, revision, score, moves)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (player_id, game_id) DO NOTHING`,
		playerID, gameID, uuid.NewString(), score, moves)
	if err != nil {
		return false, fmt.Errorf("failed to create player game: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) UpdatePlayerGame(ctx context.Context, playerID, gameID, moves string, score int, revision string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE players_games SET moves = $3, score = $4, revision = $5
		 WHERE player_id = $1 AND game_id = $2 AND revision = $6`,
		playerID, gameID, moves, score, uuid.NewString(), revision)
	if err != nil {
		return false, fmt.Errorf("failed to update player game: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) PlayerGameIDs(ctx context.Context, playerID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT game_id FROM players_games WHERE player_id = $1 ORDER BY game_id`,
		playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list player games: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan game id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate game ids: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) Leaderboard(ctx context.Context, playerID, gameID string) ([]model.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.display_name, pg.score, pg.player_id = $1
		 FROM players_games pg
		 JOIN players p ON p.id = pg.player_id
		 WHERE pg.game_id = $2
		 ORDER BY pg.score DESC`,
		playerID, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []model.LeaderboardEntry{}
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.DisplayName, &e.Score, &e.RequestingPlayer); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return entries, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}
