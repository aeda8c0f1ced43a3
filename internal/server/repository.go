// Package server implements the remote side of the sync protocol: the REST
// handlers and the storage repositories behind them. The service is the
// cross-device source of truth and the leaderboard authority.
package server

import (
	"context"
	"time"

	"github.com/jhagmar/twenty48/internal/model"
)

// PlayerRow is a stored player.
type PlayerRow struct {
	ID          string
	DisplayName string
	LastChange  time.Time
}

// GameRow holds the replay parameters shared by everyone playing a game id.
type GameRow struct {
	ID   string
	Seed string
	Size int
}

// PlayerGameRow is one player's progress in a game. Revision implements
// optimistic concurrency: updates must present the revision they read.
type PlayerGameRow struct {
	Moves    string
	Score    int
	Revision string
}

// Repository defines what the handlers need from the database layer.
// Lookups return nil (not an error) for missing rows; creates report whether
// the row was actually inserted, so handlers can retry races.
type Repository interface {
	GetPlayer(ctx context.Context, playerID string) (*PlayerRow, error)
	CreatePlayer(ctx context.Context, playerID, displayName string, lastChange time.Time) (bool, error)
	// UpdatePlayer applies last-write-wins: the update only lands when the
	// stored lastChange is not newer than the incoming one.
	UpdatePlayer(ctx context.Context, playerID, displayName string, lastChange time.Time) (bool, error)

	GetGame(ctx context.Context, gameID string) (*GameRow, error)
	CreateGame(ctx context.Context, gameID, seed string, size int) (bool, error)

	GetPlayerGame(ctx context.Context, playerID, gameID string) (*PlayerGameRow, error)
	CreatePlayerGame(ctx context.Context, playerID, gameID, moves string, score int) (bool, error)
	UpdatePlayerGame(ctx context.Context, playerID, gameID, moves string, score int, revision string) (bool, error)
	PlayerGameIDs(ctx context.Context, playerID string) ([]string, error)

	Leaderboard(ctx context.Context, playerID, gameID string) ([]model.LeaderboardEntry, error)

	Close()
}
