package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhagmar/twenty48/internal/model"
)

// MemoryRepository keeps all state in process memory. It backs the dev mode
// of the daemon and the test suites; semantics match the Postgres
// repository, including the revision check on player-game updates.
type MemoryRepository struct {
	mu          sync.Mutex
	players     map[string]*PlayerRow
	games       map[string]*GameRow
	playerGames map[string]map[string]*PlayerGameRow // gameID -> playerID -> row
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		players:     make(map[string]*PlayerRow),
		games:       make(map[string]*GameRow),
		playerGames: make(map[string]map[string]*PlayerGameRow),
	}
}

func (r *MemoryRepository) GetPlayer(_ context.Context, playerID string) (*PlayerRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (r *MemoryRepository) CreatePlayer(_ context.Context, playerID, displayName string, lastChange time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[playerID]; ok {
		return false, nil
	}
	r.players[playerID] = &PlayerRow{ID: playerID, DisplayName: displayName, LastChange: lastChange}
	return true, nil
}

func (r *MemoryRepository) UpdatePlayer(_ context.Context, playerID, displayName string, lastChange time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	if !ok || p.LastChange.After(lastChange) {
		return false, nil
	}
	p.DisplayName = displayName
	p.LastChange = lastChange
	return true, nil
}

func (r *MemoryRepository) GetGame(_ context.Context, gameID string) (*GameRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[gameID]
	if !ok {
		return nil, nil
	}
	c := *g
	return &c, nil
}

func (r *MemoryRepository) CreateGame(_ context.Context, gameID, seed string, size int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[gameID]; ok {
		return false, nil
	}
	r.games[gameID] = &GameRow{ID: gameID, Seed: seed, Size: size}
	return true, nil
}

func (r *MemoryRepository) GetPlayerGame(_ context.Context, playerID, gameID string) (*PlayerGameRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pg, ok := r.playerGames[gameID][playerID]
	if !ok {
		return nil, nil
	}
	c := *pg
	return &c, nil
}

func (r *MemoryRepository) CreatePlayerGame(_ context.Context, playerID, gameID, moves string, score int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.playerGames[gameID][playerID]; ok {
		return false, nil
	}
	if r.playerGames[gameID] == nil {
		r.playerGames[gameID] = make(map[string]*PlayerGameRow)
	}
	r.playerGames[gameID][playerID] = &PlayerGameRow{Moves: moves, Score: score, Revision: uuid.NewString()}
	return true, nil
}

func (r *MemoryRepository) UpdatePlayerGame(_ context.Context, playerID, gameID, moves string, score int, revision string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pg, ok := r.playerGames[gameID][playerID]
	if !ok || pg.Revision != revision {
		return false, nil
	}
	pg.Moves = moves
	pg.Score = score
	pg.Revision = uuid.NewString()
	return true, nil
}

func (r *MemoryRepository) PlayerGameIDs(_ context.Context, playerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for gameID, byPlayer := range r.playerGames {
		if _, ok := byPlayer[playerID]; ok {
			ids = append(ids, gameID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepository) Leaderboard(_ context.Context, playerID, gameID string) ([]model.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := []model.LeaderboardEntry{}
	for pid, pg := range r.playerGames[gameID] {
		name := ""
		if p, ok := r.players[pid]; ok {
			name = p.DisplayName
		}
		entries = append(entries, model.LeaderboardEntry{
			DisplayName:      name,
			Score:            pg.Score,
			RequestingPlayer: pid == playerID,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	return entries, nil
}

func (r *MemoryRepository) Close() {}
