package syncer

import (
	"sync"

	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/model"
)

// PlayerEvent is published when the player's visible name changes.
type PlayerEvent struct {
	Name string
}

// LeaderboardEvent is published when a leaderboard fetch succeeds.
type LeaderboardEvent struct {
	Entries []model.LeaderboardEntry
}

// GameEvent is published when the active game is replaced from outside the
// session, e.g. when reconciliation adopts a newer remote history.
type GameEvent struct {
	Game *engine.Game
}

// observerBus holds the three independent subscription lists. Notification
// is synchronous and runs in subscription order, after the corresponding
// state mutation has completed.
type observerBus struct {
	mu          sync.Mutex
	player      []func(PlayerEvent)
	leaderboard []func(LeaderboardEvent)
	game        []func(GameEvent)
}

func (b *observerBus) onPlayer(fn func(PlayerEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.player = append(b.player, fn)
}

func (b *observerBus) onLeaderboard(fn func(LeaderboardEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaderboard = append(b.leaderboard, fn)
}

func (b *observerBus) onGame(fn func(GameEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.game = append(b.game, fn)
}

func (b *observerBus) notifyPlayer(e PlayerEvent) {
	b.mu.Lock()
	observers := append([]func(PlayerEvent){}, b.player...)
	b.mu.Unlock()
	for _, fn := range observers {
		fn(e)
	}
}

func (b *observerBus) notifyLeaderboard(e LeaderboardEvent) {
	b.mu.Lock()
	observers := append([]func(LeaderboardEvent){}, b.leaderboard...)
	b.mu.Unlock()
	for _, fn := range observers {
		fn(e)
	}
}

func (b *observerBus) notifyGame(e GameEvent) {
	b.mu.Lock()
	observers := append([]func(GameEvent){}, b.game...)
	b.mu.Unlock()
	for _, fn := range observers {
		fn(e)
	}
}
