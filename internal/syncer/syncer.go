// Package syncer is the offline-first synchronization engine. It owns the
// live game session, reconciles locally-mutated player and game records
// against the remote service, and schedules synchronization so that gameplay
// never blocks on the network.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/model"
	"github.com/jhagmar/twenty48/internal/remote"
	"github.com/jhagmar/twenty48/internal/store"
)

// Mode is the UI-facing session mode. It is orthogonal to sync, lives only
// in memory, and resets to ModePlay whenever a game is loaded.
type Mode int

const (
	ModePlay Mode = iota + 1
	ModeSwitch
	ModeLeaderboard
	ModeShare
)

// DefaultBoardSize matches the only board size the service accepts.
const DefaultBoardSize = 4

// Options tunes a Syncer. Zero values fall back to production defaults.
type Options struct {
	Clock        clockwork.Clock
	Debounce     time.Duration
	PollInterval time.Duration
	BoardSize    int
	// Visible gates the periodic leaderboard refresh; it stands in for the
	// webapp's page-visibility check. Defaults to always visible.
	Visible func() bool
	Logger  zerolog.Logger
}

// Syncer glues the local store, the remote client and the scheduler into one
// session. At most one in-memory current game is live at a time; every
// reassignment goes through switchGame, the single ownership transfer point.
type Syncer struct {
	store     *store.Store
	client    *remote.Client
	clock     clockwork.Clock
	boardSize int
	log       zerolog.Logger
	sched     *Scheduler
	bus       observerBus

	mu          sync.Mutex
	current     *engine.Game
	mode        Mode
	leaderboard []model.LeaderboardEntry
}

// New wires a Syncer from its collaborators.
func New(st *store.Store, client *remote.Client, opts Options) *Syncer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.BoardSize == 0 {
		opts.BoardSize = DefaultBoardSize
	}
	if opts.Visible == nil {
		opts.Visible = func() bool { return true }
	}
	s := &Syncer{
		store:     st,
		client:    client,
		clock:     opts.Clock,
		boardSize: opts.BoardSize,
		log:       opts.Logger,
		mode:      ModePlay,
	}
	s.sched = newScheduler(opts.Clock, opts.Debounce, opts.PollInterval,
		s.runPass,
		func(ctx context.Context) { s.pollLeaderboard(ctx) },
		opts.Visible, opts.Logger)
	return s
}

// Initialize restores the session: consume a pending handoff id if present,
// otherwise resume the most recently changed local game, otherwise start a
// fresh one. It arms the first sync and returns with the session playable.
func (s *Syncer) Initialize(ctx context.Context) error {
	player, err := s.store.Player(ctx)
	if err != nil {
		return err
	}

	var game *engine.Game
	if player.StartupGameID != "" {
		if err := s.store.ClearStartupGameID(ctx); err != nil {
			return err
		}
		game, err = s.newGameFromRemote(ctx, player.StartupGameID)
		if err != nil {
			s.log.Warn().Err(err).Str("game_id", player.StartupGameID).Msg("failed to materialize handoff game")
			game = nil
		}
	}
	if game == nil {
		rec, err := s.store.MostRecentGame(ctx)
		if err != nil {
			return err
		}
		if rec != nil {
			game, err = engine.FromExchange(rec.Exchange())
			if err != nil {
				s.log.Warn().Err(err).Str("game_id", rec.ID).Msg("most recent local game does not replay; starting fresh")
				game = nil
			}
		}
	}
	if game == nil {
		if _, err := s.NewGame(ctx); err != nil {
			return err
		}
	} else {
		s.switchGame(game)
	}

	s.mu.Lock()
	s.leaderboard = nil
	s.mu.Unlock()

	s.sched.Trigger()
	return nil
}

// Run drives the periodic leaderboard refresh until ctx is cancelled.
// Callers typically run it in a goroutine after Initialize.
func (s *Syncer) Run(ctx context.Context) {
	s.sched.Run(ctx)
}

// Trigger requests a sync pass (debounced).
func (s *Syncer) Trigger() {
	s.sched.Trigger()
}

// SyncInFlight reports whether a reconciliation pass is running.
func (s *Syncer) SyncInFlight() bool {
	return s.sched.InFlight()
}

// OnPlayerChange subscribes to player name changes adopted from remote.
func (s *Syncer) OnPlayerChange(fn func(PlayerEvent)) { s.bus.onPlayer(fn) }

// OnLeaderboardChange subscribes to leaderboard refreshes.
func (s *Syncer) OnLeaderboardChange(fn func(LeaderboardEvent)) { s.bus.onLeaderboard(fn) }

// OnGameChange subscribes to out-of-session replacements of the active game.
func (s *Syncer) OnGameChange(fn func(GameEvent)) { s.bus.onGame(fn) }

// Mode returns the current session mode.
func (s *Syncer) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode changes the session mode.
func (s *Syncer) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// CurrentGame returns the live game. Game values are immutable, so the
// returned snapshot stays valid even if the session switches games.
func (s *Syncer) CurrentGame() *engine.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Leaderboard returns the last successfully fetched ranking.
func (s *Syncer) Leaderboard() []model.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LeaderboardEntry(nil), s.leaderboard...)
}

// PlayerName returns the locally known display name.
func (s *Syncer) PlayerName(ctx context.Context) (string, error) {
	p, err := s.store.Player(ctx)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

// SetPlayerName records a local name edit and schedules a sync. The edit
// succeeds locally even if the service is unreachable indefinitely.
func (s *Syncer) SetPlayerName(ctx context.Context, name string) error {
	if _, err := s.store.SetPlayerName(ctx, name); err != nil {
		return err
	}
	s.sched.Trigger()
	return nil
}

// MakeMove applies a move to the current game. A no-op move returns
// ok=false and changes nothing. A real move persists the new history and
// schedules a sync.
func (s *Syncer) MakeMove(ctx context.Context, d engine.Direction) (*engine.Game, bool, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil, false, errors.New("no active game")
	}
	next, ok := cur.Move(d)
	if !ok {
		return cur, false, nil
	}
	s.mu.Lock()
	// The moved-from game is released here; next is the single live owner.
	s.current = next
	s.mu.Unlock()
	if err := s.storeGame(ctx, next); err != nil {
		return next, true, err
	}
	return next, true, nil
}

// NewGame starts a fresh game, persists it and makes it the active one.
func (s *Syncer) NewGame(ctx context.Context) (*engine.Game, error) {
	game := engine.New(s.boardSize)
	if err := s.storeGame(ctx, game); err != nil {
		return nil, err
	}
	s.switchGame(game)
	return game, nil
}

// LoadGame reconstructs a stored game and makes it the active one.
func (s *Syncer) LoadGame(ctx context.Context, id string) (*engine.Game, error) {
	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("unknown game " + id)
	}
	game, err := engine.FromExchange(rec.Exchange())
	if err != nil {
		return nil, err
	}
	s.switchGame(game)
	return game, nil
}

// AllGames lists every locally stored game, most recently changed first.
func (s *Syncer) AllGames(ctx context.Context) ([]*model.GameRecord, error) {
	return s.store.Games(ctx)
}

// StoreStartupGameID records a handoff id to be consumed on next startup,
// e.g. when the app was opened through a shared game link.
func (s *Syncer) StoreStartupGameID(ctx context.Context, gameID string) error {
	return s.store.SetStartupGameID(ctx, gameID)
}

// newGameFromRemote materializes a fresh local game under a shared id from
// the service's replay parameters.
func (s *Syncer) newGameFromRemote(ctx context.Context, gameID string) (*engine.Game, error) {
	params, err := s.client.GameParams(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if params.Size < 2 || params.Size > 8 {
		return nil, fmt.Errorf("remote game has out-of-range size %d", params.Size)
	}
	seed, err := strconv.ParseUint(params.Seed, 10, 64)
	if err != nil {
		return nil, errors.New("remote game has invalid seed " + params.Seed)
	}
	game := engine.NewFromSeed(params.Size, seed, gameID)
	if err := s.storeGame(ctx, game); err != nil {
		return nil, err
	}
	return game, nil
}

// storeGame persists a game snapshot. A game that was never acknowledged by
// the service stays NEW; an acknowledged one turns DIRTY. Every store
// schedules a sync.
func (s *Syncer) storeGame(ctx context.Context, game *engine.Game) error {
	old, err := s.store.Game(ctx, game.ID())
	if err != nil {
		return err
	}
	state := model.StateDirty
	if old == nil || old.SyncState == model.StateNew {
		state = model.StateNew
	}
	rec := model.RecordFromExchange(game.Exchange(), state, s.clock.Now())
	if err := s.store.PutGame(ctx, rec); err != nil {
		return err
	}
	s.sched.Trigger()
	return nil
}

// switchGame is the single ownership transfer point for the live game: the
// previous owner slot is released unconditionally, on every path that
// reassigns it, and the mode resets to play.
func (s *Syncer) switchGame(game *engine.Game) {
	if game == nil {
		return
	}
	s.mu.Lock()
	s.current = game
	s.mode = ModePlay
	s.mu.Unlock()
}

func (s *Syncer) activeGameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID()
}

// runPass executes one reconciliation pass: player sync, then all-games
// sync, then a leaderboard refresh. The first failing step ends the pass
// early; the error is logged and the next pass retries, so no failure is
// fatal to the scheduler's liveness.
func (s *Syncer) runPass(ctx context.Context) {
	if err := s.syncPlayer(ctx); err != nil {
		s.log.Warn().Err(err).Msg("sync pass aborted during player sync")
		return
	}
	if err := s.syncGames(ctx); err != nil {
		s.log.Warn().Err(err).Msg("sync pass aborted during games sync")
		return
	}
}

func (s *Syncer) pollLeaderboard(ctx context.Context) {
	if err := s.refreshLeaderboard(ctx); err != nil {
		s.log.Debug().Err(err).Msg("leaderboard refresh failed")
	}
}

// rejected reports a reachable-but-rejecting response (4xx): the pass can
// skip this record and carry on. Server errors (5xx) are transient like a
// network failure and abort the remainder of the pass instead.
func rejected(err error) bool {
	var statusErr *remote.StatusError
	return errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500
}
