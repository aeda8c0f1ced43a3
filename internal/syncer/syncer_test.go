package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/model"
	"github.com/jhagmar/twenty48/internal/remote"
	"github.com/jhagmar/twenty48/internal/server"
	"github.com/jhagmar/twenty48/internal/store"
)

// testEnv wires a full client/server pair: a Syncer over a temp-file store,
// talking to the real handlers over HTTP, backed by the in-memory repository.
type testEnv struct {
	sy     *Syncer
	store  *store.Store
	client *remote.Client
	repo   *server.MemoryRepository
	clock  *clockwork.FakeClock
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	repo := server.NewMemoryRepository()
	api := server.NewAPI(repo, clock, zerolog.Nop())
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := remote.NewClient(srv.URL + "/api")
	opts.Clock = clock
	opts.Logger = zerolog.Nop()
	sy := New(st, client, opts)

	return &testEnv{sy: sy, store: st, client: client, repo: repo, clock: clock}
}

// pass runs one reconciliation pass synchronously, bypassing the debounce.
func (e *testEnv) pass(t *testing.T) {
	t.Helper()
	e.sy.runPass(context.Background())
}

func (e *testEnv) playerID(t *testing.T) string {
	t.Helper()
	p, err := e.store.Player(context.Background())
	require.NoError(t, err)
	return p.ID
}

// extendRemotely plays one move on the server's copy of the game, as a second
// device would: fetch, replay, move, push.
func (e *testEnv) extendRemotely(t *testing.T, gameID string) *engine.Game {
	t.Helper()
	ctx := context.Background()
	x, err := e.client.GetGame(ctx, e.playerID(t), gameID)
	require.NoError(t, err)
	g, err := engine.FromExchange(*x)
	require.NoError(t, err)
	for _, d := range []engine.Direction{engine.Right, engine.Up, engine.Left, engine.Down} {
		next, ok := g.Move(d)
		if !ok {
			continue
		}
		_, err = e.client.PutGame(ctx, e.playerID(t), next.Exchange())
		require.NoError(t, err)
		return next
	}
	t.Fatal("no legal move on remote game")
	return nil
}

func TestInitializeStartsFreshGame(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))

	game := env.sy.CurrentGame()
	require.NotNil(t, game)
	assert.Equal(t, DefaultBoardSize, game.Size())
	assert.Empty(t, game.Moves())
	assert.Equal(t, ModePlay, env.sy.Mode())

	rec, err := env.store.Game(ctx, game.ID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StateNew, rec.SyncState)
}

func TestInitializeResumesMostRecentGame(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	first := env.sy.CurrentGame()
	_, moved, err := env.sy.MakeMove(ctx, firstLegalMove(t, first))
	require.NoError(t, err)
	require.True(t, moved)
	resumed := env.sy.CurrentGame()

	// A second session over the same store picks up where this one left off.
	env.sy = New(env.store, env.client, Options{Clock: env.clock, Logger: zerolog.Nop()})
	require.NoError(t, env.sy.Initialize(ctx))
	game := env.sy.CurrentGame()
	require.NotNil(t, game)
	assert.Equal(t, resumed.ID(), game.ID())
	assert.Equal(t, resumed.Moves(), game.Moves())
}

func firstLegalMove(t *testing.T, g *engine.Game) engine.Direction {
	t.Helper()
	for _, d := range []engine.Direction{engine.Right, engine.Up, engine.Left, engine.Down} {
		if _, ok := g.Move(d); ok {
			return d
		}
	}
	t.Fatal("no legal move")
	return 0
}

func TestFirstPassPushesNewGameAndPlayer(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	gameID := env.sy.CurrentGame().ID()

	env.pass(t)

	// The game is on the server and the local record is acknowledged.
	x, err := env.client.GetGame(ctx, env.playerID(t), gameID)
	require.NoError(t, err)
	assert.Equal(t, gameID, x.ID)

	rec, err := env.store.Game(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, model.StateClean, rec.SyncState)

	p, err := env.store.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateClean, p.SyncState)
}

func TestPassIsIdempotent(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.pass(t)

	var gameSwaps int
	env.sy.OnGameChange(func(GameEvent) { gameSwaps++ })

	before, err := env.store.Games(ctx)
	require.NoError(t, err)

	env.pass(t)
	env.pass(t)

	after, err := env.store.Games(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, gameSwaps, "settled passes must not replace the active game")
}

func TestLocalMovesArePushed(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.pass(t)

	game := env.sy.CurrentGame()
	for i := 0; i < 3; i++ {
		next, moved, err := env.sy.MakeMove(ctx, firstLegalMove(t, game))
		require.NoError(t, err)
		require.True(t, moved)
		game = next
	}

	// Moving marks the acknowledged record dirty again.
	rec, err := env.store.Game(ctx, game.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StateDirty, rec.SyncState)

	env.pass(t)

	x, err := env.client.GetGame(ctx, env.playerID(t), game.ID())
	require.NoError(t, err)
	assert.Equal(t, game.Moves(), x.Moves)
	assert.Equal(t, game.Score(), x.Score)
}

func TestRemoteAheadReplacesActiveGameWithOneNotification(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.pass(t)
	gameID := env.sy.CurrentGame().ID()

	remoteGame := env.extendRemotely(t, gameID)

	var events []GameEvent
	env.sy.OnGameChange(func(e GameEvent) { events = append(events, e) })

	env.pass(t)

	require.Len(t, events, 1, "exactly one notification per adoption")
	assert.Equal(t, remoteGame.Moves(), events[0].Game.Moves())
	assert.Equal(t, remoteGame.Moves(), env.sy.CurrentGame().Moves())

	rec, err := env.store.Game(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, model.StateClean, rec.SyncState)
	assert.Equal(t, remoteGame.Moves(), rec.Moves)

	// The adoption is stable: the next pass changes nothing.
	env.pass(t)
	assert.Len(t, events, 1)
}

func TestDivergedHistoriesRemoteWins(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.pass(t)
	gameID := env.sy.CurrentGame().ID()

	remoteGame := env.extendRemotely(t, gameID)

	// Play a different continuation locally while "offline".
	base := env.sy.CurrentGame()
	var localMove engine.Direction
	found := false
	for _, d := range []engine.Direction{engine.Down, engine.Left, engine.Up, engine.Right} {
		if d == remoteGame.Moves()[len(remoteGame.Moves())-1] {
			continue
		}
		if _, ok := base.Move(d); ok {
			localMove = d
			found = true
			break
		}
	}
	require.True(t, found, "board allows a diverging move")
	_, moved, err := env.sy.MakeMove(ctx, localMove)
	require.NoError(t, err)
	require.True(t, moved)

	var events []GameEvent
	env.sy.OnGameChange(func(e GameEvent) { events = append(events, e) })

	env.pass(t)

	// The divergent local line is discarded in favor of the remote one.
	require.Len(t, events, 1)
	assert.Equal(t, remoteGame.Moves(), env.sy.CurrentGame().Moves())

	x, err := env.client.GetGame(ctx, env.playerID(t), gameID)
	require.NoError(t, err)
	assert.Equal(t, remoteGame.Moves(), x.Moves)
}

func TestLocalAheadPushesWithoutNotification(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.pass(t)

	game := env.sy.CurrentGame()
	next, moved, err := env.sy.MakeMove(ctx, firstLegalMove(t, game))
	require.NoError(t, err)
	require.True(t, moved)

	var events []GameEvent
	env.sy.OnGameChange(func(e GameEvent) { events = append(events, e) })

	env.pass(t)

	assert.Empty(t, events, "pushing local progress must not disturb the session")
	x, err := env.client.GetGame(ctx, env.playerID(t), next.ID())
	require.NoError(t, err)
	assert.Equal(t, next.Moves(), x.Moves)
}

func TestPlayerNameLocalNewerWins(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.pass(t)

	env.clock.Advance(time.Minute)
	require.NoError(t, env.sy.SetPlayerName(ctx, "Anna"))
	env.pass(t)

	rp, err := env.client.GetPlayer(ctx, env.playerID(t))
	require.NoError(t, err)
	assert.Equal(t, "Anna", rp.DisplayName)

	p, err := env.store.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Anna", p.Name)
	assert.Equal(t, model.StateClean, p.SyncState)
}

func TestPlayerNameRemoteNewerWins(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	require.NoError(t, env.sy.SetPlayerName(ctx, "Local"))
	env.pass(t)

	var events []PlayerEvent
	env.sy.OnPlayerChange(func(e PlayerEvent) { events = append(events, e) })

	// Another device renamed the player later.
	updated, err := env.repo.UpdatePlayer(ctx, env.playerID(t), "Remote", env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, updated)

	env.pass(t)

	require.Len(t, events, 1)
	assert.Equal(t, "Remote", events[0].Name)

	p, err := env.store.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Remote", p.Name)
	assert.Equal(t, model.StateClean, p.SyncState)

	// Adopting an identical name again does not re-notify.
	env.pass(t)
	assert.Len(t, events, 1)
}

func TestNameEditSucceedsWhileOffline(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))

	// No pass runs at all; the edit must still land locally.
	require.NoError(t, env.sy.SetPlayerName(ctx, "Offline Name"))
	name, err := env.sy.PlayerName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Offline Name", name)
}

func TestRejectedGamePushLeavesRecordUnsynced(t *testing.T) {
	// The service only accepts 4×4 games; a 5×5 push gets a 400 and must
	// neither abort the pass nor mark the record clean.
	env := newTestEnv(t, Options{BoardSize: 5})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	gameID := env.sy.CurrentGame().ID()

	env.pass(t)

	rec, err := env.store.Game(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, rec.SyncState)

	// The player still synced: the pass carried on past the rejection.
	p, err := env.store.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateClean, p.SyncState)
}

func TestPullsGamesKnownOnlyRemotely(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.pass(t)

	// Another device created a second game under the same player.
	other := engine.NewFromSeed(4, 777, "other-game")
	_, err := env.client.PutGame(ctx, env.playerID(t), other.Exchange())
	require.NoError(t, err)

	env.pass(t)

	rec, err := env.store.Game(ctx, "other-game")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StateClean, rec.SyncState)
	assert.Equal(t, "777", rec.Seed)
}

func TestPushedGameSurvivesPruneInSamePass(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	firstID := env.sy.CurrentGame().ID()

	// Starting a second game leaves the first one NEW and non-active; the
	// pass that pushes it must not then prune it as unknown-to-remote.
	second, err := env.sy.NewGame(ctx)
	require.NoError(t, err)
	require.NotEqual(t, firstID, second.ID())

	env.pass(t)

	x, err := env.client.GetGame(ctx, env.playerID(t), firstID)
	require.NoError(t, err)
	assert.Equal(t, firstID, x.ID)

	rec, err := env.store.Game(ctx, firstID)
	require.NoError(t, err)
	require.NotNil(t, rec, "a game pushed this pass must not be pruned")
	assert.Equal(t, model.StateClean, rec.SyncState)

	// And the pass is settled: running it again changes nothing.
	before, err := env.store.Games(ctx)
	require.NoError(t, err)
	env.pass(t)
	after, err := env.store.Games(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPruneDeletesStaleGamesButKeepsActive(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	activeID := env.sy.CurrentGame().ID()

	stale := engine.NewFromSeed(4, 11, "stale-game")
	require.NoError(t, env.store.PutGame(ctx,
		model.RecordFromExchange(stale.Exchange(), model.StateClean, env.clock.Now())))

	// The remote id set lists neither game: only the stale one may go.
	require.NoError(t, env.sy.pruneStaleGames(ctx, map[string]bool{}))

	rec, err := env.store.Game(ctx, "stale-game")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = env.store.Game(ctx, activeID)
	require.NoError(t, err)
	assert.NotNil(t, rec, "the active game is never pruned")
}

func TestLeaderboardRefreshedAfterPass(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	require.NoError(t, env.sy.SetPlayerName(ctx, "Me"))
	env.pass(t)
	gameID := env.sy.CurrentGame().ID()

	// A rival plays the same game to a higher score.
	_, err := env.repo.CreatePlayer(ctx, "rival", "Rival", env.clock.Now())
	require.NoError(t, err)
	created, err := env.repo.CreatePlayerGame(ctx, "rival", gameID, `["Right"]`, 99999)
	require.NoError(t, err)
	require.True(t, created)

	var events []LeaderboardEvent
	env.sy.OnLeaderboardChange(func(e LeaderboardEvent) { events = append(events, e) })

	env.pass(t)

	require.NotEmpty(t, events)
	entries := env.sy.Leaderboard()
	require.Len(t, entries, 2)
	assert.Equal(t, "Rival", entries[0].DisplayName)
	assert.False(t, entries[0].RequestingPlayer)
	assert.Equal(t, "Me", entries[1].DisplayName)
	assert.True(t, entries[1].RequestingPlayer)
}

func TestStartupGameHandoff(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	// The shared game already exists on the server.
	_, err := env.repo.CreateGame(ctx, "shared-game", "555", 4)
	require.NoError(t, err)

	require.NoError(t, env.sy.StoreStartupGameID(ctx, "shared-game"))
	require.NoError(t, env.sy.Initialize(ctx))

	game := env.sy.CurrentGame()
	require.NotNil(t, game)
	assert.Equal(t, "shared-game", game.ID())
	assert.Equal(t, uint64(555), game.Seed())
	assert.Empty(t, game.Moves())

	// The handoff id is consumed: the next startup resumes normally.
	p, err := env.store.Player(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.StartupGameID)
}

func TestStartupGameHandoffRejectsBadParameters(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	// A size-1 board cannot host a playable game; the handoff must be
	// discarded and the session fall back to a fresh game.
	_, err := env.repo.CreateGame(ctx, "bad-game", "5", 1)
	require.NoError(t, err)

	require.NoError(t, env.sy.StoreStartupGameID(ctx, "bad-game"))
	require.NoError(t, env.sy.Initialize(ctx))

	game := env.sy.CurrentGame()
	require.NotNil(t, game)
	assert.NotEqual(t, "bad-game", game.ID())
	assert.Equal(t, DefaultBoardSize, game.Size())

	rec, err := env.store.Game(ctx, "bad-game")
	require.NoError(t, err)
	assert.Nil(t, rec, "the rejected handoff game is never stored")
}

func TestNoOpMoveChangesNothing(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	game := env.sy.CurrentGame()

	var noOp engine.Direction
	found := false
	for _, d := range []engine.Direction{engine.Right, engine.Up, engine.Left, engine.Down} {
		if _, ok := game.Move(d); !ok {
			noOp = d
			found = true
			break
		}
	}
	if !found {
		t.Skip("no no-op direction on this board")
	}

	got, moved, err := env.sy.MakeMove(ctx, noOp)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Same(t, game, got)

	rec, err := env.store.Game(ctx, game.ID())
	require.NoError(t, err)
	assert.Empty(t, rec.Moves)
}

func TestRejectedDistinguishesClientFromServerErrors(t *testing.T) {
	assert.True(t, rejected(&remote.StatusError{Code: 400}))
	assert.True(t, rejected(&remote.StatusError{Code: 409}))
	assert.False(t, rejected(&remote.StatusError{Code: 500}), "server errors are transient")
	assert.False(t, rejected(&remote.StatusError{Code: 503}))
	assert.False(t, rejected(remote.ErrNotFound))
	assert.False(t, rejected(context.Canceled))
	assert.False(t, rejected(nil))
}

func TestServerErrorAbortsPassWithoutMarkingClean(t *testing.T) {
	// A service that is up but failing must leave everything unsynced, the
	// same as an unreachable one.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"), clock)
	require.NoError(t, err)
	defer st.Close()

	sy := New(st, remote.NewClient(srv.URL+"/api"), Options{Clock: clock, Logger: zerolog.Nop()})
	ctx := context.Background()
	require.NoError(t, sy.Initialize(ctx))

	sy.runPass(ctx)

	p, err := st.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, p.SyncState)

	rec, err := st.Game(ctx, sy.CurrentGame().ID())
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, rec.SyncState)
}

func TestModeFollowsGameSwitches(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.sy.Initialize(ctx))
	env.sy.SetMode(ModeLeaderboard)
	assert.Equal(t, ModeLeaderboard, env.sy.Mode())

	_, err := env.sy.NewGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModePlay, env.sy.Mode(), "loading a game returns the session to play mode")
}
