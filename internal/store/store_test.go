package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/model"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, clock
}

func testRecord(id string, state model.SyncState, lastChange time.Time) *model.GameRecord {
	return &model.GameRecord{
		ID:         id,
		Size:       4,
		Seed:       "42",
		Moves:      []engine.Direction{engine.Left},
		Score:      4,
		SyncState:  state,
		LastChange: lastChange,
	}
}

func TestPlayerCreatedOnFirstAccess(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	p, err := st.Player(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Empty(t, p.Name)
	assert.Equal(t, model.StateNew, p.SyncState)
	assert.Equal(t, clock.Now().UnixMilli(), p.LastChange.UnixMilli())

	// The identity is stable across accesses.
	again, err := st.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestPlayerSurvivesReopen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	path := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(path, clock)
	require.NoError(t, err)
	p, err := st.Player(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path, clock)
	require.NoError(t, err)
	defer st.Close()
	again, err := st.Player(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestSetPlayerNameStateTransitions(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	_, err := st.Player(ctx)
	require.NoError(t, err)

	// A NEW record stays NEW when edited: it was never acknowledged.
	p, err := st.SetPlayerName(ctx, "Anna")
	require.NoError(t, err)
	assert.Equal(t, "Anna", p.Name)
	assert.Equal(t, model.StateNew, p.SyncState)

	require.NoError(t, st.MarkPlayerClean(ctx))
	clock.Advance(time.Second)

	// A CLEAN record turns DIRTY on edit, with last change moved forward.
	p, err = st.SetPlayerName(ctx, "Beata")
	require.NoError(t, err)
	assert.Equal(t, model.StateDirty, p.SyncState)
	assert.Equal(t, clock.Now().UnixMilli(), p.LastChange.UnixMilli())
}

func TestAdoptRemotePlayer(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Player(ctx)
	require.NoError(t, err)

	remoteChange := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, st.AdoptRemotePlayer(ctx, "Carol", remoteChange))

	p, err := st.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Carol", p.Name)
	assert.Equal(t, model.StateClean, p.SyncState)
	assert.Equal(t, remoteChange.UnixMilli(), p.LastChange.UnixMilli())
}

func TestStartupGameID(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Player(ctx)
	require.NoError(t, err)

	require.NoError(t, st.SetStartupGameID(ctx, "g9"))
	p, err := st.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g9", p.StartupGameID)

	require.NoError(t, st.ClearStartupGameID(ctx))
	p, err = st.Player(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.StartupGameID)
}

func TestSetStartupGameIDOnFreshStore(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	// A shared link can be the first thing to touch a fresh install; the
	// handoff id must survive even though no player row exists yet.
	require.NoError(t, st.SetStartupGameID(ctx, "shared"))

	p, err := st.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shared", p.StartupGameID)
	assert.Equal(t, model.StateNew, p.SyncState)
}

func TestPutGameRoundTrip(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("g1", model.StateNew, clock.Now())
	require.NoError(t, st.PutGame(ctx, rec))

	got, err := st.Game(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Seed, got.Seed)
	assert.Equal(t, rec.Moves, got.Moves)
	assert.Equal(t, rec.Score, got.Score)
	assert.Equal(t, model.StateNew, got.SyncState)
}

func TestPutGameRejectsInvalidRecord(t *testing.T) {
	st, clock := newTestStore(t)

	rec := testRecord("g1", model.StateNew, clock.Now())
	rec.Seed = "bogus"
	assert.Error(t, st.PutGame(context.Background(), rec))
}

func TestGameReturnsNilWhenUnknown(t *testing.T) {
	st, _ := newTestStore(t)

	got, err := st.Game(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGamesOrderedByLastChange(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGame(ctx, testRecord("old", model.StateClean, clock.Now())))
	clock.Advance(time.Minute)
	require.NoError(t, st.PutGame(ctx, testRecord("new", model.StateClean, clock.Now())))

	all, err := st.Games(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "old", all[1].ID)

	recent, err := st.MostRecentGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", recent.ID)
}

func TestGamesByState(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGame(ctx, testRecord("a", model.StateNew, clock.Now())))
	require.NoError(t, st.PutGame(ctx, testRecord("b", model.StateClean, clock.Now())))
	require.NoError(t, st.PutGame(ctx, testRecord("c", model.StateNew, clock.Now())))

	fresh, err := st.GamesByState(ctx, model.StateNew)
	require.NoError(t, err)
	ids := []string{fresh[0].ID, fresh[1].ID}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestDeleteGames(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.PutGame(ctx, testRecord(id, model.StateClean, clock.Now())))
	}

	require.NoError(t, st.DeleteGames(ctx, []string{"a", "c"}))
	all, err := st.Games(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)

	// Deleting nothing is a no-op, not an error.
	require.NoError(t, st.DeleteGames(ctx, nil))
}

func TestMarkGameClean(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGame(ctx, testRecord("g1", model.StateNew, clock.Now())))
	require.NoError(t, st.MarkGameClean(ctx, "g1"))

	got, err := st.Game(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, model.StateClean, got.SyncState)
}

func TestReplaceGameFromRemote(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutGame(ctx, testRecord("g1", model.StateDirty, clock.Now())))

	clock.Advance(time.Second)
	x := engine.Exchange{
		ID:    "g1",
		Score: 16,
		Seed:  "42",
		Size:  4,
		Moves: []engine.Direction{engine.Left, engine.Up, engine.Up},
	}
	require.NoError(t, st.ReplaceGameFromRemote(ctx, x, clock.Now()))

	got, err := st.Game(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 16, got.Score)
	assert.Equal(t, x.Moves, got.Moves)
	assert.Equal(t, model.StateClean, got.SyncState)
	assert.Equal(t, clock.Now().UnixMilli(), got.LastChange.UnixMilli())
}

func TestNewPlayerClearsGames(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()

	// Games written before the player row exists belong to no identity and
	// are dropped when the singleton is created.
	require.NoError(t, st.PutGame(ctx, testRecord("orphan", model.StateClean, clock.Now())))

	_, err := st.Player(ctx)
	require.NoError(t, err)

	all, err := st.Games(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
