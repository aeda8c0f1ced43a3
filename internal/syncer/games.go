package syncer

import (
	"context"
	"errors"

	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/model"
	"github.com/jhagmar/twenty48/internal/remote"
)

// syncGames reconciles the full game set against the service, in order:
// push unacknowledged games, pull remote games unseen locally, prune local
// games the service no longer lists (except the active one), reconcile every
// id known on both sides, and finally refresh the leaderboard. Pruning and
// pulling always work from the same freshly fetched remote id set, fetched
// after the push step so a game pushed this pass is already listed.
func (s *Syncer) syncGames(ctx context.Context) error {
	player, err := s.store.Player(ctx)
	if err != nil {
		return err
	}

	if err := s.pushNewGames(ctx, player.ID); err != nil {
		return err
	}
	remoteIDs, idsKnown, err := s.remoteGameIDs(ctx, player.ID)
	if err != nil {
		return err
	}
	if idsKnown {
		if err := s.pullNewRemoteGames(ctx, player.ID, remoteIDs); err != nil {
			return err
		}
		if err := s.pruneStaleGames(ctx, remoteIDs); err != nil {
			return err
		}
	}
	if err := s.reconcileGames(ctx, player.ID); err != nil {
		return err
	}
	return s.refreshLeaderboard(ctx)
}

// remoteGameIDs fetches the authoritative id set. A rejecting response
// leaves the set unknown for this pass; pull and prune are then skipped.
func (s *Syncer) remoteGameIDs(ctx context.Context, playerID string) (map[string]bool, bool, error) {
	ids, err := s.client.GameIDs(ctx, playerID)
	if err != nil {
		if rejected(err) || errors.Is(err, remote.ErrNotFound) {
			s.log.Warn().Err(err).Msg("remote game id list unavailable this pass")
			return nil, false, nil
		}
		return nil, false, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, true, nil
}

// pushNewGames upserts every locally created, never-acknowledged game.
func (s *Syncer) pushNewGames(ctx context.Context, playerID string) error {
	records, err := s.store.GamesByState(ctx, model.StateNew)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := s.client.PutGame(ctx, playerID, rec.Exchange()); err != nil {
			if rejected(err) {
				s.log.Warn().Err(err).Str("game_id", rec.ID).Msg("game push rejected; leaving record unsynced")
				continue
			}
			return err
		}
		if err := s.store.MarkGameClean(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// pullNewRemoteGames stores remote games with ids unseen locally, as CLEAN.
func (s *Syncer) pullNewRemoteGames(ctx context.Context, playerID string, remoteIDs map[string]bool) error {
	local, err := s.store.Games(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(local))
	for _, rec := range local {
		seen[rec.ID] = true
	}
	for id := range remoteIDs {
		if seen[id] {
			continue
		}
		x, err := s.client.GetGame(ctx, playerID, id)
		if err != nil {
			if rejected(err) || errors.Is(err, remote.ErrNotFound) {
				continue
			}
			return err
		}
		rec := model.RecordFromExchange(*x, model.StateClean, s.clock.Now())
		if err := s.store.PutGame(ctx, rec); err != nil {
			s.log.Warn().Err(err).Str("game_id", id).Msg("pulled remote game failed validation; skipping")
			continue
		}
	}
	return nil
}

// pruneStaleGames deletes local games the service no longer lists. The
// active game is always retained, even when unacknowledged, so live session
// state is never deleted out from under the player.
func (s *Syncer) pruneStaleGames(ctx context.Context, remoteIDs map[string]bool) error {
	local, err := s.store.Games(ctx)
	if err != nil {
		return err
	}
	activeID := s.activeGameID()
	var stale []string
	for _, rec := range local {
		if !remoteIDs[rec.ID] && rec.ID != activeID {
			stale = append(stale, rec.ID)
		}
	}
	if len(stale) > 0 {
		s.log.Info().Strs("game_ids", stale).Msg("pruning games absent from remote")
	}
	return s.store.DeleteGames(ctx, stale)
}

// reconcileGames runs per-id conflict resolution for every local game that
// also exists remotely.
func (s *Syncer) reconcileGames(ctx context.Context, playerID string) error {
	records, err := s.store.Games(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		x, err := s.client.GetGame(ctx, playerID, rec.ID)
		if err != nil {
			if rejected(err) || errors.Is(err, remote.ErrNotFound) {
				continue
			}
			return err
		}
		if err := s.reconcileGame(ctx, playerID, rec, x); err != nil {
			return err
		}
	}
	return nil
}

// reconcileGame resolves one local/remote pair by history ancestry. Because
// the move log is append-only, ancestry is the only conflict signal needed:
// a remote ancestor means local is strictly ahead and gets pushed; any other
// relationship (remote ahead, or diverged) means remote wins and overwrites
// local, favoring a single cross-device source of truth over preserving
// divergent local play.
func (s *Syncer) reconcileGame(ctx context.Context, playerID string, rec *model.GameRecord, x *engine.Exchange) error {
	remoteGame, err := engine.FromExchange(*x)
	if err != nil {
		// Corrupt remote record: leave the local side untouched.
		s.log.Warn().Str("game_id", rec.ID).Msg("remote game record does not replay; skipping")
		return nil
	}
	localGame, err := engine.FromExchange(rec.Exchange())
	if err != nil {
		// Corrupt local record: the remote side is authoritative.
		s.log.Warn().Str("game_id", rec.ID).Msg("local game record does not replay; adopting remote")
		return s.replaceGameWithRemote(ctx, x, remoteGame)
	}

	if remoteGame.IsAncestor(localGame) {
		if len(x.Moves) >= len(rec.Moves) {
			// Equal histories: already in sync.
			return nil
		}
		if _, err := s.client.PutGame(ctx, playerID, rec.Exchange()); err != nil {
			if rejected(err) {
				s.log.Warn().Err(err).Str("game_id", rec.ID).Msg("game push rejected; leaving record unsynced")
				return nil
			}
			return err
		}
		return s.store.MarkGameClean(ctx, rec.ID)
	}
	return s.replaceGameWithRemote(ctx, x, remoteGame)
}

// replaceGameWithRemote overwrites the local record with the remote version.
// If the id is the active game, the live game object is swapped to the
// reconstructed remote game and game observers are notified: the player's
// view jumps to the server-confirmed state.
func (s *Syncer) replaceGameWithRemote(ctx context.Context, x *engine.Exchange, remoteGame *engine.Game) error {
	if err := s.store.ReplaceGameFromRemote(ctx, *x, s.clock.Now()); err != nil {
		return err
	}
	if x.ID == s.activeGameID() {
		s.switchGame(remoteGame)
		s.bus.notifyGame(GameEvent{Game: remoteGame})
	}
	return nil
}

// refreshLeaderboard fetches the ranking for the active game and publishes
// it on success.
func (s *Syncer) refreshLeaderboard(ctx context.Context) error {
	gameID := s.activeGameID()
	if gameID == "" {
		return nil
	}
	player, err := s.store.Player(ctx)
	if err != nil {
		return err
	}
	entries, err := s.client.Leaderboard(ctx, player.ID, gameID)
	if err != nil {
		if rejected(err) || errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.leaderboard = entries
	s.mu.Unlock()
	s.bus.notifyLeaderboard(LeaderboardEvent{Entries: entries})
	return nil
}
