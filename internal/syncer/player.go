package syncer

import (
	"context"
	"errors"

	"github.com/jhagmar/twenty48/internal/remote"
)

// syncPlayer reconciles the player record by last-write-wins on lastChange.
// When the remote copy is absent or not newer, the local record is pushed
// and the server's authoritative response adopted; when the remote copy is
// strictly newer, it is adopted directly. Player observers are notified only
// if the visible name actually changed.
func (s *Syncer) syncPlayer(ctx context.Context) error {
	local, err := s.store.Player(ctx)
	if err != nil {
		return err
	}

	rp, err := s.client.GetPlayer(ctx, local.ID)
	switch {
	case err == nil && rp.LastChange.After(local.LastChange):
		return s.adoptRemotePlayer(ctx, local.Name, rp)

	case err == nil || errors.Is(err, remote.ErrNotFound):
		resp, perr := s.client.PutPlayer(ctx, local.ID, remote.Player{
			DisplayName: local.Name,
			LastChange:  local.LastChange,
		})
		if perr != nil {
			if rejected(perr) {
				s.log.Warn().Err(perr).Msg("player push rejected; leaving record unsynced")
				return nil
			}
			return perr
		}
		// The server is the tie-break authority: its lastChange wins over
		// the client's optimistic value.
		if resp.LastChange.After(local.LastChange) {
			return s.adoptRemotePlayer(ctx, local.Name, resp)
		}
		return s.store.MarkPlayerClean(ctx)

	default:
		if rejected(err) {
			s.log.Warn().Err(err).Msg("player fetch rejected; leaving record unsynced")
			return nil
		}
		return err
	}
}

func (s *Syncer) adoptRemotePlayer(ctx context.Context, oldName string, rp *remote.Player) error {
	if err := s.store.AdoptRemotePlayer(ctx, rp.DisplayName, rp.LastChange); err != nil {
		return err
	}
	if rp.DisplayName != oldName {
		s.bus.notifyPlayer(PlayerEvent{Name: rp.DisplayName})
	}
	return nil
}
