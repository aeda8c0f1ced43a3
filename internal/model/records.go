// Package model holds the portable records the local store persists and the
// reconcilers exchange with the remote service. Records are validated here,
// at the storage boundary, so malformed data never reaches reconciliation.
package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jhagmar/twenty48/internal/engine"
)

// SchemaVersion is the local storage layout version. Opening a store written
// by an unknown version fails instead of guessing.
const SchemaVersion = 1

// SyncState tracks how a record relates to its remote counterpart.
type SyncState int

const (
	// StateNew marks a record created locally and never acknowledged remotely.
	StateNew SyncState = 1
	// StateDirty marks a record modified locally after it was last clean.
	StateDirty SyncState = 2
	// StateClean marks a record that matches the last known remote state.
	StateClean SyncState = 3
)

func (s SyncState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDirty:
		return "dirty"
	case StateClean:
		return "clean"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// Valid reports whether s is one of the three known states.
func (s SyncState) Valid() bool {
	return s == StateNew || s == StateDirty || s == StateClean
}

// PlayerRecord is the local player singleton. ID is assigned once at first
// run and never changes.
type PlayerRecord struct {
	ID            string
	Name          string
	SyncState     SyncState
	LastChange    time.Time
	StartupGameID string
}

// GameRecord is one persisted game: identity, replay parameters, the
// append-only move log, and local sync bookkeeping.
type GameRecord struct {
	ID         string
	Size       int
	Seed       string
	Moves      []engine.Direction
	Score      int
	SyncState  SyncState
	LastChange time.Time
}

// Validate rejects records that cannot possibly reconstruct a game. It does
// not replay moves; engine.FromExchange does the deep check.
func (r *GameRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("game record has empty id")
	}
	if r.Size < 2 || r.Size > 8 {
		return fmt.Errorf("game record %s has out-of-range size %d", r.ID, r.Size)
	}
	if _, err := strconv.ParseUint(r.Seed, 10, 64); err != nil {
		return fmt.Errorf("game record %s has invalid seed %q", r.ID, r.Seed)
	}
	if r.Score < 0 {
		return fmt.Errorf("game record %s has negative score", r.ID)
	}
	for _, m := range r.Moves {
		if _, err := engine.ParseDirection(m.String()); err != nil {
			return fmt.Errorf("game record %s: %w", r.ID, err)
		}
	}
	if !r.SyncState.Valid() {
		return fmt.Errorf("game record %s has invalid sync state %d", r.ID, int(r.SyncState))
	}
	return nil
}

// Exchange converts the record to the engine's portable form.
func (r *GameRecord) Exchange() engine.Exchange {
	return engine.Exchange{
		ID:    r.ID,
		Score: r.Score,
		Seed:  r.Seed,
		Size:  r.Size,
		Moves: append([]engine.Direction(nil), r.Moves...),
	}
}

// RecordFromExchange wraps a portable game in a local record with the given
// sync bookkeeping.
func RecordFromExchange(x engine.Exchange, state SyncState, lastChange time.Time) *GameRecord {
	return &GameRecord{
		ID:         x.ID,
		Size:       x.Size,
		Seed:       x.Seed,
		Moves:      append([]engine.Direction(nil), x.Moves...),
		Score:      x.Score,
		SyncState:  state,
		LastChange: lastChange,
	}
}

// LeaderboardEntry is one row of the ranking for a game, as served remotely.
type LeaderboardEntry struct {
	DisplayName      string `json:"displayName"`
	Score            int    `json:"score"`
	RequestingPlayer bool   `json:"requestingPlayer"`
}
