package engine

import (
	"errors"
	"strconv"
)

// Exchange is the portable record of a game: everything needed to rebuild it
// by replay. It is both the wire format and the shape persisted locally.
// Seed travels as a decimal string so JSON consumers never round it.
type Exchange struct {
	Player string      `json:"player"`
	ID     string      `json:"id"`
	Score  int         `json:"score"`
	Seed   string      `json:"seed"`
	Size   int         `json:"size"`
	Moves  []Direction `json:"moves"`
}

var (
	// ErrBadRecord marks a portable record that does not reconstruct into a
	// valid game: unparseable seed, an illegal move in the list, or a score
	// that disagrees with the replay.
	ErrBadRecord = errors.New("game record does not replay to a valid game")
)

// Exchange converts a live game into its portable record.
func (g *Game) Exchange() Exchange {
	return Exchange{
		ID:    g.id,
		Score: g.score,
		Seed:  strconv.FormatUint(g.seed, 10),
		Size:  g.size,
		Moves: g.Moves(),
	}
}

// FromExchange rebuilds a game by replaying the record's move list from its
// seed. The replay validates the record: any illegal move or score mismatch
// returns ErrBadRecord.
func FromExchange(x Exchange) (*Game, error) {
	seed, err := strconv.ParseUint(x.Seed, 10, 64)
	if err != nil {
		return nil, ErrBadRecord
	}
	if x.Size < 2 {
		return nil, ErrBadRecord
	}
	g := NewFromSeed(x.Size, seed, x.ID)
	for _, d := range x.Moves {
		next, ok := g.Move(d)
		if !ok {
			return nil, ErrBadRecord
		}
		g = next
	}
	if g.score != x.Score {
		return nil, ErrBadRecord
	}
	return g, nil
}
