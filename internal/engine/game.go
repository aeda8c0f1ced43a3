// Package engine implements the puzzle rules: a size×size board of merging
// tiles, deterministic seeded tile spawning, and history-ancestry comparison
// between two games of the same identity.
//
// Game values are immutable: Move returns a new Game and leaves the receiver
// untouched, so a game's full state is always reconstructible by replaying
// its move list from (size, seed).
package engine

import (
	"math/rand/v2"

	"github.com/google/uuid"
)

// Tile is one occupied board cell. MergedWith holds the id of the tile this
// one absorbed on the most recent move, for UIs that animate merges.
type Tile struct {
	ID         int
	Value      int
	MergedWith *int
}

// Game is an immutable snapshot of one puzzle game.
type Game struct {
	id         string
	score      int
	gameOver   bool
	seed       uint64
	rng        rng
	size       int
	nextTileID int
	tiles      []*Tile
	moves      []Direction
}

// New creates a game with a random seed and a fresh identifier.
func New(size int) *Game {
	return NewFromSeed(size, rand.Uint64(), uuid.NewString())
}

// NewFromSeed creates a game deterministically from a seed: an empty board
// plus the two initial tiles the seed dictates.
func NewFromSeed(size int, seed uint64, id string) *Game {
	g := &Game{
		id:    id,
		seed:  seed,
		rng:   newRNG(seed),
		size:  size,
		tiles: make([]*Tile, size*size),
	}
	g = g.addTile()
	return g.addTile()
}

func (g *Game) ID() string         { return g.id }
func (g *Game) Seed() uint64       { return g.seed }
func (g *Game) Size() int          { return g.size }
func (g *Game) Score() int         { return g.score }
func (g *Game) Over() bool         { return g.gameOver }
func (g *Game) Moves() []Direction { return append([]Direction(nil), g.moves...) }

// Tile returns the tile at (row, col), or nil for an empty cell.
func (g *Game) Tile(row, col int) *Tile {
	return g.tiles[row*g.size+col]
}

func (g *Game) clone() *Game {
	rv := *g
	rv.tiles = make([]*Tile, len(g.tiles))
	for i, t := range g.tiles {
		if t != nil {
			c := *t
			rv.tiles[i] = &c
		}
	}
	rv.moves = append([]Direction(nil), g.moves...)
	return &rv
}

// lineIndices returns, per board line, the cell indices ordered from the
// edge tiles slide toward.
func lineIndices(size int, d Direction) [][]int {
	lines := make([][]int, size)
	for i := 0; i < size; i++ {
		line := make([]int, size)
		for j := 0; j < size; j++ {
			switch d {
			case Left:
				line[j] = i*size + j
			case Right:
				line[j] = i*size + (size - 1 - j)
			case Up:
				line[j] = j*size + i
			case Down:
				line[j] = (size-1-j)*size + i
			}
		}
		lines[i] = line
	}
	return lines
}

// slide compacts and merges tiles toward d. Each destination tile merges at
// most once per move. Returns nil, false when nothing changes.
func (g *Game) slide(d Direction) (*Game, bool) {
	if g.gameOver {
		return nil, false
	}
	rv := g.clone()
	for _, t := range rv.tiles {
		if t != nil {
			t.MergedWith = nil
		}
	}
	changed := false
	for _, line := range lineIndices(rv.size, d) {
		dst := 0
		for src := 1; src < len(line); src++ {
			t := rv.tiles[line[src]]
			if t == nil {
				continue
			}
			for dst < src {
				target := rv.tiles[line[dst]]
				if target == nil {
					rv.tiles[line[dst]] = t
					rv.tiles[line[src]] = nil
					changed = true
					break
				}
				if target.Value == t.Value && target.MergedWith == nil && line[dst] != line[src] {
					mergedID := target.ID
					rv.tiles[line[dst]] = &Tile{
						ID:         t.ID,
						Value:      t.Value + target.Value,
						MergedWith: &mergedID,
					}
					rv.tiles[line[src]] = nil
					rv.score += t.Value + target.Value
					dst++
					changed = true
					break
				}
				dst++
			}
		}
	}
	if !changed {
		return nil, false
	}
	rv.moves = append(rv.moves, d)
	rv.updateGameOver()
	return rv, true
}

// addTile spawns one tile on a random empty cell: value 4 one time in nine,
// 2 otherwise. Returns nil when the game is over or the board is full.
func (g *Game) addTile() *Game {
	if g.gameOver {
		return nil
	}
	var empty []int
	for i, t := range g.tiles {
		if t == nil {
			empty = append(empty, i)
		}
	}
	if len(empty) == 0 {
		return nil
	}
	rv := g.clone()
	idx := empty[rv.rng.intn(len(empty))]
	value := 2
	if rv.rng.intn(9) == 0 {
		value = 4
	}
	rv.tiles[idx] = &Tile{ID: rv.nextTileID, Value: value}
	rv.nextTileID++
	rv.updateGameOver()
	return rv
}

func (g *Game) updateGameOver() {
	for _, t := range g.tiles {
		if t == nil {
			return
		}
	}
	if g.canMerge(Down) || g.canMerge(Right) {
		return
	}
	g.gameOver = true
}

func (g *Game) canMerge(d Direction) bool {
	for _, line := range lineIndices(g.size, d) {
		for i := 1; i < len(line); i++ {
			a, b := g.tiles[line[i-1]], g.tiles[line[i]]
			if a != nil && b != nil && a.Value == b.Value {
				return true
			}
		}
	}
	return false
}

// Move applies one player move: slide toward d, then spawn a tile. Returns
// nil, false when the move is a no-op.
func (g *Game) Move(d Direction) (*Game, bool) {
	slid, ok := g.slide(d)
	if !ok {
		return nil, false
	}
	spawned := slid.addTile()
	if spawned == nil {
		return nil, false
	}
	return spawned, true
}

// equal reports full state equality, including RNG position.
func (g *Game) equal(other *Game) bool {
	if g.id != other.id || g.seed != other.seed || g.size != other.size ||
		g.score != other.score || g.gameOver != other.gameOver ||
		g.nextTileID != other.nextTileID || g.rng != other.rng ||
		len(g.moves) != len(other.moves) {
		return false
	}
	for i := range g.moves {
		if g.moves[i] != other.moves[i] {
			return false
		}
	}
	for i := range g.tiles {
		a, b := g.tiles[i], other.tiles[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a == nil {
			continue
		}
		if a.ID != b.ID || a.Value != b.Value {
			return false
		}
	}
	return true
}

// IsAncestor reports whether g's history is a prefix of other's for the same
// game identity. Equal histories count as ancestry. The suffix is replayed
// and checked, so a record whose extra moves are illegal is not a descendant.
func (g *Game) IsAncestor(other *Game) bool {
	if g.id != other.id || g.seed != other.seed || g.size != other.size {
		return false
	}
	if len(g.moves) > len(other.moves) {
		return false
	}
	for i := range g.moves {
		if g.moves[i] != other.moves[i] {
			return false
		}
	}
	if len(g.moves) == len(other.moves) {
		return g.equal(other)
	}
	cur := g
	for _, d := range other.moves[len(g.moves):] {
		next, ok := cur.Move(d)
		if !ok {
			return false
		}
		cur = next
	}
	return cur.equal(other)
}
