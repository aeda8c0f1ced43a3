package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeRoundTrip(t *testing.T) {
	g := NewFromSeed(4, 424242, "g1")
	for i := 0; i < 10; i++ {
		g = playAnyMove(t, g)
	}

	rebuilt, err := FromExchange(g.Exchange())
	require.NoError(t, err)
	assert.True(t, g.equal(rebuilt))
	assert.Equal(t, g.Exchange(), rebuilt.Exchange())
}

func TestExchangeWireFormat(t *testing.T) {
	g := NewFromSeed(4, 17, "abc")
	x := g.Exchange()
	x.Player = "Anna"

	data, err := json.Marshal(x)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Anna", raw["player"])
	assert.Equal(t, "abc", raw["id"])
	assert.Equal(t, "17", raw["seed"], "seed travels as a decimal string")
	assert.Equal(t, float64(4), raw["size"])
}

func TestFromExchangeRejectsBadSeed(t *testing.T) {
	x := NewFromSeed(4, 1, "g1").Exchange()
	x.Seed = "not-a-number"

	_, err := FromExchange(x)
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestFromExchangeRejectsBadSize(t *testing.T) {
	x := NewFromSeed(4, 1, "g1").Exchange()
	x.Size = 1

	_, err := FromExchange(x)
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestFromExchangeRejectsScoreMismatch(t *testing.T) {
	g := NewFromSeed(4, 33, "g1")
	g = playAnyMove(t, g)

	x := g.Exchange()
	x.Score++

	_, err := FromExchange(x)
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestFromExchangeRejectsIllegalMove(t *testing.T) {
	// Find a position with at least one no-op direction and append that
	// direction to the history: the replay must fail.
	for seed := uint64(0); seed < 200; seed++ {
		g := NewFromSeed(4, seed, "g1")
		for _, d := range []Direction{Right, Up, Left, Down} {
			if _, ok := g.Move(d); ok {
				continue
			}
			x := g.Exchange()
			x.Moves = append(x.Moves, d)
			_, err := FromExchange(x)
			assert.ErrorIs(t, err, ErrBadRecord)
			return
		}
	}
	t.Fatal("no seed produced a position with a no-op direction")
}

func TestDirectionWireNames(t *testing.T) {
	data, err := json.Marshal([]Direction{Right, Up, Left, Down})
	require.NoError(t, err)
	assert.JSONEq(t, `["Right","Up","Left","Down"]`, string(data))

	var moves []Direction
	require.NoError(t, json.Unmarshal([]byte(`["Down","Left"]`), &moves))
	assert.Equal(t, []Direction{Down, Left}, moves)

	assert.Error(t, json.Unmarshal([]byte(`["Sideways"]`), &moves))
}
