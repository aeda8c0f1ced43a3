package engine

// rng is a splitmix64 generator. The generator state lives inside the Game
// value so that replaying the same move list from the same seed always
// reproduces the same board, on every platform.
type rng struct {
	state uint64
}

func newRNG(seed uint64) rng {
	return rng{state: seed}
}

func (r *rng) next() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// intn returns a value in [0, n). n must be positive.
func (r *rng) intn(n int) int {
	return int(r.next() % uint64(n))
}
