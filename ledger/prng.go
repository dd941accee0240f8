package ledger

import (
	"encoding/binary"
	"fmt"

	"go.dedis.ch/kyber/v4/util/random"
	"go.dedis.ch/kyber/v4/xof/blake2xb"
)

// drawRange is the exclusive upper bound of a draw value. A draw wins when its
// value is below the configured win percentage.
const drawRange = 100

// DrawFunc advances the reward PRNG. It returns the next seed and a value in
// [0, 100). It must be deterministic: the same seed always yields the same
// pair.
type DrawFunc func(seed uint64) (next uint64, value uint64)

// Blake2xbDraw is the default DrawFunc. The seed is expanded through the
// BLAKE2Xb extendable output function: the first eight bytes become the next
// seed and the following eight are reduced to the draw value.
func Blake2xbDraw(seed uint64) (uint64, uint64) {
	var in [8]byte
	binary.BigEndian.PutUint64(in[:], seed)

	var out [16]byte
	xof := blake2xb.New(in[:])
	if _, err := xof.Read(out[:]); err != nil {
		// an XOF stream never runs dry for 16 bytes
		panic(fmt.Sprintf("blake2xb read: %v", err))
	}
	return binary.BigEndian.Uint64(out[:8]), binary.BigEndian.Uint64(out[8:]) % drawRange
}

// RandomSeed returns a non-zero seed read from the system randomness source.
func RandomSeed() uint64 {
	stream := random.New()
	var b [8]byte
	for {
		stream.XORKeyStream(b[:], b[:])
		if seed := binary.BigEndian.Uint64(b[:]); seed != 0 {
			return seed
		}
	}
}
