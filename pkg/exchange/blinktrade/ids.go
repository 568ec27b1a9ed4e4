package blinktrade

import (
	"math/rand/v2"
	"sync/atomic"
)

// newIDSource returns a goroutine-safe request id generator. Ids start at a
// random offset so that two clients of one account rarely collide.
func newIDSource() func() int64 {
	var next atomic.Int64
	next.Store(rand.Int64N(1e7) + 1)
	return func() int64 {
		return next.Add(1)
	}
}
