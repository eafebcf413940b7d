package handler

import (
	"math/rand"
	"sync"
)

// PositionSource supplies the initial x,y coordinates assigned to a player
// on join. The default implementation is process-wide and non-deterministic;
// tests inject a fixed-sequence stub to make join scenarios reproducible.
type PositionSource interface {
	Next() (x, y float64)
}

// randomPositionSource samples uniformly from [0,800)x[0,600), matching the
// play-field bounds assumed by the join routing table. Next is called
// concurrently from every connection's own read goroutine, so access to rng
// (not safe for concurrent use on its own) is serialized with mu.
type randomPositionSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPositionSource constructs the default, non-deterministic
// PositionSource.
func NewRandomPositionSource() PositionSource {
	return &randomPositionSource{rng: rand.New(rand.NewSource(rand.Int63()))}
}

func (s *randomPositionSource) Next() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 800, s.rng.Float64() * 600
}

// colorPalette is the deterministic fallback used when a JOIN_ROOM payload
// omits a color. Index is chosen by the count of players already in the
// room at join time, so distinct joiners get distinct colors until the
// palette wraps.
var colorPalette = [8]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

func paletteColor(index int) string {
	return colorPalette[index%len(colorPalette)]
}
