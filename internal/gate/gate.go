package gate

import (
	"fmt"
	"math"
	"sync"
)

// Gate is the silence heuristic: chunks whose RMS level falls below the
// threshold are skipped without ever reaching the recognizer. False
// skips and false passes are acceptable; the point is to avoid feeding
// the model near-silent input it is known to hallucinate on.
type Gate struct {
	threshold float64

	mu      sync.Mutex
	seen    uint64
	skipped uint64
}

// Decision reports the gate's verdict for one chunk.
type Decision struct {
	Pass  bool
	Level float64
}

// Stats summarizes gate activity for the session so far.
type Stats struct {
	ChunksSeen    uint64
	ChunksSkipped uint64
}

func New(threshold float64) (*Gate, error) {
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in [0, 1), got %f", threshold)
	}
	return &Gate{threshold: threshold}, nil
}

// Check computes the RMS level of the samples, normalized to [0, 1],
// and compares it against the threshold. Empty input never passes.
func (g *Gate) Check(samples []int16) Decision {
	g.mu.Lock()
	g.seen++
	g.mu.Unlock()

	level := rms(samples)
	pass := len(samples) > 0 && level >= g.threshold
	if !pass {
		g.mu.Lock()
		g.skipped++
		g.mu.Unlock()
	}
	return Decision{Pass: pass, Level: level}
}

func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{ChunksSeen: g.seen, ChunksSkipped: g.skipped}
}

func (g *Gate) Threshold() float64 {
	return g.threshold
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		energy += f * f
	}
	return math.Sqrt(energy / float64(len(samples)))
}
