package sim

import (
	"hash/fnv"
	"math/rand"
)

// SimulationKey seeds one reproducible run. Two runs with the same key and
// the same pipeline resolve the same events at the same ticks.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Stream names an independent random source inside a run.
type Stream string

const (
	// StreamArrivals drives inter-arrival times. It uses the seed itself, so
	// --seed alone reproduces the arrival pattern of any pipeline.
	StreamArrivals Stream = "arrivals"
	// StreamKeys samples event keys.
	StreamKeys Stream = "keys"
	// StreamIDs feeds the monotonic entropy of event IDs.
	StreamIDs Stream = "ids"
)

// StageStream is the stream of the stochastic stage with the given name.
// Adding a stage never perturbs the draws of the others.
func StageStream(name string) Stream {
	return Stream("stage/" + name)
}

// PartitionedRNG hands out one cached *rand.Rand per stream. Streams other
// than StreamArrivals are seeded with seed XOR fnv1a64(stream).
//
// Thread-safety: NOT thread-safe, like the rest of a simulation run.
type PartitionedRNG struct {
	key     SimulationKey
	streams map[Stream]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, streams: make(map[Stream]*rand.Rand)}
}

// Stream returns the source of s, creating it on first use.
func (p *PartitionedRNG) Stream(s Stream) *rand.Rand {
	if rng, ok := p.streams[s]; ok {
		return rng
	}
	seed := int64(p.key)
	if s != StreamArrivals {
		h := fnv.New64a()
		h.Write([]byte(s))
		seed ^= int64(h.Sum64())
	}
	rng := rand.New(rand.NewSource(seed))
	p.streams[s] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}
