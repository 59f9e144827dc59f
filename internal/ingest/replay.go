package ingest

import (
	"hash/maphash"
	"sync"
)

// DefaultReplayShards is the shard count used when none is configured.
const DefaultReplayShards = 64

// noSequence is the implicit last sequence of a device never seen before,
// so that any non-negative first sequence is accepted.
const noSequence int64 = -1

// ReplayGuard tracks the last accepted sequence number per device and
// rejects anything that does not move it strictly forward.
//
// The device map is split into shards, each guarded by its own mutex, so
// devices on different shards never contend. A guard with one shard is a
// single global lock. Entries are created on first acceptance and are
// never evicted.
//
// All methods are safe for concurrent use.
type ReplayGuard struct {
	seed   maphash.Seed
	shards []replayShard
}

type replayShard struct {
	mu   sync.Mutex
	last map[string]int64
}

// NewReplayGuard creates a guard with the given number of shards.
// Values below 1 use DefaultReplayShards.
func NewReplayGuard(shards int) *ReplayGuard {
	if shards < 1 {
		shards = DefaultReplayShards
	}
	g := &ReplayGuard{
		seed:   maphash.MakeSeed(),
		shards: make([]replayShard, shards),
	}
	for i := range g.shards {
		g.shards[i].last = make(map[string]int64)
	}
	return g
}

// Accept atomically checks seq against the last accepted sequence for
// deviceID and, if seq is strictly greater, records it.
//
// It returns the last sequence known before the call (-1 for a new device)
// and whether seq was accepted.
func (g *ReplayGuard) Accept(deviceID string, seq int64) (last int64, ok bool) {
	s := g.shard(deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.last[deviceID]
	if !seen {
		last = noSequence
	}
	if seq <= last {
		return last, false
	}
	s.last[deviceID] = seq
	return last, true
}

// Last returns the last accepted sequence for deviceID.
func (g *ReplayGuard) Last(deviceID string) (int64, bool) {
	s := g.shard(deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[deviceID]
	return last, ok
}

// Len returns the number of devices tracked.
func (g *ReplayGuard) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		n += len(s.last)
		s.mu.Unlock()
	}
	return n
}

// Shards returns the number of lock partitions.
func (g *ReplayGuard) Shards() int {
	return len(g.shards)
}

func (g *ReplayGuard) shard(deviceID string) *replayShard {
	if len(g.shards) == 1 {
		return &g.shards[0]
	}
	h := maphash.String(g.seed, deviceID)
	return &g.shards[h%uint64(len(g.shards))]
}
