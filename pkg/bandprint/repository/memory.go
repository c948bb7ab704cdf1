package repository

import (
	"context"
	"encoding/binary"
	"slices"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
)

const defaultShards = 32

type MemoryOptions struct {
	// Shards is the number of independently locked partitions.
	Shards int
}

// Memory is an in-process repository. Fingerprints are spread over shards
// by xxhash since their low digits carry the lowest band and cluster badly.
type Memory struct {
	shards []*memoryShard

	songsMu sync.RWMutex
	songs   map[string]struct{}
}

type memoryShard struct {
	mu   sync.RWMutex
	sets map[fingerprint.Fingerprint]map[string]struct{}
}

func NewMemory(opts MemoryOptions) *Memory {
	n := opts.Shards
	if n <= 0 {
		n = defaultShards
	}
	m := &Memory{
		shards: make([]*memoryShard, n),
		songs:  make(map[string]struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{sets: make(map[fingerprint.Fingerprint]map[string]struct{})}
	}
	return m
}

func (m *Memory) shardIndex(fp fingerprint.Fingerprint) int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(fp))
	return int(xxhash.Checksum64(buf[:]) % uint64(len(m.shards)))
}

func (m *Memory) Store(ctx context.Context, fps []fingerprint.Fingerprint, songID string) error {
	if songID == "" {
		return ErrEmptySongID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := distinct(fps)
	byShard := make(map[int][]fingerprint.Fingerprint)
	for _, fp := range keys {
		i := m.shardIndex(fp)
		byShard[i] = append(byShard[i], fp)
	}
	order := make([]int, 0, len(byShard))
	for i := range byShard {
		order = append(order, i)
	}
	slices.Sort(order)

	// Shards are locked in ascending order so overlapping stores cannot deadlock.
	for _, i := range order {
		m.shards[i].mu.Lock()
	}
	for _, i := range order {
		sets := m.shards[i].sets
		for _, fp := range byShard[i] {
			set, ok := sets[fp]
			if !ok {
				set = make(map[string]struct{}, 1)
				sets[fp] = set
			}
			set[songID] = struct{}{}
		}
	}
	m.songsMu.Lock()
	m.songs[songID] = struct{}{}
	m.songsMu.Unlock()
	for _, i := range order {
		m.shards[i].mu.Unlock()
	}
	return nil
}

func (m *Memory) FindMatches(ctx context.Context, fps []fingerprint.Fingerprint) (Tally, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sets := make(map[fingerprint.Fingerprint][]string)
	for _, fp := range distinct(fps) {
		shard := m.shards[m.shardIndex(fp)]
		shard.mu.RLock()
		for song := range shard.sets[fp] {
			sets[fp] = append(sets[fp], song)
		}
		shard.mu.RUnlock()
	}
	return tallyFrom(fps, sets), nil
}

func (m *Memory) Songs(ctx context.Context) ([]string, error) {
	m.songsMu.RLock()
	defer m.songsMu.RUnlock()
	out := make([]string, 0, len(m.songs))
	for id := range m.songs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
