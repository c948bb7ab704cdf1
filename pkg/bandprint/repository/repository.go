// Package repository stores fingerprint to song associations and tallies
// votes for query fingerprints.
package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
)

// Repository maps each fingerprint to the set of songs indexed under it.
//
// Store is atomic per call: every (fingerprint, song) membership it adds is
// recorded or none is. Storing a pair twice has no further effect.
// FindMatches treats a missing fingerprint as an empty set.
type Repository interface {
	Store(ctx context.Context, fps []fingerprint.Fingerprint, songID string) error
	FindMatches(ctx context.Context, fps []fingerprint.Fingerprint) (Tally, error)
	Close() error
}

// Catalog is implemented by repositories that can list indexed songs.
type Catalog interface {
	Songs(ctx context.Context) ([]string, error)
}

var (
	ErrEmptySongID = errors.New("repository: empty song id")
	// ErrConflict is returned when concurrent writers kept invalidating a
	// store transaction until the adapter ran out of retries.
	ErrConflict = errors.New("repository: transaction conflict")
)

// Error wraps a failure from a backing store.
type Error struct {
	Op      string
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("repository: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, backend string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Backend: backend, Err: err}
}

// Match is one song and the number of query fingerprints that voted for it.
type Match struct {
	SongID string `json:"song_id"`
	Votes  int    `json:"votes"`
}

// Tally counts votes per song for one query.
type Tally map[string]int

// Ranked orders matches by votes, highest first; equal votes are ordered by
// song id so the result never depends on map iteration.
func (t Tally) Ranked() []Match {
	out := make([]Match, 0, len(t))
	for id, votes := range t {
		out = append(out, Match{SongID: id, Votes: votes})
	}
	slices.SortFunc(out, func(a, b Match) int {
		if a.Votes != b.Votes {
			return b.Votes - a.Votes
		}
		return strings.Compare(a.SongID, b.SongID)
	})
	return out
}

// Top returns at most n ranked matches.
func (t Tally) Top(n int) []Match {
	ranked := t.Ranked()
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// PickBest returns the song with the most votes, breaking ties with the
// lexicographically smallest song id. It reports false for an empty tally.
func PickBest(t Tally) (Match, bool) {
	var best Match
	found := false
	for id, votes := range t {
		if !found || votes > best.Votes || (votes == best.Votes && id < best.SongID) {
			best = Match{SongID: id, Votes: votes}
			found = true
		}
	}
	return best, found
}

// distinct returns the unique fingerprints of fps in first-seen order.
func distinct(fps []fingerprint.Fingerprint) []fingerprint.Fingerprint {
	seen := make(map[fingerprint.Fingerprint]struct{}, len(fps))
	out := make([]fingerprint.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	return out
}

// tallyFrom counts one vote per query fingerprint for every song in its set.
func tallyFrom(fps []fingerprint.Fingerprint, sets map[fingerprint.Fingerprint][]string) Tally {
	tally := make(Tally)
	for _, fp := range fps {
		for _, song := range sets[fp] {
			tally[song]++
		}
	}
	return tally
}
