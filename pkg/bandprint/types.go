package bandprint

import "github.com/himanishpuri/bandprint/pkg/bandprint/repository"

// Match is a song id and its vote count.
type Match = repository.Match

// Result is the outcome of one identification.
type Result struct {
	Best       Match   `json:"best"`
	Found      bool    `json:"found"`
	Candidates []Match `json:"candidates"`
	// Queried is the number of fingerprints looked up, repeats included,
	// so Best.Votes never exceeds it.
	Queried int `json:"queried"`
	// Confidence of Best as a percentage (0-100).
	Confidence float64 `json:"confidence"`
}

// WatchOptions controls a live identification loop.
type WatchOptions struct {
	// Chunks is how many decoded buffers are collected per identification.
	Chunks int
	// OnResult is called after every identification, found or not.
	OnResult func(Result)
}
