package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
)

const (
	badgerBackend     = "badger"
	defaultMaxRetries = 16
)

var (
	fpPrefix   = []byte("fp/")
	songPrefix = []byte("song/")
)

type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps all data in memory, for tests.
	InMemory bool

	// MaxRetries bounds how often a store is retried after a conflict.
	MaxRetries int

	// Logger receives badger's warnings and errors. Nil silences badger.
	Logger Logger
}

// Badger keeps each fingerprint's song set as one msgpack-encoded value and
// updates it with a read-modify-write transaction.
type Badger struct {
	db         *badger.DB
	maxRetries int
}

func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("repository: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, wrapErr("open", badgerBackend, err)
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Badger{db: db, maxRetries: retries}, nil
}

func fpKey(fp fingerprint.Fingerprint) []byte {
	key := make([]byte, len(fpPrefix)+8)
	copy(key, fpPrefix)
	binary.BigEndian.PutUint64(key[len(fpPrefix):], uint64(fp))
	return key
}

func songKey(id string) []byte {
	return append(slices.Clone(songPrefix), id...)
}

func (b *Badger) Store(ctx context.Context, fps []fingerprint.Fingerprint, songID string) error {
	if songID == "" {
		return ErrEmptySongID
	}
	keys := distinct(fps)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.db.Update(func(txn *badger.Txn) error {
			return storeTxn(txn, keys, songID)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return wrapErr("store", badgerBackend, err)
		}
		if attempt >= b.maxRetries {
			return wrapErr("store", badgerBackend, ErrConflict)
		}
	}
}

// storeTxn reads every touched set inside the transaction, so a concurrent
// commit to any of them fails this one with badger.ErrConflict.
func storeTxn(txn *badger.Txn, keys []fingerprint.Fingerprint, songID string) error {
	for _, fp := range keys {
		key := fpKey(fp)
		songs, err := readSet(txn, key)
		if err != nil {
			return err
		}
		i, found := slices.BinarySearch(songs, songID)
		if found {
			continue
		}
		songs = slices.Insert(songs, i, songID)
		data, err := msgpack.Marshal(songs)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
	}
	return txn.Set(songKey(songID), nil)
}

func readSet(txn *badger.Txn, key []byte) ([]string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var songs []string
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &songs)
	})
	return songs, err
}

func (b *Badger) FindMatches(ctx context.Context, fps []fingerprint.Fingerprint) (Tally, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sets := make(map[fingerprint.Fingerprint][]string)
	err := b.db.View(func(txn *badger.Txn) error {
		for _, fp := range distinct(fps) {
			songs, err := readSet(txn, fpKey(fp))
			if err != nil {
				return err
			}
			sets[fp] = songs
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("find matches", badgerBackend, err)
	}
	return tallyFrom(fps, sets), nil
}

func (b *Badger) Songs(ctx context.Context) ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = songPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			out = append(out, string(bytes.TrimPrefix(key, songPrefix)))
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("songs", badgerBackend, err)
	}
	return out, nil
}

func (b *Badger) Close() error {
	return wrapErr("close", badgerBackend, b.db.Close())
}

// Logger is the subset of pkg/logger used by repository adapters.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// badgerLogger forwards badger's warnings and errors and drops its chatter.
type badgerLogger struct {
	log Logger
}

func (l badgerLogger) Errorf(f string, v ...any) {
	if l.log != nil {
		l.log.Errorf("[badger] "+f, v...)
	}
}

func (l badgerLogger) Warningf(f string, v ...any) {
	if l.log != nil {
		l.log.Warnf("[badger] "+f, v...)
	}
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
