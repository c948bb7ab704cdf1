package repository

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
)

const redisBackend = "redis"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key.
	Prefix string

	// MaxRetries bounds how often a store is retried after a WATCH abort.
	MaxRetries int
}

// Redis keeps each fingerprint's songs in a Redis set. Stores WATCH every
// touched key and add memberships inside MULTI/EXEC.
type Redis struct {
	pool       *redis.Pool
	prefix     string
	maxRetries int
}

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", opts.Addr,
				redis.DialPassword(opts.Password),
				redis.DialDatabase(opts.DB),
			)
		},
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		pool.Close()
		return nil, wrapErr("open", redisBackend, err)
	}
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, wrapErr("open", redisBackend, err)
	}

	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Redis{pool: pool, prefix: opts.Prefix, maxRetries: retries}, nil
}

func (r *Redis) key(fp fingerprint.Fingerprint) string {
	return r.prefix + "fp:" + strconv.FormatUint(uint64(fp), 10)
}

func (r *Redis) songsKey() string {
	return r.prefix + "songs"
}

func (r *Redis) Store(ctx context.Context, fps []fingerprint.Fingerprint, songID string) error {
	if songID == "" {
		return ErrEmptySongID
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return wrapErr("store", redisBackend, err)
	}
	defer conn.Close()

	// Only fingerprint keys are watched; the catalog SADD is atomic inside
	// MULTI and is shared by every store.
	keys := distinct(fps)
	watched := make(redis.Args, 0, len(keys))
	for _, fp := range keys {
		watched = append(watched, r.key(fp))
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(watched) > 0 {
			if _, err := conn.Do("WATCH", watched...); err != nil {
				return wrapErr("store", redisBackend, err)
			}
		}
		if err := conn.Send("MULTI"); err != nil {
			return wrapErr("store", redisBackend, err)
		}
		for _, fp := range keys {
			if err := conn.Send("SADD", r.key(fp), songID); err != nil {
				return wrapErr("store", redisBackend, err)
			}
		}
		if err := conn.Send("SADD", r.songsKey(), songID); err != nil {
			return wrapErr("store", redisBackend, err)
		}

		reply, err := conn.Do("EXEC")
		if err != nil {
			return wrapErr("store", redisBackend, err)
		}
		if reply != nil {
			return nil
		}
		// A nil EXEC reply means a watched key changed; run it again.
		if attempt >= r.maxRetries {
			return wrapErr("store", redisBackend, ErrConflict)
		}
	}
}

func (r *Redis) FindMatches(ctx context.Context, fps []fingerprint.Fingerprint) (Tally, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, wrapErr("find matches", redisBackend, err)
	}
	defer conn.Close()

	keys := distinct(fps)
	for _, fp := range keys {
		if err := conn.Send("SMEMBERS", r.key(fp)); err != nil {
			return nil, wrapErr("find matches", redisBackend, err)
		}
	}
	if err := conn.Flush(); err != nil {
		return nil, wrapErr("find matches", redisBackend, err)
	}

	sets := make(map[fingerprint.Fingerprint][]string, len(keys))
	for _, fp := range keys {
		songs, err := redis.Strings(conn.Receive())
		if err != nil {
			return nil, wrapErr("find matches", redisBackend, err)
		}
		sets[fp] = songs
	}
	return tallyFrom(fps, sets), nil
}

func (r *Redis) Songs(ctx context.Context) ([]string, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, wrapErr("songs", redisBackend, err)
	}
	defer conn.Close()

	ids, err := redis.Strings(conn.Do("SMEMBERS", r.songsKey()))
	if err != nil {
		return nil, wrapErr("songs", redisBackend, err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Redis) Close() error {
	return wrapErr("close", redisBackend, r.pool.Close())
}
