// Package runlock keeps two pkmhub processes from routing the same items at
// once. The lock lives in Redis under a single key with a TTL, so a crashed
// holder releases it by expiry.
package runlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key guarding runs.
const DefaultKey = "pkmhub:lock:run"

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// ErrNotHeld is returned by Extend when the lock expired or was taken over.
var ErrNotHeld = errors.New("runlock: lock not held")

// Config describes the Redis connection backing the lock.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration

	DialTimeout time.Duration
}

// Lock is a Redis lease identified by a random owner token.
type Lock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// Lease is one successful acquisition.
type Lease struct {
	lock  *Lock
	value string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Lock, error) {
	if cfg.Addr == "" {
		return nil, errors.New("runlock: redis address is required")
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("runlock: connect to redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Key, cfg.TTL), nil
}

// NewWithClient builds a lock over an existing client. An empty key uses
// DefaultKey; a non-positive ttl defaults to 30 minutes.
func NewWithClient(client redis.UniversalClient, key string, ttl time.Duration) *Lock {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Lock{client: client, key: key, ttl: ttl}
}

// TryAcquire takes the lock if it is free. A nil lease with a nil error means
// another process holds it.
func (l *Lock) TryAcquire(ctx context.Context) (*Lease, error) {
	value, err := token()
	if err != nil {
		return nil, err
	}
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("runlock: acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{lock: l, value: value}, nil
}

// Guard acquires the lock for one run and renews it every third of the TTL
// until release is called, so a run may outlast the TTL. held is false when
// another process has it; release is nil then. release reports a lease that
// was lost while the run was in progress.
func (l *Lock) Guard(ctx context.Context) (release func(context.Context) error, held bool, err error) {
	lease, err := l.TryAcquire(ctx)
	if err != nil || lease == nil {
		return nil, false, err
	}

	stop := make(chan struct{})
	lost := make(chan error, 1)
	go lease.keepAlive(max(l.ttl/3, time.Millisecond), stop, lost)

	var once sync.Once
	release = func(ctx context.Context) error {
		var renewErr error
		once.Do(func() {
			close(stop)
			renewErr = <-lost
		})
		return errors.Join(renewErr, lease.Release(ctx))
	}
	return release, true, nil
}

// keepAlive extends the lease until stop closes or an extension fails. The
// failure, or nil, is sent on lost exactly once.
func (le *Lease) keepAlive(every time.Duration, stop <-chan struct{}, lost chan<- error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			lost <- nil
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			err := le.Extend(ctx, le.lock.ttl)
			cancel()
			if err != nil {
				lost <- err
				return
			}
		}
	}
}

// Close releases the Redis connection.
func (l *Lock) Close() error {
	return l.client.Close()
}

// Release deletes the key if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, le.lock.client, []string{le.lock.key}, le.value).Err(); err != nil {
		return fmt.Errorf("runlock: release %s: %w", le.lock.key, err)
	}
	return nil
}

// Extend resets the TTL of a lease that is still owned.
func (le *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, le.lock.client, []string{le.lock.key}, le.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("runlock: extend %s: %w", le.lock.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func token() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("runlock: owner token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
