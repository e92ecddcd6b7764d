// Package distributed holds Redis-backed coordination primitives shared by
// orchestrator instances.
package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLeaseLost = errors.New("lease no longer held")

// releaseScript deletes the key only when it still carries our value.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// renewScript extends the TTL only when the key still carries our value.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lease is a Redis key held by one owner. It is renewed at half its TTL
// until Release is called or renewal finds the key taken over.
type Lease struct {
	client   redis.Scripter
	key      string
	owner    string
	ttl      time.Duration
	acquired time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Key returns the Redis key the lease holds.
func (l *Lease) Key() string { return l.key }

// AcquiredAt is when the lease was taken.
func (l *Lease) AcquiredAt() time.Time { return l.acquired }

// renew extends the lease every half TTL until Release or until the
// lease is found to belong to another owner.
func (l *Lease) renew() {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// Release stops renewal and deletes the key if it is still ours. Calling it
// twice is safe; the second call returns nil.
func (l *Lease) Release(ctx context.Context) error {
	released := false
	l.once.Do(func() {
		close(l.stop)
		released = true
	})
	if !released {
		return nil
	}
	<-l.done

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

type leaseClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// LeaseManager hands out leases under a common key prefix.
type LeaseManager struct {
	client leaseClient
	prefix string
	owner  string
	ttl    time.Duration
	now    func() time.Time
}

// NewLeaseManager creates a lease manager. A non-positive ttl uses the default.
func NewLeaseManager(client leaseClient, prefix, owner string, ttl time.Duration) *LeaseManager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LeaseManager{
		client: client,
		prefix: prefix,
		owner:  owner,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TryAcquire takes the lease for name without waiting. ok is false when
// another owner holds it.
func (m *LeaseManager) TryAcquire(ctx context.Context, name string) (lease *Lease, ok bool, err error) {
	key := m.prefix + name
	acquired, err := m.client.SetNX(ctx, key, m.owner, m.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	lease = &Lease{
		client:   m.client,
		key:      key,
		owner:    m.owner,
		ttl:      m.ttl,
		acquired: m.now(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go lease.renew()
	return lease, true, nil
}

// Holder returns the owner of name, or "" when nobody holds it.
func (m *LeaseManager) Holder(ctx context.Context, name string) (string, error) {
	owner, err := m.client.Get(ctx, m.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}
