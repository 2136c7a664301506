package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pawpal-relay/internal/apperr"
)

const keyPrefix = "pawpal:relay:rl:"

// allowScript counts one hit and sets the window expiry in the same step. A
// key found without a TTL gets one, so a counter can never outlive its window.
var allowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter is a fixed-window counter per caller key shared by every forwarder
// instance pointing at the same Redis.
type Limiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
}

type Options struct {
	URL    string // redis://... or host:port
	Limit  int
	Window time.Duration
}

func New(opts Options) (*Limiter, error) {
	ropts, err := parseRedisURL(opts.URL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "ratelimit.new", "invalid REDIS_URL", err)
	}
	return NewWithClient(redis.NewUniversalClient(ropts), opts.Limit, opts.Window), nil
}

func NewWithClient(client redis.UniversalClient, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if window < time.Millisecond {
		window = time.Millisecond
	}
	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("empty redis address")
	}
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, err
	}
	return &redis.UniversalOptions{
		Addrs:     []string{opt.Addr},
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

// Allow reports whether key may issue one more request in the current window.
// A limit of zero disables limiting.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	rk := keyPrefix + hashKey(key)
	n, err := allowScript.Run(ctx, l.client, []string{rk}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, apperr.Wrap(apperr.KindNetwork, "ratelimit.allow", "rate limit store unavailable", err)
	}
	return n <= l.limit, nil
}

func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

// hashKey keeps bearer tokens out of Redis key space.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
