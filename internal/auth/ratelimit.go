package auth

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/browserctl/browserctl-go/internal/config"
)

// newLimiter converts a {points, windowSeconds} policy into a token bucket:
// sustained rate points/window with a burst of points.
func newLimiter(rl config.RateLimit) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(rl.Points)/float64(rl.WindowSeconds)), rl.Points)
}

// rateTable enforces the optional global limit plus per-identity limits.
// Identity buckets are created lazily on first use.
type rateTable struct {
	mu       sync.Mutex
	global   *rate.Limiter
	policies map[string]config.RateLimit
	buckets  map[string]*rate.Limiter
}

func newRateTable(global *config.RateLimit, perIdentity map[string]config.RateLimit) *rateTable {
	t := &rateTable{
		policies: perIdentity,
		buckets:  make(map[string]*rate.Limiter),
	}
	if global != nil {
		t.global = newLimiter(*global)
	}
	return t
}

// setIdentityPolicy installs a per-identity policy, overriding any configured
// one. Used for API-key entries that carry their own limit.
func (t *rateTable) setIdentityPolicy(identity string, rl config.RateLimit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.policies == nil {
		t.policies = make(map[string]config.RateLimit)
	}
	t.policies[identity] = rl
}

// allow consumes one token for the identity. Both the global and the
// identity bucket must admit the call.
func (t *rateTable) allow(identity string) bool {
	t.mu.Lock()
	if t.global != nil && !t.global.Allow() {
		t.mu.Unlock()
		return false
	}
	var bucket *rate.Limiter
	if policy, ok := t.policies[identity]; ok {
		bucket = t.buckets[identity]
		if bucket == nil {
			bucket = newLimiter(policy)
			t.buckets[identity] = bucket
		}
	}
	t.mu.Unlock()

	if bucket != nil {
		return bucket.Allow()
	}
	return true
}
