package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"realtime-chat/internal/config"
)

// RateLimiter keeps one token bucket per user. A user may burst up to
// RateLimitMessages frames, refilled evenly over RateLimitWindow.
type RateLimiter struct {
	limits map[string]*rate.Limiter
	mutex  sync.Mutex
	config config.SecurityConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.SecurityConfig) *RateLimiter {
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		config: cfg,
		now:    time.Now,
	}
}

func (rl *RateLimiter) limit() rate.Limit {
	if rl.config.RateLimitMessages <= 0 || rl.config.RateLimitWindow <= 0 {
		return rate.Inf
	}
	return rate.Every(rl.config.RateLimitWindow / time.Duration(rl.config.RateLimitMessages))
}

// SetConfig replaces the limit settings. Existing buckets keep their tokens
// and refill at the new rate.
func (rl *RateLimiter) SetConfig(cfg config.SecurityConfig) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.config = cfg

	now := rl.now()
	limit := rl.limit()
	for _, l := range rl.limits {
		l.SetLimitAt(now, limit)
		l.SetBurstAt(now, cfg.RateLimitMessages)
	}
}

// Allow reports whether username may send another message and takes a token
// if so.
func (rl *RateLimiter) Allow(username string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if !rl.config.EnableRateLimit {
		return true
	}

	l, ok := rl.limits[username]
	if !ok {
		l = rate.NewLimiter(rl.limit(), rl.config.RateLimitMessages)
		rl.limits[username] = l
	}
	return l.AllowN(rl.now(), 1)
}

// Remaining returns the whole tokens username has left.
func (rl *RateLimiter) Remaining(username string) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	l, ok := rl.limits[username]
	if !ok {
		return rl.config.RateLimitMessages
	}
	return int(l.TokensAt(rl.now()))
}

// Sweep drops buckets that have refilled completely; they are recreated on
// the user's next message.
func (rl *RateLimiter) Sweep() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for name, l := range rl.limits {
		if l.TokensAt(now) >= float64(l.Burst()) {
			delete(rl.limits, name)
			removed++
		}
	}
	return removed
}
