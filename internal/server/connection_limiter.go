package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitReason describes why a connection attempt was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

const limiterIdleTTL = 10 * time.Minute

// ConnectionLimits guards websocket accept against overload: a global
// concurrent-connection cap, a per-IP concurrent cap, and a per-IP
// token-bucket rate on new connection attempts.
type ConnectionLimits struct {
	global    atomic.Int64
	globalMax int64

	mu       sync.Mutex
	perIP    map[string]*ipState
	perIPMax int
	rate     rate.Limit
	burst    int
	sweepAt  time.Time
}

type ipState struct {
	active   int
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(globalMax int64, perIPMax int, perSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		globalMax: globalMax,
		perIP:     make(map[string]*ipState),
		perIPMax:  perIPMax,
		rate:      rate.Limit(perSecond),
		burst:     burst,
		sweepAt:   time.Now().Add(limiterIdleTTL),
	}
}

// Acquire claims a connection slot for ip. On refusal it returns the
// limit that tripped and leaves no state behind.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	l.mu.Lock()
	state := l.state(ip)
	if !state.limiter.Allow() {
		l.mu.Unlock()
		return false, LimitReasonRate
	}
	if state.active >= l.perIPMax {
		l.mu.Unlock()
		return false, LimitReasonPerIP
	}
	state.active++
	l.mu.Unlock()

	for {
		current := l.global.Load()
		if current >= l.globalMax {
			l.releaseIP(ip)
			return false, LimitReasonGlobal
		}
		if l.global.CompareAndSwap(current, current+1) {
			return true, ""
		}
	}
}

// Release frees the slot claimed by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.releaseIP(ip)
	l.global.Add(-1)
}

// Active returns the current global connection count.
func (l *ConnectionLimits) Active() int64 {
	return l.global.Load()
}

// ActiveFor returns the current connection count for ip.
func (l *ConnectionLimits) ActiveFor(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.perIP[ip]; ok {
		return state.active
	}
	return 0
}

// state returns the tracked entry for ip, creating it on first sight.
// Must be called with mu held.
func (l *ConnectionLimits) state(ip string) *ipState {
	now := time.Now()
	if now.After(l.sweepAt) {
		l.sweep(now)
		l.sweepAt = now.Add(limiterIdleTTL)
	}

	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipState{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = now
	return entry
}

func (l *ConnectionLimits) releaseIP(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.perIP[ip]
	if !ok {
		return
	}
	if state.active > 0 {
		state.active--
	}
}

// sweep drops idle entries so one-shot clients do not grow the map
// without bound. Must be called with mu held.
func (l *ConnectionLimits) sweep(now time.Time) {
	cutoff := now.Add(-limiterIdleTTL)
	for ip, state := range l.perIP {
		if state.active == 0 && state.lastSeen.Before(cutoff) {
			delete(l.perIP, ip)
		}
	}
}
