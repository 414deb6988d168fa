package policy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/graflow"
)

// Throttle scopes.
const (
	ScopeFlowCreation = "flow_creation"
	ScopeFlowResume   = "flow_resume"
)

// Rate is a number of requests allowed per period.
type Rate struct {
	Requests int
	Period   time.Duration
}

// String renders the rate in "N/period" form.
func (r Rate) String() string {
	unit := "s"
	switch r.Period {
	case time.Minute:
		unit = "min"
	case time.Hour:
		unit = "hour"
	case 24 * time.Hour:
		unit = "day"
	}
	return fmt.Sprintf("%d/%s", r.Requests, unit)
}

// ParseRate parses "N/period". Only the first letter of the period is
// significant: s, m, h or d.
func ParseRate(s string) (Rate, error) {
	num, period, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || period == "" {
		return Rate{}, fmt.Errorf("%w: %q", graflow.ErrInvalidRate, s)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return Rate{}, fmt.Errorf("%w: %q", graflow.ErrInvalidRate, s)
	}
	var d time.Duration
	switch period[0] {
	case 's':
		d = time.Second
	case 'm':
		d = time.Minute
	case 'h':
		d = time.Hour
	case 'd':
		d = 24 * time.Hour
	default:
		return Rate{}, fmt.Errorf("%w: %q", graflow.ErrInvalidRate, s)
	}
	return Rate{Requests: n, Period: d}, nil
}

// RateLimit binds a rate to a throttle scope.
type RateLimit struct {
	Scope string
	Rate  Rate
}

// Throttle enforces rate limits per (scope, subject) with token buckets
// whose burst equals the number of requests in one period.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewThrottle returns an empty Throttle.
func NewThrottle() *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow consumes one request from the subject's bucket for rl. It returns
// false when the bucket is empty.
func (t *Throttle) Allow(rl RateLimit, subject string) bool {
	if rl.Rate.Requests <= 0 {
		return true
	}
	if subject == "" {
		subject = "anonymous"
	}
	key := rl.Scope + ":" + subject

	t.mu.Lock()
	lim, ok := t.limiters[key]
	if !ok {
		every := rl.Rate.Period / time.Duration(rl.Rate.Requests)
		lim = rate.NewLimiter(rate.Every(every), rl.Rate.Requests)
		t.limiters[key] = lim
	}
	t.mu.Unlock()

	return lim.AllowN(t.now(), 1)
}

// Reset forgets every bucket.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiters = make(map[string]*rate.Limiter)
}
