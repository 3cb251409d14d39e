package backoff

import (
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// JitterMode selects how much randomization is applied to computed delays.
type JitterMode int

const (
	// JitterFull picks a uniform random delay between MinDelay and the
	// exponential ceiling. This is the default.
	JitterFull JitterMode = iota

	// JitterNone disables randomization; delays follow the exponential
	// curve exactly.
	JitterNone

	// JitterDecorrelated derives each delay from the previous one:
	// uniform random in [MinDelay, 3*lastDelay]. Falls back to full
	// jitter until a first delay exists.
	JitterDecorrelated
)

// String returns a human-readable jitter mode name.
func (m JitterMode) String() string {
	switch m {
	case JitterFull:
		return "full"
	case JitterNone:
		return "none"
	case JitterDecorrelated:
		return "decorrelated"
	default:
		return "unknown"
	}
}

// Default policy values, applied by NewScheduler when fields are zero.
const (
	DefaultMinDelay   = 1 * time.Second
	DefaultMaxDelay   = 60 * time.Second
	DefaultResetAfter = 30 * time.Second

	// maxFailureExponent caps the failure count used in 2^n so the
	// exponential ceiling cannot overflow.
	maxFailureExponent = 52

	// decorrelatedSpread is the multiplier applied to the previous delay
	// when computing the decorrelated jitter upper bound.
	decorrelatedSpread = 3
)

// Policy is the immutable reconnection configuration.
type Policy struct {
	// MinDelay is the smallest delay between reconnect attempts.
	MinDelay time.Duration

	// MaxDelay caps the delay between reconnect attempts.
	MaxDelay time.Duration

	// Jitter selects the randomization mode.
	Jitter JitterMode

	// ResetAfter is how long a connection must stay up before the
	// accumulated failure count is forgiven.
	ResetAfter time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (p Policy) withDefaults() Policy {
	if p.MinDelay <= 0 {
		p.MinDelay = DefaultMinDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.ResetAfter <= 0 {
		p.ResetAfter = DefaultResetAfter
	}
	return p
}

// Scheduler decides when the next reconnect attempt happens.
//
// It owns two one-shot timers: the retry timer, armed after every failure
// with the computed backoff delay, and the reset timer, armed after every
// success with the policy's ResetAfter window. Each new failure cancels
// and replaces any pending retry timer, so at most one retry is ever
// outstanding.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Scheduler struct {
	policy Policy
	clk    clock.Clock
	rng    *rand.Rand
	retry  func()

	mu           sync.Mutex
	failureCount int
	lastDelay    time.Duration
	hasLastDelay bool
	retryTimer   *clock.Timer
	resetTimer   *clock.Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects the clock used for retry and reset timers.
// Tests pass a clock.Mock to drive the schedule deterministically.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithRand injects the random source used for jitter.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// NewScheduler creates a Scheduler for the given policy. The retry callback
// fires, on the clock's timer goroutine, whenever a backoff delay elapses.
func NewScheduler(policy Policy, retry func(), opts ...Option) *Scheduler {
	s := &Scheduler{
		policy: policy.withDefaults(),
		retry:  retry,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clk == nil {
		s.clk = clock.New()
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// OnConnectionSuccess records a successful connection.
//
// Any pending retry is cancelled and the reset timer is armed: if the
// connection stays up for the policy's ResetAfter window, the failure
// count and the decorrelated-jitter state are cleared.
func (s *Scheduler) OnConnectionSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRetryLocked()
	s.stopResetLocked()
	s.resetTimer = s.clk.AfterFunc(s.policy.ResetAfter, s.forgiveFailures)
}

// OnConnectionFailure records a failed or dropped connection and arms the
// retry timer with the computed backoff delay, which is also returned for
// logging and metrics.
func (s *Scheduler) OnConnectionFailure() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopResetLocked()

	delay := s.nextDelayLocked()
	s.failureCount++
	s.lastDelay = delay
	s.hasLastDelay = true

	s.stopRetryLocked()
	s.retryTimer = s.clk.AfterFunc(delay, s.retry)
	return delay
}

// Clear cancels both timers and forgets all accumulated state. Called when
// the owning client stops, so no timer outlives it.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRetryLocked()
	s.stopResetLocked()
	s.failureCount = 0
	s.hasLastDelay = false
}

// FailureCount returns the current consecutive failure count.
func (s *Scheduler) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureCount
}

// forgiveFailures fires when a connection has stayed up for ResetAfter.
func (s *Scheduler) forgiveFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount = 0
	s.hasLastDelay = false
}

// nextDelayLocked computes the delay for the current failure count.
func (s *Scheduler) nextDelayLocked() time.Duration {
	p := s.policy

	count := s.failureCount
	if count > maxFailureExponent {
		count = maxFailureExponent
	}

	// Exponential ceiling min(MaxDelay, MinDelay*2^count); doubling stops
	// at the cap so it cannot overflow.
	ceiling := p.MinDelay
	for i := 0; i < count && ceiling < p.MaxDelay; i++ {
		ceiling *= 2
	}
	if ceiling > p.MaxDelay {
		ceiling = p.MaxDelay
	}

	var delay time.Duration
	switch {
	case p.Jitter == JitterNone:
		delay = ceiling
	case p.Jitter == JitterDecorrelated && s.hasLastDelay:
		delay = s.uniform(p.MinDelay, decorrelatedSpread*s.lastDelay)
	default:
		delay = s.uniform(p.MinDelay, ceiling)
	}

	if delay < p.MinDelay {
		delay = p.MinDelay
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// uniform returns a random duration in [lo, hi].
func (s *Scheduler) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}

func (s *Scheduler) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Scheduler) stopResetLocked() {
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}
