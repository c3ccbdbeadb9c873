// Package breaker isolates failing providers and agents. Each target gets an
// independent closed/open/half-open state machine; transitions are atomic
// with respect to concurrent callers of the same target.
package breaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State of one target's circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes the breaker. All values are configuration, not behavior.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips a
	// closed circuit open.
	FailureThreshold int `yaml:"failure_threshold"`
	// Cooldown is the initial open window before a probe is allowed.
	Cooldown time.Duration `yaml:"cooldown"`
	// BackoffFactor extends the cooldown after a failed probe.
	BackoffFactor float64 `yaml:"backoff_factor"`
	// MaxCooldown caps the extended cooldown.
	MaxCooldown time.Duration `yaml:"max_cooldown"`
}

// DefaultConfig matches the documented defaults: trip after 3 consecutive
// failures, 30s cooldown doubling up to 5m.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		BackoffFactor:    2.0,
		MaxCooldown:      5 * time.Minute,
	}
}

type target struct {
	state         State
	failures      int
	lastFailure   time.Time
	deadline      time.Time     // cooldown deadline while open
	cooldown      time.Duration // current (possibly extended) cooldown
	probeInFlight bool
}

// TargetState is a read-only snapshot of one circuit for reporting.
type TargetState struct {
	Target      string    `json:"target"`
	State       State     `json:"state"`
	Failures    int       `json:"consecutive_failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	Deadline    time.Time `json:"cooldown_deadline,omitempty"`
}

// Breaker tracks circuit state per target key (provider or agent name).
type Breaker struct {
	mu      sync.Mutex
	cfg     Config
	targets map[string]*target
	logger  *logrus.Logger
	now     func() time.Time
}

// New creates a breaker. Zero-valued config fields fall back to defaults.
func New(cfg Config, logger *logrus.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = def.MaxCooldown
	}

	return &Breaker{
		cfg:     cfg,
		targets: make(map[string]*target),
		logger:  logger,
		now:     time.Now,
	}
}

// Allow reports whether a call to the target may proceed. While open it
// short-circuits with no network call; once the cooldown deadline elapses
// exactly one caller is granted a half-open probe.
func (b *Breaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.get(name)

	switch t.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(t.deadline) {
			return false
		}
		t.state = StateHalfOpen
		t.probeInFlight = true
		b.logger.WithField("target", name).Info("Circuit half-open, allowing probe")
		return true
	case StateHalfOpen:
		// One probe at a time.
		if t.probeInFlight {
			return false
		}
		t.probeInFlight = true
		return true
	}
	return true
}

// OnSuccess records a successful call, closing the circuit and resetting
// the failure count and cooldown.
func (b *Breaker) OnSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.get(name)
	if t.state != StateClosed {
		b.logger.WithField("target", name).Info("Circuit closed after successful probe")
	}
	t.state = StateClosed
	t.failures = 0
	t.cooldown = b.cfg.Cooldown
	t.probeInFlight = false
}

// OnFailure records a failed call. A closed circuit trips open once the
// consecutive-failure threshold is reached; a failed half-open probe
// reopens with an extended cooldown.
func (b *Breaker) OnFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.get(name)
	t.failures++
	t.lastFailure = b.now()

	switch t.state {
	case StateClosed:
		if t.failures >= b.cfg.FailureThreshold {
			t.state = StateOpen
			t.deadline = b.now().Add(t.cooldown)
			b.logger.WithFields(logrus.Fields{
				"target":   name,
				"failures": t.failures,
				"cooldown": t.cooldown,
			}).Warn("Circuit opened")
		}
	case StateHalfOpen:
		t.cooldown = time.Duration(float64(t.cooldown) * b.cfg.BackoffFactor)
		if t.cooldown > b.cfg.MaxCooldown {
			t.cooldown = b.cfg.MaxCooldown
		}
		t.state = StateOpen
		t.deadline = b.now().Add(t.cooldown)
		t.probeInFlight = false
		b.logger.WithFields(logrus.Fields{
			"target":   name,
			"cooldown": t.cooldown,
		}).Warn("Probe failed, circuit reopened with extended cooldown")
	}
}

// State returns the current state for a target. An open circuit whose
// cooldown has elapsed still reports open until a caller claims the probe.
func (b *Breaker) State(name string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(name).state
}

// Snapshot returns the state of every tracked target.
func (b *Breaker) Snapshot() []TargetState {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]TargetState, 0, len(b.targets))
	for name, t := range b.targets {
		out = append(out, TargetState{
			Target:      name,
			State:       t.state,
			Failures:    t.failures,
			LastFailure: t.lastFailure,
			Deadline:    t.deadline,
		})
	}
	return out
}

// get returns the target entry, creating a closed one on first sight.
// Caller must hold b.mu.
func (b *Breaker) get(name string) *target {
	t, ok := b.targets[name]
	if !ok {
		t = &target{state: StateClosed, cooldown: b.cfg.Cooldown}
		b.targets[name] = t
	}
	return t
}
