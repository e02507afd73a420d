package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrOpenState       = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes when a breaker trips and how long it stays open.
type Config struct {
	// MaxProbes is how many calls a half-open breaker lets through.
	MaxProbes uint32
	// Window clears closed-state counts periodically.
	Window time.Duration
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// MinCalls must be reached before the failure ratio is evaluated.
	MinCalls     uint32
	FailureRatio float64

	OnStateChange func(name string, from, to State)
}

func DefaultConfig() Config {
	return Config{
		MaxProbes:    1,
		Window:       60 * time.Second,
		Cooldown:     30 * time.Second,
		MinCalls:     5,
		FailureRatio: 0.6,
	}
}

// Breaker guards calls to one upstream.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	until    time.Time
	calls    uint32
	failures uint32
	inflight uint32
}

func New(name string, cfg Config) *Breaker {
	d := DefaultConfig()
	if cfg.MaxProbes == 0 {
		cfg.MaxProbes = d.MaxProbes
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.MinCalls == 0 {
		cfg.MinCalls = d.MinCalls
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = d.FailureRatio
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.until = b.now().Add(cfg.Window)
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh(b.now())
}

// Execute runs fn unless the breaker is open. Any error from fn counts as
// a failure.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.refresh(b.now()) {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		if b.inflight >= b.cfg.MaxProbes {
			return ErrTooManyRequests
		}
		b.inflight++
	}
	return nil
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	switch b.refresh(now) {
	case StateClosed:
		b.calls++
		if !ok {
			b.failures++
		}
		if b.calls >= b.cfg.MinCalls && float64(b.failures)/float64(b.calls) >= b.cfg.FailureRatio {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		if b.inflight > 0 {
			b.inflight--
		}
		if !ok {
			b.transition(StateOpen, now)
			return
		}
		b.calls++
		if b.calls >= b.cfg.MaxProbes {
			b.transition(StateClosed, now)
		}
	}
}

// refresh applies time-based transitions; callers hold mu.
func (b *Breaker) refresh(now time.Time) State {
	switch b.state {
	case StateClosed:
		if now.After(b.until) {
			b.calls, b.failures = 0, 0
			b.until = now.Add(b.cfg.Window)
		}
	case StateOpen:
		if !now.Before(b.until) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	b.state = to
	b.calls, b.failures, b.inflight = 0, 0, 0
	switch to {
	case StateClosed:
		b.until = now.Add(b.cfg.Window)
	case StateOpen:
		b.until = now.Add(b.cfg.Cooldown)
	default:
		b.until = time.Time{}
	}
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Group keeps one breaker per upstream host.
type Group struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewGroup(cfg Config) *Group {
	return &Group{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (g *Group) Execute(host string, fn func() error) error {
	return g.get(host).Execute(fn)
}

func (g *Group) State(host string) State {
	return g.get(host).State()
}

// States reports the state of every upstream seen so far.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]State, len(g.breakers))
	for h, b := range g.breakers {
		out[h] = b.State()
	}
	return out
}

func (g *Group) Reset(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.breakers, host)
}

func (g *Group) get(host string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[host]
	if !ok {
		b = New(host, g.cfg)
		g.breakers[host] = b
	}
	return b
}
