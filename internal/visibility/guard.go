// Package visibility revalidates data when the app returns to the
// foreground, at most once per debounce window.
package visibility

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
)

// DefaultDebounce is the window in which further foreground transitions
// are ignored.
const DefaultDebounce = 5 * time.Second

// State is the visibility of the app.
type State int

const (
	Background State = iota
	Foreground
)

func (s State) String() string {
	if s == Foreground {
		return "foreground"
	}
	return "background"
}

// Source reports visibility changes to a callback until released.
type Source interface {
	Watch(fn func(State)) (release func())
}

// AfterFunc schedules fn after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

// Config configures a Guard.
type Config struct {
	Debounce time.Duration
	Initial  State

	// AfterFunc overrides the timer for tests.
	AfterFunc AfterFunc
}

// Guard fires its callback on background → foreground transitions,
// collapsing transitions inside the debounce window.
type Guard struct {
	mu           sync.Mutex
	state        State
	debouncing   bool
	debounce     time.Duration
	afterFunc    AfterFunc
	stopTimer    func() bool
	onForeground func()
	releases     []func()
	closed       bool
	fired        int
	logger       zerolog.Logger
}

// New creates a Guard.
func New(cfg Config) *Guard {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	after := cfg.AfterFunc
	if after == nil {
		after = func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		}
	}
	return &Guard{
		state:     cfg.Initial,
		debounce:  debounce,
		afterFunc: after,
		logger:    logging.Component("visibility"),
	}
}

// OnForeground registers the callback, replacing any previous one.
func (g *Guard) OnForeground(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onForeground = fn
}

// Attach subscribes the guard to src. The returned func detaches it.
func (g *Guard) Attach(src Source) func() {
	release := src.Watch(g.Transition)
	var once sync.Once
	detach := func() { once.Do(release) }

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		detach()
		return func() {}
	}
	g.releases = append(g.releases, detach)
	g.mu.Unlock()
	return detach
}

// Transition records a visibility change.
func (g *Guard) Transition(next State) {
	g.mu.Lock()
	prev := g.state
	g.state = next
	if g.closed || prev != Background || next != Foreground || g.onForeground == nil || g.debouncing {
		g.mu.Unlock()
		return
	}
	g.debouncing = true
	g.fired++
	fn := g.onForeground
	g.stopTimer = g.afterFunc(g.debounce, g.clearDebounce)
	g.mu.Unlock()

	g.logger.Debug().Msg("foreground revalidation")
	fn()
}

func (g *Guard) clearDebounce() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.debouncing = false
	g.stopTimer = nil
}

// State returns the current visibility.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Fired returns how many times the callback ran.
func (g *Guard) Fired() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// Close detaches every source and stops the pending timer.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	releases := g.releases
	g.releases = nil
	if g.stopTimer != nil {
		g.stopTimer()
		g.stopTimer = nil
	}
	g.mu.Unlock()

	for _, release := range releases {
		release()
	}
}

// Switch is a Source driven by explicit calls, e.g. from a terminal focus
// reporter or a signal handler.
type Switch struct {
	mu       sync.Mutex
	next     int
	watchers map[int]func(State)
}

// NewSwitch creates a Switch.
func NewSwitch() *Switch {
	return &Switch{watchers: make(map[int]func(State))}
}

// Watch implements Source.
func (s *Switch) Watch(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Set reports a new state to every watcher.
func (s *Switch) Set(state State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

// Watchers returns the number of attached watchers.
func (s *Switch) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
