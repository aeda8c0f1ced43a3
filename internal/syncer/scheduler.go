package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Scheduler defaults, from the reference timings the webapp shipped with.
const (
	DefaultDebounce     = 3 * time.Second
	DefaultPollInterval = 5 * time.Second
)

type schedulerState int

const (
	stateIdle schedulerState = iota
	// stateScheduled: the debounce timer is armed; another trigger re-arms
	// it instead of stacking a second timer.
	stateScheduled
	// stateRunning: a pass is in flight; another trigger only sets the
	// rerun flag, never starts a concurrent pass.
	stateRunning
)

// Scheduler debounces sync triggers into reconciliation passes and enforces
// the single-flight discipline: at most one pass runs at a time, and a
// trigger arriving mid-pass guarantees exactly one follow-up pass.
type Scheduler struct {
	clock        clockwork.Clock
	debounce     time.Duration
	pollInterval time.Duration
	pass         func(ctx context.Context)
	poll         func(ctx context.Context)
	visible      func() bool
	log          zerolog.Logger

	mu     sync.Mutex
	state  schedulerState
	rerun  bool
	timer  clockwork.Timer
	runCtx context.Context
}

func newScheduler(clock clockwork.Clock, debounce, pollInterval time.Duration, pass, poll func(ctx context.Context), visible func() bool, log zerolog.Logger) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Scheduler{
		clock:        clock,
		debounce:     debounce,
		pollInterval: pollInterval,
		pass:         pass,
		poll:         poll,
		visible:      visible,
		log:          log,
		runCtx:       context.Background(),
	}
}

// Trigger requests a sync. Triggers within the debounce window coalesce into
// one pass; a trigger during a running pass schedules an immediate rerun.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		s.rerun = true
	case stateScheduled:
		s.timer.Reset(s.debounce)
	default:
		s.state = stateScheduled
		if s.timer == nil {
			s.timer = s.clock.AfterFunc(s.debounce, s.fire)
		} else {
			s.timer.Reset(s.debounce)
		}
	}
}

// InFlight reports whether a reconciliation pass is currently running.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// fire runs on the debounce timer's goroutine. It executes the pass, then
// immediately reruns (no further debounce) as long as triggers arrived while
// it was running.
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.state != stateScheduled {
		s.mu.Unlock()
		return
	}
	s.state = stateRunning
	ctx := s.runCtx
	s.mu.Unlock()

	for {
		s.pass(ctx)
		s.mu.Lock()
		if s.rerun {
			s.rerun = false
			s.mu.Unlock()
			s.log.Debug().Msg("rerun requested during sync pass; starting follow-up pass")
			continue
		}
		s.state = stateIdle
		s.mu.Unlock()
		return
	}
}

// Run drives the periodic leaderboard-only refresh until ctx is cancelled.
// The refresh is skipped while not visible and while a pass is in flight, to
// avoid wasted requests and races with full reconciliation.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			s.mu.Unlock()
			return
		case <-ticker.Chan():
			if s.visible() && !s.InFlight() {
				s.poll(ctx)
			}
		}
	}
}
