// Package poll drives the periodic schedule sweeps. The runner never checks
// schedules itself; each tick it calls the trigger callback, which is
// expected to enqueue the sweep onto the serialization queue and return
// promptly.
package poll

import (
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"poweronbot/internal/config"
	"poweronbot/pkg/logx"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Runner fires a trigger callback on a schedule controlled by
// config.PollSettings: a fixed interval, a uniformly redrawn jitter interval,
// or a cron spec. Apply swaps the schedule at runtime without restarting.
type Runner struct {
	log     logx.Logger
	trigger func()
	rng     *rand.Rand

	mu  sync.Mutex
	cfg config.PollSettings

	reloadCh chan struct{}
	stopCh   chan struct{}
	stopDone chan struct{}
}

func New(cfg config.PollSettings, trigger func(), log logx.Logger) *Runner {
	return &Runner{
		log:     log,
		trigger: trigger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg:     cfg,
	}
}

// Start launches the tick loop. After the configured initial delay the
// runner fires once immediately, then settles into the configured cadence.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.stopDone = make(chan struct{})
	r.reloadCh = make(chan struct{}, 1)
	go r.loop(r.stopCh, r.reloadCh, r.stopDone)
	r.log.Info("poll runner started",
		logx.String("mode", r.cfg.Mode),
	)
}

// Stop halts the tick loop and waits for it to exit. A sweep already handed
// to the trigger is not interrupted; that is the serialization queue's job.
func (r *Runner) Stop() {
	r.mu.Lock()
	stopCh, done := r.stopCh, r.stopDone
	r.stopCh = nil
	r.stopDone = nil
	r.mu.Unlock()
	if stopCh == nil {
		return
	}

	close(stopCh)
	<-done
	r.log.Info("poll runner stopped")
}

// Apply installs a new poll configuration. The loop wakes up, discards its
// pending timer and recomputes the next tick under the new settings.
func (r *Runner) Apply(cfg config.PollSettings) {
	r.mu.Lock()
	changed := r.cfg != cfg
	r.cfg = cfg
	reload := r.reloadCh
	r.mu.Unlock()

	if !changed || reload == nil {
		return
	}
	select {
	case reload <- struct{}{}:
	default:
	}
	r.log.Info("poll schedule updated", logx.String("mode", cfg.Mode))
}

func (r *Runner) snapshot() config.PollSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *Runner) loop(stopCh, reloadCh <-chan struct{}, stopDone chan<- struct{}) {
	defer close(stopDone)

	if d := r.snapshot().InitialDelay; d > 0 {
		if r.wait(d, stopCh, reloadCh) == waitStop {
			return
		}
	}
	// Startup sweep, so a restart does not wait out a long interval before
	// subscribers see fresh data.
	r.trigger()

	for {
		switch r.wait(r.nextDelay(), stopCh, reloadCh) {
		case waitStop:
			return
		case waitReload:
			continue
		}
		r.trigger()
	}
}

// nextDelay computes the gap to the next tick for the current mode. Invalid
// settings fall back to a conservative half hour rather than spinning.
func (r *Runner) nextDelay() time.Duration {
	const fallback = 30 * time.Minute
	cfg := r.snapshot()

	switch cfg.Mode {
	case config.PollModeJitter:
		lo, hi := cfg.Min, cfg.Max
		if lo <= 0 || hi < lo {
			r.log.Warn("invalid jitter bounds, using fallback interval",
				logx.Duration("min", lo), logx.Duration("max", hi))
			return fallback
		}
		r.mu.Lock()
		d := lo + time.Duration(r.rng.Int63n(int64(hi-lo)+1))
		r.mu.Unlock()
		return d
	case config.PollModeCron:
		sched, err := cronParser.Parse(cfg.Spec)
		if err != nil {
			r.log.Warn("invalid cron spec, using fallback interval",
				logx.String("spec", cfg.Spec), logx.Err(err))
			return fallback
		}
		now := time.Now()
		next := sched.Next(now)
		if next.IsZero() {
			return fallback
		}
		return next.Sub(now)
	default:
		if cfg.Every <= 0 {
			return fallback
		}
		return cfg.Every
	}
}

type waitResult int

const (
	waitFired waitResult = iota
	waitReload
	waitStop
)

func (r *Runner) wait(d time.Duration, stopCh, reloadCh <-chan struct{}) waitResult {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return waitFired
	case <-reloadCh:
		return waitReload
	case <-stopCh:
		return waitStop
	}
}
