package bot

import (
	"context"
	"errors"
	"time"

	"poweronbot/internal/schedule"
	"poweronbot/internal/store"
	"poweronbot/internal/watch"
	"poweronbot/pkg/logx"
)

// ErrNoSubgroups is returned by forced checks for chats with an empty
// tracked set; the background sweep just skips them.
var ErrNoSubgroups = errors.New("no subgroups configured")

// Fetcher is the upstream side of a check. *schedule.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (schedule.Bulletin, error)
}

// Checker runs schedule checks for subscribers. Every method is expected to
// run inside a serialization queue unit; none of them are safe to call
// concurrently with each other.
type Checker struct {
	store *store.Store
	fetch Fetcher
	send  Sender
	log   logx.Logger
	now   func() time.Time
}

func NewChecker(st *store.Store, f Fetcher, snd Sender, log logx.Logger) *Checker {
	return &Checker{store: st, fetch: f, send: snd, log: log, now: time.Now}
}

// CheckAll is one background sweep: a single upstream fetch evaluated against
// every watching subscriber.
func (c *Checker) CheckAll(ctx context.Context) error {
	ids := c.store.Watching()
	if len(ids) == 0 {
		c.log.Debug("sweep skipped, nobody watching")
		return nil
	}

	bulletin, err := c.fetch.Fetch(ctx)
	if err != nil {
		c.log.Warn("sweep fetch failed", logx.Int("subscribers", len(ids)), logx.Err(err))
		for _, id := range ids {
			c.recordFailure(id, err)
		}
		return err
	}

	notified := 0
	for _, id := range ids {
		n, err := c.apply(ctx, id, bulletin, false)
		if err != nil && !errors.Is(err, ErrNoSubgroups) {
			c.log.Warn("subscriber check failed", logx.Int64("chat_id", id), logx.Err(err))
		}
		notified += n
	}
	c.log.Info("sweep done", logx.Int("subscribers", len(ids)), logx.Int("notified", notified))
	return nil
}

// CheckOne checks a single chat. force makes the today context report its
// current state even without a change, and surfaces fetch errors to the
// caller instead of only recording them.
func (c *Checker) CheckOne(ctx context.Context, chatID int64, force bool) error {
	rec := c.store.GetOrCreate(chatID)
	if len(rec.Subgroups) == 0 {
		return ErrNoSubgroups
	}

	bulletin, err := c.fetch.Fetch(ctx)
	if err != nil {
		c.recordFailure(chatID, err)
		return err
	}
	_, err = c.apply(ctx, chatID, bulletin, force)
	return err
}

// apply evaluates one bulletin against one subscriber, persists the resulting
// state and only then sends. If persisting fails the baselines are rolled
// back in memory so the change is detected again on the next sweep, and no
// message goes out for it.
func (c *Checker) apply(ctx context.Context, chatID int64, b schedule.Bulletin, force bool) (notified int, err error) {
	rec := c.store.Get(chatID)
	if rec == nil || len(rec.Subgroups) == 0 {
		return 0, ErrNoSubgroups
	}

	subs := make([]schedule.SubgroupID, 0, len(rec.Subgroups))
	for _, sg := range rec.Subgroups {
		subs = append(subs, schedule.SubgroupID(sg))
	}
	now := c.now()

	todayOut := watch.EvaluateToday(watch.TodayInput{
		Subgroups:      subs,
		Snapshot:       schedule.Normalize(b.Today.Text),
		ImageURL:       b.Today.ImageURL,
		Previous:       rec.Today.LastWatchedText,
		LastNotifiedAt: rec.Today.LastNotifiedAt,
		Force:          force,
		Now:            now,
	})

	tomIn := watch.TomorrowInput{
		Subgroups: subs,
		Previous:  rec.Tomorrow.LastWatchedText,
		Status:    rec.TomorrowStatus,
		Force:     force,
	}
	if b.Tomorrow != nil {
		snap := schedule.Normalize(b.Tomorrow.Text)
		tomIn.Snapshot = &snap
		tomIn.ImageURL = b.Tomorrow.ImageURL
	}
	tomOut := watch.EvaluateTomorrow(tomIn)

	persistErr := c.store.Mutate(chatID, func(r *store.Record) {
		r.Today.LastCheckedAt = now
		r.Today.LastError = ""
		if todayOut.SetBaseline {
			r.Today.LastWatchedText = todayOut.Baseline
		}
		if todayOut.MarkNotified {
			r.Today.LastNotifiedAt = now
		}

		r.Tomorrow.LastCheckedAt = now
		r.Tomorrow.LastError = ""
		if tomOut.SetBaseline {
			r.Tomorrow.LastWatchedText = tomOut.Baseline
		}
		if tomOut.MarkNotified {
			r.Tomorrow.LastNotifiedAt = now
		}
		r.TomorrowStatus = tomOut.NewTomorrowStatus
	})
	if persistErr != nil {
		// Roll the baselines back so the next successful sweep re-detects
		// and re-delivers this change.
		_ = c.store.Mutate(chatID, func(r *store.Record) {
			r.Today.LastWatchedText = rec.Today.LastWatchedText
			r.Today.LastNotifiedAt = rec.Today.LastNotifiedAt
			r.Tomorrow.LastWatchedText = rec.Tomorrow.LastWatchedText
			r.Tomorrow.LastNotifiedAt = rec.Tomorrow.LastNotifiedAt
			r.TomorrowStatus = rec.TomorrowStatus
			r.Today.LastError = persistErr.Error()
		})
		return 0, persistErr
	}

	if todayOut.Notify {
		if err := c.send.Send(ctx, chatID, todayOut.Message); err == nil {
			notified++
		}
	}
	if tomOut.Notify {
		if err := c.send.Send(ctx, chatID, tomOut.Message); err == nil {
			notified++
		}
	}
	return notified, nil
}

func (c *Checker) recordFailure(chatID int64, cause error) {
	now := c.now()
	if err := c.store.Mutate(chatID, func(r *store.Record) {
		r.Today.LastCheckedAt = now
		r.Today.LastError = cause.Error()
		r.Tomorrow.LastCheckedAt = now
		r.Tomorrow.LastError = cause.Error()
	}); err != nil {
		c.log.Error("failed to record check failure", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
