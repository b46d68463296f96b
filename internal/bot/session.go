package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"poweronbot/internal/schedule"
	"poweronbot/internal/store"
	"poweronbot/pkg/logx"
)

// Command implementations. All of these run inside serialization queue units
// and do their own replies through the Sender, so notifications produced by a
// forced check land in order after the command's confirmation.

func (b *Bot) cmdStart(ctx context.Context, chatID int64, _ string) error {
	b.mutate(chatID, func(r *store.Record) {
		r.Pending = store.PendingNone
	})
	return b.send.Send(ctx, chatID, textWelcome+"\n\n"+textHelp)
}

// A subgroup list attached to the command applies immediately; otherwise the
// chat is armed to collect the list from the next message.

func (b *Bot) cmdSubgroups(ctx context.Context, chatID int64, payload string) error {
	if ids := schedule.ParseSubgroupList(payload); len(ids) > 0 {
		return b.applyAndReport(ctx, chatID, store.PendingInitialSet, ids)
	}
	b.mutate(chatID, func(r *store.Record) {
		r.Pending = store.PendingInitialSet
	})
	return b.send.Send(ctx, chatID, textPromptInitial)
}

func (b *Bot) cmdAdd(ctx context.Context, chatID int64, payload string) error {
	if ids := schedule.ParseSubgroupList(payload); len(ids) > 0 {
		return b.applyAndReport(ctx, chatID, store.PendingAdditions, ids)
	}
	b.mutate(chatID, func(r *store.Record) {
		r.Pending = store.PendingAdditions
	})
	return b.send.Send(ctx, chatID, textPromptAdd)
}

func (b *Bot) cmdRemove(ctx context.Context, chatID int64, payload string) error {
	rec := b.store.GetOrCreate(chatID)
	if len(rec.Subgroups) == 0 {
		return b.send.Send(ctx, chatID, textNeedSetup)
	}
	if ids := schedule.ParseSubgroupList(payload); len(ids) > 0 {
		return b.applyAndReport(ctx, chatID, store.PendingRemovals, ids)
	}
	b.mutate(chatID, func(r *store.Record) {
		r.Pending = store.PendingRemovals
	})
	msg := textPromptRemove + "\n\nTracking now: " + formatSubgroups(rec.Subgroups)
	return b.send.Send(ctx, chatID, msg)
}

func (b *Bot) cmdCheck(ctx context.Context, chatID int64, _ string) error {
	b.mutate(chatID, func(r *store.Record) {
		r.Pending = store.PendingNone
	})
	switch err := b.checker.CheckOne(ctx, chatID, true); {
	case errors.Is(err, ErrNoSubgroups):
		return b.send.Send(ctx, chatID, textNeedSetup)
	case err != nil:
		return b.send.Send(ctx, chatID, textCheckFailed)
	}
	return nil
}

func (b *Bot) cmdWatch(ctx context.Context, chatID int64, _ string) error {
	rec := b.store.GetOrCreate(chatID)
	if len(rec.Subgroups) == 0 {
		return b.send.Send(ctx, chatID, textNeedSetup)
	}
	b.mutate(chatID, func(r *store.Record) {
		r.WatchEnabled = true
		r.Pending = store.PendingNone
	})
	if err := b.send.Send(ctx, chatID, textWatchOn); err != nil {
		return err
	}
	// Report the current state right away, then the poll loop takes over.
	if err := b.checker.CheckOne(ctx, chatID, true); err != nil && !errors.Is(err, ErrNoSubgroups) {
		return b.send.Send(ctx, chatID, textCheckFailed)
	}
	return nil
}

func (b *Bot) cmdStop(ctx context.Context, chatID int64, _ string) error {
	b.mutate(chatID, func(r *store.Record) {
		r.WatchEnabled = false
		r.Pending = store.PendingNone
	})
	return b.send.Send(ctx, chatID, textWatchOff)
}

// handleText interprets a free-text message according to the chat's pending
// input mode. Invalid input leaves the mode armed so the user can retry.
func (b *Bot) handleText(ctx context.Context, chatID int64, text string) error {
	rec := b.store.GetOrCreate(chatID)
	if rec.Pending == store.PendingNone {
		return b.send.Send(ctx, chatID, textUnknown)
	}

	ids := schedule.ParseSubgroupList(text)
	if len(ids) == 0 {
		return b.send.Send(ctx, chatID, textInvalidSubgroups)
	}
	return b.applyAndReport(ctx, chatID, rec.Pending, ids)
}

// applyAndReport commits a membership change, confirms it, and immediately
// runs a forced check so the subscriber sees the schedule for the new set
// without waiting for the next sweep.
func (b *Bot) applyAndReport(ctx context.Context, chatID int64, mode store.PendingInput, ids []schedule.SubgroupID) error {
	b.mutate(chatID, func(r *store.Record) {
		applyMembership(r, mode, ids)
	})

	rec := b.store.Get(chatID)
	if rec == nil || len(rec.Subgroups) == 0 {
		return b.send.Send(ctx, chatID, textNothingTracked)
	}
	if err := b.send.Send(ctx, chatID, "Now tracking: "+formatSubgroups(rec.Subgroups)); err != nil {
		return err
	}
	if err := b.checker.CheckOne(ctx, chatID, true); err != nil && !errors.Is(err, ErrNoSubgroups) {
		return b.send.Send(ctx, chatID, textCheckFailed)
	}
	return nil
}

// applyMembership mutates the tracked set and resets comparison state, so the
// next check baselines the new set from scratch instead of diffing against
// text rendered for the old set.
func applyMembership(r *store.Record, mode store.PendingInput, ids []schedule.SubgroupID) {
	switch mode {
	case store.PendingInitialSet:
		r.Subgroups = toStrings(ids)
	case store.PendingAdditions:
		have := map[string]struct{}{}
		for _, sg := range r.Subgroups {
			have[sg] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := have[string(id)]; ok {
				continue
			}
			r.Subgroups = append(r.Subgroups, string(id))
			have[string(id)] = struct{}{}
		}
	case store.PendingRemovals:
		drop := map[string]struct{}{}
		for _, id := range ids {
			drop[string(id)] = struct{}{}
		}
		kept := r.Subgroups[:0]
		for _, sg := range r.Subgroups {
			if _, ok := drop[sg]; !ok {
				kept = append(kept, sg)
			}
		}
		r.Subgroups = kept
	}
	r.Pending = store.PendingNone
	r.Today = store.DayState{}
	r.Tomorrow = store.DayState{}
	r.TomorrowStatus = store.TomorrowMissing
}

func toStrings(ids []schedule.SubgroupID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func formatSubgroups(ss []string) string {
	return strings.Join(ss, ", ")
}

func (b *Bot) listText(chatID int64) string {
	rec := b.store.Get(chatID)
	if rec == nil || len(rec.Subgroups) == 0 {
		return textNeedSetup
	}
	return "Tracking: " + formatSubgroups(rec.Subgroups)
}

func (b *Bot) statusText(chatID int64) string {
	rec := b.store.Get(chatID)
	if rec == nil {
		return textNeedSetup
	}

	var sb strings.Builder
	if rec.WatchEnabled {
		sb.WriteString("Watching: on\n")
	} else {
		sb.WriteString("Watching: off\n")
	}
	if len(rec.Subgroups) == 0 {
		sb.WriteString("Subgroups: none\n")
	} else {
		sb.WriteString("Subgroups: " + formatSubgroups(rec.Subgroups) + "\n")
	}
	sb.WriteString("Last check: " + fmtTime(rec.Today.LastCheckedAt) + "\n")
	sb.WriteString("Last notification (today): " + fmtTime(rec.Today.LastNotifiedAt) + "\n")
	sb.WriteString("Last notification (tomorrow): " + fmtTime(rec.Tomorrow.LastNotifiedAt) + "\n")
	sb.WriteString("Tomorrow schedule upstream: " + rec.TomorrowStatus.String())
	if rec.Today.LastError != "" {
		sb.WriteString("\nLast error: " + rec.Today.LastError)
	}
	return sb.String()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// mutate wraps store.Mutate, downgrading persist failures to a log line. The
// in-memory record is committed either way; the next successful save flushes
// it.
func (b *Bot) mutate(chatID int64, fn func(*store.Record)) {
	if err := b.store.Mutate(chatID, fn); err != nil {
		b.log.Error("subscriber update not persisted", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
