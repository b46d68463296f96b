package bot

import (
	"context"
	"strings"
	"testing"

	"poweronbot/internal/schedule"
	"poweronbot/internal/store"
)

const testBulletinShifted = `Schedule for 15 August
Updated 06:10

Subgroup 1.1. No power 10:00-13:00.
Subgroup 3.2. No power 15:00-18:00.`

func watchChat(t *testing.T, b *Bot, chatID int64, subgroups ...string) {
	t.Helper()
	seed(t, b, chatID, subgroups...)
	if err := b.store.Mutate(chatID, func(r *store.Record) { r.WatchEnabled = true }); err != nil {
		t.Fatal(err)
	}
}

func TestSweepFetchesOnceForAllSubscribers(t *testing.T) {
	t.Parallel()
	b, _, f := newTestBot(t)

	watchChat(t, b, 1, "1.1")
	watchChat(t, b, 2, "3.2")
	watchChat(t, b, 3, "2.1")
	f.set(schedule.Bulletin{Today: schedule.Day{Text: testBulletinToday}}, nil)

	if err := b.checker.CheckAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetch called %d times for one sweep, want 1", n)
	}
}

func TestSweepBaselinesSilentlyThenNotifiesOnChange(t *testing.T) {
	t.Parallel()
	b, snd, f := newTestBot(t)
	ctx := context.Background()

	watchChat(t, b, 1, "1.1")
	watchChat(t, b, 2, "3.2")
	f.set(schedule.Bulletin{Today: schedule.Day{Text: testBulletinToday}}, nil)

	if err := b.checker.CheckAll(ctx); err != nil {
		t.Fatal(err)
	}
	if msgs := snd.take(); len(msgs) != 0 {
		t.Fatalf("first sweep must be silent, got %+v", msgs)
	}

	// Only the 1.1 line moves, so only chat 1 hears about it.
	f.set(schedule.Bulletin{Today: schedule.Day{Text: testBulletinShifted}}, nil)
	if err := b.checker.CheckAll(ctx); err != nil {
		t.Fatal(err)
	}
	msgs := snd.take()
	if len(msgs) != 1 || msgs[0].chatID != 1 {
		t.Fatalf("want exactly one notification to chat 1, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].text, "10:00-13:00") {
		t.Fatalf("notification missing new window: %q", msgs[0].text)
	}

	// Re-running with the same payload stays quiet.
	if err := b.checker.CheckAll(ctx); err != nil {
		t.Fatal(err)
	}
	if msgs := snd.take(); len(msgs) != 0 {
		t.Fatalf("unchanged payload must not re-notify, got %+v", msgs)
	}
}

func TestSweepSkipsChatsWithoutSubgroups(t *testing.T) {
	t.Parallel()
	b, snd, f := newTestBot(t)

	watchChat(t, b, 1) // watching, but nothing tracked
	f.set(schedule.Bulletin{Today: schedule.Day{Text: testBulletinToday}}, nil)

	if err := b.checker.CheckAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if msgs := snd.take(); len(msgs) != 0 {
		t.Fatalf("chat without subgroups must be skipped, got %+v", msgs)
	}
}

func TestSweepRecordsFetchFailure(t *testing.T) {
	t.Parallel()
	b, snd, f := newTestBot(t)

	watchChat(t, b, 1, "1.1")
	f.set(schedule.Bulletin{}, schedule.ErrFetch)

	if err := b.checker.CheckAll(context.Background()); err == nil {
		t.Fatal("sweep should report the fetch failure")
	}
	if msgs := snd.take(); len(msgs) != 0 {
		t.Fatalf("fetch failure must not message subscribers, got %+v", msgs)
	}
	rec := b.store.Get(1)
	if rec.Today.LastError == "" || rec.Tomorrow.LastError == "" {
		t.Fatalf("fetch failure not recorded: %+v", rec)
	}
	if rec.Today.LastCheckedAt.IsZero() {
		t.Fatal("failed check must still stamp LastCheckedAt")
	}

	// A later successful check clears the recorded error.
	f.set(schedule.Bulletin{Today: schedule.Day{Text: testBulletinToday}}, nil)
	if err := b.checker.CheckAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec := b.store.Get(1); rec.Today.LastError != "" {
		t.Fatalf("error not cleared after success: %q", rec.Today.LastError)
	}
}

func TestSweepTomorrowAppears(t *testing.T) {
	t.Parallel()
	b, snd, f := newTestBot(t)
	ctx := context.Background()

	watchChat(t, b, 1, "1.1")
	f.set(schedule.Bulletin{Today: schedule.Day{Text: testBulletinToday}}, nil)
	if err := b.checker.CheckAll(ctx); err != nil {
		t.Fatal(err)
	}
	snd.take()

	const rawTomorrow = `Schedule for 16 August
Updated 20:30

Subgroup 1.1. No power 06:00-09:00.`
	f.set(schedule.Bulletin{
		Today:    schedule.Day{Text: testBulletinToday},
		Tomorrow: &schedule.Day{Text: rawTomorrow},
	}, nil)

	if err := b.checker.CheckAll(ctx); err != nil {
		t.Fatal(err)
	}
	msgs := snd.take()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "appeared") {
		t.Fatalf("want one appeared notification, got %+v", msgs)
	}
	if got := b.store.Get(1).TomorrowStatus; got != store.TomorrowPresent {
		t.Fatalf("tomorrow status = %v, want present", got)
	}

	// Same payload again: no repeat.
	if err := b.checker.CheckAll(ctx); err != nil {
		t.Fatal(err)
	}
	if msgs := snd.take(); len(msgs) != 0 {
		t.Fatalf("appeared must fire exactly once, got %+v", msgs)
	}
}
