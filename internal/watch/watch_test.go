package watch

import (
	"strings"
	"testing"
	"time"

	"poweronbot/internal/schedule"
	"poweronbot/internal/store"
)

func snap(t *testing.T, raw string) schedule.Snapshot {
	t.Helper()
	return schedule.Normalize(raw)
}

const rawDay1 = `Outage schedule for 15 August
Updated 06:10

Subgroup 1.1. No power 09:00-12:00.
Subgroup 1.2. No power 12:00-15:00.
Subgroup 3.2. No power 15:00-18:00.`

// Same subgroup lines as rawDay1, different header stamp.
const rawDay1Restamped = `Outage schedule for 15 August
Updated 09:40

Subgroup 1.1. No power 09:00-12:00.
Subgroup 1.2. No power 12:00-15:00.
Subgroup 3.2. No power 15:00-18:00.`

// The 1.1 window moved; everything else identical to rawDay1.
const rawDay1Shifted = `Outage schedule for 15 August
Updated 06:10

Subgroup 1.1. No power 10:00-13:00.
Subgroup 1.2. No power 12:00-15:00.
Subgroup 3.2. No power 15:00-18:00.`

func TestTodayFirstObservationSilentThenChangeNotifies(t *testing.T) {
	t.Parallel()

	subs := []schedule.SubgroupID{"1.1"}
	now := time.Date(2025, 8, 15, 8, 0, 0, 0, time.Local)

	first := EvaluateToday(TodayInput{
		Subgroups: subs,
		Snapshot:  snap(t, rawDay1),
		Now:       now,
	})
	if first.Notify {
		t.Fatalf("first observation must be silent, got reason %s", first.Reason)
	}
	if !first.SetBaseline || first.Baseline == "" {
		t.Fatal("first observation must store a baseline")
	}

	rec := store.Record{}
	rec.Today.LastWatchedText = first.Baseline
	rec.Today.LastNotifiedAt = now

	second := EvaluateToday(TodayInput{
		Subgroups:      subs,
		Snapshot:       snap(t, rawDay1),
		Previous:       rec.Today.LastWatchedText,
		LastNotifiedAt: rec.Today.LastNotifiedAt,
		Now:            now.Add(30 * time.Minute),
	})
	if second.Notify {
		t.Fatalf("identical snapshot must not re-notify, got reason %s", second.Reason)
	}

	third := EvaluateToday(TodayInput{
		Subgroups:      subs,
		Snapshot:       snap(t, rawDay1Shifted),
		Previous:       rec.Today.LastWatchedText,
		LastNotifiedAt: rec.Today.LastNotifiedAt,
		Now:            now.Add(time.Hour),
	})
	if !third.Notify || third.Reason != ReasonChanged {
		t.Fatalf("changed tracked line must notify with changed, got %+v", third)
	}
	if !strings.Contains(third.Message, "10:00-13:00") {
		t.Fatalf("message must carry the new line, got %q", third.Message)
	}
}

func TestTodayUntrackedChangeStaysSilent(t *testing.T) {
	t.Parallel()

	// Subscriber tracks 1.1 only; the 3.2 line moves.
	subs := []schedule.SubgroupID{"1.1"}
	now := time.Date(2025, 8, 15, 8, 0, 0, 0, time.Local)

	base := EvaluateToday(TodayInput{Subgroups: subs, Snapshot: snap(t, rawDay1), Now: now})

	const rawOtherShifted = `Outage schedule for 15 August
Updated 06:10

Subgroup 1.1. No power 09:00-12:00.
Subgroup 3.2. No power 16:00-19:00.`

	out := EvaluateToday(TodayInput{
		Subgroups:      subs,
		Snapshot:       snap(t, rawOtherShifted),
		Previous:       base.Baseline,
		LastNotifiedAt: now,
		Now:            now.Add(time.Hour),
	})
	if out.Notify {
		t.Fatalf("change to an untracked subgroup must stay silent, got %+v", out)
	}
}

func TestTodayRolloverNotifies(t *testing.T) {
	t.Parallel()

	subs := []schedule.SubgroupID{"1.1"}
	yesterday := time.Date(2025, 8, 14, 21, 0, 0, 0, time.Local)
	now := time.Date(2025, 8, 15, 7, 0, 0, 0, time.Local)

	base := EvaluateToday(TodayInput{Subgroups: subs, Snapshot: snap(t, rawDay1), Now: yesterday})

	out := EvaluateToday(TodayInput{
		Subgroups:      subs,
		Snapshot:       snap(t, rawDay1),
		Previous:       base.Baseline,
		LastNotifiedAt: yesterday,
		Now:            now,
	})
	if !out.Notify || out.Reason != ReasonRollover {
		t.Fatalf("calendar-day rollover must notify, got %+v", out)
	}
	if !strings.HasPrefix(out.Message, headingTodayRollover) {
		t.Fatalf("unexpected heading in %q", out.Message)
	}
}

func TestTodayRolloverNeedsAPriorNotification(t *testing.T) {
	t.Parallel()

	subs := []schedule.SubgroupID{"1.1"}
	base := EvaluateToday(TodayInput{Subgroups: subs, Snapshot: snap(t, rawDay1), Now: time.Now()})

	// Baseline exists but the subscriber was never notified. A zero
	// LastNotifiedAt must not read as a day rollover.
	out := EvaluateToday(TodayInput{
		Subgroups: subs,
		Snapshot:  snap(t, rawDay1),
		Previous:  base.Baseline,
		Now:       time.Now(),
	})
	if out.Notify {
		t.Fatalf("zero LastNotifiedAt must not trigger rollover, got %+v", out)
	}
}

func TestTodayForcedAlwaysReports(t *testing.T) {
	t.Parallel()

	subs := []schedule.SubgroupID{"1.1"}
	now := time.Now()

	first := EvaluateToday(TodayInput{
		Subgroups: subs,
		Snapshot:  snap(t, rawDay1),
		Force:     true,
		Now:       now,
	})
	if !first.Notify || first.Reason != ReasonForced {
		t.Fatalf("forced first check must notify, got %+v", first)
	}

	again := EvaluateToday(TodayInput{
		Subgroups:      subs,
		Snapshot:       snap(t, rawDay1),
		Previous:       first.Baseline,
		LastNotifiedAt: now,
		Force:          true,
		Now:            now.Add(time.Minute),
	})
	if !again.Notify || again.Reason != ReasonForced {
		t.Fatalf("forced check with no change must still report, got %+v", again)
	}
	if !strings.HasPrefix(again.Message, headingTodayForced) {
		t.Fatalf("unexpected heading in %q", again.Message)
	}
}

func TestTodayRestampSilentButPlaceholderTransitionNotifies(t *testing.T) {
	t.Parallel()

	// The comparison ignores headers, so a restamp alone stays silent. A
	// placeholder transition (tracked line vanishing) does notify.
	subs := []schedule.SubgroupID{"1.1"}
	now := time.Now()

	base := EvaluateToday(TodayInput{Subgroups: subs, Snapshot: snap(t, rawDay1), Now: now})

	restamp := EvaluateToday(TodayInput{
		Subgroups:      subs,
		Snapshot:       snap(t, rawDay1Restamped),
		Previous:       base.Baseline,
		LastNotifiedAt: now,
		Now:            now,
	})
	if restamp.Notify {
		t.Fatalf("header restamp alone must not notify today, got %+v", restamp)
	}

	const rawWithout = `Outage schedule for 15 August
Updated 06:10

Subgroup 3.2. No power 15:00-18:00.`
	vanished := EvaluateToday(TodayInput{
		Subgroups:      subs,
		Snapshot:       snap(t, rawWithout),
		Previous:       base.Baseline,
		LastNotifiedAt: now,
		Now:            now,
	})
	if !vanished.Notify || vanished.Reason != ReasonChanged {
		t.Fatalf("tracked line disappearing must notify, got %+v", vanished)
	}
	if !strings.Contains(vanished.Message, placeholderNote) {
		t.Fatalf("message must carry the placeholder, got %q", vanished.Message)
	}
}

func TestTomorrowAbsentMarksMissing(t *testing.T) {
	t.Parallel()

	out := EvaluateTomorrow(TomorrowInput{
		Subgroups: []schedule.SubgroupID{"1.1"},
		Status:    store.TomorrowPresent,
	})
	if out.Notify || out.SetBaseline {
		t.Fatalf("absent tomorrow must be silent, got %+v", out)
	}
	if out.NewTomorrowStatus != store.TomorrowMissing {
		t.Fatalf("status = %v, want missing", out.NewTomorrowStatus)
	}
}

func TestTomorrowAppearedNotifiesExactlyOnce(t *testing.T) {
	t.Parallel()

	subs := []schedule.SubgroupID{"1.1"}
	s := snap(t, rawDay1)

	first := EvaluateTomorrow(TomorrowInput{
		Subgroups: subs,
		Snapshot:  &s,
		Status:    store.TomorrowMissing,
	})
	if !first.Notify || first.Reason != ReasonAppeared {
		t.Fatalf("missing to present must notify appeared, got %+v", first)
	}
	if first.NewTomorrowStatus != store.TomorrowPresent {
		t.Fatalf("status = %v, want present", first.NewTomorrowStatus)
	}

	second := EvaluateTomorrow(TomorrowInput{
		Subgroups: subs,
		Snapshot:  &s,
		Previous:  first.Baseline,
		Status:    first.NewTomorrowStatus,
	})
	if second.Notify {
		t.Fatalf("identical tomorrow snapshot must not re-notify, got %+v", second)
	}
}

func TestTomorrowEmptyForSubscriberKeepsAppearedPending(t *testing.T) {
	t.Parallel()

	subs := []schedule.SubgroupID{"2.1"}
	withoutTracked := snap(t, rawDay1) // has 1.1, 1.2, 3.2 only

	empty := EvaluateTomorrow(TomorrowInput{
		Subgroups: subs,
		Snapshot:  &withoutTracked,
		Status:    store.TomorrowMissing,
	})
	if empty.Notify {
		t.Fatalf("tomorrow with no tracked lines must be silent, got %+v", empty)
	}
	if !empty.SetBaseline {
		t.Fatal("baseline should still be stored for future comparison")
	}
	if empty.NewTomorrowStatus != store.TomorrowMissing {
		t.Fatalf("status = %v, want missing until tracked data shows up", empty.NewTomorrowStatus)
	}

	const rawNowTracked = `Outage schedule for 16 August
Updated 20:15

Subgroup 2.1. No power 06:00-09:00.`
	tracked := snap(t, rawNowTracked)
	appeared := EvaluateTomorrow(TomorrowInput{
		Subgroups: subs,
		Snapshot:  &tracked,
		Previous:  empty.Baseline,
		Status:    empty.NewTomorrowStatus,
	})
	if !appeared.Notify || appeared.Reason != ReasonAppeared {
		t.Fatalf("tracked data arriving must notify appeared, got %+v", appeared)
	}
}

func TestTomorrowChangeNeedsNewHeaderToo(t *testing.T) {
	t.Parallel()

	subs := []schedule.SubgroupID{"1.1"}
	s := snap(t, rawDay1)

	base := EvaluateTomorrow(TomorrowInput{Subgroups: subs, Snapshot: &s, Status: store.TomorrowMissing})

	// Lines moved but the header stamp did not: stale republish, silent.
	shifted := snap(t, rawDay1Shifted)
	stale := EvaluateTomorrow(TomorrowInput{
		Subgroups: subs,
		Snapshot:  &shifted,
		Previous:  base.Baseline,
		Status:    base.NewTomorrowStatus,
	})
	if stale.Notify {
		t.Fatalf("line change without a header change must be silent, got %+v", stale)
	}
	if stale.SetBaseline {
		t.Fatal("baseline must not advance on a silent tomorrow check")
	}

	// Header restamped but lines identical: also silent.
	restamped := snap(t, rawDay1Restamped)
	headerOnly := EvaluateTomorrow(TomorrowInput{
		Subgroups: subs,
		Snapshot:  &restamped,
		Previous:  base.Baseline,
		Status:    base.NewTomorrowStatus,
	})
	if headerOnly.Notify {
		t.Fatalf("header change without a line change must be silent, got %+v", headerOnly)
	}

	const rawBoth = `Outage schedule for 15 August
Updated 11:25

Subgroup 1.1. No power 10:00-13:00.
Subgroup 1.2. No power 12:00-15:00.
Subgroup 3.2. No power 15:00-18:00.`
	both := snap(t, rawBoth)
	out := EvaluateTomorrow(TomorrowInput{
		Subgroups: subs,
		Snapshot:  &both,
		Previous:  base.Baseline,
		Status:    base.NewTomorrowStatus,
	})
	if !out.Notify || out.Reason != ReasonChanged {
		t.Fatalf("line and header both changing must notify, got %+v", out)
	}
	if !strings.HasPrefix(out.Message, headingTomorrowChanged) {
		t.Fatalf("unexpected heading in %q", out.Message)
	}
}

func TestRenderWatchedOrderAndPlaceholder(t *testing.T) {
	t.Parallel()

	s := snap(t, rawDay1)
	got := RenderWatched([]schedule.SubgroupID{"3.2", "4.1", "1.1"}, s)

	want := "Outage schedule for 15 August\n" +
		"Updated 06:10\n" +
		"\n" +
		"Subgroup 3.2. No power 15:00-18:00.\n" +
		"Subgroup 4.1. (not found in this update)\n" +
		"Subgroup 1.1. No power 09:00-12:00."
	if got != want {
		t.Fatalf("RenderWatched mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestComposeMessageAppendsImage(t *testing.T) {
	t.Parallel()

	out := EvaluateToday(TodayInput{
		Subgroups: []schedule.SubgroupID{"1.1"},
		Snapshot:  snap(t, rawDay1),
		ImageURL:  "https://media.example.com/today.png",
		Force:     true,
		Now:       time.Now(),
	})
	if !strings.HasSuffix(out.Message, "https://media.example.com/today.png") {
		t.Fatalf("image URL must trail the message, got %q", out.Message)
	}
}
