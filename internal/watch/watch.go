// Package watch decides, for one subscriber and one day-context, whether a
// freshly normalized schedule snapshot warrants a notification, and renders
// the message to send.
//
// The two day-contexts deliberately use different change rules: today
// notifies on a subgroup-text change alone, while tomorrow requires BOTH the
// subgroup text and the header lines (the publisher's freshness stamp) to
// differ, since the publisher republishes tomorrow's block without touching
// its content.
package watch

import (
	"strings"
	"time"

	"poweronbot/internal/schedule"
	"poweronbot/internal/store"
)

// Reason classifies why a notification fires.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonForced
	ReasonChanged
	ReasonRollover
	ReasonAppeared
)

func (r Reason) String() string {
	switch r {
	case ReasonForced:
		return "forced"
	case ReasonChanged:
		return "changed"
	case ReasonRollover:
		return "rollover"
	case ReasonAppeared:
		return "appeared"
	default:
		return "none"
	}
}

// Outcome is the verdict for one subscriber and one day-context. The caller
// applies it to the subscriber record under the serialization queue and sends
// Message when Notify is set.
type Outcome struct {
	Notify  bool
	Reason  Reason
	Message string

	// SetBaseline indicates Baseline should replace the stored watched text.
	SetBaseline bool
	Baseline    string

	// MarkNotified stamps the day-context's LastNotifiedAt.
	MarkNotified bool

	// NewTomorrowStatus is the tomorrow presence tracker after this check
	// (tomorrow-context only; today evaluations leave it untouched).
	NewTomorrowStatus store.TomorrowStatus
}

// TodayInput carries everything the today-context decision needs.
type TodayInput struct {
	Subgroups      []schedule.SubgroupID
	Snapshot       schedule.Snapshot
	ImageURL       string
	Previous       string // stored baseline, "" on first observation
	LastNotifiedAt time.Time
	Force          bool
	Now            time.Time
}

// EvaluateToday implements the today-context policy: baseline silently on
// first observation, then notify on content change, calendar-day rollover or
// a forced check.
func EvaluateToday(in TodayInput) Outcome {
	rendered := RenderWatched(in.Subgroups, in.Snapshot)

	if strings.TrimSpace(in.Previous) == "" {
		out := Outcome{SetBaseline: true, Baseline: rendered}
		if in.Force {
			out.Notify = true
			out.Reason = ReasonForced
			out.MarkNotified = true
			out.Message = composeMessage(headingTodayForced, rendered, in.ImageURL)
		}
		return out
	}

	changed := comparableLines(in.Previous) != comparableLines(rendered)
	rollover := !in.LastNotifiedAt.IsZero() && !sameCalendarDay(in.LastNotifiedAt, in.Now)

	if !changed && !rollover && !in.Force {
		return Outcome{}
	}

	out := Outcome{
		Notify:       true,
		SetBaseline:  true,
		Baseline:     rendered,
		MarkNotified: true,
	}
	switch {
	case in.Force:
		out.Reason = ReasonForced
		out.Message = composeMessage(headingTodayForced, rendered, in.ImageURL)
	case changed:
		out.Reason = ReasonChanged
		out.Message = composeMessage(headingTodayChanged, rendered, in.ImageURL)
	default:
		out.Reason = ReasonRollover
		out.Message = composeMessage(headingTodayRollover, rendered, in.ImageURL)
	}
	return out
}

// TomorrowInput carries everything the tomorrow-context decision needs.
// Snapshot is nil while the publisher has not released tomorrow's schedule.
type TomorrowInput struct {
	Subgroups []schedule.SubgroupID
	Snapshot  *schedule.Snapshot
	ImageURL  string
	Previous  string
	Status    store.TomorrowStatus
	Force     bool
}

// EvaluateTomorrow implements the tomorrow-context policy. The
// missing->present transition is detected separately from content changes;
// a content change notifies only when the header lines changed too.
func EvaluateTomorrow(in TomorrowInput) Outcome {
	if in.Snapshot == nil {
		return Outcome{NewTomorrowStatus: store.TomorrowMissing}
	}

	out := Outcome{NewTomorrowStatus: in.Status}
	rendered := RenderWatched(in.Subgroups, *in.Snapshot)

	if !anyMapped(in.Subgroups, *in.Snapshot) {
		// Baseline for future comparison, but no "empty" notification. The
		// presence tracker stays as-is so the appeared message still fires
		// once real data for the tracked subgroups shows up.
		out.SetBaseline = true
		out.Baseline = rendered
		return out
	}

	if in.Status == store.TomorrowMissing {
		out.NewTomorrowStatus = store.TomorrowPresent
		out.Notify = true
		out.Reason = ReasonAppeared
		out.SetBaseline = true
		out.Baseline = rendered
		out.MarkNotified = true
		out.Message = composeMessage(headingTomorrowAppeared, rendered, in.ImageURL)
		return out
	}

	if in.Force {
		out.Notify = true
		out.Reason = ReasonForced
		out.SetBaseline = true
		out.Baseline = rendered
		out.MarkNotified = true
		out.Message = composeMessage(headingTomorrowForced, rendered, in.ImageURL)
		return out
	}

	linesChanged := comparableLines(in.Previous) != comparableLines(rendered)
	headersChanged := headerLines(in.Previous) != headerLines(rendered)
	if linesChanged && headersChanged {
		out.Notify = true
		out.Reason = ReasonChanged
		out.SetBaseline = true
		out.Baseline = rendered
		out.MarkNotified = true
		out.Message = composeMessage(headingTomorrowChanged, rendered, in.ImageURL)
	}
	return out
}

// RenderWatched builds the subscriber's view of a snapshot: the header lines,
// a blank separator, then one line per tracked subgroup in the subscriber's
// own order, with a placeholder for subgroups the update does not mention.
func RenderWatched(subgroups []schedule.SubgroupID, snap schedule.Snapshot) string {
	var b strings.Builder
	for _, h := range snap.Headers {
		b.WriteString(h)
		b.WriteString("\n")
	}
	if len(snap.Headers) > 0 {
		b.WriteString("\n")
	}
	for _, id := range subgroups {
		if line, ok := snap.Lines[id]; ok {
			b.WriteString(line)
		} else {
			b.WriteString(placeholderLine(id))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

const placeholderNote = "(not found in this update)"

func placeholderLine(id schedule.SubgroupID) string {
	return "Subgroup " + string(id) + ". " + placeholderNote
}

// comparableLines reduces a watched text to the lines that carry real
// schedule content: subgroup-pattern lines, excluding placeholders and
// headers. Comparing this form keeps header edits and missing-line
// placeholders from masking (or faking) a content change.
func comparableLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !schedule.IsSubgroupLine(line) {
			continue
		}
		if strings.HasSuffix(line, placeholderNote) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// headerLines extracts the leading non-subgroup lines of a watched text.
func headerLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if schedule.IsSubgroupLine(line) {
			break
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func anyMapped(subgroups []schedule.SubgroupID, snap schedule.Snapshot) bool {
	for _, id := range subgroups {
		if _, ok := snap.Lines[id]; ok {
			return true
		}
	}
	return false
}

// sameCalendarDay compares calendar days in the process-local time zone.
// Behavior near midnight therefore depends on the deployment TZ.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

func composeMessage(heading, watched, imageURL string) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n\n")
	b.WriteString(watched)
	if imageURL != "" {
		b.WriteString("\n\n")
		b.WriteString(imageURL)
	}
	return b.String()
}
