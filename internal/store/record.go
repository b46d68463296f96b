package store

import (
	"encoding/json"
	"strings"
	"time"

	"poweronbot/internal/schedule"
)

// PendingInput is the per-chat input mode: how the next free-text message
// from that chat is interpreted.
type PendingInput int

const (
	PendingNone PendingInput = iota
	PendingInitialSet
	PendingAdditions
	PendingRemovals
)

var pendingNames = map[PendingInput]string{
	PendingNone:       "",
	PendingInitialSet: "initial_set",
	PendingAdditions:  "additions",
	PendingRemovals:   "removals",
}

func (p PendingInput) String() string { return pendingNames[p] }

func (p PendingInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(pendingNames[p])
}

// UnmarshalJSON tolerates legacy shapes: unknown strings, numbers or other
// junk coerce to PendingNone instead of failing the whole store load.
func (p *PendingInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*p = PendingNone
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initial_set", "initial-set", "setup":
		*p = PendingInitialSet
	case "additions", "add":
		*p = PendingAdditions
	case "removals", "remove":
		*p = PendingRemovals
	default:
		*p = PendingNone
	}
	return nil
}

// TomorrowStatus tracks whether a tomorrow schedule has been seen upstream
// since it was last absent, so the missing->present transition is detected
// separately from a content change.
type TomorrowStatus int

const (
	TomorrowMissing TomorrowStatus = iota
	TomorrowPresent
)

func (t TomorrowStatus) String() string {
	if t == TomorrowPresent {
		return "present"
	}
	return "missing"
}

func (t TomorrowStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TomorrowStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Legacy stores used a bare bool.
		var v bool
		if err := json.Unmarshal(b, &v); err == nil && v {
			*t = TomorrowPresent
			return nil
		}
		*t = TomorrowMissing
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(s), "present") {
		*t = TomorrowPresent
	} else {
		*t = TomorrowMissing
	}
	return nil
}

// DayState is the per-day-context comparison state. Today and tomorrow are
// tracked independently.
type DayState struct {
	LastCheckedAt   time.Time `json:"last_checked_at,omitzero"`
	LastNotifiedAt  time.Time `json:"last_notified_at,omitzero"`
	LastWatchedText string    `json:"last_watched_text,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// Record is one chat's subscription state. Created lazily on first contact,
// never deleted; stopping notifications only flips WatchEnabled or empties
// Subgroups.
type Record struct {
	ChatID         int64          `json:"chat_id"`
	Subgroups      []string       `json:"subgroups,omitempty"`
	Pending        PendingInput   `json:"pending_input,omitempty"`
	WatchEnabled   bool           `json:"watch_enabled"`
	Today          DayState       `json:"today"`
	Tomorrow       DayState       `json:"tomorrow"`
	TomorrowStatus TomorrowStatus `json:"tomorrow_status"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Subgroups = append([]string(nil), r.Subgroups...)
	return &cp
}

// Day returns the state for one day-context. today=false means tomorrow.
func (r *Record) Day(today bool) *DayState {
	if today {
		return &r.Today
	}
	return &r.Tomorrow
}

// sanitize enforces record invariants after a load: subgroups are normalized
// to canonical dotted form, deduped, and invalid entries are dropped.
func (r *Record) sanitize() {
	seen := map[string]struct{}{}
	kept := r.Subgroups[:0]
	for _, sg := range r.Subgroups {
		id, ok := schedule.ParseSubgroup(sg)
		if !ok {
			continue
		}
		if _, dup := seen[string(id)]; dup {
			continue
		}
		seen[string(id)] = struct{}{}
		kept = append(kept, string(id))
	}
	r.Subgroups = kept
}
