package bot

import (
	"strings"

	"poweronbot/internal/schedule"
)

// User-facing texts. Kept in one place so wording changes never touch logic.
const (
	textWelcome = "Hi! I watch the power outage schedule and ping you when the part " +
		"relevant to your subgroups changes.\n\n" +
		"Start with /subgroups to tell me which subgroups to track."

	textHelp = "Commands:\n" +
		"/subgroups - set the tracked subgroups from scratch\n" +
		"/add - add subgroups to the tracked set\n" +
		"/remove - remove subgroups from the tracked set\n" +
		"/list - show the tracked subgroups\n" +
		"/check - fetch the schedule right now and report it\n" +
		"/watch - enable background notifications\n" +
		"/stop - disable background notifications\n" +
		"/status - show subscription state\n" +
		"/help - this message\n\n" +
		"Subgroups look like 1.1 or 3,2: major group 1-6, subgroup 1 or 2."

	textPromptInitial = "Send the subgroups to track, e.g. \"1.1\" or \"1.1, 3.2\". " +
		"This replaces anything tracked before."

	textPromptAdd = "Send the subgroups to add, e.g. \"2.1\" or \"2.1, 4.2\"."

	textPromptRemove = "Send the subgroups to stop tracking."

	textNeedSetup = "You aren't tracking any subgroups yet. Use /subgroups first."

	textNothingTracked = "You aren't tracking any subgroups now."

	textWatchOn  = "Background watching is on. I'll message you when your part of the schedule changes."
	textWatchOff = "Background watching is off. Your subgroups stay saved; /watch turns it back on."

	textCheckFailed = "Couldn't fetch the schedule right now, try again in a bit."

	textBusy = "I'm busy with another request, try again in a few seconds."

	textUnknown = "I didn't get that. /help lists what I understand."
)

var textInvalidSubgroups = "I couldn't find any subgroups in that. " +
	"Use the form major.minor, e.g. 1.1 or 3,2. Valid subgroups: " +
	allSubgroupList() + "."

func allSubgroupList() string {
	ids := schedule.AllSubgroups()
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, string(id))
	}
	return strings.Join(ss, ", ")
}
