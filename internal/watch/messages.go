package watch

// Message headings, one per notification reason and day-context.
const (
	headingTodayForced   = "Current schedule for today:"
	headingTodayChanged  = "Today's outage schedule changed:"
	headingTodayRollover = "Today's outage schedule is here:"

	headingTomorrowForced   = "Current schedule for tomorrow:"
	headingTomorrowAppeared = "Tomorrow's outage schedule has appeared:"
	headingTomorrowChanged  = "Tomorrow's outage schedule changed:"
)
