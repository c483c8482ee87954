package dispatch

// Command is one built-in voice command: a set of trigger phrases mapped to
// an application action, with optional spoken feedback. Arg-capturing
// commands pass the trimmed transcript remainder after the trigger to the
// action (exercise name, duration text and so on).
type Command struct {
	Name       string
	Triggers   []string
	Action     string
	Feedback   string
	CaptureArg bool
}

// Builtins returns the fixed command table for the fitness UI. Matching is
// substring containment evaluated in table order, so ordering is
// load-bearing: "restart timer" must precede "start timer", which it
// contains.
func Builtins() []Command {
	return []Command{
		{
			Name:     "timer-reset",
			Triggers: []string{"restart timer", "reset timer"},
			Action:   "timer.reset",
			Feedback: "Timer reset",
		},
		{
			Name:     "timer-start",
			Triggers: []string{"start timer", "begin timer"},
			Action:   "timer.start",
			Feedback: "Timer started",
		},
		{
			Name:     "timer-stop",
			Triggers: []string{"stop timer", "pause timer"},
			Action:   "timer.stop",
			Feedback: "Timer stopped",
		},
		{
			Name:       "exercise-log",
			Triggers:   []string{"log exercise", "record exercise"},
			Action:     "exercise.log",
			Feedback:   "Exercise logged",
			CaptureArg: true,
		},
		{
			Name:       "timer-duration",
			Triggers:   []string{"set duration"},
			Action:     "timer.duration",
			Feedback:   "Duration updated",
			CaptureArg: true,
		},
		{
			Name:       "exercise-reps",
			Triggers:   []string{"set reps", "set repetitions"},
			Action:     "exercise.reps",
			Feedback:   "Repetitions updated",
			CaptureArg: true,
		},
		{
			Name:       "water-log",
			Triggers:   []string{"log water", "drink water"},
			Action:     "water.log",
			Feedback:   "Water intake logged",
			CaptureArg: true,
		},
		{
			Name:     "view-history",
			Triggers: []string{"show history", "open history"},
			Action:   "view.history",
			Feedback: "Showing history",
		},
		{
			Name:     "view-stats",
			Triggers: []string{"show stats", "show statistics"},
			Action:   "view.stats",
			Feedback: "Showing statistics",
		},
		{
			Name:     "view-workout",
			Triggers: []string{"show workout", "open workout"},
			Action:   "view.workout",
			Feedback: "Showing workout",
		},
		{
			Name:     "help",
			Triggers: []string{"what can i say", "help"},
			Action:   "app.help",
			Feedback: "You can start or stop the timer, log exercises, or switch views",
		},
	}
}
