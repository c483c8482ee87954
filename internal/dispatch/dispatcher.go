package dispatch

import "strings"

const (
	SourceBuiltin    = "builtin"
	SourceTask       = "task"
	SourceAutomation = "automation"
)

// Result is the outcome of dispatching one transcript. At most one command
// matches; an unmatched transcript carries only the not-recognized feedback.
type Result struct {
	Matched  bool
	Source   string
	Command  string
	Action   string
	Argument string
	Feedback string
}

// Entry is an externally supplied command definition: a complex task or an
// automation sequence. Entries with no phrases fall back to matching on
// their name.
type Entry struct {
	Name     string
	Phrases  []string
	Action   string
	Feedback string
}

// Dispatcher maps a lowercase transcript to at most one command. Priority is
// fixed: built-ins in table order, then complex tasks, then automation
// sequences, each scanned first-match-wins. Matching is raw substring
// containment, not word-boundary; a trigger embedded in a longer word still
// matches, and that behavior is intentionally preserved.
type Dispatcher struct {
	builtins      []Command
	tasks         []Entry
	sequences     []Entry
	notRecognized string
}

func New(notRecognized string) *Dispatcher {
	return &Dispatcher{
		builtins:      Builtins(),
		notRecognized: notRecognized,
	}
}

// SetEntries replaces the open-ended task and sequence lists.
func (d *Dispatcher) SetEntries(tasks, sequences []Entry) {
	d.tasks = tasks
	d.sequences = sequences
}

// Dispatch selects at most one command for a transcript. The transcript is
// normalized to trimmed lowercase before matching.
func (d *Dispatcher) Dispatch(transcript string) Result {
	transcript = strings.ToLower(strings.TrimSpace(transcript))

	for _, cmd := range d.builtins {
		for _, trigger := range cmd.Triggers {
			idx := strings.Index(transcript, trigger)
			if idx < 0 {
				continue
			}
			res := Result{
				Matched:  true,
				Source:   SourceBuiltin,
				Command:  cmd.Name,
				Action:   cmd.Action,
				Feedback: cmd.Feedback,
			}
			if cmd.CaptureArg {
				res.Argument = strings.TrimSpace(transcript[idx+len(trigger):])
			}
			return res
		}
	}

	if res, ok := matchEntries(transcript, d.tasks, SourceTask); ok {
		return res
	}
	if res, ok := matchEntries(transcript, d.sequences, SourceAutomation); ok {
		return res
	}

	return Result{Feedback: d.notRecognized}
}

func matchEntries(transcript string, entries []Entry, source string) (Result, bool) {
	for _, e := range entries {
		phrases := e.Phrases
		if len(phrases) == 0 {
			phrases = []string{e.Name}
		}
		for _, phrase := range phrases {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase == "" || !strings.Contains(transcript, phrase) {
				continue
			}
			return Result{
				Matched:  true,
				Source:   source,
				Command:  e.Name,
				Action:   e.Action,
				Feedback: e.Feedback,
			}, true
		}
	}
	return Result{}, false
}
