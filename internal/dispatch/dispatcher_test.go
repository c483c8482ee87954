package dispatch

import "testing"

const notRecognized = "Sorry, I didn't recognize that command."

func newDispatcher() *Dispatcher {
	d := New(notRecognized)
	d.SetEntries(
		[]Entry{
			{Name: "warm up routine", Phrases: []string{"warm up", "warming up"}, Action: "workout.warmup", Feedback: "Starting warm up"},
			{Name: "cool down", Action: "workout.cooldown", Feedback: "Cooling down"},
		},
		[]Entry{
			{Name: "evening stretch", Phrases: []string{"evening stretch"}, Action: "automation.evening stretch", Feedback: "Running evening stretch"},
		},
	)
	return d
}

func TestDispatchStartTimer(t *testing.T) {
	res := newDispatcher().Dispatch("start timer")
	if !res.Matched || res.Source != SourceBuiltin {
		t.Fatalf("expected builtin match, got %+v", res)
	}
	if res.Action != "timer.start" {
		t.Fatalf("expected timer.start, got %q", res.Action)
	}
	if res.Feedback != "Timer started" {
		t.Fatalf("expected configured feedback, got %q", res.Feedback)
	}
}

func TestDispatchArgumentExtraction(t *testing.T) {
	tests := []struct {
		transcript string
		action     string
		argument   string
	}{
		{"log exercise pushups", "exercise.log", "pushups"},
		{"log exercise   bench press ", "exercise.log", "bench press"},
		{"log exercise", "exercise.log", ""},
		{"set duration five minutes", "timer.duration", "five minutes"},
		{"please set reps 12", "exercise.reps", "12"},
	}
	d := newDispatcher()
	for _, tt := range tests {
		res := d.Dispatch(tt.transcript)
		if !res.Matched {
			t.Fatalf("%q: expected match", tt.transcript)
		}
		if res.Action != tt.action {
			t.Fatalf("%q: expected action %q, got %q", tt.transcript, tt.action, res.Action)
		}
		if res.Argument != tt.argument {
			t.Fatalf("%q: expected argument %q, got %q", tt.transcript, tt.argument, res.Argument)
		}
	}
}

func TestDispatchTableOrder(t *testing.T) {
	// "restart timer" contains "start timer"; the reset entry must win.
	res := newDispatcher().Dispatch("restart timer")
	if res.Action != "timer.reset" {
		t.Fatalf("expected timer.reset, got %q", res.Action)
	}
}

func TestDispatchSubstringContainment(t *testing.T) {
	// Matching is containment, not word-boundary: a trigger inside a longer
	// utterance still fires.
	res := newDispatcher().Dispatch("could you start timer for me")
	if res.Action != "timer.start" {
		t.Fatalf("expected timer.start, got %+v", res)
	}
}

func TestBuiltinBeatsTask(t *testing.T) {
	d := New(notRecognized)
	d.SetEntries([]Entry{
		{Name: "timer task", Phrases: []string{"start timer"}, Action: "task.timer"},
	}, nil)
	res := d.Dispatch("start timer")
	if res.Source != SourceBuiltin || res.Action != "timer.start" {
		t.Fatalf("expected builtin priority, got %+v", res)
	}
}

func TestTaskBeatsAutomation(t *testing.T) {
	d := New(notRecognized)
	d.SetEntries(
		[]Entry{{Name: "shared", Phrases: []string{"morning flow"}, Action: "task.flow"}},
		[]Entry{{Name: "shared-seq", Phrases: []string{"morning flow"}, Action: "automation.flow"}},
	)
	res := d.Dispatch("morning flow")
	if res.Source != SourceTask || res.Action != "task.flow" {
		t.Fatalf("expected task priority, got %+v", res)
	}
}

func TestTaskNameFallback(t *testing.T) {
	res := newDispatcher().Dispatch("time to cool down now")
	if !res.Matched || res.Source != SourceTask {
		t.Fatalf("expected task matched on name fallback, got %+v", res)
	}
	if res.Action != "workout.cooldown" {
		t.Fatalf("expected workout.cooldown, got %q", res.Action)
	}
}

func TestAutomationSequenceMatch(t *testing.T) {
	res := newDispatcher().Dispatch("run my evening stretch")
	if !res.Matched || res.Source != SourceAutomation {
		t.Fatalf("expected automation match, got %+v", res)
	}
}

func TestDispatchNotRecognized(t *testing.T) {
	res := newDispatcher().Dispatch("xyzzy")
	if res.Matched {
		t.Fatalf("expected no match, got %+v", res)
	}
	if res.Action != "" || res.Command != "" {
		t.Fatalf("no action may fire for unmatched transcript: %+v", res)
	}
	if res.Feedback != notRecognized {
		t.Fatalf("expected not-recognized feedback, got %q", res.Feedback)
	}
}

func TestDispatchNormalizesInput(t *testing.T) {
	res := newDispatcher().Dispatch("  Start Timer  ")
	if !res.Matched || res.Action != "timer.start" {
		t.Fatalf("expected normalized match, got %+v", res)
	}
}

func TestSingleCommandPerTranscript(t *testing.T) {
	// Contains both a timer trigger and an exercise trigger; only the first
	// table entry fires.
	res := newDispatcher().Dispatch("start timer and log exercise squats")
	if res.Action != "timer.start" {
		t.Fatalf("expected first match to win, got %+v", res)
	}
	if res.Argument != "" {
		t.Fatalf("non-capturing command must not carry an argument: %+v", res)
	}
}
