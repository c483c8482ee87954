package speech

import (
	"context"
	"testing"
	"time"

	"github.com/fitpulse/fitvoice/internal/config"
)

func TestSimProviderDisabled(t *testing.T) {
	cfg := config.SpeechConfig{Sim: config.SimSpeechConfig{Enabled: false}}
	p := NewSimProvider(cfg, testLogger())
	if _, err := p.TryStart(context.Background(), Handlers{}); err == nil {
		t.Fatal("expected error when sim provider disabled")
	}
}

func TestSimProviderEmitsScriptedUtterances(t *testing.T) {
	cfg := config.SpeechConfig{Sim: config.SimSpeechConfig{
		Enabled:    true,
		Utterances: []string{"Start Timer", " show stats "},
		IntervalMS: 1,
	}}
	p := NewSimProvider(cfg, testLogger())

	results := make(chan Result, 2)
	sess, err := p.TryStart(context.Background(), Handlers{
		OnResult: func(r Result) { results <- r },
	})
	if err != nil {
		t.Fatalf("try start: %v", err)
	}
	defer sess.Stop()

	var got []Result
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for utterance %d", i)
		}
	}
	if got[0].Text != "start timer" {
		t.Fatalf("expected lowercased transcript, got %q", got[0].Text)
	}
	if got[1].Text != "show stats" {
		t.Fatalf("expected trimmed transcript, got %q", got[1].Text)
	}
	if !got[0].Final {
		t.Fatal("sim utterances should be final results")
	}
}

func TestChainFromConfigDefaultOrder(t *testing.T) {
	cfg := config.SpeechConfig{}
	chain := ChainFromConfig(cfg, testLogger())
	if len(chain) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(chain))
	}
	want := []string{"engine", "remote", "sim"}
	for i, p := range chain {
		if p.Name() != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], p.Name())
		}
	}
}
