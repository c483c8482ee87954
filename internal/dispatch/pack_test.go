package dispatch

import (
	"os"
	"path/filepath"
	"testing"
)

const validPackYAML = `name: evening-stretch
description: Evening stretch automations
complex_tasks:
  - name: warm up routine
    phrases:
      - warm up
      - warming up
    action: workout.warmup
    feedback: Starting warm up
automation_sequences:
  - name: evening stretch
    phrases:
      - evening stretch
    feedback: Running evening stretch
    steps:
      - subject: ui.view.show
        payload: '{"view":"workout"}'
    hook:
      module: build/hook.wasm
      entrypoint: run
      publish:
        - feedback.say
      permissions:
        - bus:publish
`

func writePack(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "pack.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidatePack(t *testing.T) {
	path := writePack(t, t.TempDir(), validPackYAML)

	p, err := LoadPack(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ValidatePack(p); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.Dir != filepath.Dir(path) {
		t.Fatalf("expected pack dir recorded, got %q", p.Dir)
	}
	if len(p.Tasks) != 1 || len(p.Sequences) != 1 {
		t.Fatalf("unexpected pack shape: %+v", p)
	}
	if p.Sequences[0].Hook == nil || p.Sequences[0].Hook.Entrypoint != "run" {
		t.Fatalf("expected hook parsed, got %+v", p.Sequences[0].Hook)
	}
}

func TestValidatePackMissingFields(t *testing.T) {
	if err := ValidatePack(Pack{}); err == nil {
		t.Fatal("expected validation error for empty pack")
	}
	if err := ValidatePack(Pack{Name: "x", Tasks: []TaskDef{{Name: "t"}}}); err == nil {
		t.Fatal("expected error for task without action")
	}
	if err := ValidatePack(Pack{Name: "x", Sequences: []SequenceDef{{Name: "s"}}}); err == nil {
		t.Fatal("expected error for sequence without steps or hook")
	}
}

func TestDiscoverPacksSkipsInvalid(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "good")
	bad := filepath.Join(root, "bad")
	for _, dir := range []string{good, bad} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writePack(t, good, validPackYAML)
	writePack(t, bad, "name: broken\n")

	var failures int
	packs, err := DiscoverPacks(root, func(string, error) { failures++ })
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(packs) != 1 {
		t.Fatalf("expected 1 valid pack, got %d", len(packs))
	}
	if failures != 1 {
		t.Fatalf("expected 1 reported failure, got %d", failures)
	}
}

func TestEntriesFromPacks(t *testing.T) {
	path := writePack(t, t.TempDir(), validPackYAML)
	p, err := LoadPack(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	packs := []Pack{p}

	tasks := TaskEntries(packs)
	if len(tasks) != 1 || tasks[0].Action != "workout.warmup" {
		t.Fatalf("unexpected task entries: %+v", tasks)
	}
	sequences := SequenceEntries(packs)
	if len(sequences) != 1 {
		t.Fatalf("unexpected sequence entries: %+v", sequences)
	}
	if sequences[0].Action != "automation.evening stretch" {
		t.Fatalf("sequence action must name the sequence, got %q", sequences[0].Action)
	}
}
