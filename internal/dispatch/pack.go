package dispatch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pack is an externally supplied command pack: complex tasks and automation
// sequences sharing the trigger/action shape of the built-in table.
type Pack struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Tasks       []TaskDef     `yaml:"complex_tasks"`
	Sequences   []SequenceDef `yaml:"automation_sequences"`

	// Dir is the directory the manifest was loaded from; hook module paths
	// resolve relative to it.
	Dir string `yaml:"-"`
}

// TaskDef is one complex task: trigger phrases bound to an application action.
type TaskDef struct {
	Name     string   `yaml:"name"`
	Phrases  []string `yaml:"phrases"`
	Action   string   `yaml:"action"`
	Feedback string   `yaml:"feedback"`
}

// SequenceDef is one automation sequence: trigger phrases bound to ordered
// bus-publish steps and an optional WASM hook.
type SequenceDef struct {
	Name     string   `yaml:"name"`
	Phrases  []string `yaml:"phrases"`
	Feedback string   `yaml:"feedback"`
	Steps    []Step   `yaml:"steps"`
	Hook     *Hook    `yaml:"hook"`
}

// Step publishes a payload on a bus subject.
type Step struct {
	Subject string `yaml:"subject"`
	Payload string `yaml:"payload"`
}

// Hook runs a WASM module when the sequence fires. Publish lists the bus
// subjects the module may emit on; Permissions gates host capabilities.
type Hook struct {
	Module      string   `yaml:"module"`
	Entrypoint  string   `yaml:"entrypoint"`
	Publish     []string `yaml:"publish"`
	Permissions []string `yaml:"permissions"`
}

// LoadPack reads a command-pack manifest from disk.
func LoadPack(path string) (Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pack{}, err
	}
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pack{}, err
	}
	p.Dir = filepath.Dir(path)
	return p, nil
}

// ValidatePack ensures a manifest is usable.
func ValidatePack(p Pack) error {
	if p.Name == "" {
		return fmt.Errorf("pack name is required")
	}
	if len(p.Tasks) == 0 && len(p.Sequences) == 0 {
		return fmt.Errorf("pack %q declares no tasks or sequences", p.Name)
	}
	for _, t := range p.Tasks {
		if t.Name == "" {
			return fmt.Errorf("pack %q: task name is required", p.Name)
		}
		if t.Action == "" {
			return fmt.Errorf("task %q: action is required", t.Name)
		}
	}
	for _, s := range p.Sequences {
		if s.Name == "" {
			return fmt.Errorf("pack %q: sequence name is required", p.Name)
		}
		if len(s.Steps) == 0 && s.Hook == nil {
			return fmt.Errorf("sequence %q must declare steps or a hook", s.Name)
		}
		for _, step := range s.Steps {
			if step.Subject == "" {
				return fmt.Errorf("sequence %q: step subject is required", s.Name)
			}
		}
		if s.Hook != nil {
			if s.Hook.Module == "" {
				return fmt.Errorf("sequence %q: hook.module is required", s.Name)
			}
			if s.Hook.Entrypoint == "" {
				return fmt.Errorf("sequence %q: hook.entrypoint is required", s.Name)
			}
		}
	}
	return nil
}

// DiscoverPacks walks a directory for pack.yaml manifests and returns the
// valid ones. An unreadable or invalid manifest is reported through onError
// and skipped rather than failing discovery.
func DiscoverPacks(root string, onError func(path string, err error)) ([]Pack, error) {
	var packs []Pack
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(d.Name(), "pack.yaml") {
			return nil
		}
		p, loadErr := LoadPack(path)
		if loadErr == nil {
			loadErr = ValidatePack(p)
		}
		if loadErr != nil {
			if onError != nil {
				onError(path, loadErr)
			}
			return nil
		}
		packs = append(packs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return packs, nil
}

// TaskEntries flattens pack tasks into dispatcher entries, preserving order.
func TaskEntries(packs []Pack) []Entry {
	var entries []Entry
	for _, p := range packs {
		for _, t := range p.Tasks {
			entries = append(entries, Entry{
				Name:     t.Name,
				Phrases:  t.Phrases,
				Action:   t.Action,
				Feedback: t.Feedback,
			})
		}
	}
	return entries
}

// SequenceEntries flattens pack sequences into dispatcher entries. The
// action identifies the sequence so the automation service can execute it.
func SequenceEntries(packs []Pack) []Entry {
	var entries []Entry
	for _, p := range packs {
		for _, s := range p.Sequences {
			entries = append(entries, Entry{
				Name:     s.Name,
				Phrases:  s.Phrases,
				Action:   "automation." + s.Name,
				Feedback: s.Feedback,
			})
		}
	}
	return entries
}
