package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fitpulse/fitvoice/internal/dispatch"
)

var version = "0.1.0-dev"

func main() {
	var manifestPath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&manifestPath, "file", "pack.yaml", "Path to command pack manifest")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'list' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(manifestPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("manifest valid")
	case "list":
		validateCmd.Parse(os.Args[2:])
		if err := runList(manifestPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) error {
	p, err := dispatch.LoadPack(path)
	if err != nil {
		return err
	}
	return dispatch.ValidatePack(p)
}

func runList(path string) error {
	p, err := dispatch.LoadPack(path)
	if err != nil {
		return err
	}
	if err := dispatch.ValidatePack(p); err != nil {
		return err
	}
	fmt.Printf("pack %s\n", p.Name)
	for _, t := range p.Tasks {
		fmt.Printf("  task %-24s -> %s\n", t.Name, t.Action)
	}
	for _, s := range p.Sequences {
		hook := ""
		if s.Hook != nil {
			hook = " (hook: " + s.Hook.Module + ")"
		}
		fmt.Printf("  sequence %-20s steps=%d%s\n", s.Name, len(s.Steps), hook)
	}
	return nil
}
