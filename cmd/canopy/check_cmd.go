package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/parcelworks/canopy/pkg/config"
	"github.com/parcelworks/canopy/pkg/scan"
)

// runCheckCmd implements `canopy check`: the structure phase of a run,
// without touching schemas, the network, or storage.
//
// Exit codes:
//
//	0 = structure valid
//	1 = structure invalid
//	2 = usage or configuration error
func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		root       string
	)
	cmd.StringVar(&configPath, "config", "", "Path to canopy.yaml (default: ./canopy.yaml)")
	cmd.StringVar(&root, "root", "", "Override the property tree root from the config")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if root != "" {
		cfg.Root = root
	}

	scanner := scan.New(cfg.SeedSchemaID)
	res, err := scanner.ValidateStructure(cfg.Root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	for _, w := range res.Warnings {
		_, _ = fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	for _, e := range res.Errors {
		_, _ = fmt.Fprintf(stdout, "error: %s\n", e)
	}

	if !res.Valid {
		_, _ = fmt.Fprintf(stdout, "Structure check FAILED for %s\n", cfg.Root)
		return 1
	}

	total, err := scanner.CountTotalFiles(cfg.Root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Structure check passed for %s (%d files)\n", cfg.Root, total)
	return 0
}
