package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "check":
		return runCheckCmd(args[2:], stdout, stderr)
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "canopy - content-addressed property data pipeline")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  canopy run    [--config canopy.yaml] [--root DIR] [--concurrency N] [--dry-run] [--json]")
	fmt.Fprintln(w, "                Validate, canonicalize and upload a property tree")
	fmt.Fprintln(w, "  canopy check  [--config canopy.yaml] [--root DIR]")
	fmt.Fprintln(w, "                Validate directory structure without processing")
	fmt.Fprintln(w, "  canopy hash   --file FILE [--codec raw|dag-pb|dag-json] [--v0]")
	fmt.Fprintln(w, "                Compute the content identifier of a single file")
	fmt.Fprintln(w, "  canopy help   Show this help")
	fmt.Fprintln(w, "")
}
