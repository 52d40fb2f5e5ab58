package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/parcelworks/canopy/pkg/collab"
	"github.com/parcelworks/canopy/pkg/config"
	"github.com/parcelworks/canopy/pkg/ipldconv"
	"github.com/parcelworks/canopy/pkg/pipeline"
	"github.com/parcelworks/canopy/pkg/scan"
	"github.com/parcelworks/canopy/pkg/schemacache"
	"github.com/parcelworks/canopy/pkg/schemaval"
)

// runRunCmd implements `canopy run`.
//
// Exit codes:
//
//	0 = run completed (per-file errors may still be present in the report)
//	1 = run aborted (structure check failed or fatal I/O error)
//	2 = usage or configuration error
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath  string
		root        string
		concurrency int
		dryRun      bool
		jsonOutput  bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to canopy.yaml (default: ./canopy.yaml)")
	cmd.StringVar(&root, "root", "", "Override the property tree root from the config")
	cmd.IntVar(&concurrency, "concurrency", 0, "Override the concurrency cap from the config")
	cmd.BoolVar(&dryRun, "dry-run", false, "Keep uploads in memory instead of hitting storage")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the run summary as JSON")

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
		if cfg.BaseDir == "" {
			cfg.BaseDir = root
		}
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg, dryRun)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	orch := pipeline.New(deps, pipeline.Options{
		Root:             cfg.Root,
		SeedSchemaID:     cfg.SeedSchemaID,
		Concurrency:      cfg.Concurrency,
		BatchSize:        cfg.BatchSize,
		BaseDir:          cfg.BaseDir,
		FactSheetBaseURL: cfg.FactSheetBaseURL,
	})
	res, err := orch.Run(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: run aborted: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "Run %s finished in %s\n", res.RunID, res.Elapsed.Round(1e6))
	_, _ = fmt.Fprintf(stdout, "  files:     %d\n", res.Total)
	_, _ = fmt.Fprintf(stdout, "  processed: %d\n", res.Processed)
	_, _ = fmt.Fprintf(stdout, "  errors:    %d\n", res.Errors)
	_, _ = fmt.Fprintf(stdout, "  skipped:   %d\n", res.Skipped)
	for dir, id := range res.DirectoryIDs {
		_, _ = fmt.Fprintf(stdout, "  %s -> %s\n", dir, id)
	}
	return 0
}

// buildDeps wires the pipeline's collaborators from configuration.
func buildDeps(ctx context.Context, cfg *config.Config, dryRun bool) (pipeline.Deps, func(), error) {
	fetcher := collab.NewGatewayFetcher(cfg.Gateway.URL)

	cache, err := schemacache.Open(schemacache.Options{
		Fetcher:  fetcher,
		Capacity: cfg.SchemaCache.Capacity,
		CacheDir: cfg.SchemaCache.Dir,
	})
	if err != nil {
		return pipeline.Deps{}, nil, err
	}
	cleanup := func() { _ = cache.Close() }

	var uploader collab.Uploader
	if dryRun || cfg.DryRun() {
		uploader = collab.NewMemoryUploader()
	} else {
		uploader, err = collab.NewS3Uploader(ctx, collab.S3UploaderConfig{
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
			Prefix:   cfg.Storage.Prefix,
		})
		if err != nil {
			cleanup()
			return pipeline.Deps{}, nil, err
		}
	}

	return pipeline.Deps{
		Scanner:   scan.New(cfg.SeedSchemaID),
		Schemas:   cache,
		Validator: schemaval.New(cache, fetcher, cfg.BaseDir),
		Converter: ipldconv.New(uploader),
		Uploader:  uploader,
		Report:    collab.NewLogSink(),
		Progress:  collab.NewOTelProgress(),
	}, cleanup, nil
}
