// Package pipeline orchestrates a full ingestion run: structure check,
// schema pre-fetch, then two-phase (seed-first, dependents after)
// validation, link resolution, canonicalization, identifier computation and
// upload, under a single bounded concurrency cap.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parcelworks/canopy/pkg/canonical"
	"github.com/parcelworks/canopy/pkg/cidlink"
	"github.com/parcelworks/canopy/pkg/collab"
	"github.com/parcelworks/canopy/pkg/errs"
	"github.com/parcelworks/canopy/pkg/ipldconv"
	"github.com/parcelworks/canopy/pkg/scan"
	"github.com/parcelworks/canopy/pkg/schemacache"
	"github.com/parcelworks/canopy/pkg/schemaval"
)

// Pipeline phases, in run order.
const (
	PhaseInit           = "init"
	PhaseStructureCheck = "structure_check"
	PhaseCount          = "count"
	PhaseSchemaPrefetch = "schema_prefetch"
	PhaseSeed           = "seed"
	PhaseDependent      = "dependent"
	PhaseFinalize       = "finalize"
)

// Options configure one run.
type Options struct {
	Root         string
	SeedSchemaID string
	// Concurrency is the user-supplied cap; 0 lets the OS-derived cap (or
	// the fixed fallback) decide.
	Concurrency int
	BatchSize   int
	// BaseDir anchors relative link references in documents; defaults to
	// Root.
	BaseDir string
	// FactSheetBaseURL, when set, derives a presentation link per record.
	FactSheetBaseURL string
}

// Deps are the collaborators and core components a run needs.
type Deps struct {
	Scanner   *scan.Scanner
	Schemas   *schemacache.Cache
	Validator *schemaval.Validator
	Converter *ipldconv.Converter
	Uploader  collab.Uploader
	Report    collab.ReportSink
	Progress  collab.Progress
}

// UploadRecord is the per-file result. Never mutated after creation.
type UploadRecord struct {
	PropertyID string
	SchemaID   string
	CID        string
	Path       string
	Timestamp  time.Time
	HTMLLink   string
}

// RunResult aggregates a finished run.
type RunResult struct {
	RunID       string
	Total       int
	Processed   int
	Errors      int
	Skipped     int
	Elapsed     time.Duration
	Concurrency int
	// DirectoryIDs maps each seed directory to the property identifier its
	// seed file produced.
	DirectoryIDs map[string]string
	Records      []UploadRecord
}

// Orchestrator runs the ingestion pipeline.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	dirIDs     map[string]string
	failedDirs map[string]bool
	records    []UploadRecord
	errCount   int
	skipCount  int
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.BaseDir == "" {
		opts.BaseDir = opts.Root
	}
	if deps.Progress == nil {
		deps.Progress = collab.NoopProgress{}
	}
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		logger:     slog.Default().With("component", "pipeline"),
		dirIDs:     make(map[string]string),
		failedDirs: make(map[string]bool),
	}
}

// Run executes the full state machine. Per-file failures are recorded and
// reported, never fatal; a structure-check failure aborts the run after the
// report sink is finalized.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	started := time.Now()
	runID := uuid.NewString()
	limit := EffectiveConcurrency(o.opts.Concurrency)
	o.deps.Progress.SetPhase(PhaseInit, 0)
	o.logger.Info("run starting", "run_id", runID, "root", o.opts.Root, "concurrency", limit)

	// Structure check: the only fatal phase.
	o.deps.Progress.SetPhase(PhaseStructureCheck, 0)
	structure, err := o.deps.Scanner.ValidateStructure(o.opts.Root)
	if err != nil {
		o.deps.Report.Finalize()
		return nil, err
	}
	for _, w := range structure.Warnings {
		o.deps.Report.LogWarning(collab.Record{
			Code:      errs.CodeStructure,
			Message:   w,
			Timestamp: time.Now(),
		})
	}
	if !structure.Valid {
		for _, e := range structure.Errors {
			o.deps.Report.LogError(collab.Record{
				Code:      errs.CodeStructure,
				Message:   e,
				Timestamp: time.Now(),
			})
		}
		o.deps.Report.Finalize()
		return nil, &errs.StructureError{Root: o.opts.Root, Issues: structure.Errors}
	}

	// Count and collect. Seeds and dependents are split here; the scan is
	// drained exactly once.
	o.deps.Progress.SetPhase(PhaseCount, 0)
	var seeds, dependents []scan.FileEntry
	schemaIDs := make(map[string]struct{})
	for batch, err := range o.deps.Scanner.Scan(o.opts.Root, o.opts.BatchSize) {
		if err != nil {
			o.deps.Report.Finalize()
			return nil, err
		}
		for _, fe := range batch {
			schemaIDs[fe.SchemaID] = struct{}{}
			if fe.SchemaID == o.opts.SeedSchemaID {
				seeds = append(seeds, fe)
			} else {
				dependents = append(dependents, fe)
			}
		}
	}
	total := len(seeds) + len(dependents)

	// Schema prefetch is sequential to avoid overwhelming the content
	// network; individual failures are retried lazily during processing.
	o.deps.Progress.SetPhase(PhaseSchemaPrefetch, len(schemaIDs))
	for id := range schemaIDs {
		if _, err := o.deps.Schemas.Get(ctx, id); err != nil {
			o.logger.Warn("schema prefetch failed", "schema_id", id, "error", err)
		}
	}

	o.deps.Progress.SetPhase(PhaseSeed, len(seeds))
	o.runPhase(ctx, seeds, limit, true)

	o.deps.Progress.SetPhase(PhaseDependent, len(dependents))
	o.runPhase(ctx, dependents, limit, false)

	o.deps.Progress.SetPhase(PhaseFinalize, total)
	summary := o.deps.Report.Finalize()

	o.mu.Lock()
	defer o.mu.Unlock()
	res := &RunResult{
		RunID:        runID,
		Total:        total,
		Processed:    len(o.records),
		Errors:       o.errCount,
		Skipped:      o.skipCount,
		Elapsed:      time.Since(started),
		Concurrency:  limit,
		DirectoryIDs: o.dirIDs,
		Records:      o.records,
	}
	o.logger.Info("run finished",
		"run_id", runID,
		"processed", res.Processed,
		"errors", res.Errors,
		"skipped", res.Skipped,
		"report_errors", summary.Errors,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// runPhase processes one phase's entries under the concurrency cap. Seed
// and dependent work never overlap: phases are globally ordered.
func (o *Orchestrator) runPhase(ctx context.Context, entries []scan.FileEntry, limit int, seedPhase bool) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, fe := range entries {
		g.Go(func() error {
			o.processEntry(ctx, fe, seedPhase)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) processEntry(ctx context.Context, fe scan.FileEntry, seedPhase bool) {
	propertyID, skip := o.resolveProperty(fe, seedPhase)
	if skip {
		return
	}

	rec, ferr := o.processFile(ctx, fe, propertyID)
	if ferr != nil {
		o.recordFailure(fe, ferr, seedPhase)
		return
	}

	o.mu.Lock()
	if seedPhase {
		if dir, pending := fe.Property.Pending(); pending {
			o.dirIDs[dir] = rec.CID
		}
	}
	o.records = append(o.records, rec)
	o.mu.Unlock()
	o.deps.Progress.Increment(collab.KindProcessed)
}

// resolveProperty rewrites a pending property reference from the seed
// results, skipping entries whose directory's seed failed.
func (o *Orchestrator) resolveProperty(fe scan.FileEntry, seedPhase bool) (string, bool) {
	dir, pending := fe.Property.Pending()
	if !pending {
		return fe.Property.ID(), false
	}
	if seedPhase {
		// The seed file's own identifier is not known yet; processFile
		// fills it in from the computed CID.
		return "", false
	}

	o.mu.Lock()
	failed := o.failedDirs[dir]
	id, ok := o.dirIDs[dir]
	o.mu.Unlock()

	if failed {
		o.mu.Lock()
		o.skipCount++
		o.mu.Unlock()
		o.deps.Progress.Increment(collab.KindSkipped)
		o.deps.Report.LogWarning(collab.Record{
			Path:      fe.Path,
			SchemaID:  fe.SchemaID,
			Code:      errs.CodeStructure,
			Message:   fmt.Sprintf("skipped: seed file for directory %s failed", dir),
			Timestamp: time.Now(),
		})
		return "", true
	}
	if !ok {
		// Seed produced no record despite no explicit error; fall back to
		// the raw directory name.
		return dir, false
	}
	return id, false
}

func (o *Orchestrator) recordFailure(fe scan.FileEntry, ferr *errs.FileError, seedPhase bool) {
	o.mu.Lock()
	o.errCount++
	if seedPhase {
		if dir, pending := fe.Property.Pending(); pending {
			o.failedDirs[dir] = true
		}
	}
	o.mu.Unlock()

	o.deps.Progress.Increment(collab.KindErrored)
	o.deps.Report.LogError(collab.Record{
		Path:       ferr.Path,
		PropertyID: ferr.PropertyID,
		SchemaID:   ferr.SchemaID,
		Code:       ferr.Code,
		Message:    ferr.Message,
		Pointer:    ferr.Pointer,
		Timestamp:  time.Now(),
	})
}

// processFile runs the single-file pipeline: read, validate, resolve
// links, canonicalize, compute identifier, upload.
func (o *Orchestrator) processFile(ctx context.Context, fe scan.FileEntry, propertyID string) (UploadRecord, *errs.FileError) {
	fail := func(code, message, pointer string) *errs.FileError {
		return &errs.FileError{
			Code:       code,
			Path:       fe.Path,
			PropertyID: propertyID,
			SchemaID:   fe.SchemaID,
			Pointer:    pointer,
			Message:    message,
		}
	}

	raw, err := os.ReadFile(fe.Path)
	if err != nil {
		return UploadRecord{}, fail(errs.CodeIO, fmt.Sprintf("read failed: %v", err), "")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return UploadRecord{}, fail(errs.CodeIO, fmt.Sprintf("invalid JSON: %v", err), "")
	}

	schema, err := o.deps.Schemas.Get(ctx, fe.SchemaID)
	if err != nil {
		return UploadRecord{}, fail(errs.CodeSchemaLoad, fmt.Sprintf("schema unavailable: %v", err), "")
	}

	if err := schemaval.CheckDataGroupShape(schema); err != nil {
		return UploadRecord{}, fail(errs.CodeSchemaShape, err.Error(), "")
	}

	result, err := o.deps.Validator.Validate(ctx, doc, schema)
	if err != nil {
		code := errs.CodeSchemaLoad
		var unresolved *schemaval.UnresolvedReferenceError
		if errors.As(err, &unresolved) {
			code = errs.CodeLinkResolution
		}
		return UploadRecord{}, fail(code, err.Error(), "")
	}
	if !result.Valid {
		first := result.Errors[0]
		return UploadRecord{}, fail(errs.CodeValidation,
			fmt.Sprintf("%d violation(s); first: %s", len(result.Errors), first.Message),
			first.Path)
	}

	resolvedSchema, err := o.deps.Validator.ResolveSchema(ctx, schema)
	if err != nil {
		return UploadRecord{}, fail(errs.CodeSchemaLoad, err.Error(), "")
	}
	converted, err := o.deps.Converter.Convert(ctx, doc, fe.Path, resolvedSchema)
	if err != nil {
		return UploadRecord{}, fail(errs.CodeLinkResolution, err.Error(), "")
	}

	canon, err := canonical.Canonicalize(converted.Data)
	if err != nil {
		return UploadRecord{}, fail(errs.CodeIdentifierFormat, err.Error(), "")
	}
	id, err := cidlink.FromJSON(converted.Data, canon)
	if err != nil {
		return UploadRecord{}, fail(errs.CodeIdentifierFormat, err.Error(), "")
	}

	if propertyID == "" {
		// Seed file: its own identifier becomes the property identifier.
		propertyID = id.String()
	}

	results := o.deps.Uploader.UploadBatch(ctx, []collab.UploadItem{{
		Data:          raw,
		CanonicalForm: canon,
		Metadata: map[string]string{
			"property_id": propertyID,
			"schema_id":   fe.SchemaID,
			"source":      fe.Path,
		},
	}})
	if len(results) != 1 || results[0].Err != nil || !results[0].Success {
		msg := "upload failed"
		if len(results) == 1 && results[0].Err != nil {
			msg = results[0].Err.Error()
		}
		return UploadRecord{}, fail(errs.CodeUpload, msg, "")
	}

	return UploadRecord{
		PropertyID: propertyID,
		SchemaID:   fe.SchemaID,
		CID:        id.String(),
		Path:       fe.Path,
		Timestamp:  time.Now().UTC(),
		HTMLLink:   o.factSheetLink(propertyID),
	}, nil
}

func (o *Orchestrator) factSheetLink(propertyID string) string {
	if o.opts.FactSheetBaseURL == "" {
		return ""
	}
	link, err := url.JoinPath(o.opts.FactSheetBaseURL, propertyID)
	if err != nil {
		return ""
	}
	return link
}
