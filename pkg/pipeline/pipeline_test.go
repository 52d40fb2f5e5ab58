package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/canopy/pkg/cidlink"
	"github.com/parcelworks/canopy/pkg/collab"
	"github.com/parcelworks/canopy/pkg/errs"
	"github.com/parcelworks/canopy/pkg/ipldconv"
	"github.com/parcelworks/canopy/pkg/scan"
	"github.com/parcelworks/canopy/pkg/schemacache"
	"github.com/parcelworks/canopy/pkg/schemaval"
)

var (
	seedSchemaBody = []byte(`{"type":"object","properties":{"label":{"type":"string"},"relationships":{"type":"array"}}}`)
	depSchemaBody  = []byte(`{"type":"object","properties":{"label":{"type":"string"},"relationships":{"type":"array","items":{"type":"object"}}}}`)
)

// schemaID derives the content identifier a schema would be published
// under, so fixture file names line up with fetcher keys.
func schemaID(t *testing.T, body []byte) string {
	t.Helper()
	id, err := cidlink.FromBytes(body, cidlink.Options{Version: 1, Codec: cidlink.CodecRaw})
	require.NoError(t, err)
	return id.String()
}

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func newDeps(t *testing.T, fetcher *collab.MemoryFetcher, up collab.Uploader, sink *collab.MemorySink, seedID string) Deps {
	t.Helper()
	cache, err := schemacache.Open(schemacache.Options{Fetcher: fetcher, Capacity: 32})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return Deps{
		Scanner:   scan.New(seedID),
		Schemas:   cache,
		Validator: schemaval.New(cache, fetcher, ""),
		Converter: ipldconv.New(up),
		Uploader:  up,
		Report:    sink,
		Progress:  collab.NewMemoryProgress(),
	}
}

func TestRun_SeedOnlyEndToEnd(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(seedID, seedSchemaBody)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "maple-street"), seedID+".json",
		[]byte(`{"label":"Maple Street","relationships":[]}`))

	run := func() *RunResult {
		sink := collab.NewMemorySink()
		orch := New(newDeps(t, fetcher, collab.NewMemoryUploader(), sink, seedID),
			Options{Root: root, SeedSchemaID: seedID})
		res, err := orch.Run(context.Background())
		require.NoError(t, err)
		require.Empty(t, sink.Errors())
		return res
	}

	first := run()
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, 1, first.Processed)
	assert.Zero(t, first.Errors)
	assert.Zero(t, first.Skipped)
	require.Len(t, first.Records, 1)

	rec := first.Records[0]
	assert.Equal(t, rec.CID, rec.PropertyID, "seed file's identifier becomes the property identifier")
	assert.Equal(t, seedID, rec.SchemaID)
	assert.Equal(t, rec.CID, first.DirectoryIDs["maple-street"])

	second := run()
	require.Len(t, second.Records, 1)
	assert.Equal(t, rec.CID, second.Records[0].CID, "identifier must be deterministic across runs")
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_DependentInheritsSeedIdentifier(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	depID := schemaID(t, depSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(seedID, seedSchemaBody)
	fetcher.Put(depID, depSchemaBody)

	root := t.TempDir()
	dir := filepath.Join(root, "elm-road")
	writeFile(t, dir, seedID+".json", []byte(`{"label":"Elm Road","relationships":[]}`))
	writeFile(t, dir, depID+".json", []byte(`{"label":"Elm Road Deed","relationships":[]}`))

	sink := collab.NewMemorySink()
	orch := New(newDeps(t, fetcher, collab.NewMemoryUploader(), sink, seedID),
		Options{Root: root, SeedSchemaID: seedID})
	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, res.Processed)
	seedCID := res.DirectoryIDs["elm-road"]
	require.NotEmpty(t, seedCID)
	for _, rec := range res.Records {
		assert.Equal(t, seedCID, rec.PropertyID)
	}
}

func TestRun_SeedFailureSkipsSiblings(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	depID := schemaID(t, depSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(seedID, seedSchemaBody)
	fetcher.Put(depID, depSchemaBody)

	root := t.TempDir()
	dir := filepath.Join(root, "oak-lane")
	// label must be a string: the seed file fails validation.
	writeFile(t, dir, seedID+".json", []byte(`{"label":42,"relationships":[]}`))
	writeFile(t, dir, depID+".json", []byte(`{"label":"Oak Lane Deed","relationships":[]}`))

	sink := collab.NewMemorySink()
	orch := New(newDeps(t, fetcher, collab.NewMemoryUploader(), sink, seedID),
		Options{Root: root, SeedSchemaID: seedID})
	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Skipped)

	require.Len(t, sink.Errors(), 1)
	assert.Equal(t, errs.CodeValidation, sink.Errors()[0].Code)
	require.Len(t, sink.Warnings(), 1)
	assert.Contains(t, sink.Warnings()[0].Message, "seed file for directory oak-lane failed")
}

func TestRun_DataGroupShapeGate(t *testing.T) {
	// Missing the relationships property: the shape gate rejects the file
	// before field-level validation ever runs.
	badSchema := []byte(`{"type":"object","properties":{"label":{"type":"string"}}}`)
	badID := schemaID(t, badSchema)
	seedID := schemaID(t, seedSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(badID, badSchema)

	propID := schemaID(t, []byte("shaped property"))
	root := t.TempDir()
	writeFile(t, filepath.Join(root, propID), badID+".json", []byte(`{"label":"L"}`))

	sink := collab.NewMemorySink()
	orch := New(newDeps(t, fetcher, collab.NewMemoryUploader(), sink, seedID),
		Options{Root: root, SeedSchemaID: seedID})
	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Errors)
	require.Len(t, sink.Errors(), 1)
	assert.Equal(t, errs.CodeSchemaShape, sink.Errors()[0].Code)
	assert.Contains(t, sink.Errors()[0].Message, "relationships")
}

func TestRun_ResolvedDirectoryUsesItsName(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	depID := schemaID(t, depSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(depID, depSchemaBody)

	propID := schemaID(t, []byte("an existing property"))
	root := t.TempDir()
	writeFile(t, filepath.Join(root, propID), depID+".json",
		[]byte(`{"label":"Filed Deed","relationships":[]}`))

	sink := collab.NewMemorySink()
	orch := New(newDeps(t, fetcher, collab.NewMemoryUploader(), sink, seedID),
		Options{Root: root, SeedSchemaID: seedID})
	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, propID, res.Records[0].PropertyID)
	assert.Empty(t, res.DirectoryIDs)
}

func TestRun_StructureFailureIsFatal(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes"), "readme.txt", []byte("not a property tree"))

	sink := collab.NewMemorySink()
	orch := New(newDeps(t, collab.NewMemoryFetcher(), collab.NewMemoryUploader(), sink, seedID),
		Options{Root: root, SeedSchemaID: seedID})
	_, err := orch.Run(context.Background())

	var structErr *errs.StructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, root, structErr.Root)
	assert.NotEmpty(t, sink.Errors(), "structure errors must reach the report before aborting")
}

func TestRun_UploadFailureRecorded(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(seedID, seedSchemaBody)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "birch-way"), seedID+".json",
		[]byte(`{"label":"Birch Way","relationships":[]}`))

	uploader := collab.NewMemoryUploader()
	uploader.FailAll = true
	sink := collab.NewMemorySink()
	orch := New(newDeps(t, fetcher, uploader, sink, seedID),
		Options{Root: root, SeedSchemaID: seedID})
	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Errors)
	require.Len(t, sink.Errors(), 1)
	assert.Equal(t, errs.CodeUpload, sink.Errors()[0].Code)
}

func TestRun_FactSheetLink(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(seedID, seedSchemaBody)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cedar-court"), seedID+".json",
		[]byte(`{"label":"Cedar Court","relationships":[]}`))

	sink := collab.NewMemorySink()
	orch := New(newDeps(t, fetcher, collab.NewMemoryUploader(), sink, seedID), Options{
		Root:             root,
		SeedSchemaID:     seedID,
		FactSheetBaseURL: "https://facts.example.com/sheets",
	})
	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "https://facts.example.com/sheets/"+rec.PropertyID, rec.HTMLLink)
}

// gaugeUploader tracks the high-water mark of concurrent uploads.
type gaugeUploader struct {
	inner   *collab.MemoryUploader
	current atomic.Int32
	peak    atomic.Int32
}

func (g *gaugeUploader) UploadBatch(ctx context.Context, items []collab.UploadItem) []collab.UploadResult {
	cur := g.current.Add(1)
	defer g.current.Add(-1)
	for {
		p := g.peak.Load()
		if cur <= p || g.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.inner.UploadBatch(ctx, items)
}

func (g *gaugeUploader) UploadDirectory(ctx context.Context, path string, metadata map[string]string) collab.UploadResult {
	return g.inner.UploadDirectory(ctx, path, metadata)
}

func TestRun_ConcurrencyCapRespected(t *testing.T) {
	seedID := schemaID(t, seedSchemaBody)
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put(seedID, seedSchemaBody)

	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		writeFile(t, filepath.Join(root, name+"-street"), seedID+".json",
			[]byte(`{"label":"`+name+` street","relationships":[]}`))
	}

	gauge := &gaugeUploader{inner: collab.NewMemoryUploader()}
	sink := collab.NewMemorySink()
	orch := New(newDeps(t, fetcher, gauge, sink, seedID),
		Options{Root: root, SeedSchemaID: seedID, Concurrency: 2})
	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, res.Processed)
	assert.Equal(t, 2, res.Concurrency)
	assert.LessOrEqual(t, gauge.peak.Load(), int32(2))
}

func TestEffectiveConcurrency(t *testing.T) {
	cases := []struct {
		name        string
		user, osCap int
		want        int
	}{
		{"both set, user smaller", 4, 100, 4},
		{"both set, user larger", 500, 100, 100},
		{"user only", 8, 0, 8},
		{"os only", 0, 300, 300},
		{"neither", 0, 0, DefaultConcurrency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, effectiveConcurrency(tc.user, tc.osCap))
		})
	}
}
