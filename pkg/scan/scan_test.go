package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/canopy/pkg/cidlink"
)

func testCID(t *testing.T, seed string, version int) string {
	t.Helper()
	opts := cidlink.Options{Version: version}
	if version == 1 {
		opts.Codec = cidlink.CodecRaw
	}
	id, err := cidlink.FromBytes([]byte(seed), opts)
	require.NoError(t, err)
	return id.String()
}

func writeJSON(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0o644))
}

func TestIsValidCID(t *testing.T) {
	assert.True(t, IsValidCID(testCID(t, "a", 0)))
	assert.True(t, IsValidCID(testCID(t, "a", 1)))
	assert.False(t, IsValidCID("not-a-cid"))
	assert.False(t, IsValidCID("Qmtooshort"))
	assert.False(t, IsValidCID(""))
	// Structural only: plausible shape passes without hash verification.
	assert.True(t, IsValidCID("Qm"+"YwAPJzv5CZsnA1trfoTJyAAFhommWuZQWuSQGWvR7nRT"[:44]))
}

func TestValidateStructure(t *testing.T) {
	seedID := testCID(t, "seed-schema", 1)
	schemaID := testCID(t, "data-schema", 1)
	scanner := New(seedID)

	t.Run("valid tree", func(t *testing.T) {
		root := t.TempDir()
		propDir := filepath.Join(root, testCID(t, "prop", 0))
		writeJSON(t, propDir, schemaID+".json")
		seedDir := filepath.Join(root, "my-new-parcel")
		writeJSON(t, seedDir, seedID+".json")
		// Files directly under root are ignored.
		require.NoError(t, os.WriteFile(filepath.Join(root, "stray.json"), []byte(`{}`), 0o644))

		res, err := scanner.ValidateStructure(root)
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("unrecognized dirs warn when valid dirs exist", func(t *testing.T) {
		root := t.TempDir()
		writeJSON(t, filepath.Join(root, testCID(t, "prop", 0)), schemaID+".json")
		require.NoError(t, os.MkdirAll(filepath.Join(root, "random-dir"), 0o755))

		res, err := scanner.ValidateStructure(root)
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Len(t, res.Warnings, 1)
	})

	t.Run("no valid dirs is an aggregate error", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "random-dir"), 0o755))

		res, err := scanner.ValidateStructure(root)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "no valid property or seed directories")
	})

	t.Run("identifier-named dir without json errors", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, testCID(t, "empty", 0)), 0o755))

		res, err := scanner.ValidateStructure(root)
		require.NoError(t, err)
		assert.False(t, res.Valid)
	})
}

func TestScan_Entries(t *testing.T) {
	seedID := testCID(t, "seed-schema", 1)
	schemaID := testCID(t, "data-schema", 1)
	scanner := New(seedID)

	root := t.TempDir()
	propID := testCID(t, "prop", 0)
	writeJSON(t, filepath.Join(root, propID), schemaID+".json")
	writeJSON(t, filepath.Join(root, "new-parcel"), seedID+".json")
	writeJSON(t, filepath.Join(root, "new-parcel"), schemaID+".json")

	var all []FileEntry
	for batch, err := range scanner.Scan(root, 2) {
		require.NoError(t, err)
		all = append(all, batch...)
	}
	require.Len(t, all, 3)

	byPath := map[string]FileEntry{}
	for _, fe := range all {
		byPath[fe.Path] = fe
	}

	resolved := byPath[filepath.Join(root, propID, schemaID+".json")]
	assert.Equal(t, propID, resolved.Property.ID())
	_, pending := resolved.Property.Pending()
	assert.False(t, pending)
	assert.Equal(t, schemaID, resolved.SchemaID)

	seedEntry := byPath[filepath.Join(root, "new-parcel", seedID+".json")]
	dir, pending := seedEntry.Property.Pending()
	assert.True(t, pending)
	assert.Equal(t, "new-parcel", dir)
	assert.Equal(t, seedID, seedEntry.SchemaID)

	sibling := byPath[filepath.Join(root, "new-parcel", schemaID+".json")]
	_, pending = sibling.Property.Pending()
	assert.True(t, pending)
}

func TestScan_BatchSizeRespected(t *testing.T) {
	seedID := testCID(t, "seed-schema", 1)
	scanner := New(seedID)

	root := t.TempDir()
	dir := filepath.Join(root, testCID(t, "prop", 0))
	for i := 0; i < 5; i++ {
		writeJSON(t, dir, testCID(t, string(rune('a'+i)), 1)+".json")
	}

	batches := 0
	for batch, err := range scanner.Scan(root, 2) {
		require.NoError(t, err)
		assert.LessOrEqual(t, len(batch), 2)
		batches++
	}
	assert.Equal(t, 3, batches)
}

func TestCountAndSchemaDiscovery(t *testing.T) {
	seedID := testCID(t, "seed-schema", 1)
	schemaA := testCID(t, "schema-a", 1)
	schemaB := testCID(t, "schema-b", 1)
	scanner := New(seedID)

	root := t.TempDir()
	writeJSON(t, filepath.Join(root, testCID(t, "p1", 0)), schemaA+".json")
	writeJSON(t, filepath.Join(root, testCID(t, "p2", 0)), schemaA+".json")
	writeJSON(t, filepath.Join(root, testCID(t, "p2", 0)), schemaB+".json")

	count, err := scanner.CountTotalFiles(root)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ids, err := scanner.AllDataGroupCIDs(root)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, schemaA)
	assert.Contains(t, ids, schemaB)
}
