// Package scan validates the on-disk layout of a property tree and turns
// it into a lazy, batched sequence of file entries.
//
// Layout contract: <root>/<propertyId-or-seedDirName>/<schemaId>.json.
// Subdirectories named as a content identifier are property directories;
// subdirectories containing <seedSchemaId>.json are seed directories whose
// property identifier is pending until the seed file is processed.
package scan

import (
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parcelworks/canopy/pkg/cidlink"
)

// PropertyRef identifies the property a file belongs to: either resolved to
// a concrete identifier, or pending on the seed file of its directory.
type PropertyRef struct {
	id         string
	pendingDir string
}

// ResolvedProperty returns a reference to a known property identifier.
func ResolvedProperty(id string) PropertyRef { return PropertyRef{id: id} }

// PendingProperty returns a reference awaiting the seed result of dir.
func PendingProperty(dir string) PropertyRef { return PropertyRef{pendingDir: dir} }

// Pending reports whether the reference awaits a seed result, and for
// which directory.
func (r PropertyRef) Pending() (string, bool) { return r.pendingDir, r.pendingDir != "" }

// ID returns the resolved property identifier, or "" while pending.
func (r PropertyRef) ID() string { return r.id }

func (r PropertyRef) String() string {
	if r.pendingDir != "" {
		return "pending(" + r.pendingDir + ")"
	}
	return r.id
}

// FileEntry is one file to process. Immutable once produced.
type FileEntry struct {
	Property PropertyRef
	SchemaID string
	Path     string
}

// StructureResult reports the outcome of layout validation.
type StructureResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Scanner walks property trees. The seed schema identifier distinguishes
// seed directories from ignorable ones.
type Scanner struct {
	seedSchemaID string
	logger       *slog.Logger
}

func New(seedSchemaID string) *Scanner {
	return &Scanner{
		seedSchemaID: seedSchemaID,
		logger:       slog.Default().With("component", "scan"),
	}
}

// IsValidCID applies structural checks only (prefix/length/alphabet); it
// does not verify hash validity.
func IsValidCID(s string) bool {
	return cidlink.IsStructurallyValid(s)
}

// dirClass classifies one immediate subdirectory of the root.
type dirClass int

const (
	dirIgnored dirClass = iota
	dirProperty
	dirSeed
)

// classify inspects a subdirectory and lists its qualifying JSON files.
func (s *Scanner) classify(dirPath, name string) (dirClass, []string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return dirIgnored, nil, fmt.Errorf("scan: read dir %s: %w", dirPath, err)
	}

	seedFile := s.seedSchemaID + ".json"
	var (
		jsonFiles []string
		hasSeed   bool
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".json")
		if e.Name() == seedFile {
			hasSeed = true
			jsonFiles = append(jsonFiles, e.Name())
			continue
		}
		if IsValidCID(base) {
			jsonFiles = append(jsonFiles, e.Name())
		}
	}

	switch {
	case IsValidCID(name):
		return dirProperty, jsonFiles, nil
	case hasSeed:
		return dirSeed, jsonFiles, nil
	default:
		return dirIgnored, nil, nil
	}
}

// ValidateStructure walks the immediate subdirectories of root. Files
// directly under root are ignored. Directories matching neither the
// property nor the seed rule contribute warnings, not errors, unless zero
// valid directories exist overall.
func (s *Scanner) ValidateStructure(root string) (StructureResult, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return StructureResult{}, fmt.Errorf("scan: read root %s: %w", root, err)
	}

	var res StructureResult
	validDirs := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		class, jsonFiles, err := s.classify(filepath.Join(root, e.Name()), e.Name())
		if err != nil {
			return StructureResult{}, err
		}
		switch class {
		case dirIgnored:
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("directory %s is neither identifier-named nor a seed directory; ignored", e.Name()))
		case dirProperty, dirSeed:
			if len(jsonFiles) == 0 {
				res.Errors = append(res.Errors,
					fmt.Sprintf("directory %s contains no identifier-named JSON files", e.Name()))
				continue
			}
			validDirs++
		}
	}

	if validDirs == 0 {
		res.Errors = append(res.Errors,
			fmt.Sprintf("no valid property or seed directories found under %s", root))
	}
	res.Valid = len(res.Errors) == 0
	return res, nil
}

// Scan lazily yields batches of FileEntry records. The sequence is finite
// and not restartable; a fresh call rescans the tree. A non-nil error
// terminates the sequence.
func (s *Scanner) Scan(root string, batchSize int) iter.Seq2[[]FileEntry, error] {
	if batchSize <= 0 {
		batchSize = 100
	}
	return func(yield func([]FileEntry, error) bool) {
		entries, err := os.ReadDir(root)
		if err != nil {
			yield(nil, fmt.Errorf("scan: read root %s: %w", root, err))
			return
		}

		batch := make([]FileEntry, 0, batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			out := batch
			batch = make([]FileEntry, 0, batchSize)
			return yield(out, nil)
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dirPath := filepath.Join(root, e.Name())
			class, jsonFiles, err := s.classify(dirPath, e.Name())
			if err != nil {
				yield(nil, err)
				return
			}
			if class == dirIgnored {
				continue
			}

			var prop PropertyRef
			if class == dirSeed {
				prop = PendingProperty(e.Name())
			} else {
				prop = ResolvedProperty(e.Name())
			}

			for _, f := range jsonFiles {
				batch = append(batch, FileEntry{
					Property: prop,
					SchemaID: strings.TrimSuffix(f, ".json"),
					Path:     filepath.Join(dirPath, f),
				})
				if len(batch) >= batchSize {
					if !flush() {
						return
					}
				}
			}
		}
		flush()
	}
}

// CountTotalFiles drains a scan and returns the number of file entries.
func (s *Scanner) CountTotalFiles(root string) (int, error) {
	total := 0
	for batch, err := range s.Scan(root, 0) {
		if err != nil {
			return 0, err
		}
		total += len(batch)
	}
	return total, nil
}

// AllDataGroupCIDs drains a scan and returns the distinct schema
// identifiers referenced by the tree.
func (s *Scanner) AllDataGroupCIDs(root string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for batch, err := range s.Scan(root, 0) {
		if err != nil {
			return nil, err
		}
		for _, fe := range batch {
			out[fe.SchemaID] = struct{}{}
		}
	}
	return out, nil
}
