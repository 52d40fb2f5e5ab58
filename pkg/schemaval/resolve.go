package schemaval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parcelworks/canopy/pkg/canonical"
	"github.com/parcelworks/canopy/pkg/cidlink"
	"github.com/parcelworks/canopy/pkg/collab"
	"github.com/parcelworks/canopy/pkg/schemacache"
)

// UnresolvedReferenceError names a document reference that could not be
// resolved to content.
type UnresolvedReferenceError struct {
	Ref   string
	Cause error
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unresolved reference %q: %v", e.Ref, e.Cause)
	}
	return fmt.Sprintf("unresolved reference %q", e.Ref)
}

func (e *UnresolvedReferenceError) Unwrap() error { return e.Cause }

// resolveSchemaRefs returns a copy of schema with every node carrying the
// "cid" keyword replaced by the schema document it names, fetched through
// the cache. The original is never mutated; resolution is recursive and
// cycle-guarded.
func resolveSchemaRefs(ctx context.Context, schema map[string]any, cache *schemacache.Cache, seen map[string]bool) (map[string]any, error) {
	if ref, ok := schema["cid"].(string); ok && cidlink.IsStructurallyValid(ref) {
		if seen[ref] {
			return nil, fmt.Errorf("schema reference cycle through %s", ref)
		}
		fetched, err := cache.Get(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve schema reference %s: %w", ref, err)
		}
		seen[ref] = true
		resolved, err := resolveSchemaRefs(ctx, fetched, cache, seen)
		delete(seen, ref)
		return resolved, err
	}

	out := make(map[string]any, len(schema))
	for k, v := range schema {
		rv, err := resolveSchemaValue(ctx, v, cache, seen)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func resolveSchemaValue(ctx context.Context, v any, cache *schemacache.Cache, seen map[string]bool) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return resolveSchemaRefs(ctx, t, cache, seen)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			re, err := resolveSchemaValue(ctx, e, cache, seen)
			if err != nil {
				return nil, err
			}
			out[i] = re
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolvePointers returns a copy of doc with every link reference replaced
// by the content it points to: identifiers are fetched from the content
// network, anything else is read as a file relative to baseDir. Resolution
// recurses into fetched content.
func resolvePointers(ctx context.Context, doc any, baseDir string, fetcher collab.Fetcher) (any, error) {
	if ref, ok := canonical.LinkTarget(doc); ok {
		content, err := loadReference(ctx, ref, baseDir, fetcher)
		if err != nil {
			return nil, err
		}
		return resolvePointers(ctx, content, baseDir, fetcher)
	}

	switch t := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			rv, err := resolvePointers(ctx, v, baseDir, fetcher)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			rv, err := resolvePointers(ctx, v, baseDir, fetcher)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return doc, nil
	}
}

func loadReference(ctx context.Context, ref, baseDir string, fetcher collab.Fetcher) (any, error) {
	if cidlink.IsStructurallyValid(ref) {
		raw, err := fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, &UnresolvedReferenceError{Ref: ref, Cause: err}
		}
		return decodeJSON(raw)
	}

	path := ref
	if !filepath.IsAbs(path) {
		if baseDir == "" {
			return nil, &UnresolvedReferenceError{Ref: ref, Cause: fmt.Errorf("no base directory configured")}
		}
		path = filepath.Join(baseDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &UnresolvedReferenceError{Ref: ref, Cause: err}
	}
	return decodeJSON(raw)
}

func decodeJSON(raw []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("referenced content is not valid JSON: %w", err)
	}
	return v, nil
}
