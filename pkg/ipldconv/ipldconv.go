// Package ipldconv rewrites a validated document's content references into
// resolved content-addressed links. Fields designated by the schema (format
// ipfs_uri) or expressed as link reference objects are materialized: local
// file paths are read, uploaded through the upload collaborator and
// replaced by their resulting identifier; existing identifiers are recorded
// untouched.
package ipldconv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parcelworks/canopy/pkg/canonical"
	"github.com/parcelworks/canopy/pkg/cidlink"
	"github.com/parcelworks/canopy/pkg/collab"
)

const ipfsURIPrefix = "ipfs://"

// LinkError names a reference that could not be materialized.
type LinkError struct {
	Pointer string
	Ref     string
	Cause   error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link resolution failed at %s for %q: %v", e.Pointer, e.Ref, e.Cause)
}

func (e *LinkError) Unwrap() error { return e.Cause }

// Result is the outcome of one conversion.
type Result struct {
	Data       any
	HasLinks   bool
	LinkedCIDs []string
}

// Converter materializes content references via the upload collaborator.
type Converter struct {
	uploader collab.Uploader
	logger   *slog.Logger
}

func New(uploader collab.Uploader) *Converter {
	return &Converter{
		uploader: uploader,
		logger:   slog.Default().With("component", "ipldconv"),
	}
}

// state tracks one Convert call. Repeated references to the same path
// within a document reuse the first upload's identifier. The two link
// conventions memoize separately: link-reference objects carry the
// uploader's legacy identifier, ipfs_uri fields a v1 raw one.
type state struct {
	baseDir string
	memoRef map[string]string
	memoURI map[string]string
	linked  []string
	found   bool
}

// HasLinks reports whether the schema designates any reachable field as a
// content reference and doc actually populates it.
func (c *Converter) HasLinks(doc any, schema map[string]any) bool {
	if cidlink.HasLinks(doc) {
		return true
	}
	return hasDesignatedLink(doc, schema)
}

func hasDesignatedLink(doc any, schemaNode map[string]any) bool {
	m, ok := doc.(map[string]any)
	if !ok {
		if arr, ok := doc.([]any); ok {
			items, _ := childSchema(schemaNode, "items")
			for _, e := range arr {
				if hasDesignatedLink(e, items) {
					return true
				}
			}
		}
		return false
	}
	for k, v := range m {
		prop, _ := childProperty(schemaNode, k)
		if s, ok := v.(string); ok && s != "" && isLinkFormat(prop) {
			return true
		}
		if hasDesignatedLink(v, prop) {
			return true
		}
	}
	return false
}

// Convert walks doc and resolves every reference field. sourcePath anchors
// relative paths (they resolve against the document's directory). A
// failure on one document never corrupts sibling documents: the input is
// not mutated, the rewritten copy is returned.
func (c *Converter) Convert(ctx context.Context, doc any, sourcePath string, schema map[string]any) (*Result, error) {
	st := &state{
		baseDir: filepath.Dir(sourcePath),
		memoRef: make(map[string]string),
		memoURI: make(map[string]string),
	}
	converted, err := c.walk(ctx, doc, schema, "", st)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:       converted,
		HasLinks:   st.found,
		LinkedCIDs: st.linked,
	}, nil
}

func (c *Converter) walk(ctx context.Context, v any, schemaNode map[string]any, ptr string, st *state) (any, error) {
	if target, ok := canonical.LinkTarget(v); ok {
		return c.resolveLinkRef(ctx, target, ptr, st)
	}

	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			childPtr := ptr + "/" + k
			prop, _ := childProperty(schemaNode, k)
			if s, ok := val.(string); ok && isLinkFormat(prop) {
				rewritten, err := c.resolveURIField(ctx, s, childPtr, st)
				if err != nil {
					return nil, err
				}
				out[k] = rewritten
				continue
			}
			rv, err := c.walk(ctx, val, prop, childPtr, st)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		items, _ := childSchema(schemaNode, "items")
		out := make([]any, len(t))
		for i, val := range t {
			rv, err := c.walk(ctx, val, items, fmt.Sprintf("%s/%d", ptr, i), st)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveLinkRef handles the {"/": target} convention.
func (c *Converter) resolveLinkRef(ctx context.Context, target, ptr string, st *state) (any, error) {
	st.found = true

	if id, ok := strings.CutPrefix(target, ipfsURIPrefix); ok && cidlink.IsStructurallyValid(id) {
		st.linked = append(st.linked, id)
		return map[string]any{"/": target}, nil
	}
	if cidlink.IsStructurallyValid(target) {
		st.linked = append(st.linked, target)
		return map[string]any{"/": target}, nil
	}

	id, err := c.uploadPath(ctx, target, ptr, st)
	if err != nil {
		return nil, err
	}
	return map[string]any{"/": id}, nil
}

// resolveURIField handles schema-designated ipfs_uri fields (ipfs_url
// convention): already-resolved URIs are recorded, paths are uploaded and
// rewritten as ipfs://<id> with a v1 raw identifier so the field still
// satisfies its format.
func (c *Converter) resolveURIField(ctx context.Context, value, ptr string, st *state) (string, error) {
	if value == "" {
		return value, nil
	}
	st.found = true

	if id, ok := strings.CutPrefix(value, ipfsURIPrefix); ok {
		if !cidlink.IsStructurallyValid(id) {
			return "", &LinkError{Pointer: ptr, Ref: value, Cause: fmt.Errorf("malformed identifier in URI")}
		}
		st.linked = append(st.linked, id)
		return value, nil
	}
	if cidlink.IsStructurallyValid(value) {
		st.linked = append(st.linked, value)
		return ipfsURIPrefix + value, nil
	}

	path := value
	if !filepath.IsAbs(path) {
		path = filepath.Join(st.baseDir, path)
	}
	if memoized, ok := st.memoURI[path]; ok {
		return ipfsURIPrefix + memoized, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &LinkError{Pointer: ptr, Ref: value, Cause: err}
	}
	res := c.uploadOne(ctx, data)
	if res.Err != nil {
		return "", &LinkError{Pointer: ptr, Ref: value, Cause: res.Err}
	}
	if !res.Success {
		return "", &LinkError{Pointer: ptr, Ref: value, Cause: fmt.Errorf("upload did not succeed")}
	}
	id, err := cidlink.FromBytes(data, cidlink.Options{Version: 1, Codec: cidlink.CodecRaw})
	if err != nil {
		return "", &LinkError{Pointer: ptr, Ref: value, Cause: err}
	}
	st.memoURI[path] = id.String()
	st.linked = append(st.linked, id.String())
	return ipfsURIPrefix + id.String(), nil
}

// uploadPath reads a referenced file and uploads it once per Convert call.
func (c *Converter) uploadPath(ctx context.Context, ref, ptr string, st *state) (string, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(st.baseDir, path)
	}
	if id, ok := st.memoRef[path]; ok {
		st.linked = append(st.linked, id)
		return id, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &LinkError{Pointer: ptr, Ref: ref, Cause: err}
	}
	res := c.uploadOne(ctx, data)
	if res.Err != nil {
		return "", &LinkError{Pointer: ptr, Ref: ref, Cause: res.Err}
	}
	if !res.Success {
		return "", &LinkError{Pointer: ptr, Ref: ref, Cause: fmt.Errorf("upload did not succeed")}
	}

	st.memoRef[path] = res.ID
	st.linked = append(st.linked, res.ID)
	return res.ID, nil
}

func (c *Converter) uploadOne(ctx context.Context, data []byte) collab.UploadResult {
	results := c.uploader.UploadBatch(ctx, []collab.UploadItem{{Data: data}})
	if len(results) != 1 {
		return collab.UploadResult{Err: fmt.Errorf("uploader returned %d results for 1 item", len(results))}
	}
	return results[0]
}

func childProperty(schemaNode map[string]any, key string) (map[string]any, bool) {
	props, ok := childSchema(schemaNode, "properties")
	if !ok {
		return nil, false
	}
	child, ok := props[key].(map[string]any)
	return child, ok
}

func childSchema(schemaNode map[string]any, key string) (map[string]any, bool) {
	if schemaNode == nil {
		return nil, false
	}
	child, ok := schemaNode[key].(map[string]any)
	return child, ok
}

func isLinkFormat(schemaNode map[string]any) bool {
	if schemaNode == nil {
		return false
	}
	f, _ := schemaNode["format"].(string)
	return f == "ipfs_uri"
}
