// Package schemaval validates property documents against JSON Schema
// (draft-07) with the pipeline's custom formats, the cid schema-composition
// keyword, and inline resolution of link references before validation.
package schemaval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/parcelworks/canopy/pkg/canonical"
	"github.com/parcelworks/canopy/pkg/collab"
	"github.com/parcelworks/canopy/pkg/schemacache"
)

// FieldError is one schema violation.
type FieldError struct {
	Path    string // JSON pointer into the document
	Message string
	Keyword string
}

// Result is the outcome of validating one document.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// SchemaShapeError reports a data-group schema that does not have exactly
// the label and relationships properties.
type SchemaShapeError struct {
	Missing []string
	Extra   []string
	Reason  string
}

func (e *SchemaShapeError) Error() string {
	if e.Reason != "" {
		return "invalid data-group schema: " + e.Reason
	}
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing property "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected property "+strings.Join(e.Extra, ", "))
	}
	return "invalid data-group schema: " + strings.Join(parts, "; ")
}

// CheckDataGroupShape enforces the data-group invariant: type object with a
// properties map containing exactly label and relationships. This runs
// before any field-level validation; a violation is a file-level error, not
// a schema-compile error.
func CheckDataGroupShape(schema map[string]any) error {
	if t, _ := schema["type"].(string); t != "object" {
		return &SchemaShapeError{Reason: `type must be "object"`}
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return &SchemaShapeError{Reason: "properties map is required"}
	}

	want := map[string]bool{"label": false, "relationships": false}
	var extra []string
	for k := range props {
		if _, ok := want[k]; ok {
			want[k] = true
		} else {
			extra = append(extra, k)
		}
	}
	var missing []string
	for k, seen := range want {
		if !seen {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &SchemaShapeError{Missing: missing, Extra: extra}
}

// Validator compiles and applies schemas. Compiled validators are cached by
// schema content; redundant population under races is harmless (last writer
// wins, results are identical).
type Validator struct {
	schemas  *schemacache.Cache
	fetcher  collab.Fetcher
	baseDir  string
	compiled sync.Map // canonical schema digest -> *jsonschema.Schema
}

// New builds a Validator. baseDir anchors relative file references in
// documents; empty disables path resolution.
func New(schemas *schemacache.Cache, fetcher collab.Fetcher, baseDir string) *Validator {
	return &Validator{
		schemas: schemas,
		fetcher: fetcher,
		baseDir: baseDir,
	}
}

// ResolveSchema returns schema with all cid-keyword composition references
// spliced in. Callers that walk the schema themselves (the link resolver)
// need the resolved form.
func (v *Validator) ResolveSchema(ctx context.Context, schema map[string]any) (map[string]any, error) {
	return resolveSchemaRefs(ctx, schema, v.schemas, map[string]bool{})
}

// Validate checks doc against schema. Schema-composition references (the
// cid keyword) are spliced in through the schema cache, then link
// references in the document are resolved inline, then the compiled schema
// is applied. A Result with violations is not an error; errors report
// infrastructure failures (unfetchable schema, unresolvable reference).
func (v *Validator) Validate(ctx context.Context, doc any, schema map[string]any) (Result, error) {
	resolvedSchema, err := resolveSchemaRefs(ctx, schema, v.schemas, map[string]bool{})
	if err != nil {
		return Result{}, err
	}

	compiled, err := v.compile(resolvedSchema)
	if err != nil {
		return Result{}, err
	}

	resolvedDoc, err := resolvePointers(ctx, doc, v.baseDir, v.fetcher)
	if err != nil {
		return Result{}, err
	}

	if err := compiled.Validate(resolvedDoc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return Result{Valid: false, Errors: flatten(ve)}, nil
		}
		return Result{}, fmt.Errorf("schemaval: validate: %w", err)
	}
	return Result{Valid: true}, nil
}

func (v *Validator) compile(schema map[string]any) (*jsonschema.Schema, error) {
	canon, err := canonical.Canonicalize(schema)
	if err != nil {
		return nil, fmt.Errorf("schemaval: canonicalize schema: %w", err)
	}
	sum := sha256.Sum256(canon)
	key := hex.EncodeToString(sum[:])

	if cached, ok := v.compiled.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true
	url := "mem://schemas/" + key + ".json"
	if err := c.AddResource(url, strings.NewReader(string(canon))); err != nil {
		return nil, fmt.Errorf("schemaval: add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schemaval: compile schema: %w", err)
	}

	v.compiled.Store(key, compiled)
	return compiled, nil
}

// flatten walks the validation error tree and returns its leaves as field
// errors with document pointers.
func flatten(ve *jsonschema.ValidationError) []FieldError {
	if len(ve.Causes) == 0 {
		return []FieldError{{
			Path:    pointer(ve.InstanceLocation),
			Message: ve.Message,
			Keyword: keywordOf(ve.KeywordLocation),
		}}
	}
	var out []FieldError
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

func pointer(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}

func keywordOf(keywordLocation string) string {
	segs := strings.Split(keywordLocation, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		if s == "" {
			continue
		}
		// Skip numeric segments (allOf/0 etc.) and property names.
		if s != "properties" && s != "items" && !isDigits(s) {
			return s
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
