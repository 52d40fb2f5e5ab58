// Package canonical produces RFC 8785 (JSON Canonicalization Scheme)
// canonical bytes for JSON documents, extended with link-aware array
// ordering: arrays containing content-link references are sorted by link
// target before key-order canonicalization, so that the computed identifier
// of a document does not depend on the order its links were produced in.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// LinkTarget reports whether v is a link reference object of the exact
// shape {"/": <string>} and returns its target.
func LinkTarget(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	s, ok := m["/"].(string)
	return s, ok
}

// Canonicalize returns the canonical byte serialization of v.
//
// v is first re-marshaled through encoding/json so that structs with json
// tags are accepted; NaN and Infinity fail at that stage. The decoded tree
// is then pre-ordered (link-aware array sort, recursive) and handed to the
// RFC 8785 transform for key sorting and number/string formatting.
func Canonicalize(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: intermediate decode failed: %w", err)
	}

	sortLinkArrays(generic)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical: encode failed: %w", err)
	}

	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// CanonicalizeBytes parses raw JSON and canonicalizes it. Re-canonicalizing
// canonical output is a no-op.
func CanonicalizeBytes(raw []byte) ([]byte, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: parse failed: %w", err)
	}
	return Canonicalize(generic)
}

// sortLinkArrays applies the link-aware ordering rule to every array in the
// tree: if any element of an array is a link reference, link elements are
// sorted lexicographically by target and placed before the non-link
// elements, whose relative order is preserved. The current level is ordered
// before recursion descends.
func sortLinkArrays(v any) {
	switch t := v.(type) {
	case []any:
		if hasLinkElement(t) {
			orderLinksFirst(t)
		}
		for _, elem := range t {
			sortLinkArrays(elem)
		}
	case map[string]any:
		for _, val := range t {
			sortLinkArrays(val)
		}
	}
}

func hasLinkElement(arr []any) bool {
	for _, elem := range arr {
		if _, ok := LinkTarget(elem); ok {
			return true
		}
	}
	return false
}

func orderLinksFirst(arr []any) {
	links := make([]any, 0, len(arr))
	rest := make([]any, 0, len(arr))
	for _, elem := range arr {
		if _, ok := LinkTarget(elem); ok {
			links = append(links, elem)
		} else {
			rest = append(rest, elem)
		}
	}
	sort.SliceStable(links, func(i, j int) bool {
		a, _ := LinkTarget(links[i])
		b, _ := LinkTarget(links[j])
		return a < b
	})
	copy(arr, links)
	copy(arr[len(links):], rest)
}
