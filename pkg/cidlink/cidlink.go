// Package cidlink computes content identifiers over byte buffers and JSON
// documents. It supports the raw, dag-pb (UnixFS) and dag-json multicodecs
// in CID v0 and v1 forms, detects in-document link references to select a
// codec automatically, and converts identifiers to and from the fixed-width
// 0x-prefixed hash-hex form used for ledger interop.
package cidlink

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	"github.com/parcelworks/canopy/pkg/canonical"
)

// Multicodec tags used by this pipeline.
const (
	CodecRaw     uint64 = 0x55
	CodecDagPB   uint64 = 0x70
	CodecDagJSON uint64 = 0x0129
)

// Options select the identifier form. Version 0 implies the legacy
// dag-pb/UnixFS form; version 1 requires an explicit codec.
type Options struct {
	Version int
	Codec   uint64
}

// InvalidHashFormatError reports a malformed hash-hex input.
type InvalidHashFormatError struct {
	Input  string
	Reason string
}

func (e *InvalidHashFormatError) Error() string {
	return fmt.Sprintf("invalid hash format %q: %s", e.Input, e.Reason)
}

// UnexpectedCidFormError reports a CID whose version or codec does not
// match the expected form.
type UnexpectedCidFormError struct {
	Expected string
	Actual   string
}

func (e *UnexpectedCidFormError) Error() string {
	return fmt.Sprintf("unexpected CID form: expected %s, got %s", e.Expected, e.Actual)
}

func codecName(code uint64) string {
	switch code {
	case CodecRaw:
		return "raw"
	case CodecDagPB:
		return "dag-pb"
	case CodecDagJSON:
		return "dag-json"
	default:
		return fmt.Sprintf("0x%x", code)
	}
}

// FromBytes computes the identifier of data under the given options.
// Identical bytes under identical options always yield the same identifier;
// different codecs over identical bytes yield different identifiers.
func FromBytes(data []byte, opts Options) (cid.Cid, error) {
	switch opts.Version {
	case 0:
		if opts.Codec != 0 && opts.Codec != CodecDagPB {
			return cid.Undef, &UnexpectedCidFormError{
				Expected: "dag-pb (v0 is implicitly UnixFS)",
				Actual:   codecName(opts.Codec),
			}
		}
		block, err := unixFSBlock(data)
		if err != nil {
			return cid.Undef, err
		}
		mh, err := multihash.Sum(block, multihash.SHA2_256, -1)
		if err != nil {
			return cid.Undef, fmt.Errorf("cidlink: multihash failed: %w", err)
		}
		return cid.NewCidV0(mh), nil
	case 1:
		var hashed []byte
		switch opts.Codec {
		case CodecRaw, CodecDagJSON:
			hashed = data
		case CodecDagPB:
			block, err := unixFSBlock(data)
			if err != nil {
				return cid.Undef, err
			}
			hashed = block
		default:
			return cid.Undef, &UnexpectedCidFormError{
				Expected: "raw, dag-pb or dag-json",
				Actual:   codecName(opts.Codec),
			}
		}
		mh, err := multihash.Sum(hashed, multihash.SHA2_256, -1)
		if err != nil {
			return cid.Undef, fmt.Errorf("cidlink: multihash failed: %w", err)
		}
		return cid.NewCidV1(opts.Codec, mh), nil
	default:
		return cid.Undef, &UnexpectedCidFormError{
			Expected: "version 0 or 1",
			Actual:   fmt.Sprintf("version %d", opts.Version),
		}
	}
}

// HasLinks reports whether any nested value of doc is a link reference
// object ({"/": <string>}).
func HasLinks(doc any) bool {
	if _, ok := canonical.LinkTarget(doc); ok {
		return true
	}
	switch t := doc.(type) {
	case map[string]any:
		for _, v := range t {
			if HasLinks(v) {
				return true
			}
		}
	case []any:
		for _, v := range t {
			if HasLinks(v) {
				return true
			}
		}
	}
	return false
}

// FromJSON computes the v1 identifier of a canonicalized JSON document,
// selecting dag-json when the document contains link references and the
// UnixFS dag-pb form otherwise.
func FromJSON(doc any, canonicalBytes []byte) (cid.Cid, error) {
	codec := CodecDagPB
	if HasLinks(doc) {
		codec = CodecDagJSON
	}
	return FromBytes(canonicalBytes, Options{Version: 1, Codec: codec})
}

// ToHashHex extracts the 32-byte SHA-256 digest from id and returns it as a
// 0x-prefixed 64-character hex string. Works for both v0 and v1 identifiers;
// v0 and v1 identifiers over the same bytes extract to the same hex.
func ToHashHex(id cid.Cid) (string, error) {
	decoded, err := multihash.Decode(id.Hash())
	if err != nil {
		return "", fmt.Errorf("cidlink: multihash decode failed: %w", err)
	}
	if decoded.Code != multihash.SHA2_256 || len(decoded.Digest) != 32 {
		return "", &InvalidHashFormatError{
			Input:  id.String(),
			Reason: "identifier does not wrap a 32-byte sha2-256 digest",
		}
	}
	return "0x" + hex.EncodeToString(decoded.Digest), nil
}

// FromHashHex rebuilds an identifier from a 0x-prefixed (or bare) 64-char
// hex digest. Version 1 yields a raw-codec identifier; version 0 yields the
// legacy form. Round trip law: FromHashHex(ToHashHex(id), 1) == id for any
// v1/raw id.
func FromHashHex(hexStr string, version int) (cid.Cid, error) {
	trimmed := strings.TrimPrefix(hexStr, "0x")
	digest, err := hex.DecodeString(trimmed)
	if err != nil {
		return cid.Undef, &InvalidHashFormatError{Input: hexStr, Reason: "not valid hex"}
	}
	if len(digest) != 32 {
		return cid.Undef, &InvalidHashFormatError{
			Input:  hexStr,
			Reason: fmt.Sprintf("digest must be 32 bytes, got %d", len(digest)),
		}
	}
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidlink: multihash encode failed: %w", err)
	}
	switch version {
	case 0:
		return cid.NewCidV0(mh), nil
	case 1:
		return cid.NewCidV1(CodecRaw, mh), nil
	default:
		return cid.Undef, &UnexpectedCidFormError{
			Expected: "version 0 or 1",
			Actual:   fmt.Sprintf("version %d", version),
		}
	}
}

// DecodeExpectV1Raw parses s and requires the v1/raw form, the only form
// accepted for ledger-bound identifiers.
func DecodeExpectV1Raw(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, &InvalidHashFormatError{Input: s, Reason: err.Error()}
	}
	if id.Version() != 1 {
		return cid.Undef, &UnexpectedCidFormError{
			Expected: "v1/raw",
			Actual:   fmt.Sprintf("v%d/%s", id.Version(), codecName(id.Prefix().Codec)),
		}
	}
	if id.Prefix().Codec != CodecRaw {
		return cid.Undef, &UnexpectedCidFormError{
			Expected: "v1/raw",
			Actual:   "v1/" + codecName(id.Prefix().Codec),
		}
	}
	return id, nil
}

// ToV1String renders id in the canonical base32 text form.
func ToV1String(id cid.Cid) (string, error) {
	s, err := id.StringOfBase(multibase.Base32)
	if err != nil {
		return "", fmt.Errorf("cidlink: base32 encode failed: %w", err)
	}
	return s, nil
}
