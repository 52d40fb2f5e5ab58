package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"

	"github.com/parcelworks/canopy/pkg/canonical"
	"github.com/parcelworks/canopy/pkg/cidlink"
)

// runHashCmd implements `canopy hash`: the canonicalize-and-identify step
// of the pipeline for a single file, without validation or upload.
//
// JSON files are canonicalized first; the codec defaults to the same
// auto-selection the pipeline uses. Non-JSON files hash as raw bytes.
//
// Exit codes:
//
//	0 = identifier computed
//	1 = file unreadable or not hashable with the requested options
//	2 = usage error
func runHashCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hash", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file  string
		codec string
		useV0 bool
	)
	cmd.StringVar(&file, "file", "", "File to hash (REQUIRED)")
	cmd.StringVar(&codec, "codec", "", "Force a codec: raw, dag-pb or dag-json")
	cmd.BoolVar(&useV0, "v0", false, "Emit a legacy version-0 identifier")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	id, err := hashContent(raw, codec, useV0)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, id.String())
	if hex, err := cidlink.ToHashHex(id); err == nil {
		_, _ = fmt.Fprintf(stdout, "digest: %s\n", hex)
	}
	return 0
}

func hashContent(raw []byte, codec string, useV0 bool) (cid.Cid, error) {
	opts := cidlink.Options{Version: 1}
	if useV0 {
		opts.Version = 0
	}
	switch codec {
	case "raw":
		opts.Codec = cidlink.CodecRaw
	case "dag-pb":
		opts.Codec = cidlink.CodecDagPB
	case "dag-json":
		opts.Codec = cidlink.CodecDagJSON
	case "":
	default:
		return cid.Undef, fmt.Errorf("unknown codec %q", codec)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		// Not JSON: hash the raw bytes.
		return cidlink.FromBytes(raw, opts)
	}

	canon, err := canonical.Canonicalize(doc)
	if err != nil {
		return cid.Undef, err
	}
	if codec == "" && !useV0 {
		return cidlink.FromJSON(doc, canon)
	}
	return cidlink.FromBytes(canon, opts)
}
