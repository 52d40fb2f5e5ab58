package cidlink

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// UnixFS file layout parameters (kubo defaults).
const (
	// ChunkSize is the maximum payload per leaf node.
	ChunkSize = 256 * 1024
	// MaxLinks bounds the fan-out of interior nodes in the balanced layout.
	MaxLinks = 174
)

const unixFSTypeFile = 2

// node tracks one built dag-pb block while assembling the balanced layout.
type node struct {
	id       cid.Cid
	block    []byte
	tsize    uint64 // encoded size of this block plus its subtree
	dataSize uint64 // file bytes reachable through this node
}

// unixFSBlock returns the dag-pb root block for data laid out as a UnixFS
// file: a single leaf for payloads up to ChunkSize, otherwise a balanced
// tree of 256 KiB chunks with MaxLinks fan-out.
func unixFSBlock(data []byte) ([]byte, error) {
	if len(data) <= ChunkSize {
		leaf, err := leafNode(data)
		if err != nil {
			return nil, err
		}
		return leaf.block, nil
	}

	var level []node
	for off := 0; off < len(data); off += ChunkSize {
		end := off + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		leaf, err := leafNode(data[off:end])
		if err != nil {
			return nil, err
		}
		level = append(level, leaf)
	}

	for len(level) > 1 {
		var next []node
		for i := 0; i < len(level); i += MaxLinks {
			end := i + MaxLinks
			if end > len(level) {
				end = len(level)
			}
			parent, err := interiorNode(level[i:end])
			if err != nil {
				return nil, err
			}
			next = append(next, parent)
		}
		level = next
	}
	return level[0].block, nil
}

func leafNode(chunk []byte) (node, error) {
	meta := encodeUnixFSData(chunk, uint64(len(chunk)), nil)
	block := encodePBNode(meta, nil)
	id, err := blockCid(block)
	if err != nil {
		return node{}, err
	}
	return node{
		id:       id,
		block:    block,
		tsize:    uint64(len(block)),
		dataSize: uint64(len(chunk)),
	}, nil
}

func interiorNode(children []node) (node, error) {
	var (
		total      uint64
		blocksizes []uint64
		links      []pbLink
	)
	for _, c := range children {
		total += c.dataSize
		blocksizes = append(blocksizes, c.dataSize)
		links = append(links, pbLink{hash: c.id.Bytes(), tsize: c.tsize})
	}
	meta := encodeUnixFSData(nil, total, blocksizes)
	block := encodePBNode(meta, links)
	id, err := blockCid(block)
	if err != nil {
		return node{}, err
	}
	n := node{id: id, block: block, dataSize: total, tsize: uint64(len(block))}
	for _, c := range children {
		n.tsize += c.tsize
	}
	return n, nil
}

func blockCid(block []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(block, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidlink: multihash failed: %w", err)
	}
	return cid.NewCidV1(CodecDagPB, mh), nil
}

type pbLink struct {
	hash  []byte
	name  string
	tsize uint64
}

// Protobuf wire helpers. Only the two fixed message shapes used by the
// UnixFS file layout are encoded, so a full protobuf runtime is not needed.

func appendVarintField(buf []byte, field, value uint64) []byte {
	buf = append(buf, varint.ToUvarint(field<<3)...)
	return append(buf, varint.ToUvarint(value)...)
}

func appendBytesField(buf []byte, field uint64, value []byte) []byte {
	buf = append(buf, varint.ToUvarint(field<<3|2)...)
	buf = append(buf, varint.ToUvarint(uint64(len(value)))...)
	return append(buf, value...)
}

// encodeUnixFSData encodes the UnixFS Data message:
// Type=1 (File), Data=2, filesize=3, blocksizes=4.
func encodeUnixFSData(payload []byte, filesize uint64, blocksizes []uint64) []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, unixFSTypeFile)
	if len(payload) > 0 {
		buf = appendBytesField(buf, 2, payload)
	}
	buf = appendVarintField(buf, 3, filesize)
	for _, bs := range blocksizes {
		buf = appendVarintField(buf, 4, bs)
	}
	return buf
}

// encodePBNode encodes the dag-pb PBNode message. Links (field 2) are
// written before Data (field 1), matching the historical dag-pb byte
// layout.
func encodePBNode(data []byte, links []pbLink) []byte {
	var buf []byte
	for _, l := range links {
		var lb []byte
		lb = appendBytesField(lb, 1, l.hash)
		lb = appendBytesField(lb, 2, []byte(l.name))
		lb = appendVarintField(lb, 3, l.tsize)
		buf = appendBytesField(buf, 2, lb)
	}
	if data != nil {
		buf = appendBytesField(buf, 1, data)
	}
	return buf
}
