// Package rawblock decodes raw blocks and provides the topological sort that
// the ingestion pipeline relies on: every parent transaction must precede
// its children within a block before the validator sees them.
package rawblock

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// headerSize is the fixed portion of a block header preceding the
// transaction count (version, prev hash, merkle root, time, bits, nonce).
const headerSize = 4 + 32 + 32 + 4 + 4 + 4

// Block is a parsed block. The header fields are carried through verbatim
// so EncodeBlock can round-trip the exact bytes DecodeBlock hashed to produce BlockHash -- the on-disk
// cache relies on this (spec.md §8).
type Block struct {
	BlockHash     bhash.BlockHash
	Version       uint32
	PrevBlockHash bhash.BlockHash
	MerkleRoot    bhash.BlockHash
	Time          uint32
	Bits          uint32
	Nonce         uint32
	Txs           []rawtx.Transaction
}

// ErrCyclicBlock is returned by TopologicalSort when a block's in-block
// dependency graph contains a cycle. The chain's consensus rules make this
// impossible for a block accepted by the network; seeing it indicates
// malformed input.
var ErrCyclicBlock = errors.New("cyclic in-block transaction dependency")

// DecodeBlock parses a raw block in the chain's canonical serialization:
// the fixed header, a varint transaction count, then the transactions
// concatenated with no per-transaction framing -- each one's boundary is
// found by decoding it. The same layout is what EncodeBlock produces, so
// one decoder parses both upstream chain blocks and the on-disk cache. It
// does not sort the result -- callers that need topological order call
// TopologicalSort explicitly, per spec.md §4.5 (the pipeline sorts
// upstream-fetched blocks but not blocks already known to be sorted, e.g.
// ones read back from the cache).
func DecodeBlock(raw []byte) (Block, error) {
	if len(raw) < headerSize {
		return Block{}, errors.Errorf("block header truncated: %d bytes", len(raw))
	}

	header := raw[:headerSize]
	version := binary.LittleEndian.Uint32(header[0:4])
	prevBlockHash := bhash.BlockHashFromBytes(header[4:36])
	merkleRoot := bhash.BlockHashFromBytes(header[36:68])
	blockTime := binary.LittleEndian.Uint32(header[68:72])
	bits := binary.LittleEndian.Uint32(header[72:76])
	nonce := binary.LittleEndian.Uint32(header[76:80])

	r := bytes.NewReader(raw[headerSize:])
	txCount, err := readVarInt(r)
	if err != nil {
		return Block{}, errors.Wrap(err, "reading tx count")
	}
	offset := len(raw) - r.Len()

	txs := make([]rawtx.Transaction, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx, n, err := rawtx.DecodeNextTransaction(raw[offset:])
		if err != nil {
			return Block{}, errors.Wrapf(err, "decoding tx %d", i)
		}
		offset += n
		txs = append(txs, tx)
	}

	if offset != len(raw) {
		return Block{}, errors.Errorf("%d trailing bytes after block", len(raw)-offset)
	}

	return Block{
		BlockHash:     doubleSha(header),
		Version:       version,
		PrevBlockHash: prevBlockHash,
		MerkleRoot:    merkleRoot,
		Time:          blockTime,
		Bits:          bits,
		Nonce:         nonce,
		Txs:           txs,
	}, nil
}

// EncodeBlock re-serializes a block for the on-disk cache, in the same
// canonical layout DecodeBlock parses: every header field that feeds
// BlockHash is written back (not just MerkleRoot), then the varint tx
// count, then each transaction's verbatim bytes.
func EncodeBlock(b Block) []byte {
	var buf bytes.Buffer

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], b.Version)
	copy(header[4:36], b.PrevBlockHash[:])
	copy(header[36:68], b.MerkleRoot[:])
	binary.LittleEndian.PutUint32(header[68:72], b.Time)
	binary.LittleEndian.PutUint32(header[72:76], b.Bits)
	binary.LittleEndian.PutUint32(header[76:80], b.Nonce)
	buf.Write(header[:])

	writeVarInt(&buf, uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		buf.Write(tx.Serialized)
	}

	return buf.Bytes()
}

func doubleSha(b []byte) bhash.BlockHash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return bhash.BlockHash(second)
}

func readVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	switch prefix[0] {
	case 0xfd:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case 0xfe:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case 0xff:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return uint64(prefix[0]), nil
	}
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xfd:
		buf.WriteByte(byte(v))
	case v <= 0xffff:
		buf.WriteByte(0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case v <= 0xffffffff:
		buf.WriteByte(0xfe)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	default:
		buf.WriteByte(0xff)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
}
