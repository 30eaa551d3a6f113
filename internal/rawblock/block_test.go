package rawblock

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// buildRawBlock assembles a minimal wire-encoded block: an 80-byte header
// with distinct, non-zero values in every field (so a test that zeroes any
// of them by mistake fails), followed by one plain non-SLP transaction.
func buildRawBlock(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	var version [4]byte
	binary.LittleEndian.PutUint32(version[:], 0x20000000)
	buf.Write(version[:])

	prevHash := bytes.Repeat([]byte{0xab}, 32)
	buf.Write(prevHash)

	merkleRoot := bytes.Repeat([]byte{0xcd}, 32)
	buf.Write(merkleRoot)

	var blockTime [4]byte
	binary.LittleEndian.PutUint32(blockTime[:], 1_700_000_000)
	buf.Write(blockTime[:])

	var bits [4]byte
	binary.LittleEndian.PutUint32(bits[:], 0x1d00ffff)
	buf.Write(bits[:])

	var nonce [4]byte
	binary.LittleEndian.PutUint32(nonce[:], 0x12345678)
	buf.Write(nonce[:])

	buf.WriteByte(1) // one transaction
	buf.Write(buildRawTx(t))

	return buf.Bytes()
}

// buildRawTx serializes a minimal, non-SLP transaction in the wire format
// rawtx.DecodeTransaction parses.
func buildRawTx(t *testing.T) []byte {
	t.Helper()
	return buildRawTxSpending(t, nil)
}

// buildRawTxSpending serializes a one-output transaction spending each of
// the given outpoints (none for a coinbase-like transaction).
func buildRawTxSpending(t *testing.T, prevTxIds [][32]byte) []byte {
	t.Helper()
	var buf bytes.Buffer

	var version [4]byte
	binary.LittleEndian.PutUint32(version[:], 1)
	buf.Write(version[:])

	buf.WriteByte(byte(len(prevTxIds)))
	for _, prev := range prevTxIds {
		buf.Write(prev[:])
		var vout [4]byte
		binary.LittleEndian.PutUint32(vout[:], 0)
		buf.Write(vout[:])
		buf.WriteByte(0) // empty scriptSig
		buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}

	buf.WriteByte(1) // one output
	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], 546)
	buf.Write(value[:])
	script := []byte{0x76, 0xa9}
	buf.WriteByte(byte(len(script)))
	buf.Write(script)

	var locktime [4]byte
	buf.Write(locktime[:])

	return buf.Bytes()
}

// A chain block carries its transactions concatenated with no
// per-transaction framing; the decoder must find each boundary by decoding
// the transaction itself. Two transactions, the second spending the first,
// must both come back with the txids they'd have when decoded alone.
func TestDecodeBlockParsesConcatenatedTransactions(t *testing.T) {
	tx1 := buildRawTx(t)
	decoded1, err := rawtx.DecodeTransaction(tx1)
	require.NoError(t, err)

	tx2 := buildRawTxSpending(t, [][32]byte{decoded1.TxId})
	decoded2, err := rawtx.DecodeTransaction(tx2)
	require.NoError(t, err)

	var buf bytes.Buffer
	raw := buildRawBlock(t)
	buf.Write(raw[:len(raw)-1-len(tx1)]) // header, without the tx count byte
	buf.WriteByte(2)
	buf.Write(tx1)
	buf.Write(tx2)

	block, err := DecodeBlock(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, block.Txs, 2)
	assert.Equal(t, decoded1.TxId, block.Txs[0].TxId)
	assert.Equal(t, decoded2.TxId, block.Txs[1].TxId)
	require.Len(t, block.Txs[1].Inputs, 1)
	assert.Equal(t, decoded1.TxId, block.Txs[1].Inputs[0].TxId)
}

// A block whose payload holds more bytes than its transaction count
// accounts for is malformed.
func TestDecodeBlockRejectsTrailingBytes(t *testing.T) {
	raw := append(buildRawBlock(t), 0xff)
	_, err := DecodeBlock(raw)
	assert.Error(t, err)
}

// A block decoded from the chain, cached via EncodeBlock, then loaded back
// via DecodeBlock, must produce the same BlockHash -- spec.md §8's
// block.decode(block.serialize(b)) = b invariant. Losing any header field
// along the way (version, prev hash, time, bits, or nonce) changes the
// rehashed header and breaks this.
func TestEncodeDecodeRoundTripPreservesBlockHash(t *testing.T) {
	raw := buildRawBlock(t)

	original, err := DecodeBlock(raw)
	require.NoError(t, err)

	reencoded := EncodeBlock(original)
	roundTripped, err := DecodeBlock(reencoded)
	require.NoError(t, err)

	assert.Equal(t, original.BlockHash, roundTripped.BlockHash)
	assert.Equal(t, original.Version, roundTripped.Version)
	assert.Equal(t, original.PrevBlockHash, roundTripped.PrevBlockHash)
	assert.Equal(t, original.MerkleRoot, roundTripped.MerkleRoot)
	assert.Equal(t, original.Time, roundTripped.Time)
	assert.Equal(t, original.Bits, roundTripped.Bits)
	assert.Equal(t, original.Nonce, roundTripped.Nonce)
	require.Len(t, roundTripped.Txs, 1)
	assert.Equal(t, original.Txs[0].TxId, roundTripped.Txs[0].TxId)
}
