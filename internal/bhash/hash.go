// Package bhash defines the fixed-size identifier types shared across the
// token indexer: transaction ids, block hashes, and token ids. All three are
// plain 32-byte arrays in network byte order; the reverse-hex display form
// follows the chain's historical convention.
package bhash

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// Size is the byte length of every hash type in this package.
const Size = 32

// TxId identifies a transaction: the double-SHA-256 of its serialized form.
type TxId [Size]byte

// BlockHash identifies a block header.
type BlockHash [Size]byte

// TokenId identifies an SLP token. It equals the TxId of that token's
// genesis transaction.
type TokenId [Size]byte

// String returns the reverse-hex display form (the chain's RPC convention).
func (h TxId) String() string { return reverseHex(h[:]) }

// String returns the reverse-hex display form.
func (h BlockHash) String() string { return reverseHex(h[:]) }

// String returns the reverse-hex display form.
func (h TokenId) String() string { return reverseHex(h[:]) }

// Hex returns the network-byte-order hex encoding (no byte reversal), the
// form used on the wire and in serialized transactions.
func (h TxId) Hex() string { return hex.EncodeToString(h[:]) }

// Hex returns the network-byte-order hex encoding.
func (h BlockHash) Hex() string { return hex.EncodeToString(h[:]) }

// Hex returns the network-byte-order hex encoding.
func (h TokenId) Hex() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero txid.
func (h TxId) IsZero() bool { return h == TxId{} }

// IsZero reports whether h is the all-zero token id, the sentinel a
// non-SLP or malformed transaction's SlpPayload carries.
func (h TokenId) IsZero() bool { return h == TokenId{} }

func reverseHex(b []byte) string {
	rev := make([]byte, len(b))
	for i, c := range b {
		rev[len(b)-1-i] = c
	}
	return hex.EncodeToString(rev)
}

// TxIdFromDisplayString parses the reverse-hex display form used in RPC
// requests and responses (e.g. a txid string the wallet would show a user).
func TxIdFromDisplayString(s string) (TxId, error) {
	b, err := decodeReverse(s)
	if err != nil {
		return TxId{}, err
	}
	var out TxId
	copy(out[:], b)
	return out, nil
}

// BlockHashFromDisplayString parses the reverse-hex display form.
func BlockHashFromDisplayString(s string) (BlockHash, error) {
	b, err := decodeReverse(s)
	if err != nil {
		return BlockHash{}, err
	}
	var out BlockHash
	copy(out[:], b)
	return out, nil
}

// TokenIdFromDisplayString parses the reverse-hex display form.
func TokenIdFromDisplayString(s string) (TokenId, error) {
	b, err := decodeReverse(s)
	if err != nil {
		return TokenId{}, err
	}
	var out TokenId
	copy(out[:], b)
	return out, nil
}

func decodeReverse(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decoding hash hex")
	}
	if len(b) != Size {
		return nil, errors.Errorf("hash must be %d bytes, got %d", Size, len(b))
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b, nil
}

// TxIdFromBytes constructs a TxId from a network-order byte slice. Length is
// not checked: a shorter b leaves the trailing bytes zero and a longer b is
// truncated to Size, so callers are expected to have validated length
// upstream (e.g. via the decoder).
func TxIdFromBytes(b []byte) TxId {
	var out TxId
	copy(out[:], b)
	return out
}

// BlockHashFromBytes constructs a BlockHash from a network-order byte slice.
func BlockHashFromBytes(b []byte) BlockHash {
	var out BlockHash
	copy(out[:], b)
	return out
}

// TokenIdFromBytes constructs a TokenId from a network-order byte slice.
func TokenIdFromBytes(b []byte) TokenId {
	var out TokenId
	copy(out[:], b)
	return out
}

// Outpoint identifies one output of one transaction.
type Outpoint struct {
	TxId TxId
	Vout uint32
}
