// Package rawtx decodes raw chain transactions and extracts their SLP token
// payload. Decode failure is reserved for structurally broken transactions;
// a transaction whose first output carries no recognizable SLP payload still
// decodes successfully with Slp.Type == Invalid.
package rawtx

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
)

// SlpType enumerates the token-layer transaction kinds a payload can declare.
type SlpType int

const (
	// SlpInvalid means the payload is absent, malformed, or not a
	// recognized SLP transaction type. Such transactions are ignored by
	// the validator.
	SlpInvalid SlpType = iota
	SlpGenesis
	SlpMint
	SlpSend
)

func (t SlpType) String() string {
	switch t {
	case SlpGenesis:
		return "genesis"
	case SlpMint:
		return "mint"
	case SlpSend:
		return "send"
	default:
		return "invalid"
	}
}

// Canonical SLP token-type values. The original C++ source additionally
// checked 0x081 and 0x041 (an extra leading bit) alongside 0x01/0x81/0x41 --
// per spec.md Open Questions, those look like source bugs. This rewrite
// recognizes only the canonical values.
const (
	TokenTypeFungible = 0x01
	TokenTypeNFTGroup = 0x81
	TokenTypeNFTChild = 0x41
)

// SlpPayload is the decoded token payload carried by a transaction's first
// output, if any.
type SlpPayload struct {
	Type               SlpType
	TokenType          uint16
	TokenId            bhash.TokenId
	OutputTokenAmounts []uint64 // index i corresponds to output i+1
	MintBatonVout      *uint32
}

// TxOutput is one output of a transaction.
type TxOutput struct {
	Value  uint64
	Script []byte
}

// Transaction is a fully decoded chain transaction plus its SLP payload.
type Transaction struct {
	TxId       bhash.TxId
	Serialized []byte
	Inputs     []bhash.Outpoint
	Outputs    []TxOutput
	Slp        SlpPayload
}

// OutputTokenAmount returns the token amount carried by output vout, or 0 if
// vout is output 0 (the payload output) or beyond the declared amounts.
func (tx Transaction) OutputTokenAmount(vout uint32) uint64 {
	if vout == 0 || int(vout-1) >= len(tx.Slp.OutputTokenAmounts) {
		return 0
	}
	return tx.Slp.OutputTokenAmounts[vout-1]
}

// IsMintBaton reports whether vout is this transaction's mint baton output.
func (tx Transaction) IsMintBaton(vout uint32) bool {
	return tx.Slp.MintBatonVout != nil && *tx.Slp.MintBatonVout == vout
}

// DecodeTransaction parses a raw transaction blob. It returns an error only
// for structurally broken input; an unrecognized or absent SLP payload is
// reported via Slp.Type == SlpInvalid with a nil error.
func DecodeTransaction(raw []byte) (Transaction, error) {
	tx, n, err := DecodeNextTransaction(raw)
	if err != nil {
		return Transaction{}, err
	}
	if n != len(raw) {
		return Transaction{}, errors.Errorf("%d trailing bytes after transaction", len(raw)-n)
	}
	return tx, nil
}

// DecodeNextTransaction parses the transaction at the front of raw,
// returning it and the number of bytes it occupies. Transactions inside a
// block are concatenated with no per-transaction framing, so callers
// walking a block's payload use the returned length to find the next
// boundary.
func DecodeNextTransaction(raw []byte) (Transaction, int, error) {
	r := bytes.NewReader(raw)

	if _, err := readUint32(r); err != nil { // version
		return Transaction{}, 0, errors.Wrap(err, "reading version")
	}

	inCount, err := readVarInt(r)
	if err != nil {
		return Transaction{}, 0, errors.Wrap(err, "reading input count")
	}

	inputs := make([]bhash.Outpoint, 0, inCount)
	for i := uint64(0); i < inCount; i++ {
		var prevTxId [32]byte
		if _, err := io.ReadFull(r, prevTxId[:]); err != nil {
			return Transaction{}, 0, errors.Wrap(err, "reading input prev txid")
		}
		vout, err := readUint32(r)
		if err != nil {
			return Transaction{}, 0, errors.Wrap(err, "reading input vout")
		}
		if _, err := readVarBytes(r); err != nil { // scriptSig, unused by the token layer
			return Transaction{}, 0, errors.Wrap(err, "reading input script")
		}
		if _, err := readUint32(r); err != nil { // sequence
			return Transaction{}, 0, errors.Wrap(err, "reading input sequence")
		}
		inputs = append(inputs, bhash.Outpoint{TxId: bhash.TxId(prevTxId), Vout: vout})
	}

	outCount, err := readVarInt(r)
	if err != nil {
		return Transaction{}, 0, errors.Wrap(err, "reading output count")
	}

	outputs := make([]TxOutput, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		value, err := readUint64(r)
		if err != nil {
			return Transaction{}, 0, errors.Wrap(err, "reading output value")
		}
		script, err := readVarBytes(r)
		if err != nil {
			return Transaction{}, 0, errors.Wrap(err, "reading output script")
		}
		outputs = append(outputs, TxOutput{Value: value, Script: script})
	}

	if _, err := readUint32(r); err != nil { // locktime
		return Transaction{}, 0, errors.Wrap(err, "reading locktime")
	}

	consumed := len(raw) - r.Len()
	ser := raw[:consumed]

	var slp SlpPayload
	if len(outputs) > 0 {
		slp = ParseSlp(outputs[0].Script)
	} else {
		slp = SlpPayload{Type: SlpInvalid}
	}

	txid := computeTxId(ser)
	if slp.Type == SlpGenesis {
		// A genesis transaction defines a new token id equal to its own
		// txid; ParseSlp has no way to know that txid while it only sees
		// the output script, so it's filled in here.
		slp.TokenId = bhash.TokenId(txid)
	}

	return Transaction{
		TxId:       txid,
		Serialized: append([]byte(nil), ser...),
		Inputs:     inputs,
		Outputs:    outputs,
		Slp:        slp,
	}, consumed, nil
}

func computeTxId(raw []byte) bhash.TxId {
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	return bhash.TxId(second)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// readVarInt reads a CompactSize-encoded integer as used throughout the
// chain's wire serialization.
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
		v, err := readUint32(r)
		return uint64(v), err
	case 0xff:
		return readUint64(r)
	default:
		return uint64(prefix[0]), nil
	}
}

func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
