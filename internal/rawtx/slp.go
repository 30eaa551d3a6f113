package rawtx

import (
	"encoding/binary"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
)

// slpLokadPrefix identifies an SLP OP_RETURN payload.
var slpLokadPrefix = []byte("SLP\x00")

const opReturn = 0x6a

// ParseSlp decodes the structured token payload carried in an output 0
// script, per spec.md §4.1: a decode failure here is never surfaced as a
// transaction decode error, only as SlpPayload{Type: SlpInvalid}.
func ParseSlp(script []byte) SlpPayload {
	invalid := SlpPayload{Type: SlpInvalid}

	if len(script) == 0 || script[0] != opReturn {
		return invalid
	}

	chunks, ok := splitPushes(script[1:])
	if !ok || len(chunks) < 3 {
		return invalid
	}

	if string(chunks[0]) != string(slpLokadPrefix) {
		return invalid
	}

	tokenType, ok := parseTokenType(chunks[1])
	if !ok {
		return invalid
	}

	switch string(chunks[2]) {
	case "GENESIS":
		return parseGenesis(chunks, tokenType)
	case "MINT":
		return parseMint(chunks, tokenType)
	case "SEND":
		return parseSend(chunks, tokenType)
	default:
		return invalid
	}
}

// parseTokenType decodes the 1- or 2-byte token-type field and accepts only
// the canonical values (0x01 fungible, 0x81 NFT group, 0x41 NFT child) --
// anything else renders the payload invalid.
func parseTokenType(b []byte) (uint16, bool) {
	var v uint16
	switch len(b) {
	case 1:
		v = uint16(b[0])
	case 2:
		v = binary.BigEndian.Uint16(b)
	default:
		return 0, false
	}
	switch v {
	case TokenTypeFungible, TokenTypeNFTGroup, TokenTypeNFTChild:
		return v, true
	default:
		return 0, false
	}
}

// parseGenesis expects: lokad, token_type, "GENESIS", ticker, name,
// document_url, document_hash, decimals, mint_baton_vout, initial_qty.
func parseGenesis(chunks [][]byte, tokenType uint16) SlpPayload {
	if len(chunks) < 10 {
		return SlpPayload{Type: SlpInvalid}
	}

	qty, ok := parseU64(chunks[9])
	if !ok {
		return SlpPayload{Type: SlpInvalid}
	}

	var baton *uint32
	if v, ok := parseMintBatonVout(chunks[8]); ok {
		baton = &v
	}

	return SlpPayload{
		Type:               SlpGenesis,
		TokenType:          tokenType,
		OutputTokenAmounts: []uint64{qty},
		MintBatonVout:      baton,
	}
}

// parseMint expects: lokad, token_type, "MINT", token_id, mint_baton_vout,
// additional_qty.
func parseMint(chunks [][]byte, tokenType uint16) SlpPayload {
	if len(chunks) < 6 {
		return SlpPayload{Type: SlpInvalid}
	}
	if len(chunks[3]) != bhash.Size {
		return SlpPayload{Type: SlpInvalid}
	}

	qty, ok := parseU64(chunks[5])
	if !ok {
		return SlpPayload{Type: SlpInvalid}
	}

	var baton *uint32
	if v, ok := parseMintBatonVout(chunks[4]); ok {
		baton = &v
	}

	return SlpPayload{
		Type:               SlpMint,
		TokenType:          tokenType,
		TokenId:            bhash.TokenIdFromBytes(chunks[3]),
		OutputTokenAmounts: []uint64{qty},
		MintBatonVout:      baton,
	}
}

// parseSend expects: lokad, token_type, "SEND", token_id, amount...
func parseSend(chunks [][]byte, tokenType uint16) SlpPayload {
	if len(chunks) < 5 {
		return SlpPayload{Type: SlpInvalid}
	}
	if len(chunks[3]) != bhash.Size {
		return SlpPayload{Type: SlpInvalid}
	}

	amounts := make([]uint64, 0, len(chunks)-4)
	for _, c := range chunks[4:] {
		qty, ok := parseU64(c)
		if !ok {
			return SlpPayload{Type: SlpInvalid}
		}
		amounts = append(amounts, qty)
	}

	return SlpPayload{
		Type:               SlpSend,
		TokenType:          tokenType,
		TokenId:            bhash.TokenIdFromBytes(chunks[3]),
		OutputTokenAmounts: amounts,
	}
}

func parseU64(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// parseMintBatonVout interprets the push-data mint-baton-vout field: an
// empty chunk means "no baton", a single byte is the vout number.
func parseMintBatonVout(b []byte) (uint32, bool) {
	if len(b) == 0 {
		return 0, false
	}
	if len(b) == 1 {
		return uint32(b[0]), true
	}
	return 0, false
}

// splitPushes walks a sequence of push opcodes (as used after OP_RETURN in
// an SLP payload) and returns each pushed chunk in order. ok is false if the
// script contains anything other than a run of push operations.
func splitPushes(script []byte) ([][]byte, bool) {
	var chunks [][]byte
	i := 0
	for i < len(script) {
		op := script[i]
		i++
		var length int
		switch {
		case op >= 0x01 && op <= 0x4b:
			length = int(op)
		case op == 0x4c: // OP_PUSHDATA1
			if i+1 > len(script) {
				return nil, false
			}
			length = int(script[i])
			i++
		case op == 0x4d: // OP_PUSHDATA2
			if i+2 > len(script) {
				return nil, false
			}
			length = int(binary.LittleEndian.Uint16(script[i : i+2]))
			i += 2
		case op == 0x4e: // OP_PUSHDATA4
			if i+4 > len(script) {
				return nil, false
			}
			length = int(binary.LittleEndian.Uint32(script[i : i+4]))
			i += 4
		case op == 0x00: // OP_0 pushes an empty chunk
			chunks = append(chunks, []byte{})
			continue
		default:
			return nil, false
		}
		if i+length > len(script) {
			return nil, false
		}
		chunks = append(chunks, script[i:i+length])
		i += length
	}
	return chunks, true
}
