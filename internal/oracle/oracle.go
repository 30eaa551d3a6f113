// Package oracle implements the Output Oracle: a schnorr-signed attestation
// that a given UTXO carries a specific SLP token amount, so a wallet can
// trust a single indexer's word about an output's token balance without
// replaying the whole graph itself. The signing scheme mirrors the original
// C++ source's secp256k1_schnorr_sign call, rebuilt here on
// github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr -- the one schnorr
// implementation anywhere in the retrieved corpus.
package oracle

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/pkg/errors"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// Input is everything Sign needs to build the canonical preimage for one
// output. TokenAmount and IsBaton feed the fungible/NFT-group layout;
// GroupId feeds the NFT-child layout (see preimage). Callers build this from
// the validated transaction the outpoint belongs to.
type Input struct {
	TxId        bhash.TxId
	Vout        uint32
	TokenId     bhash.TokenId
	TokenType   uint16
	TokenAmount uint64
	IsBaton     bool
	GroupId     bhash.TokenId
}

// Attestation is the signed statement returned by Sign: outpoint txid:vout
// carries the token balance described by the Input it was built from, per
// the indexer's current graph state at the time of signing.
type Attestation struct {
	TxId      bhash.TxId
	Vout      uint32
	TokenId   bhash.TokenId
	TokenType uint16
	Msg       []byte
	Signature []byte
}

// Oracle holds the signing key used to attest output token balances.
type Oracle struct {
	privKey *secp256k1.PrivateKey
}

// New constructs an Oracle from a 32-byte raw private key, as decoded from
// the [graphsearch] private_key setting of the TOML config.
func New(rawPrivKey []byte) (*Oracle, error) {
	if len(rawPrivKey) != 32 {
		return nil, errors.Errorf("oracle private key must be 32 bytes, got %d", len(rawPrivKey))
	}
	priv := secp256k1.PrivKeyFromBytes(rawPrivKey)
	return &Oracle{privKey: priv}, nil
}

// PublicKey returns the compressed public key wallets use to verify
// attestations produced by this Oracle.
func (o *Oracle) PublicKey() []byte {
	return o.privKey.PubKey().SerializeCompressed()
}

// Sign builds the canonical preimage for in, SHA-256s it, and produces a
// schnorr signature over the digest.
func (o *Oracle) Sign(in Input) (Attestation, error) {
	digest := preimage(in)

	sig, err := schnorr.Sign(o.privKey, digest)
	if err != nil {
		return Attestation{}, errors.Wrap(err, "signing output oracle attestation")
	}

	return Attestation{
		TxId:      in.TxId,
		Vout:      in.Vout,
		TokenId:   in.TokenId,
		TokenType: in.TokenType,
		Msg:       digest,
		Signature: sig.Serialize(),
	}, nil
}

// Verify checks an Attestation against a compressed public key, for use by
// wallets or tests that want to confirm a signature round-trips without
// holding the private key. in must describe the same outpoint the
// Attestation was produced for; Verify recomputes the digest rather than
// trusting a.Msg.
func Verify(pubKeyCompressed []byte, in Input, a Attestation) (bool, error) {
	pub, err := secp256k1.ParsePubKey(pubKeyCompressed)
	if err != nil {
		return false, errors.Wrap(err, "parsing oracle public key")
	}
	sig, err := schnorr.ParseSignature(a.Signature)
	if err != nil {
		return false, errors.Wrap(err, "parsing oracle signature")
	}
	digest := preimage(in)
	return sig.Verify(digest, pub), nil
}

// preimage builds the canonical attestation preimage and returns its
// SHA-256 digest. The layout genuinely differs by token type, mirroring the
// original source's OutputOracle handler: fungible (0x01) and NFT-group
// (0x81) tokens share one layout -- txid || vout || tokenid || tokentype ||
// amount || is_baton -- while NFT-child (0x41) tokens drop the amount and
// is_baton byte entirely and substitute the parent group's token id
// (GroupId, read off the child's first input's referenced transaction) in
// their place. Multi-byte integers are written in the same native
// little-endian layout the source's raw memcpy produces.
func preimage(in Input) []byte {
	var buf []byte
	switch in.TokenType {
	case rawtx.TokenTypeNFTChild:
		buf = make([]byte, 0, bhash.Size+4+bhash.Size+2+bhash.Size)
		buf = append(buf, in.TxId[:]...)
		buf = appendUint32(buf, in.Vout)
		buf = append(buf, in.TokenId[:]...)
		buf = appendUint16(buf, in.TokenType)
		buf = append(buf, in.GroupId[:]...)
	default: // TokenTypeFungible, TokenTypeNFTGroup
		buf = make([]byte, 0, bhash.Size+4+bhash.Size+2+8+1)
		buf = append(buf, in.TxId[:]...)
		buf = appendUint32(buf, in.Vout)
		buf = append(buf, in.TokenId[:]...)
		buf = appendUint16(buf, in.TokenType)
		buf = appendUint64(buf, in.TokenAmount)
		if in.IsBaton {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	digest := sha256.Sum256(buf)
	return digest[:]
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
