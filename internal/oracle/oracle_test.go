package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

func testOracle(t *testing.T, seed byte) *Oracle {
	t.Helper()
	key := make([]byte, 32)
	key[31] = seed
	o, err := New(key)
	require.NoError(t, err)
	return o
}

func fakeHash32(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	h[31] = b
	return h
}

// A fungible (0x01) attestation signs and verifies, and its signature
// depends on the is_baton bit -- two attestations for the same outpoint that
// differ only in is_baton must not collide.
func TestSignVerifyFungibleRoundTrips(t *testing.T) {
	o := testOracle(t, 1)
	in := Input{
		TxId:        bhash.TxId(fakeHash32(1)),
		Vout:        2,
		TokenId:     bhash.TokenId(fakeHash32(2)),
		TokenType:   rawtx.TokenTypeFungible,
		TokenAmount: 1000,
		IsBaton:     false,
	}

	att, err := o.Sign(in)
	require.NoError(t, err)

	ok, err := Verify(o.PublicKey(), in, att)
	require.NoError(t, err)
	assert.True(t, ok)

	batonIn := in
	batonIn.IsBaton = true
	batonAtt, err := o.Sign(batonIn)
	require.NoError(t, err)
	assert.NotEqual(t, att.Msg, batonAtt.Msg, "is_baton must affect the signed digest")
}

// An NFT-child (0x41) attestation drops the amount entirely and signs the
// group id instead; two attestations differing only in TokenAmount must
// produce the same digest, while differing group ids must not.
func TestSignNFTChildIgnoresAmountUsesGroupId(t *testing.T) {
	o := testOracle(t, 1)
	base := Input{
		TxId:      bhash.TxId(fakeHash32(3)),
		Vout:      0,
		TokenId:   bhash.TokenId(fakeHash32(4)),
		TokenType: rawtx.TokenTypeNFTChild,
		GroupId:   bhash.TokenId(fakeHash32(5)),
	}

	withAmount := base
	withAmount.TokenAmount = 99999

	attBase, err := o.Sign(base)
	require.NoError(t, err)
	attWithAmount, err := o.Sign(withAmount)
	require.NoError(t, err)
	assert.Equal(t, attBase.Msg, attWithAmount.Msg, "amount must not affect the NFT-child preimage")

	ok, err := Verify(o.PublicKey(), base, attBase)
	require.NoError(t, err)
	assert.True(t, ok)

	differentGroup := base
	differentGroup.GroupId = bhash.TokenId(fakeHash32(6))
	attDifferentGroup, err := o.Sign(differentGroup)
	require.NoError(t, err)
	assert.NotEqual(t, attBase.Msg, attDifferentGroup.Msg)
}

// NFT-group (0x81) tokens share the fungible/amount layout, not the
// NFT-child one.
func TestSignNFTGroupUsesAmountLayout(t *testing.T) {
	o := testOracle(t, 1)
	fungible := Input{
		TxId:        bhash.TxId(fakeHash32(7)),
		Vout:        1,
		TokenId:     bhash.TokenId(fakeHash32(8)),
		TokenType:   rawtx.TokenTypeFungible,
		TokenAmount: 42,
	}
	nftGroup := fungible
	nftGroup.TokenType = rawtx.TokenTypeNFTGroup

	attFungible, err := o.Sign(fungible)
	require.NoError(t, err)
	attGroup, err := o.Sign(nftGroup)
	require.NoError(t, err)

	assert.NotEqual(t, attFungible.Msg, attGroup.Msg, "tokentype is part of the preimage even when the layout is shared")

	groupOtherAmount := nftGroup
	groupOtherAmount.TokenAmount = 43
	attGroupOtherAmount, err := o.Sign(groupOtherAmount)
	require.NoError(t, err)
	assert.NotEqual(t, attGroup.Msg, attGroupOtherAmount.Msg, "amount must affect the NFT-group preimage")
}

// Verify rejects a signature produced by a different key.
func TestVerifyRejectsWrongKey(t *testing.T) {
	o := testOracle(t, 1)
	other := testOracle(t, 2)
	in := Input{
		TxId:        bhash.TxId(fakeHash32(9)),
		Vout:        0,
		TokenId:     bhash.TokenId(fakeHash32(10)),
		TokenType:   rawtx.TokenTypeFungible,
		TokenAmount: 1,
	}
	att, err := o.Sign(in)
	require.NoError(t, err)

	ok, err := Verify(other.PublicKey(), in, att)
	require.NoError(t, err)
	assert.False(t, ok)
}
