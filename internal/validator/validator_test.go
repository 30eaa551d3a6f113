package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// fakeTxId builds a distinct TxId for test fixtures without going through
// the decoder -- these tests exercise the validity predicate directly, not
// wire decoding (that's internal/rawtx's job).
func fakeTxId(b byte) bhash.TxId {
	var id bhash.TxId
	id[0] = b
	id[31] = b
	return id
}

func genesisTx(txid bhash.TxId, qty uint64) rawtx.Transaction {
	return rawtx.Transaction{
		TxId:       txid,
		Serialized: []byte{byte(txid[0])},
		Slp: rawtx.SlpPayload{
			Type:               rawtx.SlpGenesis,
			TokenId:            bhash.TokenId(txid),
			OutputTokenAmounts: []uint64{qty},
		},
	}
}

func sendTx(txid bhash.TxId, tokenID bhash.TokenId, inputs []bhash.Outpoint, amounts []uint64) rawtx.Transaction {
	return rawtx.Transaction{
		TxId:       txid,
		Serialized: []byte{byte(txid[0])},
		Inputs:     inputs,
		Slp: rawtx.SlpPayload{
			Type:               rawtx.SlpSend,
			TokenId:            tokenID,
			OutputTokenAmounts: amounts,
		},
	}
}

// Scenario 1 (spec.md §8): a genesis transaction validates in isolation.
func TestGenesisValidatesInIsolation(t *testing.T) {
	v := New()
	g := genesisTx(fakeTxId(1), 100)

	assert.True(t, v.AddTx(g))
	assert.True(t, v.HasValid(g.TxId))
	assert.True(t, v.Has(g.TxId))
}

// Scenario 2: a linear send chain G -> S1 -> S2 all validate.
func TestLinearSendChainValidates(t *testing.T) {
	v := New()
	g := genesisTx(fakeTxId(1), 100)
	require.True(t, v.AddTx(g))

	s1 := sendTx(fakeTxId(2), g.Slp.TokenId, []bhash.Outpoint{{TxId: g.TxId, Vout: 1}}, []uint64{60})
	require.True(t, v.AddTx(s1))

	s2 := sendTx(fakeTxId(3), g.Slp.TokenId, []bhash.Outpoint{{TxId: s1.TxId, Vout: 1}}, []uint64{30})
	assert.True(t, v.AddTx(s2))

	assert.True(t, v.HasValid(g.TxId))
	assert.True(t, v.HasValid(s1.TxId))
	assert.True(t, v.HasValid(s2.TxId))
}

// Scenario 5: a send claiming one more token unit than its inputs carry is
// rejected, by exactly one satoshi of token quantity.
func TestConservationViolationByOneUnitRejected(t *testing.T) {
	v := New()
	g := genesisTx(fakeTxId(1), 100)
	require.True(t, v.AddTx(g))

	s1 := sendTx(fakeTxId(2), g.Slp.TokenId, []bhash.Outpoint{{TxId: g.TxId, Vout: 1}}, []uint64{101})
	assert.False(t, v.AddTx(s1))
	assert.False(t, v.HasValid(s1.TxId))
}

// A send spending exactly what it received (the boundary case) still
// validates.
func TestConservationExactMatchValidates(t *testing.T) {
	v := New()
	g := genesisTx(fakeTxId(1), 100)
	require.True(t, v.AddTx(g))

	s1 := sendTx(fakeTxId(2), g.Slp.TokenId, []bhash.Outpoint{{TxId: g.TxId, Vout: 1}}, []uint64{100})
	assert.True(t, v.AddTx(s1))
}

// Scenario 6: applying S2 before S1 fails for missing ancestors; once S1
// arrives and is re-applied, S2 re-evaluated afterward succeeds too.
func TestOutOfOrderArrivalRecoversOnReevaluation(t *testing.T) {
	v := New()
	g := genesisTx(fakeTxId(1), 100)
	require.True(t, v.AddTx(g))

	s1 := sendTx(fakeTxId(2), g.Slp.TokenId, []bhash.Outpoint{{TxId: g.TxId, Vout: 1}}, []uint64{60})
	s2 := sendTx(fakeTxId(3), g.Slp.TokenId, []bhash.Outpoint{{TxId: s1.TxId, Vout: 1}}, []uint64{30})

	assert.False(t, v.AddTx(s2), "s2 should fail: s1 hasn't been shown to the validator yet")
	assert.True(t, v.AddTx(s1))
	assert.True(t, v.AddTx(s2), "s2 should now succeed once s1 is known and valid")

	assert.True(t, v.HasValid(g.TxId))
	assert.True(t, v.HasValid(s1.TxId))
	assert.True(t, v.HasValid(s2.TxId))
}

// AddTx is idempotent: a repeat call returns the same boolean and does not
// change the valid set's membership.
func TestAddTxIsIdempotent(t *testing.T) {
	v := New()
	g := genesisTx(fakeTxId(1), 100)

	first := v.AddTx(g)
	countAfterFirst := v.ValidCount()
	second := v.AddTx(g)

	assert.Equal(t, first, second)
	assert.Equal(t, countAfterFirst, v.ValidCount())
}

// A mint is valid only when one of its inputs spends the mint baton of an
// earlier, same-token, token-valid transaction.
func TestMintRequiresValidBatonInput(t *testing.T) {
	v := New()
	batonVout := uint32(2)
	g := genesisTx(fakeTxId(1), 100)
	g.Slp.MintBatonVout = &batonVout
	require.True(t, v.AddTx(g))

	mint := rawtx.Transaction{
		TxId:       fakeTxId(2),
		Serialized: []byte{2},
		Inputs:     []bhash.Outpoint{{TxId: g.TxId, Vout: batonVout}},
		Slp: rawtx.SlpPayload{
			Type:               rawtx.SlpMint,
			TokenId:            g.Slp.TokenId,
			OutputTokenAmounts: []uint64{50},
		},
	}
	assert.True(t, v.AddTx(mint))
}

func TestMintWithoutBatonInputRejected(t *testing.T) {
	v := New()
	g := genesisTx(fakeTxId(1), 100) // no mint baton declared
	require.True(t, v.AddTx(g))

	mint := rawtx.Transaction{
		TxId:       fakeTxId(2),
		Serialized: []byte{2},
		Inputs:     []bhash.Outpoint{{TxId: g.TxId, Vout: 1}},
		Slp: rawtx.SlpPayload{
			Type:               rawtx.SlpMint,
			TokenId:            g.Slp.TokenId,
			OutputTokenAmounts: []uint64{50},
		},
	}
	assert.False(t, v.AddTx(mint))
}

// An invalid-type transaction is never valid, regardless of ancestry.
func TestInvalidTypeNeverValidates(t *testing.T) {
	v := New()
	tx := rawtx.Transaction{TxId: fakeTxId(1), Slp: rawtx.SlpPayload{Type: rawtx.SlpInvalid}}
	assert.False(t, v.AddTx(tx))
	assert.True(t, v.Has(tx.TxId), "invalid transactions are still recorded in the transaction map")
	assert.False(t, v.HasValid(tx.TxId))
}

// A send with no token-contributing input at all never validates, even if
// its declared amounts are zero.
func TestSendWithNoTokenContributingInputRejected(t *testing.T) {
	v := New()
	tx := sendTx(fakeTxId(1), bhash.TokenId(fakeTxId(9)), nil, []uint64{0})
	assert.False(t, v.AddTx(tx))
}
