package txgraph

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

func fakeTxId(b byte) bhash.TxId {
	var id bhash.TxId
	id[0] = b
	id[31] = b
	return id
}

// markers collapses a [][]byte result into a set of first-byte markers for
// order-independent comparison -- GraphSearch's ordering is unspecified
// (spec.md §4.4), callers treat the result as a set.
func markers(raws [][]byte) []byte {
	out := make([]byte, 0, len(raws))
	for _, r := range raws {
		out = append(out, r[0])
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Scenario 2 (spec.md §8): a linear send chain G -> S1 -> S2. GraphSearch(S2)
// returns all three.
func TestGraphSearchLinearChain(t *testing.T) {
	g := New()
	tokenID := bhash.TokenId(fakeTxId(1))

	gTx := rawtx.Transaction{TxId: fakeTxId(1), Serialized: []byte{1}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	s1 := rawtx.Transaction{TxId: fakeTxId(2), Serialized: []byte{2}, Inputs: []bhash.Outpoint{{TxId: gTx.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	s2 := rawtx.Transaction{TxId: fakeTxId(3), Serialized: []byte{3}, Inputs: []bhash.Outpoint{{TxId: s1.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}

	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx, s1, s2})

	status, raws := g.GraphSearch(s2.TxId, nil)
	require.Equal(t, OK, status)
	assert.Equal(t, []byte{1, 2, 3}, markers(raws))
}

// Scenario 3: excluding the mid-node S1 cuts off the path to G, even though
// G itself is not excluded.
func TestGraphSearchExcludedMidNodeCutsOffAncestor(t *testing.T) {
	g := New()
	tokenID := bhash.TokenId(fakeTxId(1))

	gTx := rawtx.Transaction{TxId: fakeTxId(1), Serialized: []byte{1}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	s1 := rawtx.Transaction{TxId: fakeTxId(2), Serialized: []byte{2}, Inputs: []bhash.Outpoint{{TxId: gTx.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	s2 := rawtx.Transaction{TxId: fakeTxId(3), Serialized: []byte{3}, Inputs: []bhash.Outpoint{{TxId: s1.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}

	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx, s1, s2})

	exclude := map[bhash.TxId]struct{}{s1.TxId: {}}
	status, raws := g.GraphSearch(s2.TxId, exclude)
	require.Equal(t, OK, status)
	assert.Equal(t, []byte{3}, markers(raws))
}

// Scenario 4: a diamond G -> A, G -> B, C spends both A and B. G must appear
// exactly once in the result, not twice.
func TestGraphSearchDiamondDedupes(t *testing.T) {
	g := New()
	tokenID := bhash.TokenId(fakeTxId(1))

	gTx := rawtx.Transaction{TxId: fakeTxId(1), Serialized: []byte{1}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	a := rawtx.Transaction{TxId: fakeTxId(2), Serialized: []byte{2}, Inputs: []bhash.Outpoint{{TxId: gTx.TxId, Vout: 1}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	b := rawtx.Transaction{TxId: fakeTxId(3), Serialized: []byte{3}, Inputs: []bhash.Outpoint{{TxId: gTx.TxId, Vout: 2}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	c := rawtx.Transaction{TxId: fakeTxId(4), Serialized: []byte{4}, Inputs: []bhash.Outpoint{{TxId: a.TxId}, {TxId: b.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}

	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx, a, b, c})

	status, raws := g.GraphSearch(c.TxId, nil)
	require.Equal(t, OK, status)
	assert.Equal(t, []byte{1, 2, 3, 4}, markers(raws))
}

// An unknown root yields NotFound, never a panic or empty-OK.
func TestGraphSearchUnknownRootNotFound(t *testing.T) {
	g := New()
	status, raws := g.GraphSearch(fakeTxId(99), nil)
	assert.Equal(t, NotFound, status)
	assert.Nil(t, raws)
}

// InsertTokenData is idempotent: re-inserting an already-known txid leaves
// the bucket unchanged.
func TestInsertTokenDataIsIdempotent(t *testing.T) {
	g := New()
	tokenID := bhash.TokenId(fakeTxId(1))
	gTx := rawtx.Transaction{TxId: fakeTxId(1), Serialized: []byte{1}, Slp: rawtx.SlpPayload{TokenId: tokenID}}

	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx})
	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx})

	status, raws := g.GraphSearch(gTx.TxId, nil)
	require.Equal(t, OK, status)
	assert.Len(t, raws, 1)
}

// A singleton insert (the live-feed path) must resolve its parents against
// nodes inserted by earlier batches, not only its own batch: S2 arrives
// alone after G and S1 were indexed from a block, and GraphSearch(S2) still
// reaches all three.
func TestInsertTokenDataResolvesParentsAcrossBatches(t *testing.T) {
	g := New()
	tokenID := bhash.TokenId(fakeTxId(1))

	gTx := rawtx.Transaction{TxId: fakeTxId(1), Serialized: []byte{1}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	s1 := rawtx.Transaction{TxId: fakeTxId(2), Serialized: []byte{2}, Inputs: []bhash.Outpoint{{TxId: gTx.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	s2 := rawtx.Transaction{TxId: fakeTxId(3), Serialized: []byte{3}, Inputs: []bhash.Outpoint{{TxId: s1.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}

	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx, s1})
	g.InsertTokenData(tokenID, []rawtx.Transaction{s2})

	status, raws := g.GraphSearch(s2.TxId, nil)
	require.Equal(t, OK, status)
	assert.Equal(t, []byte{1, 2, 3}, markers(raws))
}

// An input referencing a transaction outside the bucket (a non-token or
// other-token funding input) contributes no parent edge.
func TestInsertTokenDataIgnoresNonBucketInputs(t *testing.T) {
	g := New()
	tokenID := bhash.TokenId(fakeTxId(1))

	gTx := rawtx.Transaction{TxId: fakeTxId(1), Serialized: []byte{1}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	s1 := rawtx.Transaction{
		TxId:       fakeTxId(2),
		Serialized: []byte{2},
		Inputs:     []bhash.Outpoint{{TxId: gTx.TxId}, {TxId: fakeTxId(50)}},
		Slp:        rawtx.SlpPayload{TokenId: tokenID},
	}

	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx, s1})

	status, raws := g.GraphSearch(s1.TxId, nil)
	require.Equal(t, OK, status)
	assert.Equal(t, []byte{1, 2}, markers(raws))
}

// BuildExclusionSet walks the same ancestry GraphSearch would, and
// accumulates across repeated calls with different roots.
func TestBuildExclusionSetAccumulatesAcrossRoots(t *testing.T) {
	g := New()
	tokenID := bhash.TokenId(fakeTxId(1))

	gTx := rawtx.Transaction{TxId: fakeTxId(1), Serialized: []byte{1}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	a := rawtx.Transaction{TxId: fakeTxId(2), Serialized: []byte{2}, Inputs: []bhash.Outpoint{{TxId: gTx.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}
	b := rawtx.Transaction{TxId: fakeTxId(3), Serialized: []byte{3}, Inputs: []bhash.Outpoint{{TxId: gTx.TxId}}, Slp: rawtx.SlpPayload{TokenId: tokenID}}

	g.InsertTokenData(tokenID, []rawtx.Transaction{gTx, a, b})

	exclusion := make(map[bhash.TxId]struct{})
	require.True(t, g.BuildExclusionSet(a.TxId, exclusion))
	require.True(t, g.BuildExclusionSet(b.TxId, exclusion))

	assert.Contains(t, exclusion, gTx.TxId)
	assert.Contains(t, exclusion, a.TxId)
	assert.Contains(t, exclusion, b.TxId)

	ok := g.BuildExclusionSet(fakeTxId(77), exclusion)
	assert.False(t, ok)
}
