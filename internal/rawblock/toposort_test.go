package rawblock

import (
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

func indexOf(txs []rawtx.Transaction, id bhash.TxId) int {
	for i, tx := range txs {
		if tx.TxId == id {
			return i
		}
	}
	return -1
}

// A child placed before its in-block parent is moved after it.
func TestTopologicalSortOrdersParentBeforeChild(t *testing.T) {
	parent := rawtx.Transaction{TxId: fakeTxId(1)}
	child := rawtx.Transaction{TxId: fakeTxId(2), Inputs: []bhash.Outpoint{{TxId: parent.TxId}}}

	sorted, err := TopologicalSort([]rawtx.Transaction{child, parent})
	require.NoError(t, err)

	assert.Less(t, indexOf(sorted, parent.TxId), indexOf(sorted, child.TxId))
}

// Transactions with no in-block dependency on one another keep their
// original relative order (stable tie-break by original position).
func TestTopologicalSortIsStableForUnrelatedTransactions(t *testing.T) {
	a := rawtx.Transaction{TxId: fakeTxId(1)}
	b := rawtx.Transaction{TxId: fakeTxId(2)}
	c := rawtx.Transaction{TxId: fakeTxId(3)}

	sorted, err := TopologicalSort([]rawtx.Transaction{c, a, b})
	require.NoError(t, err)

	assert.Equal(t, []bhash.TxId{c.TxId, a.TxId, b.TxId}, []bhash.TxId{sorted[0].TxId, sorted[1].TxId, sorted[2].TxId})
}

// A multi-level chain sorts fully: grandparent, parent, child in order.
func TestTopologicalSortHandlesTransitiveChain(t *testing.T) {
	grandparent := rawtx.Transaction{TxId: fakeTxId(1)}
	parent := rawtx.Transaction{TxId: fakeTxId(2), Inputs: []bhash.Outpoint{{TxId: grandparent.TxId}}}
	child := rawtx.Transaction{TxId: fakeTxId(3), Inputs: []bhash.Outpoint{{TxId: parent.TxId}}}

	sorted, err := TopologicalSort([]rawtx.Transaction{child, parent, grandparent})
	require.NoError(t, err)

	assert.Equal(t, []bhash.TxId{grandparent.TxId, parent.TxId, child.TxId},
		[]bhash.TxId{sorted[0].TxId, sorted[1].TxId, sorted[2].TxId})
}

// An input referencing a txid outside the block (already confirmed
// elsewhere) is not a cycle and does not block sorting.
func TestTopologicalSortIgnoresOutOfBlockInputs(t *testing.T) {
	outside := fakeTxId(9)
	tx := rawtx.Transaction{TxId: fakeTxId(1), Inputs: []bhash.Outpoint{{TxId: outside}}}

	sorted, err := TopologicalSort([]rawtx.Transaction{tx})
	require.NoError(t, err)
	assert.Len(t, sorted, 1)
}

// A genuine in-block cycle is rejected as malformed (impossible for a block
// accepted by chain consensus, but the decoder must not spin forever on
// adversarial input).
func TestTopologicalSortRejectsCycle(t *testing.T) {
	a := rawtx.Transaction{TxId: fakeTxId(1), Inputs: []bhash.Outpoint{{TxId: fakeTxId(2)}}}
	b := rawtx.Transaction{TxId: fakeTxId(2), Inputs: []bhash.Outpoint{{TxId: fakeTxId(1)}}}

	_, err := TopologicalSort([]rawtx.Transaction{a, b})
	assert.ErrorIs(t, err, ErrCyclicBlock)
}
