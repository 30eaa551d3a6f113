// Package validator implements the recursive, memoized token-validity
// predicate over the transaction DAG (spec.md §4.3). A Validator is not
// internally synchronized: concurrent access is the caller's
// responsibility, held by the ingestion pipeline's single-writer lock
// (spec.md §5), matching the C++ source's single processing_mutex guarding
// both gs::slp_validator and gs::txgraph.
package validator

import (
	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// Validator tracks every transaction it has been shown and the subset
// declared token-valid.
type Validator struct {
	transactionMap map[bhash.TxId]rawtx.Transaction
	valid          map[bhash.TxId]struct{}
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{
		transactionMap: make(map[bhash.TxId]rawtx.Transaction),
		valid:          make(map[bhash.TxId]struct{}),
	}
}

// Has reports whether txid has been shown to the validator, valid or not.
func (v *Validator) Has(txid bhash.TxId) bool {
	_, ok := v.transactionMap[txid]
	return ok
}

// HasValid reports whether txid has been declared token-valid.
func (v *Validator) HasValid(txid bhash.TxId) bool {
	_, ok := v.valid[txid]
	return ok
}

// Get returns the transaction known under txid. The second return value is
// false if Has(txid) is false.
func (v *Validator) Get(txid bhash.TxId) (rawtx.Transaction, bool) {
	tx, ok := v.transactionMap[txid]
	return tx, ok
}

// ValidCount returns the number of transactions currently declared valid,
// for telemetry.
func (v *Validator) ValidCount() int { return len(v.valid) }

// AddTx records tx in the transaction map, then decides its validity.
// It returns true iff tx is token-valid. Idempotent: a second call with the
// same txid returns the same boolean without altering validator state
// (spec.md §8).
//
// A transaction that fails validation is never cached as permanently
// invalid -- only entry into `valid` is memoized -- because ingestion order
// is not guaranteed to be topological across the block/mempool boundary
// (spec.md §4.3): a later call, once a missing ancestor has arrived, may
// succeed where an earlier one did not.
func (v *Validator) AddTx(tx rawtx.Transaction) bool {
	v.transactionMap[tx.TxId] = tx

	if _, ok := v.valid[tx.TxId]; ok {
		return true
	}

	return v.evaluate(tx.TxId, make(map[bhash.TxId]struct{}))
}

// evaluate decides the validity of txid, recursing into same-tokenid
// ancestors as needed. inFlight guards against revisiting a node already on
// the current recursion path; the DAG is acyclic by construction (inputs
// reference strictly earlier transactions) but malformed data should never
// be allowed to spin the recursion forever.
func (v *Validator) evaluate(txid bhash.TxId, inFlight map[bhash.TxId]struct{}) bool {
	if _, ok := v.valid[txid]; ok {
		return true
	}
	if _, visiting := inFlight[txid]; visiting {
		return false
	}

	tx, ok := v.transactionMap[txid]
	if !ok {
		return false
	}

	if tx.Slp.Type == rawtx.SlpInvalid {
		return false
	}

	if tx.Slp.Type == rawtx.SlpGenesis {
		v.valid[txid] = struct{}{}
		return true
	}

	inFlight[txid] = struct{}{}
	defer delete(inFlight, txid)

	switch tx.Slp.Type {
	case rawtx.SlpMint:
		if !v.validateMint(tx, inFlight) {
			return false
		}
	case rawtx.SlpSend:
		if !v.validateSend(tx, inFlight) {
			return false
		}
	default:
		return false
	}

	v.valid[txid] = struct{}{}
	return true
}

// validateMint requires at least one input to spend a mint-baton output of
// an earlier, same-tokenid, token-valid transaction. It returns at the first
// such input and does not check whether any other input also spends a baton.
func (v *Validator) validateMint(tx rawtx.Transaction, inFlight map[bhash.TxId]struct{}) bool {
	for _, in := range tx.Inputs {
		parent, ok := v.transactionMap[in.TxId]
		if !ok || parent.Slp.TokenId != tx.Slp.TokenId {
			continue
		}
		if !v.evaluate(in.TxId, inFlight) {
			continue
		}
		if parent.IsMintBaton(in.Vout) {
			return true
		}
	}
	return false
}

// validateSend requires every token-contributing input to come from a
// token-valid transaction, and the conservation law to hold: total consumed
// token amount >= total emitted token amount.
func (v *Validator) validateSend(tx rawtx.Transaction, inFlight map[bhash.TxId]struct{}) bool {
	var consumed uint64
	contributed := false

	for _, in := range tx.Inputs {
		parent, ok := v.transactionMap[in.TxId]
		if !ok || parent.Slp.TokenId != tx.Slp.TokenId {
			continue
		}
		contributed = true
		if !v.evaluate(in.TxId, inFlight) {
			return false
		}
		consumed += parent.OutputTokenAmount(in.Vout)
	}

	if !contributed {
		return false
	}

	var emitted uint64
	for _, amt := range tx.Slp.OutputTokenAmounts {
		emitted += amt
	}

	return consumed >= emitted
}
