// Package txgraph implements the per-token ancestor index: given a
// token-valid transaction, which other token-valid transactions under the
// same tokenid fund it, and how to answer "give me the full ancestry minus
// what the caller already has" (spec.md §4.4), the query light clients use
// to assemble a proof of validity.
package txgraph

import (
	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// GraphNode is one token-valid transaction within a token's bucket. Parents
// are token-contributing ancestors under the same tokenid; a genesis
// transaction has none.
type GraphNode struct {
	TxId        bhash.TxId
	Serialized  []byte
	ParentTxIds []bhash.TxId
}

// Status is the outcome of a GraphSearch query.
type Status int

const (
	OK Status = iota
	NotFound
	NotInTokenGraph
)

// Graph is the append-only, per-tokenid ancestor index. Like Validator, it
// is not internally synchronized -- see package validator's doc comment.
//
// nodesByTxId is a global txid -> tokenid index used to resolve a
// query root without knowing its tokenid up front; buckets holds the
// per-tokenid adjacency used for traversal. The two are always updated
// together by InsertTokenData, so a txid present in one and absent from the
// other indicates a bug rather than normal operation -- exactly the
// invariant violation spec.md §4.4/§7 calls NOT_IN_TOKENGRAPH.
type Graph struct {
	buckets     map[bhash.TokenId]map[bhash.TxId]*GraphNode
	nodesByTxId map[bhash.TxId]bhash.TokenId
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		buckets:     make(map[bhash.TokenId]map[bhash.TxId]*GraphNode),
		nodesByTxId: make(map[bhash.TxId]bhash.TokenId),
	}
}

// InsertTokenData registers a batch of token-valid transactions under
// tokenID. For each tx, its token-contributing parent set (restricted to
// tokenID) is computed and stored as a GraphNode. Idempotent on repeat
// (spec.md §8): re-inserting a known txid is a no-op.
//
// Parents are resolved against the bucket itself: an input is
// token-contributing exactly when its referenced transaction is already a
// node under the same tokenid, whether inserted by an earlier call (a prior
// block, or the live feed) or earlier in this same batch. Callers insert a
// block's worth of newly-valid transactions in topological order, so by the
// time a node's parents are looked up they are present -- spec.md §4.5's
// slpsync_process_block batching invariant.
func (g *Graph) InsertTokenData(tokenID bhash.TokenId, txs []rawtx.Transaction) {
	bucket, ok := g.buckets[tokenID]
	if !ok {
		bucket = make(map[bhash.TxId]*GraphNode)
		g.buckets[tokenID] = bucket
	}

	for _, tx := range txs {
		if _, exists := bucket[tx.TxId]; exists {
			continue
		}
		bucket[tx.TxId] = &GraphNode{
			TxId:        tx.TxId,
			Serialized:  tx.Serialized,
			ParentTxIds: bucketParents(bucket, tx),
		}
		g.nodesByTxId[tx.TxId] = tokenID
	}
}

// bucketParents returns the distinct input txids already present in bucket,
// preserving input order.
func bucketParents(bucket map[bhash.TxId]*GraphNode, tx rawtx.Transaction) []bhash.TxId {
	seen := make(map[bhash.TxId]struct{})
	var parents []bhash.TxId
	for _, in := range tx.Inputs {
		if _, ok := bucket[in.TxId]; !ok {
			continue
		}
		if _, dup := seen[in.TxId]; dup {
			continue
		}
		seen[in.TxId] = struct{}{}
		parents = append(parents, in.TxId)
	}
	return parents
}

// BuildExclusionSet walks the ancestry of rootTxID, inserting each visited
// node's txid into outSet. Returns false iff rootTxID is not known to the
// index. Idempotent and cumulative: callers may invoke it repeatedly with
// different roots to union several exclusion closures into one set.
func (g *Graph) BuildExclusionSet(rootTxID bhash.TxId, outSet map[bhash.TxId]struct{}) bool {
	node, bucket := g.resolve(rootTxID)
	if node == nil {
		return false
	}

	queue := []*GraphNode{node}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, already := outSet[n.TxId]; already {
			continue
		}
		outSet[n.TxId] = struct{}{}
		for _, p := range n.ParentTxIds {
			if parent, ok := bucket[p]; ok {
				queue = append(queue, parent)
			}
		}
	}

	return true
}

// GraphSearch returns the ancestors of rootTxID (inclusive) under its
// tokenid, skipping any node present in exclusionSet, as raw serialized
// transaction bytes. Exclusion is per-node: an excluded node is not emitted
// and its parents are not reached through it, though other paths may still
// reach those same parents (spec.md §4.4, worked example §8.3).
func (g *Graph) GraphSearch(rootTxID bhash.TxId, exclusionSet map[bhash.TxId]struct{}) (Status, [][]byte) {
	tokenID, known := g.nodesByTxId[rootTxID]
	if !known {
		return NotFound, nil
	}
	bucket := g.buckets[tokenID]
	node := bucket[rootTxID]
	if node == nil {
		return NotInTokenGraph, nil
	}

	visited := make(map[bhash.TxId]struct{})
	var out [][]byte

	queue := []*GraphNode{node}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if _, seen := visited[n.TxId]; seen {
			continue
		}
		visited[n.TxId] = struct{}{}

		if _, excluded := exclusionSet[n.TxId]; excluded {
			continue
		}

		out = append(out, n.Serialized)

		for _, p := range n.ParentTxIds {
			if parent, ok := bucket[p]; ok {
				queue = append(queue, parent)
			}
		}
	}

	return OK, out
}

// resolve locates the node for txid and the bucket it lives in, using the
// global index. A non-nil bucket with a nil node means the global index
// named a tokenid whose bucket no longer holds the node -- see the Graph
// doc comment.
func (g *Graph) resolve(txid bhash.TxId) (*GraphNode, map[bhash.TxId]*GraphNode) {
	tokenID, ok := g.nodesByTxId[txid]
	if !ok {
		return nil, nil
	}
	bucket := g.buckets[tokenID]
	return bucket[txid], bucket
}
