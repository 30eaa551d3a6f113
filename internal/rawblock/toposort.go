package rawblock

import (
	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// TopologicalSort reorders txs so that for every transaction B that spends
// an output of transaction A within the same set, A precedes B. Ties among
// simultaneously-ready transactions are broken by original position, so the
// sort is stable for transactions with no in-block dependency between them.
//
// Implements Kahn's algorithm: build the in-block dependency graph (edge
// A -> B iff B spends an output of A), then repeatedly emit the
// lowest-original-index node with no remaining unsatisfied dependency.
func TopologicalSort(txs []rawtx.Transaction) ([]rawtx.Transaction, error) {
	n := len(txs)
	indexOf := make(map[bhash.TxId]int, n)
	for i, tx := range txs {
		indexOf[tx.TxId] = i
	}

	children := make([][]int, n)
	inDegree := make([]int, n)
	seenEdge := make([]map[int]bool, n)
	for i := range seenEdge {
		seenEdge[i] = make(map[int]bool)
	}

	for i, tx := range txs {
		for _, in := range tx.Inputs {
			parent, ok := indexOf[in.TxId]
			if !ok || parent == i {
				continue
			}
			if seenEdge[parent][i] {
				continue
			}
			seenEdge[parent][i] = true
			children[parent] = append(children[parent], i)
			inDegree[i]++
		}
	}

	ready := newIndexHeap()
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			ready.push(i)
		}
	}

	sorted := make([]rawtx.Transaction, 0, n)
	for ready.len() > 0 {
		i := ready.pop()
		sorted = append(sorted, txs[i])
		for _, c := range children[i] {
			inDegree[c]--
			if inDegree[c] == 0 {
				ready.push(c)
			}
		}
	}

	if len(sorted) != n {
		return nil, ErrCyclicBlock
	}

	return sorted, nil
}

// indexHeap is a minimal ascending-order ready queue: among transactions
// with no outstanding in-block dependency, always emit the one with the
// smallest original index first, so unrelated transactions keep their
// original relative order.
type indexHeap struct {
	items []int
}

func newIndexHeap() *indexHeap { return &indexHeap{} }

func (h *indexHeap) len() int { return len(h.items) }

func (h *indexHeap) push(i int) {
	pos := len(h.items)
	h.items = append(h.items, i)
	for pos > 0 {
		parent := (pos - 1) / 2
		if h.items[parent] <= h.items[pos] {
			break
		}
		h.items[parent], h.items[pos] = h.items[pos], h.items[parent]
		pos = parent
	}
}

func (h *indexHeap) pop() int {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]

	pos := 0
	for {
		left, right := 2*pos+1, 2*pos+2
		smallest := pos
		if left < len(h.items) && h.items[left] < h.items[smallest] {
			smallest = left
		}
		if right < len(h.items) && h.items[right] < h.items[smallest] {
			smallest = right
		}
		if smallest == pos {
			break
		}
		h.items[pos], h.items[smallest] = h.items[smallest], h.items[pos]
		pos = smallest
	}

	return top
}
