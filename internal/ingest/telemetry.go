package ingest

import (
	"sync/atomic"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
)

// Telemetry holds the Status endpoint's counters. Every field is written by
// exactly one goroutine (the ingestion worker) and read by many (query
// handlers), so atomic scalar access suffices -- no locking, per spec.md §5's
// counter discipline. currentBlockHash is the one non-scalar cursor and uses
// atomic.Value for the same single-writer/many-reader reason.
type Telemetry struct {
	currentBlockHeight int64        // atomic
	currentBlockHash   atomic.Value // bhash.BlockHash

	lastIncomingTxUnix  int64 // atomic
	lastOutgoingTxUnix  int64 // atomic
	lastIncomingBlkUnix int64 // atomic
	lastOutgoingBlkUnix int64 // atomic

	lastIncomingBlkSize int64 // atomic
	lastOutgoingBlkSize int64 // atomic
}

func (t *Telemetry) CurrentBlockHeight() uint32 {
	return uint32(atomic.LoadInt64(&t.currentBlockHeight))
}

func (t *Telemetry) setCurrentBlockHeight(h uint32) {
	atomic.StoreInt64(&t.currentBlockHeight, int64(h))
}

// CurrentBlockHash returns the hash of the most recently processed block,
// the zero hash before any block has been processed (spec.md §3/§5's
// current_block_hash cursor).
func (t *Telemetry) CurrentBlockHash() bhash.BlockHash {
	v, _ := t.currentBlockHash.Load().(bhash.BlockHash)
	return v
}

func (t *Telemetry) setCurrentBlockHash(h bhash.BlockHash) {
	t.currentBlockHash.Store(h)
}

func (t *Telemetry) LastIncomingTxUnix() int64  { return atomic.LoadInt64(&t.lastIncomingTxUnix) }
func (t *Telemetry) LastOutgoingTxUnix() int64  { return atomic.LoadInt64(&t.lastOutgoingTxUnix) }
func (t *Telemetry) LastIncomingBlkUnix() int64 { return atomic.LoadInt64(&t.lastIncomingBlkUnix) }
func (t *Telemetry) LastOutgoingBlkUnix() int64 { return atomic.LoadInt64(&t.lastOutgoingBlkUnix) }
func (t *Telemetry) LastIncomingBlkSize() int64 { return atomic.LoadInt64(&t.lastIncomingBlkSize) }
func (t *Telemetry) LastOutgoingBlkSize() int64 { return atomic.LoadInt64(&t.lastOutgoingBlkSize) }

func (t *Telemetry) markIncomingTx(unixNow int64) {
	atomic.StoreInt64(&t.lastIncomingTxUnix, unixNow)
}

func (t *Telemetry) markOutgoingTx(unixNow int64) {
	atomic.StoreInt64(&t.lastOutgoingTxUnix, unixNow)
}

func (t *Telemetry) markIncomingBlock(unixNow int64, size int) {
	atomic.StoreInt64(&t.lastIncomingBlkUnix, unixNow)
	atomic.StoreInt64(&t.lastIncomingBlkSize, int64(size))
}

func (t *Telemetry) markOutgoingBlock(unixNow int64, size int) {
	atomic.StoreInt64(&t.lastOutgoingBlkUnix, unixNow)
	atomic.StoreInt64(&t.lastOutgoingBlkSize, int64(size))
}
