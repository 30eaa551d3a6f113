// Package ingest drives the indexer's five-phase startup-then-live
// ingestion sequence: replay the on-disk cache, backfill any remaining
// blocks from the upstream node, snapshot and apply the mempool as a
// synthetic block, then switch to the live tx/block subscription feed.
// ProcessBlock/ProcessTx carry the same semantics as the C++ source's
// slpsync_process_block/slpsync_process_tx: a full block's valid
// transactions are inserted into the token graph in one batch per token id,
// while a lone live transaction is inserted as a singleton the moment it
// validates.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/cache"
	"github.com/jcramer/slpgraphsearch/internal/rawblock"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
	"github.com/jcramer/slpgraphsearch/internal/txgraph"
	"github.com/jcramer/slpgraphsearch/internal/upstream"
	"github.com/jcramer/slpgraphsearch/internal/validator"
)

// Publisher is invoked after every live transaction that validates and after
// every block ProcessBlock applies at a known height (upstream backfill and
// the live feed), mirroring the source's ZMQ republish of applied work.
// Blocks replayed from the cache and the mempool snapshot are not
// published. Wiring a
// concrete Publisher (e.g. the TCP fan-out in cmd/gsd) is optional.
type Publisher interface {
	PublishTx(tx rawtx.Transaction)
	PublishBlock(height uint32, block rawblock.Block)
}

// Config carries the pipeline's two ingestion knobs: the base height
// backfill starts from ([utxo] block_height) and whether applied blocks are
// persisted to the on-disk cache ([services] cache).
type Config struct {
	BaseHeight  uint32
	SaveToCache bool
}

// Pipeline owns the single read-write lock shared by the validator and the
// token graph, per spec.md §5: every read (query handlers) and write
// (ingestion) of either structure holds this one lock.
type Pipeline struct {
	mu sync.RWMutex

	validator *validator.Validator
	graph     *txgraph.Graph

	cache    *cache.Store
	upstream upstream.Client

	baseHeight  uint32
	saveToCache bool

	Telemetry Telemetry
	publisher Publisher

	startupProcessingMempool int32 // atomic bool

	// feedMu guards buffering/buffered, the live-feed gate that applyMempoolSnapshot
	// drains: everything the live subscription sees while backfill (phases
	// 1-4) is in flight is buffered here instead of applied, so nothing
	// broadcast during that window is lost (spec.md §4.5).
	feedMu    sync.Mutex
	buffering bool
	buffered  [][]byte

	log zerolog.Logger
}

// New constructs a Pipeline. publisher may be nil.
func New(cfg Config, store *cache.Store, client upstream.Client, publisher Publisher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		validator:   validator.New(),
		graph:       txgraph.New(),
		cache:       store,
		upstream:    client,
		baseHeight:  cfg.BaseHeight,
		saveToCache: cfg.SaveToCache,
		publisher:   publisher,
		log:         log,
	}
}

// StartupProcessingMempool reports whether the startup gate is held: it is
// set when Run begins (before phase 1) and cleared in phase 4 once
// applyMempoolSnapshot drains the live-feed buffer, just before the snapshot
// is applied. Query handlers may surface this transitional state to callers
// expecting a stable graph.
func (p *Pipeline) StartupProcessingMempool() bool {
	return atomic.LoadInt32(&p.startupProcessingMempool) != 0
}

func (p *Pipeline) setStartupProcessingMempool(v bool) {
	var i int32
	if v {
		i = 1
	}
	atomic.StoreInt32(&p.startupProcessingMempool, i)
}

// WithReadLock runs fn holding the shared read lock, for query handlers
// (rpcserver, httpstatus) that need a consistent view of the validator and
// graph for the duration of one request.
func (p *Pipeline) WithReadLock(fn func(v *validator.Validator, g *txgraph.Graph)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.validator, p.graph)
}

// ProcessBlock decodes raw, topologically sorts its transactions, validates
// each in order, and batch-inserts every now-valid transaction into the
// token graph grouped by token id -- one InsertTokenData call per token
// touched in the block, matching slpsync_process_block. If height is
// non-nil and saveToCache is true, the decoded block is written to the
// on-disk cache.
func (p *Pipeline) ProcessBlock(raw []byte, height *uint32, saveToCache bool) error {
	block, err := rawblock.DecodeBlock(raw)
	if err != nil {
		return errors.Wrap(err, "decoding block")
	}

	sorted, err := rawblock.TopologicalSort(block.Txs)
	if err != nil {
		return errors.Wrap(err, "topologically sorting block")
	}
	block.Txs = sorted

	p.mu.Lock()
	byToken := make(map[bhash.TokenId][]rawtx.Transaction)
	for _, tx := range sorted {
		if p.validator.AddTx(tx) && !tx.Slp.TokenId.IsZero() {
			byToken[tx.Slp.TokenId] = append(byToken[tx.Slp.TokenId], tx)
		}
	}
	for tokenID, txs := range byToken {
		p.graph.InsertTokenData(tokenID, txs)
	}
	p.mu.Unlock()

	now := time.Now().Unix()
	p.Telemetry.markIncomingBlock(now, len(raw))
	if height != nil {
		p.Telemetry.setCurrentBlockHeight(*height)
		p.Telemetry.setCurrentBlockHash(block.BlockHash)
		if saveToCache {
			if err := p.cache.Save(*height, block); err != nil {
				p.log.Warn().Err(err).Uint32("height", *height).Msg("failed to cache block")
			}
		}
	}
	p.Telemetry.markOutgoingBlock(now, len(raw))

	if p.publisher != nil && height != nil {
		p.publisher.PublishBlock(*height, block)
	}
	return nil
}

// ProcessTx decodes and validates a single live transaction, inserting it
// into the token graph as a singleton batch if it validates, matching
// slpsync_process_tx.
func (p *Pipeline) ProcessTx(raw []byte) error {
	tx, err := rawtx.DecodeTransaction(raw)
	if err != nil {
		return errors.Wrap(err, "decoding transaction")
	}

	now := time.Now().Unix()
	p.Telemetry.markIncomingTx(now)

	p.mu.Lock()
	valid := p.validator.AddTx(tx)
	if valid && !tx.Slp.TokenId.IsZero() {
		p.graph.InsertTokenData(tx.Slp.TokenId, []rawtx.Transaction{tx})
	}
	p.mu.Unlock()

	p.Telemetry.markOutgoingTx(now)

	if valid && p.publisher != nil {
		p.publisher.PublishTx(tx)
	}
	return nil
}

// Run executes the five ingestion phases in order: replay the on-disk
// cache (phase 1), backfill any remaining blocks from upstream (phase 2),
// snapshot the mempool (phase 3), apply it as a synthetic block (phase 4),
// then switch to the live subscription feed (phase 5) until ctx is
// cancelled. The live subscriptions are opened before phase 1 begins and
// held open for the pipeline's entire lifetime -- runFeed buffers whatever
// they deliver during phases 1-4 instead of dropping it, and
// applyMempoolSnapshot folds the buffer into its synthetic block before
// opening the gate (spec.md §4.5).
func (p *Pipeline) Run(ctx context.Context) error {
	txCh, err := p.upstream.SubscribeRawTransactions(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribing to live transactions")
	}
	blkCh, err := p.upstream.SubscribeRawBlocks(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribing to live blocks")
	}

	p.feedMu.Lock()
	p.buffering = true
	p.feedMu.Unlock()
	p.setStartupProcessingMempool(true)

	feedErrCh := make(chan error, 1)
	go func() { feedErrCh <- p.runFeed(ctx, txCh, blkCh) }()

	height, err := p.backfillFromCache(ctx)
	if err != nil {
		return errors.Wrap(err, "backfilling from cache")
	}

	height, err = p.backfillFromUpstream(ctx, height)
	if err != nil {
		return errors.Wrap(err, "backfilling from upstream")
	}

	if err := p.applyMempoolSnapshot(ctx); err != nil {
		return errors.Wrap(err, "applying mempool snapshot")
	}

	return <-feedErrCh
}

func (p *Pipeline) backfillFromCache(ctx context.Context) (uint32, error) {
	height := p.baseHeight
	for {
		select {
		case <-ctx.Done():
			return height, ctx.Err()
		default:
		}

		block, ok, err := p.cache.Load(height)
		if err != nil {
			return height, errors.Wrapf(err, "loading cached block %d", height)
		}
		if !ok {
			return height, nil
		}

		p.mu.Lock()
		byToken := make(map[bhash.TokenId][]rawtx.Transaction)
		for _, tx := range block.Txs {
			if p.validator.AddTx(tx) && !tx.Slp.TokenId.IsZero() {
				byToken[tx.Slp.TokenId] = append(byToken[tx.Slp.TokenId], tx)
			}
		}
		for tokenID, txs := range byToken {
			p.graph.InsertTokenData(tokenID, txs)
		}
		p.mu.Unlock()

		p.Telemetry.setCurrentBlockHeight(height)
		p.Telemetry.setCurrentBlockHash(block.BlockHash)
		p.log.Debug().Uint32("height", height).Msg("replayed cached block")
		height++
	}
}

func (p *Pipeline) backfillFromUpstream(ctx context.Context, fromHeight uint32) (uint32, error) {
	var best uint32
	err := retry(ctx, 2*time.Second, func() error {
		var err error
		best, err = p.upstream.GetBestBlockHeight(ctx)
		return err
	})
	if err != nil {
		return fromHeight, errors.Wrap(err, "fetching best block height")
	}

	height := fromHeight
	for ; height <= best; height++ {
		var raw []byte
		err := retry(ctx, 2*time.Second, func() error {
			hash, err := p.upstream.GetBlockHash(ctx, height)
			if err != nil {
				return err
			}
			raw, err = p.upstream.GetRawBlock(ctx, hash)
			return err
		})
		if err != nil {
			return height, errors.Wrapf(err, "fetching block %d", height)
		}

		h := height
		if err := p.ProcessBlock(raw, &h, p.saveToCache); err != nil {
			p.log.Warn().Err(err).Uint32("height", height).Msg("failed to decode upstream block, retrying")
			height--
			continue
		}
	}
	return height, nil
}

// applyMempoolSnapshot fetches the upstream mempool, folds in whatever the
// live feed buffered while phases 1-3 were running, and applies the union as
// one synthetic block. Draining the buffer and clearing the buffering gate
// happen under feedMu in the same critical section, so no transaction the
// live feed observes during the handoff is ever silently dropped: it either
// lands in the buffer (still gated) or is handed straight to runFeed for
// direct application (gate already clear), never neither.
func (p *Pipeline) applyMempoolSnapshot(ctx context.Context) error {
	var txids []bhash.TxId
	err := retry(ctx, 2*time.Second, func() error {
		var err error
		txids, err = p.upstream.GetRawMempool(ctx)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "fetching mempool")
	}

	txs := make([]rawtx.Transaction, 0, len(txids))
	seen := make(map[bhash.TxId]struct{}, len(txids))
	for _, txid := range txids {
		var raw []byte
		err := retry(ctx, time.Second, func() error {
			var err error
			raw, err = p.upstream.GetRawTransaction(ctx, txid)
			return err
		})
		if err != nil {
			p.log.Warn().Err(err).Str("txid", txid.String()).Msg("dropping unfetchable mempool tx")
			continue
		}
		tx, err := rawtx.DecodeTransaction(raw)
		if err != nil {
			p.log.Warn().Err(err).Str("txid", txid.String()).Msg("dropping undecodable mempool tx")
			continue
		}
		txs = append(txs, tx)
		seen[tx.TxId] = struct{}{}
	}

	p.feedMu.Lock()
	buffered := p.buffered
	p.buffered = nil
	p.buffering = false
	p.feedMu.Unlock()
	p.setStartupProcessingMempool(false)

	for _, raw := range buffered {
		tx, err := rawtx.DecodeTransaction(raw)
		if err != nil {
			p.log.Warn().Err(err).Msg("dropping undecodable buffered transaction")
			continue
		}
		if _, dup := seen[tx.TxId]; dup {
			continue
		}
		seen[tx.TxId] = struct{}{}
		txs = append(txs, tx)
	}

	sorted, err := rawblock.TopologicalSort(txs)
	if err != nil {
		return errors.Wrap(err, "topologically sorting mempool snapshot")
	}

	p.mu.Lock()
	byToken := make(map[bhash.TokenId][]rawtx.Transaction)
	for _, tx := range sorted {
		if p.validator.AddTx(tx) && !tx.Slp.TokenId.IsZero() {
			byToken[tx.Slp.TokenId] = append(byToken[tx.Slp.TokenId], tx)
		}
	}
	for tokenID, txs := range byToken {
		p.graph.InsertTokenData(tokenID, txs)
	}
	p.mu.Unlock()

	return nil
}

// runFeed consumes the live tx/block subscriptions for the pipeline's
// entire lifetime, from before phase 1 starts through phase 5. While the
// startup buffering gate is held (phases 1-4), incoming transactions are
// buffered for applyMempoolSnapshot to fold into its synthetic block, and
// incoming blocks are dropped -- backfill is already walking the chain
// linearly from upstream, so a block seen here during that window is
// already on its way via backfillFromUpstream. Once the gate clears, both
// are applied directly, matching the live-feed semantics of phase 5.
func (p *Pipeline) runFeed(ctx context.Context, txCh <-chan []byte, blkCh <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-txCh:
			if !ok {
				return errors.New("live transaction feed closed")
			}
			p.feedMu.Lock()
			if p.buffering {
				p.buffered = append(p.buffered, raw)
				p.feedMu.Unlock()
				continue
			}
			p.feedMu.Unlock()
			if err := p.ProcessTx(raw); err != nil {
				p.log.Warn().Err(err).Msg("dropping malformed live transaction")
			}
		case raw, ok := <-blkCh:
			if !ok {
				return errors.New("live block feed closed")
			}
			p.feedMu.Lock()
			buffering := p.buffering
			p.feedMu.Unlock()
			if buffering {
				p.log.Debug().Msg("dropping live block observed during startup backfill")
				continue
			}
			height := p.Telemetry.CurrentBlockHeight() + 1
			if err := p.ProcessBlock(raw, &height, p.saveToCache); err != nil {
				p.log.Warn().Err(err).Msg("dropping malformed live block")
			}
		}
	}
}
