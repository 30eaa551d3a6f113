// Package upstream defines the capability the core depends on from the raw
// block/transaction source -- an upstream full node -- without committing to
// either transport flavor the source historically supported. Exactly one
// implementation (jsonrpc or bchdgrpc) is selected at startup, per
// spec.md §6 and §9's "dynamic-dispatch upstream client" design note.
package upstream

import (
	"context"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
)

// Client is the six-query-plus-two-subscription capability set every
// upstream flavor must provide.
type Client interface {
	GetBestBlockHeight(ctx context.Context) (uint32, error)
	GetBlockHash(ctx context.Context, height uint32) (bhash.BlockHash, error)
	GetRawBlock(ctx context.Context, hash bhash.BlockHash) ([]byte, error)
	GetRawTransaction(ctx context.Context, txid bhash.TxId) ([]byte, error)
	GetRawMempool(ctx context.Context) ([]bhash.TxId, error)

	// SubscribeRawTransactions returns a channel of raw transaction bytes.
	// The channel is closed when ctx is cancelled or the underlying stream
	// ends.
	SubscribeRawTransactions(ctx context.Context) (<-chan []byte, error)

	// SubscribeRawBlocks returns a channel of raw block bytes.
	SubscribeRawBlocks(ctx context.Context) (<-chan []byte, error)
}
