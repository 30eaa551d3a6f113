package utxodb

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/rawblock"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// Sync keeps the UTXO table current as the ingestion pipeline applies work:
// it implements ingest.Publisher, consuming each applied transaction and
// block by deleting spent outpoints and upserting created outputs. Failures
// here are logged and dropped -- the table is a peripheral index, never a
// gate on ingestion.
type Sync struct {
	store *Store
	log   zerolog.Logger
}

// NewSync wraps store as an ingest.Publisher.
func NewSync(store *Store, log zerolog.Logger) *Sync {
	return &Sync{store: store, log: log}
}

// PublishTx implements ingest.Publisher.
func (s *Sync) PublishTx(tx rawtx.Transaction) {
	s.applyTx(tx)
}

// PublishBlock implements ingest.Publisher.
func (s *Sync) PublishBlock(height uint32, block rawblock.Block) {
	for _, tx := range block.Txs {
		s.applyTx(tx)
	}
}

func (s *Sync) applyTx(tx rawtx.Transaction) {
	ctx := context.Background()
	for _, in := range tx.Inputs {
		if err := s.store.Delete(ctx, in); err != nil {
			s.log.Warn().Err(err).Str("txid", tx.TxId.String()).Msg("failed to delete spent utxo")
		}
	}
	for vout, out := range tx.Outputs {
		outpoint := bhash.Outpoint{TxId: tx.TxId, Vout: uint32(vout)}
		if err := s.store.Upsert(ctx, outpoint, out.Value, out.Script); err != nil {
			s.log.Warn().Err(err).Str("txid", tx.TxId.String()).Msg("failed to upsert utxo")
		}
	}
}
