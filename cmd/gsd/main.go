// Command gsd is the SLP token graph-search indexer daemon: it ingests
// blocks and mempool transactions from a single upstream node, maintains
// the token validity/ancestry graph in memory, and serves graph-search
// queries over gRPC and a companion HTTP status surface. Wiring follows the
// teacher's apiserver/main.go idiom: parse config, connect dependencies in
// order, start servers, spawn the ingestion loop, then block on
// signal.InterruptListener for a graceful shutdown.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/jcramer/slpgraphsearch/internal/cache"
	"github.com/jcramer/slpgraphsearch/internal/config"
	"github.com/jcramer/slpgraphsearch/internal/httpstatus"
	"github.com/jcramer/slpgraphsearch/internal/ingest"
	"github.com/jcramer/slpgraphsearch/internal/logging"
	"github.com/jcramer/slpgraphsearch/internal/oracle"
	"github.com/jcramer/slpgraphsearch/internal/publish"
	"github.com/jcramer/slpgraphsearch/internal/rawblock"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
	"github.com/jcramer/slpgraphsearch/internal/rpcserver"
	"github.com/jcramer/slpgraphsearch/internal/signal"
	"github.com/jcramer/slpgraphsearch/internal/upstream"
	"github.com/jcramer/slpgraphsearch/internal/upstream/bchdgrpc"
	"github.com/jcramer/slpgraphsearch/internal/upstream/jsonrpc"
	"github.com/jcramer/slpgraphsearch/internal/utxodb"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing configuration: %s\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.Logging.Dir, cfg.Logging.Level, cfg.Logging.MaxSize, cfg.Logging.MaxFiles); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing logging: %s\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	log := logging.Get(logging.TagIngest)

	client, err := dialUpstream(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to upstream node")
		os.Exit(1)
	}

	store := cache.New(cfg.Cache.Dir)

	var utxoStore *utxodb.Store
	if cfg.Services.UtxoSync {
		utxoStore, err = utxodb.Open(utxodb.Config{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			User:           cfg.Database.User,
			Pass:           cfg.Database.Pass,
			Name:           cfg.Database.Name,
			MigrateURL:     cfg.Database.MigrateURL,
			CheckpointLoad: cfg.Utxo.CheckpointLoad,
			CheckpointSave: cfg.Utxo.CheckpointSave,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to open utxo database")
			os.Exit(1)
		}
		defer utxoStore.Close()
	}

	var publishers []ingest.Publisher
	if cfg.Services.ZmqPub && cfg.ZmqPub.Bind != "" {
		fanout := publish.New(logging.Get(logging.TagIngest))
		if err := fanout.Serve(cfg.ZmqPub.Bind); err != nil {
			log.Error().Err(err).Msg("failed to start publish fan-out")
			os.Exit(1)
		}
		publishers = append(publishers, fanout)
	}
	if utxoStore != nil {
		publishers = append(publishers, utxodb.NewSync(utxoStore, logging.Get(logging.TagUtxoDB)))
	}

	pipeline := ingest.New(ingest.Config{
		BaseHeight:  cfg.Utxo.BlockHeight,
		SaveToCache: cfg.Services.Cache,
	}, store, client, combinePublishers(publishers), log)

	var oracleInst *oracle.Oracle
	if cfg.GraphSearch.PrivateKey != "" {
		rawKey, err := hex.DecodeString(cfg.GraphSearch.PrivateKey)
		if err != nil {
			log.Error().Err(err).Msg("failed to decode oracle private key")
			os.Exit(1)
		}
		oracleInst, err = oracle.New(rawKey)
		if err != nil {
			log.Error().Err(err).Msg("failed to construct output oracle")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Services.Grpc || cfg.Services.GraphSearchRpc {
		rpcServer := rpcserver.New(pipeline, oracleInst, utxoStore, cfg.GraphSearch.MaxExclusionSetSize, logging.Get(logging.TagRpc))
		go func() {
			addr := fmt.Sprintf("%s:%d", cfg.Grpc.Host, cfg.Grpc.Port)
			if err := rpcServer.Serve(ctx, addr); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("rpc server exited")
			}
		}()
	}

	httpServer := httpstatus.New(pipeline, logging.Get(logging.TagHttp))
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Http.Host, cfg.Http.Port)
		if err := httpServer.Serve(ctx, addr); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("http status server exited")
		}
	}()

	ingestDone := make(chan error, 1)
	go func() { ingestDone <- pipeline.Run(ctx) }()

	interrupt := signal.InterruptListener()
	select {
	case <-interrupt:
		log.Info().Msg("received shutdown signal")
		cancel()
		<-ingestDone
	case err := <-ingestDone:
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("ingestion pipeline exited unexpectedly")
		}
		cancel()
	}

	if utxoStore != nil {
		if err := utxoStore.SaveCheckpoint(); err != nil {
			log.Error().Err(err).Msg("failed to save utxo checkpoint")
		}
	}
}

// dialUpstream constructs the configured upstream.Client implementation:
// the BCHD streaming-gRPC flavor when [services] bchd_grpc is set, the
// bitcoind JSON-RPC flavor otherwise.
func dialUpstream(cfg *config.Config) (upstream.Client, error) {
	if cfg.Services.BchdGrpc {
		return bchdgrpc.Dial(cfg.Bchd)
	}
	return jsonrpc.New(cfg.Bitcoind), nil
}

// multiPublisher fans one ingest.Publisher callback out to several
// (the TCP broadcast and the UTXO sync can both be active).
type multiPublisher []ingest.Publisher

func (m multiPublisher) PublishTx(tx rawtx.Transaction) {
	for _, p := range m {
		p.PublishTx(tx)
	}
}

func (m multiPublisher) PublishBlock(height uint32, block rawblock.Block) {
	for _, p := range m {
		p.PublishBlock(height, block)
	}
}

func combinePublishers(ps []ingest.Publisher) ingest.Publisher {
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	default:
		return multiPublisher(ps)
	}
}
