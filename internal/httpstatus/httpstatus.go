// Package httpstatus exposes the indexer's Status payload as
// human-readable JSON for operators, in the teacher's gorilla/mux routing
// idiom (daglabs-btcd/apiserver/server). Every corpus repo pairing an RPC
// surface with a thin debug/status HTTP surface does it this way, so the
// query surface carries one too even though spec.md scopes the outward
// surface around the gRPC-style query methods.
package httpstatus

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jcramer/slpgraphsearch/internal/ingest"
)

// Server serves the HTTP debug surface over a shared ingestion pipeline.
type Server struct {
	pipeline *ingest.Pipeline
	log      zerolog.Logger
}

// New constructs a Server.
func New(pipeline *ingest.Pipeline, log zerolog.Logger) *Server {
	return &Server{pipeline: pipeline, log: log}
}

// Serve blocks accepting HTTP connections on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	httpServer := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serving http status")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, map[string]string{"service": "slpgraphsearch"})
}

type statusPayload struct {
	CurrentBlockHeight       uint32 `json:"current_block_height"`
	CurrentBlockHash         string `json:"current_block_hash"`
	StartupProcessingMempool bool   `json:"startup_processing_mempool"`
	LastIncomingTxUnix       int64  `json:"last_incoming_tx_unix"`
	LastOutgoingTxUnix       int64  `json:"last_outgoing_tx_unix"`
	LastIncomingBlkUnix      int64  `json:"last_incoming_blk_unix"`
	LastOutgoingBlkUnix      int64  `json:"last_outgoing_blk_unix"`
	LastIncomingBlkSize      int64  `json:"last_incoming_blk_size"`
	LastOutgoingBlkSize      int64  `json:"last_outgoing_blk_size"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t := &s.pipeline.Telemetry
	sendJSON(w, statusPayload{
		CurrentBlockHeight:       t.CurrentBlockHeight(),
		CurrentBlockHash:         t.CurrentBlockHash().String(),
		StartupProcessingMempool: s.pipeline.StartupProcessingMempool(),
		LastIncomingTxUnix:       t.LastIncomingTxUnix(),
		LastOutgoingTxUnix:       t.LastOutgoingTxUnix(),
		LastIncomingBlkUnix:      t.LastIncomingBlkUnix(),
		LastOutgoingBlkUnix:      t.LastOutgoingBlkUnix(),
		LastIncomingBlkSize:      t.LastIncomingBlkSize(),
		LastOutgoingBlkSize:      t.LastOutgoingBlkSize(),
	})
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(err)
	}
}
