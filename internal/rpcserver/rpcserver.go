// Package rpcserver exposes the indexer's query surface as a
// google.golang.org/grpc service. As with internal/upstream/bchdgrpc, no
// .proto-generated stubs were available anywhere in the retrieved corpus
// for this service, so the contract is registered directly as a
// grpc.ServiceDesc against plain JSON-tagged Go structs (internal/upstream/
// bchdgrpc's jsonCodec) rather than through protoc output -- see DESIGN.md.
package rpcserver

import (
	"context"
	"net"
	"regexp"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jcramer/slpgraphsearch/internal/bhash"
	"github.com/jcramer/slpgraphsearch/internal/ingest"
	"github.com/jcramer/slpgraphsearch/internal/oracle"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
	"github.com/jcramer/slpgraphsearch/internal/txgraph"
	"github.com/jcramer/slpgraphsearch/internal/utxodb"
	"github.com/jcramer/slpgraphsearch/internal/validator"
)

var txidPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

const serviceName = "slpgraphsearch.GraphSearch"

// Server implements the query surface over the shared ingestion pipeline.
type Server struct {
	pipeline            *ingest.Pipeline
	oracle              *oracle.Oracle
	utxo                *utxodb.Store
	maxExclusionSetSize int
	log                 zerolog.Logger
}

// New constructs a Server. oracleInst and utxoStore may be nil, in which
// case OutputOracle and the Utxo*/Balance* methods return Unimplemented.
func New(pipeline *ingest.Pipeline, oracleInst *oracle.Oracle, utxoStore *utxodb.Store, maxExclusionSetSize int, log zerolog.Logger) *Server {
	return &Server{
		pipeline:            pipeline,
		oracle:              oracleInst,
		utxo:                utxoStore,
		maxExclusionSetSize: maxExclusionSetSize,
		log:                 log,
	}
}

// Serve registers the hand-written service descriptor on a new grpc.Server
// and blocks accepting connections on addr until the listener errs or ctx
// is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&serviceDesc, s)

	errCh := make(chan error, 1)
	go func() { errCh <- grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return errors.Wrap(err, "serving rpc")
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GraphSearch", Handler: graphSearchHandler},
		{MethodName: "TrustedValidation", Handler: trustedValidationHandler},
		{MethodName: "OutputOracle", Handler: outputOracleHandler},
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "UtxoSearchByOutpoints", Handler: utxoSearchByOutpointsHandler},
		{MethodName: "UtxoSearchByScriptPubKey", Handler: utxoSearchByScriptPubKeyHandler},
		{MethodName: "BalanceByScriptPubKey", Handler: balanceByScriptPubKeyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slpgraphsearch.proto",
}

// unary is the shape every hand-written MethodDesc handler in this package
// follows: decode the request, run it through any configured interceptor,
// invoke the matching Server method.
func unary(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor, fullMethod string, req interface{}, call func(context.Context, interface{}) (interface{}, error)) (interface{}, error) {
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
	return interceptor(ctx, req, info, call)
}

func validateTxId(s string) (bhash.TxId, error) {
	if !txidPattern.MatchString(s) {
		return bhash.TxId{}, status.Errorf(codes.InvalidArgument, "txid %q is not 64 hex characters", s)
	}
	return bhash.TxIdFromDisplayString(s)
}

// GraphSearchRequest is the wire request for GraphSearch.
type GraphSearchRequest struct {
	TxId         string   `json:"txid"`
	ExcludeTxIds []string `json:"exclude_txids"`
}

// GraphSearchReply is the wire reply for GraphSearch.
type GraphSearchReply struct {
	RawTxs [][]byte `json:"raw_txs"`
}

func graphSearchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "/"+serviceName+"/GraphSearch", &GraphSearchRequest{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).GraphSearch(ctx, req.(*GraphSearchRequest))
	})
}

// GraphSearch implements the indexer's namesake query: every same-token
// ancestor of txid, minus exclude_txids, as raw transaction bytes.
func (s *Server) GraphSearch(ctx context.Context, req *GraphSearchRequest) (*GraphSearchReply, error) {
	txid, err := validateTxId(req.TxId)
	if err != nil {
		return nil, err
	}

	exclude := req.ExcludeTxIds
	if len(exclude) > s.maxExclusionSetSize {
		exclude = exclude[:s.maxExclusionSetSize]
	}
	exclusionSet := make(map[bhash.TxId]struct{}, len(exclude))
	for _, raw := range exclude {
		excludedTxid, err := validateTxId(raw)
		if err != nil {
			return nil, err
		}
		exclusionSet[excludedTxid] = struct{}{}
	}

	var (
		result      [][]byte
		graphStatus txgraph.Status
	)
	s.pipeline.WithReadLock(func(_ *validator.Validator, g *txgraph.Graph) {
		graphStatus, result = g.GraphSearch(txid, exclusionSet)
	})

	switch graphStatus {
	case txgraph.OK:
		return &GraphSearchReply{RawTxs: result}, nil
	case txgraph.NotFound:
		return nil, status.Errorf(codes.NotFound, "txid %s not found in any token graph", req.TxId)
	case txgraph.NotInTokenGraph:
		return nil, status.Errorf(codes.Internal, "txid %s recognized but unreachable in its token graph", req.TxId)
	default:
		return nil, status.Error(codes.Internal, "unknown graph search status")
	}
}

// TrustedValidationRequest is the wire request for TrustedValidation.
type TrustedValidationRequest struct {
	TxId string `json:"txid"`
}

// TrustedValidationReply is the wire reply for TrustedValidation.
type TrustedValidationReply struct {
	Valid bool `json:"valid"`
}

func trustedValidationHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "/"+serviceName+"/TrustedValidation", &TrustedValidationRequest{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).TrustedValidation(ctx, req.(*TrustedValidationRequest))
	})
}

// TrustedValidation reports whether txid is currently known and valid.
func (s *Server) TrustedValidation(ctx context.Context, req *TrustedValidationRequest) (*TrustedValidationReply, error) {
	txid, err := validateTxId(req.TxId)
	if err != nil {
		return nil, err
	}

	var valid bool
	s.pipeline.WithReadLock(func(v *validator.Validator, _ *txgraph.Graph) {
		valid = v.HasValid(txid)
	})
	return &TrustedValidationReply{Valid: valid}, nil
}

// OutputOracleRequest is the wire request for OutputOracle.
type OutputOracleRequest struct {
	TxId string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// OutputOracleReply is the wire reply for OutputOracle. GroupId is only
// populated for NFT-child tokens, whose attestation substitutes the parent
// group's token id for the amount/is_baton fields carried by every other
// token type (see internal/oracle's preimage layout).
type OutputOracleReply struct {
	TokenId     string `json:"tokenid"`
	TokenType   uint16 `json:"tokentype"`
	TokenAmount uint64 `json:"token_amount"`
	IsBaton     bool   `json:"is_baton"`
	GroupId     string `json:"groupid,omitempty"`
	Msg         []byte `json:"msg"`
	Signature   []byte `json:"sig"`
}

func outputOracleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "/"+serviceName+"/OutputOracle", &OutputOracleRequest{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).OutputOracle(ctx, req.(*OutputOracleRequest))
	})
}

// OutputOracle signs a canonical attestation that outpoint (txid, vout)
// carries a given SLP token amount, for a txid that is currently valid. The
// preimage layout depends on the transaction's token type (see
// internal/oracle): NFT-child tokens need the parent group's token id, found
// by looking up the transaction referenced by the child's first input.
func (s *Server) OutputOracle(ctx context.Context, req *OutputOracleRequest) (*OutputOracleReply, error) {
	if s.oracle == nil {
		return nil, status.Error(codes.Unimplemented, "output oracle not configured")
	}

	txid, err := validateTxId(req.TxId)
	if err != nil {
		return nil, err
	}

	var (
		tx      rawtx.Transaction
		found   bool
		valid   bool
		groupID bhash.TokenId
	)
	s.pipeline.WithReadLock(func(v *validator.Validator, _ *txgraph.Graph) {
		tx, found = v.Get(txid)
		if !found {
			return
		}
		valid = v.HasValid(txid)
		if tx.Slp.TokenType == rawtx.TokenTypeNFTChild && len(tx.Inputs) > 0 {
			if parent, ok := v.Get(tx.Inputs[0].TxId); ok {
				groupID = parent.Slp.TokenId
			}
		}
	})
	if !found {
		return nil, status.Errorf(codes.NotFound, "txid %s not found", req.TxId)
	}
	if !valid {
		return nil, status.Errorf(codes.NotFound, "txid %s is not currently valid", req.TxId)
	}

	amount := tx.OutputTokenAmount(req.Vout)
	isBaton := tx.IsMintBaton(req.Vout)

	attestation, err := s.oracle.Sign(oracle.Input{
		TxId:        txid,
		Vout:        req.Vout,
		TokenId:     tx.Slp.TokenId,
		TokenType:   tx.Slp.TokenType,
		TokenAmount: amount,
		IsBaton:     isBaton,
		GroupId:     groupID,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "signing attestation: %s", err)
	}

	reply := &OutputOracleReply{
		TokenId:     tx.Slp.TokenId.String(),
		TokenType:   attestation.TokenType,
		TokenAmount: amount,
		IsBaton:     isBaton,
		Msg:         attestation.Msg,
		Signature:   attestation.Signature,
	}
	if tx.Slp.TokenType == rawtx.TokenTypeNFTChild {
		reply.GroupId = groupID.String()
	}
	return reply, nil
}

// StatusRequest is the (empty) wire request for Status.
type StatusRequest struct{}

// StatusReply mirrors the source's status payload: cursors plus telemetry
// counters.
type StatusReply struct {
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

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "/"+serviceName+"/Status", &StatusRequest{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).Status(ctx, req.(*StatusRequest))
	})
}

// Status reports the ingestion pipeline's cursors and telemetry counters.
func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusReply, error) {
	t := &s.pipeline.Telemetry
	return &StatusReply{
		CurrentBlockHeight:       t.CurrentBlockHeight(),
		CurrentBlockHash:         t.CurrentBlockHash().String(),
		StartupProcessingMempool: s.pipeline.StartupProcessingMempool(),
		LastIncomingTxUnix:       t.LastIncomingTxUnix(),
		LastOutgoingTxUnix:       t.LastOutgoingTxUnix(),
		LastIncomingBlkUnix:      t.LastIncomingBlkUnix(),
		LastOutgoingBlkUnix:      t.LastOutgoingBlkUnix(),
		LastIncomingBlkSize:      t.LastIncomingBlkSize(),
		LastOutgoingBlkSize:      t.LastOutgoingBlkSize(),
	}, nil
}

// The three UTXO-delegated methods below are peripheral per spec.md §1; they
// return Unimplemented until an internal/utxodb.Store is configured.

// UtxoSearchByOutpointsRequest is the wire request for UtxoSearchByOutpoints.
type UtxoSearchByOutpointsRequest struct {
	Outpoints []OutpointArg `json:"outpoints"`
}

// OutpointArg is one outpoint in a UtxoSearchByOutpointsRequest.
type OutpointArg struct {
	TxId string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// UtxoSearchByOutpointsReply is the wire reply for UtxoSearchByOutpoints.
type UtxoSearchByOutpointsReply struct {
	Utxos []utxodb.Utxo `json:"utxos"`
}

func utxoSearchByOutpointsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "/"+serviceName+"/UtxoSearchByOutpoints", &UtxoSearchByOutpointsRequest{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).UtxoSearchByOutpoints(ctx, req.(*UtxoSearchByOutpointsRequest))
	})
}

// UtxoSearchByOutpoints delegates to the peripheral UTXO index.
func (s *Server) UtxoSearchByOutpoints(ctx context.Context, req *UtxoSearchByOutpointsRequest) (*UtxoSearchByOutpointsReply, error) {
	if s.utxo == nil {
		return nil, status.Error(codes.Unimplemented, "utxo index not configured")
	}
	outpoints := make([]bhash.Outpoint, 0, len(req.Outpoints))
	for _, o := range req.Outpoints {
		txid, err := validateTxId(o.TxId)
		if err != nil {
			return nil, err
		}
		outpoints = append(outpoints, bhash.Outpoint{TxId: txid, Vout: o.Vout})
	}
	utxos, err := s.utxo.SearchByOutpoints(ctx, outpoints)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "querying utxo index: %s", err)
	}
	return &UtxoSearchByOutpointsReply{Utxos: utxos}, nil
}

// UtxoSearchByScriptPubKeyRequest is the wire request for
// UtxoSearchByScriptPubKey.
type UtxoSearchByScriptPubKeyRequest struct {
	ScriptPubKeyHex string `json:"script_pubkey"`
}

// UtxoSearchByScriptPubKeyReply is the wire reply for
// UtxoSearchByScriptPubKey.
type UtxoSearchByScriptPubKeyReply struct {
	Utxos []utxodb.Utxo `json:"utxos"`
}

func utxoSearchByScriptPubKeyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "/"+serviceName+"/UtxoSearchByScriptPubKey", &UtxoSearchByScriptPubKeyRequest{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).UtxoSearchByScriptPubKey(ctx, req.(*UtxoSearchByScriptPubKeyRequest))
	})
}

// UtxoSearchByScriptPubKey delegates to the peripheral UTXO index.
func (s *Server) UtxoSearchByScriptPubKey(ctx context.Context, req *UtxoSearchByScriptPubKeyRequest) (*UtxoSearchByScriptPubKeyReply, error) {
	if s.utxo == nil {
		return nil, status.Error(codes.Unimplemented, "utxo index not configured")
	}
	utxos, err := s.utxo.SearchByScriptPubKey(ctx, req.ScriptPubKeyHex)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "querying utxo index: %s", err)
	}
	return &UtxoSearchByScriptPubKeyReply{Utxos: utxos}, nil
}

// BalanceByScriptPubKeyRequest is the wire request for
// BalanceByScriptPubKey.
type BalanceByScriptPubKeyRequest struct {
	ScriptPubKeyHex string `json:"script_pubkey"`
}

// BalanceByScriptPubKeyReply is the wire reply for BalanceByScriptPubKey.
type BalanceByScriptPubKeyReply struct {
	SatoshisBalance uint64 `json:"satoshis_balance"`
}

func balanceByScriptPubKeyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, "/"+serviceName+"/BalanceByScriptPubKey", &BalanceByScriptPubKeyRequest{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).BalanceByScriptPubKey(ctx, req.(*BalanceByScriptPubKeyRequest))
	})
}

// BalanceByScriptPubKey delegates to the peripheral UTXO index.
func (s *Server) BalanceByScriptPubKey(ctx context.Context, req *BalanceByScriptPubKeyRequest) (*BalanceByScriptPubKeyReply, error) {
	if s.utxo == nil {
		return nil, status.Error(codes.Unimplemented, "utxo index not configured")
	}
	balance, err := s.utxo.BalanceByScriptPubKey(ctx, req.ScriptPubKeyHex)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "querying utxo index: %s", err)
	}
	return &BalanceByScriptPubKeyReply{SatoshisBalance: balance}, nil
}
