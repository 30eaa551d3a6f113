// Package publish implements a dependency-free line-delimited TCP fan-out
// of applied transactions and blocks, standing in for the C++ source's ZMQ
// PUB-socket republish (`zmqpub.bind`). No ZMQ client library was present
// anywhere in the retrieved corpus, so this rewrite accepts plain TCP
// connections and broadcasts each published item as one JSON line carrying
// the item's hex-encoded bytes, rather than adding a dependency the pack never carries -- see DESIGN.md.
package publish

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jcramer/slpgraphsearch/internal/rawblock"
	"github.com/jcramer/slpgraphsearch/internal/rawtx"
)

// message is one line written to every connected subscriber.
type message struct {
	Kind   string `json:"kind"` // "tx" or "block"
	Height uint32 `json:"height,omitempty"`
	RawHex string `json:"raw_hex"`
}

// Fanout accepts TCP subscribers on one address and broadcasts every
// PublishTx/PublishBlock call to all of them. It implements
// ingest.Publisher.
type Fanout struct {
	mu   sync.Mutex
	subs map[net.Conn]*bufio.Writer

	log zerolog.Logger
}

// New returns an empty Fanout ready to accept subscribers via Serve.
func New(log zerolog.Logger) *Fanout {
	return &Fanout{
		subs: make(map[net.Conn]*bufio.Writer),
		log:  log,
	}
}

// Serve accepts subscriber connections on addr until the listener errs.
// Each accepted connection is registered as a broadcast target and
// unregistered when the peer disconnects.
func (f *Fanout) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			f.register(conn)
		}
	}()
	return nil
}

func (f *Fanout) register(conn net.Conn) {
	f.mu.Lock()
	f.subs[conn] = bufio.NewWriter(conn)
	f.mu.Unlock()

	// A subscriber never sends anything; reading to EOF just detects
	// disconnects so the subscriber set doesn't leak dead connections.
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				f.mu.Lock()
				delete(f.subs, conn)
				f.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (f *Fanout) broadcast(m message) {
	body, err := json.Marshal(m)
	if err != nil {
		f.log.Warn().Err(err).Msg("failed to marshal publish message")
		return
	}
	body = append(body, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, w := range f.subs {
		if _, err := w.Write(body); err != nil || w.Flush() != nil {
			delete(f.subs, conn)
			conn.Close()
			continue
		}
	}
}

// PublishTx implements ingest.Publisher.
func (f *Fanout) PublishTx(tx rawtx.Transaction) {
	f.broadcast(message{Kind: "tx", RawHex: hex.EncodeToString(tx.Serialized)})
}

// PublishBlock implements ingest.Publisher.
func (f *Fanout) PublishBlock(height uint32, block rawblock.Block) {
	f.broadcast(message{Kind: "block", Height: height, RawHex: hex.EncodeToString(rawblock.EncodeBlock(block))})
}
