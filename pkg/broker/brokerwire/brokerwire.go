// Package brokerwire implements the logical client/server worker protocol
// of spec.md section 6 (FETCH / PUT / SHUTDOWN) over a concrete, swappable
// transport: gorilla/websocket. Grounded on niceyeti-tabular's
// fastview client/server pair (upgrader, ping/pong keepalive, errgroup
// fan-out) adapted from a one-way UI-update publisher to a two-way
// request/reply worker protocol.
package brokerwire

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gemfony/optevo/pkg/broker"
)

// Encoding selects how Envelope payloads are marshalled on the wire.
// Server and Client are each constructed with an Encoding; no handshake
// exchanges it, so the two ends agree only when both were given the same
// value.
type Encoding int

const (
	// JSONEncoding is the structured format: encoding/json.
	JSONEncoding Encoding = iota
	// TextEncoding is the human-readable format; items are marshalled
	// with encoding/json, so its wire bytes match JSONEncoding's.
	TextEncoding
	// BinaryEncoding is the compact format: encoding/gob.
	BinaryEncoding
)

// MessageType tags an Envelope as one of the three protocol verbs.
type MessageType int

const (
	Fetch MessageType = iota
	Put
	Shutdown
)

// Envelope is the wire message exchanged between a worker client and the
// broker server. FETCH requests carry only Type; PUT requests carry
// PortID, Tag, and Payload; server FETCH replies carry all four (or an
// empty envelope when no work is available).
type Envelope struct {
	Type    MessageType   `json:"type"`
	PortID  broker.PortID `json:"port_id,omitempty"`
	Tag     broker.Tag    `json:"tag,omitempty"`
	Payload []byte        `json:"payload,omitempty"` // broker.Item: gob under BinaryEncoding, JSON otherwise
}

const (
	writeWait      = 5 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Server bridges a broker.Broker to websocket-connected worker processes:
// it upgrades each incoming connection and, for its lifetime, services
// FETCH/PUT requests against the broker round-robin.
type Server struct {
	Broker   *broker.Broker
	Encoding Encoding
}

// NewServer constructs a Server fronting b, encoding payloads with enc.
// TextEncoding is accepted here but behaves as JSONEncoding: the
// human-readable key=value layout is only implemented for
// pkg/checkpoint's flat scalar-field envelope, not for a full
// Individual's nested Parameter tree (see DESIGN.md).
func NewServer(b *broker.Broker, enc Encoding) *Server { return &Server{Broker: b, Encoding: enc} }

// ServeHTTP upgrades the request to a websocket and serves FETCH/PUT
// requests on it until the client disconnects or sends SHUTDOWN.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)

	group, ctx := errgroup.WithContext(r.Context())

	group.Go(func() error {
		return s.serveConn(ctx, conn)
	})

	_ = group.Wait()
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var req Envelope
		if err := conn.ReadJSON(&req); err != nil {
			return fmt.Errorf("brokerwire: read: %w", err)
		}

		switch req.Type {
		case Fetch:
			portID, item, err := s.Broker.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("brokerwire: broker fetch: %w", err)
			}

			payload, err := encodeItem(item, s.Encoding)
			if err != nil {
				return err
			}

			resp := Envelope{Type: Fetch, PortID: portID, Tag: item.Tag, Payload: payload}
			if err := conn.WriteJSON(resp); err != nil {
				return fmt.Errorf("brokerwire: write: %w", err)
			}
		case Put:
			item, err := decodeItem(req.Payload, s.Encoding)
			if err != nil {
				return err
			}

			item.Tag = req.Tag

			if err := s.Broker.Put(ctx, req.PortID, item); err != nil {
				return fmt.Errorf("brokerwire: broker put: %w", err)
			}
		case Shutdown:
			return nil
		}
	}
}

func encodeItem(it broker.Item, enc Encoding) ([]byte, error) {
	if enc == BinaryEncoding {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(it); err != nil {
			return nil, fmt.Errorf("brokerwire: gob encode item: %w", err)
		}

		return buf.Bytes(), nil
	}

	return json.Marshal(it)
}

func decodeItem(payload []byte, enc Encoding) (broker.Item, error) {
	var it broker.Item

	if enc == BinaryEncoding {
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&it); err != nil {
			return broker.Item{}, fmt.Errorf("brokerwire: gob decode item: %w", err)
		}

		return it, nil
	}

	if err := json.Unmarshal(payload, &it); err != nil {
		return broker.Item{}, fmt.Errorf("brokerwire: decode item: %w", err)
	}

	return it, nil
}
