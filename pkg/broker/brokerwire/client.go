package brokerwire

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/gemfony/optevo/pkg/broker"
)

// Client is the worker-side half of the protocol: it dials a Server and
// issues FETCH/PUT requests over the resulting websocket connection.
type Client struct {
	conn     *websocket.Conn
	encoding Encoding
}

// Dial connects to a brokerwire Server at url (e.g. "ws://host:port/work"),
// using enc to decode/encode Envelope payloads. enc must match the
// Server's Encoding.
func Dial(url string, enc Encoding) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("brokerwire: dial %s: %w", url, err)
	}

	return &Client{conn: conn, encoding: enc}, nil
}

// Fetch requests the next work item. A zero PortID with no error means no
// work was available; callers should back off and retry.
func (c *Client) Fetch(ctx context.Context) (broker.PortID, broker.Item, error) {
	if err := c.conn.WriteJSON(Envelope{Type: Fetch}); err != nil {
		return "", broker.Item{}, fmt.Errorf("brokerwire: fetch request: %w", err)
	}

	var resp Envelope
	if err := c.conn.ReadJSON(&resp); err != nil {
		return "", broker.Item{}, fmt.Errorf("brokerwire: fetch response: %w", err)
	}

	if len(resp.Payload) == 0 {
		return "", broker.Item{}, nil
	}

	item, err := decodeItem(resp.Payload, c.encoding)
	if err != nil {
		return "", broker.Item{}, err
	}

	item.Tag = resp.Tag

	return resp.PortID, item, nil
}

// Put returns a completed item to the originating port.
func (c *Client) Put(portID broker.PortID, item broker.Item) error {
	payload, err := encodeItem(item, c.encoding)
	if err != nil {
		return err
	}

	req := Envelope{Type: Put, PortID: portID, Tag: item.Tag, Payload: payload}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("brokerwire: put: %w", err)
	}

	return nil
}

// Shutdown notifies the server this client is disconnecting cleanly and
// closes the underlying connection. Any in-flight evaluation the caller
// is still running should finish and Put its result if a valid port
// still exists before calling Shutdown.
func (c *Client) Shutdown() error {
	_ = c.conn.WriteJSON(Envelope{Type: Shutdown})
	return c.conn.Close()
}
