// Package ws carries the wire protocol over websocket connections: a relay
// hub plus a client that satisfies the driver's transport seams. The relay
// makes no reliability promises beyond TCP's — the core treats the link as
// lossy either way.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/transport"
)

// Relay frame layout: one length-prefixed peer id, then the encoded message.
// From client to hub the id names the target (empty = broadcast); from hub to
// client the hub puts the sender's id in that same field.

func packFrame(to string, payload []byte) []byte {
	out := make([]byte, 0, 1+len(to)+len(payload))
	out = append(out, byte(len(to)))
	out = append(out, to...)
	out = append(out, payload...)
	return out
}

func unpackFrame(data []byte) (to string, payload []byte, err error) {
	if len(data) < 1 {
		return "", nil, fmt.Errorf("relay frame too short")
	}
	n := int(data[0])
	if len(data) < 1+n {
		return "", nil, fmt.Errorf("relay frame truncated")
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}

// Hub relays frames between connected clients and synthesizes peer events on
// connect and disconnect. Clients identify with an id query parameter.
type Hub struct {
	mu       sync.Mutex
	clients  map[string]*hubClient
	upgrader websocket.Upgrader
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// NewHub creates an empty relay hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*hubClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the websocket endpoint.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "ws_hub",
			}).WithError(err).Warn("upgrade failed")
			return
		}
		h.serve(&hubClient{id: id, conn: conn})
	})
}

func (h *Hub) serve(c *hubClient) {
	h.mu.Lock()
	if old, ok := h.clients[c.id]; ok {
		old.conn.Close()
	}
	others := make([]string, 0, len(h.clients))
	for id := range h.clients {
		if id != c.id {
			others = append(others, id)
		}
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	sort.Strings(others)

	h.announce(c.id, true)
	// The newcomer also needs to learn who is already attached.
	if payload, err := transport.Encode(&transport.Message{Kind: transport.KindPeerEvent, Up: true}); err == nil {
		for _, id := range others {
			if err := c.write(packFrame(id, payload)); err != nil {
				break
			}
		}
	}
	logrus.WithFields(logrus.Fields{
		"system_name": "ws_hub",
		"peer":        c.id,
	}).Info("peer attached")

	defer func() {
		h.mu.Lock()
		if h.clients[c.id] == c {
			delete(h.clients, c.id)
		}
		h.mu.Unlock()
		c.conn.Close()
		h.announce(c.id, false)
		logrus.WithFields(logrus.Fields{
			"system_name": "ws_hub",
			"peer":        c.id,
		}).Info("peer detached")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		to, payload, err := unpackFrame(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "ws_hub",
				"peer":        c.id,
			}).WithError(err).Warn("bad relay frame")
			continue
		}
		h.relay(c.id, to, payload)
	}
}

// announce synthesizes a transport peer event to every other client.
func (h *Hub) announce(id string, up bool) {
	payload, err := transport.Encode(&transport.Message{Kind: transport.KindPeerEvent, Up: up})
	if err != nil {
		return
	}
	h.relay(id, "", payload)
}

func (h *Hub) relay(from, to string, payload []byte) {
	framed := packFrame(from, payload)
	h.mu.Lock()
	targets := make([]*hubClient, 0, len(h.clients))
	for id, c := range h.clients {
		if id == from {
			continue
		}
		if to != "" && id != to {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.write(framed); err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "ws_hub",
				"peer":        c.id,
			}).WithError(err).Debug("relay write failed")
		}
	}
}

// Client is one peer's websocket endpoint. It satisfies the control plane's
// outbound Transport and the driver's inbound Receiver: a reader goroutine
// fills a locked inbox that the tick loop drains.
type Client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	inboxMu sync.Mutex
	inbox   []transport.Message
}

// Dial connects to a hub and starts the read pump.
func Dial(ctx context.Context, url, id string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("%s?id=%s", url, id), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	c := &Client{id: id, conn: conn}
	go c.readPump()
	return c, nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "ws_client",
				"peer":        c.id,
			}).WithError(err).Info("read pump closed")
			return
		}
		from, payload, err := unpackFrame(data)
		if err != nil {
			continue
		}
		msg, err := transport.Decode(payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "ws_client",
				"peer":        c.id,
			}).WithError(err).Warn("undecodable message")
			continue
		}
		msg.From = from
		c.inboxMu.Lock()
		c.inbox = append(c.inbox, *msg)
		c.inboxMu.Unlock()
	}
}

// Receive drains the inbox. Called from the tick loop.
func (c *Client) Receive() []transport.Message {
	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	out := c.inbox
	c.inbox = nil
	return out
}

func (c *Client) send(to string, msg transport.Message) {
	payload, err := transport.Encode(&msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"system_name": "ws_client",
			"peer":        c.id,
		}).WithError(err).Warn("unencodable message")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, packFrame(to, payload)); err != nil {
		logrus.WithFields(logrus.Fields{
			"system_name": "ws_client",
			"peer":        c.id,
		}).WithError(err).Debug("write failed")
	}
}

// Broadcast sends a message to every other peer on the hub.
func (c *Client) Broadcast(msg transport.Message) { c.send("", msg) }

// Send sends a message to one peer.
func (c *Client) Send(to string, msg transport.Message) { c.send(to, msg) }
