// Package deck implements the WebSocket relay front end described in
// SPEC_FULL.md's GLOSSARY: a network collaborator bridging ordinary
// Nostr-client WebSocket connections to one cassette instance's send(),
// one instance per connection, and forwarding pkg/realtime.Hub events as
// unsolicited EVENT frames to subscriptions whose filters match.
//
// Grounded on the teacher's pkg/api/routes.go (gorilla/websocket
// Upgrader, a per-connection read loop, a registerable hub feeding an
// events channel selected alongside a heartbeat ticker) and
// firehose_ws_test.go's connection-lifecycle test style, adapted from
// "one shared firehose hub fed to every connection" to "one cassette
// instance plus the connection's own live subscription filters".
package deck

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sandwichfarm/cassette/internal/cassettelog"
	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/filter"
	"github.com/sandwichfarm/cassette/pkg/frame"
	"github.com/sandwichfarm/cassette/pkg/loader"
	"github.com/sandwichfarm/cassette/pkg/realtime"
)

var log = cassettelog.ForService("deck")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LoaderFactory produces a fresh Loader instance per connection, so
// spec.md §5's "single-threaded, one instance per concurrent user"
// model holds even under many simultaneous WebSocket clients.
type LoaderFactory func() (loader.Loader, error)

// Server serves one cassette's relay protocol over WebSocket.
type Server struct {
	newLoader LoaderFactory
	hub       *realtime.Hub
}

// NewServer builds a deck server. hub may be nil; when set, newly
// staged/published events are pushed live to matching subscriptions on
// every open connection.
func NewServer(newLoader LoaderFactory, hub *realtime.Hub) *Server {
	return &Server{newLoader: newLoader, hub: hub}
}

// RegisterRoutes wires the relay WebSocket endpoint and a health check.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", s.handleRelay)
	mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleRelay upgrades the connection, instantiates a dedicated cassette
// loader for it, and runs that connection's read/write loop until the
// client disconnects.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	cass, err := s.newLoader()
	if err != nil {
		log.Errorf("instantiating cassette for %s: %v", r.RemoteAddr, err)
		_ = conn.WriteJSON([]any{"NOTICE", "cassette unavailable"})
		return
	}
	defer cass.Close(context.Background())

	id := uuid.NewString()
	c := &connection{
		id:   id,
		ws:   conn,
		cass: cass,
		subs: make(map[string][]filter.Filter),
		hub:  s.hub,
		log:  log.WithField("session_id", id),
	}
	c.run(r.RemoteAddr)
}

// connection owns one client's cassette instance and subscription set.
// All writes to ws and all calls into cass are serialized through mu, so
// a live hub push and a client-driven REQ never interleave bytes on the
// wire or calls into the single-threaded cassette (spec.md §5).
type connection struct {
	id   string
	ws   *websocket.Conn
	cass loader.Loader
	hub  *realtime.Hub
	log  *cassettelog.Logger

	mu   sync.Mutex
	subs map[string][]filter.Filter
}

func (c *connection) run(remoteAddr string) {
	incoming := make(chan []byte, 16)
	done := make(chan struct{})

	go func() {
		defer close(incoming)
		for {
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				return
			}
			select {
			case incoming <- data:
			case <-done:
				return
			}
		}
	}()

	var listenerID uint64
	var events <-chan realtime.Envelope
	if c.hub != nil {
		listenerID, events = c.hub.Register()
		defer c.hub.Unregister(listenerID)
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	defer close(done)

	c.log.Infof("%s connected", remoteAddr)
	defer c.log.Infof("%s disconnected", remoteAddr)

	for {
		select {
		case data, ok := <-incoming:
			if !ok {
				return
			}
			c.handleInbound(data)
		case env, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.broadcast(env.Event)
		case <-heartbeat.C:
			if err := c.write(frame.EncodeNotice("heartbeat")); err != nil {
				return
			}
		}
	}
}

// handleInbound forwards one client frame to the cassette and relays
// whatever it returns, tracking REQ filters for live-push matching and
// dropping CLOSE'd subscriptions from that tracking set.
func (c *connection) handleInbound(data []byte) {
	in, err := frame.ParseInbound(data)
	if err != nil {
		c.write(frame.EncodeNotice("invalid message"))
		return
	}

	c.mu.Lock()
	result, sendErr := c.cass.Send(string(data))
	c.mu.Unlock()
	if sendErr != nil {
		c.log.Warnf("send failed: %v", sendErr)
		c.write(frame.EncodeNotice("internal error"))
		return
	}

	switch in.Verb {
	case frame.REQ:
		filters, err := parseFilters(in.RawFilters)
		if err == nil {
			c.mu.Lock()
			c.subs[in.SubID] = filters
			c.mu.Unlock()
		}
	case frame.CLOSE:
		c.mu.Lock()
		delete(c.subs, in.SubID)
		c.mu.Unlock()
	}

	if result.IsSingle {
		c.write([]byte(result.Single))
		return
	}
	for _, line := range result.Multiple {
		if err := c.write([]byte(line)); err != nil {
			return
		}
	}
}

// broadcast pushes e as an unsolicited EVENT frame to every subscription
// whose filters currently match it.
func (c *connection) broadcast(e event.Event) {
	c.mu.Lock()
	matches := make([]string, 0, len(c.subs))
	for subID, filters := range c.subs {
		for i := range filters {
			if filters[i].Match(&e) {
				matches = append(matches, subID)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, subID := range matches {
		c.write(frame.EncodeEvent(subID, &e))
	}
}

func (c *connection) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func parseFilters(raw []json.RawMessage) ([]filter.Filter, error) {
	out := make([]filter.Filter, len(raw))
	for i, r := range raw {
		f, err := filter.Parse(r)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
