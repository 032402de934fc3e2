// SPDX-License-Identifier: MIT
package transport

import (
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"wavecore/internal/goda"
	applog "wavecore/internal/log"
)

// WebSocketPublisher broadcasts results as JSON to all connected clients
// on the /ws endpoint. Publishing is decoupled from delivery through a
// buffered channel; when the broadcast queue is full the newest result is
// dropped so the analysis goroutine never blocks on a slow client.
type WebSocketPublisher struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan *goda.Result
	server    *http.Server
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketPublisher starts the HTTP server and broadcast loop
// immediately. addr may carry port 0; Addr reports the bound address.
func NewWebSocketPublisher(addr string) *WebSocketPublisher {
	wp := &WebSocketPublisher{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local dashboards only; no origin policy.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan *goda.Result, 64),
		done:      make(chan struct{}),
	}
	wp.start()
	return wp
}

func (wp *WebSocketPublisher) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wp.handleWebSocket)

	wp.server = &http.Server{Handler: mux}

	listener, err := net.Listen("tcp", wp.addr)
	if err != nil {
		applog.Errorf("WebSocketPublisher: Listen on %s failed: %v", wp.addr, err)
		return
	}
	wp.addr = listener.Addr().String()

	go func() {
		applog.Infof("WebSocketPublisher: Listening on %s", wp.addr)
		if err := wp.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			applog.Errorf("WebSocketPublisher: Server error: %v", err)
		}
	}()

	go wp.handleBroadcasts()
}

// Addr returns the address the server is bound to.
func (wp *WebSocketPublisher) Addr() string { return wp.addr }

func (wp *WebSocketPublisher) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wp.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Errorf("WebSocketPublisher: Upgrade error: %v", err)
		return
	}

	wp.clientsMu.Lock()
	wp.clients[conn] = true
	total := len(wp.clients)
	wp.clientsMu.Unlock()
	applog.Infof("WebSocketPublisher: Client connected, total: %d", total)

	go func() {
		// Drain inbound frames until the client goes away; the feed is
		// one-directional, so anything received is discarded.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		wp.clientsMu.Lock()
		delete(wp.clients, conn)
		total := len(wp.clients)
		wp.clientsMu.Unlock()
		conn.Close()
		applog.Infof("WebSocketPublisher: Client disconnected, total: %d", total)
	}()
}

// sanitizeForJSON replaces NaN bin values with zero in a copy, since
// encoding/json cannot represent NaN. Clients recover skipped bins from
// the invalid-bin count and zero energy.
func sanitizeForJSON(result *goda.Result) *goda.Result {
	clean := func(src []float64) []float64 {
		out := make([]float64, len(src))
		for i, v := range src {
			if v == v { // not NaN
				out[i] = v
			}
		}
		return out
	}
	out := *result
	out.Incident = clean(result.Incident)
	out.Reflected = clean(result.Reflected)
	out.Power = clean(result.Power)
	return &out
}

func (wp *WebSocketPublisher) handleBroadcasts() {
	for {
		select {
		case raw := <-wp.broadcast:
			result := sanitizeForJSON(raw)
			wp.clientsMu.Lock()
			for client := range wp.clients {
				if err := client.WriteJSON(result); err != nil {
					applog.Warnf("WebSocketPublisher: Dropping client: %v", err)
					client.Close()
					delete(wp.clients, client)
				}
			}
			wp.clientsMu.Unlock()
		case <-wp.done:
			return
		}
	}
}

// Publish queues the result for broadcast, dropping it when the queue is
// full. Publishing to a closed publisher is a no-op.
func (wp *WebSocketPublisher) Publish(result *goda.Result) error {
	select {
	case <-wp.done:
		return nil
	default:
	}
	select {
	case wp.broadcast <- result:
	default:
	}
	return nil
}

// Close stops the broadcast loop, disconnects all clients and shuts down
// the server. Safe to call more than once.
func (wp *WebSocketPublisher) Close() error {
	wp.closeOnce.Do(func() {
		applog.Infof("WebSocketPublisher: Closing server")
		close(wp.done)
	})

	wp.clientsMu.Lock()
	for client := range wp.clients {
		client.Close()
	}
	wp.clients = make(map[*websocket.Conn]bool)
	wp.clientsMu.Unlock()

	if wp.server != nil {
		return wp.server.Close()
	}
	return nil
}

var _ Publisher = (*WebSocketPublisher)(nil)
