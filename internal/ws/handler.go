// Package ws exposes the client state to a local UI over websockets. A
// connection receives every snapshot published on its topic and may send
// commands back.
package ws

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"tictacgrid/internal/broadcast"
	"tictacgrid/internal/client"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	writeWait = 10 * time.Second
	qrSize    = 320
)

// The default origin check only admits pages served from the bridge host,
// so other sites open in the browser cannot drive the session.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Dispatcher executes commands received from a connection
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd client.Command) error
}

// errorReply is written back when a command fails
type errorReply struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

// Handler handles WebSocket connections for real-time state updates.
type Handler struct {
	hub        *broadcast.Hub
	dispatcher Dispatcher
	logger     *log.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *broadcast.Hub, dispatcher Dispatcher, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterRoutes sets up the WebSocket routes.
func (h *Handler) RegisterRoutes(mux *httprouter.Router) {
	mux.GET("/healthz", h.handleHealth)
	mux.GET("/qr", h.handleQR)
	mux.GET("/ws", h.handleWebSocket)
	mux.GET("/ws/:topic", h.handleWebSocket)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}

// handleQR encodes the websocket url of this bridge, so a UI on another
// device can connect by scanning it.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	png, err := qrcode.Encode(scheme+"://"+r.Host+"/ws", qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	topic := ps.ByName("topic")
	if topic == "" {
		topic = broadcast.All
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Println("BRIDGE: upgrade error:", err)
		return
	}
	defer conn.Close()
	h.logger.Printf("BRIDGE: %s subscribed to %s", r.RemoteAddr, topic)

	events := make(chan broadcast.Event, 16)
	replay := h.hub.Subscribe(topic, events)
	replies := make(chan errorReply, 4)
	done := make(chan struct{})

	go func() {
		defer close(done)
		writePump(conn, replay, events, replies)
	}()

	h.readPump(r.Context(), conn, replies, done)
	h.hub.Unsubscribe(topic, events)
	<-done
	h.logger.Printf("BRIDGE: %s disconnected", r.RemoteAddr)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, replies chan<- errorReply, done <-chan struct{}) {
	for {
		var cmd client.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if err := h.dispatcher.Dispatch(ctx, cmd); err != nil {
			h.logger.Printf("BRIDGE: %s failed: %v", cmd.Op, err)
			select {
			case replies <- errorReply{Op: cmd.Op, Error: err.Error()}:
			case <-done:
				return
			}
		}
	}
}

// writePump is the only writer of conn
func writePump(conn *websocket.Conn, replay []broadcast.Event, events <-chan broadcast.Event, replies <-chan errorReply) {
	defer conn.Close()

	write := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	for _, e := range replay {
		if err := write(e); err != nil {
			return
		}
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := write(e); err != nil {
				return
			}
		case r := <-replies:
			if err := write(r); err != nil {
				return
			}
		}
	}
}
