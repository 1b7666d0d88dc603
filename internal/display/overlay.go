package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/screenqa/screenqa/pkg/question"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
	// sendBuffer bounds the messages queued for one client. A client
	// that falls this far behind is disconnected.
	sendBuffer = 16
)

// Message is pushed to every overlay client.
type Message struct {
	Type     string `json:"type"`
	Question string `json:"question,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Answer   string `json:"answer,omitempty"`
	HTML     string `json:"html,omitempty"`
	At       int64  `json:"at"`
}

// Message types.
const (
	TypeAnswer = "answer"
	TypeClear  = "clear"
)

// Overlay serves answers to websocket clients such as a browser overlay
// or a phone companion view. New clients receive the answer currently on
// screen.
type Overlay struct {
	upgrader websocket.Upgrader
	md       goldmark.Markdown

	// mu guards the client set and the current answer. Messages are
	// queued under mu so every client sees them in the same order; the
	// socket writes happen in each client's writer goroutine.
	mu      sync.Mutex
	clients map[*client]struct{}
	current []byte
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewOverlay creates an overlay sink.
func NewOverlay() *Overlay {
	return &Overlay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		md:      goldmark.New(),
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the overlay HTTP routes: /ws and /healthz.
func (o *Overlay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", o.handleWS)
	mux.HandleFunc("/healthz", o.handleHealth)
	return mux
}

// ListenAndServe serves the overlay on addr until ctx is cancelled.
func (o *Overlay) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           o.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		o.closeAll()
	}()

	slog.InfoContext(ctx, "display: overlay listening", slog.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (o *Overlay) ShowAnswer(ctx context.Context, q question.Question, answer string) {
	msg := &Message{
		Type:     TypeAnswer,
		Question: q.Text,
		Kind:     string(q.Kind),
		Answer:   answer,
		At:       time.Now().UnixMilli(),
	}

	var buf bytes.Buffer
	if err := o.md.Convert([]byte(answer), &buf); err != nil {
		slog.WarnContext(ctx, "display: render markdown", slog.String("error", err.Error()))
	} else {
		msg.HTML = buf.String()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		slog.WarnContext(ctx, "display: marshal message", slog.String("error", err.Error()))
		return
	}
	o.mu.Lock()
	o.current = payload
	o.broadcastLocked(ctx, payload)
	o.mu.Unlock()
}

func (o *Overlay) Clear(ctx context.Context) {
	payload, err := json.Marshal(&Message{Type: TypeClear, At: time.Now().UnixMilli()})
	if err != nil {
		slog.WarnContext(ctx, "display: marshal message", slog.String("error", err.Error()))
		return
	}
	o.mu.Lock()
	o.current = nil
	o.broadcastLocked(ctx, payload)
	o.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (o *Overlay) ClientCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.clients)
}

func (o *Overlay) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	o.mu.Lock()
	o.clients[c] = struct{}{}
	if o.current != nil {
		c.send <- o.current
	}
	o.mu.Unlock()

	go o.writeLoop(c)
	go func() {
		defer o.removeClient(c)
		// Clients only send control frames; reading drives pong handling.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (o *Overlay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// broadcastLocked queues payload for every client. o.mu must be held.
func (o *Overlay) broadcastLocked(ctx context.Context, payload []byte) {
	for c := range o.clients {
		select {
		case c.send <- payload:
		default:
			slog.WarnContext(ctx, "display: dropping slow overlay client",
				slog.String("remote", c.conn.RemoteAddr().String()))
			o.dropLocked(c)
		}
	}
}

// writeLoop owns all writes to c.conn. It exits, closing the connection,
// once c.send is closed or a write fails.
func (o *Overlay) writeLoop(c *client) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				o.removeClient(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.removeClient(c)
				return
			}
		}
	}
}

func (o *Overlay) removeClient(c *client) {
	o.mu.Lock()
	o.dropLocked(c)
	o.mu.Unlock()
}

// dropLocked forgets c and closes its queue. It is a no-op for a client
// that is already gone. o.mu must be held.
func (o *Overlay) dropLocked(c *client) {
	if _, ok := o.clients[c]; !ok {
		return
	}
	delete(o.clients, c)
	close(c.send)
}

func (o *Overlay) closeAll() {
	o.mu.Lock()
	for c := range o.clients {
		o.dropLocked(c)
	}
	o.mu.Unlock()
}
