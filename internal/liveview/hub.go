package liveview

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"production-test/internal/session"
	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

// Frame types pushed to websocket clients.
const (
	FrameProgress = "progress"
	FrameState    = "state"
	FrameRedraw   = "redraw"
	FrameFinished = "finished"
	FrameHello    = "hello"
	FramePing     = "ping"
	FramePong     = "pong"
)

const (
	sendQueue    = 256
	writeTimeout = 5 * time.Second
	backlogSize  = 200
)

// Frame is one websocket message.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// FinishedPayload is the payload of a finished frame.
type FinishedPayload struct {
	Outcome      string           `json:"outcome"`
	Error        string           `json:"error,omitempty"`
	Device       telemetry.Device `json:"device"`
	Summary      *stats.Summary   `json:"summary,omitempty"`
	ExportPath   string           `json:"export_path,omitempty"`
	ReadingCount int              `json:"reading_count"`
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}

type client struct {
	conn *websocket.Conn
	send chan Frame
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans frames out to every connected websocket client. Late joiners get
// the frames of the current session from a bounded backlog.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	backlog []Frame
	current string
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{}), now: time.Now}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish converts a session event into a frame and broadcasts it.
func (h *Hub) Publish(e session.Event) {
	f := Frame{SessionID: e.SessionID, Timestamp: e.Time.UnixMilli()}
	h.mu.Lock()
	h.current = e.SessionID
	h.mu.Unlock()
	switch e.Kind {
	case session.EventProgress:
		f.Type = FrameProgress
		f.Payload = mustJSON(map[string]string{"text": e.Text})
	case session.EventState:
		f.Type = FrameState
		f.Payload = mustJSON(map[string]string{"state": e.State.String()})
		if e.State == session.StateAwaitingDiscovery {
			h.resetBacklog()
		}
	case session.EventFinished:
		f.Type = FrameFinished
		f.Payload = mustJSON(finishedPayload(e.Result))
	default:
		return
	}
	h.broadcast(f)
}

// Redraw pushes the sliding window of the current session. It has the
// display.RedrawFunc signature.
func (h *Hub) Redraw(w telemetry.Series) {
	h.mu.RLock()
	id := h.current
	h.mu.RUnlock()
	h.broadcast(Frame{
		Type:      FrameRedraw,
		SessionID: id,
		Payload:   mustJSON(w),
		Timestamp: h.now().UnixMilli(),
	})
}

func finishedPayload(res *session.Result) FinishedPayload {
	if res == nil {
		return FinishedPayload{}
	}
	p := FinishedPayload{
		Outcome:      string(res.Outcome),
		Device:       res.Device,
		Summary:      res.Summary,
		ExportPath:   res.ExportPath,
		ReadingCount: res.Readings.Len(),
	}
	if res.Err != nil {
		p.Error = res.Err.Error()
	}
	return p
}

func (h *Hub) resetBacklog() {
	h.mu.Lock()
	h.backlog = h.backlog[:0]
	h.mu.Unlock()
}

func (h *Hub) broadcast(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f.Type != FrameRedraw {
		if len(h.backlog) == backlogSize {
			copy(h.backlog, h.backlog[1:])
			h.backlog = h.backlog[:backlogSize-1]
		}
		h.backlog = append(h.backlog, f)
	}
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			// slow consumer
			log.Printf("liveview: dropping slow client %s", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
}

// Serve registers conn, replays the backlog and pumps frames until the client
// goes away. It blocks for the lifetime of the connection.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Frame, sendQueue)}

	h.mu.Lock()
	c.send <- Frame{Type: FrameHello, Timestamp: h.now().UnixMilli()}
	for _, f := range h.backlog {
		select {
		case c.send <- f:
		default:
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	h.readPump(c)

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	<-done
	_ = conn.Close()
}

func (h *Hub) readPump(c *client) {
	for {
		var msg Frame
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("liveview: read: %v", err)
			}
			return
		}
		if msg.Type == FramePing {
			h.mu.RLock()
			_, ok := h.clients[c]
			if ok {
				select {
				case c.send <- Frame{Type: FramePong, Timestamp: h.now().UnixMilli()}:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) writePump(c *client) {
	for f := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(f); err != nil {
			log.Printf("liveview: write: %v", err)
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	_ = c.conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
