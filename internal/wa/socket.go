package wa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// frame is the JSON envelope exchanged with the gateway. Inbound frames
// carry an event name, outbound frames an action name.
type frame struct {
	Event  string          `json:"event,omitempty"`
	Action string          `json:"action,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// upsertData is the payload of a messages.upsert event.
type upsertData struct {
	Messages []MessageEvent `json:"messages"`
	Type     string         `json:"type,omitempty"`
}

// sendData is the payload of an outbound send action.
type sendData struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SocketDialer connects to a WhatsApp gateway over WebSocket. The gateway
// holds the actual platform client; this adapter relays its JSON event
// frames into EventHandlers and implements Session for outbound text.
type SocketDialer struct {
	// URL of the gateway WebSocket endpoint.
	URL string
}

func (d *SocketDialer) Dial(ctx context.Context, creds json.RawMessage, handlers EventHandlers) (Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway %s: %w", d.URL, err)
	}

	s := &socketSession{ws: ws, handlers: handlers}

	// The init frame hands persisted credentials to the gateway so it can
	// resume the pairing instead of requesting a fresh QR scan.
	init, err := json.Marshal(struct {
		Creds json.RawMessage `json:"creds,omitempty"`
	}{Creds: creds})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to encode init frame: %w", err)
	}
	if err := s.write(frame{Action: "init", Data: init}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send init frame: %w", err)
	}

	go s.readLoop()
	return s, nil
}

type socketSession struct {
	ws       *websocket.Conn
	handlers EventHandlers

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (s *socketSession) SendText(ctx context.Context, to, body string) error {
	data, err := json.Marshal(sendData{To: to, Text: body})
	if err != nil {
		return fmt.Errorf("failed to encode send frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		s.ws.SetWriteDeadline(deadline)
		defer s.ws.SetWriteDeadline(time.Time{})
	}
	return s.ws.WriteJSON(frame{Action: "send", Data: data})
}

func (s *socketSession) write(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(f)
}

func (s *socketSession) Close() error {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()
	return s.ws.Close()
}

// readLoop decodes gateway frames and dispatches them to the handlers. A
// transport error is surfaced as a synthesized close event, unless the
// session was closed locally.
func (s *socketSession) readLoop() {
	for {
		var f frame
		if err := s.ws.ReadJSON(&f); err != nil {
			s.closeMu.Lock()
			closed := s.closed
			s.closeMu.Unlock()
			if closed {
				return
			}
			s.handlers.OnConnection(ConnectionUpdate{Connection: "close", Error: err.Error()})
			return
		}
		s.dispatch(f)
	}
}

func (s *socketSession) dispatch(f frame) {
	switch f.Event {
	case "connection.update":
		var update ConnectionUpdate
		if err := json.Unmarshal(f.Data, &update); err != nil {
			slog.Warn("malformed connection.update frame", "error", err)
			return
		}
		s.handlers.OnConnection(update)
	case "creds.update":
		s.handlers.OnCredentials(f.Data)
	case "messages.upsert":
		var upsert upsertData
		if err := json.Unmarshal(f.Data, &upsert); err != nil {
			slog.Warn("malformed messages.upsert frame", "error", err)
			return
		}
		for _, ev := range upsert.Messages {
			s.handlers.OnMessage(ev)
		}
	case "messages.update":
		slog.Debug("message status update", "data", string(f.Data))
	case "presence.update":
		slog.Debug("presence update", "data", string(f.Data))
	default:
		slog.Debug("ignoring gateway event", "event", f.Event)
	}
}
