package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NewWebsocket splits an upgraded connection into its inbound and outbound
// halves.
func NewWebsocket(conn *websocket.Conn, r *http.Request) (*WebsocketInbound, *WebsocketOutbound) {
	return &WebsocketInbound{conn: conn, request: r}, &WebsocketOutbound{conn: conn}
}

// WebsocketInbound is the receiving half of a websocket route.
type WebsocketInbound struct {
	conn    *websocket.Conn
	request *http.Request
}

// Request returns the upgrade request.
func (in *WebsocketInbound) Request() *http.Request { return in.request }

// Receive blocks for the next data message.
func (in *WebsocketInbound) Receive() (messageType int, data []byte, err error) {
	return in.conn.ReadMessage()
}

// ReceiveText blocks for the next message and returns it as text.
func (in *WebsocketInbound) ReceiveText() (string, error) {
	_, data, err := in.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// IsClosed reports whether err marks a normal close by the peer.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// WebsocketOutbound is the sending half of a websocket route. It is safe for
// concurrent use.
type WebsocketOutbound struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Send writes one message.
func (out *WebsocketOutbound) Send(messageType int, data []byte) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.conn.WriteMessage(messageType, data)
}

// SendText writes one text message.
func (out *WebsocketOutbound) SendText(s string) error {
	return out.Send(websocket.TextMessage, []byte(s))
}

// SendJSON writes v as one JSON text message.
func (out *WebsocketOutbound) SendJSON(v any) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.conn.WriteJSON(v)
}

// Close sends a close frame with code and reason.
func (out *WebsocketOutbound) Close(code int, reason string) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return out.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
