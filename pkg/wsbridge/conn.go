// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package wsbridge

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader performs the downstream-facing WebSocket upgrade.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dialer opens the upstream-facing WebSocket connection.
var Dialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
}

// Conn is a thin alias so callers outside this package never need to import
// gorilla/websocket directly for the connection type itself.
type Conn = websocket.Conn

// ReadMessage reads one message from conn and translates it to the neutral
// representation. gorilla/websocket reports a received close frame as a
// *websocket.CloseError; ReadMessage returns that as a KindClose message
// carrying the frame's code and reason, so callers can forward it.
func ReadMessage(conn *Conn) (Message, error) {
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
			return Message{Kind: KindClose, Close: &CloseFrame{Code: closeErr.Code, Reason: closeErr.Text}}, nil
		}
		return Message{}, err
	}
	return FromWire(messageType, data), nil
}

// WriteMessage translates m and writes it to conn.
func WriteMessage(conn *Conn, m Message) error {
	messageType, data := m.WireType()
	return conn.WriteMessage(messageType, data)
}

// IsNormalClose reports whether err represents an expected connection
// termination (clean close, going away, a close frame without a status
// code, or abnormal closure without a close frame) rather than a fault worth
// surfacing as a server error.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	)
}
