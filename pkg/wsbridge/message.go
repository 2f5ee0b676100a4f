// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package wsbridge is the seam between the downstream-facing and
// upstream-facing WebSocket connections. Both sides are backed by
// gorilla/websocket here, but all higher-level code (pkg/wsproxy) exchanges
// the neutral Message type defined in this package rather than touching
// gorilla's wire-level message type directly; this is where payload framing,
// close-code/reason preservation, and frame translation are centralized and
// tested in isolation.
package wsbridge

import "github.com/gorilla/websocket"

// Kind identifies which of the five application-level WebSocket message
// variants a Message carries.
type Kind int

const (
	KindText Kind = iota
	KindBinary
	KindPing
	KindPong
	KindClose
)

// CloseFrame carries the status code and UTF-8 reason of a close message.
type CloseFrame struct {
	Code   int
	Reason string
}

// Message is the one neutral representation exchanged between the
// downstream and upstream sides of the relay. Text, binary, ping and pong
// payloads pass through translation as the same []byte, without copying;
// close frames are decoded into a CloseFrame and re-encoded on the way out.
type Message struct {
	Kind  Kind
	Data  []byte
	Close *CloseFrame
}

// FromWire translates a gorilla/websocket wire message (as returned by
// Conn.ReadMessage) into the neutral Message representation. Payload bytes
// are preserved byte-for-byte; close frames are parsed into code+reason.
func FromWire(messageType int, data []byte) Message {
	switch messageType {
	case websocket.TextMessage:
		return Message{Kind: KindText, Data: data}
	case websocket.BinaryMessage:
		return Message{Kind: KindBinary, Data: data}
	case websocket.PingMessage:
		return Message{Kind: KindPing, Data: data}
	case websocket.PongMessage:
		return Message{Kind: KindPong, Data: data}
	case websocket.CloseMessage:
		code, reason := parseClosePayload(data)
		return Message{Kind: KindClose, Close: &CloseFrame{Code: code, Reason: reason}}
	default:
		// gorilla/websocket never surfaces a protocol-internal frame through
		// ReadMessage (control frames other than ping/pong/close terminate
		// the connection instead), so this branch is unreachable in
		// practice; it is kept as a defensive fallback rather than a panic.
		return Message{Kind: KindBinary, Data: data}
	}
}

// WireType returns the gorilla/websocket message type and payload for m, the
// inverse of FromWire, ready to pass to Conn.WriteMessage.
func (m Message) WireType() (int, []byte) {
	switch m.Kind {
	case KindText:
		return websocket.TextMessage, m.Data
	case KindBinary:
		return websocket.BinaryMessage, m.Data
	case KindPing:
		return websocket.PingMessage, m.Data
	case KindPong:
		return websocket.PongMessage, m.Data
	case KindClose:
		code := websocket.CloseNormalClosure
		reason := ""
		if m.Close != nil {
			code = m.Close.Code
			reason = m.Close.Reason
		}
		return websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)
	default:
		return websocket.BinaryMessage, m.Data
	}
}

// parseClosePayload decodes a close frame payload into its status code and
// UTF-8 reason per RFC 6455 §5.5.1, falling back to CloseNoStatusReceived
// when the payload is too short to carry a code.
func parseClosePayload(data []byte) (int, string) {
	if len(data) < 2 {
		return websocket.CloseNoStatusReceived, ""
	}
	code := int(data[0])<<8 | int(data[1])
	return code, string(data[2:])
}
