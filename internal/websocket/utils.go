package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadMessage reads one text frame with a read deadline and returns its
// action together with the raw payload for full decoding.
func ReadMessage(conn *websocket.Conn) (Action, []byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	action, err := PeekAction(raw)
	return action, raw, err
}

// PeekAction decodes only the action of a client message.
func PeekAction(raw []byte) (Action, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Action, nil
}
