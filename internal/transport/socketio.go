package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// engine.io v3 packet types
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// socket.io v2 packet types, carried inside engine.io messages
const (
	socketConnect    = '0'
	socketDisconnect = '1'
	socketEvent      = '2'
	socketError      = '4'
)

type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
}

func (h handshake) pingInterval() time.Duration {
	return time.Duration(h.PingInterval) * time.Millisecond
}

func (h handshake) pingTimeout() time.Duration {
	return time.Duration(h.PingTimeout) * time.Millisecond
}

func decodeHandshake(msg []byte) (handshake, error) {
	var h handshake
	if len(msg) == 0 || msg[0] != engineOpen {
		return h, fmt.Errorf("expected open packet, got %q", truncate(msg))
	}
	if err := json.Unmarshal(msg[1:], &h); err != nil {
		return h, fmt.Errorf("decoding open packet: %w", err)
	}
	return h, nil
}

// encodeEvent frames an event emitted by the client.
func encodeEvent(name string, args ...interface{}) ([]byte, error) {
	frame := make([]interface{}, 0, len(args)+1)
	frame = append(frame, name)
	frame = append(frame, args...)
	bz, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append([]byte{engineMessage, socketEvent}, bz...), nil
}

// decodeEvent parses the body of an event packet, the part after "42". An
// optional namespace and ack id precede the JSON array.
func decodeEvent(body []byte) (string, []json.RawMessage, error) {
	if len(body) > 0 && body[0] == '/' {
		i := bytes.IndexByte(body, ',')
		if i < 0 {
			return "", nil, errors.New("malformed namespace")
		}
		body = body[i+1:]
	}
	for len(body) > 0 && body[0] >= '0' && body[0] <= '9' {
		body = body[1:]
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(body, &frame); err != nil {
		return "", nil, fmt.Errorf("decoding event: %w", err)
	}
	if len(frame) == 0 {
		return "", nil, errors.New("empty event")
	}
	var name string
	if err := json.Unmarshal(frame[0], &name); err != nil {
		return "", nil, fmt.Errorf("decoding event name: %w", err)
	}
	return name, frame[1:], nil
}

// eventHash extracts the "hash" member pushed with block and transaction
// notifications.
func eventHash(payload json.RawMessage) string {
	var msg struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ""
	}
	return msg.Hash
}
