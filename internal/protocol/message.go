package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/starlane-games/starlane-server/internal/model"
)

// HeaderSize is the fixed size of every frame header: a 4-byte message type
// followed by a 4-byte payload length, both big-endian.
const HeaderSize = 8

// MessageType identifies the kind of framed message
type MessageType uint32

// Message is one framed unit on the wire
type Message struct {
	Type    MessageType
	Payload []byte
}

// New builds a message with a JSON-encoded payload
func New(t MessageType, v any) (Message, error) {
	if v == nil {
		return Message{Type: t}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: data}, nil
}

// MustNew builds a message and panics on encoding failure. Only for payload
// types that cannot fail to marshal.
func MustNew(t MessageType, v any) Message {
	m, err := New(t, v)
	if err != nil {
		panic(err)
	}
	return m
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Write frames the message onto w: header then payload
func Write(w io.Writer, m Message) error {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(m.Type))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(m.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(m.Payload) == 0 {
		return nil
	}
	_, err := w.Write(m.Payload)
	return err
}

// Read reads one framed message from r. A declared payload length above
// maxPayload is a protocol error; the caller must close the connection.
func Read(r io.Reader, maxPayload uint32) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	msgType := MessageType(binary.BigEndian.Uint32(header[0:4]))
	size := binary.BigEndian.Uint32(header[4:8])
	if size > maxPayload {
		return Message{}, fmt.Errorf("%w: %d > %d", model.ErrFrameTooLarge, size, maxPayload)
	}
	m := Message{Type: msgType}
	if size > 0 {
		m.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}
