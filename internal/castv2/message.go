package castv2

import (
	"encoding/binary"
	"fmt"
	"io"

	"castbridge/internal/wire"
)

// Cast v2 namespaces used by this client.
const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
)

// Field numbers of the CastMessage wire record.
const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldPayloadUTF8     = 6
)

// Message is one Cast v2 control message. Only version 0 / payload type
// STRING (0) is produced or understood.
type Message struct {
	SourceID      string
	DestinationID string
	Namespace     string
	PayloadUTF8   string
}

// Encode serializes the message in field order 1..6 using the
// length-delimited wire primitives.
func (m Message) Encode() []byte {
	out := wire.EncodeVarintField(fieldProtocolVersion, 0)
	out = append(out, wire.EncodeStringField(fieldSourceID, m.SourceID)...)
	out = append(out, wire.EncodeStringField(fieldDestinationID, m.DestinationID)...)
	out = append(out, wire.EncodeStringField(fieldNamespace, m.Namespace)...)
	out = append(out, wire.EncodeVarintField(fieldPayloadType, 0)...)
	out = append(out, wire.EncodeStringField(fieldPayloadUTF8, m.PayloadUTF8)...)
	return out
}

// Decode scans the buffer for the namespace and payload fields; everything
// else is skipped. A message without a payload decodes to no message.
func Decode(buf []byte) (Message, bool) {
	fields, err := wire.DecodeFields(buf)
	if err != nil {
		return Message{}, false
	}

	var msg Message
	havePayload := false
	for _, field := range fields {
		switch field.Number {
		case fieldNamespace:
			if field.WireType == wire.WireLengthDelimited {
				msg.Namespace = string(field.Bytes)
			}
		case fieldPayloadUTF8:
			if field.WireType == wire.WireLengthDelimited {
				msg.PayloadUTF8 = string(field.Bytes)
				havePayload = true
			}
		}
	}
	if !havePayload {
		return Message{}, false
	}
	return msg, true
}

// WriteFrame writes one length-prefixed message: 4-byte big-endian length
// followed by the encoded record.
func WriteFrame(w io.Writer, msg Message) error {
	encoded := msg.Encode()
	frame := make([]byte, 4+len(encoded))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(encoded)))
	copy(frame[4:], encoded)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write cast frame: %w", err)
	}
	return nil
}

const maxFrameSize = 1 << 20

// ReadFrame reads one length-prefixed message body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("cast frame length %d exceeds limit", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
