package castv2

import (
	"bytes"
	"testing"

	"castbridge/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		SourceID:      "sender-0",
		DestinationID: "receiver-0",
		Namespace:     "urn:x-cast:com.google.cast.tp.heartbeat",
		PayloadUTF8:   `{"type":"PING"}`,
	}

	decoded, ok := Decode(msg.Encode())
	require.True(t, ok)
	assert.Equal(t, msg.Namespace, decoded.Namespace)
	assert.Equal(t, msg.PayloadUTF8, decoded.PayloadUTF8)
}

func TestMessageEncodeFieldOrder(t *testing.T) {
	encoded := Message{SourceID: "a", DestinationID: "b", Namespace: "n", PayloadUTF8: "p"}.Encode()

	// protocolVersion: tag (1<<3)|0 then varint 0.
	assert.Equal(t, byte(0x08), encoded[0])
	assert.Equal(t, byte(0x00), encoded[1])
	// sourceId: tag (2<<3)|2, len 1, 'a'.
	assert.Equal(t, []byte{0x12, 0x01, 'a'}, encoded[2:5])
}

func TestDecodeWithoutPayloadIsNoMessage(t *testing.T) {
	buf := wire.EncodeVarintField(1, 0)
	buf = append(buf, wire.EncodeStringField(4, "urn:x-cast:com.google.cast.receiver")...)

	_, ok := Decode(buf)
	assert.False(t, ok)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	buf := wire.EncodeStringField(7, "unknown")
	buf = append(buf, wire.EncodeVarintField(8, 99)...)
	buf = append(buf, wire.EncodeStringField(4, "ns")...)
	buf = append(buf, wire.EncodeStringField(6, "{}")...)

	msg, ok := Decode(buf)
	require.True(t, ok)
	assert.Equal(t, "ns", msg.Namespace)
	assert.Equal(t, "{}", msg.PayloadUTF8)
}

func TestFrameRoundTrip(t *testing.T) {
	msg := Message{SourceID: "s", DestinationID: "d", Namespace: "n", PayloadUTF8: `{"type":"PONG"}`}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, msg))

	// 4-byte big-endian length prefix.
	raw := buf.Bytes()
	encodedLen := len(msg.Encode())
	assert.Equal(t, []byte{0, 0, byte(encodedLen >> 8), byte(encodedLen)}, raw[:4])

	body, err := ReadFrame(&buf)
	require.NoError(t, err)
	decoded, ok := Decode(body)
	require.True(t, ok)
	assert.Equal(t, msg.PayloadUTF8, decoded.PayloadUTF8)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	frame := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	_, err := ReadFrame(bytes.NewReader(frame))
	assert.Error(t, err)
}

func TestExtractTransportID(t *testing.T) {
	payload := map[string]any{
		"type": "RECEIVER_STATUS",
		"status": map[string]any{
			"applications": []any{
				map[string]any{"appId": "CC1AD845", "transportId": "web-5"},
			},
		},
	}

	id, ok := extractTransportID(payload)
	require.True(t, ok)
	assert.Equal(t, "web-5", id)

	_, ok = extractTransportID(map[string]any{"type": "RECEIVER_STATUS"})
	assert.False(t, ok)
}

func TestExtractMediaSessionID(t *testing.T) {
	payload := map[string]any{
		"type":   "MEDIA_STATUS",
		"status": []any{map[string]any{"mediaSessionId": float64(3)}},
	}

	id, ok := extractMediaSessionID(payload)
	require.True(t, ok)
	assert.Equal(t, 3, id)

	_, ok = extractMediaSessionID(map[string]any{"status": []any{}})
	assert.False(t, ok)
}
