package miracast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"castbridge/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	session := NewSession(Config{ControlPort: 0, AcceptTimeout: 5 * time.Second}, zap.NewNop().Sugar())
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Stop)
	return session
}

func dialControl(t *testing.T, session *Session) (net.Conn, *bufio.Reader) {
	t.Helper()
	addr := session.ControlAddr()
	require.NotNil(t, addr)
	port := addr.(*net.TCPAddr).Port
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func sendRequest(t *testing.T, conn net.Conn, reader *bufio.Reader, request string) string {
	t.Helper()
	_, err := conn.Write([]byte(request))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var response strings.Builder
	contentLength := 0
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		response.WriteString(line)
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(strings.ToLower(trimmed), "content-length:") {
			fmt.Sscanf(trimmed[len("content-length:"):], "%d", &contentLength)
		}
		if trimmed == "" {
			break
		}
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		_, err := io.ReadFull(reader, body)
		require.NoError(t, err)
		response.Write(body)
	}
	return response.String()
}

func TestSessionOptionsEchoesCSeq(t *testing.T) {
	session := newTestSession(t)
	conn, reader := dialControl(t, session)

	resp := sendRequest(t, conn, reader, "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	assert.Contains(t, resp, "RTSP/1.0 200 OK")
	assert.Contains(t, resp, "CSeq: 1")
	assert.Contains(t, resp, "Public: OPTIONS, GET_PARAMETER, SET_PARAMETER, SETUP, PLAY, PAUSE, TEARDOWN")
}

func TestSessionGetParameterAdvertisesCapabilities(t *testing.T) {
	session := newTestSession(t)
	conn, reader := dialControl(t, session)

	resp := sendRequest(t, conn, reader, "GET_PARAMETER rtsp://localhost/wfd1.0 RTSP/1.0\r\nCSeq: 2\r\n\r\n")
	assert.Contains(t, resp, "wfd_video_formats:")
	assert.Contains(t, resp, "wfd_audio_codecs: AAC")
	assert.Contains(t, resp, "wfd_client_rtp_ports: RTP/AVP/UDP;unicast")
}

func TestSessionUnknownMethod(t *testing.T) {
	session := newTestSession(t)
	conn, reader := dialControl(t, session)

	resp := sendRequest(t, conn, reader, "RECORD rtsp://localhost/wfd1.0 RTSP/1.0\r\nCSeq: 9\r\n\r\n")
	assert.Contains(t, resp, "RTSP/1.0 501 Not Implemented")
	assert.Contains(t, resp, "CSeq: 9")
}

func TestSessionSetupPlayAndRTPDelivery(t *testing.T) {
	session := newTestSession(t)
	conn, reader := dialControl(t, session)

	// Fake sink RTP socket.
	sinkRTP, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer sinkRTP.Close()
	sinkPort := sinkRTP.LocalAddr().(*net.UDPAddr).Port

	setup := fmt.Sprintf("SETUP rtsp://localhost/wfd1.0/streamid=0 RTSP/1.0\r\nCSeq: 4\r\n"+
		"Transport: RTP/AVP/UDP;unicast;client_port=%d\r\n\r\n", sinkPort)
	resp := sendRequest(t, conn, reader, setup)
	assert.Contains(t, resp, "Session: ")
	assert.Contains(t, resp, ";timeout=30")
	assert.Contains(t, resp, fmt.Sprintf("client_port=%d", sinkPort))
	assert.Contains(t, resp, "server_port=")

	// Frames before PLAY are dropped.
	session.Deliver(domain.EncodedFrame{Payload: []byte{0xFF}})

	resp = sendRequest(t, conn, reader, "PLAY rtsp://localhost/wfd1.0/streamid=0 RTSP/1.0\r\nCSeq: 5\r\n\r\n")
	assert.Contains(t, resp, "RTSP/1.0 200 OK")
	assert.Equal(t, StateStreaming, session.State())

	session.Deliver(domain.EncodedFrame{Payload: []byte{0x47, 0x11}, IsKeyFrame: true})

	sinkRTP.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := sinkRTP.ReadFrom(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 14)

	packet := buf[:n]
	assert.Equal(t, byte(0x80), packet[0])
	assert.Equal(t, byte(0x80|33), packet[1]) // marker set for key frame
	assert.Equal(t, []byte{0x00, 0x01}, packet[2:4])
	assert.Equal(t, []byte{0x47, 0x11}, packet[12:14])

	// Second frame: sequence and timestamp advance monotonically.
	session.Deliver(domain.EncodedFrame{Payload: []byte{0x00}})
	n, _, err = sinkRTP.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02}, buf[2:4])
	assert.Equal(t, byte(33), buf[1]) // no marker on delta frame
}

func TestSessionTeardownStops(t *testing.T) {
	session := newTestSession(t)
	conn, reader := dialControl(t, session)

	resp := sendRequest(t, conn, reader, "TEARDOWN rtsp://localhost/wfd1.0 RTSP/1.0\r\nCSeq: 8\r\n\r\n")
	assert.Contains(t, resp, "RTSP/1.0 200 OK")

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after TEARDOWN")
	}
	assert.Equal(t, StateStopped, session.State())
}

func TestSessionMalformedRequestEndsGracefully(t *testing.T) {
	session := newTestSession(t)
	conn, _ := dialControl(t, session)

	_, err := conn.Write([]byte("NONSENSE\r\n\r\n"))
	require.NoError(t, err)

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on malformed request line")
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	session := NewSession(Config{ControlPort: 0, AcceptTimeout: time.Second}, zap.NewNop().Sugar())
	require.NoError(t, session.Start(context.Background()))
	session.Stop()
	session.Stop()
	assert.Equal(t, StateStopped, session.State())
}
