package restreamer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahina-labs/restreamer/internal/rtp"
)

func TestUdpRtpSourceDecodesIngestedPacket(t *testing.T) {
	src, err := NewUdpRtpSource(Endpoint{Address: "127.0.0.1", Port: 0}, 1500, 0)
	require.NoError(t, err)
	defer src.Close()

	localAddr := src.conn.LocalAddr().(*net.UDPAddr)

	received := make(chan struct {
		h       rtp.Header
		payload []byte
	}, 1)
	go func() {
		_ = src.Run(func(h *rtp.Header, payload []byte) {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			received <- struct {
				h       rtp.Header
				payload []byte
			}{*h, cp}
		})
	}()

	header := rtp.Header{Marker: true, PayloadType: 96, Sequence: 7, Timestamp: 1000, SSRC: 42}
	buf := make([]byte, header.Len())
	n, err := rtp.Marshal(buf, &header, nil)
	require.NoError(t, err)
	payload := []byte("nal-unit")
	packet := append(buf[:n], payload...)

	conn, err := net.DialUDP("udp4", nil, localAddr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(packet)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, uint16(7), got.h.Sequence)
		assert.EqualValues(t, 42, got.h.SSRC)
		assert.Equal(t, payload, got.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestUdpRtpSourceRunReturnsOnClose(t *testing.T) {
	src, err := NewUdpRtpSource(Endpoint{Address: "127.0.0.1", Port: 0}, 1500, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- src.Run(func(*rtp.Header, []byte) {}) }()

	require.NoError(t, src.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
