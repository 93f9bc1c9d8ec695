package restreamer

import (
	"errors"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/logging"
	"github.com/mahina-labs/restreamer/internal/pool"
	"github.com/mahina-labs/restreamer/internal/rtp"
)

var srcLog = logging.DefaultLogger.WithTag("rtpsrc")

// RtpHandler is called once per ingested RTP packet, on the receive
// loop's own goroutine. It must not retain payload past return.
type RtpHandler func(h *rtp.Header, payload []byte)

// UdpRtpSource binds a UDP socket to the configured ingress endpoint and
// decodes RTP packets off it (spec §4.8). It trusts the ingress
// completely: no SSRC or payload-type filtering, since this module
// ingests exactly one unidirectional stream.
type UdpRtpSource struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	pool *pool.PacketPool

	done chan struct{}
}

// NewUdpRtpSource binds ep and wraps the socket with golang.org/x/net/ipv4
// so the receive loop can be instrumented with per-datagram control
// messages (interface index, TTL) the way a production ingest path would
// be, without needing a second read-side abstraction.
func NewUdpRtpSource(ep Endpoint, bufferSize, maxBuffers int) (*UdpRtpSource, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ep.Address), Port: ep.Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagTTL, true); err != nil {
		// Control messages are a diagnostic nicety; their unavailability
		// (e.g. under some container network namespaces) shouldn't block
		// ingestion.
		srcLog.Warn("rtpsrc: control messages unavailable: %v", err)
	}

	return &UdpRtpSource{
		conn: conn,
		pc:   pc,
		pool: pool.New(bufferSize, maxBuffers),
		done: make(chan struct{}),
	}, nil
}

// Run blocks reading datagrams until the socket is closed, decoding each
// one as an RTP packet and invoking handler synchronously. A malformed
// packet is logged and dropped; it never stops the loop. A socket error
// other than the expected close-induced error is logged and the loop
// returns, matching spec §4.8's SocketError handling.
func (s *UdpRtpSource) Run(handler RtpHandler) error {
	defer close(s.done)

	for {
		pkt, err := s.pool.Acquire()
		if err != nil {
			srcLog.Warn("rtpsrc: %v", err)
			continue
		}

		n, _, _, err := s.pc.ReadFrom(pkt.Bytes())
		if err != nil {
			pkt.Release()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			srcLog.Warn("rtpsrc: %v: %v", errs.ErrSocketError, err)
			return err
		}

		h, payload, err := rtp.Parse(pkt.Bytes()[:n])
		if err != nil {
			srcLog.Warn("rtpsrc: %v", err)
			pkt.Release()
			continue
		}

		handler(&h, payload)
		pkt.Release()
	}
}

// Close terminates the receive loop by closing the underlying socket.
func (s *UdpRtpSource) Close() error {
	return s.conn.Close()
}
