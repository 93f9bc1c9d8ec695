package ice

import (
	"net"
	"time"
)

// ChannelConn adapts an Agent's selected candidate pair to net.Conn, so
// that DtlsSrtpTransport (and, beneath it, the demultiplexed STUN/RTP
// traffic sharing the same socket) can read/write without knowing about
// ICE pairs, sockets, or candidate swaps across a pair change.
type ChannelConn struct {
	local, remote net.Addr
	in            chan []byte
	writeFn       func(b []byte, addr net.Addr) (int, error)

	deadline time.Time
}

func NewChannelConn(local, remote net.Addr, writeFn func([]byte, net.Addr) (int, error)) *ChannelConn {
	return &ChannelConn{
		local:   local,
		remote:  remote,
		in:      make(chan []byte, 64),
		writeFn: writeFn,
	}
}

// deliver is called by the Agent's receive loop for every non-STUN
// packet arriving on the selected pair.
func (c *ChannelConn) deliver(b []byte) {
	select {
	case c.in <- append([]byte(nil), b...):
	default:
		log.Warn("ChannelConn: dropping packet, consumer too slow")
	}
}

func (c *ChannelConn) Read(b []byte) (int, error) {
	var timer <-chan time.Time
	if !c.deadline.IsZero() {
		t := time.NewTimer(time.Until(c.deadline))
		defer t.Stop()
		timer = t.C
	}
	select {
	case data := <-c.in:
		return copy(b, data), nil
	case <-timer:
		return 0, errReadTimeout
	}
}

func (c *ChannelConn) Write(b []byte) (int, error) {
	return c.writeFn(b, c.remote)
}

func (c *ChannelConn) Close() error                       { return nil }
func (c *ChannelConn) LocalAddr() net.Addr                { return c.local }
func (c *ChannelConn) RemoteAddr() net.Addr               { return c.remote }
func (c *ChannelConn) SetDeadline(t time.Time) error      { c.deadline = t; return nil }
func (c *ChannelConn) SetReadDeadline(t time.Time) error  { c.deadline = t; return nil }
func (c *ChannelConn) SetWriteDeadline(time.Time) error   { return nil }
