// Package pool implements PacketPool, a recycling pool of fixed-capacity
// packet buffers used to avoid per-packet allocation on the RTP receive
// and send paths.
//
// The reuse strategy is grounded on the teacher's internal/packet.SharedBuffer:
// a buffer's lifetime is tracked by an atomic reference count, and the
// count reaching zero is what makes the buffer eligible for reuse. Here
// the "done" callback returns the buffer to a LIFO freelist instead of
// unblocking a waiting producer.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/logging"
)

var log = logging.DefaultLogger.WithTag("pool")

// DefaultBufferSize is large enough to hold any packet up to the default
// MTU (1500 bytes); it leaves no room beyond that.
const DefaultBufferSize = 1500

// Packet is a pooled, reference-counted byte buffer. Acquire() returns one
// with a reference count of 1; Hold() adds a reference (e.g. for broadcast
// fan-out to N peers), and Release() drops one. When the count reaches
// zero, the buffer returns to its pool.
type Packet struct {
	buf   []byte
	count int32
	pool  *PacketPool
}

// Bytes returns the full-capacity backing slice. Callers that received a
// packet from UdpRtpSource should re-slice to the number of bytes actually
// read.
func (p *Packet) Bytes() []byte {
	return p.buf
}

// Hold increments the packet's reference count. Call once per additional
// consumer before handing the packet to another goroutine.
func (p *Packet) Hold() {
	atomic.AddInt32(&p.count, 1)
}

// Release decrements the reference count. When it reaches zero the
// backing buffer is returned to the pool for reuse.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	if n := atomic.AddInt32(&p.count, -1); n == 0 {
		p.pool.put(p)
	} else if n < 0 {
		panic("pool: Packet released more times than held")
	}
}

// PacketPool hands out fixed-capacity Packet buffers. Acquire never blocks:
// the default policy grows the pool without bound, reusing the
// most-recently-released buffer first (LIFO, for cache locality). A
// process that wants a hard ceiling can set MaxBuffers; once that many
// buffers have been created, further Acquire calls past the cap return
// ErrPoolExhausted instead of growing.
type PacketPool struct {
	bufferSize int
	maxBuffers int // 0 means unbounded

	mu      sync.Mutex
	free    []*Packet
	created int
}

// New creates a pool of buffers of the given size. maxBuffers of 0 means
// unbounded growth (soft cap, LIFO reuse).
func New(bufferSize, maxBuffers int) *PacketPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &PacketPool{
		bufferSize: bufferSize,
		maxBuffers: maxBuffers,
	}
}

// Acquire returns a Packet with reference count 1 whose Bytes() is the
// whole p.bufferSize-byte buffer (full length, not empty). The contents of the
// buffer are not zeroed; no key material is ever stored in these buffers,
// so reuse without clearing is safe.
func (p *PacketPool) Acquire() (*Packet, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		pk := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		pk.count = 1
		return pk, nil
	}
	if p.maxBuffers > 0 && p.created >= p.maxBuffers {
		p.mu.Unlock()
		return nil, errs.ErrPoolExhausted
	}
	p.created++
	p.mu.Unlock()

	return &Packet{
		buf:   make([]byte, p.bufferSize),
		count: 1,
		pool:  p,
	}, nil
}

func (p *PacketPool) put(pk *Packet) {
	pk.buf = pk.buf[:cap(pk.buf)]
	p.mu.Lock()
	p.free = append(p.free, pk)
	p.mu.Unlock()
}

// Len returns the number of buffers currently sitting idle in the
// freelist. Exposed for diagnostics/tests only.
func (p *PacketPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
