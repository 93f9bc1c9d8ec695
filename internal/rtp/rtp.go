// Package rtp parses and serializes RTP packet headers per RFC 3550 §5.1.
// It owns only the wire-format invariants (version, header length, field
// layout); SRTP encryption/authentication lives in internal/srtp and
// compound RTCP parsing lives in internal/rtcp.
package rtp

import (
	errors "golang.org/x/xerrors"

	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/packet"
)

// Version is the only RTP version this module understands.
const Version = 2

// HeaderSize is the size in bytes of the fixed RTP header, not including
// any CSRC identifiers or header extension.
const HeaderSize = 12

//    0                   1                   2                   3
//    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//   |V=2|P|X|  CC   |M|     PT      |       sequence number         |
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//   |                           timestamp                           |
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//   |           synchronization source (SSRC) identifier            |
//   +=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+
type Header struct {
	Padding     bool
	Extension   bool
	Marker      bool
	PayloadType byte
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	CSRC        []uint32

	// ExtensionProfile/ExtensionPayload are only populated when Extension is
	// true; they are opaque to this parser.
	ExtensionProfile uint16
	ExtensionPayload []byte
}

// Len returns the size in bytes of this header, including CSRC list and
// header extension.
func (h *Header) Len() int {
	n := HeaderSize + 4*len(h.CSRC)
	if h.Extension {
		n += 4 + len(h.ExtensionPayload)
	}
	return n
}

// ParseHeader parses an RTP header from the start of buf, returning the
// header and the number of bytes consumed. It rejects any version other
// than 2 and any declared header length exceeding len(buf).
func ParseHeader(buf []byte) (Header, int, error) {
	var h Header
	r := packet.NewReader(buf)
	if err := r.CheckRemaining(HeaderSize); err != nil {
		return h, 0, errors.Errorf("rtp: %w: %v", errs.ErrMalformedRtp, err)
	}

	version, padding, extension, csrcCount := splitByte2114(r.ReadByte())
	if version != Version {
		return h, 0, errors.Errorf("rtp: %w: version %d", errs.ErrMalformedRtp, version)
	}
	h.Padding = padding
	h.Extension = extension

	if err := r.CheckRemaining(3 + 4*int(csrcCount)); err != nil {
		return h, 0, errors.Errorf("rtp: %w: %v", errs.ErrMalformedRtp, err)
	}
	h.Marker, h.PayloadType = splitByte17(r.ReadByte())
	h.Sequence = r.ReadUint16()
	h.Timestamp = r.ReadUint32()
	h.SSRC = r.ReadUint32()
	for i := 0; i < int(csrcCount); i++ {
		h.CSRC = append(h.CSRC, r.ReadUint32())
	}

	if h.Extension {
		if err := r.CheckRemaining(4); err != nil {
			return h, 0, errors.Errorf("rtp: %w: %v", errs.ErrMalformedRtp, err)
		}
		h.ExtensionProfile = r.ReadUint16()
		extLen := 4 * int(r.ReadUint16())
		if err := r.CheckRemaining(extLen); err != nil {
			return h, 0, errors.Errorf("rtp: %w: %v", errs.ErrMalformedRtp, err)
		}
		h.ExtensionPayload = r.ReadSlice(extLen)
	}

	return h, h.Len(), nil
}

// Parse splits buf into a header and its payload. It rejects packets whose
// declared header length exceeds the packet length.
func Parse(buf []byte) (Header, []byte, error) {
	h, n, err := ParseHeader(buf)
	if err != nil {
		return h, nil, err
	}
	return h, buf[n:], nil
}

// Marshal serializes the header and appends payload, writing into buf
// (which must be at least h.Len()+len(payload) bytes) and returning the
// number of bytes written. CSRC and header extension fields are honored
// if present; callers that forward packets unmodified from ingest (per
// this module's restreaming semantics) should strip them first.
func Marshal(buf []byte, h *Header, payload []byte) (int, error) {
	w := packet.NewWriter(buf)
	if err := w.CheckCapacity(h.Len() + len(payload)); err != nil {
		return 0, errors.Errorf("rtp: %w: %v", errs.ErrMalformedRtp, err)
	}

	w.WriteByte(joinByte2114(Version, h.Padding, h.Extension, byte(len(h.CSRC))))
	w.WriteByte(joinByte17(h.Marker, h.PayloadType))
	w.WriteUint16(h.Sequence)
	w.WriteUint32(h.Timestamp)
	w.WriteUint32(h.SSRC)
	for _, c := range h.CSRC {
		w.WriteUint32(c)
	}
	if h.Extension {
		w.WriteUint16(h.ExtensionProfile)
		w.WriteUint16(uint16(len(h.ExtensionPayload) / 4))
		_ = w.WriteSlice(h.ExtensionPayload)
	}
	_ = w.WriteSlice(payload)
	return w.Length(), nil
}
