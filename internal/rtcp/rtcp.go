// Package rtcp parses and serializes compound RTCP packets per RFC 3550
// §6. Supported report types are Sender Report (SR), Receiver Report (RR),
// Source Description (SDES), Goodbye (BYE), and the RFC 4585 feedback
// types (PSFB/RTPFB), which this module only ingests for receive-report
// diagnostics -- no feedback is ever generated.
package rtcp

import (
	errors "golang.org/x/xerrors"

	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/logging"
	"github.com/mahina-labs/restreamer/internal/packet"
)

var log = logging.DefaultLogger.WithTag("rtcp")

const rtpVersion = 2

// Packet types, per RFC 3550 §6 and RFC 4585.
const (
	TypeSenderReport      = 200
	TypeReceiverReport    = 201
	TypeSourceDescription = 202
	TypeGoodbye           = 203
	TypeApp               = 204
	TypeTransportFeedback = 205
	TypePayloadFeedback   = 206
)

const headerSize = 4
const reportBlockSize = 6 * 4

//    0                   1                   2                   3
//    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//   |V=2|P|  count  |  packet type  |             length            |
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type header struct {
	padding    bool
	count      int
	packetType byte
	length     int // length of RTCP packet in 32-bit words minus one
}

func (h *header) readFrom(r *packet.Reader) error {
	version, padding, count := splitByte215(r.ReadByte())
	if version != rtpVersion {
		return errors.Errorf("rtcp: %w: version %d", errs.ErrMalformedRtcp, version)
	}
	h.padding = padding
	h.count = int(count)
	h.packetType = r.ReadByte()
	h.length = int(r.ReadUint16())
	return nil
}

func (h *header) writeTo(w *packet.Writer) error {
	if err := w.CheckCapacity(headerSize); err != nil {
		return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
	}
	w.WriteByte(joinByte215(rtpVersion, h.padding, byte(h.count)))
	w.WriteByte(h.packetType)
	w.WriteUint16(uint16(h.length))
	return nil
}

// ReportBlock is a per-source reception report block, shared by Sender
// Report and Receiver Report packets (RFC 3550 §6.4.1).
type ReportBlock struct {
	Source                    uint32
	FractionLost              float32
	TotalLost                 int
	LastSequence              uint32
	Jitter                    uint32
	LastSenderReportTimestamp uint32
	LastSenderReportDelay     uint32
}

func (r ReportBlock) writeTo(w *packet.Writer) {
	w.WriteUint32(r.Source)
	w.WriteByte(byte(r.FractionLost * 256))
	w.WriteUint24(uint32(r.TotalLost))
	w.WriteUint32(r.LastSequence)
	w.WriteUint32(r.Jitter)
	w.WriteUint32(r.LastSenderReportTimestamp)
	w.WriteUint32(r.LastSenderReportDelay)
}

func (r *ReportBlock) readFrom(rd *packet.Reader) {
	r.Source = rd.ReadUint32()
	r.FractionLost = float32(rd.ReadByte()) / 256
	r.TotalLost = int(rd.ReadUint24())
	r.LastSequence = rd.ReadUint32()
	r.Jitter = rd.ReadUint32()
	r.LastSenderReportTimestamp = rd.ReadUint32()
	r.LastSenderReportDelay = rd.ReadUint32()
}

// Packet is implemented by each concrete RTCP report type.
type Packet interface {
	Type() byte
	writeTo(w *packet.Writer) error
	readFrom(r *packet.Reader, h *header) error
}

// SenderReport is RFC 3550 §6.4.1.
type SenderReport struct {
	Sender       uint32
	NtpTimestamp uint64
	RtpTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
	Reports      []ReportBlock
}

func (p *SenderReport) Type() byte { return TypeSenderReport }

func (p *SenderReport) writeTo(w *packet.Writer) error {
	h := header{packetType: TypeSenderReport, count: len(p.Reports), length: (24 + len(p.Reports)*reportBlockSize) / 4}
	if err := h.writeTo(w); err != nil {
		return err
	}
	w.WriteUint32(p.Sender)
	w.WriteUint64(p.NtpTimestamp)
	w.WriteUint32(p.RtpTimestamp)
	w.WriteUint32(p.PacketCount)
	w.WriteUint32(p.OctetCount)
	for _, r := range p.Reports {
		r.writeTo(w)
	}
	return nil
}

func (p *SenderReport) readFrom(r *packet.Reader, h *header) error {
	if 4*h.length != 24+h.count*reportBlockSize {
		return errors.Errorf("rtcp: %w: inconsistent SR length=%d count=%d", errs.ErrMalformedRtcp, h.length, h.count)
	}
	p.Sender = r.ReadUint32()
	p.NtpTimestamp = r.ReadUint64()
	p.RtpTimestamp = r.ReadUint32()
	p.PacketCount = r.ReadUint32()
	p.OctetCount = r.ReadUint32()
	for i := 0; i < h.count; i++ {
		var rb ReportBlock
		rb.readFrom(r)
		p.Reports = append(p.Reports, rb)
	}
	return nil
}

// ReceiverReport is RFC 3550 §6.4.2.
type ReceiverReport struct {
	Receiver uint32
	Reports  []ReportBlock
}

func (p *ReceiverReport) Type() byte { return TypeReceiverReport }

func (p *ReceiverReport) writeTo(w *packet.Writer) error {
	h := header{packetType: TypeReceiverReport, count: len(p.Reports), length: (4 + len(p.Reports)*reportBlockSize) / 4}
	if err := h.writeTo(w); err != nil {
		return err
	}
	w.WriteUint32(p.Receiver)
	for _, r := range p.Reports {
		r.writeTo(w)
	}
	return nil
}

func (p *ReceiverReport) readFrom(r *packet.Reader, h *header) error {
	if 4*h.length != 4+h.count*reportBlockSize {
		return errors.Errorf("rtcp: %w: inconsistent RR length=%d count=%d", errs.ErrMalformedRtcp, h.length, h.count)
	}
	p.Receiver = r.ReadUint32()
	for i := 0; i < h.count; i++ {
		var rb ReportBlock
		rb.readFrom(r)
		p.Reports = append(p.Reports, rb)
	}
	return nil
}

const (
	sdesItemEnd   = 0
	sdesItemCNAME = 1
)

// SourceDescription is RFC 3550 §6.5, narrowed to the CNAME item this
// module emits/expects.
type SourceDescription struct {
	SSRC  uint32
	CNAME string
}

func (p *SourceDescription) Type() byte { return TypeSourceDescription }

func (p *SourceDescription) writeTo(w *packet.Writer) error {
	nameLen := 2 + len(p.CNAME)
	h := header{packetType: TypeSourceDescription, count: 1, length: 1 + (nameLen+1+3)/4}
	if err := h.writeTo(w); err != nil {
		return err
	}
	w.WriteUint32(p.SSRC)
	w.WriteByte(sdesItemCNAME)
	w.WriteByte(byte(len(p.CNAME)))
	_ = w.WriteString(p.CNAME)
	w.WriteByte(sdesItemEnd)
	w.Align(4)
	return nil
}

func (p *SourceDescription) readFrom(r *packet.Reader, h *header) error {
	if h.count != 1 || h.length < 1 {
		return errors.Errorf("rtcp: %w: invalid SDES header %+v", errs.ErrMalformedRtcp, h)
	}
	if err := r.CheckRemaining(4); err != nil {
		return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
	}
	p.SSRC = r.ReadUint32()

	// body is this sub-packet's own byte budget, not the rest of the
	// compound packet: every read below must stay inside it so a
	// malformed item length can never run into (or past) a sibling
	// sub-packet's bytes.
	body := 4*h.length - 4
	for body > 0 {
		if err := r.CheckRemaining(1); err != nil {
			return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
		}
		what := r.ReadByte()
		body--
		if what == sdesItemEnd {
			break
		}

		if body < 1 {
			return errors.Errorf("rtcp: %w: SDES item truncated", errs.ErrMalformedRtcp)
		}
		if err := r.CheckRemaining(1); err != nil {
			return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
		}
		length := int(r.ReadByte())
		body--

		if length > body {
			return errors.Errorf("rtcp: %w: SDES item length exceeds packet", errs.ErrMalformedRtcp)
		}
		if err := r.CheckRemaining(length); err != nil {
			return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
		}
		text := r.ReadString(length)
		body -= length

		if what == sdesItemCNAME {
			p.CNAME = text
		} else {
			log.Trace(4, "ignoring unimplemented SDES item type %d", what)
		}
	}
	r.Align(4)
	return nil
}

// Goodbye is RFC 3550 §6.6.
type Goodbye struct {
	SSRC   uint32
	Reason string
}

func (p *Goodbye) Type() byte { return TypeGoodbye }

func (p *Goodbye) writeTo(w *packet.Writer) error {
	length := 1
	if p.Reason != "" {
		length += (1 + len(p.Reason) + 3) / 4
	}
	h := header{packetType: TypeGoodbye, count: 1, length: length}
	if err := h.writeTo(w); err != nil {
		return err
	}
	w.WriteUint32(p.SSRC)
	if p.Reason != "" {
		w.WriteByte(byte(len(p.Reason)))
		_ = w.WriteString(p.Reason)
		w.Align(4)
	}
	return nil
}

func (p *Goodbye) readFrom(r *packet.Reader, h *header) error {
	if h.length < 1 {
		return errors.Errorf("rtcp: %w: BYE length %d too short", errs.ErrMalformedRtcp, h.length)
	}
	if err := r.CheckRemaining(4); err != nil {
		return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
	}
	p.SSRC = r.ReadUint32()
	// Skip any further SSRCs and the optional reason.
	r.Skip(4*h.length - 4)
	return nil
}

// Feedback is a raw RFC 4585 PSFB/RTPFB packet. This module only ingests
// these for diagnostics (spec's explicit receive-report carve-out); it
// never generates feedback, so the payload is kept opaque.
type Feedback struct {
	FeedbackType byte // PSFB or RTPFB
	FmtCount     int
	Sender       uint32
	Media        uint32
	Payload      []byte
}

func (p *Feedback) Type() byte { return p.FeedbackType }

func (p *Feedback) writeTo(w *packet.Writer) error {
	return errors.New("rtcp: feedback packet generation is not supported")
}

func (p *Feedback) readFrom(r *packet.Reader, h *header) error {
	p.FeedbackType = h.packetType
	p.FmtCount = h.count
	if h.length < 2 {
		return errors.Errorf("rtcp: %w: feedback packet too short %+v", errs.ErrMalformedRtcp, h)
	}
	if err := r.CheckRemaining(8); err != nil {
		return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
	}
	p.Sender = r.ReadUint32()
	p.Media = r.ReadUint32()
	remaining := 4*h.length - 8
	if err := r.CheckRemaining(remaining); err != nil {
		return errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
	}
	p.Payload = r.ReadSlice(remaining)
	return nil
}

// Parse parses a compound RTCP packet into its constituent reports. It
// validates the length field of each sub-report and stops, returning
// ErrMalformedRtcp, on the first inconsistency.
func Parse(buf []byte) ([]Packet, error) {
	r := packet.NewReader(buf)
	var packets []Packet
	for r.Remaining() > 0 {
		if err := r.CheckRemaining(headerSize); err != nil {
			return packets, errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
		}

		var h header
		if err := h.readFrom(r); err != nil {
			return packets, err
		}
		if err := r.CheckRemaining(4 * h.length); err != nil {
			return packets, errors.Errorf("rtcp: %w: %v", errs.ErrMalformedRtcp, err)
		}

		var p Packet
		switch h.packetType {
		case TypeSenderReport:
			p = new(SenderReport)
		case TypeReceiverReport:
			p = new(ReceiverReport)
		case TypeSourceDescription:
			p = new(SourceDescription)
		case TypeGoodbye:
			p = new(Goodbye)
		case TypeTransportFeedback, TypePayloadFeedback:
			p = new(Feedback)
		default:
			log.Debug("ignoring unimplemented RTCP packet type %d", h.packetType)
			r.Skip(4 * h.length)
			continue
		}

		if err := p.readFrom(r, &h); err != nil {
			return packets, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// Marshal serializes a sequence of RTCP packets into a single compound
// packet.
func Marshal(buf []byte, packets ...Packet) (int, error) {
	w := packet.NewWriter(buf)
	for _, p := range packets {
		if err := p.writeTo(w); err != nil {
			return 0, err
		}
	}
	return w.Length(), nil
}

func splitByte215(v byte) (a2 byte, b1 bool, c5 byte) {
	a2 = v >> 6
	b1 = ((v >> 5) & 0x01) == 1
	c5 = v & 0x1f
	return
}

func joinByte215(a2 byte, b1 bool, c5 byte) byte {
	v := (a2 << 6) | (c5 & 0x1f)
	if b1 {
		v |= 0x20
	}
	return v
}
