// Package stun implements the subset of RFC 5389 STUN message
// encoding/decoding that an ICE connectivity check needs: Binding
// requests/responses/indications, XOR-MAPPED-ADDRESS, USERNAME,
// PRIORITY, USE-CANDIDATE, ICE-CONTROLLING/ICE-CONTROLLED,
// MESSAGE-INTEGRITY and FINGERPRINT.
package stun

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
	"net"

	errors "golang.org/x/xerrors"

	"github.com/mahina-labs/restreamer/internal/errs"
)

// Message classes (RFC 5389 §6).
const (
	ClassRequest         = 0
	ClassIndication      = 1
	ClassSuccessResponse = 2
	ClassErrorResponse   = 3
)

// BindingMethod is the only STUN method this module uses.
const BindingMethod = 0x1

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

var magicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}
var fingerprintXor = uint32(0x5354554e)

// Attribute types used by ICE connectivity checks.
const (
	AttrMappedAddress    = 0x0001
	AttrUsername         = 0x0006
	AttrMessageIntegrity = 0x0008
	AttrErrorCode        = 0x0009
	AttrXorMappedAddress = 0x0020
	AttrPriority         = 0x0024
	AttrUseCandidate     = 0x0025
	AttrSoftware         = 0x8022
	AttrFingerprint      = 0x8028
	AttrIceControlled    = 0x8029
	AttrIceControlling   = 0x802A
)

// Attribute is a single TLV attribute as it appears on the wire.
type Attribute struct {
	Type   uint16
	Value  []byte
}

func (a *Attribute) paddedLen() int {
	return 4 + len(a.Value) + pad4(len(a.Value))
}

func pad4(n int) int {
	return -n & 3
}

// Message is a parsed or to-be-serialized STUN message.
type Message struct {
	Class         uint16
	Method        uint16
	TransactionID [12]byte
	Attributes    []Attribute
}

// NewBindingRequest creates a Binding request with a fresh random
// transaction ID.
func NewBindingRequest() *Message {
	m := &Message{Class: ClassRequest, Method: BindingMethod}
	_, _ = rand.Read(m.TransactionID[:])
	return m
}

// NewBindingResponse creates a success response echoing tid, carrying the
// observed peer address as XOR-MAPPED-ADDRESS.
func NewBindingResponse(tid [12]byte, mapped net.Addr) *Message {
	m := &Message{Class: ClassSuccessResponse, Method: BindingMethod, TransactionID: tid}
	m.SetXorMappedAddress(mapped)
	return m
}

// NewBindingIndication creates a keepalive indication.
func NewBindingIndication() *Message {
	m := &Message{Class: ClassIndication, Method: BindingMethod}
	_, _ = rand.Read(m.TransactionID[:])
	return m
}

func composeMessageType(class, method uint16) uint16 {
	const classMask1, classMask2 = 0x0100, 0x0010
	const methodMask1, methodMask2, methodMask3 = 0x3e00, 0x00e0, 0x000f
	t := (class<<7)&classMask1 | (class<<4)&classMask2
	t |= (method<<2)&methodMask1 | (method<<1)&methodMask2 | (method & methodMask3)
	return t
}

func decomposeMessageType(t uint16) (class, method uint16) {
	const classMask1, classMask2 = 0x0100, 0x0010
	const methodMask1, methodMask2, methodMask3 = 0x3e00, 0x00e0, 0x000f
	class = (t&classMask1)>>7 | (t&classMask2)>>4
	method = (t&methodMask1)>>2 | (t&methodMask2)>>1 | (t & methodMask3)
	return
}

// IsMessage reports whether buf looks like a well-formed STUN message
// header: top two bits zero, a magic cookie, and a 4-byte-aligned length.
// This is the demultiplexing test a socket shared with DTLS/SRTP uses
// (RFC 7983 range 0-3 is a necessary but not sufficient condition; this
// checks the full header).
func IsMessage(buf []byte) bool {
	if len(buf) < headerLength {
		return false
	}
	if binary.BigEndian.Uint16(buf[0:2])>>14 != 0 {
		return false
	}
	if binary.BigEndian.Uint16(buf[2:4])%4 != 0 {
		return false
	}
	return binary.BigEndian.Uint32(buf[4:8]) == magicCookie
}

// Parse decodes a STUN message from buf.
func Parse(buf []byte) (*Message, error) {
	if !IsMessage(buf) {
		return nil, errors.Errorf("stun: %w", errs.ErrMalformedStun)
	}

	typ := binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	class, method := decomposeMessageType(typ)

	m := &Message{Class: class, Method: method}
	copy(m.TransactionID[:], buf[8:20])

	if headerLength+int(length) > len(buf) {
		return nil, errors.Errorf("stun: %w: declared length %d exceeds buffer", errs.ErrMalformedStun, length)
	}

	r := bytes.NewBuffer(buf[headerLength : headerLength+int(length)])
	for r.Len() > 0 {
		if r.Len() < 4 {
			return nil, errors.Errorf("stun: %w: truncated attribute header", errs.ErrMalformedStun)
		}
		var hdr [4]byte
		r.Read(hdr[:])
		attrType := binary.BigEndian.Uint16(hdr[0:2])
		attrLen := int(binary.BigEndian.Uint16(hdr[2:4]))
		if attrLen > r.Len() {
			return nil, errors.Errorf("stun: %w: attribute length %d exceeds remaining buffer", errs.ErrMalformedStun, attrLen)
		}
		value := make([]byte, attrLen)
		r.Read(value)
		r.Next(pad4(attrLen))
		m.Attributes = append(m.Attributes, Attribute{Type: attrType, Value: value})
	}
	return m, nil
}

// Bytes serializes the message, including any attributes added so far.
func (m *Message) Bytes() []byte {
	var body bytes.Buffer
	for _, a := range m.Attributes {
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], a.Type)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(a.Value)))
		body.Write(hdr[:])
		body.Write(a.Value)
		body.Write(make([]byte, pad4(len(a.Value))))
	}

	buf := make([]byte, headerLength+body.Len())
	binary.BigEndian.PutUint16(buf[0:2], composeMessageType(m.Class, m.Method))
	binary.BigEndian.PutUint16(buf[2:4], uint16(body.Len()))
	binary.BigEndian.PutUint32(buf[4:8], magicCookie)
	copy(buf[8:20], m.TransactionID[:])
	copy(buf[20:], body.Bytes())
	return buf
}

func (m *Message) addAttribute(t uint16, v []byte) *Attribute {
	m.Attributes = append(m.Attributes, Attribute{Type: t, Value: append([]byte(nil), v...)})
	return &m.Attributes[len(m.Attributes)-1]
}

// Attr returns the first attribute of the given type, or nil.
func (m *Message) Attr(t uint16) *Attribute {
	for i := range m.Attributes {
		if m.Attributes[i].Type == t {
			return &m.Attributes[i]
		}
	}
	return nil
}

// SetUsername adds a USERNAME attribute, e.g. "<remote-ufrag>:<local-ufrag>"
// per RFC 8445 §7.2.2.
func (m *Message) SetUsername(username string) {
	m.addAttribute(AttrUsername, []byte(username))
}

// SetPriority adds a PRIORITY attribute carrying a candidate's RFC 8445
// §5.1.2 priority.
func (m *Message) SetPriority(priority uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, priority)
	m.addAttribute(AttrPriority, v)
}

// Priority returns the value of the PRIORITY attribute, or 0 if absent.
func (m *Message) Priority() uint32 {
	if a := m.Attr(AttrPriority); a != nil {
		return binary.BigEndian.Uint32(a.Value)
	}
	return 0
}

// SetUseCandidate adds a zero-length USE-CANDIDATE attribute.
func (m *Message) SetUseCandidate() {
	m.addAttribute(AttrUseCandidate, nil)
}

// HasUseCandidate reports whether USE-CANDIDATE is present.
func (m *Message) HasUseCandidate() bool {
	return m.Attr(AttrUseCandidate) != nil
}

// SetIceControlling/SetIceControlled add the tie-breaker attributes RFC
// 8445 §7.1.3/§7.3 uses to resolve simultaneous role conflicts.
func (m *Message) SetIceControlling(tiebreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tiebreaker)
	m.addAttribute(AttrIceControlling, v)
}

func (m *Message) SetIceControlled(tiebreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tiebreaker)
	m.addAttribute(AttrIceControlled, v)
}

// SetXorMappedAddress adds an XOR-MAPPED-ADDRESS attribute encoding addr.
func (m *Message) SetXorMappedAddress(addr net.Addr) {
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	}

	var value []byte
	if v4 := ip.To4(); v4 != nil {
		value = make([]byte, 8)
		value[1] = 0x01
		copy(value[4:8], v4)
	} else {
		value = make([]byte, 20)
		value[1] = 0x02
		copy(value[4:20], ip.To16())
	}
	binary.BigEndian.PutUint16(value[2:4], uint16(port))
	xorBytes(value[2:4], magicCookieBytes[0:2])
	xorBytes(value[4:8], magicCookieBytes[:])
	xorBytes(value[8:], m.TransactionID[:])
	m.addAttribute(AttrXorMappedAddress, value)
}

// MappedAddress returns the address carried by MAPPED-ADDRESS or
// XOR-MAPPED-ADDRESS (preferring the latter), or nil if neither attribute
// is present.
func (m *Message) MappedAddress() *net.UDPAddr {
	if a := m.Attr(AttrXorMappedAddress); a != nil {
		return extractAddr(a.Value, m.TransactionID, true)
	}
	if a := m.Attr(AttrMappedAddress); a != nil {
		return extractAddr(a.Value, m.TransactionID, false)
	}
	return nil
}

func extractAddr(value []byte, tid [12]byte, doXor bool) *net.UDPAddr {
	if len(value) < 4 {
		return nil
	}
	addr := &net.UDPAddr{Port: int(binary.BigEndian.Uint16(value[2:4]))}
	switch value[1] {
	case 0x01:
		addr.IP = append([]byte(nil), value[4:8]...)
	case 0x02:
		addr.IP = append([]byte(nil), value[4:20]...)
	default:
		return nil
	}
	if doXor {
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], uint16(addr.Port))
		xorBytes(portBuf[:], magicCookieBytes[0:2])
		addr.Port = int(binary.BigEndian.Uint16(portBuf[:]))
		xorBytes(addr.IP[0:4], magicCookieBytes[:])
		if len(addr.IP) == 16 {
			xorBytes(addr.IP[4:], tid[:])
		}
	}
	return addr
}

func xorBytes(dst []byte, xor []byte) {
	for i := range dst {
		dst[i] ^= xor[i]
	}
}

// AddMessageIntegrity appends a MESSAGE-INTEGRITY attribute (RFC 5389
// §15.4): HMAC-SHA1 keyed by password, computed over the message as
// serialized up to (but not including) this attribute. Must be the last
// attribute added before AddFingerprint, and AddFingerprint (if used)
// must be the very last attribute of all.
func (m *Message) AddMessageIntegrity(password string) {
	attr := m.addAttribute(AttrMessageIntegrity, make([]byte, 20))
	b := m.Bytes()
	upTo := len(b) - attr.paddedLen()
	mac := hmac.New(sha1.New, []byte(password))
	mac.Write(b[:upTo])
	copy(attr.Value, mac.Sum(nil))
}

// VerifyMessageIntegrity recomputes the MESSAGE-INTEGRITY attribute of an
// already-parsed message and compares it against the value on the wire.
func (m *Message) VerifyMessageIntegrity(password string) bool {
	attr := m.Attr(AttrMessageIntegrity)
	if attr == nil {
		return false
	}
	// Re-derive the byte offset of this attribute by re-serializing a
	// trimmed copy: everything up to and including the attributes that
	// preceded it on the wire.
	trimmed := &Message{Class: m.Class, Method: m.Method, TransactionID: m.TransactionID}
	for _, a := range m.Attributes {
		if a.Type == AttrMessageIntegrity {
			break
		}
		trimmed.Attributes = append(trimmed.Attributes, a)
	}
	trimmed.addAttribute(AttrMessageIntegrity, make([]byte, 20))
	b := trimmed.Bytes()
	upTo := len(b) - 24 // type(2)+len(2)+value(20), no padding at 20 bytes
	mac := hmac.New(sha1.New, []byte(password))
	mac.Write(b[:upTo])
	return hmac.Equal(mac.Sum(nil), attr.Value)
}

// AddFingerprint appends a FINGERPRINT attribute (RFC 5389 §15.5): the
// CRC-32 of the message up to (but not including) this attribute, XORed
// with 0x5354554e. Must be the last attribute added.
func (m *Message) AddFingerprint() {
	attr := m.addAttribute(AttrFingerprint, make([]byte, 4))
	b := m.Bytes()
	upTo := len(b) - attr.paddedLen()
	crc := crc32.ChecksumIEEE(b[:upTo])
	binary.BigEndian.PutUint32(attr.Value, crc^fingerprintXor)
}

// VerifyFingerprint recomputes FINGERPRINT over an already-parsed
// message's trailing attribute and compares it against the wire value.
// It assumes FINGERPRINT is the last attribute, as this module always
// sends it.
func (m *Message) VerifyFingerprint() bool {
	if len(m.Attributes) == 0 {
		return false
	}
	last := m.Attributes[len(m.Attributes)-1]
	if last.Type != AttrFingerprint || len(last.Value) != 4 {
		return false
	}
	trimmed := &Message{Class: m.Class, Method: m.Method, TransactionID: m.TransactionID, Attributes: m.Attributes[:len(m.Attributes)-1]}
	b := trimmed.Bytes()
	// AddFingerprint hashed a header whose length already counted the
	// 8-byte FINGERPRINT attribute.
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)-headerLength+8))
	crc := crc32.ChecksumIEEE(b)
	return binary.BigEndian.Uint32(last.Value) == crc^fingerprintXor
}
