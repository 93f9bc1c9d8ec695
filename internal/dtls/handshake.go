package dtls

import (
	"encoding/binary"
)

type handshakeType uint8

const (
	handshakeHelloRequest       handshakeType = 0
	handshakeClientHello        handshakeType = 1
	handshakeServerHello        handshakeType = 2
	handshakeHelloVerifyRequest handshakeType = 3
	handshakeCertificate        handshakeType = 11
	handshakeServerKeyExchange  handshakeType = 12
	handshakeCertificateRequest handshakeType = 13
	handshakeServerHelloDone    handshakeType = 14
	handshakeCertificateVerify  handshakeType = 15
	handshakeClientKeyExchange  handshakeType = 16
	handshakeFinished           handshakeType = 20
)

const handshakeHeaderLen = 12

// handshakeMessage is a single reassembled (non-fragmented) handshake
// message: header fields plus the raw body understood by the specific
// message's unmarshal function. Message fragmentation across DTLS records
// is not implemented; every handshake message here is small enough to fit
// one record, which holds for the cipher suite and certificate sizes this
// transport uses.
type handshakeMessage struct {
	msgType       handshakeType
	messageSeq    uint16
	body          []byte // unparsed; caller dispatches on msgType
	raw           []byte // header + body, for transcript hashing
}

func marshalHandshake(msgType handshakeType, messageSeq uint16, body []byte) []byte {
	b := make([]byte, handshakeHeaderLen+len(body))
	b[0] = byte(msgType)
	putUint24(b[1:4], uint32(len(body)))
	binary.BigEndian.PutUint16(b[4:6], messageSeq)
	putUint24(b[6:9], 0) // fragment offset
	putUint24(b[9:12], uint32(len(body)))
	copy(b[12:], body)
	return b
}

func unmarshalHandshake(b []byte) (*handshakeMessage, error) {
	if len(b) < handshakeHeaderLen {
		return nil, errShortBuffer
	}
	length := int(getUint24(b[1:4]))
	fragOffset := int(getUint24(b[6:9]))
	fragLength := int(getUint24(b[9:12]))
	if fragOffset != 0 || fragLength != length {
		// A fragmented message; unsupported by this transport.
		return nil, errUnexpectedMessage
	}
	if len(b) < handshakeHeaderLen+length {
		return nil, errShortBuffer
	}
	return &handshakeMessage{
		msgType:    handshakeType(b[0]),
		messageSeq: binary.BigEndian.Uint16(b[4:6]),
		body:       b[handshakeHeaderLen : handshakeHeaderLen+length],
		raw:        b[:handshakeHeaderLen+length],
	}, nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Extension types used by this transport (RFC 5764, RFC 4492).
const (
	extUseSRTP             uint16 = 14
	extSupportedGroups     uint16 = 10
	extECPointFormats      uint16 = 11
	extSignatureAlgorithms uint16 = 13
)

// srtpProfileAES128CmHmacSha1_80 is the only SRTP protection profile this
// transport offers or accepts (RFC 5764 §4.1.2), matching the
// AesCm/HmacSha1_80 policy internal/srtp implements.
const srtpProfileAES128CmHmacSha1_80 uint16 = 0x0001

const curveSecp256r1 uint16 = 23 // "named_curve" value for P-256, RFC 4492 §5.1.1

func marshalExtensions(exts map[uint16][]byte) []byte {
	var body []byte
	for _, t := range []uint16{extUseSRTP, extSupportedGroups, extECPointFormats, extSignatureAlgorithms} {
		data, ok := exts[t]
		if !ok {
			continue
		}
		e := make([]byte, 4+len(data))
		binary.BigEndian.PutUint16(e[0:2], t)
		binary.BigEndian.PutUint16(e[2:4], uint16(len(data)))
		copy(e[4:], data)
		body = append(body, e...)
	}
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(body)))
	copy(out[2:], body)
	return out
}

func parseExtensions(b []byte) (map[uint16][]byte, error) {
	exts := make(map[uint16][]byte)
	if len(b) < 2 {
		return exts, nil
	}
	total := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	if len(b) < total {
		return nil, errShortBuffer
	}
	b = b[:total]
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, errShortBuffer
		}
		t := binary.BigEndian.Uint16(b[0:2])
		n := int(binary.BigEndian.Uint16(b[2:4]))
		if len(b) < 4+n {
			return nil, errShortBuffer
		}
		exts[t] = b[4 : 4+n]
		b = b[4+n:]
	}
	return exts, nil
}

func useSRTPExtension(profile uint16) []byte {
	b := make([]byte, 2+2+1)
	binary.BigEndian.PutUint16(b[0:2], 2)
	binary.BigEndian.PutUint16(b[2:4], profile)
	b[4] = 0 // empty MKI
	return b
}

func parseUseSRTPProfile(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, errShortBuffer
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	if len(b) < 2+n || n < 2 {
		return 0, errShortBuffer
	}
	return binary.BigEndian.Uint16(b[2:4]), nil
}

// --- ClientHello / ServerHello / HelloVerifyRequest ---

type helloRandom struct {
	gmtUnixTime uint32
	random      [28]byte
}

func (r helloRandom) marshal() []byte {
	b := make([]byte, 32)
	binary.BigEndian.PutUint32(b[0:4], r.gmtUnixTime)
	copy(b[4:], r.random[:])
	return b
}

func parseHelloRandom(b []byte) (helloRandom, error) {
	var r helloRandom
	if len(b) < 32 {
		return r, errShortBuffer
	}
	r.gmtUnixTime = binary.BigEndian.Uint32(b[0:4])
	copy(r.random[:], b[4:32])
	return r, nil
}

type clientHelloMsg struct {
	version      protocolVersion
	random       helloRandom
	sessionID    []byte
	cookie       []byte
	cipherSuites []uint16
	extensions   map[uint16][]byte
}

// cipherSuiteECDHEECDSAWithAES128CBCSHA is the single cipher suite this
// transport offers, matching the superseded draft's DTLS_ECDHE_ECDSA_
// WITH_AES_128_CBC_SHA and RFC 5764's mandatory-to-implement profile.
const cipherSuiteECDHEECDSAWithAES128CBCSHA uint16 = 0xC009

func (m *clientHelloMsg) marshal() []byte {
	var b []byte
	head := make([]byte, 2)
	binary.BigEndian.PutUint16(head, uint16(m.version))
	b = append(b, head...)
	b = append(b, m.random.marshal()...)
	b = append(b, byte(len(m.sessionID)))
	b = append(b, m.sessionID...)
	b = append(b, byte(len(m.cookie)))
	b = append(b, m.cookie...)

	cs := make([]byte, 2+2*len(m.cipherSuites))
	binary.BigEndian.PutUint16(cs[0:2], uint16(2*len(m.cipherSuites)))
	for i, s := range m.cipherSuites {
		binary.BigEndian.PutUint16(cs[2+2*i:4+2*i], s)
	}
	b = append(b, cs...)

	b = append(b, 1, 0) // one compression method: null
	b = append(b, marshalExtensions(m.extensions)...)
	return b
}

func parseClientHello(b []byte) (*clientHelloMsg, error) {
	if len(b) < 34 {
		return nil, errShortBuffer
	}
	m := &clientHelloMsg{version: protocolVersion(binary.BigEndian.Uint16(b[0:2]))}
	var err error
	m.random, err = parseHelloRandom(b[2:34])
	if err != nil {
		return nil, err
	}
	off := 34
	slen := int(b[off])
	off++
	if len(b) < off+slen {
		return nil, errShortBuffer
	}
	m.sessionID = b[off : off+slen]
	off += slen

	if len(b) < off+1 {
		return nil, errShortBuffer
	}
	clen := int(b[off])
	off++
	if len(b) < off+clen {
		return nil, errShortBuffer
	}
	m.cookie = b[off : off+clen]
	off += clen

	if len(b) < off+2 {
		return nil, errShortBuffer
	}
	csLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if len(b) < off+csLen {
		return nil, errShortBuffer
	}
	for i := 0; i < csLen/2; i++ {
		m.cipherSuites = append(m.cipherSuites, binary.BigEndian.Uint16(b[off+2*i:off+2*i+2]))
	}
	off += csLen

	if len(b) < off+1 {
		return nil, errShortBuffer
	}
	cmLen := int(b[off])
	off += 1 + cmLen
	if len(b) < off {
		return nil, errShortBuffer
	}

	m.extensions, err = parseExtensions(b[off:])
	if err != nil {
		return nil, err
	}
	return m, nil
}

type serverHelloMsg struct {
	version     protocolVersion
	random      helloRandom
	sessionID   []byte
	cipherSuite uint16
	extensions  map[uint16][]byte
}

func (m *serverHelloMsg) marshal() []byte {
	var b []byte
	head := make([]byte, 2)
	binary.BigEndian.PutUint16(head, uint16(m.version))
	b = append(b, head...)
	b = append(b, m.random.marshal()...)
	b = append(b, byte(len(m.sessionID)))
	b = append(b, m.sessionID...)
	cs := make([]byte, 2)
	binary.BigEndian.PutUint16(cs, m.cipherSuite)
	b = append(b, cs...)
	b = append(b, 0) // compression method: null
	b = append(b, marshalExtensions(m.extensions)...)
	return b
}

func parseServerHello(b []byte) (*serverHelloMsg, error) {
	if len(b) < 34 {
		return nil, errShortBuffer
	}
	m := &serverHelloMsg{version: protocolVersion(binary.BigEndian.Uint16(b[0:2]))}
	var err error
	m.random, err = parseHelloRandom(b[2:34])
	if err != nil {
		return nil, err
	}
	off := 34
	slen := int(b[off])
	off++
	if len(b) < off+slen+3 {
		return nil, errShortBuffer
	}
	m.sessionID = b[off : off+slen]
	off += slen
	m.cipherSuite = binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	off++ // compression method
	m.extensions, err = parseExtensions(b[off:])
	if err != nil {
		return nil, err
	}
	return m, nil
}

type helloVerifyRequestMsg struct {
	version protocolVersion
	cookie  []byte
}

func (m *helloVerifyRequestMsg) marshal() []byte {
	b := make([]byte, 3+len(m.cookie))
	binary.BigEndian.PutUint16(b[0:2], uint16(m.version))
	b[2] = byte(len(m.cookie))
	copy(b[3:], m.cookie)
	return b
}

func parseHelloVerifyRequest(b []byte) (*helloVerifyRequestMsg, error) {
	if len(b) < 3 {
		return nil, errShortBuffer
	}
	m := &helloVerifyRequestMsg{version: protocolVersion(binary.BigEndian.Uint16(b[0:2]))}
	clen := int(b[2])
	if len(b) < 3+clen {
		return nil, errShortBuffer
	}
	m.cookie = b[3 : 3+clen]
	return m, nil
}

// --- Certificate ---

func marshalCertificateMessage(der [][]byte) []byte {
	var list []byte
	for _, c := range der {
		entry := make([]byte, 3+len(c))
		putUint24(entry[0:3], uint32(len(c)))
		copy(entry[3:], c)
		list = append(list, entry...)
	}
	b := make([]byte, 3+len(list))
	putUint24(b[0:3], uint32(len(list)))
	copy(b[3:], list)
	return b
}

func parseCertificateMessage(b []byte) ([][]byte, error) {
	if len(b) < 3 {
		return nil, errShortBuffer
	}
	total := int(getUint24(b[0:3]))
	b = b[3:]
	if len(b) < total {
		return nil, errShortBuffer
	}
	b = b[:total]
	var certs [][]byte
	for len(b) > 0 {
		if len(b) < 3 {
			return nil, errShortBuffer
		}
		n := int(getUint24(b[0:3]))
		if len(b) < 3+n {
			return nil, errShortBuffer
		}
		certs = append(certs, b[3:3+n])
		b = b[3+n:]
	}
	return certs, nil
}

// --- ServerKeyExchange (ECDHE) ---

const curveTypeNamedCurve = 3

type serverKeyExchangeMsg struct {
	namedCurve uint16
	publicKey  []byte
	hashAlg    uint8
	sigAlg     uint8
	signature  []byte
}

func (m *serverKeyExchangeMsg) marshal() []byte {
	var b []byte
	b = append(b, curveTypeNamedCurve)
	nc := make([]byte, 2)
	binary.BigEndian.PutUint16(nc, m.namedCurve)
	b = append(b, nc...)
	b = append(b, byte(len(m.publicKey)))
	b = append(b, m.publicKey...)
	b = append(b, m.hashAlg, m.sigAlg)
	sl := make([]byte, 2)
	binary.BigEndian.PutUint16(sl, uint16(len(m.signature)))
	b = append(b, sl...)
	b = append(b, m.signature...)
	return b
}

// serverKeyExchangeParams returns the byte range that the signature in a
// ServerKeyExchange message covers: client_random + server_random +
// curve params + public key, per RFC 4492 §5.4.
func serverKeyExchangeParams(clientRandom, serverRandom [32]byte, namedCurve uint16, publicKey []byte) []byte {
	var b []byte
	b = append(b, clientRandom[:]...)
	b = append(b, serverRandom[:]...)
	b = append(b, curveTypeNamedCurve)
	nc := make([]byte, 2)
	binary.BigEndian.PutUint16(nc, namedCurve)
	b = append(b, nc...)
	b = append(b, byte(len(publicKey)))
	b = append(b, publicKey...)
	return b
}

func parseServerKeyExchange(b []byte) (*serverKeyExchangeMsg, error) {
	if len(b) < 4 || b[0] != curveTypeNamedCurve {
		return nil, errUnexpectedMessage
	}
	m := &serverKeyExchangeMsg{namedCurve: binary.BigEndian.Uint16(b[1:3])}
	off := 3
	pklen := int(b[off])
	off++
	if len(b) < off+pklen+4 {
		return nil, errShortBuffer
	}
	m.publicKey = b[off : off+pklen]
	off += pklen
	m.hashAlg = b[off]
	m.sigAlg = b[off+1]
	off += 2
	siglen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if len(b) < off+siglen {
		return nil, errShortBuffer
	}
	m.signature = b[off : off+siglen]
	return m, nil
}

// --- ClientKeyExchange ---

func marshalClientKeyExchange(publicKey []byte) []byte {
	b := make([]byte, 1+len(publicKey))
	b[0] = byte(len(publicKey))
	copy(b[1:], publicKey)
	return b
}

func parseClientKeyExchange(b []byte) ([]byte, error) {
	if len(b) < 1 {
		return nil, errShortBuffer
	}
	n := int(b[0])
	if len(b) < 1+n {
		return nil, errShortBuffer
	}
	return b[1 : 1+n], nil
}

// --- Finished ---

const verifyDataLength = 12

func marshalFinished(verifyData []byte) []byte {
	b := make([]byte, len(verifyData))
	copy(b, verifyData)
	return b
}
