package dtls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordMarshalUnmarshal(t *testing.T) {
	r := record{
		contentType:    contentHandshake,
		version:        versionDTLS12,
		epoch:          3,
		sequenceNumber: 0x1234,
		payload:        []byte("hello"),
	}
	b := r.marshal()

	got, err := unmarshalRecords(b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, r.contentType, got[0].contentType)
	require.Equal(t, r.version, got[0].version)
	require.Equal(t, r.epoch, got[0].epoch)
	require.Equal(t, r.sequenceNumber, got[0].sequenceNumber)
	require.Equal(t, r.payload, got[0].payload)
}

func TestUnmarshalRecordsConcatenated(t *testing.T) {
	r1 := record{contentType: contentHandshake, version: versionDTLS12, payload: []byte("one")}
	r2 := record{contentType: contentChangeCipherSpec, version: versionDTLS12, sequenceNumber: 1, payload: []byte{1}}

	b := append(r1.marshal(), r2.marshal()...)
	got, err := unmarshalRecords(b)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("one"), got[0].payload)
	require.Equal(t, []byte{1}, got[1].payload)
}

func TestUnmarshalRecordsRejectsTruncated(t *testing.T) {
	r := record{contentType: contentHandshake, version: versionDTLS12, payload: []byte("hello")}
	b := r.marshal()
	_, err := unmarshalRecords(b[:len(b)-2])
	require.Error(t, err)
}

func TestClientHelloMarshalParse(t *testing.T) {
	ch := &clientHelloMsg{
		version:      versionDTLS12,
		random:       helloRandom{gmtUnixTime: 1000, random: [28]byte{1, 2, 3}},
		cookie:       []byte{0xaa, 0xbb, 0xcc},
		cipherSuites: []uint16{cipherSuiteECDHEECDSAWithAES128CBCSHA},
		extensions: map[uint16][]byte{
			extUseSRTP: useSRTPExtension(srtpProfileAES128CmHmacSha1_80),
		},
	}
	b := ch.marshal()
	got, err := parseClientHello(b)
	require.NoError(t, err)
	require.Equal(t, ch.version, got.version)
	require.Equal(t, ch.cookie, got.cookie)
	require.Equal(t, ch.cipherSuites, got.cipherSuites)

	profile, err := parseUseSRTPProfile(got.extensions[extUseSRTP])
	require.NoError(t, err)
	require.Equal(t, srtpProfileAES128CmHmacSha1_80, profile)
}

func TestServerHelloMarshalParse(t *testing.T) {
	sh := &serverHelloMsg{
		version:     versionDTLS12,
		random:      helloRandom{gmtUnixTime: 2000, random: [28]byte{9, 9, 9}},
		cipherSuite: cipherSuiteECDHEECDSAWithAES128CBCSHA,
		extensions: map[uint16][]byte{
			extUseSRTP: useSRTPExtension(srtpProfileAES128CmHmacSha1_80),
		},
	}
	b := sh.marshal()
	got, err := parseServerHello(b)
	require.NoError(t, err)
	require.Equal(t, sh.version, got.version)
	require.Equal(t, sh.cipherSuite, got.cipherSuite)
}

func TestHelloVerifyRequestMarshalParse(t *testing.T) {
	hvr := &helloVerifyRequestMsg{version: versionDTLS12, cookie: []byte{1, 2, 3, 4}}
	b := hvr.marshal()
	got, err := parseHelloVerifyRequest(b)
	require.NoError(t, err)
	require.Equal(t, hvr.cookie, got.cookie)
}

func TestCertificateMessageMarshalParse(t *testing.T) {
	certs := [][]byte{[]byte("cert-one"), []byte("cert-two")}
	b := marshalCertificateMessage(certs)
	got, err := parseCertificateMessage(b)
	require.NoError(t, err)
	require.Equal(t, certs, got)
}

func TestServerKeyExchangeMarshalParse(t *testing.T) {
	ske := &serverKeyExchangeMsg{
		namedCurve: curveSecp256r1,
		publicKey:  []byte{0x04, 1, 2, 3, 4, 5},
		hashAlg:    4,
		sigAlg:     3,
		signature:  []byte{9, 8, 7},
	}
	b := ske.marshal()
	got, err := parseServerKeyExchange(b)
	require.NoError(t, err)
	require.Equal(t, ske.namedCurve, got.namedCurve)
	require.Equal(t, ske.publicKey, got.publicKey)
	require.Equal(t, ske.signature, got.signature)
}

func TestHandshakeMessageMarshalParse(t *testing.T) {
	body := []byte("handshake body")
	b := marshalHandshake(handshakeClientHello, 7, body)

	msg, err := unmarshalHandshake(b)
	require.NoError(t, err)
	require.Equal(t, handshakeClientHello, msg.msgType)
	require.Equal(t, uint16(7), msg.messageSeq)
	require.Equal(t, body, msg.body)
}
