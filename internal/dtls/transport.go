// Package dtls implements a DTLS 1.2 (RFC 6347) handshake scoped to what
// DTLS-SRTP (RFC 5764) needs: a single ECDHE-ECDSA key exchange, fingerprint-
// only peer certificate verification, and a keying-material exporter. It
// does not implement the general DTLS record/application-data layer,
// renegotiation, or session resumption; after Finished this package hands
// its caller exported key material and steps aside, matching this
// embedding's generateAnswer-less, signaling-driven handshake flow.
//
// This package has no teacher-provided implementation to adapt: the
// teacher's own internal/dtls held two empty test files and a stray nested
// go.mod, and the one substantial draft in the retrieved pack (a
// superseded root-level dtls.go) only built a ClientHello and never
// finished a handshake in either direction. This package is grounded
// instead directly on RFC 6347 (record/handshake layer) and RFC 5764
// (the use_srtp extension and exporter), reusing the draft's constant
// names (ContentType, HandshakeType values, the ECDHE-ECDSA-AES-128-CBC-
// SHA cipher suite) where they already matched the RFC.
package dtls

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net"
	"time"

	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/logging"
)

var log = logging.DefaultLogger.WithTag("dtls")

// Role is this side's DTLS role, determined by the SDP setup attribute
// negotiation (spec §4.4): local setup=active means this side dials as
// the DTLS client; setup=passive means this side listens as the DTLS
// server.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// HandshakeTimeout is the default deadline for a complete handshake
// (spec §4.4).
const HandshakeTimeout = 30 * time.Second

// Certificate is the local self-signed identity. DER is the ASN.1
// DER-encoded X.509 certificate; PrivateKey signs the ServerKeyExchange.
// Both are used only in the server role: in the client role this
// transport sends no Certificate message and signs nothing.
type Certificate struct {
	DER        []byte
	PrivateKey *ecdsa.PrivateKey
}

// Keys is the 60 bytes of keying material exported after a successful
// handshake, split per RFC 5764 §4.2 into per-direction SRTP master
// key/salt pairs.
type Keys struct {
	ClientWriteKey, ServerWriteKey   []byte // 16 bytes each
	ClientWriteSalt, ServerWriteSalt []byte // 14 bytes each
}

// LocalKeys and RemoteKeys pick the (key, salt) pair this side should feed
// to its send and receive SrtpContext respectively (spec §4.4).
func (k Keys) LocalKeys(role Role) (key, salt []byte) {
	if role == RoleClient {
		return k.ClientWriteKey, k.ClientWriteSalt
	}
	return k.ServerWriteKey, k.ServerWriteSalt
}

func (k Keys) RemoteKeys(role Role) (key, salt []byte) {
	if role == RoleClient {
		return k.ServerWriteKey, k.ServerWriteSalt
	}
	return k.ClientWriteKey, k.ClientWriteSalt
}

// Transport drives one DTLS-SRTP handshake over an already-connected
// net.Conn (normally the ICE agent's selected-pair ChannelConn). It is
// single-use: construct one per PeerConnection, call Handshake once.
type Transport struct {
	conn              net.Conn
	role              Role
	cert              Certificate
	remoteFingerprint string // "sha-256 AA:BB:..." from the remote SDP

	writeEpoch, readEpoch     uint16
	writeSeq                  uint64
	sendMsgSeq, recvMsgSeq    uint16
	transcript                []byte
	cipher                    *recordCipher // nil until ChangeCipherSpec
	clientRandom, serverRandom [32]byte

	keys *Keys
}

// NewTransport constructs a handshake driver. remoteFingerprint is the
// value of the remote SDP's a=fingerprint attribute. In the client role it
// is checked against the server's certificate before the handshake
// continues. In the server role no client certificate is requested or
// received, so remoteFingerprint is not compared against anything.
func NewTransport(conn net.Conn, cert Certificate, role Role, remoteFingerprint string) *Transport {
	return &Transport{
		conn:              conn,
		role:              role,
		cert:              cert,
		remoteFingerprint: remoteFingerprint,
	}
}

// Handshake runs the full handshake and blocks until it completes,
// ctx is canceled, or HandshakeTimeout elapses. On success, Keys returns
// the exported SRTP keying material.
func (t *Transport) Handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.run() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Unblock the handshake goroutine's pending Read/Write so it doesn't
		// leak past this call.
		t.conn.Close()
		return errs.ErrDtlsTimeout
	}
}

// Keys returns the exported keying material. Valid only after a
// successful Handshake.
func (t *Transport) Keys() *Keys {
	return t.keys
}

func (t *Transport) run() error {
	if t.remoteFingerprint == "" {
		return errFingerprintMissing
	}
	if t.role == RoleClient {
		return t.runClient()
	}
	return t.runServer()
}

func (t *Transport) runClient() error {
	kp, err := generateECDHEKeyPair()
	if err != nil {
		return err
	}

	clientRandom := helloRandom{gmtUnixTime: uint32(time.Now().Unix())}
	if _, err := rand.Read(clientRandom.random[:]); err != nil {
		return err
	}
	copy(t.clientRandom[:], clientRandom.marshal())

	hello := &clientHelloMsg{
		version:      versionDTLS12,
		random:       clientRandom,
		cipherSuites: []uint16{cipherSuiteECDHEECDSAWithAES128CBCSHA},
		extensions: map[uint16][]byte{
			extUseSRTP: useSRTPExtension(srtpProfileAES128CmHmacSha1_80),
		},
	}
	if err := t.sendHandshake(handshakeClientHello, hello.marshal()); err != nil {
		return err
	}

	msg, err := t.recvHandshake()
	if err != nil {
		return err
	}
	if msg.msgType == handshakeHelloVerifyRequest {
		hvr, err := parseHelloVerifyRequest(msg.body)
		if err != nil {
			return err
		}
		// Restart the transcript: HelloVerifyRequest and the first
		// ClientHello are excluded from the Finished hash (RFC 6347 §4.2.1).
		t.transcript = nil
		t.sendMsgSeq = 0
		hello.cookie = hvr.cookie
		if err := t.sendHandshake(handshakeClientHello, hello.marshal()); err != nil {
			return err
		}
		msg, err = t.recvHandshake()
		if err != nil {
			return err
		}
	}

	if msg.msgType != handshakeServerHello {
		return errUnexpectedMessage
	}
	sh, err := parseServerHello(msg.body)
	if err != nil {
		return err
	}
	if sh.cipherSuite != cipherSuiteECDHEECDSAWithAES128CBCSHA {
		return errors.New("dtls: unsupported cipher suite selected")
	}
	copy(t.serverRandom[:], sh.random.marshal())

	certMsg, err := t.recvHandshake()
	if err != nil {
		return err
	}
	if certMsg.msgType != handshakeCertificate {
		return errUnexpectedMessage
	}
	peerCerts, err := parseCertificateMessage(certMsg.body)
	if err != nil || len(peerCerts) == 0 {
		return errCertificateInvalid
	}
	if !verifyFingerprint(t.remoteFingerprint, peerCerts[0]) {
		return errs.ErrFingerprintMismatch
	}

	skeMsg, err := t.recvHandshake()
	if err != nil {
		return err
	}
	if skeMsg.msgType != handshakeServerKeyExchange {
		return errUnexpectedMessage
	}
	ske, err := parseServerKeyExchange(skeMsg.body)
	if err != nil {
		return err
	}
	params := serverKeyExchangeParams(t.clientRandom, t.serverRandom, ske.namedCurve, ske.publicKey)
	if err := verifyServerKeyExchange(peerCerts[0], params, ske.signature); err != nil {
		return err
	}

	doneMsg, err := t.recvHandshake()
	if err != nil {
		return err
	}
	if doneMsg.msgType != handshakeServerHelloDone {
		return errUnexpectedMessage
	}

	premaster, err := kp.sharedSecret(ske.publicKey)
	if err != nil {
		return err
	}
	master := masterSecret(premaster, t.clientRandom[:], t.serverRandom[:])

	if err := t.sendHandshake(handshakeClientKeyExchange, marshalClientKeyExchange(kp.pub)); err != nil {
		return err
	}

	keyMat := deriveKeyMaterial(master, t.clientRandom[:], t.serverRandom[:])
	rc, err := newRecordCipher(keyMat.clientWriteKey, keyMat.clientMACKey)
	if err != nil {
		return err
	}

	if err := t.sendChangeCipherSpec(); err != nil {
		return err
	}
	t.writeEpoch++
	t.writeSeq = 0
	t.cipher = rc

	verifyData := prf12(master, []byte("client finished"), transcriptHash(t.transcript), verifyDataLength)
	if err := t.sendHandshake(handshakeFinished, marshalFinished(verifyData)); err != nil {
		return err
	}

	if err := t.recvChangeCipherSpec(); err != nil {
		return err
	}
	t.readEpoch++
	serverRC, err := newRecordCipher(keyMat.serverWriteKey, keyMat.serverMACKey)
	if err != nil {
		return err
	}
	serverFinishedTranscript := transcriptHash(t.transcript)

	finMsg, err := t.recvHandshakeWithCipher(serverRC)
	if err != nil {
		return err
	}
	if finMsg.msgType != handshakeFinished {
		return errUnexpectedMessage
	}
	wantVerify := prf12(master, []byte("server finished"), serverFinishedTranscript, verifyDataLength)
	if !hmacEqual(finMsg.body, wantVerify) {
		return errs.ErrDtlsHandshakeFailed
	}

	exported := exportKeyingMaterial(master, t.clientRandom[:], t.serverRandom[:], 60)
	t.keys = splitExportedKeys(exported)
	log.Info("client handshake complete")
	return nil
}

func (t *Transport) runServer() error {
	msg, err := t.recvHandshake()
	if err != nil {
		return err
	}
	if msg.msgType != handshakeClientHello {
		return errUnexpectedMessage
	}
	ch, err := parseClientHello(msg.body)
	if err != nil {
		return err
	}

	if len(ch.cookie) == 0 {
		cookie := make([]byte, 20)
		if _, err := rand.Read(cookie); err != nil {
			return err
		}
		t.transcript = nil
		t.recvMsgSeq = 0
		if err := t.sendHandshake(handshakeHelloVerifyRequest, (&helloVerifyRequestMsg{version: versionDTLS12, cookie: cookie}).marshal()); err != nil {
			return err
		}
		// HelloVerifyRequest itself is excluded from the transcript.
		t.transcript = nil

		msg, err = t.recvHandshake()
		if err != nil {
			return err
		}
		if msg.msgType != handshakeClientHello {
			return errUnexpectedMessage
		}
		ch, err = parseClientHello(msg.body)
		if err != nil {
			return err
		}
		if len(ch.cookie) != len(cookie) || string(ch.cookie) != string(cookie) {
			return errBadCookie
		}
	}
	copy(t.clientRandom[:], ch.random.marshal())

	if !containsCipherSuite(ch.cipherSuites, cipherSuiteECDHEECDSAWithAES128CBCSHA) {
		return errors.New("dtls: client offered no supported cipher suite")
	}
	clientProfile, err := parseUseSRTPProfile(ch.extensions[extUseSRTP])
	if err != nil || clientProfile != srtpProfileAES128CmHmacSha1_80 {
		return errors.New("dtls: client did not offer a supported SRTP protection profile")
	}

	serverRandom := helloRandom{gmtUnixTime: uint32(time.Now().Unix())}
	if _, err := rand.Read(serverRandom.random[:]); err != nil {
		return err
	}
	copy(t.serverRandom[:], serverRandom.marshal())

	sh := &serverHelloMsg{
		version:     versionDTLS12,
		random:      serverRandom,
		cipherSuite: cipherSuiteECDHEECDSAWithAES128CBCSHA,
		extensions: map[uint16][]byte{
			extUseSRTP: useSRTPExtension(srtpProfileAES128CmHmacSha1_80),
		},
	}
	if err := t.sendHandshake(handshakeServerHello, sh.marshal()); err != nil {
		return err
	}
	if err := t.sendHandshake(handshakeCertificate, marshalCertificateMessage([][]byte{t.cert.DER})); err != nil {
		return err
	}

	kp, err := generateECDHEKeyPair()
	if err != nil {
		return err
	}
	params := serverKeyExchangeParams(t.clientRandom, t.serverRandom, curveSecp256r1, kp.pub)
	sig, err := signServerKeyExchange(t.cert.PrivateKey, params)
	if err != nil {
		return err
	}
	ske := &serverKeyExchangeMsg{
		namedCurve: curveSecp256r1,
		publicKey:  kp.pub,
		hashAlg:    0x04, // sha256
		sigAlg:     0x03, // ecdsa
		signature:  sig,
	}
	if err := t.sendHandshake(handshakeServerKeyExchange, ske.marshal()); err != nil {
		return err
	}
	if err := t.sendHandshake(handshakeServerHelloDone, nil); err != nil {
		return err
	}

	ckeMsg, err := t.recvHandshake()
	if err != nil {
		return err
	}
	if ckeMsg.msgType != handshakeClientKeyExchange {
		return errUnexpectedMessage
	}
	clientPub, err := parseClientKeyExchange(ckeMsg.body)
	if err != nil {
		return err
	}

	premaster, err := kp.sharedSecret(clientPub)
	if err != nil {
		return err
	}
	master := masterSecret(premaster, t.clientRandom[:], t.serverRandom[:])
	keyMat := deriveKeyMaterial(master, t.clientRandom[:], t.serverRandom[:])

	clientFinishedTranscript := transcriptHash(t.transcript)
	clientRC, err := newRecordCipher(keyMat.clientWriteKey, keyMat.clientMACKey)
	if err != nil {
		return err
	}
	if err := t.recvChangeCipherSpec(); err != nil {
		return err
	}
	t.readEpoch++

	finMsg, err := t.recvHandshakeWithCipher(clientRC)
	if err != nil {
		return err
	}
	if finMsg.msgType != handshakeFinished {
		return errUnexpectedMessage
	}
	wantVerify := prf12(master, []byte("client finished"), clientFinishedTranscript, verifyDataLength)
	if !hmacEqual(finMsg.body, wantVerify) {
		return errs.ErrDtlsHandshakeFailed
	}

	serverRC, err := newRecordCipher(keyMat.serverWriteKey, keyMat.serverMACKey)
	if err != nil {
		return err
	}
	if err := t.sendChangeCipherSpec(); err != nil {
		return err
	}
	t.writeEpoch++
	t.writeSeq = 0
	t.cipher = serverRC

	verifyData := prf12(master, []byte("server finished"), transcriptHash(t.transcript), verifyDataLength)
	if err := t.sendHandshake(handshakeFinished, marshalFinished(verifyData)); err != nil {
		return err
	}

	exported := exportKeyingMaterial(master, t.clientRandom[:], t.serverRandom[:], 60)
	t.keys = splitExportedKeys(exported)
	log.Info("server handshake complete")
	return nil
}

func containsCipherSuite(suites []uint16, want uint16) bool {
	for _, s := range suites {
		if s == want {
			return true
		}
	}
	return false
}

func splitExportedKeys(material []byte) *Keys {
	return &Keys{
		ClientWriteKey:  material[0:16],
		ServerWriteKey:  material[16:32],
		ClientWriteSalt: material[32:46],
		ServerWriteSalt: material[46:60],
	}
}

func transcriptHash(transcript []byte) []byte {
	h := sha256.Sum256(transcript)
	return h[:]
}

func hmacEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// --- record-level send/receive ---

func (t *Transport) sendHandshake(msgType handshakeType, body []byte) error {
	msg := marshalHandshake(msgType, t.sendMsgSeq, body)
	t.sendMsgSeq++
	t.transcript = append(t.transcript, msg...)

	payload := msg
	if t.cipher != nil {
		sealed, err := t.cipher.seal(contentHandshake, t.writeEpoch, t.writeSeq, msg)
		if err != nil {
			return err
		}
		payload = sealed
	}
	r := record{contentType: contentHandshake, version: versionDTLS12, epoch: t.writeEpoch, sequenceNumber: t.writeSeq, payload: payload}
	t.writeSeq++
	_, err := t.conn.Write(r.marshal())
	return err
}

func (t *Transport) sendChangeCipherSpec() error {
	r := record{contentType: contentChangeCipherSpec, version: versionDTLS12, epoch: t.writeEpoch, sequenceNumber: t.writeSeq, payload: []byte{1}}
	t.writeSeq++
	_, err := t.conn.Write(r.marshal())
	return err
}

func (t *Transport) recvChangeCipherSpec() error {
	r, err := t.recvRecord()
	if err != nil {
		return err
	}
	if r.contentType == contentAlert {
		return t.handleAlert(r.payload)
	}
	if r.contentType != contentChangeCipherSpec {
		return errUnexpectedMessage
	}
	return nil
}

func (t *Transport) recvHandshake() (*handshakeMessage, error) {
	return t.recvHandshakeWithCipher(nil)
}

func (t *Transport) recvHandshakeWithCipher(rc *recordCipher) (*handshakeMessage, error) {
	r, err := t.recvRecord()
	if err != nil {
		return nil, err
	}
	if r.contentType == contentAlert {
		return nil, t.handleAlert(r.payload)
	}
	if r.contentType != contentHandshake {
		return nil, errUnexpectedMessage
	}
	body := r.payload
	if rc != nil {
		body, err = rc.open(contentHandshake, r.epoch, r.sequenceNumber, r.payload)
		if err != nil {
			return nil, err
		}
	}
	msg, err := unmarshalHandshake(body)
	if err != nil {
		return nil, err
	}
	t.recvMsgSeq++
	if msg.msgType != handshakeHelloVerifyRequest {
		t.transcript = append(t.transcript, msg.raw...)
	}
	return msg, nil
}

func (t *Transport) recvRecord() (*record, error) {
	buf := make([]byte, 4096)
	n, err := t.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	records, err := unmarshalRecords(buf[:n])
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errShortBuffer
	}
	return &records[0], nil
}

func (t *Transport) handleAlert(payload []byte) error {
	if len(payload) < 2 {
		return errUnexpectedMessage
	}
	return &PeerAlert{Level: payload[0], Description: payload[1]}
}

// Close sends a CloseNotify alert. It does not close the underlying
// net.Conn, which is owned by the ICE agent.
func (t *Transport) Close() error {
	r := record{
		contentType:    contentAlert,
		version:        versionDTLS12,
		epoch:          t.writeEpoch,
		sequenceNumber: t.writeSeq,
		payload:        []byte{AlertLevelWarning, AlertCloseNotify},
	}
	t.writeSeq++
	_, err := t.conn.Write(r.marshal())
	return err
}
