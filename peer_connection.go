package restreamer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	xerrors "golang.org/x/xerrors"

	"github.com/mahina-labs/restreamer/internal/dtls"
	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/ice"
	"github.com/mahina-labs/restreamer/internal/logging"
	"github.com/mahina-labs/restreamer/internal/mux"
	"github.com/mahina-labs/restreamer/internal/rtcp"
	"github.com/mahina-labs/restreamer/internal/rtp"
	"github.com/mahina-labs/restreamer/internal/sdp"
	"github.com/mahina-labs/restreamer/internal/srtp"
)

var log = logging.DefaultLogger.WithTag("pc")

// PeerState is a PeerConnection's position in the lifecycle spec §3/§4.6
// describes. Transitions are monotonic except Connected -> {Failed,
// Closed}; from any state the peer may jump to Closed.
type PeerState int

const (
	New PeerState = iota
	HaveLocalOffer
	HaveRemoteAnswer
	IceChecking
	IceConnected
	DtlsHandshaking
	Connected
	Failed
	Closed
)

func (s PeerState) String() string {
	switch s {
	case New:
		return "new"
	case HaveLocalOffer:
		return "have-local-offer"
	case HaveRemoteAnswer:
		return "have-remote-answer"
	case IceChecking:
		return "ice-checking"
	case IceConnected:
		return "ice-connected"
	case DtlsHandshaking:
		return "dtls-handshaking"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	sdpMid      = "v"
	sdpUsername = "-"

	// h264PayloadType is the only dynamic payload type this module ever
	// advertises (spec §3).
	h264PayloadType = 96

	// h264ProfileLevelID is Constrained Baseline Profile, level 3.1 --
	// the profile every browser's H264 decoder is guaranteed to support.
	h264ProfileLevelID = 0x42e01f

	ufragLength    = 8  // "16/48 char random" per spec §3, shrunk to the
	passwordLength = 32 // conventional WebRTC ICE credential lengths
)

// PeerConnection is the per-peer WebRTC orchestrator: it owns one
// IceAgent, one DtlsSrtpTransport, a send/receive SrtpContext pair, and
// the outbound RTP rewrite state, and drives the state machine spec
// §4.6 describes.
type PeerConnection struct {
	id  uuid.UUID
	cfg Config
	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state PeerState

	cert        dtls.Certificate
	fingerprint string

	localUfrag, localPassword   string
	remoteUfrag, remotePassword string
	remoteFingerprint           string
	localSetup                  sdp.Setup

	iceAgent      *ice.Agent
	dtlsRole      dtls.Role
	dtlsTransport *dtls.Transport
	mux           *mux.Mux
	srtpEndpoint  *mux.Endpoint

	sendCtx *srtp.Context
	recvCtx *srtp.Context

	outboundSSRC     uint32
	sequence         uint16
	timestampOffset  uint32
	rtcpSendIndex    uint32
	consecutiveFails int

	closeOnce sync.Once
}

// newPeerConnection constructs a PeerConnection in state New, generating
// its self-signed DTLS identity, ICE credentials, and outbound RTP
// identity up front (spec §3: outboundSsrc and timestampOffset are fixed
// for the peer's lifetime).
func newPeerConnection(parent context.Context, cfg Config) (*PeerConnection, error) {
	cert, fingerprint, err := dtls.GenerateSelfSigned()
	if err != nil {
		return nil, xerrors.Errorf("peer connection: generate certificate: %w", err)
	}

	ufrag, err := randomString(ufragLength)
	if err != nil {
		return nil, err
	}
	password, err := randomString(passwordLength)
	if err != nil {
		return nil, err
	}
	ssrc, err := randomUint32()
	if err != nil {
		return nil, err
	}
	seq, err := randomUint32()
	if err != nil {
		return nil, err
	}
	tsOffset, err := randomUint32()
	if err != nil {
		return nil, err
	}
	tiebreaker, err := randomUint64()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	id := uuid.New()
	pc := &PeerConnection{
		id:              id,
		cfg:             cfg,
		log:             log.WithTag("pc-" + id.String()[:8]),
		ctx:             ctx,
		cancel:          cancel,
		state:           New,
		cert:            cert,
		fingerprint:     fingerprint,
		localUfrag:      ufrag,
		localPassword:   password,
		outboundSSRC:    ssrc,
		sequence:        uint16(seq),
		timestampOffset: tsOffset,
		iceAgent:        ice.NewAgent(sdpMid, 1, ufrag, password, tiebreaker),
	}
	return pc, nil
}

// ID returns the peer's opaque identifier.
func (pc *PeerConnection) ID() uuid.UUID { return pc.id }

func (pc *PeerConnection) State() PeerState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

func (pc *PeerConnection) setState(s PeerState) {
	pc.mu.Lock()
	pc.state = s
	pc.mu.Unlock()
	pc.log.Info("state -> %s", s)
}

// CreateOffer gathers local host candidates and builds the SDP offer
// spec §4.6 specifies: one sendonly m=video line, BUNDLE group, ICE/DTLS
// attributes, rtpmap H264/90000, rtcp-mux, outbound ssrc/cname, and a
// candidate line per gathered host candidate plus end-of-candidates.
func (pc *PeerConnection) CreateOffer() (string, error) {
	pc.mu.Lock()
	if pc.state != New {
		pc.mu.Unlock()
		return "", xerrors.Errorf("peer connection: createOffer called in state %s", pc.state)
	}
	pc.mu.Unlock()

	candidates, err := pc.iceAgent.GatherLocalCandidates()
	if err != nil {
		return "", xerrors.Errorf("peer connection: gather candidates: %w", err)
	}

	s := sdp.Session{
		Version: 0,
		Origin: sdp.Origin{
			Username:       sdpUsername,
			SessionId:      fmt.Sprintf("%d", time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        "0.0.0.0",
		},
		Name: "-",
		Time: []sdp.Time{{}},
	}
	s.SetBundleGroup(sdpMid)

	m := sdp.Media{
		Type:  "video",
		Port:  9,
		Proto: "UDP/TLS/RTP/SAVP",
		Format: []string{
			fmt.Sprintf("%d", h264PayloadType),
		},
	}
	m.SetMid(sdpMid)
	m.SetIceCredentials(pc.localUfrag, pc.localPassword)
	m.SetIceOptions("ice2")
	m.SetFingerprint("sha-256", pc.fingerprint[len("sha-256 "):])
	m.SetSetup(sdp.SetupActpass)
	m.SetRtpmap(sdp.Rtpmap{PayloadType: h264PayloadType, EncodingName: "H264", ClockRate: 90000})
	m.SetH264Fmtp(h264PayloadType, sdp.H264FormatParameters{
		LevelAsymmetryAllowed: true,
		PacketizationMode:     1,
		ProfileLevelID:        h264ProfileLevelID,
	})
	m.SetRtcpMux()
	m.SetSendonly()
	m.SetSsrcCname(pc.outboundSSRC, "restreamer")
	for _, c := range candidates {
		m.AddCandidate(c)
	}
	m.SetEndOfCandidates()

	s.Media = append(s.Media, m)

	pc.setState(HaveLocalOffer)
	return s.String(), nil
}

// SetRemoteDescription parses the browser's SDP answer, validates it
// against the offer's media section, and -- on acceptance -- starts ICE
// connectivity checks and the DTLS-SRTP handshake in the background.
// Spec §4.6's rejection reasons are returned as errs.RejectReason values.
func (pc *PeerConnection) SetRemoteDescription(answerSdp string) errs.RejectReason {
	pc.mu.Lock()
	if pc.state != HaveLocalOffer {
		pc.mu.Unlock()
		return xerrors.Errorf("peer connection: setRemoteDescription called in state %s", pc.state)
	}
	pc.mu.Unlock()

	answer, err := sdp.ParseSession(answerSdp)
	if err != nil {
		return xerrors.Errorf("peer connection: %w: %v", errs.ErrMalformedSdp, err)
	}
	if len(answer.Media) == 0 {
		return errs.ErrNoMatchingMedia
	}

	var am *sdp.Media
	for i := range answer.Media {
		if answer.Media[i].Type == "video" {
			am = &answer.Media[i]
			break
		}
	}
	if am == nil {
		return errs.ErrNoMatchingMedia
	}
	if !hasFormat(am.Format, h264PayloadType) {
		return errs.ErrNoMatchingMedia
	}
	if !isCompatibleTransport(am.Proto) {
		return errs.ErrUnsupportedTransport
	}

	algo, hash, ok := am.Fingerprint()
	if !ok {
		algo, hash, ok = answer.Fingerprint()
	}
	if !ok {
		return errs.ErrFingerprintMissing
	}
	remoteFingerprint := algo + " " + hash
	if !validFingerprintFormat(hash) {
		return errs.ErrFingerprintInvalid
	}

	setup, ok := am.Setup()
	if !ok {
		return xerrors.Errorf("peer connection: %w: missing a=setup", errs.ErrMalformedSdp)
	}

	remoteUfrag := am.IceUfrag()
	if remoteUfrag == "" {
		remoteUfrag = answer.IceUfrag()
	}
	remotePassword := am.IcePwd()
	if remotePassword == "" {
		remotePassword = answer.IcePwd()
	}
	if remoteUfrag == "" || remotePassword == "" {
		return xerrors.Errorf("peer connection: %w: missing ice-ufrag/ice-pwd", errs.ErrMalformedSdp)
	}

	// setup:active on the answer side means the answerer dials as DTLS
	// client, so this side plays server (spec §4.6 scenario S2); a
	// setup:passive answer flips that.
	localRole := dtls.RoleClient
	if setup == sdp.SetupActive {
		localRole = dtls.RoleServer
	}

	pc.mu.Lock()
	pc.remoteUfrag = remoteUfrag
	pc.remotePassword = remotePassword
	pc.remoteFingerprint = remoteFingerprint
	pc.dtlsRole = localRole
	pc.mu.Unlock()

	pc.iceAgent.SetRemoteCredentials(remoteUfrag, remotePassword)
	candidates, err := am.Candidates()
	if err != nil {
		return xerrors.Errorf("peer connection: %w: %v", errs.ErrMalformedSdp, err)
	}
	for _, c := range candidates {
		pc.iceAgent.AddRemoteCandidate(c)
	}

	pc.setState(HaveRemoteAnswer)
	pc.setState(IceChecking)

	go pc.connect()
	return nil
}

// connect drives ICE connectivity, the DTLS-SRTP handshake, and SRTP
// context setup, transitioning the peer to Connected or Failed. It runs
// on its own goroutine, started by SetRemoteDescription.
func (pc *PeerConnection) connect() {
	go pc.iceAgent.Run(pc.ctx)

	ctx, cancel := context.WithTimeout(pc.ctx, pc.cfg.IceCheckTimeout)
	defer cancel()

	if !pc.waitForIceConnected(ctx) {
		pc.fail(errs.ErrIceTimeout)
		return
	}
	pc.setState(IceConnected)

	conn := pc.iceAgent.SelectedConn()
	if conn == nil {
		pc.fail(errs.ErrIceTimeout)
		return
	}
	m := mux.NewMux(conn, 8192)
	pc.mu.Lock()
	pc.mux = m
	pc.mu.Unlock()

	dtlsEndpoint := m.NewEndpoint(mux.MatchDTLS)
	pc.srtpEndpoint = m.NewEndpoint(mux.MatchSRTP)

	pc.mu.Lock()
	role := pc.dtlsRole
	remoteFingerprint := pc.remoteFingerprint
	pc.mu.Unlock()

	transport := dtls.NewTransport(dtlsEndpoint, pc.cert, role, remoteFingerprint)
	pc.mu.Lock()
	pc.dtlsTransport = transport
	pc.mu.Unlock()

	pc.setState(DtlsHandshaking)
	hctx, hcancel := context.WithTimeout(pc.ctx, pc.cfg.DtlsHandshakeTimeout)
	defer hcancel()
	if err := transport.Handshake(hctx); err != nil {
		pc.fail(err)
		return
	}

	keys := transport.Keys()
	localKey, localSalt := keys.LocalKeys(role)
	remoteKey, remoteSalt := keys.RemoteKeys(role)

	sendCtx, err := srtp.NewContext(localKey, localSalt)
	if err != nil {
		pc.fail(err)
		return
	}
	recvCtx, err := srtp.NewContext(remoteKey, remoteSalt)
	if err != nil {
		pc.fail(err)
		return
	}

	pc.mu.Lock()
	pc.sendCtx = sendCtx
	pc.recvCtx = recvCtx
	pc.mu.Unlock()

	go pc.srtcpReadLoop()

	pc.setState(Connected)
}

func (pc *PeerConnection) waitForIceConnected(ctx context.Context) bool {
	changes := pc.iceAgent.StateChanges()
	for {
		switch pc.iceAgent.State() {
		case ice.Connected, ice.Completed:
			return true
		case ice.Failed, ice.Closed:
			return false
		}
		select {
		case s := <-changes:
			if s == ice.Connected || s == ice.Completed {
				return true
			}
			if s == ice.Failed || s == ice.Closed {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

// srtcpReadLoop unprotects inbound SRTCP on the muxed SRTP endpoint and
// logs receive reports/SDES/BYE at debug level (spec §1's allowed
// "receive-report ingestion/diagnostics" supplement); a BYE fast-paths
// the peer to Closed instead of waiting for the next liveness sweep.
func (pc *PeerConnection) srtcpReadLoop() {
	buf := make([]byte, 1500)
	for {
		n, err := pc.srtpEndpoint.Read(buf)
		if err != nil {
			return
		}
		packet := buf[:n]
		if len(packet) < 2 || packet[1] < 192 || packet[1] > 223 {
			// Not RTCP (rtcp-mux shares this byte range with RTP, RFC
			// 5761 §4): media RTP is unexpected on a sendonly stream, so
			// anything here that isn't RTCP is simply ignored.
			continue
		}

		if len(packet) < 8 {
			continue
		}
		senderSSRC := binary.BigEndian.Uint32(packet[4:8])

		pc.mu.Lock()
		recvCtx := pc.recvCtx
		pc.mu.Unlock()
		if recvCtx == nil {
			continue
		}
		plain, err := recvCtx.DecryptSRTCP(nil, packet, senderSSRC)
		if err != nil {
			pc.log.Warn("srtcp: %v", err)
			continue
		}
		reports, err := rtcp.Parse(plain)
		if err != nil {
			pc.log.Warn("rtcp: %v", err)
			continue
		}
		for _, r := range reports {
			if r.Type() == rtcp.TypeGoodbye {
				pc.log.Debug("rtcp: received BYE, closing")
				pc.Close(nil)
				return
			}
			pc.log.Debug("rtcp: received report type %d", r.Type())
		}
	}
}

// SendVideo rewrites and protects one inbound RTP packet for this peer,
// then writes it to the selected pair (spec §4.6). It is a silent no-op
// unless the peer is Connected; SRTP protect failures are counted and,
// past MaxConsecutiveSendFailures, transition the peer to Failed.
func (pc *PeerConnection) SendVideo(h *rtp.Header, payload []byte) {
	pc.mu.Lock()
	if pc.state != Connected {
		pc.mu.Unlock()
		return
	}
	sendCtx := pc.sendCtx
	endpoint := pc.srtpEndpoint
	pc.sequence++
	seq := pc.sequence
	ssrc := pc.outboundSSRC
	ts := h.Timestamp + pc.timestampOffset
	marker, pt := h.Marker, h.PayloadType
	pc.mu.Unlock()

	out := rtp.Header{
		Marker:      marker,
		PayloadType: pt,
		Sequence:    seq,
		Timestamp:   ts,
		SSRC:        ssrc,
	}
	headerBuf := make([]byte, out.Len())
	n, err := rtp.Marshal(headerBuf, &out, nil)
	if err != nil {
		pc.recordSendFailure(err)
		return
	}

	protected, err := sendCtx.TransformPacket(nil, headerBuf[:n], payload, seq, ssrc)
	if err != nil {
		pc.recordSendFailure(err)
		return
	}

	if _, err := endpoint.Write(protected); err != nil {
		pc.recordSendFailure(err)
		return
	}

	pc.mu.Lock()
	pc.consecutiveFails = 0
	pc.mu.Unlock()
}

func (pc *PeerConnection) recordSendFailure(err error) {
	pc.log.Warn("send: %v", err)
	pc.mu.Lock()
	pc.consecutiveFails++
	exceeded := pc.consecutiveFails > pc.cfg.MaxConsecutiveSendFailures
	pc.mu.Unlock()
	if exceeded {
		pc.fail(err)
	}
}

func (pc *PeerConnection) fail(reason error) {
	pc.log.Warn("failed: %v", reason)
	pc.setState(Failed)
	pc.Close(reason)
}

// Close idempotently tears down this peer's resources and transitions it
// to Closed. Further SendVideo calls are silent no-ops (spec §8).
func (pc *PeerConnection) Close(reason error) {
	pc.closeOnce.Do(func() {
		pc.mu.Lock()
		if pc.state != Failed {
			pc.state = Closed
		}
		m := pc.mux
		sendCtx, recvCtx := pc.sendCtx, pc.recvCtx
		pc.mu.Unlock()

		pc.cancel()
		pc.iceAgent.Close()
		if m != nil {
			m.Close()
		}
		if sendCtx != nil {
			sendCtx.Close()
		}
		if recvCtx != nil {
			recvCtx.Close()
		}
	})
}

func hasFormat(formats []string, pt int) bool {
	want := fmt.Sprintf("%d", pt)
	for _, f := range formats {
		if f == want {
			return true
		}
	}
	return false
}

func isCompatibleTransport(proto string) bool {
	return proto == "UDP/TLS/RTP/SAVP" || proto == "UDP/TLS/RTP/SAVPF"
}

func validFingerprintFormat(hash string) bool {
	return len(hash) > 0
}

const randomStringAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomString(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(randomStringAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = randomStringAlphabet[idx.Int64()]
	}
	return string(b), nil
}

func randomUint32() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return 0, err
	}
	return uint32(n.Uint64()), nil
}

func randomUint64() (uint64, error) {
	hi, err := randomUint32()
	if err != nil {
		return 0, err
	}
	lo, err := randomUint32()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}
