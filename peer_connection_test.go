package restreamer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahina-labs/restreamer/internal/dtls"
	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/sdp"
)

func newTestPeer(t *testing.T) *PeerConnection {
	t.Helper()
	pc, err := newPeerConnection(context.Background(), DefaultConfig())
	require.NoError(t, err)
	return pc
}

// buildAnswer constructs a minimal, otherwise-valid SDP answer for pc's
// offer, with hooks for each test to mutate a field away from validity.
func buildAnswer(pc *PeerConnection, mutate func(m *sdp.Media)) string {
	s := sdp.Session{
		Version: 0,
		Origin: sdp.Origin{
			Username: "-", SessionId: "1", SessionVersion: 1,
			NetworkType: "IN", AddressType: "IP4", Address: "0.0.0.0",
		},
		Name: "-",
	}
	s.SetBundleGroup(sdpMid)

	m := sdp.Media{Type: "video", Port: 9, Proto: "UDP/TLS/RTP/SAVP", Format: []string{"96"}}
	m.SetMid(sdpMid)
	m.SetIceCredentials("remoteufrag", "remotepasswordremotepassword1234")
	m.SetFingerprint("sha-256", "AA:BB:CC:DD")
	m.SetSetup(sdp.SetupActive)
	m.SetRtpmap(sdp.Rtpmap{PayloadType: h264PayloadType, EncodingName: "H264", ClockRate: 90000})
	m.SetRtcpMux()
	m.SetEndOfCandidates()

	if mutate != nil {
		mutate(&m)
	}

	s.Media = append(s.Media, m)
	return s.String()
}

func TestCreateOfferTransitionsToHaveLocalOffer(t *testing.T) {
	pc := newTestPeer(t)
	offerSdp, err := pc.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, HaveLocalOffer, pc.State())

	offer, err := sdp.ParseSession(offerSdp)
	require.NoError(t, err)
	require.Len(t, offer.Media, 1)
	m := &offer.Media[0]

	assert.Equal(t, "video", m.Type)
	assert.Equal(t, []string{"96"}, m.Format)
	assert.True(t, m.HasRtcpMux())
	assert.True(t, m.HasEndOfCandidates())

	setup, ok := m.Setup()
	require.True(t, ok)
	assert.Equal(t, sdp.SetupActpass, setup)

	fmtp, ok := m.H264Fmtp(h264PayloadType)
	require.True(t, ok)
	assert.Equal(t, h264ProfileLevelID, fmtp.ProfileLevelID)
	assert.Equal(t, 1, fmtp.PacketizationMode)
	assert.True(t, fmtp.LevelAsymmetryAllowed)

	ufrag := m.IceUfrag()
	pwd := m.IcePwd()
	assert.Equal(t, pc.localUfrag, ufrag)
	assert.Equal(t, pc.localPassword, pwd)
}

func TestCreateOfferRejectsSecondCall(t *testing.T) {
	pc := newTestPeer(t)
	_, err := pc.CreateOffer()
	require.NoError(t, err)

	_, err = pc.CreateOffer()
	assert.Error(t, err)
}

func TestSetRemoteDescriptionAcceptsValidAnswer(t *testing.T) {
	pc := newTestPeer(t)
	_, err := pc.CreateOffer()
	require.NoError(t, err)

	answerSdp := buildAnswer(pc, nil)
	rejectReason := pc.SetRemoteDescription(answerSdp)
	require.NoError(t, rejectReason)

	assert.Equal(t, "remoteufrag", pc.remoteUfrag)
	assert.Equal(t, "remotepasswordremotepassword1234", pc.remotePassword)
	// setup:active on the answer flips this side to play DTLS server.
	assert.Equal(t, dtls.RoleServer, pc.dtlsRole)

	pc.Close(nil)
}

func TestSetRemoteDescriptionRejectsMissingVideoMedia(t *testing.T) {
	pc := newTestPeer(t)
	_, err := pc.CreateOffer()
	require.NoError(t, err)

	s := sdp.Session{Origin: sdp.Origin{Address: "0.0.0.0"}, Name: "-"}
	reason := pc.SetRemoteDescription(s.String())
	assert.True(t, errors.Is(reason, errs.ErrNoMatchingMedia))
}

func TestSetRemoteDescriptionRejectsWrongPayloadType(t *testing.T) {
	pc := newTestPeer(t)
	_, err := pc.CreateOffer()
	require.NoError(t, err)

	answerSdp := buildAnswer(pc, func(m *sdp.Media) {
		m.Format = []string{"97"}
	})
	reason := pc.SetRemoteDescription(answerSdp)
	assert.True(t, errors.Is(reason, errs.ErrNoMatchingMedia))
}

func TestSetRemoteDescriptionRejectsUnsupportedTransport(t *testing.T) {
	pc := newTestPeer(t)
	_, err := pc.CreateOffer()
	require.NoError(t, err)

	answerSdp := buildAnswer(pc, func(m *sdp.Media) {
		m.Proto = "RTP/AVP"
	})
	reason := pc.SetRemoteDescription(answerSdp)
	assert.True(t, errors.Is(reason, errs.ErrUnsupportedTransport))
}

func TestSetRemoteDescriptionRejectsMissingFingerprint(t *testing.T) {
	pc := newTestPeer(t)
	_, err := pc.CreateOffer()
	require.NoError(t, err)

	s := sdp.Session{
		Origin: sdp.Origin{Address: "0.0.0.0"},
		Name:   "-",
	}
	m := sdp.Media{Type: "video", Port: 9, Proto: "UDP/TLS/RTP/SAVP", Format: []string{"96"}}
	m.SetIceCredentials("u", "pwdpwdpwdpwdpwdpwdpwdpwdpwdpwdpw")
	m.SetSetup(sdp.SetupActive)
	s.Media = append(s.Media, m)

	reason := pc.SetRemoteDescription(s.String())
	assert.True(t, errors.Is(reason, errs.ErrFingerprintMissing))
}

func TestHasFormat(t *testing.T) {
	assert.True(t, hasFormat([]string{"96", "97"}, 96))
	assert.False(t, hasFormat([]string{"97"}, 96))
}

func TestIsCompatibleTransport(t *testing.T) {
	assert.True(t, isCompatibleTransport("UDP/TLS/RTP/SAVP"))
	assert.True(t, isCompatibleTransport("UDP/TLS/RTP/SAVPF"))
	assert.False(t, isCompatibleTransport("RTP/AVP"))
}

func TestPeerStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", PeerState(99).String())
}

func TestCloseIsIdempotent(t *testing.T) {
	pc := newTestPeer(t)
	pc.Close(nil)
	pc.Close(nil)
	assert.Equal(t, Closed, pc.State())
}
