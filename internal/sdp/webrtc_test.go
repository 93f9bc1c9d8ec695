package sdp

import (
	"testing"

	"github.com/mahina-labs/restreamer/internal/ice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildOffer() Session {
	s := Session{
		Version: 0,
		Origin: Origin{
			Username: "-", SessionId: "1", SessionVersion: 1,
			NetworkType: "IN", AddressType: "IP4", Address: "0.0.0.0",
		},
		Name: "-",
	}
	s.SetBundleGroup("v")

	m := Media{Type: "video", Port: 9, Proto: "UDP/TLS/RTP/SAVP", Format: []string{"96"}}
	m.SetMid("v")
	m.SetIceCredentials("ufrag1", "password1password1password1")
	m.SetIceOptions("ice2")
	m.SetFingerprint("sha-256", "AA:BB:CC")
	m.SetSetup(SetupActpass)
	m.SetRtpmap(Rtpmap{PayloadType: 96, EncodingName: "H264", ClockRate: 90000})
	m.SetRtcpMux()
	m.SetSendonly()
	m.SetSsrcCname(12345, "restreamer")
	m.SetEndOfCandidates()
	s.Media = append(s.Media, m)
	return s
}

func TestMediaWebRTCAttributeRoundTrip(t *testing.T) {
	s := buildOffer()
	text := s.String()

	parsed, err := ParseSession(text)
	require.NoError(t, err)
	require.Len(t, parsed.Media, 1)
	pm := &parsed.Media[0]

	assert.Equal(t, []string{"v"}, parsed.BundleGroup())
	assert.Equal(t, "v", pm.Mid())
	assert.Equal(t, "ufrag1", parsed.IceUfrag())
	assert.Equal(t, "password1password1password1", parsed.IcePwd())
	assert.Equal(t, []string{"ice2"}, pm.IceOptions())

	algo, hash, ok := pm.Fingerprint()
	require.True(t, ok)
	assert.Equal(t, "sha-256", algo)
	assert.Equal(t, "AA:BB:CC", hash)

	setup, ok := pm.Setup()
	require.True(t, ok)
	assert.Equal(t, SetupActpass, setup)

	rtpmap, ok := pm.Rtpmap()
	require.True(t, ok)
	assert.Equal(t, Rtpmap{PayloadType: 96, EncodingName: "H264", ClockRate: 90000}, rtpmap)

	assert.True(t, pm.HasRtcpMux())
	assert.True(t, pm.HasEndOfCandidates())

	ssrcs := pm.SsrcCnames()
	require.Len(t, ssrcs, 1)
	assert.EqualValues(t, 12345, ssrcs[0].Ssrc)
	assert.Equal(t, "restreamer", ssrcs[0].Cname)
}

func TestMediaCandidateRoundTrip(t *testing.T) {
	s := buildOffer()
	var c ice.Candidate
	require.NoError(t, ice.ParseCandidateSDP("4a3a1b2c 1 udp 2130706431 192.0.2.1 40000 typ host", &c))
	s.Media[0].AddCandidate(c)

	parsed, err := ParseSession(s.String())
	require.NoError(t, err)
	candidates, err := parsed.Media[0].Candidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, c.SDPString(), candidates[0].SDPString())
}

func TestSetupValueRejectsUnknown(t *testing.T) {
	m := Media{}
	m.addAttr("setup", "bogus")
	_, ok := m.Setup()
	assert.False(t, ok)
}
