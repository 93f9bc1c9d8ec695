package stun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindingRequestRoundTrip(t *testing.T) {
	req := NewBindingRequest()
	req.SetUsername("remoteufrag:localufrag")
	req.SetPriority(12345)
	req.SetUseCandidate()
	req.AddMessageIntegrity("pass")
	req.AddFingerprint()

	buf := req.Bytes()
	require.True(t, IsMessage(buf))

	parsed, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(ClassRequest), parsed.Class)
	require.Equal(t, uint16(BindingMethod), parsed.Method)
	require.Equal(t, req.TransactionID, parsed.TransactionID)
	require.Equal(t, uint32(12345), parsed.Priority())
	require.True(t, parsed.HasUseCandidate())
	require.True(t, parsed.VerifyFingerprint())
	require.True(t, parsed.VerifyMessageIntegrity("pass"))
	require.False(t, parsed.VerifyMessageIntegrity("wrong"))
}

func TestBindingResponseMappedAddress(t *testing.T) {
	tid := NewBindingRequest().TransactionID
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5").To4(), Port: 54321}

	resp := NewBindingResponse(tid, addr)
	resp.AddFingerprint()

	parsed, err := Parse(resp.Bytes())
	require.NoError(t, err)

	mapped := parsed.MappedAddress()
	require.NotNil(t, mapped)
	require.Equal(t, addr.IP.String(), mapped.IP.String())
	require.Equal(t, addr.Port, mapped.Port)
}

func TestParseRejectsNonStunData(t *testing.T) {
	_, err := Parse([]byte{0x80, 0x00, 0x00, 0x00})
	require.Error(t, err)
}

func TestIsMessageDemuxesFromRtpRange(t *testing.T) {
	req := NewBindingRequest()
	require.True(t, IsMessage(req.Bytes()))

	rtpLike := []byte{0x80, 96, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}
	require.False(t, IsMessage(rtpLike))
}
