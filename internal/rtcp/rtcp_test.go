package rtcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSenderReportRoundTrip(t *testing.T) {
	sr := &SenderReport{
		Sender:       0x1234,
		NtpTimestamp: 0x1122334455667788,
		RtpTimestamp: 90000,
		PacketCount:  10,
		OctetCount:   1000,
		Reports: []ReportBlock{
			{Source: 0x5678, FractionLost: 0.5, TotalLost: 3, LastSequence: 42, Jitter: 7},
		},
	}

	buf := make([]byte, 1500)
	n, err := Marshal(buf, sr)
	require.NoError(t, err)

	packets, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Len(t, packets, 1)
	got := packets[0].(*SenderReport)
	require.Equal(t, sr.Sender, got.Sender)
	require.Equal(t, sr.NtpTimestamp, got.NtpTimestamp)
	require.Len(t, got.Reports, 1)
	require.Equal(t, sr.Reports[0].Source, got.Reports[0].Source)
}

func TestSourceDescriptionAndGoodbyeCompound(t *testing.T) {
	sdes := &SourceDescription{SSRC: 0xaa, CNAME: "peer-1"}
	bye := &Goodbye{SSRC: 0xaa}

	buf := make([]byte, 1500)
	n, err := Marshal(buf, sdes, bye)
	require.NoError(t, err)

	packets, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, "peer-1", packets[0].(*SourceDescription).CNAME)
	require.Equal(t, uint32(0xaa), packets[1].(*Goodbye).SSRC)
}

func TestParseRejectsInconsistentLength(t *testing.T) {
	// Header claims a Receiver Report with count=1 but length field says 0
	// extra words -- an inconsistency the parser must catch.
	buf := []byte{
		0x81, TypeReceiverReport, 0x00, 0x00, // V=2,P=0,count=1, length=0
		0x00, 0x00, 0x00, 0xaa,
	}
	_, err := Parse(buf)
	require.Error(t, err)
}

func TestParseRejectsOversizedSdesItemLength(t *testing.T) {
	// SSRC (4 bytes) + item type 1 (CNAME) + item length claiming 10 bytes,
	// but only 2 bytes of body remain. Must error rather than read past the
	// sub-packet's own declared length.
	buf := []byte{
		0x81, TypeSourceDescription, 0x00, 0x02, // V=2,P=0,count=1, length=2 (8 body bytes)
		0x00, 0x00, 0x00, 0xaa, // SSRC
		0x01, 0x0a, // item type=CNAME, length=10
		0x00, 0x00, // 2 filler bytes, nowhere near the claimed 10
	}
	_, err := Parse(buf)
	require.Error(t, err)
}

func TestParseRejectsShortFeedbackLength(t *testing.T) {
	// RTPFB header declaring length=1 (4 body bytes) is too short for the
	// mandatory 8-byte sender/media SSRC fields.
	buf := []byte{
		0x81, TypeTransportFeedback, 0x00, 0x01, // V=2,P=0,count=1, length=1
		0x00, 0x00, 0x00, 0x00,
	}
	_, err := Parse(buf)
	require.Error(t, err)
}
