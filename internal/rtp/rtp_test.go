package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMarshalRoundTrip(t *testing.T) {
	h := Header{
		Marker:      true,
		PayloadType: 96,
		Sequence:    12345,
		Timestamp:   90000,
		SSRC:        0xdeadbeef,
	}
	payload := []byte{0x01, 0x02, 0x03, 0x04}

	buf := make([]byte, 1500)
	n, err := Marshal(buf, &h, payload)
	require.NoError(t, err)

	parsed, rest, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, h, parsed)
	require.Equal(t, payload, rest)
}

func TestParseRejectsBadVersion(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = 0x80 // version 2 << 6 == 0x80; corrupt to version 1
	buf[0] = 1 << 6
	_, _, err := ParseHeader(buf)
	require.Error(t, err)
}

func TestParseRejectsShortHeader(t *testing.T) {
	_, _, err := ParseHeader(make([]byte, 4))
	require.Error(t, err)
}

func TestParseRejectsTruncatedCsrc(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = (Version << 6) | 0x01 // CC = 1, but no CSRC bytes follow
	_, _, err := ParseHeader(buf)
	require.Error(t, err)
}
