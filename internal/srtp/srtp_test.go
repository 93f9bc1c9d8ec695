package srtp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mahina-labs/restreamer/internal/errs"
)

func testKeys() ([]byte, []byte) {
	key := make([]byte, cipherKeyLength)
	salt := make([]byte, saltKeyLength)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range salt {
		salt[i] = byte(0xa0 + i)
	}
	return key, salt
}

func TestNewContextStartsActive(t *testing.T) {
	key, salt := testKeys()
	c, err := NewContext(key, salt)
	require.NoError(t, err)
	require.Equal(t, Active, c.State())

	// Caller's copies must be zeroed so key material does not linger.
	for _, b := range key {
		require.Zero(t, b)
	}
}

func TestTransformRoundTrip(t *testing.T) {
	key, salt := testKeys()
	send, err := NewContext(key, salt)
	require.NoError(t, err)

	key2, salt2 := testKeys()
	recv, err := NewContext(key2, salt2)
	require.NoError(t, err)

	header := []byte{0x80, 96, 0, 1, 0, 0, 0, 1, 0, 0, 0x12, 0x34}
	payload := []byte("restream me")

	packet, err := send.TransformPacket(nil, header, payload, 1, 0x1234)
	require.NoError(t, err)
	require.Len(t, packet, len(header)+len(payload)+authTagSize)

	plain, err := recv.ReverseTransformPacket(packet, len(header), 1, 0x1234)
	require.NoError(t, err)
	require.Equal(t, payload, plain)
}

func TestReverseTransformRejectsBadTag(t *testing.T) {
	key, salt := testKeys()
	ctx, err := NewContext(key, salt)
	require.NoError(t, err)

	header := []byte{0x80, 96, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}
	packet, err := ctx.TransformPacket(nil, header, []byte("hello"), 1, 1)
	require.NoError(t, err)
	packet[len(packet)-1] ^= 0xff

	_, err = ctx.ReverseTransformPacket(packet, len(header), 1, 1)
	require.True(t, errors.Is(err, errs.ErrAuthFailed))
}

func TestClosedContextRejectsTransform(t *testing.T) {
	key, salt := testKeys()
	ctx, err := NewContext(key, salt)
	require.NoError(t, err)
	ctx.Close()
	require.Equal(t, Closed, ctx.State())

	_, err = ctx.TransformPacket(nil, []byte{0x80, 96, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}, []byte("x"), 1, 1)
	require.True(t, errors.Is(err, errs.ErrNotActive))
}

// TestReplayWindow reproduces the replay scenario: packets with indices
// 100, 101, 102 are each accepted once; a repeat of 100 is rejected.
func TestReplayWindow(t *testing.T) {
	var window uint64
	var highest int64 = -1

	for _, idx := range []int64{100, 101, 102} {
		require.NoError(t, checkReplay(&window, &highest, idx))
	}
	require.Error(t, checkReplay(&window, &highest, 100))
}

// TestROCWrap reproduces the sequence-number wrap scenario: sequences
// 0xfffe, 0xffff, 0x0000 arrive in order and the rollover counter
// increments exactly once, at the 0xffff -> 0x0000 transition.
func TestROCWrap(t *testing.T) {
	s := &ssrcState{ssrc: 1}
	for _, seq := range []uint16{0xfffe, 0xffff, 0x0000} {
		s.updateSendROC(seq)
	}
	require.Equal(t, uint32(1), s.roc)
	require.Equal(t, uint16(0x0000), s.highestSeq)
}

func TestGuessROCReorderedNearWrap(t *testing.T) {
	// Receiver has seen up to a high sequence number just before the
	// rollover; a reordered packet from just after the wrap must guess
	// roc+1, and a reordered packet from before the wrap must guess the
	// unchanged roc.
	require.Equal(t, uint32(1), guessROC(0, 0xfffe, 0x0001))
	require.Equal(t, uint32(0), guessROC(0, 0xfffe, 0xfffc))
}

func TestSRTCPRoundTrip(t *testing.T) {
	key, salt := testKeys()
	ctx, err := NewContext(key, salt)
	require.NoError(t, err)

	packet := []byte{0x80, 200, 0, 6, 0, 0, 0x12, 0x34, 'p', 'a', 'y', 'l', 'o', 'a', 'd', '!'}
	enc, err := ctx.EncryptSRTCP(nil, packet, 0x1234, 7)
	require.NoError(t, err)

	dec, err := ctx.DecryptSRTCP(nil, enc, 0x1234)
	require.NoError(t, err)
	require.Equal(t, packet, dec)
}

func TestSRTCPReplayRejected(t *testing.T) {
	key, salt := testKeys()
	ctx, err := NewContext(key, salt)
	require.NoError(t, err)

	packet := []byte{0x80, 200, 0, 6, 0, 0, 0x12, 0x34, 'p', 'a', 'y', 'l', 'o', 'a', 'd', '!'}
	enc, err := ctx.EncryptSRTCP(nil, packet, 0x1234, 7)
	require.NoError(t, err)

	_, err = ctx.DecryptSRTCP(nil, enc, 0x1234)
	require.NoError(t, err)

	_, err = ctx.DecryptSRTCP(nil, enc, 0x1234)
	require.True(t, errors.Is(err, errs.ErrReplayRejected))
}
