// Package srtp implements SrtpContext: per-SSRC, per-direction SRTP/SRTCP
// encryption, authentication, rollover-counter tracking, and replay
// protection per RFC 3711.
//
// A Context is created from a single master key/salt pair (as produced by
// the DTLS-SRTP exporter) and moves through a small state machine:
//
//	Fresh -> Derived -> Active -> Closed
//
// NewContext performs the RFC 3711 §4.3 key derivation immediately and
// zeroes the master key/salt once session keys are derived, so a Context
// is Active (ready for TransformPacket/ReverseTransformPacket) as soon as
// it is constructed; Close transitions it to Closed and zeroes the session
// salts and authentication keys too. Fresh and Derived are set only inside
// NewContext, before it returns, so callers never observe a Context in
// either state: State reports Active or Closed.
package srtp

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"sync"

	errors "golang.org/x/xerrors"

	"github.com/mahina-labs/restreamer/internal/aes"
	"github.com/mahina-labs/restreamer/internal/errs"
)

// State is a Context's position in its lifecycle.
type State int

const (
	Fresh State = iota
	Derived
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Derived:
		return "derived"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	cipherKeyLength = 16 // AES-128
	saltKeyLength   = 14 // 112-bit salt per RFC 3711 §4.3
	authKeyLength   = 20 // HMAC-SHA1 key length
	authTagSize     = 10 // HMAC-SHA1-80, truncated per RFC 3711 §4.2

	maxSequenceNumber = 0xffff

	// replayWindowSize is the width, in packets, of the sliding replay
	// window kept per SSRC per RFC 3711 §3.3.2.
	replayWindowSize = 64
)

// RFC 3711 §4.3 key derivation labels.
const (
	labelRtpEncryption  = 0x00
	labelRtpAuth        = 0x01
	labelRtpSalt        = 0x02
	labelRtcpEncryption = 0x03
	labelRtcpAuth       = 0x04
	labelRtcpSalt       = 0x05
)

// ssrcState is the per-SSRC bookkeeping a Context needs to track the
// rollover counter and detect replayed or badly reordered packets.
type ssrcState struct {
	ssrc uint32

	roc            uint32
	highestSeq     uint16
	seqInitialized bool

	rtpReplayWindow  uint64
	rtpHighestIndex  int64
	rtcpReplayWindow uint64
	rtcpHighestIndex int64
}

// Context is a single-direction SRTP/SRTCP cryptographic context derived
// from one master key/salt pair. All exported methods are safe for
// concurrent use; each PeerConnection holds one outbound Context and calls
// TransformPacket from SendVideo, on the goroutine that is broadcasting.
type Context struct {
	mu    sync.Mutex
	state State

	srtpBlock   cipher.Block
	srtpSalt    []byte
	srtpAuthKey []byte

	srtcpBlock   cipher.Block
	srtcpSalt    []byte
	srtcpAuthKey []byte

	ssrcStates map[uint32]*ssrcState
}

// NewContext derives session keys from a 128-bit master key and 112-bit
// master salt (the sizes the DTLS-SRTP exporter produces for
// SRTP_AES128_CM_SHA1_80) and returns a Context ready for use. The master
// key and salt are zeroed before returning; callers must not retain them.
func NewContext(masterKey, masterSalt []byte) (*Context, error) {
	if len(masterKey) != cipherKeyLength {
		return nil, errors.Errorf("srtp: master key must be %d bytes, got %d", cipherKeyLength, len(masterKey))
	}
	if len(masterSalt) != saltKeyLength {
		return nil, errors.Errorf("srtp: master salt must be %d bytes, got %d", saltKeyLength, len(masterSalt))
	}

	c := &Context{
		state:      Fresh,
		ssrcStates: make(map[uint32]*ssrcState),
	}

	srtpKey, err := deriveKey(masterKey, masterSalt, labelRtpEncryption, cipherKeyLength)
	if err != nil {
		return nil, err
	}
	c.srtpSalt, err = deriveKey(masterKey, masterSalt, labelRtpSalt, saltKeyLength)
	if err != nil {
		return nil, err
	}
	c.srtpAuthKey, err = deriveKey(masterKey, masterSalt, labelRtpAuth, authKeyLength)
	if err != nil {
		return nil, err
	}
	c.srtpBlock, err = aes.NewCipher(srtpKey)
	if err != nil {
		return nil, err
	}
	clearBytes(srtpKey)

	srtcpKey, err := deriveKey(masterKey, masterSalt, labelRtcpEncryption, cipherKeyLength)
	if err != nil {
		return nil, err
	}
	c.srtcpSalt, err = deriveKey(masterKey, masterSalt, labelRtcpSalt, saltKeyLength)
	if err != nil {
		return nil, err
	}
	c.srtcpAuthKey, err = deriveKey(masterKey, masterSalt, labelRtcpAuth, authKeyLength)
	if err != nil {
		return nil, err
	}
	c.srtcpBlock, err = aes.NewCipher(srtcpKey)
	if err != nil {
		return nil, err
	}
	clearBytes(srtcpKey)

	clearBytes(masterKey)
	clearBytes(masterSalt)

	c.state = Derived
	c.state = Active
	return c, nil
}

// State returns the Context's current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close zeroes session key material and transitions the Context to
// Closed. Further TransformPacket/ReverseTransformPacket calls fail with
// ErrNotActive.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return
	}
	clearBytes(c.srtpSalt)
	clearBytes(c.srtcpSalt)
	clearBytes(c.srtpAuthKey)
	clearBytes(c.srtcpAuthKey)
	c.srtpSalt, c.srtcpSalt = nil, nil
	c.srtpAuthKey, c.srtcpAuthKey = nil, nil
	c.srtpBlock, c.srtcpBlock = nil, nil
	c.state = Closed
}

// deriveKey implements the RFC 3711 §4.3.1 key derivation function with
// key_derivation_rate 0: x = master_salt XOR (label << 48), then length
// bytes of AES-CM keystream seeded from x are the derived key.
func deriveKey(masterKey, masterSalt []byte, label byte, length int) ([]byte, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, 16)
	copy(iv, masterSalt)
	iv[7] ^= label

	out := make([]byte, length)
	cipher.NewCTR(block, iv).XORKeyStream(out, out)
	return out, nil
}

// generateCounter builds the 128-bit AES-CM initial counter block per
// RFC 3711 §4.1.1: the session salt XORed with SSRC and the 48-bit packet
// index (ROC<<16 | sequence), each in their designated byte ranges.
func generateCounter(sequence uint16, roc uint32, ssrc uint32, salt []byte) []byte {
	counter := make([]byte, 16)
	binary.BigEndian.PutUint32(counter[4:8], ssrc)
	binary.BigEndian.PutUint32(counter[8:12], roc)
	binary.BigEndian.PutUint16(counter[12:14], sequence)
	for i := range salt {
		counter[i] ^= salt[i]
	}
	return counter
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (c *Context) getSSRCState(ssrc uint32) *ssrcState {
	s, ok := c.ssrcStates[ssrc]
	if !ok {
		s = &ssrcState{ssrc: ssrc}
		c.ssrcStates[ssrc] = s
	}
	return s
}

// updateSendROC increments the rollover counter when the sequence number
// wraps from 0xffff to 0x0000 on the send path, where sequence numbers
// are assigned monotonically by this process and there is no reordering
// to guess around.
func (s *ssrcState) updateSendROC(sequence uint16) {
	if s.seqInitialized && sequence == 0 && s.highestSeq == maxSequenceNumber {
		s.roc++
	}
	s.highestSeq = sequence
	s.seqInitialized = true
}

// guessROC implements the RFC 3711 §3.3.1 / Appendix A guessing heuristic
// for the rollover counter of an arriving, possibly reordered packet.
func guessROC(roc uint32, highestSeq uint16, sequence uint16) uint32 {
	if highestSeq < 32768 {
		if int(sequence)-int(highestSeq) > 32768 {
			return roc - 1
		}
		return roc
	}
	if int(highestSeq)-32768 > int(sequence) {
		return roc + 1
	}
	return roc
}

// checkReplay validates index against the sliding replay window anchored
// at highestIndex, per RFC 3711 §3.3.2: delta = index - highestIndex is
// rejected when it is non-positive and either farther back than the
// window width or already marked seen. On acceptance the window is
// shifted into position and bit 0 set.
func checkReplay(window *uint64, highestIndex *int64, index int64) error {
	delta := index - *highestIndex

	if delta > 0 {
		if delta < replayWindowSize {
			*window <<= uint(delta)
			*window |= 1
		} else {
			*window = 1
		}
		*highestIndex = index
		return nil
	}

	back := -delta
	if back > replayWindowSize-1 {
		return errs.ErrReplayRejected
	}
	if (*window>>uint(back))&1 != 0 {
		return errs.ErrReplayRejected
	}
	*window |= 1 << uint(back)
	return nil
}

// TransformPacket encrypts payload (AES-CM) and appends a 10-byte
// HMAC-SHA1-80 authentication tag covering header||ciphertext||ROC, per
// RFC 3711 §4.2. header must be the already-marshaled RTP header bytes
// (as produced by internal/rtp.Marshal); sequence and ssrc are the values
// encoded in that header. Returns the full packet including the appended
// tag. The Context must be Active.
func (c *Context) TransformPacket(dst, header, payload []byte, sequence uint16, ssrc uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, errs.ErrNotActive
	}

	s := c.getSSRCState(ssrc)
	s.updateSendROC(sequence)

	out := append(dst[:0], header...)
	cipherText := make([]byte, len(payload))
	cipher.NewCTR(c.srtpBlock, generateCounter(sequence, s.roc, ssrc, c.srtpSalt)).XORKeyStream(cipherText, payload)
	out = append(out, cipherText...)

	rocBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(rocBuf, s.roc)
	mac := hmac.New(sha1.New, c.srtpAuthKey)
	mac.Write(out)
	mac.Write(rocBuf)
	tag := mac.Sum(nil)[:authTagSize]

	return append(out, tag...), nil
}

// ReverseTransformPacket authenticates and decrypts an inbound SRTP
// packet. headerLen is the length of the already-parsed, unencrypted RTP
// header (including CSRC and extension, if any); packet must be the full
// wire packet (header || ciphertext || 10-byte tag). The Context must be
// Active; it returns ErrAuthFailed or ErrReplayRejected without mutating
// replay state on rejection.
func (c *Context) ReverseTransformPacket(packet []byte, headerLen int, sequence uint16, ssrc uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, errs.ErrNotActive
	}
	if len(packet) < headerLen+authTagSize {
		return nil, errors.Errorf("srtp: %w: packet too short", errs.ErrMalformedRtp)
	}

	s := c.getSSRCState(ssrc)
	roc := guessROC(s.roc, s.highestSeq, sequence)
	index := int64(roc)<<16 | int64(sequence)

	tailOffset := len(packet) - authTagSize
	body, tag := packet[:tailOffset], packet[tailOffset:]

	rocBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(rocBuf, roc)
	mac := hmac.New(sha1.New, c.srtpAuthKey)
	mac.Write(body)
	mac.Write(rocBuf)
	expected := mac.Sum(nil)[:authTagSize]
	if !hmac.Equal(expected, tag) {
		return nil, errs.ErrAuthFailed
	}

	if err := checkReplay(&s.rtpReplayWindow, &s.rtpHighestIndex, index); err != nil {
		return nil, err
	}
	if index >= s.rtpHighestIndex {
		s.roc = roc
		s.highestSeq = sequence
		s.seqInitialized = true
	}

	out := make([]byte, tailOffset-headerLen)
	cipher.NewCTR(c.srtpBlock, generateCounter(sequence, roc, ssrc, c.srtpSalt)).XORKeyStream(out, body[headerLen:])
	return out, nil
}

// EncryptSRTCP encrypts an RTCP compound packet's payload (everything
// after the first 8 header bytes) and appends the 4-byte E-bit/index word
// plus a 10-byte auth tag, per RFC 3711 §3.4/§4.1.1. index is a
// monotonically increasing per-SSRC counter the caller maintains; it
// occupies the low 31 bits of the appended word with the E-bit set.
func (c *Context) EncryptSRTCP(dst, packet []byte, ssrc uint32, index uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, errs.ErrNotActive
	}
	if len(packet) < 8 {
		return nil, errors.Errorf("srtcp: %w: packet too short", errs.ErrMalformedRtcp)
	}

	out := append(dst[:0], packet[:8]...)
	cipherText := make([]byte, len(packet)-8)
	cipher.NewCTR(c.srtcpBlock, generateCounter(uint16(index&0xffff), index>>16, ssrc, c.srtcpSalt)).XORKeyStream(cipherText, packet[8:])
	out = append(out, cipherText...)

	indexWord := make([]byte, 4)
	binary.BigEndian.PutUint32(indexWord, (1<<31)|index)
	out = append(out, indexWord...)

	mac := hmac.New(sha1.New, c.srtcpAuthKey)
	mac.Write(out)
	tag := mac.Sum(nil)[:authTagSize]
	return append(out, tag...), nil
}

// DecryptSRTCP authenticates and decrypts an inbound SRTCP packet,
// rejecting replays against the per-SSRC window.
func (c *Context) DecryptSRTCP(dst, packet []byte, ssrc uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, errs.ErrNotActive
	}
	if len(packet) < 8+4+authTagSize {
		return nil, errors.Errorf("srtcp: %w: packet too short", errs.ErrMalformedRtcp)
	}

	tailOffset := len(packet) - authTagSize
	body, tag := packet[:tailOffset], packet[tailOffset:]

	mac := hmac.New(sha1.New, c.srtcpAuthKey)
	mac.Write(body)
	expected := mac.Sum(nil)[:authTagSize]
	if !hmac.Equal(expected, tag) {
		return nil, errs.ErrAuthFailed
	}

	indexWord := binary.BigEndian.Uint32(body[tailOffset-4:])
	encrypted := indexWord>>31 != 0
	index := indexWord & 0x7fffffff

	s := c.getSSRCState(ssrc)
	if err := checkReplay(&s.rtcpReplayWindow, &s.rtcpHighestIndex, int64(index)); err != nil {
		return nil, err
	}

	cipherText := body[8 : tailOffset-4]
	out := make([]byte, len(cipherText))
	if !encrypted {
		copy(out, cipherText)
		return append(append(dst[:0], body[:8]...), out...), nil
	}
	cipher.NewCTR(c.srtcpBlock, generateCounter(uint16(index&0xffff), index>>16, ssrc, c.srtcpSalt)).XORKeyStream(out, cipherText)
	return append(append(dst[:0], body[:8]...), out...), nil
}
