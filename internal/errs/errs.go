// Package errs defines the small closed set of error kinds that cross
// component boundaries in this module, per the error taxonomy: protocol
// errors, cryptographic errors, liveness errors, and resource errors.
//
// Decode sites wrap a sentinel with golang.org/x/xerrors so that
// errors.Is/errors.As keep working through the chain while still reporting
// the call site ("%w" + frame info). The Restreamer façade re-wraps with
// github.com/pkg/errors at its own exported-method boundary, where an
// operator-facing stack trace is worth the extra allocation.
package errs

import "errors"

// Protocol errors.
var (
	ErrMalformedRtp         = errors.New("malformed RTP packet")
	ErrMalformedRtcp        = errors.New("malformed RTCP packet")
	ErrMalformedStun        = errors.New("malformed STUN message")
	ErrMalformedSdp         = errors.New("malformed SDP")
	ErrUnsupportedTransport = errors.New("unsupported media transport")
	ErrNoMatchingMedia      = errors.New("no matching media section")
	ErrFingerprintMissing   = errors.New("remote fingerprint missing")
	ErrFingerprintInvalid   = errors.New("remote fingerprint malformed")
)

// Cryptographic errors.
var (
	ErrReplayRejected      = errors.New("packet rejected by replay window")
	ErrAuthFailed          = errors.New("authentication tag mismatch")
	ErrDtlsHandshakeFailed = errors.New("DTLS handshake failed")
	ErrFingerprintMismatch = errors.New("certificate fingerprint mismatch")
	ErrNotActive           = errors.New("SRTP context not active")
)

// Liveness errors.
var (
	ErrIceTimeout      = errors.New("ICE connectivity check timed out")
	ErrIceDisconnected = errors.New("ICE selected pair disconnected")
	ErrDtlsTimeout     = errors.New("DTLS handshake timed out")
)

// Resource errors.
var (
	ErrSocketError    = errors.New("socket error")
	ErrPoolExhausted  = errors.New("packet pool exhausted")
)

// PeerAlerted wraps a DTLS alert received from the peer. It carries the
// alert level and description so callers can log or branch on it without
// parsing the error string.
type PeerAlerted struct {
	Level       uint8
	Description uint8
}

func (e *PeerAlerted) Error() string {
	return "DTLS peer alert"
}

// RejectReason is returned by PeerConnection.SetRemoteDescription when the
// remote answer cannot be accepted. It is one of the protocol error
// sentinels above.
type RejectReason = error
