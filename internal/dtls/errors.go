package dtls

import "errors"

// Alert levels and descriptions (RFC 5246 §7.2).
const (
	AlertLevelWarning = 1
	AlertLevelFatal   = 2
)

const (
	AlertCloseNotify            = 0
	AlertUnexpectedMessage      = 10
	AlertBadRecordMac           = 20
	AlertHandshakeFailure       = 40
	AlertBadCertificate         = 42
	AlertCertificateUnknown     = 46
	AlertDecodeError            = 50
	AlertDecryptError           = 51
	AlertProtocolVersion        = 70
	AlertInsufficientSecurity   = 71
	AlertInternalError          = 80
	AlertUserCanceled           = 90
	AlertNoRenegotiation        = 100
)

var (
	errHandshakeTimeout   = errors.New("dtls: handshake timed out")
	errFingerprintMissing = errors.New("dtls: no local fingerprint configured for remote verification")
	errCertificateInvalid = errors.New("dtls: peer certificate could not be parsed")
	errUnexpectedMessage  = errors.New("dtls: unexpected handshake message")
	errShortBuffer        = errors.New("dtls: buffer too short")
	errBadCookie          = errors.New("dtls: cookie mismatch")
	errClosed             = errors.New("dtls: transport closed")
)

// PeerAlert represents a DTLS alert received from the remote peer. A fatal
// alert terminates the connection; a CloseNotify warning alert (level
// Warning, description CloseNotify) is the graceful shutdown signal.
type PeerAlert struct {
	Level       uint8
	Description uint8
}

func (e *PeerAlert) Error() string {
	return "dtls: peer alert"
}
