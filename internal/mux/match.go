package mux

// MatchFunc decides whether a packet belongs to a particular Endpoint. A
// Mux tries the registered Endpoints' MatchFuncs in no fixed order (it
// keeps them in a map) and delivers the packet to the first that reports
// a match.
type MatchFunc func(buf []byte) bool

// Demultiplexing rule for a single UDP socket carrying STUN, DTLS, and
// SRTP/SRTCP: the first byte's value identifies the protocol, per
// RFC 7983 §7.
const (
	stunFirstByteMin = 0
	stunFirstByteMax = 3

	dtlsFirstByteMin = 20
	dtlsFirstByteMax = 63

	rtpFirstByteMin = 128
	rtpFirstByteMax = 191
)

// MatchRange returns a MatchFunc that accepts any packet whose first byte
// falls in [lo, hi].
func MatchRange(lo, hi byte) MatchFunc {
	return func(buf []byte) bool {
		if len(buf) == 0 {
			return false
		}
		return buf[0] >= lo && buf[0] <= hi
	}
}

// MatchSTUN reports whether buf's first byte falls in the STUN range.
var MatchSTUN = MatchRange(stunFirstByteMin, stunFirstByteMax)

// MatchDTLS reports whether buf's first byte falls in the DTLS range.
var MatchDTLS = MatchRange(dtlsFirstByteMin, dtlsFirstByteMax)

// MatchSRTP reports whether buf's first byte falls in the RTP/RTCP
// range. SRTP and SRTCP share this range; a PeerConnection demultiplexes
// between them (for the rtcp-mux case) by RTCP payload-type, per
// RFC 5761 §4, one layer up from this Mux.
var MatchSRTP = MatchRange(rtpFirstByteMin, rtpFirstByteMax)
