package restreamer

import "time"

// Endpoint is a UDP address this process binds or dials.
type Endpoint struct {
	Address string
	Port    int
}

// Config holds every tunable knob the embedding layer may set before
// calling New. Every field has a production-sane default; the zero
// Config is not valid on its own — use DefaultConfig and override.
type Config struct {
	// RtpListenEndpoint is where UdpRtpSource binds to receive the
	// ingress H.264/RTP stream.
	RtpListenEndpoint Endpoint

	// Mtu bounds the size of a pooled packet buffer.
	Mtu int

	// PoolMaxBuffers caps PacketPool growth; 0 means unbounded.
	PoolMaxBuffers int

	// IceCheckTimeout and DtlsHandshakeTimeout bound the per-peer
	// connection-establishment phases (spec §4.4/§4.5).
	IceCheckTimeout      time.Duration
	DtlsHandshakeTimeout time.Duration

	// IceKeepaliveInterval and IceDisconnectedAfter are not read by
	// PeerConnection or ice.Agent: the agent's selected-pair liveness
	// sweep uses its own fixed keepalivePeriod (15s) and disconnectAfter
	// (6s), whatever these fields are set to.
	IceKeepaliveInterval time.Duration
	IceDisconnectedAfter time.Duration

	// CleanupInterval is how often the background sweep removes
	// Closed/Failed peers from the registry (spec §4.7/§5).
	CleanupInterval time.Duration

	// MaxConsecutiveSendFailures is the per-peer send-error threshold:
	// once a peer's consecutive SendVideo failures exceed it, SendVideo
	// itself fails the peer; StreamMultiplexer's cleanup sweep only
	// removes it from the registry afterwards (spec §4.6).
	MaxConsecutiveSendFailures int
}

// DefaultConfig returns a Config with every knob set to this package's
// production defaults; only RtpListenEndpoint must be supplied by the
// caller.
func DefaultConfig() Config {
	return Config{
		Mtu:                        1500,
		PoolMaxBuffers:             0,
		IceCheckTimeout:            30 * time.Second,
		DtlsHandshakeTimeout:       30 * time.Second,
		IceKeepaliveInterval:       15 * time.Second,
		IceDisconnectedAfter:       6 * time.Second,
		CleanupInterval:            10 * time.Second,
		MaxConsecutiveSendFailures: 10,
	}
}
