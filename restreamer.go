// Package restreamer ingests one unidirectional H.264/RTP/UDP stream and
// restreams it to an arbitrary number of WebRTC browser peers: SDP
// offer/answer, ICE connectivity, DTLS-SRTP, and per-peer SRTP
// encryption of the outbound stream.
//
// The façade's operations are a constructor (New) plus Start,
// AppendClient, ProcessClientAnswer and Stop. PeerConnection,
// StreamMultiplexer and UdpRtpSource are exported too; they are the
// collaborators this façade wires together and serializes access to. A
// hosted embedding layer that owns client lifecycle and transport (e.g.
// cmd/restreamerd's WebSocket signaling server) is expected to sit in
// front of this package.
package restreamer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mahina-labs/restreamer/internal/logging"
)

// connectedPollInterval is how often watchConnected checks a pending
// peer's state while it works through ICE/DTLS setup.
const connectedPollInterval = 100 * time.Millisecond

var restreamerLog = logging.DefaultLogger.WithTag("restreamer")

// Restreamer is the top-level façade (spec §4.9). All three exported
// operations are serialized by mu so that registry mutations stay
// linearizable; none of them block on I/O while holding it.
type Restreamer struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool

	source *UdpRtpSource
	mux    *StreamMultiplexer

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// New constructs a Restreamer with the given configuration. Call Start
// to begin ingesting and accepting peers.
func New(cfg Config) *Restreamer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Restreamer{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		mux:       NewStreamMultiplexer(),
		stopSweep: make(chan struct{}),
	}
}

// Start binds the ingress socket and begins the receive loop and the
// background cleanup sweep. It must be called at most once.
func (r *Restreamer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("restreamer: already started")
	}

	source, err := NewUdpRtpSource(r.cfg.RtpListenEndpoint, r.cfg.Mtu, r.cfg.PoolMaxBuffers)
	if err != nil {
		return errors.Wrap(err, "restreamer: bind ingress socket")
	}
	r.source = source
	r.started = true

	go func() {
		if err := r.source.Run(r.mux.Broadcast); err != nil {
			restreamerLog.Warn("ingress receive loop stopped: %v", err)
		}
	}()
	go r.mux.RunCleanupSweep(r.cfg.CleanupInterval, r.stopSweep)

	return nil
}

// AppendClient creates a new PeerConnection, registers it with the
// stream multiplexer, and returns its ID alongside a generated SDP
// offer for the caller to forward to the browser peer.
func (r *Restreamer) AppendClient() (peerId uuid.UUID, offerSdp string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, err := newPeerConnection(r.ctx, r.cfg)
	if err != nil {
		return uuid.UUID{}, "", errors.Wrap(err, "restreamer: appendClient")
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		return uuid.UUID{}, "", errors.Wrap(err, "restreamer: appendClient")
	}

	r.mux.Register(peer)
	go r.watchConnected(peer)

	return peer.ID(), offer, nil
}

// watchConnected polls peer's state until it reaches Connected, Failed,
// or Closed, and flips its multiplexer transmit flag accordingly. A
// PeerConnection has no state-change channel of its own (unlike
// ice.Agent), since its state machine is coarser-grained and this is the
// only place that needs to observe it.
func (r *Restreamer) watchConnected(peer *PeerConnection) {
	ticker := time.NewTicker(connectedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-peer.ctx.Done():
			r.mux.StopTransmit(peer.ID())
			return
		case <-ticker.C:
			switch peer.State() {
			case Connected:
				r.mux.StartTransmit(peer.ID())
			case Failed, Closed:
				r.mux.StopTransmit(peer.ID())
				return
			}
		}
	}
}

// ProcessClientAnswer forwards the browser's SDP answer to the
// identified peer's SetRemoteDescription. An unknown peerId or a
// rejected answer is reported back to the caller; asynchronous failures
// after acceptance are never surfaced here (spec §7) -- a failed peer is
// simply dropped from the active set by the cleanup sweep.
func (r *Restreamer) ProcessClientAnswer(peerId uuid.UUID, answerSdp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer := r.mux.lookup(peerId)
	if peer == nil {
		return errors.Errorf("restreamer: unknown peer %s", peerId)
	}
	if err := peer.SetRemoteDescription(answerSdp); err != nil {
		return errors.Wrapf(err, "restreamer: processClientAnswer(%s)", peerId)
	}
	return nil
}

// Stop closes the ingress socket, stops the cleanup sweep, and closes
// every active peer. It is idempotent.
func (r *Restreamer) Stop() {
	r.mu.Lock()
	started := r.started
	source := r.source
	r.mu.Unlock()
	if !started {
		return
	}

	r.stopOnce.Do(func() {
		close(r.stopSweep)
		if source != nil {
			source.Close()
		}
		r.mux.CloseAll()
		r.cancel()
	})
}
