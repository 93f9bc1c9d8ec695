package restreamer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahina-labs/restreamer/internal/logging"
	"github.com/mahina-labs/restreamer/internal/rtp"
)

var muxLog = logging.DefaultLogger.WithTag("multiplexer")

// peerEntry is one StreamMultiplexer registry slot: the peer itself plus
// whether it should currently receive broadcast traffic. A peer is
// registered before it's started (it needs to exist to receive its
// answer), and stops receiving traffic the instant it's stopped or
// closed, without being removed from the map until the next cleanup
// sweep.
type peerEntry struct {
	peer     *PeerConnection
	transmit bool
}

// StreamMultiplexer is the registry of active PeerConnections and the
// fan-out point for the single ingested RTP stream (spec §4.7). Grounded
// on the teacher's Broadcaster/Subscriber pattern (broadcaster.go):
// register/unsubscribe there becomes register/cleanup here, and the
// per-subscriber channel becomes a per-peer SendVideo call guarded by its
// own "started" flag instead of a buffered channel, since PeerConnection
// already serializes its own send path.
type StreamMultiplexer struct {
	mu    sync.RWMutex
	peers map[uuid.UUID]*peerEntry
}

// NewStreamMultiplexer creates an empty registry.
func NewStreamMultiplexer() *StreamMultiplexer {
	return &StreamMultiplexer{
		peers: make(map[uuid.UUID]*peerEntry),
	}
}

// Register adds peer to the registry in the not-yet-transmitting state.
func (sm *StreamMultiplexer) Register(peer *PeerConnection) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.peers[peer.ID()] = &peerEntry{peer: peer}
}

// lookup returns the peer registered under peerId, or nil.
func (sm *StreamMultiplexer) lookup(peerId uuid.UUID) *PeerConnection {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if e, ok := sm.peers[peerId]; ok {
		return e.peer
	}
	return nil
}

// StartTransmit marks peerId as eligible to receive broadcast RTP. Called
// once a PeerConnection reaches Connected.
func (sm *StreamMultiplexer) StartTransmit(peerId uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if e, ok := sm.peers[peerId]; ok {
		e.transmit = true
	}
}

// StopTransmit marks peerId as no longer eligible for broadcast RTP,
// without removing it from the registry.
func (sm *StreamMultiplexer) StopTransmit(peerId uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if e, ok := sm.peers[peerId]; ok {
		e.transmit = false
	}
}

// ClosePeer closes peerId's PeerConnection and stops its transmission.
func (sm *StreamMultiplexer) ClosePeer(peerId uuid.UUID) {
	sm.mu.Lock()
	e, ok := sm.peers[peerId]
	sm.mu.Unlock()
	if !ok {
		muxLog.Warn("closePeer: unknown peer %s", peerId)
		return
	}
	e.peer.Close(nil)
	sm.StopTransmit(peerId)
}

// Broadcast forwards one inbound RTP packet to every peer currently
// transmitting. Per peer send failure is handled entirely inside
// PeerConnection.SendVideo (it never returns an error here); broadcast
// fan-out itself carries no cross-peer ordering guarantee (spec §5).
func (sm *StreamMultiplexer) Broadcast(h *rtp.Header, payload []byte) {
	sm.mu.RLock()
	started := make([]*PeerConnection, 0, len(sm.peers))
	for _, e := range sm.peers {
		if e.transmit {
			started = append(started, e.peer)
		}
	}
	sm.mu.RUnlock()

	for _, peer := range started {
		peer.SendVideo(h, payload)
	}
}

// Cleanup removes every peer in Failed or Closed state from the
// registry. It's run periodically by the background sweep rather than
// inline with Broadcast, so broadcast never blocks on registry
// mutation (spec §5: "no operation is allowed to suspend while holding
// the multiplexer registry lock").
func (sm *StreamMultiplexer) Cleanup() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, e := range sm.peers {
		switch e.peer.State() {
		case Failed, Closed:
			delete(sm.peers, id)
		}
	}
}

// RunCleanupSweep runs Cleanup on interval until stop is closed.
func (sm *StreamMultiplexer) RunCleanupSweep(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sm.Cleanup()
		case <-stop:
			return
		}
	}
}

// CloseAll closes every registered peer, used by Restreamer.Stop.
func (sm *StreamMultiplexer) CloseAll() {
	sm.mu.RLock()
	peers := make([]*PeerConnection, 0, len(sm.peers))
	for _, e := range sm.peers {
		peers = append(peers, e.peer)
	}
	sm.mu.RUnlock()

	for _, p := range peers {
		p.Close(nil)
	}

	sm.mu.Lock()
	sm.peers = make(map[uuid.UUID]*peerEntry)
	sm.mu.Unlock()
	muxLog.Info("closed all peers")
}
