package restreamer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahina-labs/restreamer/internal/rtp"
)

func TestRegisterLookupRoundTrip(t *testing.T) {
	sm := NewStreamMultiplexer()
	pc, err := newPeerConnection(context.Background(), DefaultConfig())
	require.NoError(t, err)

	sm.Register(pc)
	assert.True(t, pc == sm.lookup(pc.ID()))
}

func TestLookupUnknownPeerReturnsNil(t *testing.T) {
	sm := NewStreamMultiplexer()
	assert.Nil(t, sm.lookup(mustPeer(t).ID()))
}

func mustPeer(t *testing.T) *PeerConnection {
	t.Helper()
	pc, err := newPeerConnection(context.Background(), DefaultConfig())
	require.NoError(t, err)
	return pc
}

func TestBroadcastSkipsPeersNotTransmitting(t *testing.T) {
	sm := NewStreamMultiplexer()
	pc := mustPeer(t)
	sm.Register(pc)

	// Not started: SendVideo on a non-Connected peer is a silent no-op,
	// so this must not panic even without a live transport.
	h := &rtp.Header{PayloadType: 96, Sequence: 1, Timestamp: 1, SSRC: 1}
	assert.NotPanics(t, func() { sm.Broadcast(h, []byte("frame")) })
}

func TestCleanupRemovesClosedPeers(t *testing.T) {
	sm := NewStreamMultiplexer()
	pc := mustPeer(t)
	sm.Register(pc)
	pc.Close(nil)

	sm.Cleanup()
	assert.Nil(t, sm.lookup(pc.ID()))
}

func TestClosePeerStopsTransmit(t *testing.T) {
	sm := NewStreamMultiplexer()
	pc := mustPeer(t)
	sm.Register(pc)
	sm.StartTransmit(pc.ID())

	sm.ClosePeer(pc.ID())
	assert.Equal(t, Closed, pc.State())
}

func TestClosePeerUnknownIdIsNoop(t *testing.T) {
	sm := NewStreamMultiplexer()
	assert.NotPanics(t, func() { sm.ClosePeer(mustPeer(t).ID()) })
}

func TestRunCleanupSweepStopsOnSignal(t *testing.T) {
	sm := NewStreamMultiplexer()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		sm.RunCleanupSweep(5*time.Millisecond, stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanupSweep did not return after stop was closed")
	}
}

func TestCloseAllClearsRegistry(t *testing.T) {
	sm := NewStreamMultiplexer()
	a, b := mustPeer(t), mustPeer(t)
	sm.Register(a)
	sm.Register(b)

	sm.CloseAll()

	assert.Equal(t, Closed, a.State())
	assert.Equal(t, Closed, b.State())
	assert.Nil(t, sm.lookup(a.ID()))
	assert.Nil(t, sm.lookup(b.ID()))
}
