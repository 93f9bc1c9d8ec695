package restreamer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RtpListenEndpoint = Endpoint{Address: "127.0.0.1", Port: 0}
	return cfg
}

func TestStartIsNotReentrant(t *testing.T) {
	r := New(testConfig())
	require.NoError(t, r.Start())
	defer r.Stop()

	err := r.Start()
	assert.Error(t, err)
}

func TestAppendClientReturnsOfferAndRegistersPeer(t *testing.T) {
	r := New(testConfig())
	require.NoError(t, r.Start())
	defer r.Stop()

	peerId, offerSdp, err := r.AppendClient()
	require.NoError(t, err)
	assert.NotEqual(t, uuid.UUID{}, peerId)
	assert.NotEmpty(t, offerSdp)
	assert.NotNil(t, r.mux.lookup(peerId))
}

func TestProcessClientAnswerRejectsUnknownPeer(t *testing.T) {
	r := New(testConfig())
	require.NoError(t, r.Start())
	defer r.Stop()

	err := r.ProcessClientAnswer(uuid.New(), "v=0\r\n")
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	r := New(testConfig())
	require.NoError(t, r.Start())

	r.Stop()
	assert.NotPanics(t, func() { r.Stop() })
}
