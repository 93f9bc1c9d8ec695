package dtls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateTestCertificate(t *testing.T) Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)

	return Certificate{DER: der, PrivateKey: priv}
}

func TestHandshakeDerivesMatchingKeys(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCert := generateTestCertificate(t)
	serverCert := generateTestCertificate(t)

	clientFP, err := certificateFingerprint("sha-256", serverCert.DER)
	require.NoError(t, err)
	serverFP, err := certificateFingerprint("sha-256", clientCert.DER)
	require.NoError(t, err)

	client := NewTransport(clientConn, clientCert, RoleClient, clientFP)
	server := NewTransport(serverConn, serverCert, RoleServer, serverFP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		err error
	}
	clientDone := make(chan result, 1)
	serverDone := make(chan result, 1)

	go func() { clientDone <- result{client.Handshake(ctx)} }()
	go func() { serverDone <- result{server.Handshake(ctx)} }()

	cr := <-clientDone
	sr := <-serverDone

	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	require.Equal(t, server.Keys().ClientWriteKey, client.Keys().ClientWriteKey)
	require.Equal(t, server.Keys().ServerWriteKey, client.Keys().ServerWriteKey)
	require.Equal(t, server.Keys().ClientWriteSalt, client.Keys().ClientWriteSalt)
	require.Equal(t, server.Keys().ServerWriteSalt, client.Keys().ServerWriteSalt)

	localKey, localSalt := client.Keys().LocalKeys(RoleClient)
	require.Equal(t, client.Keys().ClientWriteKey, localKey)
	require.Equal(t, client.Keys().ClientWriteSalt, localSalt)

	remoteKey, remoteSalt := server.Keys().RemoteKeys(RoleServer)
	require.Equal(t, server.Keys().ClientWriteKey, remoteKey)
	require.Equal(t, server.Keys().ClientWriteSalt, remoteSalt)
}

func TestHandshakeRejectsFingerprintMismatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCert := generateTestCertificate(t)
	serverCert := generateTestCertificate(t)

	client := NewTransport(clientConn, clientCert, RoleClient, "sha-256 00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00:00")
	serverFP, err := certificateFingerprint("sha-256", clientCert.DER)
	require.NoError(t, err)
	server := NewTransport(serverConn, serverCert, RoleServer, serverFP)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	clientDone := make(chan error, 1)
	go func() { clientDone <- client.Handshake(ctx) }()
	_ = server.Handshake(ctx)

	err = <-clientDone
	require.Error(t, err)
}

func TestCertificateFingerprintRoundTrip(t *testing.T) {
	cert := generateTestCertificate(t)
	fp, err := certificateFingerprint("sha-256", cert.DER)
	require.NoError(t, err)
	require.True(t, verifyFingerprint(fp, cert.DER))

	other := generateTestCertificate(t)
	require.False(t, verifyFingerprint(fp, other.DER))
}

func TestRecordCipherRoundTrip(t *testing.T) {
	encKey := make([]byte, encKeyLen)
	macKey := make([]byte, macKeyLen)
	for i := range encKey {
		encKey[i] = byte(i)
	}
	for i := range macKey {
		macKey[i] = byte(i * 3)
	}
	rc, err := newRecordCipher(encKey, macKey)
	require.NoError(t, err)

	plaintext := []byte("a dtls handshake message body")
	sealed, err := rc.seal(contentHandshake, 1, 42, plaintext)
	require.NoError(t, err)

	opened, err := rc.open(contentHandshake, 1, 42, sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	// Tampering with the ciphertext must be detected.
	sealed[len(sealed)-1] ^= 0xff
	_, err = rc.open(contentHandshake, 1, 42, sealed)
	require.Error(t, err)
}

func TestPRF12KnownLength(t *testing.T) {
	out := prf12([]byte("secret"), []byte("label"), []byte("seed"), 60)
	require.Len(t, out, 60)

	out2 := prf12([]byte("secret"), []byte("label"), []byte("seed"), 60)
	require.Equal(t, out, out2, "PRF must be deterministic for the same inputs")
}
