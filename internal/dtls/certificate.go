package dtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"
)

// certificateLifetime matches the teacher's own self-signed certificate:
// long enough to outlive any single signaling session, short enough that
// a process restart doesn't carry a stale identity forward for long.
const certificateLifetime = 30 * 24 * time.Hour

// GenerateSelfSigned creates a fresh ECDSA P-256 self-signed certificate
// for use as this process's DTLS identity (spec §4.4: one certificate per
// PeerConnection's underlying transport, generated at connection time).
// It returns the certificate alongside its own "sha-256 AA:BB:..."
// fingerprint, ready to go straight into an SDP a=fingerprint line.
func GenerateSelfSigned() (Certificate, string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Certificate{}, "", err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Certificate{}, "", err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "WebRTC"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(certificateLifetime),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return Certificate{}, "", err
	}

	fp, err := certificateFingerprint("sha-256", der)
	if err != nil {
		return Certificate{}, "", err
	}
	return Certificate{DER: der, PrivateKey: priv}, fp, nil
}

// Fingerprint computes cert's own "sha-256 AA:BB:..." fingerprint, the
// same value a remote peer would compute over the DER this certificate
// carries.
func Fingerprint(cert Certificate) (string, error) {
	return certificateFingerprint("sha-256", cert.DER)
}
