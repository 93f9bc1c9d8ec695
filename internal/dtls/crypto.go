package dtls

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"math/big"
	"strings"

	"github.com/mahina-labs/restreamer/internal/errs"
)

// certificateFingerprint computes the fingerprint of a DER-encoded
// certificate the way SDP's a=fingerprint line does: algorithm name
// followed by the colon-separated uppercase hex hash (RFC 8122). Only
// "sha-256" and "sha-1" are accepted, matching the two algorithms browsers
// advertise; the comparison is case-insensitive per spec.
func certificateFingerprint(algorithm string, der []byte) (string, error) {
	var sum []byte
	switch strings.ToLower(algorithm) {
	case "sha-256":
		h := sha256.Sum256(der)
		sum = h[:]
	case "sha-1":
		h := sha1.Sum(der)
		sum = h[:]
	default:
		return "", errs.ErrFingerprintInvalid
	}
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.ToLower(algorithm) + " " + strings.Join(parts, ":"), nil
}

// verifyFingerprint reports whether der's fingerprint, computed with the
// algorithm named in expected ("sha-256 AA:BB:..."), matches expected.
func verifyFingerprint(expected string, der []byte) bool {
	fields := strings.SplitN(strings.TrimSpace(expected), " ", 2)
	if len(fields) != 2 {
		return false
	}
	got, err := certificateFingerprint(fields[0], der)
	if err != nil {
		return false
	}
	return strings.EqualFold(got, expected)
}

// prf12 implements the TLS 1.2 PRF (RFC 5246 §5): P_SHA256 applied to a
// secret, label, and seed. DTLS 1.2 reuses this PRF unchanged (RFC 6347
// §4.1.2 footnote).
func prf12(secret, label, seed []byte, length int) []byte {
	labelSeed := append(append([]byte{}, label...), seed...)
	out := make([]byte, 0, length)

	h := hmac.New(sha256.New, secret)
	h.Write(labelSeed)
	a := h.Sum(nil)

	for len(out) < length {
		h := hmac.New(sha256.New, secret)
		h.Write(a)
		h.Write(labelSeed)
		out = append(out, h.Sum(nil)...)

		h = hmac.New(sha256.New, secret)
		h.Write(a)
		a = h.Sum(nil)
	}
	return out[:length]
}

// ecdheKeyPair is a P-256 ephemeral key pair used for the ECDHE key
// exchange (RFC 4492).
type ecdheKeyPair struct {
	priv *big.Int
	pub  []byte // uncompressed point, X9.62 format
}

func generateECDHEKeyPair() (*ecdheKeyPair, error) {
	curve := elliptic.P256()
	priv, x, y, err := elliptic.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ecdheKeyPair{
		priv: new(big.Int).SetBytes(priv),
		pub:  elliptic.Marshal(curve, x, y),
	}, nil
}

// sharedSecret computes the ECDHE premaster secret: the X coordinate of
// peerPublicKey scaled by this pair's private scalar (RFC 4492 §5.10).
func (kp *ecdheKeyPair) sharedSecret(peerPublicKey []byte) ([]byte, error) {
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, peerPublicKey)
	if x == nil {
		return nil, errCertificateInvalid
	}
	sx, _ := curve.ScalarMult(x, y, kp.priv.Bytes())
	secret := sx.Bytes()
	// Left-pad to the curve's field size.
	byteLen := (curve.Params().BitSize + 7) / 8
	if len(secret) < byteLen {
		padded := make([]byte, byteLen)
		copy(padded[byteLen-len(secret):], secret)
		secret = padded
	}
	return secret, nil
}

// masterSecret derives the 48-byte TLS master secret from the premaster
// secret and hello randoms (RFC 5246 §8.1).
func masterSecret(premaster, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	return prf12(premaster, []byte("master secret"), seed, 48)
}

// cbcKeyMaterial is the key_block slice this transport's single cipher
// suite (TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA) requires: a MAC key and an
// encryption key for each direction. TLS 1.1+ uses explicit per-record
// IVs, so no fixed IV material is derived (RFC 5246 §6.2.3.2).
type cbcKeyMaterial struct {
	clientMACKey, serverMACKey       []byte
	clientWriteKey, serverWriteKey   []byte
}

const (
	macKeyLen  = 20 // HMAC-SHA1
	encKeyLen  = 16 // AES-128
)

func deriveKeyMaterial(master, clientRandom, serverRandom []byte) cbcKeyMaterial {
	seed := append(append([]byte{}, serverRandom...), clientRandom...)
	total := 2*macKeyLen + 2*encKeyLen
	block := prf12(master, []byte("key expansion"), seed, total)

	off := 0
	next := func(n int) []byte {
		v := block[off : off+n]
		off += n
		return v
	}
	return cbcKeyMaterial{
		clientMACKey:   next(macKeyLen),
		serverMACKey:   next(macKeyLen),
		clientWriteKey: next(encKeyLen),
		serverWriteKey: next(encKeyLen),
	}
}

// exporterLabel is the RFC 5705 keying material exporter label DTLS-SRTP
// uses to derive SRTP master key/salt material (RFC 5764 §4.2).
const exporterLabel = "EXTRACTOR-dtls_srtp"

// exportKeyingMaterial implements RFC 5705's exporter: PRF over the master
// secret with label "EXTRACTOR-dtls_srtp", seed = client_random ||
// server_random (context is empty, matching RFC 5764's use of this
// exporter), producing length bytes.
func exportKeyingMaterial(master, clientRandom, serverRandom []byte, length int) []byte {
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	return prf12(master, []byte(exporterLabel), seed, length)
}

// signServerKeyExchange signs the ECDHE parameters with the local
// certificate's ECDSA private key using ECDSA-SHA256 (RFC 4492 §5.4).
func signServerKeyExchange(priv *ecdsa.PrivateKey, params []byte) ([]byte, error) {
	h := sha256.Sum256(params)
	return ecdsa.SignASN1(rand.Reader, priv, h[:])
}

// verifyServerKeyExchange checks the ECDSA-SHA256 signature over the
// ECDHE parameters using the public key extracted from the peer's
// certificate.
func verifyServerKeyExchange(certDER []byte, params, signature []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return errCertificateInvalid
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return errCertificateInvalid
	}
	h := sha256.Sum256(params)
	if !ecdsa.VerifyASN1(pub, h[:], signature) {
		return errs.ErrFingerprintMismatch
	}
	return nil
}

// --- record protection: AES-128-CBC + HMAC-SHA1, TLS 1.2 style (MAC-then-encrypt, explicit IV) ---

type recordCipher struct {
	block   cipher.Block
	macKey  []byte
}

func newRecordCipher(encKey, macKey []byte) (*recordCipher, error) {
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	return &recordCipher{block: block, macKey: macKey}, nil
}

// seal MACs then CBC-encrypts payload, prefixing a random explicit IV and
// appending PKCS#7-style TLS padding (RFC 5246 §6.2.3.2).
func (rc *recordCipher) seal(ct contentType, epoch uint16, seq uint64, payload []byte) ([]byte, error) {
	macInput := macAAD(ct, epoch, seq, len(payload))
	macInput = append(macInput, payload...)
	mac := hmac.New(sha1.New, rc.macKey)
	mac.Write(macInput)
	tag := mac.Sum(nil)

	plain := append(append([]byte{}, payload...), tag...)
	blockSize := rc.block.BlockSize()
	padLen := blockSize - (len(plain)+1)%blockSize
	if padLen == blockSize {
		padLen = 0
	}
	for i := 0; i <= padLen; i++ {
		plain = append(plain, byte(padLen))
	}

	iv := make([]byte, blockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	out := make([]byte, blockSize+len(plain))
	copy(out, iv)
	cipher.NewCBCEncrypter(rc.block, iv).CryptBlocks(out[blockSize:], plain)
	return out, nil
}

// open reverses seal: decrypt, strip and validate padding, verify and
// strip the MAC.
func (rc *recordCipher) open(ct contentType, epoch uint16, seq uint64, sealed []byte) ([]byte, error) {
	blockSize := rc.block.BlockSize()
	if len(sealed) < blockSize+blockSize {
		return nil, errs.ErrAuthFailed
	}
	iv := sealed[:blockSize]
	body := append([]byte{}, sealed[blockSize:]...)
	if len(body)%blockSize != 0 {
		return nil, errs.ErrAuthFailed
	}
	cipher.NewCBCDecrypter(rc.block, iv).CryptBlocks(body, body)

	padLen := int(body[len(body)-1])
	if padLen+1 > len(body) {
		return nil, errs.ErrAuthFailed
	}
	for _, b := range body[len(body)-padLen-1:] {
		if int(b) != padLen {
			return nil, errs.ErrAuthFailed
		}
	}
	body = body[:len(body)-padLen-1]

	if len(body) < sha1.Size {
		return nil, errs.ErrAuthFailed
	}
	payload := body[:len(body)-sha1.Size]
	gotTag := body[len(body)-sha1.Size:]

	macInput := macAAD(ct, epoch, seq, len(payload))
	macInput = append(macInput, payload...)
	mac := hmac.New(sha1.New, rc.macKey)
	mac.Write(macInput)
	wantTag := mac.Sum(nil)

	if !hmac.Equal(gotTag, wantTag) {
		return nil, errs.ErrAuthFailed
	}
	return payload, nil
}

// macAAD builds the MAC's additional-authenticated-data prefix: epoch,
// sequence number, content type, version, and length (RFC 6347 §4.1.2.1).
func macAAD(ct contentType, epoch uint16, seq uint64, length int) []byte {
	b := make([]byte, 13)
	b[0] = byte(epoch >> 8)
	b[1] = byte(epoch)
	putUint48(b[2:8], seq)
	b[8] = byte(ct)
	b[9] = byte(versionDTLS12 >> 8)
	b[10] = byte(versionDTLS12)
	b[11] = byte(length >> 8)
	b[12] = byte(length)
	return b
}
