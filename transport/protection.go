package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// RetryIntegrityTagLength is the size of the AEAD tag appended to a Retry
// packet (§7 "Retry").
const RetryIntegrityTagLength = 16

// CipherSuite selects the AEAD/header-protection family for a level's
// keys (§4.4). AES-128-GCM is the mandatory-to-implement suite; ChaCha20-
// Poly1305 is offered as the ecosystem's other common TLS 1.3 QUIC suite,
// grounded on lucas-clemente/quic-go's own dependency on golang.org/x/crypto
// for exactly this pairing (SPEC_FULL.md §3).
type CipherSuite int

const (
	SuiteAES128GCMSHA256 CipherSuite = iota
	SuiteChaCha20Poly1305SHA256
)

const (
	hpSampleLength = 16
	hpMaskLength   = 5
)

// initialSaltV1 is the version-1 Initial salt from RFC 9001 §5.2, used to
// derive the Initial secrets from a connection id before any handshake
// keys exist.
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	// QUIC reuses TLS 1.3's HKDF-Expand-Label construction (RFC 8446 §7.1)
	// with the "tls13 " prefix and label "quic " (RFC 9001 §5.1).
	fullLabel := "tls13 quic " + label
	info := make([]byte, 0, 2+1+len(fullLabel)+1)
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0)
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	_, _ = r.Read(out)
	return out
}

// DeriveInitialSecrets derives the client and server Initial secrets from
// the client's destination connection id (§4.4 construction referenced by
// §4.9 deriveInitialKeyMaterial).
func DeriveInitialSecrets(cid ConnectionID) (clientSecret, serverSecret []byte) {
	initialSecret := hkdf.Extract(sha256.New, cid, initialSaltV1)
	clientSecret = hkdfExpandLabel(initialSecret, "client in", sha256.Size)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", sha256.Size)
	return clientSecret, serverSecret
}

// PacketProtector seals and opens one direction's packet payloads and
// removes/applies header protection for one encryption level (§4.4).
type PacketProtector struct {
	suite  CipherSuite
	aead   cipher.AEAD
	iv     []byte
	hpKey  []byte
	hpAES  cipher.Block // non-nil when suite uses AES header protection
}

// NewPacketProtector derives key/iv/header-protection material from
// secret for the given cipher suite (RFC 9001 §5.1).
func NewPacketProtector(suite CipherSuite, secret []byte) (*PacketProtector, error) {
	p := &PacketProtector{suite: suite}
	switch suite {
	case SuiteAES128GCMSHA256:
		key := hkdfExpandLabel(secret, "key", 16)
		p.iv = hkdfExpandLabel(secret, "iv", 12)
		p.hpKey = hkdfExpandLabel(secret, "hp", 16)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		p.aead = aead
		hpBlock, err := aes.NewCipher(p.hpKey)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		p.hpAES = hpBlock
	case SuiteChaCha20Poly1305SHA256:
		key := hkdfExpandLabel(secret, "key", chacha20poly1305.KeySize)
		p.iv = hkdfExpandLabel(secret, "iv", chacha20poly1305.NonceSize)
		p.hpKey = hkdfExpandLabel(secret, "hp", chacha20.KeySize)
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		p.aead = aead
	default:
		return nil, newError(InternalError, "unsupported cipher suite")
	}
	return p, nil
}

// Overhead returns the AEAD authentication tag length.
func (p *PacketProtector) Overhead() int {
	return p.aead.Overhead()
}

func (p *PacketProtector) nonce(pn uint64) []byte {
	nonce := make([]byte, len(p.iv))
	copy(nonce, p.iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * i))
	}
	return nonce
}

// Seal encrypts plaintext in place conceptually: it appends the
// ciphertext+tag for payload, authenticated by associatedData (the
// packet header with its actual packet-number length), to dst (§4.4
// "Encrypt. Encrypt payload in place after the associated data").
func (p *PacketProtector) Seal(dst, associatedData, payload []byte, pn uint64) []byte {
	return p.aead.Seal(dst, p.nonce(pn), payload, associatedData)
}

// Open authenticates and decrypts payload, returning the plaintext or a
// decryption-failure error (§4.4, §7 "decryption-failure").
func (p *PacketProtector) Open(dst, associatedData, payload []byte, pn uint64) ([]byte, error) {
	out, err := p.aead.Open(dst, p.nonce(pn), payload, associatedData)
	if err != nil {
		return nil, newError(DecryptionFailure, "AEAD verification failed")
	}
	return out, nil
}

// headerProtectionMask samples 16 bytes of ciphertext starting 4 bytes
// past the packet-number field and derives a 5-byte mask: byte 0 is XORed
// into the low bits of the first byte, bytes 1-4 (truncated to the actual
// packet-number length) are XORed into the packet number (§4.4).
func (p *PacketProtector) headerProtectionMask(sample []byte) ([hpMaskLength]byte, error) {
	var mask [hpMaskLength]byte
	if len(sample) < hpSampleLength {
		return mask, newError(InternalError, "header protection sample too short")
	}
	switch p.suite {
	case SuiteAES128GCMSHA256:
		var block [16]byte
		p.hpAES.Encrypt(block[:], sample[:16])
		copy(mask[:], block[:hpMaskLength])
	case SuiteChaCha20Poly1305SHA256:
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := sample[4:16]
		c, err := chacha20.NewUnauthenticatedCipher(p.hpKey, nonce)
		if err != nil {
			return mask, errors.WithStack(err)
		}
		c.SetCounter(counter)
		var zeros [hpMaskLength]byte
		c.XORKeyStream(mask[:], zeros[:])
	}
	return mask, nil
}

// ApplyHeaderProtection masks the first byte and packet number of an
// outgoing packet already written to buf (header at buf[0:pnOffset+pnLen],
// payload ciphertext following). protectMask selects the long- or
// short-header bit mask (§4.4).
func (p *PacketProtector) ApplyHeaderProtection(buf []byte, pnOffset, pnLen int, protectMask byte) error {
	sampleOffset := pnOffset + 4
	if sampleOffset+hpSampleLength > len(buf) {
		return newError(InternalError, "packet too short to sample for header protection")
	}
	mask, err := p.headerProtectionMask(buf[sampleOffset : sampleOffset+hpSampleLength])
	if err != nil {
		return err
	}
	buf[0] ^= mask[0] & protectMask
	for i := 0; i < pnLen; i++ {
		buf[pnOffset+i] ^= mask[1+i]
	}
	return nil
}

// RemoveHeaderProtection is the decrypt-side inverse. It needs "peek past
// the 1-byte pn slot" access (§4.4): pnOffset is the offset of the (as yet
// unknown-length) packet number field, and the caller must have at least
// 4 bytes beyond it plus a 16-byte sample. It returns the unmasked first
// byte and the packet-number length; the packet-number bytes are unmasked
// in place in buf (still truncated; the caller reconstructs the full
// value).
func (p *PacketProtector) RemoveHeaderProtection(buf []byte, pnOffset int, protectMask byte) (firstByte byte, pnLen int, err error) {
	sampleOffset := pnOffset + 4
	if sampleOffset+hpSampleLength > len(buf) {
		return 0, 0, newError(InternalError, "packet too short to sample for header protection")
	}
	mask, err := p.headerProtectionMask(buf[sampleOffset : sampleOffset+hpSampleLength])
	if err != nil {
		return 0, 0, err
	}
	first := buf[0] ^ (mask[0] & protectMask)
	pnLen = int(first&0x03) + 1
	buf[0] = first
	for i := 0; i < pnLen; i++ {
		buf[pnOffset+i] ^= mask[1+i]
	}
	return first, pnLen, nil
}

// retryIntegrityKeyV1 and retryIntegrityNonceV1 are the fixed key/nonce
// used to compute a Retry packet's integrity tag (RFC 9001 §5.8, version 1).
var (
	retryIntegrityKeyV1 = []byte{
		0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a,
		0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e,
	}
	retryIntegrityNonceV1 = []byte{
		0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2,
		0x23, 0x98, 0x25, 0xbb,
	}
)

// ComputeRetryIntegrityTag computes the tag over the pseudo-retry-packet:
// a length-prefixed original destination cid followed by the retry packet
// up to (not including) the tag itself.
func ComputeRetryIntegrityTag(odcid ConnectionID, retryPacketWithoutTag []byte) ([]byte, error) {
	block, err := aes.NewCipher(retryIntegrityKeyV1)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pseudo := make([]byte, 0, 1+len(odcid)+len(retryPacketWithoutTag))
	pseudo = append(pseudo, byte(len(odcid)))
	pseudo = append(pseudo, odcid...)
	pseudo = append(pseudo, retryPacketWithoutTag...)
	return aead.Seal(nil, retryIntegrityNonceV1, nil, pseudo), nil
}

// VerifyRetryIntegrity checks a received Retry packet's trailing 16-byte
// tag against odcid (§7 "Retry ... whose integrity tag verifies against
// the original destination connection id").
func VerifyRetryIntegrity(retryPacket []byte, odcid ConnectionID) bool {
	if len(retryPacket) < RetryIntegrityTagLength {
		return false
	}
	body := retryPacket[:len(retryPacket)-RetryIntegrityTagLength]
	tag := retryPacket[len(retryPacket)-RetryIntegrityTagLength:]
	want, err := ComputeRetryIntegrityTag(odcid, body)
	if err != nil || len(want) != len(tag) {
		return false
	}
	var diff byte
	for i := range tag {
		diff |= tag[i] ^ want[i]
	}
	return diff == 0
}
