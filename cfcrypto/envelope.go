// Package cfcrypto implements the crypto envelope: the symmetric
// stream-cipher encryption, content hashing, and node-hash composition
// of §4.1.
//
// Every node stored on the server is encrypted under the mount's single
// symmetric key with a fresh, randomly drawn nonce, and identified by a
// SHA-384 digest computed over the encrypted bytes so that the server
// never has to be trusted to have returned the right thing: the client
// re-derives the hash on every fetch (see the verify package) and treats
// any mismatch as tampering.
package cfcrypto

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
)

// KeySize and NonceSize are fixed: a 256-bit key and a 192-bit
// (24-byte) nonce. The nonce is deliberately the longer XChaCha20
// size rather than ChaCha20's 96-bit nonce, because many small objects
// (one per filesystem node) are encrypted under the same key over the
// life of a mount, and a 96-bit nonce would collide with non-negligible
// probability under that many encryptions; XChaCha20's 192-bit nonce
// makes random generation safe without a counter.
const (
	KeySize   = 32
	NonceSize = 24

	// DigestSize is the length in bytes of a SHA-384 digest.
	DigestSize = 48
)

// Key is the symmetric key shared by every node under one mount.
type Key [KeySize]byte

// Nonce is drawn fresh for every encryption. It is never reused under the
// same key.
type Nonce [NonceSize]byte

// Digest is a SHA-384 content hash, hex-encoded form used as the
// server's object key (see objectstore and §6).
type Digest [DigestSize]byte

// String renders the digest as the 96-hex-character string used on the
// wire and as the server's object key.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest (used to recognize an
// as-yet-unassigned node hash).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes the 96-hex-character form back into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("cfcrypto: malformed digest %q: %v", s, err)
	}
	if len(b) != DigestSize {
		return d, fmt.Errorf("cfcrypto: digest %q has %d bytes, want %d", s, len(b), DigestSize)
	}
	copy(d[:], b)
	return d, nil
}

// NewNonce draws a fresh nonce from the system CSPRNG. Callers must
// never persist or reuse a nonce under the same key; the nonce is
// carried alongside the ciphertext it was used for (see EncodeEnvelope).
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("cfcrypto: drawing nonce: %v", err)
	}
	return n, nil
}

// Seal encrypts plaintext under key and nonce using XChaCha20. The
// 24-byte nonce selects the XChaCha20 construction automatically; see
// golang.org/x/crypto/chacha20.NewUnauthenticatedCipher.
func Seal(key Key, nonce Nonce, plaintext []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("cfcrypto: constructing cipher: %v", err)
	}
	ciphertext := make([]byte, len(plaintext))
	c.XORKeyStream(ciphertext, plaintext)
	return ciphertext, nil
}

// Open decrypts ciphertext under key and nonce. XChaCha20 is a stream
// cipher with no authentication tag, so Open cannot itself detect
// tampering; that is the job of the hash comparison in the verify
// package. Open only fails if the key/nonce are malformed.
func Open(key Key, nonce Nonce, ciphertext []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("cfcrypto: constructing cipher: %v", err)
	}
	plaintext := make([]byte, len(ciphertext))
	c.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// Hash returns the SHA-384 digest of b.
func Hash(b []byte) Digest {
	return Digest(sha512.Sum384(b))
}

// EncodeEnvelope writes the on-wire layout required by §6: nonce ‖
// ciphertext. This is the only place a nonce is attached to or parsed
// off of stored bytes.
func EncodeEnvelope(nonce Nonce, ciphertext []byte) []byte {
	out := make([]byte, NonceSize+len(ciphertext))
	copy(out, nonce[:])
	copy(out[NonceSize:], ciphertext)
	return out
}

// DecodeEnvelope splits a stored envelope back into its nonce and
// ciphertext.
func DecodeEnvelope(envelope []byte) (Nonce, []byte, error) {
	var nonce Nonce
	if len(envelope) < NonceSize {
		return nonce, nil, fmt.Errorf("cfcrypto: envelope too short: %d bytes", len(envelope))
	}
	copy(nonce[:], envelope[:NonceSize])
	ciphertext := make([]byte, len(envelope)-NonceSize)
	copy(ciphertext, envelope[NonceSize:])
	return nonce, ciphertext, nil
}

// NodeHash computes a node's content identifier per §4.1:
//
//   - hMeta = Hash(encMeta)
//   - if the node carries a non-empty payload (a regular file's bytes, or
//     a directory's canonical child-hash concatenation), return
//     Hash(hMeta ‖ hPayload)
//   - otherwise return Hash(hMeta)
//
// encMeta and encPayload are the already-encrypted envelopes (nonce ‖
// ciphertext); NodeHash never sees plaintext, so it authenticates
// exactly what the server was asked to store.
func NodeHash(encMeta []byte, encPayload []byte) Digest {
	hMeta := Hash(encMeta)
	if len(encPayload) == 0 {
		return Hash(hMeta[:])
	}
	hPayload := Hash(encPayload)
	combined := make([]byte, 0, 2*DigestSize)
	combined = append(combined, hMeta[:]...)
	combined = append(combined, hPayload[:]...)
	return Hash(combined)
}

// DirectoryPayload returns the canonical "payload" a directory hashes
// over: the concatenation of its children's node hashes in ascending
// lexicographic order of their hex representation (§4.1). A directory
// with no children has an empty payload, so its hash falls back to the
// meta-only branch of NodeHash.
func DirectoryPayload(children []Digest) []byte {
	sorted := make([]Digest, len(children))
	copy(sorted, children)
	sortDigests(sorted)

	out := make([]byte, 0, len(sorted)*DigestSize)
	for _, d := range sorted {
		out = append(out, d[:]...)
	}
	return out
}

func sortDigests(d []Digest) {
	// Insertion sort: the slice is one directory's children, small in
	// practice, and this keeps the package free of a sort.Interface
	// adapter for a fixed-size array type.
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j].String() < d[j-1].String(); j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}
