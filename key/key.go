// Package key implements the P-256 ECDSA primitives the repository uses to
// sign snapshots and to authenticate sync logins. A Signature carries the
// public key that verifies it, so verification never needs a side channel.
package key

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/vmihailenco/msgpack/v5"
)

var curve = elliptic.P256()

const scalarSize = 32

// PublicKey is the uncompressed SEC1 point encoding of a P-256 public key
// (0x04 || X || Y, 65 bytes), stored as a comparable fixed-size array so it
// can be used directly as a map key (Users is keyed by PublicKey).
type PublicKey [65]byte

// PrivateKey is the raw 32-byte P-256 scalar.
type PrivateKey [scalarSize]byte

// New generates a fresh random PrivateKey.
func New() (PrivateKey, error) {
	raw, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generate private key: %w", err)
	}
	var out PrivateKey
	raw.D.FillBytes(out[:])
	return out, nil
}

func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	var out PrivateKey
	if len(b) != scalarSize {
		return out, fmt.Errorf("private key: expected %d bytes, got %d", scalarSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func (k PrivateKey) ecdsaKey() *ecdsa.PrivateKey {
	d := new(big.Int).SetBytes(k[:])
	x, y := curve.ScalarBaseMult(k[:])
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
}

// PublicKey derives the corresponding public key.
func (k PrivateKey) PublicKey() PublicKey {
	pub := k.ecdsaKey().PublicKey
	return publicKeyFromPoint(&pub)
}

func publicKeyFromPoint(pub *ecdsa.PublicKey) PublicKey {
	var out PublicKey
	copy(out[:], elliptic.Marshal(curve, pub.X, pub.Y))
	return out
}

// Sign hashes data with SHA-256 and produces an ECDSA signature carrying the
// signer's public key.
func (k PrivateKey) Sign(data []byte) (Signature, error) {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, k.ecdsaKey(), digest[:])
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	var sig Signature
	r.FillBytes(sig.R[:])
	s.FillBytes(sig.S[:])
	sig.Key = k.PublicKey()
	return sig, nil
}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var out PublicKey
	if len(b) != len(out) {
		return out, fmt.Errorf("public key: expected %d bytes, got %d", len(out), len(b))
	}
	x, y := elliptic.Unmarshal(curve, b)
	if x == nil {
		return out, errors.New("public key: invalid SEC1 point encoding")
	}
	copy(out[:], b)
	return out, nil
}

func (k PublicKey) point() (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(curve, k[:])
	if x == nil {
		return nil, errors.New("public key: invalid SEC1 point encoding")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func (k PublicKey) Bytes() []byte {
	return append([]byte(nil), k[:]...)
}

// Signature is an ECDSA (r, s) pair together with the public key it
// verifies against.
type Signature struct {
	R   [scalarSize]byte
	S   [scalarSize]byte
	Key PublicKey
}

// Check verifies the signature over data, returning an error describing why
// verification failed.
func (s Signature) Check(data []byte) error {
	pub, err := s.Key.point()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(data)
	r := new(big.Int).SetBytes(s.R[:])
	sv := new(big.Int).SetBytes(s.S[:])
	if !ecdsa.Verify(pub, digest[:], r, sv) {
		return errors.New("signature: verification failed")
	}
	return nil
}

// Verify reports whether the signature is valid over data, swallowing the
// reason (use Check to see it).
func (s Signature) Verify(data []byte) bool {
	return s.Check(data) == nil
}

type signatureWire struct {
	R   []byte `msgpack:"r"`
	S   []byte `msgpack:"s"`
	Key []byte `msgpack:"key"`
}

// EncodeMsgpack/DecodeMsgpack serialize the whole signature struct -
// including the verifying key - as a single MessagePack value, matching the
// wire contract that a signature is self-contained.
func (s Signature) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(signatureWire{R: s.R[:], S: s.S[:], Key: s.Key.Bytes()})
}

func (s *Signature) DecodeMsgpack(dec *msgpack.Decoder) error {
	var wire signatureWire
	if err := dec.Decode(&wire); err != nil {
		return err
	}
	if len(wire.R) != scalarSize || len(wire.S) != scalarSize {
		return fmt.Errorf("signature: malformed r/s component")
	}
	copy(s.R[:], wire.R)
	copy(s.S[:], wire.S)
	key, err := PublicKeyFromBytes(wire.Key)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	s.Key = key
	return nil
}

func (k PrivateKey) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(k[:])
}

func (k *PrivateKey) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	parsed, err := PrivateKeyFromBytes(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k PublicKey) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(k[:])
}

func (k *PublicKey) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	parsed, err := PublicKeyFromBytes(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
