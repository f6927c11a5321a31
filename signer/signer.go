// Package signer produces and checks the detached ed25519 signatures
// carried by chain envelopes. The server long-term key signs outbound
// envelopes; the external co-signer's address keys are only ever
// verified here.
package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/roderickjackson-bradley/elmgives-api/chain"
)

const AlgEd25519 = "ed25519"

var (
	ErrInvalidPrivateKey = errors.New("signer: invalid private key")
	ErrInvalidPublicKey  = errors.New("signer: invalid public key")
	ErrInvalidSignature  = errors.New("signer: invalid signature")
)

// Key is the process-global server signing identity. It is read-only
// after startup and safe for concurrent use.
type Key struct {
	kid  string
	priv ed25519.PrivateKey
}

// ParseKey decodes a hex-encoded ed25519 private key. Both 32-byte
// seeds and 64-byte expanded keys are accepted.
func ParseKey(kid, hexKey string) (*Key, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, ErrInvalidPrivateKey
	}
	if kid == "" {
		return nil, ErrInvalidPrivateKey
	}
	return &Key{kid: kid, priv: priv}, nil
}

// Kid returns the key id stamped into signature headers.
func (k *Key) Kid() string { return k.kid }

// PublicHex returns the hex-encoded public half, as stored on Address
// records.
func (k *Key) PublicHex() string {
	return hex.EncodeToString(k.priv.Public().(ed25519.PublicKey))
}

// SignEnvelope computes the canonical hash of env's payload into
// env.Hash.Value and appends a detached signature over that hash.
func (k *Key) SignEnvelope(env *chain.Envelope) error {
	value, err := chain.HashValue(env.Payload)
	if err != nil {
		return err
	}
	env.Hash = chain.Hash{Type: chain.HashTypeSHA256, Value: value}
	sig := ed25519.Sign(k.priv, []byte(value))
	if len(sig) == 0 {
		return ErrInvalidSignature
	}
	env.Signatures = append(env.Signatures, chain.Signature{
		Header:    chain.SignatureHeader{Alg: AlgEd25519, Kid: k.kid},
		Signature: hex.EncodeToString(sig),
	})
	return nil
}

// VerifyEnvelope recomputes the canonical hash over env's payload,
// compares it to the recorded hash value, and checks the last signature
// against publicKeyHex. It returns false on any failure and never
// panics.
func VerifyEnvelope(env *chain.Envelope, publicKeyHex string) bool {
	if env == nil {
		return false
	}
	value, err := chain.HashValue(env.Payload)
	if err != nil || value != env.Hash.Value {
		return false
	}
	return verifyLast(value, env.Signatures, publicKeyHex)
}

// VerifyEntry performs the same check for a single chain entry; the
// consumer uses it against the address co-signer key.
func VerifyEntry(e chain.Entry, publicKeyHex string) bool {
	value, err := chain.HashValue(e.Payload)
	if err != nil || value != e.Hash.Value {
		return false
	}
	return verifyLast(value, e.Signatures, publicKeyHex)
}

func verifyLast(hashValue string, sigs []chain.Signature, publicKeyHex string) bool {
	if len(sigs) == 0 {
		return false
	}
	pub, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigs[len(sigs)-1].Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(hashValue), sig)
}
