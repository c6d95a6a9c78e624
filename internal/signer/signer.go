// Package signer provides the event-signing capability. Signing is
// optional: discovery probes a ranked list of sources and the rest of the
// application degrades gracefully when none is present.
package signer

import (
	"encoding/hex"
	"errors"
	"os"

	"zapgoals/internal/nostr"
	"zapgoals/internal/types"
)

// Signer signs events on behalf of the local user
type Signer interface {
	// PublicKey returns the signer's hex-encoded x-only public key
	PublicKey() (string, error)

	// SignEvent fills in the event's pubkey, id, and signature
	SignEvent(evt *types.Event) error
}

// Probe inspects one potential signing source. It returns (nil, false)
// when the source is absent.
type Probe func() (Signer, bool)

// Discover walks the probes in order and returns the first signer found.
// No signer is a legal outcome: callers treat nil as "signing unavailable".
func Discover(probes ...Probe) Signer {
	for _, probe := range probes {
		if s, ok := probe(); ok {
			return s
		}
	}
	return nil
}

// EnvProbe reads a hex private key from the SIGNER_KEY environment variable
func EnvProbe() (Signer, bool) {
	keyHex := os.Getenv("SIGNER_KEY")
	if keyHex == "" {
		return nil, false
	}
	s, err := NewLocalSigner(keyHex)
	if err != nil {
		return nil, false
	}
	return s, true
}

// KeyProbe wraps a hex private key obtained elsewhere (e.g. a wallet
// descriptor secret) as a probe
func KeyProbe(keyHex string) Probe {
	return func() (Signer, bool) {
		if keyHex == "" {
			return nil, false
		}
		s, err := NewLocalSigner(keyHex)
		if err != nil {
			return nil, false
		}
		return s, true
	}
}

// LocalSigner signs with an in-process secp256k1 private key
type LocalSigner struct {
	privKey []byte
	pubHex  string
}

// NewLocalSigner builds a signer from a 64-char hex private key
func NewLocalSigner(privKeyHex string) (*LocalSigner, error) {
	privKey, err := hex.DecodeString(privKeyHex)
	if err != nil {
		return nil, errors.New("signer key is not valid hex")
	}
	if len(privKey) != 32 {
		return nil, errors.New("signer key must be 32 bytes")
	}
	pub, err := nostr.GetPublicKey(privKey)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{
		privKey: privKey,
		pubHex:  hex.EncodeToString(pub),
	}, nil
}

func (s *LocalSigner) PublicKey() (string, error) {
	return s.pubHex, nil
}

func (s *LocalSigner) SignEvent(evt *types.Event) error {
	evt.PubKey = s.pubHex
	return nostr.SignEvent(s.privKey, evt)
}
