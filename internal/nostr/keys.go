package nostr

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// GeneratePrivateKey generates a new random secp256k1 private key
func GeneratePrivateKey() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// GetPublicKey derives the public key from a private key (x-only, 32 bytes)
func GetPublicKey(privKeyBytes []byte) ([]byte, error) {
	if len(privKeyBytes) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	pubKey := privKey.PubKey()
	// x-only pubkey (32 bytes), BIP-340 format
	return pubKey.SerializeCompressed()[1:], nil
}

// GetPublicKeyHex derives the hex-encoded x-only public key from a hex private key
func GetPublicKeyHex(privKeyHex string) (string, error) {
	privKeyBytes, err := hex.DecodeString(privKeyHex)
	if err != nil {
		return "", errors.New("private key is not valid hex")
	}
	pubKey, err := GetPublicKey(privKeyBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pubKey), nil
}

// RandomSubID generates a subscription id with the given prefix, e.g. "sub-a1b2c3d4"
func RandomSubID(prefix string) string {
	b := make([]byte, 4)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
