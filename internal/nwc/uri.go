// Package nwc implements a NIP-47 wallet-connect client: descriptor
// parsing, capability negotiation, and the encrypted request/response
// protocol over a wallet relay.
package nwc

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"zapgoals/internal/nips"
	"zapgoals/internal/nostr"
)

// Config holds wallet connection parameters extracted from a
// nostr+walletconnect:// URI
type Config struct {
	WalletPubKey []byte // wallet's public key (32 bytes)
	Relay        string // relay URL for communication
	Secret       []byte // secret key signing our requests (32 bytes)
	ClientPubKey []byte // derived from the secret
	Lud16        string // optional lightning address carried in the URI

	// Pre-computed encryption keys for both supported schemes
	ConversationKey []byte // NIP-44
	Nip04SharedKey  []byte // NIP-04
}

// ParseWalletConnectURL parses a wallet-connect descriptor.
// Format: nostr+walletconnect://<wallet-pubkey>?relay=<url>&secret=<hex>[&lud16=<addr>]
// A relay value without a scheme gets wss:// prepended.
func ParseWalletConnectURL(descriptor string) (*Config, error) {
	if !strings.HasPrefix(descriptor, "nostr+walletconnect://") {
		return nil, fmt.Errorf("%w: must start with nostr+walletconnect://", ErrMalformedDescriptor)
	}

	// Swap the scheme so url.Parse accepts it
	parseable := strings.Replace(descriptor, "nostr+walletconnect://", "https://", 1)
	u, err := url.Parse(parseable)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}

	walletPubKeyHex := u.Host
	if len(walletPubKeyHex) != 64 {
		return nil, fmt.Errorf("%w: wallet pubkey must be 64 hex characters", ErrMalformedDescriptor)
	}
	walletPubKey, err := hex.DecodeString(walletPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet pubkey is not valid hex", ErrMalformedDescriptor)
	}

	relay := u.Query().Get("relay")
	if relay == "" {
		return nil, fmt.Errorf("%w: missing relay parameter", ErrMalformedDescriptor)
	}
	if !strings.HasPrefix(relay, "wss://") && !strings.HasPrefix(relay, "ws://") {
		if strings.Contains(relay, "://") {
			return nil, fmt.Errorf("%w: relay must use ws:// or wss://", ErrMalformedDescriptor)
		}
		relay = "wss://" + relay
	}

	secretHex := u.Query().Get("secret")
	if secretHex == "" {
		return nil, fmt.Errorf("%w: missing secret parameter", ErrMalformedDescriptor)
	}
	if len(secretHex) != 64 {
		return nil, fmt.Errorf("%w: secret must be 64 hex characters", ErrMalformedDescriptor)
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid hex", ErrMalformedDescriptor)
	}

	clientPubKey, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot derive public key from secret", ErrMalformedDescriptor)
	}

	conversationKey, err := nips.Nip44ConversationKey(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot compute conversation key", ErrMalformedDescriptor)
	}

	nip04SharedKey, err := nips.Nip04SharedSecret(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot compute shared secret", ErrMalformedDescriptor)
	}

	return &Config{
		WalletPubKey:    walletPubKey,
		Relay:           relay,
		Secret:          secret,
		ClientPubKey:    clientPubKey,
		Lud16:           u.Query().Get("lud16"),
		ConversationKey: conversationKey,
		Nip04SharedKey:  nip04SharedKey,
	}, nil
}

// WalletPubKeyHex returns the wallet's public key as hex
func (c *Config) WalletPubKeyHex() string {
	return hex.EncodeToString(c.WalletPubKey)
}

// ClientPubKeyHex returns the client's public key as hex
func (c *Config) ClientPubKeyHex() string {
	return hex.EncodeToString(c.ClientPubKey)
}
