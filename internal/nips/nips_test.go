package nips

import (
	"encoding/base64"
	"strings"
	"testing"

	"zapgoals/internal/nostr"
)

func keyPair(t *testing.T) ([]byte, []byte) {
	priv, err := nostr.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := nostr.GetPublicKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func TestNip04RoundTrip(t *testing.T) {
	alicePriv, alicePub := keyPair(t)
	bobPriv, bobPub := keyPair(t)

	aliceShared, err := Nip04SharedSecret(alicePriv, bobPub)
	if err != nil {
		t.Fatal(err)
	}
	bobShared, err := Nip04SharedSecret(bobPriv, alicePub)
	if err != nil {
		t.Fatal(err)
	}
	if string(aliceShared) != string(bobShared) {
		t.Fatal("shared secrets disagree")
	}

	plaintext := `{"method":"get_balance","params":{}}`
	ciphertext, err := Nip04Encrypt(plaintext, aliceShared)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ciphertext, "?iv=") {
		t.Fatalf("payload %q missing ?iv= separator", ciphertext)
	}

	decrypted, err := Nip04Decrypt(ciphertext, bobShared)
	if err != nil {
		t.Fatal(err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q", decrypted)
	}
}

func TestNip04DecryptMalformed(t *testing.T) {
	_, pub := keyPair(t)
	priv, _ := keyPair(t)
	shared, err := Nip04SharedSecret(priv, pub)
	if err != nil {
		t.Fatal(err)
	}

	cases := []string{
		"no separator",
		"notbase64!?iv=notbase64!",
		base64.StdEncoding.EncodeToString([]byte("short")) + "?iv=" + base64.StdEncoding.EncodeToString([]byte("short")),
	}
	for _, payload := range cases {
		if _, err := Nip04Decrypt(payload, shared); err == nil {
			t.Errorf("payload %q: expected error", payload)
		}
	}
}

func TestNip44ConversationKeySymmetric(t *testing.T) {
	alicePriv, alicePub := keyPair(t)
	bobPriv, bobPub := keyPair(t)

	aliceKey, err := Nip44ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatal(err)
	}
	bobKey, err := Nip44ConversationKey(bobPriv, alicePub)
	if err != nil {
		t.Fatal(err)
	}
	if string(aliceKey) != string(bobKey) {
		t.Fatal("conversation keys disagree")
	}
	if len(aliceKey) != 32 {
		t.Fatalf("key length = %d", len(aliceKey))
	}
}

func TestNip44RoundTrip(t *testing.T) {
	alicePriv, _ := keyPair(t)
	_, bobPub := keyPair(t)
	key, err := Nip44ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatal(err)
	}

	for _, plaintext := range []string{
		"a",
		`{"result_type":"pay_invoice","result":{"preimage":"00"}}`,
		strings.Repeat("x", 1000),
	} {
		ciphertext, err := Nip44Encrypt(plaintext, key)
		if err != nil {
			t.Fatal(err)
		}
		decrypted, err := Nip44Decrypt(ciphertext, key)
		if err != nil {
			t.Fatal(err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip failed for %d-byte plaintext", len(plaintext))
		}
	}
}

func TestNip44TamperDetection(t *testing.T) {
	alicePriv, _ := keyPair(t)
	_, bobPub := keyPair(t)
	key, err := Nip44ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := Nip44Encrypt("attack at dawn", key)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	raw[40] ^= 0xff // flip a ciphertext byte
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := Nip44Decrypt(tampered, key); err == nil {
		t.Fatal("expected MAC failure on tampered payload")
	}
}

func TestNip44FutureVersionRejected(t *testing.T) {
	key := make([]byte, 32)
	if _, err := Nip44Decrypt("#future-payload", key); err == nil {
		t.Error("expected error for # payload")
	}
}

func TestCalcPaddedLen(t *testing.T) {
	cases := map[int]int{
		1:   32,
		32:  32,
		33:  64,
		100: 128,
		256: 256,
		257: 320,
	}
	for in, want := range cases {
		if got := calcPaddedLen(in); got != want {
			t.Errorf("calcPaddedLen(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBech32DecodeLNURL(t *testing.T) {
	// Standard LNURL example vector
	lnurl := strings.ToLower("LNURL1DP68GURN8GHJ7UM9WFMXJCM99E3K7MF0V9CXJ0M385EKVCENXC6R2C35XVUKXEFCV5MKVV34X5EKZD3EV56NYD3HXQURZEPEXEJXXEPNXSCRVWFNV9NXZCN9XQ6XYEFHVGCXXCMYXYMNSERXFQ5FNS")

	hrp, data, err := Bech32Decode(lnurl)
	if err != nil {
		t.Fatal(err)
	}
	if hrp != "lnurl" {
		t.Errorf("hrp = %q", hrp)
	}

	decoded, err := Bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://service.com/api?q=3fc3645b439ce8e7f2553a69e5267081d96dcd340693afabe04be7b0ccd178df"
	if string(decoded) != want {
		t.Errorf("decoded = %q", string(decoded))
	}
}

func TestBech32DecodeInvalid(t *testing.T) {
	cases := []string{
		"",
		"short",
		"noseparator",
		"lnurl1!!!!!!!!",
	}
	for _, in := range cases {
		if _, _, err := Bech32Decode(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}
