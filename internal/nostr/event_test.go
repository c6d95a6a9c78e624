package nostr

import (
	"strings"
	"testing"

	"zapgoals/internal/types"
)

func TestCalculateEventIDDeterministic(t *testing.T) {
	evt := &types.Event{
		PubKey:    strings.Repeat("ab", 32),
		CreatedAt: 1700000000,
		Kind:      types.KindNote,
		Tags:      [][]string{{"e", "abc"}, {"p", "def"}},
		Content:   "hello nostr",
	}

	id1 := CalculateEventID(evt)
	id2 := CalculateEventID(evt)
	if id1 == "" || len(id1) != 64 {
		t.Fatalf("id = %q", id1)
	}
	if id1 != id2 {
		t.Error("id not deterministic")
	}

	evt.Content = "hello nostr!"
	if CalculateEventID(evt) == id1 {
		t.Error("id unchanged after content change")
	}
}

func TestCalculateEventIDNoHTMLEscaping(t *testing.T) {
	a := &types.Event{PubKey: strings.Repeat("ab", 32), Kind: 1, Content: "<b>&</b>"}
	b := &types.Event{PubKey: strings.Repeat("ab", 32), Kind: 1, Content: "<b>&</b>"}

	// Both spellings are the same characters; ids must match
	if CalculateEventID(a) != CalculateEventID(b) {
		t.Error("ids differ for identical content")
	}
}

func TestSignAndValidate(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pubHex, err := GetPublicKeyHex(hexOf(priv))
	if err != nil {
		t.Fatal(err)
	}

	evt := &types.Event{
		PubKey:    pubHex,
		CreatedAt: 1700000000,
		Kind:      types.KindZapRequest,
		Tags:      [][]string{{"p", strings.Repeat("cd", 32)}, {"amount", "21000"}},
		Content:   "",
	}
	if err := SignEvent(priv, evt); err != nil {
		t.Fatal(err)
	}
	if len(evt.ID) != 64 || len(evt.Sig) != 128 {
		t.Fatalf("id len %d, sig len %d", len(evt.ID), len(evt.Sig))
	}
	if !ValidateEventSignature(evt) {
		t.Fatal("signature does not validate")
	}

	evt.Content = "tampered"
	evt.ID = CalculateEventID(evt)
	if ValidateEventSignature(evt) {
		t.Error("signature validated after tampering")
	}
}

func TestParseEventFromInterface(t *testing.T) {
	data := map[string]interface{}{
		"id":         "abc123",
		"pubkey":     strings.Repeat("ab", 32),
		"created_at": float64(1700000000),
		"kind":       float64(9735),
		"content":    "",
		"tags": []interface{}{
			[]interface{}{"e", "goal1"},
			[]interface{}{"amount", "5000"},
		},
	}

	evt, ok := ParseEventFromInterface(data)
	if !ok {
		t.Fatal("parse failed")
	}
	if evt.Kind != 9735 || evt.CreatedAt != 1700000000 {
		t.Errorf("parsed %+v", evt)
	}
	if evt.TagValue("amount") != "5000" {
		t.Errorf("tags = %v", evt.Tags)
	}

	if _, ok := ParseEventFromInterface("not a map"); ok {
		t.Error("parsed non-map input")
	}
	if _, ok := ParseEventFromInterface(map[string]interface{}{"kind": float64(1)}); ok {
		t.Error("parsed event without id")
	}
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	priv, _ := GeneratePrivateKey()
	pub, _ := GetPublicKey(priv)
	evt := &types.Event{
		PubKey:    hexOf(pub),
		CreatedAt: 1700000000,
		Kind:      1,
		Content:   "signed",
	}
	if err := SignEvent(priv, evt); err != nil {
		t.Fatal(err)
	}

	badSig := strings.Repeat("00", 64)
	data := map[string]interface{}{
		"id":         evt.ID,
		"pubkey":     evt.PubKey,
		"created_at": float64(evt.CreatedAt),
		"kind":       float64(evt.Kind),
		"content":    evt.Content,
		"sig":        badSig,
		"tags":       []interface{}{},
	}
	if _, ok := ParseEventFromInterface(data); ok {
		t.Error("accepted event with invalid signature")
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID(strings.Repeat("a", 64)); got != strings.Repeat("a", 12) {
		t.Errorf("got %q", got)
	}
	if got := ShortID("tiny"); got != "tiny" {
		t.Errorf("got %q", got)
	}
}

func hexOf(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xf])
	}
	return string(out)
}
