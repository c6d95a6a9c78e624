// Package types provides shared type definitions used across internal packages.
package types

// Nostr event kinds handled by this client
const (
	KindProfile        = 0     // profile metadata (NIP-01)
	KindNote           = 1     // short text note
	KindReply          = 1111  // comment/reply (NIP-22)
	KindZapGoal        = 9041  // fundraising goal (NIP-75)
	KindZapRequest     = 9734  // zap request (NIP-57)
	KindZapReceipt     = 9735  // zap receipt (NIP-57)
	KindWalletInfo     = 13194 // wallet capability advertisement (NIP-47)
	KindWalletRequest  = 23194 // client request to wallet (NIP-47)
	KindWalletResponse = 23195 // wallet response to client (NIP-47)
)

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// TagValue returns the first value of the first tag with the given name,
// or "" if no such tag exists.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	ETags   []string            // #e tag filter (referenced events)
	PTags   []string            // #p tag filter (mentions/recipients)
	Tags    map[string][]string // additional #<name> tag filters
}

// ToWire converts the filter to the JSON object sent in a REQ frame.
// Zero-valued fields are omitted so relays see only the constraints we mean.
func (f Filter) ToWire() map[string]interface{} {
	wire := map[string]interface{}{}
	if len(f.IDs) > 0 {
		wire["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		wire["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		wire["kinds"] = f.Kinds
	}
	if f.Limit > 0 {
		wire["limit"] = f.Limit
	}
	if f.Since != nil {
		wire["since"] = *f.Since
	}
	if f.Until != nil {
		wire["until"] = *f.Until
	}
	if len(f.ETags) > 0 {
		wire["#e"] = f.ETags
	}
	if len(f.PTags) > 0 {
		wire["#p"] = f.PTags
	}
	for name, values := range f.Tags {
		if len(values) > 0 {
			wire["#"+name] = values
		}
	}
	return wire
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}

// Profile holds the parsed content of a kind 0 metadata event
type Profile struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
	Picture     string `json:"picture"`
	Nip05       string `json:"nip05"`
	Lud06       string `json:"lud06"`
	Lud16       string `json:"lud16"`
}
