// Package chain implements the hash-linked donation chain: entry and
// envelope wire types, canonical hashing, and the builder that appends a
// batch of round-ups to a verified previous tip.
package chain

import (
	"encoding/json"

	"github.com/roderickjackson-bradley/elmgives-api/canonjson"
	"github.com/roderickjackson-bradley/elmgives-api/money"
)

// Hash names a digest algorithm and carries its hex value.
type Hash struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SignatureHeader identifies the algorithm and key that produced a
// signature.
type SignatureHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Signature is one detached signature over a hash value.
type Signature struct {
	Header    SignatureHeader `json:"header"`
	Signature string          `json:"signature"`
}

// Entry is one link of a per-address chain. Payload holds the exact
// canonical bytes that were hashed, so re-verification never depends on
// local serialization choices.
type Entry struct {
	Hash       Hash            `json:"hash"`
	Payload    json.RawMessage `json:"payload"`
	Signatures []Signature     `json:"signatures"`
}

// Payload is the hashed body of an Entry.
type Payload struct {
	Count     int64       `json:"count"`
	Address   string      `json:"address"`
	Amount    money.Cents `json:"amount"`
	Roundup   money.Cents `json:"roundup"`
	Balance   money.Cents `json:"balance"`
	Currency  string      `json:"currency"`
	Limit     money.Cents `json:"limit"`
	Previous  *string     `json:"previous"`
	Timestamp string      `json:"timestamp"`
	Reference string      `json:"reference"`
}

// NewEntry canonicalizes and hashes p into an unsigned Entry.
func NewEntry(p Payload) (Entry, error) {
	raw, err := canonjson.Marshal(p)
	if err != nil {
		return Entry{}, err
	}
	value, err := HashValue(json.RawMessage(raw))
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Hash:       Hash{Type: HashTypeSHA256, Value: value},
		Payload:    raw,
		Signatures: []Signature{},
	}, nil
}

// Envelope is the object submitted to the external signer: the previous
// tip carried by value, the new batch of entries, and a signature set.
type Envelope struct {
	Hash       Hash            `json:"hash"`
	Payload    EnvelopePayload `json:"payload"`
	Signatures []Signature     `json:"signatures"`
}

// EnvelopePayload is the hashed body of an Envelope.
type EnvelopePayload struct {
	Address      string  `json:"address"`
	Previous     Entry   `json:"previous"`
	Transactions []Entry `json:"transactions"`
}

// NewEnvelope wraps a previous tip and a batch of built entries into an
// unsigned envelope for address.
func NewEnvelope(address string, previous Entry, entries []Entry) *Envelope {
	return &Envelope{
		Hash: Hash{Type: HashTypeSHA256},
		Payload: EnvelopePayload{
			Address:      address,
			Previous:     previous,
			Transactions: entries,
		},
		Signatures: []Signature{},
	}
}

// previousFields is the subset of a previous payload the builder needs;
// pointers distinguish absent fields from zero values.
type previousFields struct {
	Count    *int64       `json:"count"`
	Address  string       `json:"address"`
	Balance  *money.Cents `json:"balance"`
	Currency *string      `json:"currency"`
	Limit    *money.Cents `json:"limit"`
}

// DecodePayload decodes an entry's raw payload into its typed form.
func DecodePayload(e Entry) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return Payload{}, ErrInvalidPreviousTransaction
	}
	return p, nil
}
