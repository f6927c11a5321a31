package store

import (
	"time"

	"github.com/roderickjackson-bradley/elmgives-api/money"
)

// User is one enrolled user. Aggregator token and account maps are
// keyed by bank type ("connect" for the legacy aggregator family).
type User struct {
	ID                 string            `json:"id"`
	Active             bool              `json:"active"`
	LatestRoundupDate  string            `json:"latestRoundupDate,omitempty"`
	Pledges            []Pledge          `json:"pledges"`
	AggregatorTokens   map[string]string `json:"aggregatorTokens,omitempty"`
	AggregatorAccounts map[string]string `json:"aggregatorAccounts,omitempty"`
}

// ActivePledge returns the user's first active pledge. At most one
// active pledge per user is honored; extras are ignored.
func (u *User) ActivePledge() (Pledge, bool) {
	for _, p := range u.Pledges {
		if p.Active {
			return p, true
		}
	}
	return Pledge{}, false
}

// Pledge is a user's commitment of round-ups from one bank to one NPO,
// with a ledger address per calendar month.
type Pledge struct {
	Active       bool              `json:"active"`
	BankID       string            `json:"bankId"`
	NpoID        string            `json:"npoId"`
	MonthlyLimit money.Cents       `json:"monthlyLimit"`
	Addresses    map[string]string `json:"addresses,omitempty"` // "YYYY-MM" -> address id
}

// Bank maps a pledge's bank to the bank-family key used to index the
// user's aggregator tokens and accounts.
type Bank struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AddressKeys holds the hex-encoded public key of the external signer
// tied to an address.
type AddressKeys struct {
	Public string `json:"public"`
}

// Address is a ledger identity to which one chain of round-ups is
// appended. LatestTransaction is the hash of the current tip, empty for
// genesis-only addresses.
type Address struct {
	Address           string      `json:"address"`
	Keys              AddressKeys `json:"keys"`
	LatestTransaction string      `json:"latestTransaction,omitempty"`
}

// PlaidTransaction is the audit copy persisted for each eligible raw
// transaction before chain assembly.
type PlaidTransaction struct {
	TransactionID string      `json:"transactionId"`
	UserID        string      `json:"userId"`
	Amount        money.Cents `json:"amount"`
	Roundup       money.Cents `json:"roundup"`
	Date          string      `json:"date"`
	Name          string      `json:"name"`
	Summed        bool        `json:"summed"`
}

// Run records the completion of one scheduler or consumer invocation.
type Run struct {
	ID      string    `json:"id"`
	Process string    `json:"process"`
	Last    time.Time `json:"last"`
}
