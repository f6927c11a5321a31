// Package plaid is the client for the transaction aggregator. It pulls
// recent card transactions for one access token and filters them down
// to the debits eligible for round-ups.
package plaid

import (
	"time"

	"github.com/roderickjackson-bradley/elmgives-api/money"
)

// Transaction is one raw aggregator transaction. Positive amounts are
// debits. Fields the pipeline does not read are dropped at decode time.
type Transaction struct {
	ID      string      `json:"_id"`
	Amount  money.Cents `json:"amount"`
	Date    string      `json:"date"`
	Name    string      `json:"name"`
	Pending bool        `json:"pending"`
}

// Eligible reports whether t can produce a round-up: settled, a debit,
// carrying a well-formed date and a non-empty id.
func Eligible(t Transaction) bool {
	if t.Pending || t.Amount <= 0 || t.ID == "" {
		return false
	}
	_, err := time.Parse("2006-01-02", t.Date)
	return err == nil
}

// Filter keeps the eligible transactions of txs, preserving order.
// Ineligible transactions are dropped silently.
func Filter(txs []Transaction) []Transaction {
	kept := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if Eligible(t) {
			kept = append(kept, t)
		}
	}
	return kept
}
