package chain

import (
	"encoding/json"
	"time"

	"github.com/roderickjackson-bradley/elmgives-api/money"
)

// Input is one eligible raw transaction ready for chaining. Roundup may
// be left zero, in which case the builder computes it from Amount.
type Input struct {
	Amount    money.Cents
	Roundup   money.Cents
	Date      string
	Reference string
}

// Build appends batch to the verified previous tip for address and
// returns the resulting linked entries in input order. An empty batch
// returns an empty slice; callers skip enqueueing in that case.
//
// The previous entry is trusted only after its payload re-hashes to its
// recorded hash value, so a corrupted or drifted tip never extends.
func Build(address string, previous Entry, batch []Input) ([]Entry, error) {
	var prev previousFields
	if err := json.Unmarshal(previous.Payload, &prev); err != nil {
		return nil, ErrInvalidPreviousTransaction
	}
	if prev.Address != address {
		return nil, ErrAddressMismatch
	}
	if prev.Count == nil || prev.Balance == nil || prev.Currency == nil || prev.Limit == nil {
		return nil, ErrInvalidPreviousTransaction
	}
	recomputed, err := HashValue(previous.Payload)
	if err != nil {
		return nil, ErrInvalidPreviousTransaction
	}
	if recomputed != previous.Hash.Value {
		return nil, ErrPreviousHashMismatch
	}

	var (
		count    = *prev.Count
		balance  = *prev.Balance
		prevHash = previous.Hash.Value
		entries  = make([]Entry, 0, len(batch))
	)
	for _, in := range batch {
		if in.Reference == "" {
			return nil, ErrInvalidTransactionInput
		}
		if in.Amount <= 0 {
			return nil, ErrInvalidTransactionAmount
		}
		roundup := in.Roundup
		if roundup == 0 {
			roundup = money.RoundUp(in.Amount)
		}
		if roundup < 0 {
			return nil, ErrInvalidTransactionRoundup
		}
		timestamp := in.Date
		if timestamp == "" {
			timestamp = time.Now().UTC().Format(time.RFC3339)
		}
		count++
		balance -= roundup
		link := prevHash
		entry, err := NewEntry(Payload{
			Count:     count,
			Address:   address,
			Amount:    in.Amount,
			Roundup:   roundup,
			Balance:   balance,
			Currency:  *prev.Currency,
			Limit:     *prev.Limit,
			Previous:  &link,
			Timestamp: timestamp,
			Reference: in.Reference,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		prevHash = entry.Hash.Value
	}
	return entries, nil
}
