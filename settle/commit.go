package settle

import (
	"encoding/json"
	"fmt"

	"github.com/roderickjackson-bradley/elmgives-api/chain"
	"github.com/roderickjackson-bradley/elmgives-api/signer"
)

// commit runs the commit protocol for one co-signed envelope: verify
// the server signature, locate the latest entry, verify it against the
// address co-signer key, persist everything and advance the tip.
func (c *Consumer) commit(env *chain.Envelope) error {
	addr, err := c.address(env.Payload.Address)
	if err != nil {
		return err
	}
	if !signer.VerifyEnvelope(env, c.serverPublicKey) {
		return ErrServerSignature
	}

	latest, err := latestEntry(env)
	if err != nil {
		return err
	}
	// Idempotent redelivery: the envelope's final entry already is the
	// recorded tip, nothing to do.
	if addr.LatestTransaction == latest.Hash.Value {
		return nil
	}
	// Same-address sequence guard: a stale envelope whose carried tip
	// no longer matches must wait for redelivery (or the dead-letter
	// queue) instead of forking the chain.
	if addr.LatestTransaction != "" && env.Payload.Previous.Hash.Value != addr.LatestTransaction {
		return fmt.Errorf("%w: have %s want %s",
			ErrStaleEnvelope, env.Payload.Previous.Hash.Value, addr.LatestTransaction)
	}
	// Entries are content-addressed and upserted before the co-signer
	// check; a failed check surfaces the error and leaves the tip
	// untouched, it does not roll the rows back.
	for _, e := range env.Payload.Transactions {
		if err := c.store.WriteChainEntry(e); err != nil {
			return err
		}
	}
	if !signer.VerifyEntry(latest, addr.Keys.Public) {
		return ErrAddressSignature
	}
	if err := c.store.WriteAddressTip(addr.Address, latest.Hash.Value); err != nil {
		return err
	}
	addr.LatestTransaction = latest.Hash.Value
	c.addrs.Add(addr.Address, addr)
	c.log.Info("Committed envelope", "address", addr.Address,
		"entries", len(env.Payload.Transactions), "tip", latest.Hash.Value)
	return nil
}

// latestEntry locates the entry whose count equals the previous count
// plus the batch length, i.e. the new tip.
func latestEntry(env *chain.Envelope) (chain.Entry, error) {
	var prev struct {
		Count *int64 `json:"count"`
	}
	if err := json.Unmarshal(env.Payload.Previous.Payload, &prev); err != nil || prev.Count == nil {
		return chain.Entry{}, ErrNoTransactionChain
	}
	want := *prev.Count + int64(len(env.Payload.Transactions))
	for _, e := range env.Payload.Transactions {
		p, err := chain.DecodePayload(e)
		if err != nil {
			continue
		}
		if p.Count == want {
			return e, nil
		}
	}
	return chain.Entry{}, ErrNoTransactionChain
}
