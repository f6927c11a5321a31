package store

import (
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/roderickjackson-bradley/elmgives-api/chain"
)

// ReadUser retrieves one user record, or ErrNotFound.
func (s *Store) ReadUser(id string) (*User, error) {
	data, err := s.get(userKey(id))
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// WriteUser stores a user record.
func (s *Store) WriteUser(u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.put(userKey(u.ID), data)
}

// Users returns every user record. The scheduler applies its own
// eligibility filter over the result.
func (s *Store) Users() ([]*User, error) {
	iter := s.db.NewIterator(util.BytesPrefix(userPrefix), nil)
	defer iter.Release()

	var users []*User
	for iter.Next() {
		var u User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, iter.Error()
}

// ReadBank retrieves one bank record, or ErrNotFound.
func (s *Store) ReadBank(id string) (*Bank, error) {
	data, err := s.get(bankKey(id))
	if err != nil {
		return nil, err
	}
	var b Bank
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// WriteBank stores a bank record.
func (s *Store) WriteBank(b *Bank) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.put(bankKey(b.ID), data)
}

// ReadAddress retrieves one address record, or ErrNotFound.
func (s *Store) ReadAddress(address string) (*Address, error) {
	data, err := s.get(addressKey(address))
	if err != nil {
		return nil, err
	}
	var a Address
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// WriteAddress stores an address record.
func (s *Store) WriteAddress(a *Address) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.put(addressKey(a.Address), data)
}

// WriteAddressTip advances the chain tip for address. It is the only
// tip mutation and is invoked by the settle consumer after the latest
// entry verified.
func (s *Store) WriteAddressTip(address, hashValue string) error {
	a, err := s.ReadAddress(address)
	if err != nil {
		return err
	}
	a.LatestTransaction = hashValue
	return s.WriteAddress(a)
}

// ReadChainEntry retrieves a committed chain entry by hash value, or
// ErrNotFound.
func (s *Store) ReadChainEntry(hashValue string) (chain.Entry, error) {
	data, err := s.get(entryKey(hashValue))
	if err != nil {
		return chain.Entry{}, err
	}
	var e chain.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return chain.Entry{}, err
	}
	return e, nil
}

// WriteChainEntry upserts a chain entry keyed by its hash value. A
// write collision on the same hash is a success: entries are immutable
// and content-addressed.
func (s *Store) WriteChainEntry(e chain.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.put(entryKey(e.Hash.Value), data)
}

// HasPlaidTransaction reports whether an audit record exists for
// transactionID.
func (s *Store) HasPlaidTransaction(transactionID string) (bool, error) {
	return s.has(plaidKey(transactionID))
}

// WritePlaidTransaction persists the audit copy for one raw
// transaction. Records are write-once per transaction id; a repeat
// write is a no-op.
func (s *Store) WritePlaidTransaction(p *PlaidTransaction) error {
	exists, err := s.has(plaidKey(p.TransactionID))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.put(plaidKey(p.TransactionID), data)
}

// ReadRun retrieves the run record for process, or ErrNotFound.
func (s *Store) ReadRun(process string) (*Run, error) {
	data, err := s.get(runKey(process))
	if err != nil {
		return nil, err
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// WriteRun stores the run record for its process.
func (s *Store) WriteRun(r *Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.put(runKey(r.Process), data)
}
