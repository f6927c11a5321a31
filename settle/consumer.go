// Package settle implements the consuming half of the round-up
// pipeline: it drains the from-signer queue, verifies the dual
// signatures and hash linkage of each co-signed envelope, commits the
// entries, and advances the address tip.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/google/uuid"

	"github.com/roderickjackson-bradley/elmgives-api/chain"
	"github.com/roderickjackson-bradley/elmgives-api/log"
	"github.com/roderickjackson-bradley/elmgives-api/queue"
	"github.com/roderickjackson-bradley/elmgives-api/store"
)

// ProcessName keys the consumer's run record.
const ProcessName = "settle"

// maxEmptyPolls terminates the consumer after this many consecutive
// empty long polls.
const maxEmptyPolls = 3

const addressCacheSize = 256

var (
	ErrNoTransactionChain = errors.New("settle: message carries no transaction chain")
	ErrAddressNotFound    = errors.New("settle: address not found")
	ErrServerSignature    = errors.New("settle: signature for queue message is incorrect")
	ErrAddressSignature   = errors.New("settle: signature for last transaction is incorrect")
	ErrStaleEnvelope      = errors.New("settle: envelope previous tip does not match address tip")
)

// Consumer is single-flight: it polls, processes messages sequentially
// and deletes each only after its commit succeeded. Per-address
// ordering therefore holds within one consumer.
type Consumer struct {
	store           *store.Store
	queue           *queue.Consumer
	serverPublicKey string
	addrs           *lru.Cache
	maxEmpty        int
	now             func() time.Time
	log             log.Logger
}

// NewConsumer wires a Consumer. serverPublicKey is the hex public half
// of the server long-term key; the outer envelope signature must verify
// against it before anything is persisted.
func NewConsumer(st *store.Store, qc *queue.Consumer, serverPublicKey string) (*Consumer, error) {
	cache, err := lru.New(addressCacheSize)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		store:           st,
		queue:           qc,
		serverPublicKey: serverPublicKey,
		addrs:           cache,
		maxEmpty:        maxEmptyPolls,
		now:             time.Now,
		log:             log.New("module", "settle"),
	}, nil
}

// Run drains the from-signer queue until it stays empty. Failed
// messages keep their receipts so the queue redelivers them or routes
// them to the dead-letter queue.
func (c *Consumer) Run(ctx context.Context) error {
	empty := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := c.queue.Receive(ctx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			empty++
			if empty >= c.maxEmpty {
				return c.finish()
			}
			continue
		}
		empty = 0
		for _, m := range msgs {
			if err := c.process(m); err != nil {
				c.log.Error("Failed to settle envelope", "err", err)
				continue
			}
			if err := c.queue.Delete(ctx, m.ReceiptHandle); err != nil {
				c.log.Error("Failed to delete settled message", "err", err)
			}
		}
	}
}

func (c *Consumer) finish() error {
	run := &store.Run{ID: uuid.NewString(), Process: ProcessName, Last: c.now().UTC()}
	if err := c.store.WriteRun(run); err != nil {
		return err
	}
	// Sustained emptiness means the signer has nothing more for us.
	c.log.Info("From-signer queue drained, stopping", "emptyPolls", c.maxEmpty)
	return nil
}

func (c *Consumer) process(m queue.Message) error {
	var env chain.Envelope
	if err := json.Unmarshal(m.Body, &env); err != nil {
		return ErrNoTransactionChain
	}
	if env.Payload.Address == "" || len(env.Payload.Transactions) == 0 {
		return ErrNoTransactionChain
	}
	return c.commit(&env)
}

func (c *Consumer) address(id string) (*store.Address, error) {
	if cached, ok := c.addrs.Get(id); ok {
		return cached.(*store.Address), nil
	}
	addr, err := c.store.ReadAddress(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAddressNotFound
		}
		return nil, err
	}
	c.addrs.Add(id, addr)
	return addr, nil
}
