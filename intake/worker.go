// Package intake implements the producing half of the round-up
// pipeline: a per-user worker that turns recent card transactions into
// a signed chain envelope, and the scheduler that fans workers out over
// the eligible users once per day.
package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/roderickjackson-bradley/elmgives-api/canonjson"
	"github.com/roderickjackson-bradley/elmgives-api/chain"
	"github.com/roderickjackson-bradley/elmgives-api/log"
	"github.com/roderickjackson-bradley/elmgives-api/money"
	"github.com/roderickjackson-bradley/elmgives-api/plaid"
	"github.com/roderickjackson-bradley/elmgives-api/queue"
	"github.com/roderickjackson-bradley/elmgives-api/signer"
	"github.com/roderickjackson-bradley/elmgives-api/store"
)

var (
	ErrNoPreviousChain = errors.New("intake: no previous chain for address")
	ErrSignerTrigger   = errors.New("intake: signer trigger failed")
)

// WorkItem is one user's share of a scheduler run.
type WorkItem struct {
	UserID       string
	Address      string
	AccessToken  string
	MonthlyLimit money.Cents
	BankType     string
	Gte          string
	Lte          string
}

// Worker performs the intake for single users: fetch, filter, build,
// sign, enqueue, trigger. One Worker is shared by all scheduler
// goroutines; it keeps no per-user state.
type Worker struct {
	store     *store.Store
	plaid     *plaid.Client
	producer  *queue.Producer
	key       *signer.Key
	signerURL string
	http      *http.Client
	log       log.Logger
}

// NewWorker wires a Worker against its collaborators. signerURL is the
// base URL of the external co-signing service.
func NewWorker(st *store.Store, pc *plaid.Client, producer *queue.Producer, key *signer.Key, signerURL string) *Worker {
	return &Worker{
		store:     st,
		plaid:     pc,
		producer:  producer,
		key:       key,
		signerURL: signerURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log.New("module", "intake"),
	}
}

// Process runs the full intake for one user and reports whether an
// envelope reached the to-signer queue. The worker never retries within
// a run; the next scheduled invocation picks up from the recorded
// round-up date.
func (w *Worker) Process(ctx context.Context, item WorkItem) (enqueued bool, err error) {
	logger := w.log.New("userID", item.UserID, "address", item.Address)

	txs, err := w.plaid.Transactions(ctx, item.AccessToken, item.Gte, item.Lte)
	if err != nil {
		return false, err
	}
	eligible := plaid.Filter(txs)

	batch := make([]chain.Input, 0, len(eligible))
	for _, tx := range eligible {
		roundup := money.RoundUp(tx.Amount)
		// Audit rows are best effort: a failed write is logged but
		// never aborts the chain.
		audit := &store.PlaidTransaction{
			TransactionID: tx.ID,
			UserID:        item.UserID,
			Amount:        tx.Amount,
			Roundup:       roundup,
			Date:          tx.Date,
			Name:          tx.Name,
			Summed:        false,
		}
		if err := w.store.WritePlaidTransaction(audit); err != nil {
			logger.Warn("Failed to persist audit record", "transactionID", tx.ID, "err", err)
		}
		batch = append(batch, chain.Input{
			Amount:    tx.Amount,
			Roundup:   roundup,
			Date:      tx.Date,
			Reference: tx.ID,
		})
	}
	if len(batch) == 0 {
		logger.Debug("No eligible transactions, skipping enqueue")
		return false, nil
	}

	addr, err := w.store.ReadAddress(item.Address)
	if err != nil {
		return false, fmt.Errorf("intake: address lookup: %w", err)
	}
	if addr.LatestTransaction == "" {
		return false, ErrNoPreviousChain
	}
	previous, err := w.store.ReadChainEntry(addr.LatestTransaction)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrNoPreviousChain
		}
		return false, err
	}

	entries, err := chain.Build(item.Address, previous, batch)
	if err != nil {
		return false, err
	}
	env := chain.NewEnvelope(item.Address, previous, entries)
	if err := w.key.SignEnvelope(env); err != nil {
		return false, err
	}
	body, err := canonjson.Marshal(env)
	if err != nil {
		return false, err
	}
	if err := w.producer.Send(ctx, body); err != nil {
		return false, err
	}
	logger.Info("Enqueued signed envelope", "entries", len(entries), "hash", env.Hash.Value)

	// The envelope is on the queue; from here on the run counts as
	// enqueued even if the signer trigger fails.
	if err := w.triggerSigner(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// triggerSigner pokes the external signing service so it drains the
// to-signer queue promptly.
func (w *Worker) triggerSigner(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.signerURL+"/aws/sqs", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerTrigger, err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerTrigger, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrSignerTrigger, resp.StatusCode)
	}
	return nil
}
