package intake

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/roderickjackson-bradley/elmgives-api/chain"
	"github.com/roderickjackson-bradley/elmgives-api/money"
	"github.com/roderickjackson-bradley/elmgives-api/plaid"
	"github.com/roderickjackson-bradley/elmgives-api/queue"
	"github.com/roderickjackson-bradley/elmgives-api/signer"
	"github.com/roderickjackson-bradley/elmgives-api/store"
)

type fakeSQS struct {
	sent []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

func testSignerKey(t *testing.T) *signer.Key {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	k, err := signer.ParseKey("server", hex.EncodeToString(priv))
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return k
}

// seedAddress provisions an address with a genesis tip and returns the
// genesis entry.
func seedAddress(t *testing.T, st *store.Store, address string) chain.Entry {
	t.Helper()
	genesis, err := chain.NewEntry(chain.Payload{
		Count:    0,
		Address:  address,
		Balance:  0,
		Currency: "usd",
		Limit:    money.FromUnits(-10, 0),
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if err := st.WriteChainEntry(genesis); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	if err := st.WriteAddress(&store.Address{
		Address:           address,
		Keys:              store.AddressKeys{Public: "aa"},
		LatestTransaction: genesis.Hash.Value,
	}); err != nil {
		t.Fatalf("write address: %v", err)
	}
	return genesis
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWorkerProcess(t *testing.T) {
	st := newTestStore(t)
	genesis := seedAddress(t, st, "addr-1")

	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transactions":[
			{"_id":"tx-1","amount":1.23,"date":"2016-10-02","name":"Coffee","pending":false},
			{"_id":"tx-2","amount":2.00,"date":"2016-10-03","name":"Bus","pending":true},
			{"_id":"tx-3","amount":4.00,"date":"2016-10-03","name":"Lunch","pending":false}
		]}`))
	}))
	defer aggregator.Close()

	var triggered bool
	signerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/aws/sqs" || r.Method != http.MethodPost {
			t.Errorf("unexpected signer trigger: %s %s", r.Method, r.URL.Path)
		}
		triggered = true
	}))
	defer signerSrv.Close()

	fake := &fakeSQS{}
	w := NewWorker(st,
		plaid.NewClient(plaid.Config{BaseURL: aggregator.URL}),
		queue.NewProducer(fake, "https://sqs/to-signer"),
		testSignerKey(t),
		signerSrv.URL,
	)

	enqueued, err := w.Process(context.Background(), WorkItem{
		UserID:      "user-1",
		Address:     "addr-1",
		AccessToken: "tok",
		Gte:         "2016-10-01",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !enqueued {
		t.Fatalf("expected an enqueued envelope")
	}
	if !triggered {
		t.Fatalf("signer was not triggered")
	}
	if len(fake.sent) != 1 {
		t.Fatalf("queue sends: have %d want 1", len(fake.sent))
	}

	var env chain.Envelope
	if err := json.Unmarshal([]byte(fake.sent[0]), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Payload.Address != "addr-1" {
		t.Fatalf("envelope address: %s", env.Payload.Address)
	}
	if env.Payload.Previous.Hash.Value != genesis.Hash.Value {
		t.Fatalf("envelope previous tip mismatch")
	}
	// the pending transaction is filtered out
	if len(env.Payload.Transactions) != 2 {
		t.Fatalf("entries: have %d want 2", len(env.Payload.Transactions))
	}
	if len(env.Signatures) != 1 || env.Signatures[0].Header.Kid != "server" {
		t.Fatalf("signatures: %+v", env.Signatures)
	}

	// audit rows were persisted for the eligible transactions only
	for id, want := range map[string]bool{"tx-1": true, "tx-2": false, "tx-3": true} {
		ok, err := st.HasPlaidTransaction(id)
		if err != nil {
			t.Fatalf("has %s: %v", id, err)
		}
		if ok != want {
			t.Fatalf("audit row %s: have %v want %v", id, ok, want)
		}
	}
}

func TestWorkerEmptyBatchSkipsEnqueue(t *testing.T) {
	st := newTestStore(t)
	seedAddress(t, st, "addr-1")

	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transactions":[]}`))
	}))
	defer aggregator.Close()

	fake := &fakeSQS{}
	w := NewWorker(st,
		plaid.NewClient(plaid.Config{BaseURL: aggregator.URL}),
		queue.NewProducer(fake, "url"), testSignerKey(t), "http://signer.invalid")

	enqueued, err := w.Process(context.Background(), WorkItem{UserID: "user-1", Address: "addr-1", AccessToken: "tok"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if enqueued || len(fake.sent) != 0 {
		t.Fatalf("unexpected enqueue on empty batch")
	}
}

func TestWorkerNoPreviousChain(t *testing.T) {
	st := newTestStore(t)
	// address exists but has no tip
	if err := st.WriteAddress(&store.Address{Address: "addr-1"}); err != nil {
		t.Fatalf("write address: %v", err)
	}
	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transactions":[{"_id":"tx-1","amount":1.23,"date":"2016-10-02","name":"x","pending":false}]}`))
	}))
	defer aggregator.Close()

	w := NewWorker(st,
		plaid.NewClient(plaid.Config{BaseURL: aggregator.URL}),
		queue.NewProducer(&fakeSQS{}, "url"), testSignerKey(t), "http://signer.invalid")

	_, err := w.Process(context.Background(), WorkItem{UserID: "user-1", Address: "addr-1", AccessToken: "tok"})
	if !errors.Is(err, ErrNoPreviousChain) {
		t.Fatalf("have %v want ErrNoPreviousChain", err)
	}
}

func TestWorkerAggregatorFailure(t *testing.T) {
	st := newTestStore(t)
	seedAddress(t, st, "addr-1")
	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer aggregator.Close()

	fake := &fakeSQS{}
	w := NewWorker(st,
		plaid.NewClient(plaid.Config{BaseURL: aggregator.URL}),
		queue.NewProducer(fake, "url"), testSignerKey(t), "http://signer.invalid")

	enqueued, err := w.Process(context.Background(), WorkItem{UserID: "user-1", Address: "addr-1", AccessToken: "tok"})
	if !errors.Is(err, plaid.ErrAggregatorStatus) {
		t.Fatalf("have %v want ErrAggregatorStatus", err)
	}
	if enqueued || len(fake.sent) != 0 {
		t.Fatalf("enqueue happened despite aggregator failure")
	}
}
