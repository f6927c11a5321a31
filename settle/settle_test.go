package settle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/roderickjackson-bradley/elmgives-api/canonjson"
	"github.com/roderickjackson-bradley/elmgives-api/chain"
	"github.com/roderickjackson-bradley/elmgives-api/money"
	"github.com/roderickjackson-bradley/elmgives-api/queue"
	"github.com/roderickjackson-bradley/elmgives-api/signer"
	"github.com/roderickjackson-bradley/elmgives-api/store"
)

// fakeSQS serves batches of messages in order, then empties.
type fakeSQS struct {
	batches  [][]types.Message
	deleted  []string
	receives int
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receives++
	if len(f.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func message(t *testing.T, env *chain.Envelope, receipt string) types.Message {
	t.Helper()
	body, err := canonjson.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return types.Message{Body: aws.String(string(body)), ReceiptHandle: aws.String(receipt)}
}

func testKey(t *testing.T, kid string) (*signer.Key, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	k, err := signer.ParseKey(kid, hex.EncodeToString(priv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return k, priv
}

type fixture struct {
	store     *store.Store
	serverKey *signer.Key
	addrKey   *signer.Key
	addrPriv  ed25519.PrivateKey
	genesis   chain.Entry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	serverKey, _ := testKey(t, "server")
	addrKey, addrPriv := testKey(t, "addr-kid")

	genesis, err := chain.NewEntry(chain.Payload{
		Count:    0,
		Address:  "addr-1",
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
		Address:           "addr-1",
		Keys:              store.AddressKeys{Public: addrKey.PublicHex()},
		LatestTransaction: genesis.Hash.Value,
	}); err != nil {
		t.Fatalf("write address: %v", err)
	}
	return &fixture{store: st, serverKey: serverKey, addrKey: addrKey, addrPriv: addrPriv, genesis: genesis}
}

// coSignedEnvelope builds, server-signs and address-co-signs an
// envelope the way the external signer returns it.
func (f *fixture) coSignedEnvelope(t *testing.T, cosigner ed25519.PrivateKey) *chain.Envelope {
	t.Helper()
	entries, err := chain.Build("addr-1", f.genesis, []chain.Input{
		{Amount: money.FromUnits(1, 23), Date: "2016-10-02", Reference: "tx-1"},
		{Amount: money.FromUnits(4, 0), Date: "2016-10-03", Reference: "tx-2"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// the external signer co-signs each entry's hash with the address key
	for i := range entries {
		sig := ed25519.Sign(cosigner, []byte(entries[i].Hash.Value))
		entries[i].Signatures = append(entries[i].Signatures, chain.Signature{
			Header:    chain.SignatureHeader{Alg: signer.AlgEd25519, Kid: "addr-kid"},
			Signature: hex.EncodeToString(sig),
		})
	}
	env := chain.NewEnvelope("addr-1", f.genesis, entries)
	if err := f.serverKey.SignEnvelope(env); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return env
}

func newConsumer(t *testing.T, f *fixture, fake *fakeSQS) *Consumer {
	t.Helper()
	c, err := NewConsumer(f.store, queue.NewConsumer(fake, "https://sqs/from-signer"), f.serverKey.PublicHex())
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	c.now = func() time.Time { return time.Date(2016, 10, 5, 9, 0, 0, 0, time.UTC) }
	return c
}

func TestConsumerCommitsEnvelope(t *testing.T) {
	f := newFixture(t)
	env := f.coSignedEnvelope(t, f.addrPriv)
	fake := &fakeSQS{batches: [][]types.Message{{message(t, env, "rh-1")}}}

	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	latest := env.Payload.Transactions[1]
	addr, err := f.store.ReadAddress("addr-1")
	if err != nil {
		t.Fatalf("read address: %v", err)
	}
	if addr.LatestTransaction != latest.Hash.Value {
		t.Fatalf("tip: have %s want %s", addr.LatestTransaction, latest.Hash.Value)
	}
	for _, e := range env.Payload.Transactions {
		if _, err := f.store.ReadChainEntry(e.Hash.Value); err != nil {
			t.Fatalf("entry %s not persisted: %v", e.Hash.Value, err)
		}
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "rh-1" {
		t.Fatalf("deleted: %v", fake.deleted)
	}
	// terminates via 3 empty polls after the batch
	if _, err := f.store.ReadRun(ProcessName); err != nil {
		t.Fatalf("run record: %v", err)
	}
}

func TestConsumerRejectsBadAddressSignature(t *testing.T) {
	f := newFixture(t)
	_, wrongPriv := testKey(t, "wrong")
	env := f.coSignedEnvelope(t, wrongPriv)
	fake := &fakeSQS{batches: [][]types.Message{{message(t, env, "rh-1")}}}

	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	addr, _ := f.store.ReadAddress("addr-1")
	if addr.LatestTransaction != f.genesis.Hash.Value {
		t.Fatalf("tip advanced on bad signature")
	}
	if len(fake.deleted) != 0 {
		t.Fatalf("receipt deleted on bad signature")
	}
}

func TestConsumerRejectsBadServerSignature(t *testing.T) {
	f := newFixture(t)
	env := f.coSignedEnvelope(t, f.addrPriv)
	env.Signatures = nil // strip the server signature
	fake := &fakeSQS{batches: [][]types.Message{{message(t, env, "rh-1")}}}

	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	addr, _ := f.store.ReadAddress("addr-1")
	if addr.LatestTransaction != f.genesis.Hash.Value {
		t.Fatalf("tip advanced on bad server signature")
	}
	if len(fake.deleted) != 0 {
		t.Fatalf("receipt deleted on bad server signature")
	}
}

func TestConsumerIdempotentRedelivery(t *testing.T) {
	f := newFixture(t)
	env := f.coSignedEnvelope(t, f.addrPriv)
	msg := message(t, env, "rh-1")
	redelivered := message(t, env, "rh-2")
	fake := &fakeSQS{batches: [][]types.Message{{msg}, {redelivered}}}

	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	latest := env.Payload.Transactions[1]
	addr, _ := f.store.ReadAddress("addr-1")
	if addr.LatestTransaction != latest.Hash.Value {
		t.Fatalf("tip: have %s want %s", addr.LatestTransaction, latest.Hash.Value)
	}
	// both deliveries were settled and deleted
	if len(fake.deleted) != 2 {
		t.Fatalf("deleted: %v", fake.deleted)
	}
}

func TestConsumerDropsMalformedMessage(t *testing.T) {
	f := newFixture(t)
	bad := types.Message{Body: aws.String("not json"), ReceiptHandle: aws.String("rh-bad")}
	fake := &fakeSQS{batches: [][]types.Message{{bad}}}

	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fake.deleted) != 0 {
		t.Fatalf("malformed message was deleted")
	}
}

func TestConsumerTerminatesAfterThreeEmptyPolls(t *testing.T) {
	f := newFixture(t)
	fake := &fakeSQS{}
	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.receives != 3 {
		t.Fatalf("receives: have %d want 3", fake.receives)
	}
	run, err := f.store.ReadRun(ProcessName)
	if err != nil {
		t.Fatalf("run record: %v", err)
	}
	if run.Process != ProcessName {
		t.Fatalf("run record: %+v", run)
	}
}

func TestConsumerSequenceGuard(t *testing.T) {
	f := newFixture(t)
	env := f.coSignedEnvelope(t, f.addrPriv)
	// move the stored tip forward so the envelope's carried tip is stale
	other, err := chain.NewEntry(chain.Payload{
		Count:    5,
		Address:  "addr-1",
		Balance:  money.Cents(-500),
		Currency: "usd",
		Limit:    money.FromUnits(-10, 0),
	})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if err := f.store.WriteChainEntry(other); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.store.WriteAddressTip("addr-1", other.Hash.Value); err != nil {
		t.Fatalf("tip: %v", err)
	}

	fake := &fakeSQS{batches: [][]types.Message{{message(t, env, "rh-1")}}}
	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	addr, _ := f.store.ReadAddress("addr-1")
	if addr.LatestTransaction != other.Hash.Value {
		t.Fatalf("stale envelope moved the tip")
	}
	if len(fake.deleted) != 0 {
		t.Fatalf("stale envelope was deleted")
	}
}

func TestConsumerUnknownAddress(t *testing.T) {
	f := newFixture(t)
	env := f.coSignedEnvelope(t, f.addrPriv)
	env.Payload.Address = "addr-unknown"
	// re-sign since the payload changed
	env.Signatures = nil
	if err := f.serverKey.SignEnvelope(env); err != nil {
		t.Fatalf("sign: %v", err)
	}
	fake := &fakeSQS{batches: [][]types.Message{{message(t, env, "rh-1")}}}
	c := newConsumer(t, f, fake)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fake.deleted) != 0 {
		t.Fatalf("message for unknown address was deleted")
	}
}
