// Package queue wraps the two SQS queues that connect the pipeline to
// the external signing service: a producer for the to-signer queue and
// a long-polling consumer for the from-signer queue.
package queue

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/roderickjackson-bradley/elmgives-api/log"
)

const (
	// longPollWait is the receive wait; SQS caps long polling at 20s.
	longPollWait = int32(20)
	maxBatch     = int32(10)
)

var ErrEmptyBody = errors.New("queue: empty message body")

// API is the subset of the SQS client the pipeline uses. It exists so
// tests can stand in a fake.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Dial resolves the default AWS configuration chain and returns a live
// SQS client.
func Dial(ctx context.Context) (API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// Message is one received queue message with the receipt handle needed
// for its explicit delete.
type Message struct {
	Body          []byte
	ReceiptHandle string
}

// Producer sends envelope bodies to a single queue URL. Delivery is
// at-least-once; downstream idempotency rests on envelope hash
// uniqueness.
type Producer struct {
	client API
	url    string
	log    log.Logger
}

// NewProducer returns a Producer bound to queueURL.
func NewProducer(client API, queueURL string) *Producer {
	return &Producer{
		client: client,
		url:    queueURL,
		log:    log.New("module", "queue", "url", queueURL),
	}
}

// Send enqueues body on the producer's queue.
func (p *Producer) Send(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyBody
	}
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return err
	}
	p.log.Debug("Enqueued message", "bytes", len(body))
	return nil
}

// Consumer long-polls a single queue URL and deletes messages on
// request after their commit succeeds.
type Consumer struct {
	client API
	url    string
	log    log.Logger
}

// NewConsumer returns a Consumer bound to queueURL.
func NewConsumer(client API, queueURL string) *Consumer {
	return &Consumer{
		client: client,
		url:    queueURL,
		log:    log.New("module", "queue", "url", queueURL),
	}
}

// Receive long-polls the queue once and returns zero or more messages.
func (c *Consumer) Receive(ctx context.Context) ([]Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.url),
		MaxNumberOfMessages: maxBatch,
		WaitTimeSeconds:     longPollWait,
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Delete permanently removes a message by receipt handle. Callers only
// invoke this after a successful commit.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}
