// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// sender publishes raw messages to a single topic.
type sender interface {
	Send(ctx context.Context, msg *pubsub.Message) (string, error)
	Stop()
}

type topicSender struct {
	topic *pubsub.Topic
}

func (t topicSender) Send(ctx context.Context, msg *pubsub.Message) (string, error) {
	id, err := t.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("get publish result: %w", err)
	}
	return id, nil
}

func (t topicSender) Stop() {
	t.topic.Stop()
}

// Publisher publishes JSON payloads to Pub/Sub topics, opening one topic handle per name.
type Publisher struct {
	open       func(name string) sender
	attributes map[string]string

	mu     sync.Mutex
	topics map[string]sender
	closer func() error
}

// New creates a Publisher for the provided client. Attributes are attached to every message.
func New(client *pubsub.Client, attributes map[string]string) *Publisher {
	p := newPublisher(func(name string) sender {
		return topicSender{topic: client.Topic(name)}
	}, attributes)
	p.closer = client.Close
	return p
}

// Dial opens a Pub/Sub client for projectID.
func Dial(ctx context.Context, projectID string, attributes map[string]string) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client, attributes), nil
}

func newPublisher(open func(name string) sender, attributes map[string]string) *Publisher {
	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	return &Publisher{
		open:       open,
		attributes: attrs,
		topics:     make(map[string]sender),
	}
}

// Publish marshals the payload to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(p.attributes))}
	for k, v := range p.attributes {
		msg.Attributes[k] = v
	}

	id, err := p.topic(topic).Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.open(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes every opened topic and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
	if p.closer != nil {
		if err := p.closer(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
