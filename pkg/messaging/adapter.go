package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher wraps a Broker and publishes typed JSON envelopes.
type Publisher struct {
	broker Broker
}

func NewPublisher(broker Broker) *Publisher {
	return &Publisher{broker: broker}
}

// Encode wraps payload in the Message envelope. The result is what goes on
// the wire and what the outbox stores for replay.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	msg, err := json.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return msg, nil
}

func (p *Publisher) Publish(ctx context.Context, channel, msgType string, payload interface{}) error {
	msg, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, channel, msg)
}

// Subscribe decodes envelopes from channel and hands them to handler until
// ctx is cancelled. Undecodable messages are skipped.
func (p *Publisher) Subscribe(ctx context.Context, channel string, handler func(Message) error) error {
	msgChan, err := p.broker.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		for raw := range msgChan {
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if err := handler(msg); err != nil {
				continue
			}
		}
	}()

	return nil
}

func (p *Publisher) Close() error {
	return p.broker.Close()
}
