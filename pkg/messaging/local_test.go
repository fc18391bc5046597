package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_RoundTripOverLocalBroker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewPublisher(NewLocalBroker())
	got := make(chan Message, 1)
	require.NoError(t, pub.Subscribe(ctx, "notifications:role:DOCTOR", func(m Message) error {
		got <- m
		return nil
	}))

	require.NoError(t, pub.Publish(ctx, "notifications:role:DOCTOR", "PAIN_ALERT", map[string]int{"vas": 9}))

	select {
	case m := <-got:
		assert.Equal(t, "PAIN_ALERT", m.Type)
		assert.JSONEq(t, `{"vas":9}`, string(m.Payload))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestLocalBroker_ChannelsAreIsolated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewLocalBroker()
	ch, err := b.Subscribe(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "b", []byte("x")))

	select {
	case <-ch:
		t.Fatal("unexpected delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalBroker_Closed(t *testing.T) {
	b := NewLocalBroker()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "a", []byte("x")), ErrBrokerClosed)
}
