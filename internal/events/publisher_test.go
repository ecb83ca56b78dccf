package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSubjectPrefix(t *testing.T) {
	p := NewNATSPublisherFromConn(nil, ".alerts.gold.", zerolog.Nop())
	require.Equal(t, "alerts.gold.reading", p.Subject(SubjectReading))

	p = NewNATSPublisherFromConn(nil, "", zerolog.Nop())
	require.Equal(t, "goldwatch.alert", p.Subject(SubjectAlert))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.PublishReading(context.Background(), ReadingEvent{}))
	require.NoError(t, p.PublishAlert(context.Background(), AlertEvent{}))
	p.Close()
}

func TestNATSPublisherIntegration(t *testing.T) {
	url := os.Getenv("GOLDWATCH_TEST_NATS")
	if url == "" {
		t.Skip("GOLDWATCH_TEST_NATS not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	subscription, err := sub.ChanSubscribe("goldwatch-test.reading", msgs)
	require.NoError(t, err)
	defer subscription.Unsubscribe()
	require.NoError(t, sub.Flush())

	pub, err := NewNATSPublisher(url, "goldwatch-test", zerolog.Nop())
	require.NoError(t, err)
	defer pub.Close()

	ev := ReadingEvent{ID: 7, Timestamp: time.Now().UTC().Truncate(time.Second), Price: "81.25", NewLow: true}
	require.NoError(t, pub.PublishReading(context.Background(), ev))

	select {
	case msg := <-msgs:
		var got ReadingEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, ev.ID, got.ID)
		require.True(t, got.NewLow)
	case <-time.After(2 * time.Second):
		t.Fatal("reading event not received")
	}
}
