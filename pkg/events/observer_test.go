package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/events"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func setupPubsub(t *testing.T, ctx context.Context) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPubsubObserver_PublishAndStop(t *testing.T) {
	// --- Arrange ---
	testCtx, testCancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(testCancel)
	client := setupPubsub(t, testCtx)

	topic, err := client.CreateTopic(testCtx, "refresh-events")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(testCtx, "refresh-events-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	observer, err := events.NewPubsubObserver(testCtx, client, "refresh-events", zerolog.Nop())
	require.NoError(t, err)

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	// --- Act ---
	// A canceled context must not stop the publish.
	tickCtx, tickCancel := context.WithCancel(testCtx)
	tickCancel()
	observer.ObserveRefresh(tickCtx, cache.RefreshEvent{
		Type:     types.Repositories,
		Outcome:  cache.OutcomeFailed,
		Err:      errors.New("upstream timeout"),
		Duration: 1500 * time.Millisecond,
		At:       at,
	})

	// --- Assert ---
	var mu sync.Mutex
	var received *pubsub.Message
	receiveCtx, receiveCancel := context.WithCancel(testCtx)
	t.Cleanup(receiveCancel)
	go func() {
		err := sub.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			mu.Lock()
			received = msg
			mu.Unlock()
			msg.Ack()
			receiveCancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Subscription receive error: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, 5*time.Second, 50*time.Millisecond, "did not receive refresh event in time")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "REPOSITORIES", received.Attributes["metric_type"])
	assert.Equal(t, "failed", received.Attributes["outcome"])

	var msg events.RefreshEventMessage
	require.NoError(t, json.Unmarshal(received.Data, &msg))
	assert.Equal(t, "REPOSITORIES", msg.MetricType)
	assert.Equal(t, "failed", msg.Outcome)
	assert.Equal(t, "upstream timeout", msg.Error)
	assert.Equal(t, int64(1500), msg.DurationMs)
	assert.True(t, at.Equal(msg.At))
	_, err = uuid.Parse(msg.ID)
	assert.NoError(t, err)

	stopCtx, stopCancel := context.WithTimeout(testCtx, 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, observer.Stop(stopCtx))
}

func TestNewPubsubObserver_TopicDoesNotExist(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(testCancel)
	client := setupPubsub(t, testCtx)

	observer, err := events.NewPubsubObserver(testCtx, client, "missing-topic", zerolog.Nop())

	require.Error(t, err)
	assert.Nil(t, observer)
	assert.Contains(t, err.Error(), "pubsub topic missing-topic does not exist")
}

func TestNewRefreshEventMessage(t *testing.T) {
	msg := events.NewRefreshEventMessage(cache.RefreshEvent{
		Type:    types.Members,
		Outcome: cache.OutcomeRefreshed,
		At:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)),
	})

	assert.Equal(t, "MEMBERS", msg.MetricType)
	assert.Empty(t, msg.Error)
	assert.Equal(t, time.UTC, msg.At.Location())
	assert.NotEqual(t, msg.ID, events.NewRefreshEventMessage(cache.RefreshEvent{}).ID)
}
