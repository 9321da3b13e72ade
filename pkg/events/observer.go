// Package events publishes cache refresh outcomes to Google Cloud Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/rs/zerolog"
)

// PubsubConfig holds the Pub/Sub destination for refresh events.
type PubsubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// RefreshEventMessage is the JSON payload published for each refresh attempt.
type RefreshEventMessage struct {
	ID         string    `json:"id"`
	MetricType string    `json:"metric_type"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// NewRefreshEventMessage converts a cache event to its published form.
func NewRefreshEventMessage(e cache.RefreshEvent) RefreshEventMessage {
	msg := RefreshEventMessage{
		ID:         uuid.NewString(),
		MetricType: e.Type.String(),
		Outcome:    string(e.Outcome),
		DurationMs: e.Duration.Milliseconds(),
		At:         e.At.UTC(),
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// PubsubObserver publishes every refresh event to a topic. Publishing never
// blocks the refresh: results are checked in the background and failures
// are only logged.
type PubsubObserver struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
	wg     sync.WaitGroup
}

var _ cache.Observer = (*PubsubObserver)(nil)

// NewPubsubObserver creates an observer for topicID. It verifies that the
// topic exists before returning.
func NewPubsubObserver(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubsubObserver, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &PubsubObserver{
		topic:  topic,
		logger: logger.With().Str("component", "PubsubObserver").Str("topic_id", topicID).Logger(),
	}, nil
}

// ObserveRefresh queues one message for the event.
func (o *PubsubObserver) ObserveRefresh(ctx context.Context, e cache.RefreshEvent) {
	msg := NewRefreshEventMessage(e)
	payload, err := json.Marshal(msg)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to marshal refresh event.")
		return
	}

	// The refresh context ends with the tick; the message must outlive it.
	result := o.topic.Publish(context.WithoutCancel(ctx), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"metric_type": msg.MetricType,
			"outcome":     msg.Outcome,
		},
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			o.logger.Error().Err(err).Str("event_id", msg.ID).Msg("Failed to publish refresh event.")
			return
		}
		o.logger.Debug().Str("published_msg_id", msgID).Str("event_id", msg.ID).Msg("Refresh event published.")
	}()
}

// Stop flushes pending messages, respecting the context's deadline.
func (o *PubsubObserver) Stop(ctx context.Context) error {
	if o.topic == nil {
		return nil
	}

	stopDone := make(chan struct{})
	go func() {
		o.topic.Stop()
		o.wg.Wait()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
