package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// SimplePublisher defines a direct, non-batching publisher.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisher implements SimplePublisher over a Pub/Sub topic.
type GoogleSimplePublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGoogleSimplePublisher creates a publisher for topicID, verifying that the
// topic exists before returning.
func NewGoogleSimplePublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
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

	return &GoogleSimplePublisher{
		topic:  topic,
		logger: logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish sends one message and waits for the server to acknowledge it.
// Refreshes happen at most once per TTL, so blocking here is cheap.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to publish message")
		return fmt.Errorf("pubsub publish: %w", err)
	}
	p.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	return nil
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	// topic.Stop() is blocking, so we wrap it to respect the context timeout.
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PubSubNotifier publishes a RefreshEvent for every stored snapshot.
type PubSubNotifier struct {
	publisher SimplePublisher
}

// NewPubSubNotifier creates a notifier over publisher.
func NewPubSubNotifier(publisher SimplePublisher) *PubSubNotifier {
	return &PubSubNotifier{publisher: publisher}
}

// SnapshotRefreshed publishes the event, attributed with the guild pair so
// subscribers can filter.
func (n *PubSubNotifier) SnapshotRefreshed(ctx context.Context, snapshot *types.Snapshot) error {
	payload, err := json.Marshal(NewRefreshEvent(snapshot))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh event: %w", err)
	}
	attributes := map[string]string{
		"event":        "snapshot_refreshed",
		"source_guild": snapshot.SourceGuild,
		"target_guild": snapshot.TargetGuild,
	}
	return n.publisher.Publish(ctx, payload, attributes)
}
