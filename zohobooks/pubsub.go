package zohobooks

import (
	"context"
	"errors"

	"github.com/mmdatafocus/sales_backend/config"
)

// Publisher queues a sync request for the push worker.
type Publisher interface {
	Publish(ctx context.Context, req SyncRequest) (string, error)
}

// TopicPublisher publishes SyncRequests as JSON to a Pub/Sub topic.
type TopicPublisher struct {
	Topic string
}

func NewTopicPublisher(topic string) *TopicPublisher {
	return &TopicPublisher{Topic: topic}
}

func (p *TopicPublisher) Publish(ctx context.Context, req SyncRequest) (string, error) {
	if p == nil || p.Topic == "" {
		return "", errors.New("ZOHO_SYNC_TOPIC is not configured")
	}
	return config.PublishJSON(ctx, p.Topic, req)
}
