// Package events publishes order lifecycle events and operational alerts to
// Pub/Sub topics for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/shopforge/fulfillment/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent emits an order lifecycle event on the configured topic.
// Status attributes allow consumers to filter without decoding the body.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "ownerId", event.OwnerID)
	setAttr(attrs, "status", event.Status)
	setAttr(attrs, "prevStatus", event.PrevStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// PubSubAlertPublisher publishes operational alerts to a Pub/Sub topic.
type PubSubAlertPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubAlertPublisher constructs a Pub/Sub backed ops alert publisher.
func NewPubSubAlertPublisher(topic *pubsub.Topic) (*PubSubAlertPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub alert publisher: topic is required")
	}
	return &PubSubAlertPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishAlert emits an operational alert on the configured topic.
func (p *PubSubAlertPublisher) PublishAlert(ctx context.Context, alert services.OpsAlert) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub alert publisher: not initialised")
	}

	data, err := p.marshal(alert)
	if err != nil {
		return "", fmt.Errorf("marshal ops alert: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", alert.Kind)
	setAttr(attrs, "orderId", alert.OrderID)
	setAttr(attrs, "jobId", alert.JobID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish ops alert: %w", err)
	}
	return id, nil
}

var (
	_ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)
	_ services.AlertPublisher      = (*PubSubAlertPublisher)(nil)
)

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
