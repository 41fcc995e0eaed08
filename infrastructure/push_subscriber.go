package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"

	log "github.com/sirupsen/logrus"
)

// pushEnvelope is the versioned wire format of every pushed event. The
// event type and a single canonical payload shape replace the historical
// guess-the-field handling; only decodeBalanceDelta keeps a translation
// shim for the one legacy alias the backend still emits.
type pushEnvelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
}

// PushSubscriber decodes pushed envelopes from the NATS channel and
// routes typed events to registered handlers.
type PushSubscriber struct {
	client   *NATSClient
	handlers map[events.EventType]func(context.Context, events.Event) error
}

// NewPushSubscriber creates a push subscriber on top of the NATS client.
func NewPushSubscriber(client *NATSClient) *PushSubscriber {
	return &PushSubscriber{
		client:   client,
		handlers: make(map[events.EventType]func(context.Context, events.Event) error),
	}
}

// Subscribe registers a handler for a pushed event type.
func (s *PushSubscriber) Subscribe(eventType events.EventType, handler func(context.Context, events.Event) error) error {
	subject := subjectFor(eventType)
	s.handlers[eventType] = handler

	log.WithFields(log.Fields{
		"eventType": eventType,
		"subject":   subject,
	}).Info("Registering push handler")

	return s.client.Subscribe(subject, func(data []byte) {
		if err := s.handleMessage(eventType, data); err != nil {
			log.WithFields(log.Fields{
				"eventType": eventType,
				"error":     err,
			}).Error("Failed to process push message")
		}
	})
}

func (s *PushSubscriber) handleMessage(eventType events.EventType, data []byte) error {
	var envelope pushEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal push envelope: %w", err)
	}

	event, err := s.decodeEvent(eventType, envelope)
	if err != nil {
		return fmt.Errorf("failed to decode push payload: %w", err)
	}

	handler, exists := s.handlers[eventType]
	if !exists {
		return fmt.Errorf("no handler registered for %s", eventType)
	}
	return handler(context.Background(), event)
}

func (s *PushSubscriber) decodeEvent(eventType events.EventType, envelope pushEnvelope) (events.Event, error) {
	switch eventType {
	case events.EventTypeBalanceDelta:
		return decodeBalanceDelta(envelope)
	case events.EventTypeBetResult:
		var ev events.BetResultEvent
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventID = envelope.EventID
		return ev, nil
	case events.EventTypeNotification:
		var ev events.NotificationEvent
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventID = envelope.EventID
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown push event type: %s", eventType)
	}
}

// decodeBalanceDelta accepts the canonical v2 payload and, for version 1
// envelopes only, the legacy "amount" alias for the value field.
func decodeBalanceDelta(envelope pushEnvelope) (events.Event, error) {
	var raw struct {
		Identity models.Identity `json:"identity"`
		Field    string          `json:"field"`
		Value    *float64        `json:"value"`
		Amount   *float64        `json:"amount"`
	}
	if err := json.Unmarshal(envelope.Payload, &raw); err != nil {
		return nil, err
	}

	value := raw.Value
	if value == nil && envelope.Version <= 1 {
		value = raw.Amount
	}
	if value == nil {
		return nil, fmt.Errorf("balance delta payload missing value field")
	}

	return events.BalanceDeltaEvent{
		EventID:  envelope.EventID,
		Identity: raw.Identity,
		Field:    raw.Field,
		Value:    *value,
	}, nil
}

// subjectFor maps an event type to its push subject.
func subjectFor(eventType events.EventType) string {
	return fmt.Sprintf("wallet.%s", eventType)
}
