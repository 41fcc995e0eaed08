package application

import (
	"context"

	"stakemesh/wallet-client/events"

	log "github.com/sirupsen/logrus"
)

// RegisterPushSubscriptions binds the sync bridge's handlers to the push
// channel and to the in-process session events.
func RegisterPushSubscriptions(subscriber EventSubscriber, bus *events.Bus, bridge *SyncBridge) error {
	if err := subscriber.Subscribe(events.EventTypeBalanceDelta, bridge.HandleBalanceDelta); err != nil {
		return err
	}
	if err := subscriber.Subscribe(events.EventTypeBetResult, bridge.HandleBetResult); err != nil {
		return err
	}
	if err := subscriber.Subscribe(events.EventTypeNotification, bridge.HandleNotification); err != nil {
		return err
	}

	// Session changes rebind the token-scoped channel.
	bus.Subscribe(events.EventTypeSessionChanged, func(ctx context.Context, event events.Event) {
		if err := bridge.HandleSessionChanged(ctx, event); err != nil {
			log.WithError(err).Error("Session change handling failed")
		}
	})
	return nil
}
