package api

import (
	"context"

	"github.com/shipit-ai/fleet/pkg/events"
)

// EventBridge relays bus events to the WebSocket hub so connected
// clients see the fleet working in real time.
type EventBridge struct {
	tap <-chan events.Event
	hub *WSHub
}

func NewEventBridge(bus EventBus, hub *WSHub) *EventBridge {
	return &EventBridge{
		tap: bus.SubscribeTap("ws"),
		hub: hub,
	}
}

// Run forwards tapped events until ctx is cancelled.
func (b *EventBridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.tap:
			if !ok {
				return
			}
			b.hub.Broadcast("agent_event", ev)
		}
	}
}
