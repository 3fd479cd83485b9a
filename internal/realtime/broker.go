package realtime

import (
	"context"

	"peertutor/api/internal/logger"
)

// Broker publishes committed changes. With a bus every instance, this one
// included, receives the event from the forwarder; without one the local hub is
// fed directly.
type Broker struct {
	hub *Hub
	bus Bus
	log *logger.Logger
}

func NewBroker(log *logger.Logger, hub *Hub, bus Bus) *Broker {
	return &Broker{hub: hub, bus: bus, log: log.With("component", "RealtimeBroker")}
}

func (b *Broker) Hub() *Hub {
	return b.hub
}

// Start wires the bus forwarder into the hub. It is a no-op without a bus.
func (b *Broker) Start(ctx context.Context) error {
	if b.bus == nil {
		return nil
	}
	return b.bus.StartForwarder(ctx, b.hub.Broadcast)
}

// Publish never fails the caller: the write it describes is already committed.
// A bus failure falls back to the local hub so this instance's subscribers
// still see the change.
func (b *Broker) Publish(ctx context.Context, events ...Event) {
	for _, event := range events {
		if b.bus == nil {
			b.hub.Broadcast(event)
			continue
		}
		if err := b.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
			b.log.Warn("bus publish failed; broadcasting locally", "channel", event.Channel, "type", event.Type, "error", err)
			b.hub.Broadcast(event)
		}
	}
}

func (b *Broker) Close() error {
	if b.bus == nil {
		return nil
	}
	return b.bus.Close()
}
