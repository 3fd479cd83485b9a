package realtime

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"peertutor/api/internal/logger"
)

func TestBrokerLocalBroadcast(t *testing.T) {
	hub := NewHub(logger.Nop())
	broker := NewBroker(logger.Nop(), hub, nil)
	if err := broker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	client := hub.NewClient("acc_1")
	hub.AddChannel(client, RequestsChannel("acc_1"))

	broker.Publish(context.Background(), NewEvent(RequestsChannel("acc_1"), TypeRequestCreated, "r1"))
	if got := recv(t, client); got.Type != TypeRequestCreated {
		t.Fatalf("got %+v", got)
	}
}

func TestBrokerRelaysThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two instances sharing one Redis channel.
	hubA, hubB := NewHub(logger.Nop()), NewHub(logger.Nop())
	brokerA := NewBroker(logger.Nop(), hubA, NewRedisBus(logger.Nop(), rdb, "test:events"))
	brokerB := NewBroker(logger.Nop(), hubB, NewRedisBus(logger.Nop(), rdb, "test:events"))
	for _, b := range []*Broker{brokerA, brokerB} {
		if err := b.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	onA := hubA.NewClient("acc_1")
	hubA.AddChannel(onA, "sessions/s1")
	onB := hubB.NewClient("acc_2")
	hubB.AddChannel(onB, "sessions/s1")

	brokerA.Publish(ctx, NewEvent("sessions/s1", TypeSessionClosed, map[string]string{"status": "closed"}))

	for _, client := range []*Client{onA, onB} {
		got := recv(t, client)
		if got.Type != TypeSessionClosed || got.Channel != "sessions/s1" {
			t.Fatalf("got %+v", got)
		}
	}
}

func TestBrokerFallsBackWhenBusFails(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hub := NewHub(logger.Nop())
	broker := NewBroker(logger.Nop(), hub, NewRedisBus(logger.Nop(), rdb, "test:events"))
	client := hub.NewClient("acc_1")
	hub.AddChannel(client, "sessions/s1")

	_ = rdb.Close()
	broker.Publish(context.Background(), NewEvent("sessions/s1", TypeSessionUpdated, nil))
	if got := recv(t, client); got.Type != TypeSessionUpdated {
		t.Fatalf("got %+v", got)
	}
}
