package event

import (
	"context"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus(ctx)

	var got []Type
	bus.Subscribe(func(_ context.Context, typ Type, _ interface{}) error {
		got = append(got, typ)
		return nil
	}, ETPeerConnected, ETPeerDisconnected)

	bus.Publish(ctx, ETPeerConnected, nil)
	bus.Publish(ctx, ETAppDeployed, nil)
	bus.Publish(ctx, ETPeerDisconnected, nil)

	if len(got) != 2 || got[0] != ETPeerConnected || got[1] != ETPeerDisconnected {
		t.Fatalf("unexpected events received: %v", got)
	}
}

func TestSubscribeAll(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(ctx)
	count := 0
	bus.Subscribe(func(context.Context, Type, interface{}) error {
		count++
		return nil
	})
	bus.Publish(ctx, ETAppStopped, nil)
	bus.Publish(ctx, ETNeighborLost, nil)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestPublishAfterCancelIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus(ctx)
	called := false
	bus.Subscribe(func(context.Context, Type, interface{}) error {
		called = true
		return nil
	})
	cancel()
	bus.Publish(context.Background(), ETPeerConnected, nil)
	if called {
		t.Error("handler should not be called after bus context is canceled")
	}
}
