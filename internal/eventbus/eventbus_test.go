package eventbus

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type ping struct{ N int }
type pong struct{ N int }

func TestDispatchByType(t *testing.T) {
	b := New()
	var pings, pongs []int
	SubscribeTo(b, func(ctx context.Context, e ping) { pings = append(pings, e.N) })
	SubscribeTo(b, func(ctx context.Context, e pong) { pongs = append(pongs, e.N) })

	PublishTo(context.Background(), b, ping{1})
	PublishTo(context.Background(), b, pong{2})
	PublishTo(context.Background(), b, ping{3})

	if diff := cmp.Diff([]int{1, 3}, pings); diff != "" {
		t.Errorf("ping order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, pongs); diff != "" {
		t.Errorf("pong order mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriptionOrderAndUnsubscribe(t *testing.T) {
	b := New()
	var got []string
	SubscribeTo(b, func(ctx context.Context, e ping) { got = append(got, "a") })
	cancel := SubscribeTo(b, func(ctx context.Context, e ping) { got = append(got, "b") })
	SubscribeTo(b, func(ctx context.Context, e ping) { got = append(got, "c") })

	PublishTo(context.Background(), b, ping{})
	cancel()
	PublishTo(context.Background(), b, ping{})

	if diff := cmp.Diff([]string{"a", "b", "c", "a", "c"}, got); diff != "" {
		t.Errorf("handler order mismatch (-want +got):\n%s", diff)
	}
}

func TestGlobalBusDisabled(t *testing.T) {
	Use(nil)
	defer Use(nil)

	// Must not panic with no bus installed.
	Publish(context.Background(), ping{})
	unsub := Subscribe(func(ctx context.Context, e ping) {})
	unsub()

	var seen int
	Use(New())
	Subscribe(func(ctx context.Context, e ping) { seen++ })
	Publish(context.Background(), ping{})
	if seen != 1 {
		t.Fatalf("seen = %d, want 1", seen)
	}
}
