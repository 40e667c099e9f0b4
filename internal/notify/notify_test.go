package notify

import (
	"context"
	"testing"
	"time"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesEveryClient(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Attach("user-a")
	b := r.Attach("user-b")
	defer a.Close()
	defer b.Close()

	r.Broadcast(Notification{Kind: KindPriceTick, Instrument: "eurusd"})

	for _, c := range []*Client{a, b} {
		select {
		case n := <-c.C:
			assert.Equal(t, KindPriceTick, n.Kind)
		default:
			t.Fatal("client missed broadcast")
		}
	}
}

func TestNotifyTargetsOneUser(t *testing.T) {
	r := NewRegistry(nil)
	mine := r.Attach("user-a")
	other := r.Attach("user-b")
	defer mine.Close()
	defer other.Close()

	r.Notify("user-a", Notification{Kind: KindTradeSettled})

	select {
	case n := <-mine.C:
		assert.Equal(t, "user-a", n.UserID)
	default:
		t.Fatal("target user missed notification")
	}
	select {
	case <-other.C:
		t.Fatal("notification leaked to another user")
	default:
	}
}

func TestSlowClientDropsWithoutBlocking(t *testing.T) {
	metrics := obs.NewMetrics()
	r := NewRegistry(metrics)
	c := r.Attach("user-a")
	defer c.Close()

	for i := 0; i < clientQueueSize+5; i++ {
		r.Broadcast(Notification{Kind: KindPriceTick})
	}

	assert.Equal(t, uint64(5), metrics.Snapshot().NotifyDrops)
	assert.Len(t, c.C, clientQueueSize)
}

func TestCloseDetachesClient(t *testing.T) {
	r := NewRegistry(nil)
	c := r.Attach("user-a")
	c.Close()
	c.Close()

	r.Broadcast(Notification{Kind: KindPriceTick}) // must not panic on a closed channel
}

func TestForwardBusTranslatesEvents(t *testing.T) {
	r := NewRegistry(nil)
	c := r.Attach("")
	defer c.Close()

	b := bus.New("eurusd", 16)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.ForwardBus(ctx, "eurusd", b)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.Eventually(t, func() bool {
		// retry until the forwarder's subscription is live
		b.Publish(bus.Event{Type: bus.EventCandleClosed, Instrument: "eurusd", Candle: model.NewCandle(model.TimeframeBase, at, 1.1), At: at})
		select {
		case n := <-c.C:
			assert.Equal(t, KindCandleClosed, n.Kind)
			assert.Equal(t, "eurusd", n.Instrument)
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
