package bus

import (
	"paper-trading-sim/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func drain(sub *Subscription) []models.Event {
	var out []models.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubscribeReceivesInitialThenPublished(t *testing.T) {
	b := New(8, zap.NewNop())
	sub := b.Subscribe(models.HelloEvent("BTCUSDT", 60000))
	require.NotEmpty(t, sub.ID())

	b.Publish(models.SymbolEvent("ETHUSDT"))
	b.Publish(models.ResetEvent())

	events := drain(sub)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventHello, events[0].Type)
	assert.Equal(t, models.EventSymbol, events[1].Type)
	assert.Equal(t, models.EventReset, events[2].Type)
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := New(3, zap.NewNop())
	sub := b.Subscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(models.Event{Type: models.EventTick, Price: float64(i)})
	}

	events := drain(sub)
	require.Len(t, events, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{events[0].Price, events[1].Price, events[2].Price})
	assert.Equal(t, int64(2), sub.Dropped())
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(1, zap.NewNop())
	slow := b.Subscribe()
	fast := b.Subscribe()

	var received []float64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.C() {
			received = append(received, ev.Price)
			if ev.Price == 100 {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			b.Publish(models.Event{Type: models.EventTick, Price: float64(i)})
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	wg.Wait()

	assert.Equal(t, 100.0, received[len(received)-1])
	assert.Len(t, drain(slow), 1, "slow subscriber keeps only the newest event")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4, zap.NewNop())
	sub := b.Subscribe()
	require.Equal(t, 1, b.Len())

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.Len())

	_, ok := <-sub.C()
	assert.False(t, ok)

	assert.NotPanics(t, func() { b.Publish(models.ResetEvent()) })
}

func TestPublishPrunesClosedSubscriptions(t *testing.T) {
	b := New(4, zap.NewNop())
	sub := b.Subscribe()
	sub.close()

	b.Publish(models.ResetEvent())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, int64(1), b.Published())
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	b := New(4, zap.NewNop())
	a, c := b.Subscribe(), b.Subscribe()
	b.Close()

	_, okA := <-a.C()
	_, okC := <-c.C()
	assert.False(t, okA)
	assert.False(t, okC)
	assert.Equal(t, 0, b.Len())
}
