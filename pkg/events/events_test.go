package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Deliver(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func drain(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestEventConstructors(t *testing.T) {
	ev := NodeChange("p1", "r1", "PLAN")
	assert.Equal(t, KindNodeChange, ev.Type)
	assert.Equal(t, "PLAN", ev.Node)
	assert.False(t, ev.Timestamp.IsZero())

	ev = FileCommit("p1", "r1", "ui-plan.json", "{}")
	assert.Equal(t, "ui-plan.json", ev.FileName)
	assert.Equal(t, "{}", ev.Code)

	errs := []string{"x"}
	ev = BuildStatus("p1", "FAIL", errs)
	errs[0] = "mutated"
	assert.Equal(t, []string{"x"}, ev.Errors)

	assert.Equal(t, PulseHealing, HealingPulse("p1").Status)
	assert.Equal(t, AlertCircuitBreaker, CircuitBreaker("p1").Status)
	assert.Equal(t, "hello", Log("p1", "", "hello").Message)

	for _, k := range []Kind{KindNodeChange, KindFileCommit, KindBuildStatus, KindPulseStatus, KindAlert, KindLog} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("ping").Valid())
}

func TestPublishDeliversInEmissionOrder(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	sub := b.Subscribe("p1")
	defer sub.Close()

	for i := 0; i < 50; i++ {
		b.Publish(Log("p1", "", "msg"))
	}

	got := drain(t, sub, 50)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestConcurrentPublishersKeepSubscriberOrderConsistent(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	subA := b.Subscribe("p1")
	subB := b.Subscribe("p1")
	defer subA.Close()
	defer subB.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				b.Publish(Log("p1", "", "x"))
			}
		}()
	}
	wg.Wait()

	a := drain(t, subA, 100)
	c := drain(t, subB, 100)
	for i := range a {
		require.Equal(t, uint64(i+1), a[i].Seq)
		require.Equal(t, a[i].Seq, c[i].Seq)
	}
}

func TestProjectsAreIsolated(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	s1 := b.Subscribe("p1")
	s2 := b.Subscribe("p2")
	defer s1.Close()
	defer s2.Close()

	b.Publish(Log("p1", "", "one"))
	b.Publish(Log("p2", "", "two"))

	assert.Equal(t, "one", drain(t, s1, 1)[0].Message)
	ev := drain(t, s2, 1)[0]
	assert.Equal(t, "two", ev.Message)
	assert.Equal(t, uint64(1), ev.Seq, "sequence numbers are per project")
}

func TestSubscribeReplaysCurrentRunLog(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	b.Open("p1", "run-1")
	b.Publish(NodeChange("p1", "run-1", "RETRIEVE"))
	b.Publish(NodeChange("p1", "run-1", "PLAN"))

	late := b.Subscribe("p1")
	defer late.Close()
	b.Publish(NodeChange("p1", "run-1", "GENERATE"))

	got := drain(t, late, 3)
	assert.Equal(t, []string{"RETRIEVE", "PLAN", "GENERATE"}, []string{got[0].Node, got[1].Node, got[2].Node})
}

func TestOpenResetsLogForNewRun(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	b.Open("p1", "run-1")
	b.Publish(Log("p1", "", "old"))
	b.Finish("p1")

	b.Open("p1", "run-2")
	b.Publish(Log("p1", "", "new"))

	log := b.Log("p1")
	require.Len(t, log, 1)
	assert.Equal(t, "new", log[0].Message)
	assert.Equal(t, "run-2", log[0].RunID, "run id is stamped from the active channel")
	b.Finish("p1")
}

func TestChannelLifecycle(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	b.Open("p1", "run-1")
	assert.True(t, b.HasChannel("p1"))

	sub := b.Subscribe("p1")
	b.Finish("p1")
	assert.True(t, b.HasChannel("p1"), "subscriber keeps channel alive")

	sub.Close()
	assert.False(t, b.HasChannel("p1"), "no subscribers and terminal run")

	sub2 := b.Subscribe("p2")
	assert.True(t, b.HasChannel("p2"), "created on first subscribe")
	sub2.Close()
	sub2.Close()
	assert.False(t, b.HasChannel("p2"))

	_, ok := <-sub2.Events()
	assert.False(t, ok)
}

func TestPublishWithoutChannelReachesSinksOnly(t *testing.T) {
	sink := &recordingSink{}
	b := NewBroadcaster(zap.NewNop(), WithSink(sink))

	b.Publish(BuildStatus("p9", "FAIL", nil))
	assert.False(t, b.HasChannel("p9"))
	require.Len(t, sink.snapshot(), 1)
	assert.Equal(t, uint64(1), sink.snapshot()[0].Seq)
}

func TestSlowSubscriberIsEvictedNotSkipped(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), WithBufferSize(2))
	slow := b.Subscribe("p1")
	fast := b.Subscribe("p1")
	defer fast.Close()

	done := make(chan struct{})
	var received []Event
	go func() {
		defer close(done)
		for ev := range fast.Events() {
			received = append(received, ev)
			if len(received) == 5 {
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		b.Publish(Log("p1", "", "x"))
		time.Sleep(5 * time.Millisecond)
	}
	<-done

	assert.True(t, slow.Evicted())
	var got []Event
	for ev := range slow.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	slow.Close()

	assert.Len(t, received, 5)
}

func TestShutdownClosesSubscriptions(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	sub := b.Subscribe("p1")
	b.Shutdown()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	sub.Close()

	channels, subs := b.Stats()
	assert.Zero(t, channels)
	assert.Zero(t, subs)
}
