package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []message
	fail     error
	drained  bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, message{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = true
	return nil
}

func (f *fakeConn) Close() {}

func TestSubjectSanitizesTokens(t *testing.T) {
	b := newBridge(&fakeConn{}, "", nil)
	assert.Equal(t, "ryze.events.p1.node_change", b.Subject("p1", events.KindNodeChange))
	assert.Equal(t, "ryze.events.acme_site_v2.log", b.Subject("acme.site v2", events.KindLog))
	assert.Equal(t, "ryze.events.a__.alert", b.Subject("a*>", events.KindAlert))
	assert.Equal(t, "ryze.events._.log", b.Subject("", events.KindLog))

	custom := newBridge(&fakeConn{}, " studio.events. ", nil)
	assert.Equal(t, "studio.events.p1.log", custom.Subject("p1", events.KindLog))
}

func TestDeliverPublishesJSON(t *testing.T) {
	fc := &fakeConn{}
	b := newBridge(fc, "ryze.events", nil)

	ev := events.FileCommit("p1", "r1", "ui-plan.json", "{}")
	ev.Seq = 7
	b.Deliver(ev)

	require.Len(t, fc.messages, 1)
	assert.Equal(t, "ryze.events.p1.file_commit", fc.messages[0].subject)

	var got events.Event
	require.NoError(t, json.Unmarshal(fc.messages[0].data, &got))
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, "ui-plan.json", got.FileName)

	published, failed := b.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Zero(t, failed)
}

func TestDeliverCountsFailures(t *testing.T) {
	b := newBridge(&fakeConn{fail: errors.New("nats: connection closed")}, "", nil)
	b.Deliver(events.Log("p1", "r1", "hello"))
	_, failed := b.Stats()
	assert.Equal(t, uint64(1), failed)
}

func TestRunDrainsOnCancel(t *testing.T) {
	fc := &fakeConn{}
	b := newBridge(fc, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))
	assert.True(t, fc.drained)
}
