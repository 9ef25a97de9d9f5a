package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	// DefaultBufferSize is the per-subscriber queue length for live events.
	DefaultBufferSize = 256
	// DefaultMaxLog bounds the per-channel replay log.
	DefaultMaxLog = 4096
)

// Sink receives every published event in per-project emission order.
// Deliver is called with the broadcaster lock held and must not block.
type Sink interface {
	Deliver(Event)
}

// Subscription is one consumer attached to a project channel. Its event
// channel is closed when the subscription is closed, evicted, or the
// broadcaster shuts down.
type Subscription struct {
	id        uint64
	projectID string
	ch        chan Event
	b         *Broadcaster
	once      sync.Once
	evicted   atomic.Bool
}

// Events returns the ordered event stream.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// ProjectID returns the project this subscription follows.
func (s *Subscription) ProjectID() string {
	return s.projectID
}

// Evicted reports whether the subscription was dropped for falling behind.
func (s *Subscription) Evicted() bool {
	return s.evicted.Load()
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.unsubscribe(s)
	})
}

// channel is the registry entry for one project. It lives while it has
// subscribers or an active run.
type channel struct {
	runID  string
	active bool
	log    []Event
	subs   map[uint64]*Subscription
}

// Broadcaster is an explicit registry of per-project event channels.
type Broadcaster struct {
	mu         sync.Mutex
	channels   map[string]*channel
	seqs       map[string]uint64
	nextSubID  uint64
	bufferSize int
	maxLog     int
	sinks      []Sink
	logger     *zap.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBufferSize sets the live-event queue length per subscriber.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithMaxLog bounds the replay log kept per channel.
func WithMaxLog(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.maxLog = n
		}
	}
}

// WithSink adds a sink that observes every event.
func WithSink(s Sink) Option {
	return func(b *Broadcaster) {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
}

// NewBroadcaster creates an empty registry.
func NewBroadcaster(logger *zap.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broadcaster{
		channels:   make(map[string]*channel),
		seqs:       make(map[string]uint64),
		bufferSize: DefaultBufferSize,
		maxLog:     DefaultMaxLog,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSink registers a sink after construction.
func (b *Broadcaster) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Broadcaster) channelFor(projectID string) *channel {
	ch, ok := b.channels[projectID]
	if !ok {
		ch = &channel{subs: make(map[uint64]*Subscription)}
		b.channels[projectID] = ch
	}
	return ch
}

// Open marks the start of a run on a project, creating the channel if needed
// and starting a fresh replay log.
func (b *Broadcaster) Open(projectID, runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channelFor(projectID)
	ch.active = true
	ch.runID = runID
	ch.log = nil
}

// Finish marks the project's run as terminal. The channel is torn down if no
// subscribers remain.
func (b *Broadcaster) Finish(projectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[projectID]
	if !ok {
		return
	}
	ch.active = false
	b.maybeTeardown(projectID, ch)
}

func (b *Broadcaster) maybeTeardown(projectID string, ch *channel) {
	if ch.active || len(ch.subs) > 0 {
		return
	}
	delete(b.channels, projectID)
	b.logger.Debug("event channel torn down", zap.String("project", projectID))
}

// Publish stamps ev with the next sequence number for its project, appends it
// to the channel log and delivers it to every subscriber in order. A
// subscriber whose queue is full is evicted rather than skipped, so a
// connected consumer never observes a gap. Publish never blocks.
func (b *Broadcaster) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seqs[ev.ProjectID]++
	ev.Seq = b.seqs[ev.ProjectID]

	if ch, ok := b.channels[ev.ProjectID]; ok {
		if ev.RunID == "" && ch.active {
			ev.RunID = ch.runID
		}
		ch.log = append(ch.log, ev)
		if over := len(ch.log) - b.maxLog; over > 0 {
			ch.log = append([]Event(nil), ch.log[over:]...)
		}
		for id, sub := range ch.subs {
			select {
			case sub.ch <- ev:
			default:
				delete(ch.subs, id)
				sub.evicted.Store(true)
				close(sub.ch)
				b.logger.Warn("evicted slow event subscriber",
					zap.String("project", ev.ProjectID),
					zap.Uint64("subscriber", id),
					zap.Uint64("seq", ev.Seq))
			}
		}
		b.maybeTeardown(ev.ProjectID, ch)
	}

	for _, s := range b.sinks {
		s.Deliver(ev)
	}
	return ev
}

// Subscribe attaches a consumer to a project. Events already logged for the
// current run are queued first, followed by live events.
func (b *Broadcaster) Subscribe(projectID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channelFor(projectID)
	b.nextSubID++
	sub := &Subscription{
		id:        b.nextSubID,
		projectID: projectID,
		ch:        make(chan Event, b.bufferSize+len(ch.log)),
		b:         b,
	}
	for _, ev := range ch.log {
		sub.ch <- ev
	}
	ch.subs[sub.id] = sub
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[sub.projectID]
	if !ok {
		return
	}
	if _, ok := ch.subs[sub.id]; !ok {
		return
	}
	delete(ch.subs, sub.id)
	close(sub.ch)
	b.maybeTeardown(sub.projectID, ch)
}

// Log returns a copy of the project's current replay log.
func (b *Broadcaster) Log(projectID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[projectID]
	if !ok {
		return nil
	}
	return append([]Event(nil), ch.log...)
}

// HasChannel reports whether a channel is registered for the project.
func (b *Broadcaster) HasChannel(projectID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[projectID]
	return ok
}

// Stats reports the number of live channels and subscribers.
func (b *Broadcaster) Stats() (channels, subscribers int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.channels {
		subscribers += len(ch.subs)
	}
	return len(b.channels), subscribers
}

// Shutdown closes every subscription and clears the registry.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for projectID, ch := range b.channels {
		for id, sub := range ch.subs {
			delete(ch.subs, id)
			close(sub.ch)
		}
		delete(b.channels, projectID)
	}
}
