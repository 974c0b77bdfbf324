// Package feed streams debugger session events to HTTP clients as
// server-sent events.
package feed

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
	"github.com/tmaxmax/go-sse"

	"github.com/dshills/wtldebug/internal/debug"
)

// Event types sent on the feed.
const (
	EventReady   = "ready"
	EventStatus  = "status"
	EventCommand = "command"
)

// DefaultBuffer is the number of events queued per subscriber.
const DefaultBuffer = 64

// Broker fans session events out to SSE subscribers. It implements
// debug.Observer; publishing never blocks, and a subscriber whose queue is
// full misses events.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]chan *sse.Message
	closed      bool
	done        chan struct{}

	buffer  int
	dropped atomic.Int64
	logger  zerolog.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = logger
	}
}

// NewBroker creates a broker with no subscribers.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		subscribers: make(map[string]chan *sse.Message),
		done:        make(chan struct{}),
		buffer:      DefaultBuffer,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribers returns the number of connected subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns the number of events discarded for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// MessageReceived implements debug.Observer.
func (b *Broker) MessageReceived(ev debug.MessageEvent) {
	data := []byte(`{}`)
	data, _ = sjson.SetBytes(data, "session", ev.SessionID)
	data, _ = sjson.SetBytes(data, "command", ev.Command.Command)
	data, _ = sjson.SetBytes(data, "command_id", ev.Command.ID)
	data, _ = sjson.SetBytes(data, "received", ev.Received.Format(time.RFC3339Nano))
	data, _ = sjson.SetRawBytes(data, "message", ev.Message.Raw)

	b.publish(EventStatus, data)
}

// CommandCompleted implements debug.Observer.
func (b *Broker) CommandCompleted(ev debug.CommandEvent) {
	data := []byte(`{}`)
	data, _ = sjson.SetBytes(data, "session", ev.SessionID)
	data, _ = sjson.SetBytes(data, "command", ev.Command)
	data, _ = sjson.SetBytes(data, "duration_ms", ev.Duration.Milliseconds())
	if ev.Err != nil {
		data, _ = sjson.SetBytes(data, "error", ev.Err.Error())
	}

	b.publish(EventCommand, data)
}

// publish queues one event for every subscriber.
func (b *Broker) publish(typ string, data []byte) {
	msg := &sse.Message{Type: sse.Type(typ)}
	msg.AppendData(string(data))

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
			b.logger.Debug().Str("subscriber", id).Str("event", typ).Msg("feed subscriber lagging, event dropped")
		}
	}
}

// ServeHTTP upgrades the request to an event stream and forwards events until
// the client goes away or the broker is closed.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Subscribe first: once upgraded, the stream headers are committed.
	id, ch, ok := b.subscribe()
	if !ok {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}
	defer b.unsubscribe(id)

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		b.logger.Error().Err(err).Msg("upgrade feed subscriber")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger := b.logger.With().Str("subscriber", id).Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("feed subscriber connected")

	ready := &sse.Message{Type: sse.Type(EventReady)}
	ready.AppendData(`{"subscriber":` + strconv.Quote(id) + `}`)
	if err := sendAndFlush(sess, ready); err != nil {
		logger.Debug().Err(err).Msg("feed subscriber write failed")
		return
	}

	for {
		select {
		case msg := <-ch:
			if err := sendAndFlush(sess, msg); err != nil {
				logger.Debug().Err(err).Msg("feed subscriber write failed")
				return
			}
		case <-r.Context().Done():
			logger.Debug().Msg("feed subscriber disconnected")
			return
		case <-b.done:
			return
		}
	}
}

// Close disconnects every subscriber. Later requests are refused.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

func (b *Broker) subscribe() (string, chan *sse.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", nil, false
	}
	id := uuid.NewString()
	ch := make(chan *sse.Message, b.buffer)
	b.subscribers[id] = ch
	return id, ch, true
}

func (b *Broker) unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

func sendAndFlush(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}
