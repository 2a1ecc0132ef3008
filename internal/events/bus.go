// Package events provides a publish/subscribe bus for watcher activity.
// Poll cycles, device changes, and alerts flow from the poller to
// subscribers such as the status server's WebSocket stream. The bus is
// nil-safe: publishing on a nil *Bus is a no-op, so components do not
// need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourcePoller identifies events from the poll loop.
	SourcePoller = "poller"
	// SourceRouter identifies router reachability changes.
	SourceRouter = "router"
	// SourceAlert identifies events from the alert fan-out.
	SourceAlert = "alert"
)

// Kind constants describe the type of event within a source.
const (
	// KindPollStart signals the start of a poll cycle.
	// Data: cycle.
	KindPollStart = "poll_start"
	// KindPollComplete signals the end of a poll cycle.
	// Data: cycle, devices, stale, log_alerts, elapsed_ms.
	KindPollComplete = "poll_complete"
	// KindFetchFailed signals that one endpoint could not be read.
	// Data: endpoint, kind, error.
	KindFetchFailed = "fetch_failed"

	// KindDeviceJoined signals a device appeared in the ARP table.
	// Data: ip, mac, interface.
	KindDeviceJoined = "device_joined"
	// KindDeviceLeft signals a device disappeared from the ARP table.
	// Data: ip, mac, interface.
	KindDeviceLeft = "device_left"

	// KindLogAlert signals an alert-worthy log entry.
	// Data: time, topics, message, severity.
	KindLogAlert = "log_alert"
	// KindSinkFailed signals that an alert sink rejected an alert.
	// Data: sink, error.
	KindSinkFailed = "sink_failed"

	// KindReachable signals the router answered after being down.
	KindReachable = "reachable"
	// KindUnreachable signals the router stopped answering.
	// Data: error.
	KindUnreachable = "unreachable"
)

// Event is a single activity record.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Subscribers receive events on
// buffered channels; slow subscribers miss events rather than blocking
// the poller. The most recent events are kept for late subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event

	history []Event
	keep    int
}

// New creates a bus that remembers the last keep events. A keep of
// zero disables history.
func New(keep int) *Bus {
	if keep < 0 {
		keep = 0
	}
	return &Bus{
		subs: make(map[<-chan Event]chan Event),
		keep: keep,
	}
}

// Publish sends e to all subscribers, dropping it for any subscriber
// whose buffer is full. A zero Timestamp is set to now.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keep > 0 {
		if len(b.history) == b.keep {
			copy(b.history, b.history[1:])
			b.history = b.history[:b.keep-1]
		}
		b.history = append(b.history, e)
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// Recent returns a copy of the retained history, oldest first.
func (b *Bus) Recent() []Event {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
