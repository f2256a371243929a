package events

import (
	"time"

	"github.com/kelindar/event"
)

// Event type identifiers for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypeCaptureFinished
)

// Event is the interface kelindar/event dispatches on.
type Event interface {
	Type() uint32
}

// SessionStateChanged is published on every session status transition.
type SessionStateChanged struct {
	SessionID string    `json:"sessionId"`
	SourceURL string    `json:"sourceUrl"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Type implements Event.
func (e SessionStateChanged) Type() uint32 { return TypeSessionStateChanged }

// CaptureFinished is published after every capture attempt.
type CaptureFinished struct {
	SessionID string    `json:"sessionId"`
	SourceURL string    `json:"sourceUrl"`
	FileName  string    `json:"fileName,omitempty"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Type implements Event.
func (e CaptureFinished) Type() uint32 { return TypeCaptureFinished }

// Bus wraps a kelindar/event dispatcher. Delivery is asynchronous: each
// subscriber receives events in publish order on its own goroutine.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Close stops delivery to all subscribers.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}

// Publish sends ev to every subscriber of its type. A nil bus drops the event.
func Publish[T Event](b *Bus, ev T) {
	if b == nil {
		return
	}
	event.Publish(b.dispatcher, ev)
}

// Subscribe registers handler for events of type T and returns a function
// that removes the subscription.
func Subscribe[T Event](b *Bus, handler func(T)) func() {
	return event.Subscribe(b.dispatcher, handler)
}
