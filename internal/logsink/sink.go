// Package logsink carries script console output and engine diagnostics to
// the application log without ever blocking the caller.
package logsink

import "time"

// Sink is a fire-and-forget log line consumer.
type Sink interface {
	Log(message string)
}

// Func adapts a plain function to Sink.
type Func func(message string)

func (f Func) Log(message string) { f(message) }

// Discard drops every message.
var Discard Sink = Func(func(string) {})

// Record is one log line with its origin.
type Record struct {
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel is a non-blocking Sink backed by a RingChannel. When the buffer is
// full the oldest record is dropped.
type Channel struct {
	ring   *RingChannel[Record]
	source string
}

// NewChannel creates a channel sink with the given capacity.
func NewChannel(capacity int) *Channel {
	return &Channel{ring: NewRingChannel[Record](capacity)}
}

// WithSource returns a Sink sharing the same buffer that tags every record
// with source, typically the characteristic UUID.
func (c *Channel) WithSource(source string) Sink {
	return &Channel{ring: c.ring, source: source}
}

func (c *Channel) Log(message string) {
	c.ring.ForceSend(Record{Message: message, Source: c.source, Timestamp: time.Now()})
}

// C exposes the receive side for a Drainer.
func (c *Channel) C() <-chan Record {
	return c.ring.C()
}

// Metrics returns the buffer counters.
func (c *Channel) Metrics() Metrics {
	return c.ring.GetMetrics()
}

// Close closes the underlying buffer; Log must not be called afterwards.
func (c *Channel) Close() {
	c.ring.Close()
}
