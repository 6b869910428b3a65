package entity

import "sync"

// ProgressEvent is one human readable stage transition.
type ProgressEvent struct {
	Step                   string `json:"step"`
	Progress               int    `json:"progress"`
	Message                string `json:"message"`
	EstimatedTimeRemaining *int   `json:"estimatedTimeRemaining,omitempty"`
}

// ProgressEmitter receives progress events. Implementations must not block for long.
type ProgressEmitter interface {
	OnProgress(event ProgressEvent)
}

// ProgressFunc adapts a function to ProgressEmitter.
type ProgressFunc func(event ProgressEvent)

func (f ProgressFunc) OnProgress(event ProgressEvent) { f(event) }

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) OnProgress(ProgressEvent) {}

// MultiEmitter forwards to every emitter in order.
type MultiEmitter []ProgressEmitter

func (m MultiEmitter) OnProgress(event ProgressEvent) {
	for _, e := range m {
		if e != nil {
			e.OnProgress(event)
		}
	}
}

// ChannelEmitter delivers events to a bounded channel and drops them when full,
// so a slow consumer never stalls the producer.
type ChannelEmitter struct {
	ch      chan ProgressEvent
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChannelEmitter creates a ChannelEmitter with the given buffer size.
func NewChannelEmitter(size int) *ChannelEmitter {
	if size <= 0 {
		size = 16
	}
	return &ChannelEmitter{ch: make(chan ProgressEvent, size)}
}

func (c *ChannelEmitter) OnProgress(event ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- event:
	default:
		c.dropped++
	}
}

// Events returns the receive side of the channel.
func (c *ChannelEmitter) Events() <-chan ProgressEvent { return c.ch }

// Dropped returns how many events were discarded because the buffer was full.
func (c *ChannelEmitter) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the channel; later events are discarded. Idempotent.
func (c *ChannelEmitter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
