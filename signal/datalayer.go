package signal

import (
	"context"
	"sync"
)

// DataLayerEvent is one entry on the shared tag-manager event queue.
type DataLayerEvent struct {
	Event      string            `json:"event"`
	Action     string            `json:"action"`
	Source     string            `json:"source"`
	Categories map[string]string `json:"categories"`
	Version    string            `json:"version"`
}

// DataLayer is an append-only event queue consumed by external tag-management
// tooling. Pushes never fail; the queue only grows within a page lifetime.
type DataLayer struct {
	mu        sync.Mutex
	eventName string
	events    []DataLayerEvent
	onPush    func(DataLayerEvent)
}

// DataLayerOption configures a DataLayer.
type DataLayerOption func(*DataLayer)

// WithPushCallback invokes fn synchronously for every pushed event, for
// consumers that want a live feed instead of polling Events.
func WithPushCallback(fn func(DataLayerEvent)) DataLayerOption {
	return func(d *DataLayer) { d.onPush = fn }
}

// NewDataLayer creates a queue whose events carry the given event name.
// An empty name disables the sink (Send becomes a no-op).
func NewDataLayer(eventName string, opts ...DataLayerOption) *DataLayer {
	d := &DataLayer{eventName: eventName}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Send appends one event to the queue.
func (d *DataLayer) Send(_ context.Context, u Update) error {
	if d.eventName == "" {
		return nil
	}
	ev := DataLayerEvent{
		Event:      d.eventName,
		Action:     u.Action,
		Source:     u.Source,
		Categories: u.Choices,
		Version:    u.Version,
	}
	d.mu.Lock()
	d.events = append(d.events, ev)
	onPush := d.onPush
	d.mu.Unlock()

	if onPush != nil {
		onPush(ev)
	}
	return nil
}

// Events returns a snapshot of the queue, oldest first.
func (d *DataLayer) Events() []DataLayerEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DataLayerEvent, len(d.events))
	copy(out, d.events)
	return out
}

// Len returns the queue length.
func (d *DataLayer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// Close is a no-op; the queue lives as long as the page context.
func (d *DataLayer) Close() error { return nil }
