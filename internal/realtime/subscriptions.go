package realtime

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/wire"
)

// Subscription is a remembered subscribe request replayed after reconnect.
type Subscription struct {
	Topic  string
	Params any
}

// Registry keeps remembered subscriptions in insertion order. Duplicates are
// allowed; callers opt into suppression with Contains.
type Registry struct {
	mu    sync.Mutex
	items []Subscription
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Contains reports whether a subscription with the same topic and equal
// params is remembered. Params are compared by their wire text so key order
// does not matter.
func (r *Registry) Contains(topic string, params any) bool {
	key, err := wire.ToWire(params)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.items {
		if sub.Topic != topic {
			continue
		}
		existing, err := wire.ToWire(sub.Params)
		if err == nil && bytes.Equal(existing, key) {
			return true
		}
	}
	return false
}

func (r *Registry) Add(sub Subscription) {
	r.mu.Lock()
	r.items = append(r.items, sub)
	r.mu.Unlock()
}

// Remove deletes the first subscription matching topic and params.
func (r *Registry) Remove(topic string, params any) bool {
	key, err := wire.ToWire(params)
	if err != nil {
		return false
	}
	return r.RemoveFunc(func(sub Subscription) bool {
		if sub.Topic != topic {
			return false
		}
		existing, err := wire.ToWire(sub.Params)
		return err == nil && bytes.Equal(existing, key)
	}) > 0
}

// RemoveFunc deletes every subscription for which match returns true and
// reports how many were removed.
func (r *Registry) RemoveFunc(match func(Subscription) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	removed := 0
	for _, sub := range r.items {
		if match(sub) {
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	clear(r.items[len(kept):])
	r.items = kept
	return removed
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

// Snapshot returns the remembered subscriptions in insertion order.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Subscription(nil), r.items...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type SubscribeOptions struct {
	// CheckExistence keeps an equal, already remembered subscription from
	// being remembered twice. The request itself is still sent.
	CheckExistence bool
	// Remember keeps the subscription for replay after reconnect.
	Remember bool
}

// Subscribe asks the server to push updates for topic. A subscription
// remembered before authorization is sent by the replay that runs once the
// session is authorized, not queued a second time.
func (c *Client) Subscribe(ctx context.Context, topic string, params any, opts SubscribeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if params == nil {
		params = map[string]any{}
	}
	if _, err := wire.ToWire(params); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	known := opts.CheckExistence && c.registry.Contains(topic, params)
	if known {
		c.logger.Debug("subscription already remembered", logging.Field("topic", topic))
	}
	if opts.Remember && !known {
		c.registry.Add(Subscription{Topic: topic, Params: params})
		if !c.IsAuthorized() {
			c.logger.Debug("subscription remembered until authorized", logging.Field("topic", topic))
			return nil
		}
	}
	if _, err := c.sendLocked(subscribeFrame(topic, params), nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe forgets a remembered subscription so it is not replayed.
func (c *Client) Unsubscribe(topic string, params any) bool {
	if params == nil {
		params = map[string]any{}
	}
	return c.registry.Remove(topic, params)
}

func subscribeFrame(topic string, params any) wire.Frame {
	return wire.Frame{Opcode: wire.OpSubscribe, Topic: topic, Data: params}
}
