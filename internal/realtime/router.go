package realtime

import (
	"context"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/wire"
)

// Event identifies a server-pushed dispatch.
type Event int

const (
	EventUnknown Event = iota
	EventUserUpdate
	EventUserMeUpdate
	EventGreenhouseUpdate
	EventGreenhouseCreate
	EventDeviceUpdate
	EventDeviceRecordsUpdate
)

var eventNames = map[Event]string{
	EventUserUpdate:          "user_update",
	EventUserMeUpdate:        "user_me_update",
	EventGreenhouseUpdate:    "greenhouse_update",
	EventGreenhouseCreate:    "greenhouse_create",
	EventDeviceUpdate:        "device_update",
	EventDeviceRecordsUpdate: "device_records_update",
}

var eventsByName = func() map[string]Event {
	out := make(map[string]Event, len(eventNames))
	for event, name := range eventNames {
		out[name] = event
	}
	return out
}()

// ParseEvent maps a dispatch name to its Event. Names this client does not
// know yield EventUnknown.
func ParseEvent(name string) Event {
	return eventsByName[name]
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

// DispatchHandler consumes one dispatch payload. Handlers run on the session
// goroutine and must not block.
type DispatchHandler func(ctx context.Context, data any)

// Handle registers h for event. Several handlers may share an event; they
// run in registration order.
func (c *Client) Handle(event Event, h DispatchHandler) {
	if h == nil || event == EventUnknown {
		return
	}
	c.handlersMu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.handlersMu.Unlock()
}

// route delivers one inbound frame. Non-dispatch frames only feed the
// correlator.
func (c *Client) route(ctx context.Context, frame wire.Frame) {
	if frame.Opcode != wire.OpDispatch {
		if !c.resolve(frame) {
			c.logger.Debug("received uncorrelated frame",
				logging.Field("id", frame.ID),
				logging.Field("opcode", frame.Opcode.String()),
			)
		}
		return
	}

	event := ParseEvent(frame.Event)
	c.handlersMu.RLock()
	handlers := c.handlers[event]
	c.handlersMu.RUnlock()
	if len(handlers) == 0 {
		c.logger.Debug("ignoring dispatch event", logging.Field("event", frame.Event))
		return
	}
	c.logger.Debug("dispatching event", logging.Field("event", event.String()))
	for _, h := range handlers {
		h(ctx, frame.Data)
	}
}
