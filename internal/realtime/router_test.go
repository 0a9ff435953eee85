package realtime

import (
	"context"
	"testing"
	"time"

	"garthen-realtime/internal/wire"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		want Event
	}{
		{name: "user_update", want: EventUserUpdate},
		{name: "user_me_update", want: EventUserMeUpdate},
		{name: "greenhouse_update", want: EventGreenhouseUpdate},
		{name: "greenhouse_create", want: EventGreenhouseCreate},
		{name: "device_update", want: EventDeviceUpdate},
		{name: "device_records_update", want: EventDeviceRecordsUpdate},
		{name: "greenhouse_delete", want: EventUnknown},
		{name: "", want: EventUnknown},
	}
	for _, tt := range tests {
		if got := ParseEvent(tt.name); got != tt.want {
			t.Fatalf("ParseEvent(%q) = %s, want %s", tt.name, got, tt.want)
		}
		if tt.want != EventUnknown && tt.want.String() != tt.name {
			t.Fatalf("%d.String() = %q, want %q", tt.want, tt.want.String(), tt.name)
		}
	}
}

func TestRouter_DispatchesKnownEventsInOrder(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)

	calls := make(chan string, 8)
	c.Handle(EventDeviceUpdate, func(_ context.Context, data any) {
		calls <- "first:" + data.(map[string]any)["name"].(string)
	})
	c.Handle(EventDeviceUpdate, func(_ context.Context, data any) {
		calls <- "second:" + data.(map[string]any)["name"].(string)
	})
	c.Handle(EventUnknown, func(context.Context, any) {
		calls <- "unknown"
	})

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	conn := dialer.next(t)
	conn.acceptAuthorize(t)
	awaitReady(t, c)

	conn.push(t, wire.Frame{Opcode: wire.OpDispatch, Event: "soil_sensor_update", Data: map[string]any{"name": "x"}})
	conn.push(t, wire.Frame{Opcode: wire.OpDispatch, Event: "device_update", Data: map[string]any{"name": "pump"}})

	for _, want := range []string{"first:pump", "second:pump"} {
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("handler call = %q, want %q", got, want)
			}
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	select {
	case got := <-calls:
		t.Fatalf("unexpected handler call %q", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRouter_NonDispatchFramesSkipHandlers(t *testing.T) {
	dialer := newFakeDialer()
	c := newTestClient(t, dialer, nil)
	called := make(chan struct{}, 1)
	c.Handle(EventUserUpdate, func(context.Context, any) { called <- struct{}{} })

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	conn := dialer.next(t)
	conn.acceptAuthorize(t)
	awaitReady(t, c)

	frame := wire.Frame{Opcode: wire.OpResponse, Event: "user_update"}
	frame.SetID(999)
	conn.push(t, frame)
	select {
	case <-called:
		t.Fatalf("handler ran for a non-dispatch frame")
	case <-time.After(20 * time.Millisecond):
	}
}
