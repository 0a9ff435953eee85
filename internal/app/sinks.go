package app

import (
	"context"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/realtime"
	"garthen-realtime/internal/store"
)

// RegisterSinks routes dispatch events into the stores. Data is reset
// whenever the connection closes.
func (a *GarthenApp) RegisterSinks() {
	data, user := a.stores.Data, a.stores.User

	a.client.Handle(realtime.EventUserMeUpdate, a.sink("user_me_update", user.Login))
	a.client.Handle(realtime.EventGreenhouseUpdate, a.sink("greenhouse_update", data.SetGreenhouse))
	a.client.Handle(realtime.EventDeviceUpdate, a.sink("device_update", data.SetDevice))
	a.client.Handle(realtime.EventDeviceRecordsUpdate, a.sink("device_records_update", data.SetDeviceRecords))
	a.client.Handle(realtime.EventGreenhouseCreate, a.followGreenhouse)
	a.client.Handle(realtime.EventUserUpdate, func(_ context.Context, payload any) {
		a.logger.Debug("user update received", logging.Field("payload", payload))
	})
	a.client.AddResetter(realtime.ResetFunc(data.Reset))
}

func (a *GarthenApp) sink(event string, apply func(any) error) realtime.DispatchHandler {
	return func(_ context.Context, payload any) {
		if err := apply(payload); err != nil {
			a.logger.Warn("dropping dispatch payload",
				logging.Field("event", event),
				logging.Field("error", err),
			)
		}
	}
}

// followGreenhouse subscribes to a newly created greenhouse for this session
// only; the server includes it in the user's topics after a reconnect.
func (a *GarthenApp) followGreenhouse(ctx context.Context, payload any) {
	fields, ok := payload.(map[string]any)
	if !ok {
		a.logger.Warn("greenhouse_create payload is not an object")
		return
	}
	id, ok := fields["id"]
	if _, valid := store.IDString(id); !ok || !valid {
		a.logger.Warn("greenhouse_create payload has no id")
		return
	}
	err := a.client.Subscribe(ctx, "greenhouse", map[string]any{"id": id}, realtime.SubscribeOptions{
		CheckExistence: true,
		Remember:       false,
	})
	if err != nil {
		a.logger.Warn("failed to subscribe to new greenhouse", logging.Field("error", err))
	}
}
