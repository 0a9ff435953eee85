package app

import (
	"context"
	"fmt"
	"slices"

	"garthen-realtime/internal/config"
	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/realtime"
	"garthen-realtime/internal/store"
	"garthen-realtime/internal/wire"
)

// DeleteGreenhouse asks the server to delete a greenhouse owned by the
// signed-in user. Once the server confirms, the greenhouse and its devices
// leave the cache and their subscriptions are no longer replayed.
func (a *GarthenApp) DeleteGreenhouse(ctx context.Context, id any, currentPassword string) error {
	key, ok := store.IDString(id)
	if !ok {
		return fmt.Errorf("delete greenhouse: %w", store.ErrMissingID)
	}
	_, err := a.client.Request(ctx, wire.MethodDelete, "greenhouse", map[string]any{
		"id":               id,
		"current_password": currentPassword,
	})
	if err != nil {
		return fmt.Errorf("delete greenhouse %s: %w", key, err)
	}
	a.forgetGreenhouse(id, key)
	return nil
}

// deleteRequested runs the one-shot deletion asked for on the command line.
func (a *GarthenApp) deleteRequested(ctx context.Context) error {
	id, err := config.ParseGreenhouseID(a.opts.DeleteGreenhouse)
	if err != nil {
		return err
	}
	return a.DeleteGreenhouse(ctx, id, a.opts.CurrentPassword)
}

func (a *GarthenApp) forgetGreenhouse(id any, key string) {
	devices := a.stores.Data.DevicesIn(key)
	a.stores.Data.DeleteGreenhouse(key)

	removed := 0
	if a.client.Unsubscribe("greenhouse", map[string]any{"id": id}) {
		removed++
	}
	removed += a.client.Registry().RemoveFunc(func(sub realtime.Subscription) bool {
		params, _ := sub.Params.(map[string]any)
		subject, ok := store.IDString(params["id"])
		if !ok {
			return false
		}
		switch sub.Topic {
		case "greenhouse":
			return subject == key
		case "device", "device_records":
			return slices.Contains(devices, subject)
		default:
			return false
		}
	})
	a.logger.Info("greenhouse deleted",
		logging.Field("id", key),
		logging.Field("devices", len(devices)),
		logging.Field("pruned_subscriptions", removed),
	)
}
