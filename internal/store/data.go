package store

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
)

// MaxRecordsPerDevice bounds the readings kept for one device.
const MaxRecordsPerDevice = 512

var ErrMissingID = errors.New("payload has no id")

// Entity is one dispatched object as decoded from the wire.
type Entity map[string]any

// Data caches the latest greenhouses, devices and device readings pushed
// by the server. Every write replaces by id.
type Data struct {
	mu          sync.RWMutex
	greenhouses map[string]Entity
	devices     map[string]Entity
	records     map[string][]Entity
}

func NewData() *Data {
	d := &Data{}
	d.Reset()
	return d
}

func (d *Data) SetGreenhouse(payload any) error {
	entity, id, err := entityWithID(payload, "id")
	if err != nil {
		return fmt.Errorf("greenhouse: %w", err)
	}
	d.mu.Lock()
	d.greenhouses[id] = entity
	d.mu.Unlock()
	return nil
}

// DeleteGreenhouse drops a greenhouse together with its devices and their
// readings.
func (d *Data) DeleteGreenhouse(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.greenhouses[id]; !ok {
		return false
	}
	delete(d.greenhouses, id)
	for deviceID, device := range d.devices {
		if owner, ok := IDString(device["greenhouse_id"]); ok && owner == id {
			delete(d.devices, deviceID)
			delete(d.records, deviceID)
		}
	}
	return true
}

func (d *Data) Greenhouse(id string) (Entity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entity, ok := d.greenhouses[id]
	return entity, ok
}

// GreenhouseIDs returns the cached greenhouse ids in ascending order.
func (d *Data) GreenhouseIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.greenhouses)
}

func (d *Data) SetDevice(payload any) error {
	entity, id, err := entityWithID(payload, "id")
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	d.mu.Lock()
	d.devices[id] = entity
	d.mu.Unlock()
	return nil
}

func (d *Data) Device(id string) (Entity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entity, ok := d.devices[id]
	return entity, ok
}

// DevicesIn returns the ids of cached devices owned by greenhouseID.
func (d *Data) DevicesIn(greenhouseID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for id, device := range d.devices {
		if owner, ok := IDString(device["greenhouse_id"]); ok && owner == greenhouseID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetDeviceRecords stores readings pushed for a device. The payload is a
// single reading, a list of readings, or {device_id, records} replacing
// the device's readings.
func (d *Data) SetDeviceRecords(payload any) error {
	switch v := payload.(type) {
	case map[string]any:
		deviceID, ok := IDString(v["device_id"])
		if !ok {
			return fmt.Errorf("device records: %w", ErrMissingID)
		}
		if list, ok := v["records"].([]any); ok {
			records := make([]Entity, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					records = append(records, Entity(m))
				}
			}
			d.mu.Lock()
			d.records[deviceID] = trimRecords(records)
			d.mu.Unlock()
			return nil
		}
		d.mu.Lock()
		d.records[deviceID] = trimRecords(append(d.records[deviceID], Entity(v)))
		d.mu.Unlock()
		return nil
	case []any:
		for _, item := range v {
			if err := d.SetDeviceRecords(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("device records: unexpected payload %T", payload)
	}
}

func (d *Data) DeviceRecords(deviceID string) []Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Entity(nil), d.records[deviceID]...)
}

// Reset forgets everything.
func (d *Data) Reset() {
	d.mu.Lock()
	d.greenhouses = map[string]Entity{}
	d.devices = map[string]Entity{}
	d.records = map[string][]Entity{}
	d.mu.Unlock()
}

// IDString renders an id decoded from the wire as a map key. Snowflake ids
// above 2^53 arrive as *big.Int.
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case int64:
		return strconv.FormatInt(id, 10), true
	case *big.Int:
		if id == nil {
			return "", false
		}
		return id.String(), true
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}

func entityWithID(payload any, key string) (Entity, string, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("unexpected payload %T", payload)
	}
	id, ok := IDString(m[key])
	if !ok {
		return nil, "", ErrMissingID
	}
	return Entity(m), id, nil
}

func trimRecords(records []Entity) []Entity {
	if len(records) <= MaxRecordsPerDevice {
		return records
	}
	return append([]Entity(nil), records[len(records)-MaxRecordsPerDevice:]...)
}

func sortedKeys(m map[string]Entity) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
