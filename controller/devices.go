package controller

import (
	"errors"
	"fmt"
	"sync"

	"github.com/homeems/core/domain"
	"github.com/homeems/core/errs"
)

// DeviceRecord is a versioned capability record exposed through the
// controller's device-management API — the entity the source's
// update_device stub operates on. Kind selects which capability field is
// meaningful; the other two are left zero.
type DeviceRecord struct {
	ID      domain.ID
	Kind    string // "battery", "inverter", or "charger"
	Version int

	Battery  domain.BatteryCapabilities
	Inverter domain.InverterCapabilities
	Charger  domain.ChargerCapabilities
}

// errDeviceNotFound is returned by UpdateDevice when id names no known
// record, distinct from a version-mismatch rejection.
var errDeviceNotFound = errors.New("controller: device record not found")

// DeviceRegistry holds the versioned device records UpdateDevice operates
// on, behind a single mutex following the same single-lock discipline as
// domain.ScheduleStore/ConstraintsStore.
type DeviceRegistry struct {
	mu      sync.Mutex
	records map[domain.ID]DeviceRecord
}

func newDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{records: make(map[domain.ID]DeviceRecord)}
}

// Register assigns rec a fresh ID and starting version 1.
func (r *DeviceRegistry) Register(rec DeviceRecord) DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = domain.NewID()
	rec.Version = 1
	r.records[rec.ID] = rec
	return rec
}

// Get returns the current record for id.
func (r *DeviceRegistry) Get(id domain.ID) (DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// UpdateDevice applies mutate to the record identified by id, but only if
// expectedVersion matches the record's current version. A mismatch is
// rejected outright — this package never attempts to merge a stale
// partial update — and the caller is expected to re-read and retry with
// the current version.
func (r *DeviceRegistry) UpdateDevice(id domain.ID, expectedVersion int, mutate func(*DeviceRecord)) (DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return DeviceRecord{}, errDeviceNotFound
	}
	if rec.Version != expectedVersion {
		return DeviceRecord{}, errs.NewInvalidInput(
			fmt.Sprintf("controller: update_device version mismatch: have %d, expected %d", rec.Version, expectedVersion), nil)
	}

	mutate(&rec)
	rec.Version++
	r.records[id] = rec
	return rec, nil
}
