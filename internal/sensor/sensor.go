// Package sensor holds the live cost sensor for one device: its accumulator
// state, persistence and display attributes.
package sensor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/accumulator"
	"github.com/theirongolddev/devcost/internal/model"
)

const (
	DeviceClass = "monetary"
	StateClass  = "total_increasing"
)

// StateStore persists accumulator state by key.
type StateStore interface {
	LoadState(ctx context.Context, key string) (accumulator.State, bool, error)
	SaveState(ctx context.Context, key string, st accumulator.State) error
}

// Snapshot is a read-only view of a sensor.
type Snapshot struct {
	EntityID     string    `json:"entity_id"`
	Name         string    `json:"name"`
	EnergyEntity string    `json:"energy_entity"`
	PriceEntity  string    `json:"price_entity"`
	TotalCost    float64   `json:"total_cost"`
	LastEnergy   *float64  `json:"last_energy"`
	Unit         string    `json:"unit_of_measurement"`
	DeviceClass  string    `json:"device_class"`
	StateClass   string    `json:"state_class"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// CostSensor accumulates the cost of one device. It is not safe for
// concurrent use; the daemon drives all sensors from one goroutine.
type CostSensor struct {
	device model.Device
	store  StateStore
	policy accumulator.Policy
	log    *zap.Logger

	state     accumulator.State
	unit      string
	outcome   accumulator.Outcome
	observed  bool
	updatedAt time.Time
	now       func() time.Time
}

// New returns a sensor for device with an empty state. Call Activate to
// restore persisted state.
func New(device model.Device, store StateStore, policy accumulator.Policy, log *zap.Logger) *CostSensor {
	if log == nil {
		log = zap.NewNop()
	}
	return &CostSensor{
		device: device,
		store:  store,
		policy: policy,
		log:    log.With(zap.String("entity_id", device.CostEntityID())),
		now:    time.Now,
	}
}

// Device returns the device this sensor tracks.
func (s *CostSensor) Device() model.Device { return s.device }

// Activate restores the persisted state. A sensor never written before
// starts at zero with no baseline.
func (s *CostSensor) Activate(ctx context.Context) error {
	st, found, err := s.store.LoadState(ctx, s.device.StorageKey())
	if err != nil {
		return fmt.Errorf("restoring %s: %w", s.device.StorageKey(), err)
	}
	if found {
		s.state = st
		s.log.Debug("restored cost sensor state", zap.Float64("total_cost", st.TotalCost))
	}
	return nil
}

// Update applies one pair of readings. When the state changes it is
// persisted before it is committed in memory; a persistence failure leaves
// the sensor unchanged and is returned.
func (s *CostSensor) Update(ctx context.Context, energy, price model.Reading) (accumulator.Outcome, error) {
	next, out := accumulator.Observe(s.state, energy, price, s.policy)
	if out.Changed() {
		if err := s.store.SaveState(ctx, s.device.StorageKey(), next); err != nil {
			return out, fmt.Errorf("persisting %s: %w", s.device.StorageKey(), err)
		}
		s.updatedAt = s.now()
	}
	if out == accumulator.OutcomeRebased {
		s.log.Info("energy counter decreased; baseline rebased", zap.Float64("energy", energy.Value))
	}
	s.state = next
	s.outcome = out
	s.observed = true
	return out, nil
}

// SetUnit sets the currency the total is reported in.
func (s *CostSensor) SetUnit(unit string) { s.unit = unit }

// TotalCost returns the accumulated cost.
func (s *CostSensor) TotalCost() float64 { return s.state.TotalCost }

// Snapshot returns the current attributes.
func (s *CostSensor) Snapshot() Snapshot {
	snap := Snapshot{
		EntityID:     s.device.CostEntityID(),
		Name:         s.device.FriendlyName(),
		EnergyEntity: s.device.EnergyEntity,
		PriceEntity:  s.device.PriceEntity,
		TotalCost:    s.state.TotalCost,
		Unit:         s.unit,
		DeviceClass:  DeviceClass,
		StateClass:   StateClass,
		UpdatedAt:    s.updatedAt,
	}
	if s.state.LastEnergy != nil {
		snap.LastEnergy = model.Float(*s.state.LastEnergy)
	}
	if s.observed {
		snap.LastOutcome = s.outcome.String()
	}
	return snap
}
