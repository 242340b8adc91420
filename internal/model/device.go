package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CostSuffix is appended to an energy entity id to form the cost statistic id.
const CostSuffix = "_cost"

// Device pairs one cumulative energy entity with the grid price entity.
type Device struct {
	EnergyEntity string `json:"energy_entity"`
	PriceEntity  string `json:"price_entity"`
}

// CostEntityID returns the cost sensor / statistic identifier,
// e.g. "sensor.washer_energy" -> "sensor.washer_energy_cost".
func (d Device) CostEntityID() string {
	return d.EnergyEntity + CostSuffix
}

// StorageKey is the persistence key for this device's accumulator state.
func (d Device) StorageKey() string {
	return d.CostEntityID()
}

// FriendlyName returns the display name of the cost sensor,
// e.g. "sensor.living_room_tv_energy" -> "Living Room Tv Energy Cost".
func (d Device) FriendlyName() string {
	name := ObjectID(d.EnergyEntity)
	name = strings.ReplaceAll(name, "_energy", "")
	name = strings.ReplaceAll(name, "_", " ")
	return cases.Title(language.Und).String(name) + " Energy Cost"
}

// ObjectID strips the domain from an entity id ("sensor.x" -> "x").
func ObjectID(entityID string) string {
	if _, obj, ok := strings.Cut(entityID, "."); ok {
		return obj
	}
	return entityID
}
