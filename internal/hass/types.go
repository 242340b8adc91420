package hass

import "time"

// StateUnavailable is the state Home Assistant reports for an entity whose
// integration cannot provide a value.
const StateUnavailable = "unavailable"

// EntityState is the /api/states/<entity_id> payload.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Unit returns the unit_of_measurement attribute, if any.
func (s EntityState) Unit() string {
	u, _ := s.Attributes["unit_of_measurement"].(string)
	return u
}

// InstanceConfig is the subset of /api/config devcost reads.
type InstanceConfig struct {
	LocationName string `json:"location_name"`
	Currency     string `json:"currency"`
	TimeZone     string `json:"time_zone"`
	Version      string `json:"version"`
}
