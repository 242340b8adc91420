package model

import (
	"math"
	"testing"
)

func TestParseReading(t *testing.T) {
	tests := []struct {
		raw   string
		want  float64
		valid bool
	}{
		{"12.5", 12.5, true},
		{" 3 ", 3, true},
		{"0", 0, true},
		{"-1.25", -1.25, true},
		{"", 0, false},
		{"unknown", 0, false},
		{"unavailable", 0, false},
		{"NaN", 0, false},
		{"inf", 0, false},
		{"12,5", 0, false},
	}

	for _, tt := range tests {
		got := ParseReading(tt.raw)
		if got.Valid != tt.valid {
			t.Errorf("ParseReading(%q).Valid = %v, want %v", tt.raw, got.Valid, tt.valid)
			continue
		}
		if tt.valid && math.Abs(got.Value-tt.want) > 1e-12 {
			t.Errorf("ParseReading(%q).Value = %v, want %v", tt.raw, got.Value, tt.want)
		}
	}
}

func TestDeviceNaming(t *testing.T) {
	d := Device{EnergyEntity: "sensor.living_room_tv_energy", PriceEntity: "sensor.nordpool"}

	if got := d.CostEntityID(); got != "sensor.living_room_tv_energy_cost" {
		t.Errorf("CostEntityID() = %q", got)
	}
	if got := d.StorageKey(); got != d.CostEntityID() {
		t.Errorf("StorageKey() = %q, want cost entity id", got)
	}
	if got := d.FriendlyName(); got != "Living Room Tv Energy Cost" {
		t.Errorf("FriendlyName() = %q, want %q", got, "Living Room Tv Energy Cost")
	}
}

func TestObjectID(t *testing.T) {
	if got := ObjectID("sensor.washer"); got != "washer" {
		t.Errorf("ObjectID(sensor.washer) = %q", got)
	}
	if got := ObjectID("washer"); got != "washer" {
		t.Errorf("ObjectID(washer) = %q", got)
	}
}
