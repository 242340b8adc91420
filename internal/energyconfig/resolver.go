// Package energyconfig reads the energy dashboard document that names the
// grid price entity and the per-device energy entities.
package energyconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/theirongolddev/devcost/internal/model"
)

// GridSourceType is the only energy source type whose price entity is used.
const GridSourceType = "grid"

var (
	// ErrNotFound indicates the energy document does not exist.
	ErrNotFound = errors.New("energyconfig: document not found")
	// ErrNoPriceEntity indicates no grid source carries a price entity.
	ErrNoPriceEntity = errors.New("energyconfig: no grid price entity")
	// ErrNoDevices indicates the document lists no device consumption entities.
	ErrNoDevices = errors.New("energyconfig: no device consumption entities")
)

// Document is the subset of the energy dashboard document devcost reads.
type Document struct {
	EnergySources     []Source      `json:"energy_sources" yaml:"energy_sources"`
	DeviceConsumption []DeviceEntry `json:"device_consumption" yaml:"device_consumption"`
}

// Source is one configured energy source.
type Source struct {
	Type        string `json:"type" yaml:"type"`
	PriceEntity string `json:"price_entity" yaml:"price_entity"`
}

// DeviceEntry is one tracked device.
type DeviceEntry struct {
	EntityID string `json:"entity_id" yaml:"entity_id"`
}

// storageEnvelope accepts both the bare document and the versioned
// `.storage` wrapper ({"version": 1, "data": {...}}).
type storageEnvelope struct {
	Data *Document `json:"data" yaml:"data"`
	Document `yaml:",inline"`
}

// Resolved is the immutable result of one read of the document.
type Resolved struct {
	PriceEntity string
	Devices     []model.Device
}

// Load reads and decodes the document at path. YAML is used for .yaml and
// .yml files, JSON otherwise.
func Load(path string) (*Document, error) {
	//nolint:gosec // document path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading energy document: %w", err)
	}

	var env storageEnvelope
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &env)
	default:
		err = json.Unmarshal(data, &env)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing energy document %s: %w", path, err)
	}

	if env.Data != nil {
		return env.Data, nil
	}
	return &env.Document, nil
}

// Resolve picks the first grid price entity and the device list.
func Resolve(doc *Document) (Resolved, error) {
	var price string
	for _, src := range doc.EnergySources {
		if src.Type == GridSourceType && src.PriceEntity != "" {
			price = src.PriceEntity
			break
		}
	}
	if price == "" {
		return Resolved{}, ErrNoPriceEntity
	}

	seen := make(map[string]struct{}, len(doc.DeviceConsumption))
	var devices []model.Device
	for _, d := range doc.DeviceConsumption {
		if d.EntityID == "" {
			continue
		}
		if _, dup := seen[d.EntityID]; dup {
			continue
		}
		seen[d.EntityID] = struct{}{}
		devices = append(devices, model.Device{EnergyEntity: d.EntityID, PriceEntity: price})
	}
	if len(devices) == 0 {
		return Resolved{}, ErrNoDevices
	}

	return Resolved{PriceEntity: price, Devices: devices}, nil
}

// LoadResolved loads and resolves the document, logging why when nothing
// usable was found. ok is false in that case and the caller should skip the
// dependent step.
func LoadResolved(path string, log *zap.Logger) (Resolved, bool) {
	doc, err := Load(path)
	switch {
	case errors.Is(err, ErrNotFound):
		log.Warn("energy configuration file not found", zap.String("path", path))
		return Resolved{}, false
	case err != nil:
		log.Error("error loading energy configuration", zap.String("path", path), zap.Error(err))
		return Resolved{}, false
	}

	res, err := Resolve(doc)
	switch {
	case errors.Is(err, ErrNoPriceEntity):
		log.Warn("no price entity found in energy configuration", zap.String("path", path))
		return Resolved{}, false
	case errors.Is(err, ErrNoDevices):
		log.Info("no device consumption entities found in energy configuration", zap.String("path", path))
		return Resolved{}, false
	case err != nil:
		log.Error("resolving energy configuration", zap.Error(err))
		return Resolved{}, false
	}
	return res, true
}
