// Package daemon runs the live cost accumulator: it polls entity states,
// drives the cost sensors, reloads the energy configuration and serves the
// HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/accumulator"
	"github.com/theirongolddev/devcost/internal/backfill"
	"github.com/theirongolddev/devcost/internal/energyconfig"
	"github.com/theirongolddev/devcost/internal/model"
	"github.com/theirongolddev/devcost/internal/sensor"
)

var (
	// ErrBackfillRunning is returned when a backfill is requested while
	// another one is in progress.
	ErrBackfillRunning = errors.New("daemon: a backfill is already running")
	// ErrNoEnergyConfig is returned when the energy configuration cannot be
	// resolved.
	ErrNoEnergyConfig = errors.New("daemon: energy configuration unavailable")
)

const unavailableState = "unavailable"

// Config controls the daemon runtime behavior.
type Config struct {
	EnergyConfig   string
	Currency       string
	PollInterval   time.Duration
	ReloadInterval time.Duration
	Addr           string
	EventsBuffer   int
	AllowedOrigins []string
	Policy         accumulator.Policy
	BackfillDays   int
}

// StateReader reads entity states and instance settings from the host.
type StateReader interface {
	// RawState returns the raw state string of entityID.
	RawState(ctx context.Context, entityID string) (string, error)
	Currency(ctx context.Context) (string, error)
}

// Deps are the collaborators a Service drives.
type Deps struct {
	States   StateReader
	Store    sensor.StateStore
	Backfill *backfill.Runner
	Log      *zap.Logger
}

// Event is emitted whenever a sensor or the sensor set changes.
type Event struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Sensor    *sensor.Snapshot  `json:"sensor,omitempty"`
	DeltaCost float64           `json:"delta_cost,omitempty"`
	Results   []backfill.Result `json:"results,omitempty"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt         time.Time         `json:"started_at"`
	LastPollAt        time.Time         `json:"last_poll_at"`
	LastReloadAt      time.Time         `json:"last_reload_at"`
	PollIntervalSec   int               `json:"poll_interval_sec"`
	ReloadIntervalSec int               `json:"reload_interval_sec"`
	PollCount         int64             `json:"poll_count"`
	ReloadCount       int64             `json:"reload_count"`
	EnergyConfig      string            `json:"energy_config"`
	PriceEntity       string            `json:"price_entity,omitempty"`
	Currency          string            `json:"currency"`
	Sensors           []sensor.Snapshot `json:"sensors"`
	LastError         string            `json:"last_error,omitempty"`
	EventCount        int               `json:"event_count"`
	SubscriberCount   int               `json:"subscriber_count"`
	BackfillRunning   bool              `json:"backfill_running"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg     Config
	deps    Deps
	log     *zap.Logger
	metrics *metrics

	// Owned by the loop goroutine.
	sensors map[string]*sensor.CostSensor
	lastRaw map[string]string

	backfillMu sync.Mutex

	mu           sync.RWMutex
	startedAt    time.Time
	lastPollAt   time.Time
	lastReloadAt time.Time
	pollCount    int64
	reloadCount  int64
	lastError    string
	priceEntity  string
	currency     string
	snapshots    []sensor.Snapshot
	backfilling  bool
	nextEventID  int64
	events       []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service with the provided config.
func New(cfg Config, deps Deps) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = 5 * time.Minute
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8788"
	}
	if cfg.Policy == "" {
		cfg.Policy = accumulator.PolicyFreeze
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = backfill.DefaultDays
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	return &Service{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log,
		metrics:   newMetrics(),
		sensors:   make(map[string]*sensor.CostSensor),
		lastRaw:   make(map[string]string),
		startedAt: time.Now(),
		currency:  cfg.Currency,
		subs:      make(map[int]chan Event),
	}
}

// Run starts HTTP endpoints, the poll loop and the reload loop until ctx is
// canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("daemon listening", zap.String("addr", s.cfg.Addr))

	// Set up sensors so status is useful immediately.
	s.reload(ctx)

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	reload := time.NewTicker(s.cfg.ReloadInterval)
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-poll.C:
			s.pollOnce(ctx)
		case <-reload.C:
			s.reload(ctx)
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

// reload re-reads the energy configuration, reconciles the sensor set,
// refreshes the currency and updates every sensor. A configuration that
// cannot be resolved leaves the current sensors in place.
func (s *Service) reload(ctx context.Context) {
	s.metrics.reloads.Inc()

	resolved, ok := energyconfig.LoadResolved(s.cfg.EnergyConfig, s.log)
	if ok {
		s.reconcile(ctx, resolved)
	}

	currency := s.cfg.Currency
	if s.deps.States != nil {
		if cur, err := s.deps.States.Currency(ctx); err == nil {
			currency = cur
		} else {
			s.log.Debug("currency unavailable; using configured fallback",
				zap.String("currency", currency), zap.Error(err))
		}
	}
	for _, sn := range s.sensors {
		sn.SetUnit(currency)
	}

	s.mu.Lock()
	s.currency = currency
	if ok {
		s.priceEntity = resolved.PriceEntity
	}
	s.lastReloadAt = time.Now()
	s.reloadCount++
	s.mu.Unlock()

	// Safety net: recompute every sensor regardless of state changes.
	raw := s.readStates(ctx)
	for _, id := range s.sensorIDs() {
		s.updateSensor(ctx, s.sensors[id], raw)
	}
	s.refreshSnapshots()
}

func (s *Service) reconcile(ctx context.Context, resolved energyconfig.Resolved) {
	want := make(map[string]model.Device, len(resolved.Devices))
	for _, d := range resolved.Devices {
		want[d.CostEntityID()] = d
	}

	for id, sn := range s.sensors {
		if d, keep := want[id]; keep && d == sn.Device() {
			continue
		}
		// Persisted state is kept so the sensor resumes if it comes back.
		delete(s.sensors, id)
		snap := sn.Snapshot()
		s.log.Info("cost sensor removed", zap.String("entity_id", id))
		s.emit(Event{Type: "sensor_removed", Sensor: &snap})
	}

	for id, d := range want {
		if _, exists := s.sensors[id]; exists {
			continue
		}
		sn := sensor.New(d, s.deps.Store, s.cfg.Policy, s.log)
		if err := sn.Activate(ctx); err != nil {
			s.log.Error("restoring cost sensor failed", zap.String("entity_id", id), zap.Error(err))
			s.setError(err)
			continue
		}
		s.sensors[id] = sn
		snap := sn.Snapshot()
		s.log.Info("cost sensor added",
			zap.String("entity_id", id),
			zap.String("energy_entity", d.EnergyEntity),
			zap.String("price_entity", d.PriceEntity),
		)
		s.emit(Event{Type: "sensor_added", Sensor: &snap})
	}
	s.metrics.sensors.Set(float64(len(s.sensors)))
}

// pollOnce reads every tracked entity and updates each sensor whose energy
// or price state changed since the previous read.
func (s *Service) pollOnce(ctx context.Context) {
	prev := make(map[string]string, len(s.lastRaw))
	for k, v := range s.lastRaw {
		prev[k] = v
	}

	raw := s.readStates(ctx)
	for _, id := range s.sensorIDs() {
		sn := s.sensors[id]
		d := sn.Device()
		if changed(prev, raw, d.EnergyEntity) || changed(prev, raw, d.PriceEntity) {
			s.updateSensor(ctx, sn, raw)
		}
	}

	s.metrics.polls.Inc()
	s.mu.Lock()
	s.lastPollAt = time.Now()
	s.pollCount++
	s.mu.Unlock()
	s.refreshSnapshots()
}

func changed(prev, curr map[string]string, entityID string) bool {
	old, seen := prev[entityID]
	return !seen || old != curr[entityID]
}

// readStates fetches the raw state of every entity the sensors depend on. A
// failed read counts as unavailable.
func (s *Service) readStates(ctx context.Context) map[string]string {
	raw := make(map[string]string)
	if s.deps.States == nil {
		return raw
	}
	for _, sn := range s.sensors {
		d := sn.Device()
		for _, id := range []string{d.EnergyEntity, d.PriceEntity} {
			if _, done := raw[id]; done {
				continue
			}
			v, err := s.deps.States.RawState(ctx, id)
			if err != nil {
				s.metrics.pollErrors.Inc()
				s.log.Debug("reading entity state failed", zap.String("entity_id", id), zap.Error(err))
				v = unavailableState
			}
			raw[id] = v
		}
	}
	s.lastRaw = raw
	return raw
}

func (s *Service) updateSensor(ctx context.Context, sn *sensor.CostSensor, raw map[string]string) {
	d := sn.Device()
	before := sn.TotalCost()

	out, err := sn.Update(ctx, model.ParseReading(raw[d.EnergyEntity]), model.ParseReading(raw[d.PriceEntity]))
	s.metrics.observations.WithLabelValues(out.String()).Inc()
	if err != nil {
		s.metrics.persistErrors.Inc()
		s.log.Error("persisting cost sensor state failed", zap.String("entity_id", d.CostEntityID()), zap.Error(err))
		s.setError(err)
		return
	}

	if out == accumulator.OutcomeAccumulated {
		snap := sn.Snapshot()
		s.emit(Event{Type: "cost_update", Sensor: &snap, DeltaCost: snap.TotalCost - before})
	}
}

func (s *Service) sensorIDs() []string {
	ids := make([]string, 0, len(s.sensors))
	for id := range s.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// refreshSnapshots publishes the sensor views read by HTTP handlers.
func (s *Service) refreshSnapshots() {
	snaps := make([]sensor.Snapshot, 0, len(s.sensors))
	s.metrics.totalCost.Reset()
	for _, id := range s.sensorIDs() {
		snap := s.sensors[id].Snapshot()
		snaps = append(snaps, snap)
		s.metrics.totalCost.WithLabelValues(snap.EntityID, snap.Unit).Set(snap.TotalCost)
	}

	s.mu.Lock()
	s.snapshots = snaps
	s.mu.Unlock()
}

func (s *Service) setError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// Backfill rebuilds cost statistics for the configured devices. Only one
// backfill runs at a time; it never touches live sensor state.
func (s *Service) Backfill(ctx context.Context, req backfill.Request) ([]backfill.Result, error) {
	if s.deps.Backfill == nil {
		return nil, errors.New("daemon: backfill is not configured")
	}
	if !s.backfillMu.TryLock() {
		return nil, ErrBackfillRunning
	}
	defer s.backfillMu.Unlock()

	s.setBackfilling(true)
	defer s.setBackfilling(false)

	resolved, ok := energyconfig.LoadResolved(s.cfg.EnergyConfig, s.log)
	if !ok {
		s.metrics.backfillRuns.WithLabelValues("no_config").Inc()
		return nil, ErrNoEnergyConfig
	}
	if req.Days <= 0 {
		req.Days = s.cfg.BackfillDays
	}
	if req.Currency == "" {
		s.mu.RLock()
		req.Currency = s.currency
		s.mu.RUnlock()
	}

	results, err := s.deps.Backfill.Run(ctx, resolved, req)
	if err != nil {
		s.metrics.backfillRuns.WithLabelValues("error").Inc()
		return results, err
	}

	for _, r := range results {
		if r.Inserted {
			s.metrics.backfillPts.Add(float64(r.Points))
		}
	}
	s.metrics.backfillRuns.WithLabelValues("ok").Inc()
	s.emit(Event{Type: "backfill", Results: results})
	return results, nil
}

func (s *Service) setBackfilling(v bool) {
	s.mu.Lock()
	s.backfilling = v
	s.mu.Unlock()
}

func (s *Service) emit(ev Event) {
	s.mu.Lock()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.publishEvent(ev)
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sensors := make([]sensor.Snapshot, len(s.snapshots))
	copy(sensors, s.snapshots)

	return Status{
		StartedAt:         s.startedAt,
		LastPollAt:        s.lastPollAt,
		LastReloadAt:      s.lastReloadAt,
		PollIntervalSec:   int(s.cfg.PollInterval.Seconds()),
		ReloadIntervalSec: int(s.cfg.ReloadInterval.Seconds()),
		PollCount:         s.pollCount,
		ReloadCount:       s.reloadCount,
		EnergyConfig:      s.cfg.EnergyConfig,
		PriceEntity:       s.priceEntity,
		Currency:          s.currency,
		Sensors:           sensors,
		LastError:         s.lastError,
		EventCount:        len(s.events),
		SubscriberCount:   len(s.subs),
		BackfillRunning:   s.backfilling,
	}
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
