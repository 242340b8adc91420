package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/backfill"
	"github.com/theirongolddev/devcost/internal/model"
	"github.com/theirongolddev/devcost/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeStates struct {
	mu       sync.Mutex
	states   map[string]string
	currency string
	reads    map[string]int
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: map[string]string{}, reads: map[string]int{}}
}

func (f *fakeStates) set(id, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = v
}

func (f *fakeStates) RawState(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[id]++
	v, ok := f.states[id]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (f *fakeStates) Currency(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currency == "" {
		return "", errors.New("no currency")
	}
	return f.currency, nil
}

type fixture struct {
	svc        *Service
	states     *fakeStates
	store      *store.Store
	energyPath string
}

func writeEnergy(t *testing.T, path string, devices ...string) {
	t.Helper()
	doc := map[string]any{
		"energy_sources": []map[string]any{{"type": "grid", "price_entity": "sensor.price"}},
	}
	var dc []map[string]any
	for _, d := range devices {
		dc = append(dc, map[string]any{"entity_id": d})
	}
	doc["device_consumption"] = dc
	data, err := json.Marshal(map[string]any{"version": 1, "data": doc})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func newFixture(t *testing.T, devices ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "devcost.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	energyPath := filepath.Join(dir, "energy")
	writeEnergy(t, energyPath, devices...)

	states := newFakeStates()
	runner := backfill.NewRunner(st, st, zap.NewNop(), backfill.Options{
		Now: func() time.Time { return time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC) },
	})
	svc := New(Config{
		EnergyConfig: energyPath,
		Currency:     "EUR",
		EventsBuffer: 50,
		BackfillDays: 2,
	}, Deps{States: states, Store: st, Backfill: runner, Log: zap.NewNop()})

	return &fixture{svc: svc, states: states, store: st, energyPath: energyPath}
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{EventsBuffer: 2}, Deps{})

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	require.Len(t, s.events, 2)
	assert.Equal(t, int64(2), s.events[0].ID)
	assert.Equal(t, int64(3), s.events[1].ID)
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{}, Deps{})
	assert.Equal(t, 10*time.Second, s.cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, s.cfg.ReloadInterval)
	assert.Equal(t, backfill.DefaultDays, s.cfg.BackfillDays)
	assert.NotNil(t, s.log)
}

func TestReload_AddsSensorsAndUsesFallbackCurrency(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy", "sensor.dryer_energy")
	ctx := context.Background()
	f.states.set("sensor.washer_energy", "10")
	f.states.set("sensor.price", "0.5")

	f.svc.reload(ctx)

	status := f.svc.snapshotStatus()
	require.Len(t, status.Sensors, 2)
	assert.Equal(t, "sensor.dryer_energy_cost", status.Sensors[0].EntityID)
	assert.Equal(t, "sensor.washer_energy_cost", status.Sensors[1].EntityID)
	assert.Equal(t, "EUR", status.Currency)
	assert.Equal(t, "sensor.price", status.PriceEntity)
	assert.Equal(t, "EUR", status.Sensors[1].Unit)
	assert.Equal(t, "baseline", status.Sensors[1].LastOutcome)
	assert.Equal(t, "skipped", status.Sensors[0].LastOutcome, "dryer energy is unavailable")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.svc.metrics.sensors))

	// Baseline was persisted.
	st, found, err := f.store.LoadState(ctx, "sensor.washer_energy_cost")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 10.0, *st.LastEnergy)
}

func TestReload_PrefersHostCurrency(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy")
	f.states.currency = "SEK"

	f.svc.reload(context.Background())

	status := f.svc.snapshotStatus()
	assert.Equal(t, "SEK", status.Currency)
	assert.Equal(t, "SEK", status.Sensors[0].Unit)
}

func TestPollOnce_UpdatesOnlyOnChange(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy")
	ctx := context.Background()
	f.states.set("sensor.washer_energy", "10")
	f.states.set("sensor.price", "2")
	f.svc.reload(ctx)

	f.svc.pollOnce(ctx)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.svc.metrics.observations.WithLabelValues("held")),
		"unchanged states do not trigger an update")

	f.states.set("sensor.washer_energy", "12.5")
	f.svc.pollOnce(ctx)
	status := f.svc.snapshotStatus()
	assert.InDelta(t, 5.0, status.Sensors[0].TotalCost, 1e-12)
	assert.Equal(t, int64(2), status.PollCount)

	// A price change alone still triggers an update, which holds.
	f.states.set("sensor.price", "3")
	f.svc.pollOnce(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.observations.WithLabelValues("held")))

	f.states.set("sensor.washer_energy", "13.5")
	f.svc.pollOnce(ctx)
	assert.InDelta(t, 8.0, f.svc.snapshotStatus().Sensors[0].TotalCost, 1e-12)

	var updates []Event
	for _, ev := range f.svc.events {
		if ev.Type == "cost_update" {
			updates = append(updates, ev)
		}
	}
	require.Len(t, updates, 2)
	assert.InDelta(t, 5.0, updates[0].DeltaCost, 1e-12)
	assert.InDelta(t, 3.0, updates[1].DeltaCost, 1e-12)
	assert.Equal(t, 8.0, testutil.ToFloat64(
		f.svc.metrics.totalCost.WithLabelValues("sensor.washer_energy_cost", "EUR")))
}

func TestPollOnce_UnavailableIsSkippedAndRecovers(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy")
	ctx := context.Background()
	f.states.set("sensor.washer_energy", "10")
	f.states.set("sensor.price", "1")
	f.svc.reload(ctx)

	f.states.set("sensor.washer_energy", "unavailable")
	f.svc.pollOnce(ctx)
	f.states.set("sensor.washer_energy", "11")
	f.svc.pollOnce(ctx)

	assert.InDelta(t, 1.0, f.svc.snapshotStatus().Sensors[0].TotalCost, 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.observations.WithLabelValues("skipped")))
}

func TestReload_RemovesSensorButKeepsState(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy", "sensor.dryer_energy")
	ctx := context.Background()
	f.states.set("sensor.washer_energy", "10")
	f.states.set("sensor.dryer_energy", "5")
	f.states.set("sensor.price", "1")
	f.svc.reload(ctx)

	f.states.set("sensor.dryer_energy", "7")
	f.svc.pollOnce(ctx)

	writeEnergy(t, f.energyPath, "sensor.washer_energy")
	f.svc.reload(ctx)
	status := f.svc.snapshotStatus()
	require.Len(t, status.Sensors, 1)
	assert.Equal(t, "sensor.washer_energy_cost", status.Sensors[0].EntityID)

	_, found, err := f.store.LoadState(ctx, "sensor.dryer_energy_cost")
	require.NoError(t, err)
	assert.True(t, found)

	// It resumes where it left off when it comes back.
	writeEnergy(t, f.energyPath, "sensor.washer_energy", "sensor.dryer_energy")
	f.states.set("sensor.dryer_energy", "9")
	f.svc.reload(ctx)
	status = f.svc.snapshotStatus()
	require.Len(t, status.Sensors, 2)
	assert.InDelta(t, 4.0, status.Sensors[0].TotalCost, 1e-12)
}

func TestReload_MissingConfigKeepsSensors(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy")
	ctx := context.Background()
	f.svc.reload(ctx)

	require.NoError(t, os.Remove(f.energyPath))
	f.svc.reload(ctx)

	assert.Len(t, f.svc.snapshotStatus().Sensors, 1)
	assert.Equal(t, int64(2), f.svc.snapshotStatus().ReloadCount)
}

func seedStatistics(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	var energy, price []model.StatPoint
	for i, v := range []float64{10, 15, 15} {
		at := base.Add(time.Duration(i) * time.Hour)
		energy = append(energy, model.StatPoint{Start: at, Sum: model.Float(v)})
		price = append(price, model.StatPoint{Start: at, Mean: model.Float(2)})
	}
	require.NoError(t, st.ImportStatistics(ctx,
		model.StatisticMetadata{StatisticID: "sensor.washer_energy", Source: "recorder", HasSum: true}, energy))
	require.NoError(t, st.ImportStatistics(ctx,
		model.StatisticMetadata{StatisticID: "sensor.price", Source: "recorder", HasMean: true}, price))
}

func TestHandleBackfill(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy")
	seedStatistics(t, f.store)
	h := f.svc.Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/backfill",
		strings.NewReader(`{"statistic_id":"sensor.washer_energy_cost"}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BackfillResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Inserted)
	assert.Equal(t, 3, resp.Results[0].Points)

	meta, found, err := f.store.StatisticMetadata(context.Background(), "sensor.washer_energy_cost")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "EUR", meta.Unit)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.svc.metrics.backfillPts))
}

func TestHandleBackfill_Errors(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy")
	h := f.svc.Handler()

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/backfill", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"statistic_id":"sensor.oven_energy_cost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNKNOWN_TARGET")

	rec = post(`{"days":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.svc.backfillMu.Lock()
	rec = post(`{}`)
	f.svc.backfillMu.Unlock()
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, os.Remove(f.energyPath))
	rec = post(`{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStatusEventsHealthMetrics(t *testing.T) {
	f := newFixture(t, "sensor.washer_energy")
	f.states.set("sensor.washer_energy", "1")
	f.states.set("sensor.price", "1")
	f.svc.reload(context.Background())
	h := f.svc.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = get("/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Sensors, 1)
	assert.Equal(t, "Washer Energy Cost", status.Sensors[0].Name)

	rec = get("/v1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, "sensor_added", events[0].Type)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devcost_reloads_total 1")
}

func TestHandler_CORS(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"http://localhost:3000"}}, Deps{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
