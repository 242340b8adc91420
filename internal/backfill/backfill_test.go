package backfill

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/theirongolddev/devcost/internal/energyconfig"
	"github.com/theirongolddev/devcost/internal/model"
	"github.com/theirongolddev/devcost/internal/store"
)

var t0 = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func sums(values ...*float64) []model.StatPoint {
	out := make([]model.StatPoint, len(values))
	for i, v := range values {
		out[i] = model.StatPoint{Start: at(i), Sum: v}
	}
	return out
}

func means(offset time.Duration, values ...float64) []model.StatPoint {
	out := make([]model.StatPoint, len(values))
	for i, v := range values {
		out[i] = model.StatPoint{Start: at(i).Add(offset), Mean: model.Float(v)}
	}
	return out
}

func totals(s Series) []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = *p.Sum
	}
	return out
}

func TestCompute_AlignedSeries(t *testing.T) {
	s := Compute(sums(model.Float(10), model.Float(15), model.Float(15)), means(0, 2, 2, 2), DefaultTolerance)

	assert.Equal(t, []float64{0, 10, 10}, totals(s))
	assert.Zero(t, s.Unmatched)
	for i, p := range s.Points {
		assert.True(t, p.Start.Equal(at(i)))
		assert.Equal(t, *p.Sum, *p.State)
		assert.Nil(t, p.Mean)
	}
}

func TestCompute_PriceGapHoldsFlat(t *testing.T) {
	energy := sums(model.Float(0), model.Float(1), model.Float(3), model.Float(6))
	// No price for hour 2.
	price := []model.StatPoint{
		{Start: at(0), Mean: model.Float(1)},
		{Start: at(1), Mean: model.Float(1)},
		{Start: at(3), Mean: model.Float(1)},
	}

	s := Compute(energy, price, DefaultTolerance)

	assert.Equal(t, []float64{0, 1, 1, 4}, totals(s))
	assert.Equal(t, 1, s.Unmatched)
	assert.Len(t, s.Points, len(energy))
}

func TestCompute_ToleranceIsStrict(t *testing.T) {
	energy := sums(model.Float(0), model.Float(2))

	s := Compute(energy, means(30*time.Minute, 5, 5), DefaultTolerance)
	assert.Equal(t, []float64{0, 0}, totals(s), "exactly 30 minutes away does not match")
	assert.Equal(t, 1, s.Unmatched)

	s = Compute(energy, means(29*time.Minute, 5, 5), DefaultTolerance)
	assert.Equal(t, []float64{0, 10}, totals(s))

	s = Compute(energy, means(-29*time.Minute, 5, 5), DefaultTolerance)
	assert.Equal(t, []float64{0, 10}, totals(s))
}

func TestCompute_FirstMatchWins(t *testing.T) {
	energy := sums(model.Float(0), model.Float(1))
	price := []model.StatPoint{
		{Start: at(1).Add(-20 * time.Minute), Mean: model.Float(3)},
		{Start: at(1), Mean: model.Float(7)},
	}

	s := Compute(energy, price, DefaultTolerance)
	assert.Equal(t, []float64{0, 3}, totals(s), "first point within tolerance is used, not the closest")
}

func TestCompute_SkipsPriceWithoutMean(t *testing.T) {
	energy := sums(model.Float(0), model.Float(1))
	price := []model.StatPoint{
		{Start: at(1)},
		{Start: at(1).Add(10 * time.Minute), Mean: model.Float(4)},
	}

	s := Compute(energy, price, DefaultTolerance)
	assert.Equal(t, []float64{0, 4}, totals(s))
}

func TestCompute_NullSumResetsBaseline(t *testing.T) {
	energy := sums(model.Float(10), nil, model.Float(20), model.Float(21))

	s := Compute(energy, means(0, 1, 1, 1, 1), DefaultTolerance)

	// 10 -> nil: no delta; nil -> 20: no delta; 20 -> 21: +1.
	assert.Equal(t, []float64{0, 0, 0, 1}, totals(s))
	assert.Zero(t, s.Unmatched)
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, means(0, 1), 0)
	assert.Empty(t, s.Points)
}

func TestSelectDevices(t *testing.T) {
	devices := []model.Device{
		{EnergyEntity: "sensor.washer_energy", PriceEntity: "sensor.price"},
		{EnergyEntity: "sensor.dryer_energy", PriceEntity: "sensor.price"},
	}

	all, err := SelectDevices(devices, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := SelectDevices(devices, "sensor.dryer_energy_cost")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "sensor.dryer_energy", one[0].EnergyEntity)

	_, err = SelectDevices(devices, "sensor.dryer_energy")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

// fakeStats serves canned series and records imports.
type fakeStats struct {
	series  map[string][]model.StatPoint
	fail    map[string]error
	imports []model.StatisticMetadata
	points  map[string][]model.StatPoint
	queries []string
	start   time.Time
	end     time.Time
}

func newFakeStats() *fakeStats {
	return &fakeStats{
		series: map[string][]model.StatPoint{},
		fail:   map[string]error{},
		points: map[string][]model.StatPoint{},
	}
}

func (f *fakeStats) StatisticsDuringPeriod(_ context.Context, id string, start, end time.Time, period model.Period) ([]model.StatPoint, error) {
	if period != model.PeriodHour {
		return nil, errors.New("unexpected period")
	}
	f.queries = append(f.queries, id)
	f.start, f.end = start, end
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return f.series[id], nil
}

func (f *fakeStats) ImportStatistics(_ context.Context, meta model.StatisticMetadata, points []model.StatPoint) error {
	if err := f.fail["import:"+meta.StatisticID]; err != nil {
		return err
	}
	f.imports = append(f.imports, meta)
	f.points[meta.StatisticID] = points
	return nil
}

func resolved() energyconfig.Resolved {
	return energyconfig.Resolved{
		PriceEntity: "sensor.price",
		Devices: []model.Device{
			{EnergyEntity: "sensor.washer_energy", PriceEntity: "sensor.price"},
			{EnergyEntity: "sensor.dryer_energy", PriceEntity: "sensor.price"},
		},
	}
}

func fixedNow() time.Time { return at(72) }

func TestRun_IngestsEachDevice(t *testing.T) {
	fs := newFakeStats()
	fs.series["sensor.washer_energy"] = sums(model.Float(10), model.Float(15), model.Float(15))
	fs.series["sensor.dryer_energy"] = sums(model.Float(1), model.Float(2))
	fs.series["sensor.price"] = means(0, 2, 2, 2)

	r := NewRunner(fs, fs, zap.NewNop(), Options{Now: fixedNow})
	results, err := r.Run(context.Background(), resolved(), Request{Currency: "SEK"})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.True(t, results[0].Inserted)
	assert.Equal(t, 3, results[0].Points)
	require.Len(t, fs.imports, 2)

	meta := fs.imports[0]
	assert.Equal(t, model.StatisticMetadata{
		StatisticID: "sensor.washer_energy_cost",
		Source:      DefaultSource,
		Name:        "Washer Energy Cost",
		Unit:        "SEK",
		HasMean:     false,
		HasSum:      true,
	}, meta)

	got := fs.points["sensor.washer_energy_cost"]
	require.Len(t, got, 3)
	assert.Equal(t, 10.0, *got[1].Sum)
	assert.Equal(t, 2.0, *fs.points["sensor.dryer_energy_cost"][1].Sum)

	assert.True(t, fs.end.Equal(fixedNow()))
	assert.True(t, fs.start.Equal(fixedNow().AddDate(0, 0, -DefaultDays)))
}

func TestRun_UnknownTargetAbortsWithoutIngestion(t *testing.T) {
	fs := newFakeStats()
	core, logs := observer.New(zapcore.DebugLevel)

	r := NewRunner(fs, fs, zap.New(core), Options{Now: fixedNow})
	results, err := r.Run(context.Background(), resolved(), Request{StatisticID: "sensor.oven_energy_cost"})

	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Nil(t, results)
	assert.Empty(t, fs.queries)
	assert.Empty(t, fs.imports)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRun_ScopedToOneDevice(t *testing.T) {
	fs := newFakeStats()
	fs.series["sensor.dryer_energy"] = sums(model.Float(1), model.Float(2))
	fs.series["sensor.price"] = means(0, 1, 1)

	r := NewRunner(fs, fs, zap.NewNop(), Options{Now: fixedNow})
	results, err := r.Run(context.Background(), resolved(), Request{StatisticID: "sensor.dryer_energy_cost", Days: 3})
	require.NoError(t, err)

	require.Len(t, results, 1)
	require.Len(t, fs.imports, 1)
	assert.Equal(t, "sensor.dryer_energy_cost", fs.imports[0].StatisticID)
	assert.True(t, fs.start.Equal(fixedNow().AddDate(0, 0, -3)))
}

func TestRun_EmptyEnergySkipsIngestion(t *testing.T) {
	fs := newFakeStats()
	fs.series["sensor.price"] = means(0, 1, 1)
	core, logs := observer.New(zapcore.WarnLevel)

	r := NewRunner(fs, fs, zap.New(core), Options{Now: fixedNow})
	results, err := r.Run(context.Background(), resolved(), Request{})
	require.NoError(t, err)

	assert.Empty(t, fs.imports)
	require.Len(t, results, 2)
	assert.Equal(t, "missing statistics", results[0].Skipped)
	assert.Equal(t, 2, logs.FilterMessage("missing statistics for energy or price entity").Len())
}

func TestRun_FailuresAreIsolatedPerDevice(t *testing.T) {
	fs := newFakeStats()
	fs.series["sensor.dryer_energy"] = sums(model.Float(1), model.Float(2))
	fs.series["sensor.price"] = means(0, 1, 1)
	fs.fail["sensor.washer_energy"] = errors.New("recorder unavailable")

	r := NewRunner(fs, fs, zap.NewNop(), Options{Now: fixedNow})
	results, err := r.Run(context.Background(), resolved(), Request{})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "energy query failed", results[0].Skipped)
	assert.True(t, results[1].Inserted)
	require.Len(t, fs.imports, 1)
	assert.Equal(t, "sensor.dryer_energy_cost", fs.imports[0].StatisticID)
}

func TestRun_ImportFailureContinues(t *testing.T) {
	fs := newFakeStats()
	fs.series["sensor.washer_energy"] = sums(model.Float(1), model.Float(2))
	fs.series["sensor.dryer_energy"] = sums(model.Float(1), model.Float(2))
	fs.series["sensor.price"] = means(0, 1, 1)
	fs.fail["import:sensor.washer_energy_cost"] = errors.New("disk full")

	r := NewRunner(fs, fs, zap.NewNop(), Options{Now: fixedNow})
	results, err := r.Run(context.Background(), resolved(), Request{})
	require.NoError(t, err)

	assert.Equal(t, "import failed", results[0].Skipped)
	assert.True(t, results[1].Inserted)
}

func TestRun_WarnsOnUnmatchedPrices(t *testing.T) {
	fs := newFakeStats()
	fs.series["sensor.washer_energy"] = sums(model.Float(1), model.Float(2), model.Float(3))
	fs.series["sensor.price"] = []model.StatPoint{{Start: at(1), Mean: model.Float(1)}}
	core, logs := observer.New(zapcore.WarnLevel)

	r := NewRunner(fs, fs, zap.New(core), Options{Now: fixedNow})
	results, err := r.Run(context.Background(), resolved(), Request{StatisticID: "sensor.washer_energy_cost"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Unmatched)
	assert.True(t, results[0].Inserted)
	assert.Equal(t, 1, logs.Len())
}

func TestRun_AgainstSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "stats.db"), "")
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.ImportStatistics(ctx,
		model.StatisticMetadata{StatisticID: "sensor.washer_energy", Source: "recorder", Unit: "kWh", HasSum: true},
		sums(model.Float(10), model.Float(15), model.Float(15)),
	))
	require.NoError(t, st.ImportStatistics(ctx,
		model.StatisticMetadata{StatisticID: "sensor.price", Source: "recorder", Unit: "EUR/kWh", HasMean: true},
		means(0, 2, 2, 2),
	))

	r := NewRunner(st, st, zap.NewNop(), Options{Now: fixedNow})
	results, err := r.Run(ctx, resolved(), Request{StatisticID: "sensor.washer_energy_cost", Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Inserted)

	got, err := st.StatisticsDuringPeriod(ctx, "sensor.washer_energy_cost", at(0), at(3), model.PeriodHour)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0.0, *got[0].Sum)
	assert.Equal(t, 10.0, *got[1].Sum)
	assert.Equal(t, 10.0, *got[2].State)

	meta, found, err := st.StatisticMetadata(ctx, "sensor.washer_energy_cost")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "EUR", meta.Unit)
	assert.True(t, meta.HasSum)
	assert.False(t, meta.HasMean)
}
