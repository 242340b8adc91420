package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/energyconfig"
	"github.com/theirongolddev/devcost/internal/model"
)

const (
	// DefaultDays is the lookback window when a request does not set one.
	DefaultDays = 30
	// DefaultSource tags imported statistics.
	DefaultSource = "device_energy_cost"
)

// ErrUnknownTarget is returned when a scoped request names a statistic that
// no configured device produces.
var ErrUnknownTarget = errors.New("backfill: not a recognized cost sensor")

// StatisticsReader queries hourly long-term statistics.
type StatisticsReader interface {
	StatisticsDuringPeriod(ctx context.Context, statisticID string, start, end time.Time, period model.Period) ([]model.StatPoint, error)
}

// StatisticsWriter records an externally sourced statistic.
type StatisticsWriter interface {
	ImportStatistics(ctx context.Context, meta model.StatisticMetadata, points []model.StatPoint) error
}

// Options configures a Runner.
type Options struct {
	Tolerance time.Duration
	Source    string
	Now       func() time.Time
}

// Runner executes backfill requests against a statistics store.
type Runner struct {
	reader StatisticsReader
	writer StatisticsWriter
	log    *zap.Logger
	opts   Options
}

// NewRunner returns a Runner. Zero options take their defaults.
func NewRunner(reader StatisticsReader, writer StatisticsWriter, log *zap.Logger, opts Options) *Runner {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{reader: reader, writer: writer, log: log, opts: opts}
}

// Request scopes one backfill run.
type Request struct {
	// StatisticID restricts the run to one cost statistic. Empty means all
	// configured devices.
	StatisticID string `json:"statistic_id"`
	Days        int    `json:"days"`
	Currency    string `json:"currency,omitempty"`
}

// Result reports what happened for one device.
type Result struct {
	EnergyEntity string `json:"energy_entity"`
	StatisticID  string `json:"statistic_id"`
	Points       int    `json:"points"`
	Unmatched    int    `json:"unmatched"`
	Inserted     bool   `json:"inserted"`
	Skipped      string `json:"skipped,omitempty"`
}

// SelectDevices narrows devices to the one producing statisticID. An empty
// statisticID selects all of them.
func SelectDevices(devices []model.Device, statisticID string) ([]model.Device, error) {
	if statisticID == "" {
		return devices, nil
	}
	var out []model.Device
	for _, d := range devices {
		if strings.HasSuffix(statisticID, d.CostEntityID()) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, statisticID)
	}
	return out, nil
}

// Run backfills every selected device independently. A failure for one
// device is logged and recorded in its Result; the others still run. The
// only error returned is ErrUnknownTarget, before anything is queried.
func (r *Runner) Run(ctx context.Context, cfg energyconfig.Resolved, req Request) ([]Result, error) {
	devices, err := SelectDevices(cfg.Devices, req.StatisticID)
	if err != nil {
		r.log.Error("entity is not a recognized cost sensor", zap.String("statistic_id", req.StatisticID))
		return nil, err
	}

	days := req.Days
	if days <= 0 {
		days = DefaultDays
	}
	end := r.opts.Now().UTC()
	start := end.AddDate(0, 0, -days)

	results := make([]Result, 0, len(devices))
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, r.runDevice(ctx, d, start, end, req.Currency))
	}

	r.log.Info("device energy cost backfill completed",
		zap.Int("devices", len(results)),
		zap.Int("days", days),
	)
	return results, nil
}

func (r *Runner) runDevice(ctx context.Context, d model.Device, start, end time.Time, currency string) Result {
	res := Result{EnergyEntity: d.EnergyEntity, StatisticID: d.CostEntityID()}
	log := r.log.With(zap.String("energy_entity", d.EnergyEntity), zap.String("price_entity", d.PriceEntity))

	energy, err := r.reader.StatisticsDuringPeriod(ctx, d.EnergyEntity, start, end, model.PeriodHour)
	if err != nil {
		log.Warn("querying energy statistics failed", zap.Error(err))
		res.Skipped = "energy query failed"
		return res
	}
	price, err := r.reader.StatisticsDuringPeriod(ctx, d.PriceEntity, start, end, model.PeriodHour)
	if err != nil {
		log.Warn("querying price statistics failed", zap.Error(err))
		res.Skipped = "price query failed"
		return res
	}
	if len(energy) == 0 || len(price) == 0 {
		log.Warn("missing statistics for energy or price entity",
			zap.Int("energy_points", len(energy)),
			zap.Int("price_points", len(price)),
		)
		res.Skipped = "missing statistics"
		return res
	}

	series := Compute(energy, price, r.opts.Tolerance)
	res.Points = len(series.Points)
	res.Unmatched = series.Unmatched
	if series.Unmatched > 0 {
		log.Warn("no price within tolerance for some points; cost held flat",
			zap.Int("unmatched", series.Unmatched),
			zap.Duration("tolerance", r.opts.Tolerance),
		)
	}
	if len(series.Points) == 0 {
		log.Warn("no cost data computed")
		res.Skipped = "no data"
		return res
	}

	meta := model.StatisticMetadata{
		StatisticID: d.CostEntityID(),
		Source:      r.opts.Source,
		Name:        d.FriendlyName(),
		Unit:        currency,
		HasMean:     false,
		HasSum:      true,
	}
	if err := r.writer.ImportStatistics(ctx, meta, series.Points); err != nil {
		log.Error("importing cost statistics failed", zap.Error(err))
		res.Skipped = "import failed"
		return res
	}

	res.Inserted = true
	log.Info("backfill inserted cost statistics", zap.Int("points", len(series.Points)))
	return res
}
