package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solarmind/solarmind/pkg/log"
	"github.com/solarmind/solarmind/pkg/sems"
	"github.com/solarmind/solarmind/pkg/types"
)

const (
	// consumptionFraction estimates household consumption from production
	consumptionFraction = 0.75
	// co2KGPerKWH is the grid emission avoided per kWh produced
	co2KGPerKWH = 0.5
	// monthDays are summed for the month total, today included
	monthDays = 30

	MaxHistoryDays = 30

	dayLayout = "2006-01-02"
)

// Portal is the part of the SEMS client the Aggregator uses.
type Portal interface {
	Session(ctx context.Context, force bool) (sems.Session, error)
	FetchColumn(ctx context.Context, sess sems.Session, id sems.InverterIdentity, column, date string) (sems.ColumnSeries, sems.Session, error)
	FetchRealtime(ctx context.Context, sess sems.Session, stationID string) (sems.RealtimeSnapshot, error)
	FetchRealtimeRaw(ctx context.Context, sess sems.Session, stationID string) (json.RawMessage, error)
	ResolveStation(ctx context.Context, sess sems.Session, id sems.InverterIdentity) (string, error)
}

// Options tune the Aggregator. Zero values are replaced with defaults.
type Options struct {
	UnitMode           UnitMode
	KWThreshold        float64
	TariffPerKWH       float64
	BatteryCapacityKWH float64
	// Concurrency bounds the column fetches in flight per operation.
	Concurrency int
	Location    *time.Location
	Now         func() time.Time
}

// Aggregator composes portal fetches into the status, report, history and
// intraday views.
type Aggregator struct {
	portal   Portal
	identity *sems.InverterIdentity
	opts     Options
}

// New returns an Aggregator for the inverter identified by identity. The
// identity is read on every call so it may be filled in after New returns.
func New(portal Portal, identity *sems.InverterIdentity, opts Options) *Aggregator {
	a := &Aggregator{portal: portal, identity: identity}
	a.setOptions(opts)
	return a
}

func (a *Aggregator) setOptions(opts Options) {
	if opts.UnitMode == "" {
		opts.UnitMode = UnitAuto
	}
	if opts.KWThreshold <= 0 {
		opts.KWThreshold = DefaultKWThreshold
	}
	if opts.TariffPerKWH <= 0 {
		opts.TariffPerKWH = 0.85
	}
	if opts.BatteryCapacityKWH <= 0 {
		opts.BatteryCapacityKWH = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a.opts = opts
}

// ClampDays bounds a history length to [1, MaxHistoryDays].
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > MaxHistoryDays {
		return MaxHistoryDays
	}
	return days
}

func (a *Aggregator) power(v float64) float64 {
	return NormalizePower(v, a.opts.UnitMode, a.opts.KWThreshold)
}

func (a *Aggregator) today() time.Time {
	now := a.opts.Now().In(a.opts.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.opts.Location)
}

// begin checks the identity and returns the session to fetch with.
func (a *Aggregator) begin(ctx context.Context) (sems.InverterIdentity, sems.Session, error) {
	if a.identity == nil || a.identity.Serial == "" {
		return sems.InverterIdentity{}, sems.Session{}, fmt.Errorf("%w: missing inverter serial", sems.ErrConfiguration)
	}
	id := *a.identity
	sess, err := a.portal.Session(ctx, false)
	if err != nil {
		return id, sems.Session{}, err
	}
	return id, sess, nil
}

type columnRequest struct {
	Column string
	Date   string
}

type columnResult struct {
	Series sems.ColumnSeries
	Err    error
}

// fetchColumns runs reqs with bounded concurrency. Failures are returned per
// request and never stop the others.
func (a *Aggregator) fetchColumns(ctx context.Context, sess sems.Session, id sems.InverterIdentity, reqs []columnRequest) []columnResult {
	results := make([]columnResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			series, _, err := a.portal.FetchColumn(ctx, sess, id, req.Column, req.Date)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "column fetch failed",
					slog.String("column", req.Column),
					slog.String("date", req.Date),
					slog.Any("error", err),
				)
			}
			results[i] = columnResult{Series: series, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// allFailed returns the first error when every result failed.
func allFailed(results []columnResult) error {
	if len(results) == 0 {
		return nil
	}
	for _, r := range results {
		if r.Err == nil {
			return nil
		}
	}
	return results[0].Err
}

// fatal reports errors that must not be absorbed as a missing value.
func fatal(err error) bool {
	var authErr *sems.AuthError
	return errors.Is(err, sems.ErrConfiguration) || errors.As(err, &authErr)
}

func firstFatal(results []columnResult) error {
	for _, r := range results {
		if r.Err != nil && fatal(r.Err) {
			return r.Err
		}
	}
	return nil
}

func stateFor(online bool, acPower float64) types.InverterState {
	switch {
	case !online:
		return types.InverterStateOffline
	case acPower > 0:
		return types.InverterStateOperating
	default:
		return types.InverterStateStandby
	}
}

// Status returns the current inverter state. The realtime endpoint is tried
// first; when it fails the status is rebuilt from today's columns.
func (a *Aggregator) Status(ctx context.Context) (types.Status, error) {
	id, sess, err := a.begin(ctx)
	if err != nil {
		return types.Status{}, err
	}

	status, err := a.statusRealtime(ctx, sess, id)
	if err == nil {
		return status, nil
	}
	log.Ctx(ctx).WarnContext(ctx, "realtime status failed, falling back to columns", slog.Any("error", err))
	return a.statusColumns(ctx, sess, id)
}

func (a *Aggregator) statusRealtime(ctx context.Context, sess sems.Session, id sems.InverterIdentity) (types.Status, error) {
	station, err := a.portal.ResolveStation(ctx, sess, id)
	if err != nil {
		return types.Status{}, err
	}
	snap, err := a.portal.FetchRealtime(ctx, sess, station)
	if err != nil {
		return types.Status{}, err
	}
	ac := a.power(snap.ACPower)
	return types.Status{
		Online:         snap.Online,
		Source:         types.StatusSourceRealtime,
		State:          stateFor(snap.Online, ac),
		InverterSerial: id.Serial,
		StationID:      station,
		PVPowerW:       a.power(snap.PVPower),
		ACPowerW:       ac,
		BatterySOC:     snap.BatterySOC,
		EnergyTodayKWH: snap.EnergyTodayKWH,
		UpdatedAt:      a.opts.Now().UTC(),
	}, nil
}

func (a *Aggregator) statusColumns(ctx context.Context, sess sems.Session, id sems.InverterIdentity) (types.Status, error) {
	date := a.today().Format(sems.DateLayout)
	columns := []string{sems.ColumnPVPower, sems.ColumnACPower, sems.ColumnBatterySOC}
	reqs := make([]columnRequest, len(columns))
	for i, c := range columns {
		reqs[i] = columnRequest{Column: c, Date: date}
	}
	results := a.fetchColumns(ctx, sess, id, reqs)
	if err := firstFatal(results); err != nil {
		return types.Status{}, err
	}
	if err := allFailed(results); err != nil {
		return types.Status{}, fmt.Errorf("failed to fetch status columns: %w", err)
	}

	status := types.Status{
		Source:         types.StatusSourceColumns,
		InverterSerial: id.Serial,
		StationID:      id.StationID,
		UpdatedAt:      a.opts.Now().UTC(),
	}
	for i, r := range results {
		if r.Err != nil {
			status.Missing = append(status.Missing, columns[i])
			continue
		}
		v, ok := r.Series.Last()
		if !ok {
			continue
		}
		// any sample today means the inverter reported in
		status.Online = true
		switch columns[i] {
		case sems.ColumnPVPower:
			status.PVPowerW = a.power(v)
		case sems.ColumnACPower:
			status.ACPowerW = a.power(v)
		case sems.ColumnBatterySOC:
			status.BatterySOC = v
		}
	}
	status.State = stateFor(status.Online, status.ACPowerW)
	return status, nil
}

func (a *Aggregator) totals(today, month, factor float64) types.Totals {
	return types.Totals{
		Today: round(today*factor, 2),
		Month: round(month*factor, 2),
		Year:  round(month*12*factor, 2),
	}
}

// Report builds production, estimated consumption, savings and battery
// figures. The month is the sum of the daily energy of the last 30 days,
// today included; days that fail count as zero and are listed. The year is
// extrapolated from the month.
func (a *Aggregator) Report(ctx context.Context) (types.Report, error) {
	id, sess, err := a.begin(ctx)
	if err != nil {
		return types.Report{}, err
	}

	today := a.today()
	todayStr := today.Format(dayLayout)
	reqs := []columnRequest{
		{Column: sems.ColumnBatterySOC, Date: todayStr},
		{Column: sems.ColumnACPower, Date: todayStr},
	}
	for i := 0; i < monthDays; i++ {
		reqs = append(reqs, columnRequest{Column: sems.ColumnEnergyToday, Date: today.AddDate(0, 0, -i).Format(dayLayout)})
	}
	results := a.fetchColumns(ctx, sess, id, reqs)
	if err := firstFatal(results); err != nil {
		return types.Report{}, err
	}
	if err := allFailed(results); err != nil {
		return types.Report{}, fmt.Errorf("failed to fetch report columns: %w", err)
	}

	report := types.Report{
		InverterSerial: id.Serial,
		SyncedAt:       a.opts.Now().UTC(),
	}

	socResult, pacResult := results[0], results[1]
	if socResult.Err != nil {
		report.Missing = append(report.Missing, sems.ColumnBatterySOC)
	} else if v, ok := socResult.Series.Last(); ok {
		report.Battery.SOC = round(v, 1)
	}
	if pacResult.Err != nil {
		report.Missing = append(report.Missing, sems.ColumnACPower)
	} else if v, ok := pacResult.Series.Last(); ok {
		report.Battery.PowerW = round(a.power(v), 1)
	}
	report.Battery.CapacityKWH = a.opts.BatteryCapacityKWH
	report.Battery.Status = types.BatteryStatusStandby
	if report.Battery.PowerW > 0 {
		report.Battery.Status = types.BatteryStatusCharging
	}

	var todayKWH, monthKWH float64
	for i, r := range results[2:] {
		if r.Err != nil {
			report.MissingDays = append(report.MissingDays, reqs[i+2].Date)
			if i == 0 {
				report.Missing = append(report.Missing, sems.ColumnEnergyToday)
			}
			continue
		}
		v, _ := r.Series.Last()
		if i == 0 {
			todayKWH = v
		}
		monthKWH += v
	}
	sort.Strings(report.MissingDays)

	report.ProductionKWH = a.totals(todayKWH, monthKWH, 1)
	report.ConsumptionKWH = a.totals(todayKWH, monthKWH, consumptionFraction)
	report.Savings = a.totals(todayKWH, monthKWH, a.opts.TariffPerKWH)
	report.CO2AvoidedKG = a.totals(todayKWH, monthKWH, co2KGPerKWH)
	return report, nil
}

// History returns one summary per day for the last days days (clamped to
// [1, 30]), oldest first. Failed fetches are annotated on the day.
func (a *Aggregator) History(ctx context.Context, days int) (types.History, error) {
	id, sess, err := a.begin(ctx)
	if err != nil {
		return types.History{}, err
	}
	days = ClampDays(days)

	today := a.today()
	dates := make([]time.Time, days)
	reqs := make([]columnRequest, 0, days*2)
	for i := 0; i < days; i++ {
		// oldest first
		dates[i] = today.AddDate(0, 0, i-days+1)
		d := dates[i].Format(dayLayout)
		reqs = append(reqs,
			columnRequest{Column: sems.ColumnEnergyToday, Date: d},
			columnRequest{Column: sems.ColumnBatterySOC, Date: d},
		)
	}
	results := a.fetchColumns(ctx, sess, id, reqs)
	if err := firstFatal(results); err != nil {
		return types.History{}, err
	}
	if err := allFailed(results); err != nil {
		return types.History{}, fmt.Errorf("failed to fetch history columns: %w", err)
	}

	history := types.History{Days: make([]types.DaySummary, 0, days)}
	for i, date := range dates {
		energy, soc := results[i*2], results[i*2+1]
		day := types.DaySummary{
			Date:    date.Format(dayLayout),
			Weekday: date.Weekday().String(),
		}
		if energy.Err != nil {
			day.Errors = append(day.Errors, sems.ColumnEnergyToday)
		} else if v, ok := energy.Series.Last(); ok {
			day.ProductionKWH = round(v, 2)
		}
		if soc.Err != nil {
			day.Errors = append(day.Errors, sems.ColumnBatterySOC)
		} else if avg, ok := soc.Series.Average(); ok && avg > 0 {
			avg = round(avg, 1)
			day.AvgSOC = &avg
		}
		day.ConsumptionKWH = round(day.ProductionKWH*consumptionFraction, 2)
		day.Savings = round(day.ProductionKWH*a.opts.TariffPerKWH, 2)
		for _, column := range day.Errors {
			history.Failed = append(history.Failed, day.Date+"/"+column)
		}
		history.Days = append(history.Days, day)
	}
	return history, nil
}

// Intraday returns today's AC power and SOC series. A failed series is left
// empty with its error recorded so a partial chart can be drawn.
func (a *Aggregator) Intraday(ctx context.Context) (types.Intraday, error) {
	id, sess, err := a.begin(ctx)
	if err != nil {
		return types.Intraday{}, err
	}

	date := a.today().Format(dayLayout)
	results := a.fetchColumns(ctx, sess, id, []columnRequest{
		{Column: sems.ColumnACPower, Date: date},
		{Column: sems.ColumnBatterySOC, Date: date},
	})
	if err := firstFatal(results); err != nil {
		return types.Intraday{}, err
	}

	out := types.Intraday{
		Date: date,
		Series: types.IntradaySeries{
			Power: []types.Point{},
			SOC:   []types.Point{},
		},
		Timestamp: a.opts.Now().UTC(),
	}
	var msgs []string
	record := func(column string, err error) {
		if out.Errors == nil {
			out.Errors = make(map[string]string)
		}
		out.Errors[column] = err.Error()
		msgs = append(msgs, column+": "+err.Error())
	}
	if power := results[0]; power.Err != nil {
		record(sems.ColumnACPower, power.Err)
	} else {
		out.Series.Power = power.Series.Points(a.power)
	}
	if soc := results[1]; soc.Err != nil {
		record(sems.ColumnBatterySOC, soc.Err)
	} else {
		out.Series.SOC = soc.Series.Points(nil)
	}
	out.Error = strings.Join(msgs, "; ")
	return out, nil
}

// RealtimeRaw returns the untouched realtime payload for diagnostics.
func (a *Aggregator) RealtimeRaw(ctx context.Context) (json.RawMessage, error) {
	id, sess, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	station, err := a.portal.ResolveStation(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return a.portal.FetchRealtimeRaw(ctx, sess, station)
}
