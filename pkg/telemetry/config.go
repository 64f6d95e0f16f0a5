package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/solarmind/solarmind/pkg/sems"
)

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parsePositive(name, raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		panic(fmt.Errorf("invalid %s: %q", name, raw))
	}
	return v
}

var _ Portal = (*sems.Client)(nil)

// locator is implemented by portals that know the timezone of their dates.
type locator interface {
	Location() *time.Location
}

// Configured registers the aggregation flags and returns an Aggregator over
// portal for identity.
func Configured(portal Portal, identity *sems.InverterIdentity) *Aggregator {
	unitMode := lflag.String("power-unit-mode", envOr("POWER_UNIT_MODE", string(UnitAuto)), "How portal power values are read: watts, kilowatts or auto")
	threshold := lflag.String("power-kw-threshold", strconv.Itoa(DefaultKWThreshold), "In auto mode, magnitudes below this are read as kilowatts")
	tariff := lflag.String("tariff-per-kwh", envOr("ECONOMIA_TARIFA_KWH", "0.85"), "Tariff per kWh used to estimate savings")
	capacity := lflag.String("battery-capacity-kwh", "10", "Battery capacity reported with the battery status")
	concurrency := lflag.String("telemetry-fetch-concurrency", "4", "Column fetches in flight per aggregated operation")

	a := &Aggregator{portal: portal, identity: identity}

	lflag.Do(func() {
		mode, err := ParseUnitMode(*unitMode)
		if err != nil {
			panic(err)
		}
		n, err := strconv.Atoi(*concurrency)
		if err != nil || n < 1 {
			panic(fmt.Errorf("invalid telemetry-fetch-concurrency: %q", *concurrency))
		}
		var loc *time.Location
		if l, ok := portal.(locator); ok {
			loc = l.Location()
		}
		a.setOptions(Options{
			UnitMode:           mode,
			KWThreshold:        parsePositive("power-kw-threshold", *threshold),
			TariffPerKWH:       parsePositive("tariff-per-kwh", *tariff),
			BatteryCapacityKWH: parsePositive("battery-capacity-kwh", *capacity),
			Concurrency:        n,
			Location:           loc,
		})
	})

	return a
}
