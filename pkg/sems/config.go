package sems

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/time/rate"

	"github.com/solarmind/solarmind/pkg/common"
)

// envOr returns the environment variable key or def when it is unset. It lets
// the flags default to the variables of a .env file.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// Configured registers the portal flags and returns the Client and the
// inverter identity they describe. Both are usable after lflag.Configure.
func Configured() (*Client, *InverterIdentity) {
	account := lflag.String("sems-account", envOr("SEMS_ACCOUNT", ""), "SEMS portal account (email)")
	password := lflag.String("sems-password", envOr("SEMS_PASSWORD", ""), "SEMS portal password")
	inverterID := lflag.String("sems-inverter-id", envOr("SEMS_INV_ID", ""), "Serial number of the inverter")
	stationID := lflag.String("sems-station-id", envOr("SEMS_STATION_ID", ""), "Power station id, discovered from the account when empty")
	region := lflag.String("sems-region", envOr("SEMS_LOGIN_REGION", "us"), "Preferred SEMS region (us or eu)")
	strictHosts := lflag.Bool("sems-strict-hosts", false, "Never fall back to the other region's host for data requests")
	allowAnyHost := lflag.Bool("sems-allow-any-host", false, "Accept any https host suggested by the portal")
	timeout := lflag.Duration("sems-timeout", defaultTimeout, "Timeout of a single SEMS request")
	maxCycles := lflag.String("sems-max-token-cycles", strconv.Itoa(defaultMaxTokenCycles), "Token cycles per column fetch before giving up")
	rateLimit := lflag.String("sems-rate-limit", "5", "Maximum SEMS requests per second (0 disables the limit)")
	timezone := lflag.String("sems-timezone", envOr("TZ", ""), "Timezone of the portal's timestamps (defaults to local)")

	c := &Client{}
	id := &InverterIdentity{}

	lflag.Do(func() {
		r, err := ParseRegion(*region)
		if err != nil {
			panic(err)
		}
		cycles, err := strconv.Atoi(*maxCycles)
		if err != nil || cycles < 1 {
			panic(fmt.Errorf("invalid sems-max-token-cycles: %q", *maxCycles))
		}
		perSecond, err := strconv.ParseFloat(*rateLimit, 64)
		if err != nil || perSecond < 0 {
			panic(fmt.Errorf("invalid sems-rate-limit: %q", *rateLimit))
		}
		var limiter *rate.Limiter
		if perSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(perSecond), 10)
		}
		loc := time.Local
		if *timezone != "" {
			loc, err = time.LoadLocation(*timezone)
			if err != nil {
				panic(fmt.Errorf("invalid sems-timezone: %w", err))
			}
		}

		c.configure(Config{
			HTTPClient:     common.LimitedHTTPClient(*timeout, limiter),
			Registry:       DefaultRegistry(*allowAnyHost),
			Credentials:    Credentials{Account: *account, Password: *password},
			Region:         r,
			StrictHosts:    *strictHosts,
			MaxTokenCycles: cycles,
			Location:       loc,
		})
		*id = InverterIdentity{Serial: *inverterID, StationID: *stationID}
	})

	return c, id
}
