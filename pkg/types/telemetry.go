package types

import "time"

const (
	CurrentDaySummaryVersion = 1
)

// StatusSource records which portal endpoint produced a Status.
type StatusSource string

const (
	StatusSourceRealtime StatusSource = "realtime"
	StatusSourceColumns  StatusSource = "columns"
)

// InverterState is a coarse description of what the inverter is doing.
type InverterState string

const (
	InverterStateOperating InverterState = "operating"
	InverterStateStandby   InverterState = "standby"
	InverterStateOffline   InverterState = "offline"
)

// Point is a single sample of a chartable series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Status is the instantaneous view of the inverter.
//
// Online is false when the portal answered but reported no live inverter
// data, which is different from the telemetry client failing (an error).
type Status struct {
	Online         bool          `json:"online"`
	Source         StatusSource  `json:"source"`
	State          InverterState `json:"state"`
	InverterSerial string        `json:"inverterSerial"`
	StationID      string        `json:"stationID,omitempty"`
	PVPowerW       float64       `json:"pvPowerW"`
	ACPowerW       float64       `json:"acPowerW"`
	BatterySOC     float64       `json:"batterySOC"`
	EnergyTodayKWH float64       `json:"energyTodayKWH"`
	// Missing lists the columns that could not be fetched when Source is
	// columns. Their fields are left at zero.
	Missing   []string  `json:"missing,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Totals is a today/month/year triple.
type Totals struct {
	Today float64 `json:"today"`
	Month float64 `json:"month"`
	Year  float64 `json:"year"`
}

// BatteryStatus describes whether the battery is currently charging.
type BatteryStatus string

const (
	BatteryStatusCharging BatteryStatus = "charging"
	BatteryStatusStandby  BatteryStatus = "standby"
)

// BatteryReport is the battery block of a Report.
type BatteryReport struct {
	SOC         float64       `json:"soc"`
	CapacityKWH float64       `json:"capacityKWH"`
	PowerW      float64       `json:"powerW"`
	Status      BatteryStatus `json:"status"`
}

// Report aggregates production, estimated consumption and savings.
type Report struct {
	InverterSerial string        `json:"inverterSerial"`
	ProductionKWH  Totals        `json:"productionKWH"`
	ConsumptionKWH Totals        `json:"consumptionKWH"`
	Savings        Totals        `json:"savings"`
	CO2AvoidedKG   Totals        `json:"co2AvoidedKG"`
	Battery        BatteryReport `json:"battery"`
	// MissingDays lists the dates whose daily energy could not be fetched and
	// were counted as zero.
	MissingDays []string `json:"missingDays,omitempty"`
	// Missing lists the columns for today that could not be fetched.
	Missing  []string  `json:"missing,omitempty"`
	SyncedAt time.Time `json:"syncedAt"`
}

// DaySummary is one day of History.
type DaySummary struct {
	Date           string   `json:"date" firestore:"date"`
	Weekday        string   `json:"weekday" firestore:"weekday"`
	ProductionKWH  float64  `json:"productionKWH" firestore:"productionKWH"`
	ConsumptionKWH float64  `json:"consumptionKWH" firestore:"consumptionKWH"`
	Savings        float64  `json:"savings" firestore:"savings"`
	AvgSOC         *float64 `json:"avgSOC" firestore:"avgSOC"`
	// Errors lists the columns that failed for this day.
	Errors []string `json:"errors,omitempty" firestore:"-"`
}

// History is the per-day summary list, oldest first.
type History struct {
	Days []DaySummary `json:"days"`
	// Failed lists "date/column" pairs that could not be fetched.
	Failed []string `json:"failed,omitempty"`
}

// IntradaySeries holds the chart series for one day.
type IntradaySeries struct {
	Power []Point `json:"power"`
	SOC   []Point `json:"soc"`
}

// Intraday is a day of power and SOC samples. A failed series is empty and
// its error is recorded in Errors so a partial chart can still be drawn.
type Intraday struct {
	Date      string            `json:"date"`
	Series    IntradaySeries    `json:"series"`
	Errors    map[string]string `json:"errors,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
