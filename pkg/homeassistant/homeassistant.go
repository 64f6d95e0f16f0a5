package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/solarmind/solarmind/pkg/log"
	"github.com/solarmind/solarmind/pkg/types"
)

const publishTimeout = 5 * time.Second

// Autoconfig is a Home Assistant MQTT discovery payload.
type Autoconfig struct {
	DeviceClass       string           `json:"dev_cla,omitempty"`
	UnitOfMeasurement string           `json:"unit_of_meas,omitempty"`
	Name              string           `json:"name"`
	StatusTopic       string           `json:"stat_t"`
	AvailabilityTopic string           `json:"avty_t"`
	UniqueID          string           `json:"uniq_id"`
	StateClass        string           `json:"stat_cla,omitempty"`
	Device            AutoconfigDevice `json:"dev"`
}

// AutoconfigDevice groups the sensors under one device.
type AutoconfigDevice struct {
	IDs  string `json:"ids"`
	Name string `json:"name"`
}

type sensor struct {
	name        string
	deviceClass string
	unit        string
	stateClass  string
	// status reads the value from a Status, nil for report sensors
	status func(st types.Status) float64
}

var sensors = []sensor{
	{name: "pv_power", deviceClass: "power", unit: "W", stateClass: "measurement",
		status: func(st types.Status) float64 { return st.PVPowerW }},
	{name: "ac_power", deviceClass: "power", unit: "W", stateClass: "measurement",
		status: func(st types.Status) float64 { return st.ACPowerW }},
	{name: "battery_soc", deviceClass: "battery", unit: "%", stateClass: "measurement",
		status: func(st types.Status) float64 { return st.BatterySOC }},
	{name: "energy_today", deviceClass: "energy", unit: "kWh", stateClass: "total_increasing",
		status: func(st types.Status) float64 { return st.EnergyTodayKWH }},
	{name: "production_month", deviceClass: "energy", unit: "kWh", stateClass: "total"},
	{name: "savings_today", stateClass: "measurement"},
}

// Publisher pushes telemetry to an MQTT broker in the layout Home Assistant
// discovers. A Publisher without a client drops everything.
type Publisher struct {
	client mqtt.Client
	topic  string
	device string

	mu     sync.Mutex
	online *bool
}

// New returns a Publisher over an already connected client.
func New(client mqtt.Client, topic, device string) *Publisher {
	return &Publisher{client: client, topic: topic, device: device}
}

// Configured registers the MQTT flags. The returned Publisher connects to the
// broker during lflag.Configure and is a no-op when no broker is set.
func Configured() *Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker address (e.g. tcp://localhost:1883), empty disables publishing")
	topic := lflag.String("mqtt-topic", "solarmind", "MQTT topic prefix")
	clientID := lflag.String("mqtt-client-id", "solarmind", "MQTT client id")

	p := &Publisher{}

	lflag.Do(func() {
		if *broker == "" {
			return
		}
		hostname, _ := os.Hostname()
		p.topic = *topic
		p.device = hostname

		opts := mqtt.NewClientOptions().AddBroker(*broker).SetClientID(*clientID)
		opts.SetKeepAlive(30 * time.Second)
		opts.SetPingTimeout(5 * time.Second)
		opts.SetWill(p.availabilityTopic(), "offline", 0, true)
		opts.OnConnect = func(client mqtt.Client) {
			log.Ctx(context.Background()).Info("mqtt connected", slog.String("broker", *broker))
			if err := p.PublishDiscovery(context.Background()); err != nil {
				log.Ctx(context.Background()).Error("failed to publish discovery", slog.Any("error", err))
			}
		}
		opts.OnConnectionLost = func(client mqtt.Client, err error) {
			log.Ctx(context.Background()).Warn("mqtt connection lost", slog.Any("error", err))
		}

		p.client = mqtt.NewClient(opts)
		if token := p.client.Connect(); token.Wait() && token.Error() != nil {
			panic(fmt.Sprintf("failed to connect to mqtt broker: %v", token.Error()))
		}
	})

	return p
}

// Enabled reports whether the publisher has a broker.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}

func (p *Publisher) availabilityTopic() string {
	return p.topic + "/status"
}

func (p *Publisher) publish(topic string, payload string) error {
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// PublishDiscovery publishes the retained discovery config of every sensor.
func (p *Publisher) PublishDiscovery(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	for _, s := range sensors {
		autoconf := Autoconfig{
			DeviceClass:       s.deviceClass,
			UnitOfMeasurement: s.unit,
			Name:              s.name,
			StatusTopic:       p.topic + "/" + s.name,
			AvailabilityTopic: p.availabilityTopic(),
			UniqueID:          fmt.Sprint(p.topic, ".", p.device, ".", s.name),
			StateClass:        s.stateClass,
			Device:            AutoconfigDevice{IDs: p.device, Name: p.device},
		}
		jsonBytes, err := json.Marshal(&autoconf)
		if err != nil {
			return err
		}
		if err := p.publish("homeassistant/sensor/solarmind_"+p.device+"/"+s.name+"/config", string(jsonBytes)); err != nil {
			return err
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "published home assistant discovery", slog.Int("sensors", len(sensors)))
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PublishStatus publishes the values of st and, when it changed, the
// availability of the inverter.
func (p *Publisher) PublishStatus(ctx context.Context, st types.Status) error {
	if !p.Enabled() {
		return nil
	}

	p.mu.Lock()
	changed := p.online == nil || *p.online != st.Online
	online := st.Online
	p.online = &online
	p.mu.Unlock()

	if changed {
		state := "offline"
		if st.Online {
			state = "online"
		}
		log.Ctx(ctx).InfoContext(ctx, "inverter availability changed", slog.String("state", state))
		if err := p.publish(p.availabilityTopic(), state); err != nil {
			return err
		}
	}

	for _, s := range sensors {
		if s.status == nil {
			continue
		}
		if err := p.publish(p.topic+"/"+s.name, formatFloat(s.status(st))); err != nil {
			return err
		}
	}
	return nil
}

// PublishReport publishes the report figures that have a sensor.
func (p *Publisher) PublishReport(ctx context.Context, r types.Report) error {
	if !p.Enabled() {
		return nil
	}
	if err := p.publish(p.topic+"/production_month", formatFloat(r.ProductionKWH.Month)); err != nil {
		return err
	}
	return p.publish(p.topic+"/savings_today", formatFloat(r.Savings.Today))
}

// Close marks the inverter offline and disconnects.
func (p *Publisher) Close() {
	if !p.Enabled() {
		return
	}
	if err := p.publish(p.availabilityTopic(), "offline"); err != nil {
		log.Ctx(context.Background()).Warn("failed to publish offline state", slog.Any("error", err))
	}
	p.client.Disconnect(250)
}
