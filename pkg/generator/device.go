// Package generator produces realistic fake devices and sensor readings for
// seeding development databases and building test fixtures.
package generator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// DeviceTypes are the device kinds the API accepts.
var DeviceTypes = []string{"sensor", "meter", "gateway", "actuator", "controller"}

// Device is a fake device registration.
type Device struct {
	DeviceID string
	Name     string `fake:"{buzzword} {noun}"`
	Type     string
	Location string `fake:"{city}, {state}"`
	Firmware string `fake:"{appversion}"`
}

// Reading is one fake measurement.
type Reading struct {
	Type      string
	Value     float64
	Unit      string
	Timestamp time.Time
}

// Generator creates fixtures from a seeded faker so runs are reproducible.
type Generator struct {
	faker *gofakeit.Faker
}

// New returns a Generator. A zero seed draws a random one.
func New(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Device returns a fake device with an identifier that passes API validation.
func (g *Generator) Device() Device {
	var d Device
	if err := g.faker.Struct(&d); err != nil {
		d.Name = "device"
	}
	d.DeviceID = fmt.Sprintf("dev-%s", strings.ReplaceAll(g.faker.UUID(), "-", "")[:12])
	d.Type = g.faker.RandomString(DeviceTypes)
	return d
}

// Devices returns n fake devices.
func (g *Generator) Devices(n int) []Device {
	out := make([]Device, n)
	for i := range out {
		out[i] = g.Device()
	}
	return out
}

// Series models one device's sensors so consecutive readings stay
// correlated.
type Series struct {
	faker            *gofakeit.Faker
	baselineTemp     float64
	baselineHumidity float64
	baselinePressure float64
	noise            float64
	pressureTrend    float64
	lastPressure     float64
	battery          float64
}

// Series starts a new correlated reading series.
func (g *Generator) Series() *Series {
	f := g.faker
	return &Series{
		faker:            f,
		baselineTemp:     20.0 + f.Float64()*10,         // 20-30°C
		baselineHumidity: 50.0 + f.Float64()*20,         // 50-70%
		baselinePressure: 1013.0 + (f.Float64()-0.5)*20, // 1003-1023 hPa
		noise:            f.Float64() * 2,
		pressureTrend:    (f.Float64() - 0.5) * 0.5,
		lastPressure:     1013.0,
		battery:          100,
	}
}

// Temperature follows a daily cycle peaking mid-afternoon.
func (s *Series) Temperature(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 5 * math.Sin((hour-6)*math.Pi/12)
	noise := (s.faker.Float64() - 0.5) * s.noise

	anomaly := 0.0
	if s.faker.Float64() < 0.05 {
		anomaly = (s.faker.Float64() - 0.5) * 15
	}
	return s.baselineTemp + dailyCycle + noise + anomaly
}

// Humidity is inversely correlated with temperature, clamped to 20-95%.
func (s *Series) Humidity(t time.Time, temperature float64) float64 {
	hour := float64(t.Hour())
	dailyCycle := -3 * math.Sin((hour-6)*math.Pi/12)
	tempEffect := -(temperature - s.baselineTemp) * 1.5
	noise := (s.faker.Float64() - 0.5) * s.noise * 0.5
	weekly := 10 * math.Sin(float64(t.Unix())/(86400*7))

	h := s.baselineHumidity + dailyCycle + tempEffect + noise + weekly
	return math.Max(20, math.Min(95, h))
}

// Pressure is a slow random walk with occasional fronts, clamped to
// 980-1040 hPa.
func (s *Series) Pressure(t time.Time) float64 {
	randomChange := (s.faker.Float64() - 0.5) * 0.5
	if s.faker.Float64() < 0.1 {
		s.pressureTrend = -s.pressureTrend + (s.faker.Float64()-0.5)*0.2
	}

	seasonal := 5 * math.Sin(float64(t.YearDay())*2*math.Pi/365)
	diurnal := 0.5 * math.Sin((float64(t.Hour())-3)*math.Pi/12)

	p := s.lastPressure + randomChange + s.pressureTrend + diurnal*0.1
	p = s.baselinePressure + (p-s.baselinePressure)*0.7 + seasonal
	p = math.Max(980, math.Min(1040, p))

	if s.faker.Float64() < 0.02 {
		front := (s.faker.Float64() - 0.5) * 10
		p += front
		s.pressureTrend = front * 0.3
	}

	s.lastPressure = p
	return p
}

// Next returns the temperature, humidity, pressure and battery readings for
// instant t.
func (s *Series) Next(t time.Time) []Reading {
	temperature := s.Temperature(t)
	humidity := s.Humidity(t, temperature)
	pressure := s.Pressure(t)

	s.battery = math.Max(5, s.battery-s.faker.Float64()*0.05)

	return []Reading{
		{Type: "temperature", Value: round(temperature, 2), Unit: "C", Timestamp: t},
		{Type: "humidity", Value: round(humidity, 2), Unit: "%", Timestamp: t},
		{Type: "pressure", Value: round(pressure, 2), Unit: "hPa", Timestamp: t},
		{Type: "battery", Value: round(s.battery, 1), Unit: "%", Timestamp: t},
	}
}

// Window returns readings every step from start for n steps.
func (s *Series) Window(start time.Time, step time.Duration, n int) []Reading {
	out := make([]Reading, 0, n*4)
	for i := 0; i < n; i++ {
		out = append(out, s.Next(start.Add(time.Duration(i)*step))...)
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
